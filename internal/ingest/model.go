package ingest

import "time"

// ===== 错误码 =====

const (
	ErrorCodeInvalidParameter = "INVALID_PARAMETER"
	ErrorCodeUnauthorized     = "UNAUTHORIZED"
	ErrorCodeMonitorNotFound  = "MONITOR_NOT_FOUND"
	ErrorCodePayloadTooLarge  = "PAYLOAD_TOO_LARGE"
	ErrorCodeInternalError    = "INTERNAL_ERROR"
)

// ===== 请求/响应结构体 =====

// ServerMetricRequest 服务器指标上报请求
// 百分比字段取值 0-100，网络字段单位为字节每秒
// cpu/memory/disk 必填；swap/net_in/net_out 缺省为 0
type ServerMetricRequest struct {
	CPU        *float64   `json:"cpu"`
	Memory     *float64   `json:"memory"`
	Swap       *float64   `json:"swap,omitempty"`
	Disk       *float64   `json:"disk"`
	NetIn      *float64   `json:"net_in,omitempty"`
	NetOut     *float64   `json:"net_out,omitempty"`
	ReportedAt *time.Time `json:"reported_at,omitempty"`
}

// AcceptedResponse 上报成功响应
type AcceptedResponse struct {
	MonitorID  string    `json:"monitorId"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail 错误详情
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Parameter string `json:"parameter,omitempty"`
}
