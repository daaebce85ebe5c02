package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/fox-gonic/fox"
	"github.com/qiniu/watchtower/internal/alerting/metrics"
	"github.com/qiniu/watchtower/internal/alerting/model"
	"github.com/qiniu/watchtower/internal/alerting/service/checker"
	"github.com/qiniu/watchtower/internal/alerting/service/store"
	"github.com/rs/zerolog/log"
)

// MetricStore 指标写入所需的存储接口
type MetricStore interface {
	GetMonitor(ctx context.Context, id string) (*model.Monitor, error)
	InsertServerMetric(ctx context.Context, m *model.ServerMetric) error
}

// Api 服务器指标上报 API
type Api struct {
	store   MetricStore
	maxSkew time.Duration
	maxBody int64
	now     func() time.Time
}

// NewApi 创建新的 API 并注册路由
func NewApi(s MetricStore, maxSkew time.Duration, maxBody int64, router *fox.Engine) *Api {
	if maxBody <= 0 {
		maxBody = 64 << 10
	}
	api := &Api{store: s, maxSkew: maxSkew, maxBody: maxBody, now: time.Now}
	api.setupRouters(router)
	return api
}

// setupRouters 设置路由
func (api *Api) setupRouters(router *fox.Engine) {
	router.POST("/v1/server-metrics/:monitorID", api.PushServerMetric)
	router.GET("/-/healthy", func(c *fox.Context) {
		c.String(http.StatusOK, "OK")
	})
}

// PushServerMetric 接收带签名的服务器指标
// 校验顺序：时间戳偏差 -> 监控项 -> 签名 -> 请求体；任何失败都不会写入数据
func (api *Api) PushServerMetric(c *fox.Context) {
	monitorID := c.Param("monitorID")
	now := api.now()

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, api.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.reject(c, http.StatusRequestEntityTooLarge, ErrorCodePayloadTooLarge, "payload too large", "too_large")
			return
		}
		api.reject(c, http.StatusBadRequest, ErrorCodeInvalidParameter, "read body: "+err.Error(), "invalid")
		return
	}

	timestamp := c.GetHeader(HeaderTimestamp)
	if _, err := CheckSkew(timestamp, now, api.maxSkew); err != nil {
		api.reject(c, http.StatusUnauthorized, ErrorCodeUnauthorized, err.Error(), "unauthorized")
		return
	}

	mon, err := api.store.GetMonitor(c.Request.Context(), monitorID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			api.reject(c, http.StatusNotFound, ErrorCodeMonitorNotFound, "monitor not found", "not_found")
			return
		}
		log.Error().Err(err).Str("monitor_id", monitorID).Msg("load monitor failed")
		api.reject(c, http.StatusInternalServerError, ErrorCodeInternalError, "load monitor failed", "error")
		return
	}
	if mon.Type != model.MonitorServerMetric {
		api.reject(c, http.StatusNotFound, ErrorCodeMonitorNotFound, "monitor not found", "not_found")
		return
	}

	var cfg checker.ServerMetricConfig
	if err := mon.DecodeConfig(&cfg); err != nil {
		log.Error().Err(err).Str("monitor_id", monitorID).Msg("invalid server_metric config")
		api.reject(c, http.StatusUnauthorized, ErrorCodeUnauthorized, ErrSignature.Error(), "unauthorized")
		return
	}
	if err := Verify(cfg.Secret, timestamp, body, c.GetHeader(HeaderSignature)); err != nil {
		api.reject(c, http.StatusUnauthorized, ErrorCodeUnauthorized, err.Error(), "unauthorized")
		return
	}

	req, param, err := decodeRequest(body)
	if err != nil {
		SendErrorResponse(c, http.StatusBadRequest, ErrorCodeInvalidParameter, err.Error(), param)
		metrics.IngestRequestsTotal.WithLabelValues("invalid").Inc()
		return
	}

	sample := &model.ServerMetric{
		MonitorID:  monitorID,
		CPU:        *req.CPU,
		Memory:     *req.Memory,
		Swap:       valueOr(req.Swap),
		Disk:       *req.Disk,
		NetIn:      valueOr(req.NetIn),
		NetOut:     valueOr(req.NetOut),
		ReportedAt: now,
		ReceivedAt: now,
	}
	if req.ReportedAt != nil && !req.ReportedAt.IsZero() && !req.ReportedAt.After(now) {
		sample.ReportedAt = *req.ReportedAt
	}
	if err := api.store.InsertServerMetric(c.Request.Context(), sample); err != nil {
		log.Error().Err(err).Str("monitor_id", monitorID).Msg("insert server metric failed")
		api.reject(c, http.StatusInternalServerError, ErrorCodeInternalError, "store metric failed", "error")
		return
	}
	metrics.IngestRequestsTotal.WithLabelValues("accepted").Inc()
	log.Debug().Str("monitor_id", monitorID).Float64("cpu", *req.CPU).Msg("server metric accepted")
	c.JSON(http.StatusAccepted, AcceptedResponse{MonitorID: monitorID, ReceivedAt: now.UTC()})
}

func (api *Api) reject(c *fox.Context, status int, code, message, result string) {
	metrics.IngestRequestsTotal.WithLabelValues(result).Inc()
	if status >= http.StatusInternalServerError {
		log.Error().Str("path", c.Request.URL.Path).Int("status", status).Msg(message)
	} else {
		log.Warn().Str("path", c.Request.URL.Path).Int("status", status).Msg(message)
	}
	SendErrorResponse(c, status, code, message, "")
}

// decodeRequest 解析并校验请求体，返回出错的字段名
func decodeRequest(body []byte) (*ServerMetricRequest, string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, "", fmt.Errorf("body must be a JSON object")
	}
	var req ServerMetricRequest
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return nil, "", fmt.Errorf("malformed JSON: %v", err)
	}
	if dec.More() {
		return nil, "", fmt.Errorf("malformed JSON: trailing data after object")
	}

	// 必填字段
	required := []struct {
		name string
		v    *float64
	}{
		{"cpu", req.CPU}, {"memory", req.Memory}, {"disk", req.Disk},
	}
	for _, f := range required {
		if f.v == nil {
			return nil, f.name, fmt.Errorf("%s is required", f.name)
		}
	}

	percents := []struct {
		name string
		v    *float64
	}{
		{"cpu", req.CPU}, {"memory", req.Memory}, {"swap", req.Swap}, {"disk", req.Disk},
	}
	for _, p := range percents {
		if p.v == nil {
			continue
		}
		if math.IsNaN(*p.v) || *p.v < 0 || *p.v > 100 {
			return nil, p.name, fmt.Errorf("%s must be within 0-100", p.name)
		}
	}
	if req.NetIn != nil && *req.NetIn < 0 {
		return nil, "net_in", fmt.Errorf("net_in must not be negative")
	}
	if req.NetOut != nil && *req.NetOut < 0 {
		return nil, "net_out", fmt.Errorf("net_out must not be negative")
	}
	return &req, "", nil
}

func valueOr(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// SendErrorResponse 发送错误响应
func SendErrorResponse(c *fox.Context, statusCode int, errorCode, message, parameter string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:      errorCode,
			Message:   message,
			Parameter: parameter,
		},
	})
}
