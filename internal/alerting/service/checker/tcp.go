package checker

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/qiniu/watchtower/internal/alerting/model"
)

// TCPConfig is the config of a tcp monitor.
type TCPConfig struct {
	Host           string  `json:"host"`
	Port           int     `json:"port"`
	TimeoutSeconds float64 `json:"timeoutSeconds"`
}

type TCPChecker struct {
	dialer *net.Dialer
}

func NewTCPChecker() *TCPChecker { return &TCPChecker{dialer: &net.Dialer{}} }

func (c *TCPChecker) Check(ctx context.Context, m *model.Monitor) model.CheckResult {
	var cfg TCPConfig
	if err := m.DecodeConfig(&cfg); err != nil {
		return Fail(fmt.Sprintf("invalid tcp config: %v", err))
	}
	if cfg.Host == "" || cfg.Port <= 0 || cfg.Port > 65535 {
		return Fail("invalid tcp config: host and port are required")
	}
	ctx, cancel := context.WithTimeout(ctx, timeoutOf(cfg.TimeoutSeconds, 5*time.Second))
	defer cancel()

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	start := time.Now()
	conn, err := c.dialer.DialContext(ctx, "tcp", addr)
	rt := elapsedMs(start)
	if err != nil {
		res := Fail(fmt.Sprintf("dial %s: %v", addr, err))
		res.ResponseTimeMs = rt
		return res
	}
	conn.Close()
	res := OK(fmt.Sprintf("connected to %s", addr))
	res.ResponseTimeMs = rt
	return res
}
