package checker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/qiniu/watchtower/internal/alerting/model"
)

// HTTPConfig is the config of an http monitor.
type HTTPConfig struct {
	URL            string            `json:"url"`
	Method         string            `json:"method"`
	Headers        map[string]string `json:"headers"`
	Body           string            `json:"body"`
	ExpectedStatus []int             `json:"expectedStatus"`
	Keyword        string            `json:"keyword"`
	TimeoutSeconds float64           `json:"timeoutSeconds"`
}

// maxBodyScan bounds how much of a response is searched for the keyword.
const maxBodyScan = 1 << 20

type HTTPChecker struct {
	Client *http.Client
}

func NewHTTPChecker(client *http.Client) *HTTPChecker {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPChecker{Client: client}
}

func (c *HTTPChecker) Check(ctx context.Context, m *model.Monitor) model.CheckResult {
	var cfg HTTPConfig
	if err := m.DecodeConfig(&cfg); err != nil {
		return Fail(fmt.Sprintf("invalid http config: %v", err))
	}
	if cfg.URL == "" {
		return Fail("invalid http config: url is required")
	}
	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodGet
	}

	ctx, cancel := context.WithTimeout(ctx, timeoutOf(cfg.TimeoutSeconds, 10*time.Second))
	defer cancel()

	var body io.Reader
	if cfg.Body != "" {
		body = strings.NewReader(cfg.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, cfg.URL, body)
	if err != nil {
		return Fail(fmt.Sprintf("build request: %v", err))
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.Client.Do(req)
	if err != nil {
		res := Fail(fmt.Sprintf("request failed: %v", err))
		res.ResponseTimeMs = elapsedMs(start)
		return res
	}
	defer resp.Body.Close()

	var res model.CheckResult
	if cfg.Keyword != "" {
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyScan))
		res.ResponseTimeMs = elapsedMs(start)
		switch {
		case err != nil:
			res.Status = model.StatusFail
			res.Output = model.StringPtr(fmt.Sprintf("read body: %v", err))
		case !strings.Contains(string(data), cfg.Keyword):
			res.Status = model.StatusFail
			res.Output = model.StringPtr(fmt.Sprintf("HTTP %d: keyword %q not found", resp.StatusCode, cfg.Keyword))
		}
	} else {
		res.ResponseTimeMs = elapsedMs(start)
	}
	res.ResponseCode = model.IntPtr(resp.StatusCode)
	if res.Status == "" {
		if statusAccepted(resp.StatusCode, cfg.ExpectedStatus) {
			res.Status = model.StatusOK
			res.Output = model.StringPtr(fmt.Sprintf("HTTP %d", resp.StatusCode))
		} else {
			res.Status = model.StatusFail
			res.Output = model.StringPtr(fmt.Sprintf("HTTP %d: unexpected status", resp.StatusCode))
		}
	}
	return res
}

func statusAccepted(code int, expected []int) bool {
	if len(expected) == 0 {
		return code >= 200 && code < 400
	}
	for _, e := range expected {
		if e == code {
			return true
		}
	}
	return false
}
