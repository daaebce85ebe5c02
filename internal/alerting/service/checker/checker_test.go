package checker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/qiniu/watchtower/internal/alerting/model"
	"github.com/qiniu/watchtower/internal/alerting/service/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func monitorWith(t *testing.T, typ model.MonitorType, cfg any) *model.Monitor {
	t.Helper()
	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	return &model.Monitor{ID: "m1", Type: typ, Config: raw, Interval: time.Minute}
}

func TestRegistry_Execute(t *testing.T) {
	r := Registry{
		"panics": CheckerFunc(func(context.Context, *model.Monitor) model.CheckResult { panic("kaboom") }),
		"blank":  CheckerFunc(func(context.Context, *model.Monitor) model.CheckResult { return model.CheckResult{} }),
	}
	tests := []struct {
		name string
		typ  model.MonitorType
		want model.Status
	}{
		{"panic becomes FAIL", "panics", model.StatusFail},
		{"invalid status becomes UNKNOWN", "blank", model.StatusUnknown},
		{"unregistered type is UNKNOWN", "ftp", model.StatusUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Execute(context.Background(), &model.Monitor{ID: "m", Type: tt.typ})
			assert.Equal(t, tt.want, res.Status)
			require.NotNil(t, res.ResponseTimeMs, "every execution is timed")
			assert.GreaterOrEqual(t, *res.ResponseTimeMs, 0.0)
		})
	}
}

func TestRegistry_ExecuteKeepsCheckerResponseTime(t *testing.T) {
	now := time.Now()
	r := Registry{
		model.MonitorPulse: &PulseChecker{Now: func() time.Time { return now }},
		"timed": CheckerFunc(func(context.Context, *model.Monitor) model.CheckResult {
			return model.CheckResult{Status: model.StatusOK, ResponseTimeMs: model.FloatPtr(123)}
		}),
	}
	res := r.Execute(context.Background(), &model.Monitor{ID: "m", Type: "timed"})
	require.NotNil(t, res.ResponseTimeMs)
	assert.Equal(t, 123.0, *res.ResponseTimeMs)

	m := monitorWith(t, model.MonitorPulse, PulseConfig{})
	m.LastPulseAt = model.TimePtr(now)
	res = r.Execute(context.Background(), m)
	assert.Equal(t, model.StatusOK, res.Status)
	assert.NotNil(t, res.ResponseTimeMs)
}

func TestHTTPChecker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			fmt.Fprint(w, "all systems operational")
		case "/down":
			w.WriteHeader(http.StatusServiceUnavailable)
		case "/slow":
			time.Sleep(300 * time.Millisecond)
		}
	}))
	defer srv.Close()

	tests := []struct {
		name     string
		cfg      HTTPConfig
		want     model.Status
		wantCode int
	}{
		{"2xx is OK", HTTPConfig{URL: srv.URL + "/ok"}, model.StatusOK, 200},
		{"5xx is FAIL", HTTPConfig{URL: srv.URL + "/down"}, model.StatusFail, 503},
		{"expected status honoured", HTTPConfig{URL: srv.URL + "/down", ExpectedStatus: []int{503}}, model.StatusOK, 503},
		{"keyword present", HTTPConfig{URL: srv.URL + "/ok", Keyword: "operational"}, model.StatusOK, 200},
		{"keyword missing", HTTPConfig{URL: srv.URL + "/ok", Keyword: "outage"}, model.StatusFail, 200},
		{"timeout is FAIL", HTTPConfig{URL: srv.URL + "/slow", TimeoutSeconds: 0.05}, model.StatusFail, 0},
		{"missing url is FAIL", HTTPConfig{}, model.StatusFail, 0},
	}
	c := NewHTTPChecker(srv.Client())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := c.Check(context.Background(), monitorWith(t, model.MonitorHTTP, tt.cfg))
			assert.Equal(t, tt.want, res.Status, "output: %v", res.Output)
			if tt.wantCode != 0 {
				require.NotNil(t, res.ResponseCode)
				assert.Equal(t, tt.wantCode, *res.ResponseCode)
				require.NotNil(t, res.ResponseTimeMs)
			}
			require.NotNil(t, res.Output)
		})
	}
}

func TestTCPChecker(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	port := ln.Addr().(*net.TCPAddr).Port

	closed, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	closedPort := closed.Addr().(*net.TCPAddr).Port
	closed.Close()
	defer ln.Close()

	c := NewTCPChecker()
	res := c.Check(context.Background(), monitorWith(t, model.MonitorTCP, TCPConfig{Host: "127.0.0.1", Port: port}))
	assert.Equal(t, model.StatusOK, res.Status)
	assert.NotNil(t, res.ResponseTimeMs)

	res = c.Check(context.Background(), monitorWith(t, model.MonitorTCP, TCPConfig{Host: "127.0.0.1", Port: closedPort, TimeoutSeconds: 1}))
	assert.Equal(t, model.StatusFail, res.Status)
	assert.Contains(t, *res.Output, strconv.Itoa(closedPort))

	res = c.Check(context.Background(), monitorWith(t, model.MonitorTCP, TCPConfig{Host: "127.0.0.1"}))
	assert.Equal(t, model.StatusFail, res.Status)
}

func TestPulseChecker(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := &PulseChecker{Now: func() time.Time { return now }}
	tests := []struct {
		name      string
		created   time.Time
		lastPulse *time.Time
		want      model.Status
	}{
		{"fresh heartbeat", now.Add(-time.Hour), model.TimePtr(now.Add(-30 * time.Second)), model.StatusOK},
		{"stale heartbeat", now.Add(-time.Hour), model.TimePtr(now.Add(-2 * time.Minute)), model.StatusFail},
		{"within grace", now.Add(-time.Hour), model.TimePtr(now.Add(-70 * time.Second)), model.StatusOK},
		{"waiting for first", now.Add(-10 * time.Second), nil, model.StatusUnknown},
		{"never arrived", now.Add(-time.Hour), nil, model.StatusFail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := monitorWith(t, model.MonitorPulse, PulseConfig{GraceSeconds: 15})
			m.CreatedAt = tt.created
			m.LastPulseAt = tt.lastPulse
			assert.Equal(t, tt.want, c.Check(context.Background(), m).Status)
		})
	}
}

type fakeMetrics struct {
	sample *model.ServerMetric
	err    error
}

func (f fakeMetrics) LatestServerMetric(context.Context, string) (*model.ServerMetric, error) {
	return f.sample, f.err
}

func TestServerMetricChecker(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fresh := &model.ServerMetric{CPU: 95, Memory: 40, ReportedAt: now.Add(-10 * time.Second)}
	tests := []struct {
		name string
		cfg  ServerMetricConfig
		src  fakeMetrics
		want model.Status
	}{
		{"cpu over threshold", ServerMetricConfig{Metric: "cpu", Op: ">", Threshold: 90}, fakeMetrics{sample: fresh}, model.StatusFail},
		{"memory under threshold", ServerMetricConfig{Metric: "memory", Op: ">", Threshold: 90}, fakeMetrics{sample: fresh}, model.StatusOK},
		{"default operator", ServerMetricConfig{Metric: "cpu", Threshold: 99}, fakeMetrics{sample: fresh}, model.StatusOK},
		{"stale sample", ServerMetricConfig{Metric: "cpu", Threshold: 99, MaxAgeSeconds: 5}, fakeMetrics{sample: fresh}, model.StatusFail},
		{"no samples yet", ServerMetricConfig{Metric: "cpu", Threshold: 90}, fakeMetrics{err: store.ErrNotFound}, model.StatusUnknown},
		{"storage error", ServerMetricConfig{Metric: "cpu", Threshold: 90}, fakeMetrics{err: errors.New("conn reset")}, model.StatusFail},
		{"unknown metric", ServerMetricConfig{Metric: "gpu", Threshold: 90}, fakeMetrics{sample: fresh}, model.StatusFail},
		{"bad operator", ServerMetricConfig{Metric: "cpu", Op: "~", Threshold: 90}, fakeMetrics{sample: fresh}, model.StatusFail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &ServerMetricChecker{Source: tt.src, Now: func() time.Time { return now }}
			res := c.Check(context.Background(), monitorWith(t, model.MonitorServerMetric, tt.cfg))
			assert.Equal(t, tt.want, res.Status, "output: %v", *res.Output)
		})
	}
}

type fakeRunner struct {
	visit *BrowserVisit
	err   error
}

func (f fakeRunner) Visit(context.Context, string, time.Duration) (*BrowserVisit, error) {
	return f.visit, f.err
}

func TestBrowserChecker(t *testing.T) {
	tests := []struct {
		name   string
		cfg    BrowserConfig
		runner fakeRunner
		want   model.Status
	}{
		{"page loads", BrowserConfig{URL: "https://example.com"}, fakeRunner{visit: &BrowserVisit{StatusCode: 200, Content: "<h1>hi</h1>"}}, model.StatusOK},
		{"expected text found", BrowserConfig{URL: "https://example.com", ExpectText: "hi"}, fakeRunner{visit: &BrowserVisit{StatusCode: 200, Content: "<h1>hi</h1>"}}, model.StatusOK},
		{"expected text missing", BrowserConfig{URL: "https://example.com", ExpectText: "welcome"}, fakeRunner{visit: &BrowserVisit{StatusCode: 200, Content: "<h1>hi</h1>"}}, model.StatusFail},
		{"error status", BrowserConfig{URL: "https://example.com"}, fakeRunner{visit: &BrowserVisit{StatusCode: 502}}, model.StatusFail},
		{"runner error", BrowserConfig{URL: "https://example.com"}, fakeRunner{err: errors.New("chromium crashed")}, model.StatusFail},
		{"missing url", BrowserConfig{}, fakeRunner{}, model.StatusFail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &BrowserChecker{Runner: tt.runner}
			assert.Equal(t, tt.want, c.Check(context.Background(), monitorWith(t, model.MonitorBrowser, tt.cfg)).Status)
		})
	}
}

func TestNewRegistry(t *testing.T) {
	r := NewRegistry(Deps{Metrics: fakeMetrics{}, Browser: fakeRunner{}})
	for _, typ := range []model.MonitorType{model.MonitorHTTP, model.MonitorTCP, model.MonitorPulse, model.MonitorServerMetric, model.MonitorBrowser} {
		_, ok := r[typ]
		assert.True(t, ok, "missing checker for %s", typ)
	}
}
