package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/fox-gonic/fox"
	"github.com/gin-gonic/gin"
	"github.com/qiniu/watchtower/internal/alerting/model"
	"github.com/qiniu/watchtower/internal/alerting/service/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "agent-secret"

var now = time.Unix(1767225600, 0).UTC()

func setup(t *testing.T) (*fox.Engine, *store.MemStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	s := store.NewMemStore()
	require.NoError(t, s.UpsertMonitor(ctx, &model.Monitor{
		ID: "srv1", Type: model.MonitorServerMetric, IsEnabled: true, Interval: time.Minute,
		Config: json.RawMessage(`{"metric":"cpu","op":">","threshold":90,"secret":"` + secret + `"}`),
	}))
	require.NoError(t, s.UpsertMonitor(ctx, &model.Monitor{ID: "web", Type: model.MonitorHTTP, IsEnabled: true, Interval: time.Minute}))

	router := fox.New()
	api := NewApi(s, MaxSkew, 1024, router)
	api.now = func() time.Time { return now }
	return router, s
}

func push(router http.Handler, monitorID string, body []byte, ts time.Time, sig func(ts string, body []byte) string) *httptest.ResponseRecorder {
	tsStr := strconv.FormatInt(ts.Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/v1/server-metrics/"+monitorID, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTimestamp, tsStr)
	req.Header.Set(HeaderSignature, sig(tsStr, body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func signed(ts string, body []byte) string { return "sha256=" + Sign(secret, ts, body) }

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error.Code
}

func TestPushServerMetric_Accepted(t *testing.T) {
	router, s := setup(t)
	reported := now.Add(-10 * time.Second)
	body := []byte(`{"cpu":42.5,"memory":60,"swap":0,"disk":71,"net_in":1024,"net_out":2048,"reported_at":"` + reported.Format(time.RFC3339) + `"}`)

	w := push(router, "srv1", body, now, signed)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	got, err := s.LatestServerMetric(context.Background(), "srv1")
	require.NoError(t, err)
	assert.Equal(t, 42.5, got.CPU)
	assert.Equal(t, 2048.0, got.NetOut)
	assert.True(t, got.ReportedAt.Equal(reported))
	assert.True(t, got.ReceivedAt.Equal(now))
}

func TestPushServerMetric_Rejected(t *testing.T) {
	valid := []byte(`{"cpu":10,"memory":20,"disk":30}`)
	tests := []struct {
		name    string
		monitor string
		body    []byte
		ts      time.Time
		sig     func(string, []byte) string
		status  int
		code    string
	}{
		{"stale timestamp", "srv1", valid, now.Add(-6 * time.Minute), signed, http.StatusUnauthorized, ErrorCodeUnauthorized},
		{"future timestamp", "srv1", valid, now.Add(6 * time.Minute), signed, http.StatusUnauthorized, ErrorCodeUnauthorized},
		{"bad signature", "srv1", valid, now, func(ts string, b []byte) string { return Sign("wrong", ts, b) }, http.StatusUnauthorized, ErrorCodeUnauthorized},
		{"unknown monitor", "nope", valid, now, signed, http.StatusNotFound, ErrorCodeMonitorNotFound},
		{"not a server metric monitor", "web", valid, now, signed, http.StatusNotFound, ErrorCodeMonitorNotFound},
		{"malformed json", "srv1", []byte(`{"cpu":`), now, signed, http.StatusBadRequest, ErrorCodeInvalidParameter},
		{"negative value", "srv1", []byte(`{"cpu":1,"memory":1,"disk":-1}`), now, signed, http.StatusBadRequest, ErrorCodeInvalidParameter},
		{"over 100 percent", "srv1", []byte(`{"cpu":1,"memory":100.5,"disk":1}`), now, signed, http.StatusBadRequest, ErrorCodeInvalidParameter},
		{"negative network", "srv1", []byte(`{"cpu":1,"memory":1,"disk":1,"net_in":-5}`), now, signed, http.StatusBadRequest, ErrorCodeInvalidParameter},
		{"null body", "srv1", []byte(`null`), now, signed, http.StatusBadRequest, ErrorCodeInvalidParameter},
		{"empty object", "srv1", []byte(`{}`), now, signed, http.StatusBadRequest, ErrorCodeInvalidParameter},
		{"unknown field only", "srv1", []byte(`{"foo":1}`), now, signed, http.StatusBadRequest, ErrorCodeInvalidParameter},
		{"unknown field", "srv1", []byte(`{"cpu":1,"memory":1,"disk":1,"load":3}`), now, signed, http.StatusBadRequest, ErrorCodeInvalidParameter},
		{"array body", "srv1", []byte(`[{"cpu":1,"memory":1,"disk":1}]`), now, signed, http.StatusBadRequest, ErrorCodeInvalidParameter},
		{"missing disk", "srv1", []byte(`{"cpu":1,"memory":1}`), now, signed, http.StatusBadRequest, ErrorCodeInvalidParameter},
		{"trailing data", "srv1", []byte(`{"cpu":1,"memory":1,"disk":1}{}`), now, signed, http.StatusBadRequest, ErrorCodeInvalidParameter},
		{"too large", "srv1", bytes.Repeat([]byte(" "), 2048), now, signed, http.StatusRequestEntityTooLarge, ErrorCodePayloadTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, s := setup(t)
			w := push(router, tt.monitor, tt.body, tt.ts, tt.sig)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, errorCode(t, w))

			_, err := s.LatestServerMetric(context.Background(), "srv1")
			assert.ErrorIs(t, err, store.ErrNotFound, "rejected pushes never write")
		})
	}
}

func TestPushServerMetric_FutureReportedAtUsesReceiveTime(t *testing.T) {
	router, s := setup(t)
	body := []byte(`{"cpu":5,"memory":5,"disk":5,"reported_at":"` + now.Add(time.Hour).Format(time.RFC3339) + `"}`)
	w := push(router, "srv1", body, now, signed)
	require.Equal(t, http.StatusAccepted, w.Code)

	got, err := s.LatestServerMetric(context.Background(), "srv1")
	require.NoError(t, err)
	assert.True(t, got.ReportedAt.Equal(now))
}

func TestDecodeRequest_OptionalFieldsDefaultToZero(t *testing.T) {
	req, _, err := decodeRequest([]byte(` {"cpu":12,"memory":34,"disk":56} `))
	require.NoError(t, err)
	assert.Equal(t, 12.0, *req.CPU)
	assert.Nil(t, req.Swap)
	assert.Zero(t, valueOr(req.NetIn))

	_, param, err := decodeRequest([]byte(`{"cpu":12,"disk":56}`))
	assert.Error(t, err)
	assert.Equal(t, "memory", param)
}
