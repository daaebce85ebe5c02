package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/qiniu/watchtower/internal/alerting/model"
	"github.com/rs/zerolog/log"
)

func (api *Api) setupPulseRouters(router *gin.Engine) {
	router.POST("/v1/pulse/:monitorID", api.Pulse)
	router.GET("/v1/pulse/:monitorID", api.Pulse)
}

// Pulse records a heartbeat for a pulse monitor. The pulse checker turns the
// absence of heartbeats into FAIL checks.
func (api *Api) Pulse(c *gin.Context) {
	id := c.Param("monitorID")
	m, err := api.store.GetMonitor(c.Request.Context(), id)
	if err != nil {
		sendStoreError(c, err, "monitor")
		return
	}
	if m.Type != model.MonitorPulse {
		sendError(c, http.StatusNotFound, ErrorCodeNotFound, "monitor not found")
		return
	}
	at := api.now()
	if err := api.store.RecordPulse(c.Request.Context(), id, at); err != nil {
		sendStoreError(c, err, "monitor")
		return
	}
	log.Debug().Str("monitor_id", id).Msg("pulse received")
	c.JSON(http.StatusOK, map[string]any{"ok": true, "receivedAt": at.UTC()})
}
