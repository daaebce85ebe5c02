package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/qiniu/watchtower/internal/alerting/model"
	"github.com/qiniu/watchtower/internal/alerting/service/store"
)

func (api *Api) setupMonitorRouters(router *gin.Engine) {
	router.GET("/v1/monitors", api.ListMonitors)
	router.GET("/v1/monitors/:monitorID", api.GetMonitor)
	router.GET("/v1/monitors/:monitorID/checks", api.ListChecks)
	router.GET("/v1/monitors/:monitorID/anomalies", api.ListAnomalies)
	router.GET("/v1/anomalies/:anomalyID", api.GetAnomaly)
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

type anomalyDetailResponse struct {
	*model.Anomaly
	Checks []*model.Check `json:"checks"`
}

func (api *Api) ListMonitors(c *gin.Context) {
	owner := strings.TrimSpace(c.Query("owner"))
	monitors, err := api.store.ListMonitors(c.Request.Context(), owner)
	if err != nil {
		sendStoreError(c, err, "monitors")
		return
	}
	if monitors == nil {
		monitors = []*model.Monitor{}
	}
	c.JSON(http.StatusOK, listResponse[*model.Monitor]{Items: monitors})
}

func (api *Api) GetMonitor(c *gin.Context) {
	m, err := api.store.GetMonitor(c.Request.Context(), c.Param("monitorID"))
	if err != nil {
		sendStoreError(c, err, "monitor")
		return
	}
	c.JSON(http.StatusOK, m)
}

func (api *Api) ListChecks(c *gin.Context) {
	limit, ok := parseLimit(c, 50)
	if !ok {
		return
	}
	id := c.Param("monitorID")
	if _, err := api.store.GetMonitor(c.Request.Context(), id); err != nil {
		sendStoreError(c, err, "monitor")
		return
	}
	checks, err := api.store.ListChecks(c.Request.Context(), id, limit)
	if err != nil {
		sendStoreError(c, err, "checks")
		return
	}
	if checks == nil {
		checks = []*model.Check{}
	}
	c.JSON(http.StatusOK, listResponse[*model.Check]{Items: checks})
}

func (api *Api) ListAnomalies(c *gin.Context) {
	limit, ok := parseLimit(c, 50)
	if !ok {
		return
	}
	filter := store.AnomalyFilter{Limit: limit}
	switch strings.ToLower(strings.TrimSpace(c.Query("state"))) {
	case "":
	case "open":
		open := true
		filter.Open = &open
	case "closed":
		open := false
		filter.Open = &open
	default:
		sendError(c, http.StatusBadRequest, ErrorCodeInvalidParameter, "state must be open or closed")
		return
	}
	id := c.Param("monitorID")
	if _, err := api.store.GetMonitor(c.Request.Context(), id); err != nil {
		sendStoreError(c, err, "monitor")
		return
	}
	anomalies, err := api.store.ListAnomalies(c.Request.Context(), id, filter)
	if err != nil {
		sendStoreError(c, err, "anomalies")
		return
	}
	if anomalies == nil {
		anomalies = []*model.Anomaly{}
	}
	c.JSON(http.StatusOK, listResponse[*model.Anomaly]{Items: anomalies})
}

func (api *Api) GetAnomaly(c *gin.Context) {
	an, err := api.store.GetAnomaly(c.Request.Context(), c.Param("anomalyID"))
	if err != nil {
		sendStoreError(c, err, "anomaly")
		return
	}
	checks, err := api.store.ListAnomalyChecks(c.Request.Context(), an.ID)
	if err != nil {
		sendStoreError(c, err, "anomaly checks")
		return
	}
	if checks == nil {
		checks = []*model.Check{}
	}
	c.JSON(http.StatusOK, anomalyDetailResponse{Anomaly: an, Checks: checks})
}
