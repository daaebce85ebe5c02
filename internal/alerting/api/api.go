package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/qiniu/watchtower/internal/alerting/service/store"
	"github.com/rs/zerolog/log"
)

const (
	ErrorCodeInvalidParameter = "INVALID_PARAMETER"
	ErrorCodeNotFound         = "NOT_FOUND"
	ErrorCodeInternalError    = "INTERNAL_ERROR"
)

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type Api struct {
	store store.Store
	now   func() time.Time
}

func NewApi(router *gin.Engine, s store.Store) *Api {
	api := &Api{store: s, now: time.Now}
	api.setupRouters(router)
	return api
}

func (api *Api) setupRouters(router *gin.Engine) {
	api.setupMonitorRouters(router)
	api.setupPulseRouters(router)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, map[string]any{"ok": true})
	})
}

func sendError(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

// sendStoreError maps store failures onto the error envelope.
func sendStoreError(c *gin.Context, err error, what string) {
	if errors.Is(err, store.ErrNotFound) {
		sendError(c, http.StatusNotFound, ErrorCodeNotFound, what+" not found")
		return
	}
	log.Error().Err(err).Str("path", c.FullPath()).Msg("store query failed")
	_ = c.Error(err)
	sendError(c, http.StatusInternalServerError, ErrorCodeInternalError, err.Error())
}

// parseLimit reads ?limit=, defaulting to def and capped at 500.
func parseLimit(c *gin.Context, def int) (int, bool) {
	s := strings.TrimSpace(c.Query("limit"))
	if s == "" {
		return def, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 500 {
		sendError(c, http.StatusBadRequest, ErrorCodeInvalidParameter, "limit must be 1-500")
		return 0, false
	}
	return n, true
}
