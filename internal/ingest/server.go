package ingest

import (
	"context"

	"github.com/fox-gonic/fox"
	"github.com/qiniu/watchtower/internal/alerting/service/store"
	"github.com/qiniu/watchtower/internal/config"
	"github.com/rs/zerolog/log"
)

// IngestServer 服务器指标上报服务
type IngestServer struct {
	config  *config.Config
	store   store.Store
	closeFn func() error
	api     *Api
}

// NewIngestServer 创建新的上报服务器
func NewIngestServer(ctx context.Context, cfg *config.Config) (*IngestServer, error) {
	s, closeFn, err := store.Open(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}
	log.Info().Str("driver", cfg.Database.Driver).Msg("ingest server initialized successfully")
	return &IngestServer{config: cfg, store: s, closeFn: closeFn}, nil
}

// UseApi 设置 API 路由
func (s *IngestServer) UseApi(router *fox.Engine) {
	maxSkew := config.ParseDuration(s.config.Ingest.MaxSkew, MaxSkew)
	s.api = NewApi(s.store, maxSkew, s.config.Ingest.MaxBody, router)
}

// Close 关闭数据库连接
func (s *IngestServer) Close(ctx context.Context) error {
	log.Info().Msg("Starting shutdown...")
	if s.closeFn != nil {
		if err := s.closeFn(); err != nil {
			log.Error().Err(err).Msg("close store failed")
			return err
		}
	}
	log.Info().Msg("ingest server shut down")
	return nil
}
