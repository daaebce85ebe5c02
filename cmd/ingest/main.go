package main

import (
	"context"
	"os"
	"time"

	"github.com/fox-gonic/fox"
	"github.com/qiniu/watchtower/internal/config"
	"github.com/qiniu/watchtower/internal/ingest"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// 配置日志
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	log.Info().Msg("Starting watchtower ingest server")

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	// 如果有环境变量，使用环境变量的端口
	if port := os.Getenv("INGEST_PORT"); port != "" {
		cfg.Ingest.BindAddr = ":" + port
	}

	// 创建上报服务器
	server, err := ingest.NewIngestServer(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create ingest server")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Close(ctx)
	}()

	// 创建路由
	router := fox.New()

	// 启动 API
	server.UseApi(router)

	// 启动服务器
	log.Info().Msgf("Starting ingest server on %s", cfg.Ingest.BindAddr)
	if err := router.Run(cfg.Ingest.BindAddr); err != nil {
		log.Error().Err(err).Msg("Failed to start server")
	}
}
