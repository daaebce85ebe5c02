package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	alertapi "github.com/qiniu/watchtower/internal/alerting/api"
	"github.com/qiniu/watchtower/internal/alerting/service/bootstrap"
	"github.com/qiniu/watchtower/internal/alerting/service/checker"
	"github.com/qiniu/watchtower/internal/alerting/service/dispatch"
	"github.com/qiniu/watchtower/internal/alerting/service/evaluator"
	"github.com/qiniu/watchtower/internal/alerting/service/queue"
	"github.com/qiniu/watchtower/internal/alerting/service/recorder"
	"github.com/qiniu/watchtower/internal/alerting/service/scheduler"
	"github.com/qiniu/watchtower/internal/alerting/service/store"
	"github.com/qiniu/watchtower/internal/config"
	"github.com/qiniu/watchtower/internal/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// load config first
	log.Info().Msg("Starting watchtower server")
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setLogLevel(cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := store.Open(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("open store failed")
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Error().Err(err).Msg("close store failed")
		}
	}()

	if err := bootstrap.LoadFile(ctx, st, cfg.Bootstrap.File); err != nil {
		log.Fatal().Err(err).Str("file", cfg.Bootstrap.File).Msg("bootstrap failed")
	}

	// optional redis: durable queue and dispatch guard
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pctx).Err()
		cancel()
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis ping failed")
		}
		defer rdb.Close()
	}

	qc := cfg.Alerting.Queue
	var q queue.Queue
	if rdb != nil {
		q = queue.NewRedisQueue(rdb, queue.RedisOptions{
			Prefix:       qc.Stream,
			Group:        qc.Group,
			Consumer:     qc.Consumer,
			Shards:       qc.Shards,
			Block:        config.ParseDuration(qc.Block, 2*time.Second),
			MaxLen:       qc.MaxLen,
			ClaimMinIdle: config.ParseDuration(qc.ClaimMinIdle, 30*time.Second),
		})
		log.Info().Str("stream", qc.Stream).Int("shards", qc.Shards).Msg("using redis streams queue")
	} else {
		q = queue.NewMemoryQueue(qc.Shards, qc.Size)
		log.Warn().Int("shards", qc.Shards).Msg("redis not configured; using in-memory queue")
	}

	// evaluation: queue consumer plus the sweeper for lost events
	ec := cfg.Alerting.Evaluator
	engine := evaluator.NewEngine(st, config.ParseDuration(ec.DispatchDelay, 2*time.Second))
	go evaluator.NewConsumer(engine, q).Start(ctx)
	go evaluator.StartRedeliverer(ctx, evaluator.RedeliverDeps{
		Store:    st,
		Queue:    q,
		Interval: config.ParseDuration(ec.RedeliverInterval, 30*time.Second),
		Age:      config.ParseDuration(ec.RedeliverAge, time.Minute),
		Batch:    ec.RedeliverBatch,
	})

	// dispatch
	dc := cfg.Alerting.Dispatch
	var guard dispatch.Guard = dispatch.NoopGuard{}
	if rdb != nil {
		guard = dispatch.NewRedisGuard(rdb, "", config.ParseDuration(dc.GuardTTL, 24*time.Hour))
	}
	notifier := dispatch.NewRouter(dispatch.NewWebhookNotifier(config.ParseDuration(dc.WebhookTimeout, 10*time.Second)))
	dispatcher := dispatch.NewDispatcher(st, notifier, guard, dispatch.Options{
		PollInterval:   config.ParseDuration(dc.PollInterval, time.Second),
		Batch:          dc.Batch,
		Lease:          config.ParseDuration(dc.Lease, 30*time.Second),
		MaxAttempts:    dc.MaxAttempts,
		InitialBackoff: config.ParseDuration(dc.InitialBackoff, 5*time.Second),
		MaxBackoff:     config.ParseDuration(dc.MaxBackoff, 10*time.Minute),
	})
	go dispatcher.Run(ctx)

	// probing
	sc := cfg.Alerting.Scheduler
	if sc.Enabled {
		deps := checker.Deps{Metrics: st}
		if cfg.Alerting.Checkers.Browser {
			deps.Browser = checker.NewPlaywrightRunner()
		}
		sch := scheduler.New(scheduler.Deps{
			Monitors: st,
			Prober:   checker.NewRegistry(deps),
			Recorder: recorder.New(st, q),
			Tick:     config.ParseDuration(sc.Tick, time.Second),
			Workers:  sc.Workers,
		})
		go sch.Start(ctx)
	} else {
		log.Warn().Msg("probe scheduler disabled")
	}

	router := gin.New()
	router.Use(middleware.Logger())
	router.Use(gin.Recovery())
	alertapi.NewApi(router, st)

	srv := &http.Server{Addr: cfg.Server.BindAddr, Handler: router}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Error().Err(err).Msg("http shutdown failed")
		}
	}()

	log.Info().Msgf("Starting server on %s", cfg.Server.BindAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("start watchtower server failed.")
	}
	log.Info().Msg("watchtower server exit...")
}

func setLogLevel(level string) {
	switch strings.ToLower(level) {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
