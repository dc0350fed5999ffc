package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"skywatch/internal/alert"
	"skywatch/internal/bus"
	"skywatch/internal/client/planner"
	"skywatch/internal/config"
	"skywatch/internal/consumer"
	cronrunner "skywatch/internal/cron"
	"skywatch/internal/db"
	"skywatch/internal/handler"
	"skywatch/internal/logger"
	"skywatch/internal/notify"
	"skywatch/internal/plan"
	"skywatch/internal/queue"
	"skywatch/internal/repository"
	gormrepository "skywatch/internal/repository/gorm"
)

func main() {
	cfgPath := os.Getenv("SW_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("SW_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	jobQueue := &queue.RedisQueue{
		Client:    redisClient,
		Namespace: cfg.Redis.Namespace,
	}

	var notifier notify.Notifier = notify.Noop{}
	if cfg.Slack.Enabled {
		notifier = notify.NewSlackNotifier(cfg.Slack.Token, cfg.Slack.Channel, store)
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(engine)
	eventHandler := &handler.EventHandler{Store: store}
	eventHandler.Register(engine)
	jobHandler := &handler.JobHandler{Store: store}
	jobHandler.Register(engine)

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	proc := &consumer.Consumer{
		Store:        store,
		Queue:        jobQueue,
		Notifier:     notifier,
		Logger:       logger,
		Thresholds:   thresholdsFromConfig(cfg.Selector),
		Strategies:   strategiesFromConfig(cfg.Strategies),
		MaxAttempts:  cfg.Consumer.MaxAttempts,
		RetryBackoff: cfg.Consumer.RetryBackoff,
	}
	stream := bus.NewStream(bus.StreamOptions{
		URL:               cfg.Bus.URL,
		Topics:            cfg.Bus.Topics,
		ClientID:          cfg.Bus.ClientID,
		ClientSecret:      cfg.Bus.ClientSecret,
		HeartbeatInterval: cfg.Bus.HeartbeatInterval,
		BackoffMin:        cfg.Bus.BackoffMin,
		BackoffMax:        cfg.Bus.BackoffMax,
		Logger:            logger,
	})
	go func() {
		if err := proc.Run(ctx, stream); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("consumer stopped", zap.Error(err))
		}
	}()

	plannerHTTP := &http.Client{Timeout: cfg.Planner.Timeout}
	worker := &queue.Worker{
		Queue:          jobQueue,
		Store:          store,
		Strategist:     planner.NewClient(plannerHTTP, cfg.Planner.BaseURL),
		Notifier:       notifier,
		Logger:         logger,
		Concurrency:    cfg.Worker.Concurrency,
		MaxAttempts:    cfg.Worker.MaxAttempts,
		AttemptTimeout: cfg.Worker.AttemptTimeout,
		RetryBackoff:   cfg.Worker.RetryBackoff,
	}
	go func() {
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("worker pool stopped", zap.Error(err))
		}
	}()

	if cfg.Cron.Enabled {
		cronRunner := cronrunner.New(logger, ctx)

		_, err = cronRunner.Add(cfg.Cron.StaleJobSweep, func(ctx context.Context) {
			requeueStaleJobs(ctx, store, jobQueue, logger, cfg.Cron.StaleJobAge)
		})
		if err != nil {
			logger.Warn("cron register stale job sweep failed", zap.Error(err))
		}

		_, err = cronRunner.Add(cfg.Cron.RawNoticeSweep, func(ctx context.Context) {
			cutoff := time.Now().UTC().Add(-cfg.Cron.RawNoticeRetainFor)
			n, err := store.DeleteRawNoticesBefore(ctx, cutoff)
			if err != nil {
				logger.Warn("raw notice sweep failed", zap.Error(err))
				return
			}
			if n > 0 {
				logger.Info("raw notices expired", zap.Int64("count", n))
			}
		})
		if err != nil {
			logger.Warn("cron register raw notice sweep failed", zap.Error(err))
		}

		cronRunner.Start()
		defer cronRunner.Stop()
	}

	errCh := make(chan error, 2)

	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func thresholdsFromConfig(sel config.SelectorConfig) alert.Thresholds {
	t := alert.Thresholds{
		Probability: make(map[alert.ClassKind]float64, len(sel.Probability)),
	}
	for class, cutoff := range sel.Probability {
		t.Probability[alert.ClassKind(class)] = cutoff
	}
	if sel.DistanceMpc > 0 {
		v := sel.DistanceMpc
		t.DistanceMpc = &v
	}
	if len(sel.DistanceMpcByClass) > 0 {
		t.DistanceMpcByClass = make(map[alert.ClassKind]float64, len(sel.DistanceMpcByClass))
		for class, cutoff := range sel.DistanceMpcByClass {
			t.DistanceMpcByClass[alert.ClassKind(class)] = cutoff
		}
	}
	if sel.AreaDeg2 > 0 {
		v := sel.AreaDeg2
		t.AreaDeg2 = &v
	}
	if len(sel.AreaDeg2ByClass) > 0 {
		t.AreaDeg2ByClass = make(map[alert.ClassKind]float64, len(sel.AreaDeg2ByClass))
		for class, cutoff := range sel.AreaDeg2ByClass {
			t.AreaDeg2ByClass[alert.ClassKind(class)] = cutoff
		}
	}
	return t
}

func strategiesFromConfig(items []config.StrategyConfig) []plan.Strategy {
	out := make([]plan.Strategy, 0, len(items))
	for _, item := range items {
		out = append(out, plan.Strategy{
			Telescopes: item.Telescopes,
			TileCount:  item.TileCount,
			Kind:       item.Kind,
		})
	}
	return out
}

// requeueStaleJobs pushes running jobs that stopped making progress back onto
// the queue. The worker re-claims them; terminal rows are never touched.
func requeueStaleJobs(ctx context.Context, store repository.Store, q queue.Queue, logger *zap.Logger, age time.Duration) {
	cutoff := time.Now().UTC().Add(-age)
	stale, err := store.ListStaleRunningJobs(ctx, cutoff, 100)
	if err != nil {
		logger.Warn("stale job scan failed", zap.Error(err))
		return
	}
	for _, row := range stale {
		var group []string
		if err := json.Unmarshal(row.TelescopeGroup, &group); err != nil {
			logger.Warn("stale job has bad telescope group",
				zap.String("job_id", row.JobID),
				zap.Error(err),
			)
			continue
		}
		job := queue.Job{
			JobID:          row.JobID,
			EventID:        row.EventID,
			StrategyIndex:  row.StrategyIndex,
			StrategyKind:   row.StrategyKind,
			TelescopeGroup: group,
			TileCount:      row.TileCount,
		}
		if err := q.Requeue(ctx, job); err != nil {
			logger.Warn("stale job requeue failed", zap.String("job_id", row.JobID), zap.Error(err))
			continue
		}
		logger.Info("stale running job requeued",
			zap.String("job_id", row.JobID),
			zap.String("event_id", row.EventID),
		)
	}
}
