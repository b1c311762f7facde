package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"attendance-kiosk/config"
	"attendance-kiosk/internal/api"
	"attendance-kiosk/internal/db"
	"attendance-kiosk/internal/identitycache"
	"attendance-kiosk/internal/kiosk"
	"attendance-kiosk/internal/logging"
	"attendance-kiosk/internal/metrics"
	"attendance-kiosk/internal/notification"
	"attendance-kiosk/internal/remote"
	"attendance-kiosk/internal/retryqueue"
	"attendance-kiosk/internal/store"
)

const shutdownTimeout = 5 * time.Second

// app holds what every subcommand needs.
type app struct {
	cfg   *config.Config
	log   *logrus.Logger
	db    *gorm.DB
	redis *redis.Client
	store store.Store
	cache *identitycache.Cache
}

func newApp(ctx context.Context, path string) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from %s: %w", path, err)
	}

	log := logging.New(cfg.Log)
	log.WithField("path", path).Info("configuration loaded")

	gormDB, err := db.Init(&cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	a := &app{cfg: cfg, log: log, db: gormDB}
	switch cfg.BlobStore.Backend {
	case "redis":
		a.redis = redis.NewClient(&redis.Options{
			Addr:         cfg.BlobStore.RedisAddr,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  2 * time.Second,
			WriteTimeout: 2 * time.Second,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			// The cache tolerates an unreachable store, so keep going.
			log.WithError(err).WithField("addr", cfg.BlobStore.RedisAddr).Warn("redis not reachable, identity cache will start empty")
		}
		a.store = store.NewRedisStore(a.redis, cfg.BlobStore.Namespace)
	default:
		a.store = store.NewGormStore(gormDB)
	}
	log.WithField("backend", cfg.BlobStore.Backend).Info("blob store initialized")

	a.cache = identitycache.New(a.store, cfg.IdentityCache, log)
	return a, nil
}

func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("failed to close redis client")
		}
	}
	if sqlDB, err := a.db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			a.log.WithError(err).Warn("failed to close database")
		}
	}
}

func (a *app) webpushOptions() *webpush.Options {
	if !a.cfg.Push.Enabled() {
		return nil
	}
	return &webpush.Options{
		VAPIDPublicKey:  a.cfg.Push.PublicKey,
		VAPIDPrivateKey: a.cfg.Push.PrivateKey,
		Subscriber:      a.cfg.Push.Subject,
		TTL:             a.cfg.Push.TTL,
	}
}

// serve runs the kiosk API until ctx is cancelled.
func (a *app) serve(ctx context.Context) error {
	defer a.close()
	log := a.log

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	webpushOptions := a.webpushOptions()
	if webpushOptions == nil {
		log.Warn("VAPID keys not configured, abandoned scans will only be logged")
	}
	pool := notification.NewWorkerPool(a.cfg.WorkerPool.Size, a.db, webpushOptions, log)
	pool.Start(ctx)

	client := remote.New(a.cfg.API, log)
	queue := retryqueue.New(client, a.cfg.RetryQueue, log, retryqueue.Options{
		Recorder:    m,
		OnAbandoned: pool.Dispatch,
	})
	log.WithField("max_size", a.cfg.RetryQueue.MaxSize).Warn("retry queue is kept in memory only, pending scans are lost on restart")

	svc := kiosk.NewService(a.cfg.Server, client, a.cache, queue, log, m)
	svc.Start(ctx)

	stopSync := queue.StartAutoSync(ctx, a.cfg.RetryQueue.AutoSyncInterval)

	if a.cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := api.NewHandler(svc, queue, client, a.db, webpushOptions, log)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           api.NewRouter(handler, a.cfg.Server, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("port", a.cfg.Server.Port).Info("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, stopping services")
	case serveErr = <-errCh:
		log.WithError(serveErr).Error("HTTP server failed")
	}

	stopSync()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := svc.Flush(shutdownCtx); err != nil {
		log.WithError(err).Error("failed to flush identity cache")
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("HTTP server shutdown failed")
	}
	if pending := queue.Status().QueuedOperations; pending > 0 {
		log.WithField("pending", pending).Warn("exiting with unsynced scans in the retry queue")
	}

	log.Info("server stopped")
	return serveErr
}
