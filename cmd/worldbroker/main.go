package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"worldbroker-go/internal/audit"
	"worldbroker-go/internal/auth"
	"worldbroker-go/internal/config"
	"worldbroker-go/internal/correlator"
	"worldbroker-go/internal/dispatch"
	"worldbroker-go/internal/httpserver"
	"worldbroker-go/internal/registry"
	"worldbroker-go/internal/telemetry"
	"worldbroker-go/internal/wsserver"

	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.ParseEnv()
	if err != nil {
		log.Fatal(err)
	}

	metrics := telemetry.NewMetrics()
	logger := telemetry.NewLogger(telemetry.ParseLevel(cfg.LogLevel), metrics)

	auditRoot := filepath.Join(os.TempDir(), fmt.Sprintf("worldbroker-audit-%d", os.Getpid()))
	journal, err := audit.NewJournal(auditRoot)
	if err != nil {
		log.Fatal(err)
	}

	provider, quota := buildCredentialProvider(cfg, logger)

	reg := registry.New()
	pending := correlator.New()

	d := dispatch.New(reg, pending, cfg.RequestTimeout)
	d.Telemetry = logger.Fork("dispatch")
	d.Metrics = metrics
	d.Audit = journal

	ctrl := wsserver.New(reg, pending, provider, cfg.WebsocketPingInterval, cfg.ClientInactivityTimeout, cfg.ClientCleanupInterval)
	ctrl.Telemetry = logger.Fork("wsserver")
	ctrl.Metrics = metrics
	ctrl.StartSweeping()

	srv := &httpserver.Server{
		Dispatcher: d,
		WS:         ctrl,
		Auth:       provider,
		Audit:      journal,
		Metrics:    metrics,
	}

	resetCancel := startDailyResetJob(cfg, logger, quota)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: srv.Handler(),
	}

	logger.Info("worldbroker-go listening", map[string]any{"port": cfg.Port})

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", map[string]any{"signal": sig.String()})
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}

	shutdown(httpServer, ctrl, reg, pending, journal, resetCancel)
}

// buildCredentialProvider wires internal/auth per cfg: a signed-token
// identity verifier when WORLDBROKER_JWT_SIGNING_KEY is set, falling back
// to the in-memory provider otherwise; a Redis-backed quota store when
// WORLDBROKER_REDIS_ADDR is set. It also returns the resolved auth.QuotaStore
// so startDailyResetJob can reset the same store the dispatcher checks
// against, instead of building its own disconnected Redis client.
func buildCredentialProvider(cfg config.Config, logger telemetry.Logger) (auth.CredentialProvider, auth.QuotaStore) {
	memory := auth.NewMemoryProvider()

	var identity auth.IdentityVerifier = memory
	if cfg.JWTSigningKey != "" {
		identity = auth.NewJWTProvider([]byte(cfg.JWTSigningKey), "worldbroker")
		logger.Info("using JWT identity verifier", nil)
	}

	var quota auth.QuotaStore = memory
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if _, err := rdb.Ping(context.Background()).Result(); err != nil {
			logger.Error("redis unreachable, falling back to in-memory quota store", map[string]any{"error": err.Error()})
		} else {
			quota = auth.NewRedisQuotaStore(rdb, int64(cfg.DailyQuota))
			logger.Info("using Redis quota store", map[string]any{"addr": cfg.RedisAddr})
		}
	}

	return auth.Provider{IdentityVerifier: identity, QuotaStore: quota}, quota
}

// startDailyResetJob launches the distributed-lock-guarded daily counter
// reset (spec.md §9) when Redis is configured, and returns a cancel func
// for graceful shutdown. It is a no-op when Redis is not configured,
// matching the in-memory provider's own lazy per-request day rollover. The
// job's callback resets whatever quota store buildCredentialProvider ended
// up wiring, falling back to MemoryProvider.ResetAllDaily if Redis turned
// out to be unreachable and quota is the in-memory fallback.
func startDailyResetJob(cfg config.Config, logger telemetry.Logger, quota auth.QuotaStore) context.CancelFunc {
	if cfg.RedisAddr == "" {
		return func() {}
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	job := auth.NewDailyResetJob(rdb, time.Hour, func(ctx context.Context) error {
		var err error
		switch store := quota.(type) {
		case *auth.RedisQuotaStore:
			err = store.ResetAll(ctx)
		case *auth.MemoryProvider:
			store.ResetAllDaily()
		}
		if err != nil {
			logger.Error("daily reset job failed", map[string]any{"error": err.Error()})
			return err
		}
		logger.Info("daily reset job acquired lock, reset quota counters", nil)
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	go job.Run(ctx)
	return cancel
}

func shutdown(httpServer *http.Server, ctrl *wsserver.Controller, reg *registry.Registry, pending *correlator.Table, journal *audit.Journal, resetCancel context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = httpServer.Shutdown(ctx)
	ctrl.Stop()
	resetCancel()
	reg.CloseAll()
	pending.Shutdown()
	_ = journal
}
