package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Datahenge/btu-scheduler/config"
	"github.com/Datahenge/btu-scheduler/internal/control"
	"github.com/Datahenge/btu-scheduler/internal/domain"
	"github.com/Datahenge/btu-scheduler/internal/health"
	"github.com/Datahenge/btu-scheduler/internal/infrastructure/postgres"
	ctxlog "github.com/Datahenge/btu-scheduler/internal/log"
	"github.com/Datahenge/btu-scheduler/internal/metrics"
	"github.com/Datahenge/btu-scheduler/internal/queue"
	"github.com/Datahenge/btu-scheduler/internal/repository"
	"github.com/Datahenge/btu-scheduler/internal/scheduler"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
)

var processStart = time.Now()

// Supervisor (C9): loads configuration, brings up the Redis and Postgres
// clients, checks the control listener's TCP port is free, starts the
// consumer loop, performs one synchronous refill pass, then starts the
// refill, dispatch and control-listener loops concurrently and waits for a
// shutdown signal.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	qclient := queue.NewClient(cfg, logger)
	defer qclient.Close()

	// Redis reachability is a hard startup dependency: every loop reads or
	// writes the time index, so there is nothing useful to do without it.
	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	redisErr := qclient.Ping(pingCtx)
	cancelPing()
	if redisErr != nil {
		log.Fatalf("redis: %v", redisErr)
	}
	logger.Info("redis connected")

	scheduleStore, closeStore := newScheduleStore(ctx, cfg, logger)
	defer closeStore()

	if !cfg.DisableTCPSocket && isPortInUse(cfg.TCPSocketPort) {
		log.Fatalf("tcp socket port %d already in use", cfg.TCPSocketPort)
	}

	metrics.Register()
	metrics.ProcessStartTime.Set(float64(processStart.Unix()))

	checker := health.NewChecker(qclient, scheduleStore, logger, prometheus.DefaultRegisterer)

	work := scheduler.NewWorkChannel()
	defer work.Close()

	consumer := scheduler.NewConsumer(work.Out(), scheduleStore, qclient, logger)
	go consumer.Start(ctx)

	refill := scheduler.NewRefill(
		time.Duration(cfg.FullRefreshIntervalSecs)*time.Second,
		scheduleStore, work.In(), logger,
	)
	refill.RunOnce(ctx) // queue every enabled schedule before the dispatch loop starts
	go refill.Start(ctx)

	dispatch := scheduler.NewDispatch(
		time.Duration(cfg.SchedulerPollingInterval)*time.Second,
		scheduleStore, qclient, work.In(), logger,
	)
	go dispatch.Start(ctx)

	ctl := control.NewListener(
		cfg.SocketPath, cfg.SocketFileGroup, cfg.TCPSocketPort,
		cfg.DisableUnixSocket, cfg.DisableTCPSocket,
		work.In(), qclient, scheduleStore, logger,
	)
	go func() {
		if err := ctl.StartUnix(ctx); err != nil {
			logger.Error("unix control listener stopped", "error", err)
		}
	}()
	go func() {
		if err := ctl.StartTCP(ctx); err != nil {
			logger.Error("tcp control listener stopped", "error", err)
		}
	}()

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)
	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}

	logger.Info("btu scheduler shut down")
}

// newScheduleStore brings up the relational store as a soft startup
// dependency: a connection failure is logged and the daemon continues
// with a store that reports domain.ErrStoreUnavailable to every caller,
// rather than aborting. Redis alone is enough to serve control-socket
// ping/echo and drain an already-warm time index. An SQL dialect other
// than postgres has no store implementation and is rejected the same way.
func newScheduleStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repository.ScheduleStore, func()) {
	if cfg.SQLDialect != "postgres" {
		logger.Warn("sql dialect has no store implementation, continuing degraded", "dialect", cfg.SQLDialect)
		return unavailableStore{}, func() {}
	}
	pool, err := postgres.NewPool(ctx, databaseURL(cfg))
	if err != nil {
		logger.Warn("relational store unavailable at startup, continuing degraded", "error", err)
		return unavailableStore{}, func() {}
	}
	logger.Info("relational store connected")
	return postgres.NewScheduleRepository(pool, logger), pool.Close
}

type unavailableStore struct{}

func (unavailableStore) FetchSchedule(context.Context, string) (*domain.Schedule, error) {
	return nil, domain.ErrStoreUnavailable
}
func (unavailableStore) ListEnabledScheduleIDs(context.Context) ([]string, error) {
	return nil, domain.ErrStoreUnavailable
}
func (unavailableStore) Ping(context.Context) error { return domain.ErrStoreUnavailable }

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}

func databaseURL(cfg *config.Config) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?search_path=%s",
		cfg.SQLUser, cfg.SQLPassword, cfg.SQLHost, cfg.SQLPort, cfg.SQLDatabase, cfg.SQLSchema)
}

// isPortInUse probes the TCP control listener's configured port before
// binding it, so a port already in use aborts startup. Without the probe,
// StartTCP's net.Listen would fail with EADDRINUSE inside its goroutine,
// where the error is only logged and the daemon keeps running without a
// TCP listener.
func isPortInUse(port int) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 200*time.Millisecond)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
