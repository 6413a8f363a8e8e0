package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Pinger is satisfied by *pgxpool.Pool, *queue.Client and
// repository.ScheduleStore.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CheckResult represents the health of a single dependency.
type CheckResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthResult is the top-level health response.
type HealthResult struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Checker verifies that the daemon's two external dependencies are
// reachable. Redis is required for every operation the daemon performs;
// the relational store is treated as a soft dependency, so its absence is
// reported but does not flip overall status to down here —
// the supervisor applies its own hard/soft policy at startup.
type Checker struct {
	redis  Pinger
	sql    Pinger
	logger *slog.Logger
	gauge  *prometheus.GaugeVec
}

func NewChecker(redis, sql Pinger, logger *slog.Logger, reg prometheus.Registerer) *Checker {
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "btu_scheduler",
		Name:      "health_check_up",
		Help:      "Whether a dependency is reachable. 1 = up, 0 = down.",
	}, []string{"dependency"})
	reg.MustRegister(gauge)

	return &Checker{
		redis:  redis,
		sql:    sql,
		logger: logger.With("component", "health"),
		gauge:  gauge,
	}
}

// Liveness returns a simple "up" response if the process is running.
func (c *Checker) Liveness(_ context.Context) HealthResult {
	return HealthResult{Status: "up"}
}

// Readiness pings both dependencies and reports per-check status.
func (c *Checker) Readiness(ctx context.Context) HealthResult {
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	result := HealthResult{
		Status: "up",
		Checks: make(map[string]CheckResult),
	}

	if err := c.redis.Ping(checkCtx); err != nil {
		c.logger.Warn("redis health check failed", "error", err)
		result.Status = "down"
		result.Checks["redis"] = CheckResult{Status: "down", Error: err.Error()}
		c.gauge.WithLabelValues("redis").Set(0)
	} else {
		result.Checks["redis"] = CheckResult{Status: "up"}
		c.gauge.WithLabelValues("redis").Set(1)
	}

	if err := c.sql.Ping(checkCtx); err != nil {
		c.logger.Warn("relational store health check failed", "error", err)
		result.Checks["sql"] = CheckResult{Status: "down", Error: err.Error()}
		c.gauge.WithLabelValues("sql").Set(0)
	} else {
		result.Checks["sql"] = CheckResult{Status: "up"}
		c.gauge.WithLabelValues("sql").Set(1)
	}

	return result
}
