// Package queue implements C3, the Job Queue Client: the Redis-backed time
// index of pending firing instants, and the HTTP handoff to the web
// application that turns a due firing into an actual enqueued job.
package queue

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Datahenge/btu-scheduler/config"
	"github.com/Datahenge/btu-scheduler/internal/domain"
	"github.com/Datahenge/btu-scheduler/internal/requestid"
	"github.com/redis/go-redis/v9"
)

// TimeIndexKey is the single Redis sorted set the daemon reads and writes:
// members are Firing Instance Keys, scores are Unix seconds.
const TimeIndexKey = "btu_scheduler:task_execution_times"

const handoffTimeout = 30 * time.Second

// Client wraps the Redis time index and the handoff HTTP client behind a
// single component, matching the way the daemon treats them as one
// logical collaborator (C3) even though they speak two different wires.
type Client struct {
	rdb        *redis.Client
	httpClient *http.Client
	cfg        *config.Config
	logger     *slog.Logger
}

func NewClient(cfg *config.Config, logger *slog.Logger) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%d", cfg.RQHost, cfg.RQPort),
	})

	transport := &http.Transport{
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	httpClient := &http.Client{
		Transport: transport,
		Timeout:   handoffTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("stopped after 10 redirects")
			}
			return nil
		},
	}

	return &Client{
		rdb:        rdb,
		httpClient: httpClient,
		cfg:        cfg,
		logger:     logger.With("component", "queue"),
	}
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping probes Redis reachability for the supervisor's startup sequencing
// and the health checker's readiness probe.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// IndexUpsert inserts or updates the score of fik in the time index. It is
// idempotent: calling it twice with the same (fik, unixSeconds) leaves the
// index unchanged on the second call.
func (c *Client) IndexUpsert(ctx context.Context, fik domain.FIK, unixSeconds int64) error {
	err := c.rdb.ZAdd(ctx, TimeIndexKey, redis.Z{
		Score:  float64(unixSeconds),
		Member: string(fik),
	}).Err()
	if err != nil {
		return fmt.Errorf("index upsert %s: %w", fik, err)
	}
	return nil
}

// IndexDue returns every Firing Instance Key whose score is <= asOf,
// ascending by score, for the dispatch loop's due-set query.
func (c *Client) IndexDue(ctx context.Context, asOf time.Time) ([]domain.FIK, error) {
	members, err := c.rdb.ZRangeByScore(ctx, TimeIndexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(asOf.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("index due: %w", err)
	}
	return toFIKs(members), nil
}

// IndexRemove removes fik from the time index and reports whether this
// call was the one that actually removed it — the linearization point of
// the exclusive-claim protocol: a false result means another dispatch
// pass (or an earlier crash-recovered pass) already claimed it, and the
// caller must not hand it off again.
func (c *Client) IndexRemove(ctx context.Context, fik domain.FIK) (bool, error) {
	n, err := c.rdb.ZRem(ctx, TimeIndexKey, string(fik)).Result()
	if err != nil {
		return false, fmt.Errorf("index remove %s: %w", fik, err)
	}
	return n > 0, nil
}

// IndexScan returns every member currently in the time index, for
// diagnostics and CancelSchedule's prefix match.
func (c *Client) IndexScan(ctx context.Context) ([]domain.FIK, error) {
	members, err := c.rdb.ZRange(ctx, TimeIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("index scan: %w", err)
	}
	return toFIKs(members), nil
}

// CancelSchedule removes every Firing Instance Key belonging to
// scheduleID from the time index — a schedule_id-prefix match, since
// Redis sorted sets have no native "remove by key prefix" operation. It
// reports how many keys were removed.
func (c *Client) CancelSchedule(ctx context.Context, scheduleID string) (int, error) {
	members, err := c.IndexScan(ctx)
	if err != nil {
		return 0, fmt.Errorf("cancel schedule %s: %w", scheduleID, err)
	}

	prefix := scheduleID + "|"
	var toRemove []string
	for _, m := range members {
		if strings.HasPrefix(string(m), prefix) {
			toRemove = append(toRemove, string(m))
		}
	}
	if len(toRemove) == 0 {
		return 0, nil
	}

	members2 := make([]interface{}, len(toRemove))
	for i, m := range toRemove {
		members2[i] = m
	}
	n, err := c.rdb.ZRem(ctx, TimeIndexKey, members2...).Result()
	if err != nil {
		return 0, fmt.Errorf("cancel schedule %s: %w", scheduleID, err)
	}
	return int(n), nil
}

// IndexSize reports the time index's current cardinality, for metrics.
func (c *Client) IndexSize(ctx context.Context) (int64, error) {
	n, err := c.rdb.ZCard(ctx, TimeIndexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("index size: %w", err)
	}
	return n, nil
}

// HandoffForImmediateRun calls the web application's
// enqueue_for_next_available_worker endpoint for scheduleID. A non-2xx
// response, a transport error, or a context deadline all surface as
// ErrHandoffFailed. The caller does not retry — the firing instant has
// already been claimed via IndexRemove and is consumed regardless of
// handoff outcome.
func (c *Client) HandoffForImmediateRun(ctx context.Context, scheduleID string) error {
	reqCtx, cancel := context.WithTimeout(ctx, handoffTimeout)
	defer cancel()

	scheme := "http"
	if c.cfg.WebserverPort == 443 {
		scheme = "https"
	}

	u := url.URL{
		Scheme: scheme,
		Host:   fmt.Sprintf("%s:%d", c.cfg.WebserverIP, c.cfg.WebserverPort),
		Path:   "/api/method/btu.btu_api.endpoints.enqueue_for_next_available_worker",
	}
	q := u.Query()
	q.Set("task_schedule_key", scheduleID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, u.String(), nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", domain.ErrHandoffFailed, err)
	}
	req.Header.Set("Authorization", "token "+c.cfg.WebserverToken)
	req.Header.Set("X-Request-Id", requestid.New())
	if c.cfg.WebserverHostHeader != "" {
		req.Host = c.cfg.WebserverHostHeader
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrHandoffFailed, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: schedule %s: status %d", domain.ErrHandoffFailed, scheduleID, resp.StatusCode)
	}
	return nil
}

func toFIKs(members []string) []domain.FIK {
	fiks := make([]domain.FIK, len(members))
	for i, m := range members {
		fiks[i] = domain.FIK(m)
	}
	return fiks
}
