// Package control implements C8, the Control Listener: a Unix domain
// socket speaking a legacy line-echo protocol, and a TCP socket speaking a
// small JSON request/response protocol. Only the TCP protocol drives
// actions against the Internal Work Channel and the time index; the Unix
// socket echoes each line back and does nothing else.
package control

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"

	"github.com/Datahenge/btu-scheduler/internal/cronclock"
	"github.com/Datahenge/btu-scheduler/internal/domain"
	"github.com/Datahenge/btu-scheduler/internal/metrics"
)

// maxTCPRequestBytes bounds a single TCP request frame.
const maxTCPRequestBytes = 4096

// IndexClient is the subset of internal/queue.Client the control listener
// needs.
type IndexClient interface {
	CancelSchedule(ctx context.Context, scheduleID string) (int, error)
}

// ScheduleStore is the subset of internal/repository.ScheduleStore the
// control listener needs, to reject create_task_schedule for a row whose
// cron expression or time zone doesn't parse before it ever reaches the
// work channel.
type ScheduleStore interface {
	FetchSchedule(ctx context.Context, scheduleID string) (*domain.Schedule, error)
}

type request struct {
	RequestType    string          `json:"request_type"`
	RequestContent json.RawMessage `json:"request_content"`
}

type response struct {
	Status      string `json:"status"`
	RequestType string `json:"request_type,omitempty"`
	Data        any    `json:"data,omitempty"`
	Error       string `json:"error,omitempty"`
}

func ok(requestType string, data any) response {
	return response{Status: "ok", RequestType: requestType, Data: data}
}

func errResponse(reason string) response {
	return response{Status: "error", Error: reason}
}

// Listener owns both control transports. Either can be disabled by
// configuration; a caller that disables both still constructs a Listener,
// it simply never accepts a connection.
type Listener struct {
	socketPath      string
	socketFileGroup string
	tcpPort         int
	disableUnix     bool
	disableTCP      bool

	work   chan<- string
	index  IndexClient
	store  ScheduleStore
	logger *slog.Logger
}

func NewListener(socketPath, socketFileGroup string, tcpPort int, disableUnix, disableTCP bool, work chan<- string, index IndexClient, store ScheduleStore, logger *slog.Logger) *Listener {
	return &Listener{
		socketPath:      socketPath,
		socketFileGroup: socketFileGroup,
		tcpPort:         tcpPort,
		disableUnix:     disableUnix,
		disableTCP:      disableTCP,
		work:            work,
		index:           index,
		store:           store,
		logger:          logger.With("component", "control"),
	}
}

// StartUnix serves the legacy line-echo protocol — retained solely for
// interface compatibility with clients written against the original
// implementation's Unix socket. It blocks until ctx is cancelled or the
// listener fails; it returns nil if disabled.
func (l *Listener) StartUnix(ctx context.Context) error {
	if l.disableUnix {
		return nil
	}

	_ = os.Remove(l.socketPath)
	ln, err := net.Listen("unix", l.socketPath)
	if err != nil {
		return fmt.Errorf("listen on unix socket %s: %w", l.socketPath, err)
	}
	applySocketGroup(l.socketPath, l.socketFileGroup, l.logger)

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				l.logger.Error("unix socket accept failed", "error", err)
				return fmt.Errorf("accept on unix socket: %w", err)
			}
		}
		go l.handleUnixConn(conn)
	}
}

// StartTCP serves the JSON request/response protocol (ping, echo,
// create_task_schedule, cancel_task_schedule). It blocks until ctx is
// cancelled or the listener fails; it returns nil if disabled.
func (l *Listener) StartTCP(ctx context.Context) error {
	if l.disableTCP {
		return nil
	}

	addr := fmt.Sprintf(":%d", l.tcpPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on tcp socket %s: %w", addr, err)
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				l.logger.Error("tcp socket accept failed", "error", err)
				return fmt.Errorf("accept on tcp socket: %w", err)
			}
		}
		go l.handleTCPConn(ctx, conn)
	}
}

// handleUnixConn implements the legacy protocol: read one LF-terminated
// line, write it back, close.
func (l *Listener) handleUnixConn(conn net.Conn) {
	defer conn.Close()

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		l.logger.Debug("unix connection closed before a line was sent", "error", err)
		return
	}
	if _, err := conn.Write([]byte(line)); err != nil {
		l.logger.Debug("unix echo write failed", "error", err)
		return
	}
	metrics.ControlRequestsTotal.WithLabelValues("unix", "echo", "ok").Inc()
}

// handleTCPConn implements the per-connection state machine: Reading →
// Parsing → Dispatching → Responding → Closed. It reads and answers
// exactly one request, then closes the connection.
func (l *Listener) handleTCPConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var req request
	dec := json.NewDecoder(io.LimitReader(conn, maxTCPRequestBytes))
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			l.logger.Debug("tcp connection closed before a request was sent")
			return
		}
		l.writeTCPResponse(conn, errResponse("malformed request: "+err.Error()))
		metrics.ControlRequestsTotal.WithLabelValues("tcp", "unknown", "error").Inc()
		return
	}

	resp, outcome := l.dispatch(ctx, req)
	metrics.ControlRequestsTotal.WithLabelValues("tcp", requestTypeLabel(req.RequestType), outcome).Inc()
	l.writeTCPResponse(conn, resp)
}

func (l *Listener) writeTCPResponse(conn net.Conn, resp response) {
	data, err := json.Marshal(resp)
	if err != nil {
		l.logger.Error("tcp response marshal failed", "error", err)
		return
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		l.logger.Debug("tcp response write failed", "error", err)
	}
}

func (l *Listener) dispatch(ctx context.Context, req request) (response, string) {
	switch req.RequestType {
	case "":
		return errResponse("missing request_type"), "error"

	case "ping":
		if req.RequestContent == nil {
			return errResponse("missing request_content"), "error"
		}
		return ok("ping", "pong"), "ok"

	case "echo":
		if req.RequestContent == nil {
			return errResponse("missing request_content"), "error"
		}
		var data any
		if err := json.Unmarshal(req.RequestContent, &data); err != nil {
			return errResponse("invalid request_content: " + err.Error()), "error"
		}
		return ok("echo", data), "ok"

	case "create_task_schedule":
		scheduleID, err := decodeScheduleID(req.RequestContent)
		if err != nil {
			return errResponse(err.Error()), "error"
		}
		sched, err := l.store.FetchSchedule(ctx, scheduleID)
		if err != nil {
			return errResponse(err.Error()), "error"
		}
		if err := cronclock.Validate(sched.CronString, sched.CronTimezone); err != nil {
			return errResponse(err.Error()), "error"
		}
		select {
		case l.work <- scheduleID:
			return ok("create_task_schedule", fmt.Sprintf("schedule %s queued for indexing", scheduleID)), "ok"
		case <-ctx.Done():
			return errResponse("daemon shutting down"), "error"
		}

	case "cancel_task_schedule":
		scheduleID, err := decodeScheduleID(req.RequestContent)
		if err != nil {
			return errResponse(err.Error()), "error"
		}
		n, err := l.index.CancelSchedule(ctx, scheduleID)
		if err != nil {
			return errResponse(err.Error()), "error"
		}
		return ok("cancel_task_schedule", fmt.Sprintf("removed %d firing instance keys for schedule %s", n, scheduleID)), "ok"

	default:
		return errResponse(fmt.Sprintf("unknown request_type: %s", req.RequestType)), "error"
	}
}

// decodeScheduleID extracts the schedule_id string the two schedule-bearing
// request kinds carry in request_content, rejecting a missing, non-string,
// or empty value.
func decodeScheduleID(content json.RawMessage) (string, error) {
	if content == nil {
		return "", errors.New("missing request_content")
	}
	var scheduleID string
	if err := json.Unmarshal(content, &scheduleID); err != nil {
		return "", errors.New("request_content must be a string schedule_id")
	}
	if scheduleID == "" {
		return "", errors.New("request_content must be a non-empty schedule_id")
	}
	return scheduleID, nil
}

func requestTypeLabel(rt string) string {
	if rt == "" {
		return "unknown"
	}
	return rt
}
