package control

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/Datahenge/btu-scheduler/internal/domain"
)

type fakeIndex struct {
	cancelled map[string]int
}

func (f *fakeIndex) CancelSchedule(_ context.Context, scheduleID string) (int, error) {
	return f.cancelled[scheduleID], nil
}

type fakeStore struct{}

func (fakeStore) FetchSchedule(_ context.Context, scheduleID string) (*domain.Schedule, error) {
	return &domain.Schedule{ScheduleID: scheduleID, Enabled: true, CronString: "* * * * *", CronTimezone: "UTC"}, nil
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal request_content: %v", err)
	}
	return data
}

func startTestTCPListener(t *testing.T, index IndexClient) (func() net.Conn, chan string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	work := make(chan string, 10)
	l := NewListener("", "", 0, true, false, work, index, fakeStore{}, slog.Default())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go l.handleTCPConn(ctx, conn)
		}
	}()

	dial := func() net.Conn {
		conn, err := net.Dial("tcp", ln.Addr().String())
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		t.Cleanup(func() { conn.Close() })
		return conn
	}

	return dial, work
}

// roundTrip sends req on a fresh connection and reads the single response
// the server writes before closing — the control listener answers exactly
// one request per connection.
func roundTrip(t *testing.T, dial func() net.Conn, req request) response {
	t.Helper()
	conn := dial()
	enc := json.NewEncoder(conn)
	if err := enc.Encode(req); err != nil {
		t.Fatalf("encode request: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	dec := json.NewDecoder(conn)
	var resp response
	if err := dec.Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestTCP_Ping(t *testing.T) {
	dial, _ := startTestTCPListener(t, &fakeIndex{})
	resp := roundTrip(t, dial, request{RequestType: "ping", RequestContent: raw(t, nil)})
	if resp.Status != "ok" || resp.RequestType != "ping" || resp.Data != "pong" {
		t.Fatalf("expected ok/pong, got %+v", resp)
	}
}

func TestTCP_Echo(t *testing.T) {
	dial, _ := startTestTCPListener(t, &fakeIndex{})
	resp := roundTrip(t, dial, request{RequestType: "echo", RequestContent: raw(t, map[string]any{"x": float64(1)})})
	if resp.Status != "ok" || resp.RequestType != "echo" {
		t.Fatalf("expected ok echo, got %+v", resp)
	}
	got, ok := resp.Data.(map[string]any)
	if !ok || got["x"] != float64(1) {
		t.Fatalf("expected echoed content {x:1}, got %+v", resp.Data)
	}
}

func TestTCP_CreateTaskSchedule_PushesOntoWorkChannel(t *testing.T) {
	dial, work := startTestTCPListener(t, &fakeIndex{})
	resp := roundTrip(t, dial, request{RequestType: "create_task_schedule", RequestContent: raw(t, "s1")})
	if resp.Status != "ok" || resp.RequestType != "create_task_schedule" {
		t.Fatalf("expected ok, got %+v", resp)
	}
	select {
	case got := <-work:
		if got != "s1" {
			t.Fatalf("expected s1 pushed, got %s", got)
		}
	case <-time.After(time.Second):
		t.Fatal("expected schedule id pushed onto work channel")
	}
}

func TestTCP_CancelTaskSchedule_ReportsRemovedCount(t *testing.T) {
	dial, _ := startTestTCPListener(t, &fakeIndex{cancelled: map[string]int{"s1": 3}})
	resp := roundTrip(t, dial, request{RequestType: "cancel_task_schedule", RequestContent: raw(t, "s1")})
	if resp.Status != "ok" {
		t.Fatalf("expected ok, got %+v", resp)
	}
	msg, ok := resp.Data.(string)
	if !ok || !strings.Contains(msg, "removed 3 ") {
		t.Fatalf("expected a confirmation reporting 3 removed, got %+v", resp.Data)
	}
}

func TestTCP_UnknownRequestType(t *testing.T) {
	dial, _ := startTestTCPListener(t, &fakeIndex{})
	resp := roundTrip(t, dial, request{RequestType: "not_a_thing", RequestContent: raw(t, nil)})
	if resp.Status != "error" || resp.Error == "" {
		t.Fatalf("expected an error for an unknown request type, got %+v", resp)
	}
}

func TestTCP_MissingScheduleID(t *testing.T) {
	dial, _ := startTestTCPListener(t, &fakeIndex{})
	resp := roundTrip(t, dial, request{RequestType: "create_task_schedule", RequestContent: raw(t, "")})
	if resp.Status != "error" || resp.Error == "" {
		t.Fatal("expected an error when schedule_id is empty")
	}
}

func TestTCP_MissingRequestContent(t *testing.T) {
	dial, _ := startTestTCPListener(t, &fakeIndex{})
	// Written by hand: encoding a request value always emits
	// "request_content":null, which counts as present.
	conn := dial()
	if _, err := conn.Write([]byte(`{"request_type":"ping"}` + "\n")); err != nil {
		t.Fatalf("write request: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "error" || resp.Error == "" {
		t.Fatal("expected an error when request_content is absent")
	}
}

func TestTCP_NonStringRequestContentForCreate(t *testing.T) {
	dial, _ := startTestTCPListener(t, &fakeIndex{})
	resp := roundTrip(t, dial, request{RequestType: "create_task_schedule", RequestContent: raw(t, 42)})
	if resp.Status != "error" || resp.Error == "" {
		t.Fatal("expected an error when request_content is not a string schedule_id")
	}
}

func TestTCP_ClosesConnectionAfterOneRequest(t *testing.T) {
	dial, _ := startTestTCPListener(t, &fakeIndex{})
	conn := dial()
	if err := json.NewEncoder(conn).Encode(request{RequestType: "ping", RequestContent: raw(t, nil)}); err != nil {
		t.Fatalf("encode request: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	dec := json.NewDecoder(conn)
	var resp response
	if err := dec.Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	// The server must have closed its end after the one response: a second
	// decode attempt on the same connection sees EOF rather than a reply
	// to a request that was never sent.
	var second response
	if err := dec.Decode(&second); err == nil {
		t.Fatalf("expected EOF after the single response, got %+v", second)
	}
}

func TestUnix_LineEcho(t *testing.T) {
	work := make(chan string, 1)
	l := NewListener("", "", 0, true, true, work, &fakeIndex{}, fakeStore{}, slog.Default())

	server, client := net.Pipe()
	defer client.Close()
	go l.handleUnixConn(server)

	fmt.Fprintln(client, "hello there")
	reader := bufio.NewReader(client)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read echo: %v", err)
	}
	if line != "hello there\n" {
		t.Fatalf("expected line echoed back, got %q", line)
	}
}
