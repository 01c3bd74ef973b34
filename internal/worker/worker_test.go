package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"
)

func newTestWorker(handler JobHandler) *Worker {
	return New(Config{
		URL:       "wss://example.com",
		Token:     "test-token",
		AgentName: "voicebridge-agent",
	}, handler, slog.Default())
}

func TestWorkerNew(t *testing.T) {
	is := is.New(t)

	w := newTestWorker(nil)

	is.Equal(w.url, "wss://example.com")
	is.Equal(w.token, "test-token")
	is.Equal(w.agentName, "voicebridge-agent")
	is.True(w.in != nil)
	is.True(w.out != nil)
}

func TestWorkerIsConnected(t *testing.T) {
	is := is.New(t)

	w := newTestWorker(nil)
	is.True(!w.IsConnected())

	w.setConnected(true)
	is.True(w.IsConnected())

	w.setConnected(false)
	is.True(!w.IsConnected())
}

func TestHandleSignalPing(t *testing.T) {
	is := is.New(t)

	w := newTestWorker(nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	w.handleSignal(ctx, &Signal{
		Type: SignalTypePing,
		Data: map[string]any{"id": "test-ping"},
	})

	select {
	case cmd := <-w.out:
		is.Equal(cmd.Type, SignalTypePong)
		is.Equal(cmd.Data["id"], "test-ping") // pong echoes the ping payload
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected pong response")
	}
}

func TestHandleSignalStartJob(t *testing.T) {
	is := is.New(t)

	var mu sync.Mutex
	var got Job
	w := newTestWorker(func(ctx context.Context, job Job) error {
		mu.Lock()
		got = job
		mu.Unlock()
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	w.handleSignal(ctx, &Signal{
		Type: SignalTypeStartJob,
		Data: map[string]any{
			"job_id": "job-1",
			"room":   "support-room",
			"token":  "join-token",
		},
	})

	w.jobs.Wait()

	mu.Lock()
	is.Equal(got.ID, "job-1")
	is.Equal(got.Room, "support-room")
	is.Equal(got.Token, "join-token")
	mu.Unlock()

	// Lifecycle: jobStarted then jobFinished without error.
	started := <-w.out
	is.Equal(started.Type, CommandTypeJobStarted)
	is.Equal(started.Data["job_id"], "job-1")

	finished := <-w.out
	is.Equal(finished.Type, CommandTypeJobFinished)
	_, hasErr := finished.Data["error"]
	is.True(!hasErr)
}

func TestHandleSignalStartJobFailure(t *testing.T) {
	is := is.New(t)

	w := newTestWorker(func(ctx context.Context, job Job) error {
		return fmt.Errorf("room unreachable")
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	w.handleSignal(ctx, &Signal{
		Type: SignalTypeStartJob,
		Data: map[string]any{"job_id": "job-2", "room": "r"},
	})
	w.jobs.Wait()

	<-w.out // jobStarted
	finished := <-w.out
	is.Equal(finished.Type, CommandTypeJobFinished)
	is.Equal(finished.Data["error"], "room unreachable")
}

func TestHandleSignalMalformedJob(t *testing.T) {
	is := is.New(t)

	handled := false
	w := newTestWorker(func(ctx context.Context, job Job) error {
		handled = true
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// Missing room: rejected without dispatch.
	w.handleSignal(ctx, &Signal{
		Type: SignalTypeStartJob,
		Data: map[string]any{"job_id": "job-3"},
	})
	w.jobs.Wait()

	is.True(!handled)
	select {
	case cmd := <-w.out:
		t.Fatalf("no command expected for malformed job, got %s", cmd.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandleSignalShutdown(t *testing.T) {
	is := is.New(t)

	w := newTestWorker(nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	w.handleSignal(ctx, &Signal{Type: SignalTypeShutdown})

	select {
	case <-w.stop:
	default:
		t.Fatal("shutdown signal should close the stop channel")
	}

	// A second shutdown must not panic on double close.
	w.handleSignal(ctx, &Signal{Type: SignalTypeShutdown})
	is.True(true)
}

func TestHandleSignalUnknown(t *testing.T) {
	w := newTestWorker(nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	w.handleSignal(ctx, &Signal{
		Type: "unknownType",
		Data: map[string]any{"foo": "bar"},
	})

	select {
	case <-w.out:
		t.Error("no response expected for unknown signal type")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestParseJob(t *testing.T) {
	tests := []struct {
		name    string
		data    map[string]any
		wantErr bool
	}{
		{"complete", map[string]any{"job_id": "j", "room": "r", "token": "t"}, false},
		{"token optional", map[string]any{"job_id": "j", "room": "r"}, false},
		{"missing room", map[string]any{"job_id": "j"}, true},
		{"missing job id", map[string]any{"room": "r"}, true},
		{"wrong types", map[string]any{"job_id": 7, "room": true}, true},
		{"empty", map[string]any{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			_, err := parseJob(tt.data)
			is.Equal(err != nil, tt.wantErr)
		})
	}
}

func TestBackoffCalculation(t *testing.T) {
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{10, 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run("", func(t *testing.T) {
			w := newTestWorker(nil)

			w.mu.Lock()
			w.backoffAttempt = tt.attempt - 1
			w.mu.Unlock()

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()

			start := time.Now()
			err := w.backoffDelay(ctx)
			duration := time.Since(start)

			if err != context.DeadlineExceeded {
				t.Errorf("expected context deadline exceeded, got %v", err)
			}
			if duration < 40*time.Millisecond {
				t.Errorf("backoff should have waited at least 40ms, waited %v", duration)
			}
		})
	}
}
