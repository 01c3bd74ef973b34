// Package worker registers the agent with a job server over websocket and
// launches one voice session per assigned job.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/voicebridge/voicebridge/pkg/version"
)

// Signal and command type constants.
const (
	SignalTypePing     = "ping"
	SignalTypePong     = "pong"
	SignalTypeStartJob = "startJob"
	SignalTypeShutdown = "shutdown"

	CommandTypeRegister    = "register"
	CommandTypeJobStarted  = "jobStarted"
	CommandTypeJobFinished = "jobFinished"
)

// Job is one session assignment received from the server.
type Job struct {
	ID    string
	Room  string
	Token string
}

// JobHandler runs a session for one assignment and returns when the
// session ends. The context is cancelled when the worker shuts down.
type JobHandler func(ctx context.Context, job Job) error

type Config struct {
	URL       string
	Token     string
	AgentName string
}

type Worker struct {
	url       string
	token     string
	agentName string
	wsClient  *WebSocketClient
	handler   JobHandler
	logger    *slog.Logger

	in  chan *Signal
	out chan *Command

	jobs     sync.WaitGroup
	stopOnce sync.Once
	stop     chan struct{}

	mu             sync.RWMutex
	runCtx         context.Context
	connected      bool
	backoffAttempt int
}

// New creates a worker that hands each assigned job to handler.
func New(config Config, handler JobHandler, logger *slog.Logger) *Worker {
	return &Worker{
		url:       config.URL,
		token:     config.Token,
		agentName: config.AgentName,
		handler:   handler,
		logger:    logger,
		in:        make(chan *Signal, 100),
		out:       make(chan *Command, 100),
		stop:      make(chan struct{}),
		wsClient:  NewWebSocketClient(config.URL, config.Token, logger),
	}
}

// Run connects to the server and processes signals until ctx is cancelled
// or the server requests shutdown. Connection failures reconnect with
// exponential backoff.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("starting worker",
		slog.String("url", w.url),
		slog.String("agent", w.agentName))

	w.mu.Lock()
	w.runCtx = ctx
	w.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return w.shutdown()
		case <-w.stop:
			return w.shutdown()
		default:
			if err := w.connectAndRun(ctx); err != nil {
				w.logger.Error("worker connection failed", slog.String("error", err.Error()))

				if err := w.backoffDelay(ctx); err != nil {
					return err
				}
				continue
			}
		}
	}
}

func (w *Worker) connectAndRun(ctx context.Context) error {
	if err := w.wsClient.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() {
		if err := w.wsClient.Close(); err != nil {
			w.logger.Error("error closing websocket", slog.String("error", err.Error()))
		}
	}()

	w.setConnected(true)
	defer w.setConnected(false)

	w.sendCommand(ctx, &Command{
		Type: CommandTypeRegister,
		Data: map[string]any{
			"agent":   w.agentName,
			"version": version.Version,
		},
	})

	readCtx, readCancel := context.WithCancel(ctx)
	defer readCancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := w.readSignals(readCtx); err != nil {
			errCh <- fmt.Errorf("read signals: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := w.writeCommands(readCtx); err != nil {
			errCh <- fmt.Errorf("write commands: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.processSignals(readCtx)
	}()

	select {
	case err := <-errCh:
		readCancel()
		wg.Wait()
		return err
	case <-w.stop:
		readCancel()
		wg.Wait()
		return nil
	case <-ctx.Done():
		readCancel()
		wg.Wait()
		return nil
	}
}

func (w *Worker) readSignals(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			signal, err := w.wsClient.ReadSignal(ctx)
			if err != nil {
				return err
			}

			select {
			case w.in <- signal:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (w *Worker) writeCommands(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-w.out:
			if err := w.wsClient.WriteCommand(ctx, cmd); err != nil {
				return err
			}
		}
	}
}

func (w *Worker) processSignals(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case signal := <-w.in:
			w.handleSignal(ctx, signal)
		}
	}
}

func (w *Worker) handleSignal(ctx context.Context, signal *Signal) {
	w.logger.Debug("processing signal", slog.String("type", signal.Type))

	switch signal.Type {
	case SignalTypePing:
		w.sendCommand(ctx, &Command{Type: SignalTypePong, Data: signal.Data})

	case SignalTypeStartJob:
		job, err := parseJob(signal.Data)
		if err != nil {
			w.logger.Warn("rejecting malformed job", slog.String("error", err.Error()))
			return
		}
		w.launchJob(ctx, job)

	case SignalTypeShutdown:
		w.logger.Info("server requested shutdown")
		w.stopOnce.Do(func() { close(w.stop) })

	default:
		w.logger.Warn("unknown signal type", slog.String("type", signal.Type))
	}
}

// launchJob runs the handler in its own goroutine and reports lifecycle
// status back to the server.
func (w *Worker) launchJob(ctx context.Context, job Job) {
	w.logger.Info("starting job",
		slog.String("job_id", job.ID),
		slog.String("room", job.Room))

	w.sendCommand(ctx, &Command{
		Type: CommandTypeJobStarted,
		Data: map[string]any{"job_id": job.ID, "room": job.Room},
	})

	// Jobs outlive the signaling connection: a reconnect must not kill
	// sessions in flight.
	w.mu.RLock()
	jobCtx := w.runCtx
	w.mu.RUnlock()
	if jobCtx == nil {
		jobCtx = ctx
	}

	w.jobs.Add(1)
	go func() {
		defer w.jobs.Done()

		data := map[string]any{"job_id": job.ID, "room": job.Room}
		if err := w.handler(jobCtx, job); err != nil {
			w.logger.Error("job failed",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()))
			data["error"] = err.Error()
		}

		w.sendCommand(ctx, &Command{Type: CommandTypeJobFinished, Data: data})
	}()
}

func parseJob(data map[string]any) (Job, error) {
	job := Job{}
	if id, ok := data["job_id"].(string); ok {
		job.ID = id
	}
	if room, ok := data["room"].(string); ok {
		job.Room = room
	}
	if token, ok := data["token"].(string); ok {
		job.Token = token
	}

	if job.Room == "" {
		return Job{}, fmt.Errorf("job has no room")
	}
	if job.ID == "" {
		return Job{}, fmt.Errorf("job has no job_id")
	}
	return job, nil
}

func (w *Worker) sendCommand(ctx context.Context, cmd *Command) {
	select {
	case w.out <- cmd:
	case <-ctx.Done():
	default:
		w.logger.Warn("command buffer full, dropping", slog.String("type", cmd.Type))
	}
}

func (w *Worker) backoffDelay(ctx context.Context) error {
	w.mu.Lock()
	w.backoffAttempt++
	attempt := w.backoffAttempt
	w.mu.Unlock()

	// Exponential backoff: 1s, 2s, 4s, 8s, capped at 10s.
	delay := time.Duration(math.Min(math.Pow(2, float64(attempt-1)), 10)) * time.Second

	w.logger.Info("reconnecting with backoff",
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay))

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) setConnected(connected bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if connected && !w.connected {
		w.backoffAttempt = 0
		w.logger.Info("worker connected")
	}

	w.connected = connected
}

func (w *Worker) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

// shutdown waits for running jobs before closing the connection.
func (w *Worker) shutdown() error {
	w.logger.Info("shutting down worker")

	w.jobs.Wait()

	if err := w.wsClient.Close(); err != nil {
		w.logger.Error("error closing websocket", slog.String("error", err.Error()))
		return err
	}

	w.logger.Info("worker shutdown complete")
	return nil
}
