package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/voicebridge/voicebridge/pkg/ai"
	"github.com/voicebridge/voicebridge/pkg/ai/llm"
	"github.com/voicebridge/voicebridge/pkg/ai/realtime"
	"github.com/voicebridge/voicebridge/pkg/rtc"
	"github.com/voicebridge/voicebridge/pkg/tool"
)

// RealtimeControllerConfig holds the backend and channels for a
// RealtimeController.
type RealtimeControllerConfig struct {
	Model realtime.Model
	Tools *tool.Dispatcher

	MicIn    <-chan rtc.AudioFrame
	AudioOut chan<- rtc.AudioFrame

	// SystemPrompt seeds the model session.
	SystemPrompt string

	// GreetingInstructions, when set, steer the first response the model
	// produces after the session opens.
	GreetingInstructions string

	Voice    string
	Language string

	Logger *slog.Logger
}

// RealtimeController drives the conversation through a combined
// speech-to-speech model. Voice activity, transcription, and turn taking
// happen on the model side; this loop pumps audio both ways and services
// tool calls.
type RealtimeController struct {
	model  realtime.Model
	tools  *tool.Dispatcher
	logger *slog.Logger

	micIn    <-chan rtc.AudioFrame
	audioOut chan<- rtc.AudioFrame

	systemPrompt string
	greeting     string
	voice        string
	language     string

	state atomic.Int32

	shutdown     chan struct{}
	shutdownOnce sync.Once

	historyMu sync.Mutex
	history   []llm.Message
}

// NewRealtimeController creates a controller from the given configuration.
func NewRealtimeController(cfg RealtimeControllerConfig) (*RealtimeController, error) {
	if cfg.Model == nil {
		return nil, fmt.Errorf("realtime model is required")
	}
	if cfg.MicIn == nil {
		return nil, fmt.Errorf("MicIn channel is required")
	}
	if cfg.AudioOut == nil {
		return nil, fmt.Errorf("AudioOut channel is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &RealtimeController{
		model:        cfg.Model,
		tools:        cfg.Tools,
		logger:       logger,
		micIn:        cfg.MicIn,
		audioOut:     cfg.AudioOut,
		systemPrompt: cfg.SystemPrompt,
		greeting:     cfg.GreetingInstructions,
		voice:        cfg.Voice,
		language:     cfg.Language,
		shutdown:     make(chan struct{}),
	}
	c.state.Store(int32(StateIdle))
	return c, nil
}

// Start opens the model session and runs the event loop. It returns when
// the context is canceled, Close is called, or the session fails.
func (c *RealtimeController) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.setState(StateEnded)

	var definitions []llm.FunctionDefinition
	if c.tools != nil {
		definitions = c.tools.Definitions()
	}

	sess, err := c.model.Connect(ctx, realtime.SessionConfig{
		Instructions: c.systemPrompt,
		Voice:        c.voice,
		Language:     c.language,
		Tools:        definitions,
	})
	if err != nil {
		return fmt.Errorf("connecting realtime session: %w", err)
	}
	defer sess.Close()

	c.setState(StateListening)

	if c.greeting != "" {
		if err := sess.CreateResponse(ctx, c.greeting); err != nil {
			c.logger.Warn("greeting request failed, skipping", "error", err)
		}
	}

	go c.pumpAudio(ctx, sess)

	return c.run(ctx, sess)
}

// Close shuts the loop down.
func (c *RealtimeController) Close() error {
	c.shutdownOnce.Do(func() {
		close(c.shutdown)
	})
	return nil
}

// GetState returns the current session state.
func (c *RealtimeController) GetState() State {
	return State(c.state.Load())
}

// History returns a snapshot of the transcribed conversation so far.
func (c *RealtimeController) History() []llm.Message {
	c.historyMu.Lock()
	defer c.historyMu.Unlock()
	out := make([]llm.Message, len(c.history))
	copy(out, c.history)
	return out
}

func (c *RealtimeController) setState(newState State) {
	oldState := State(c.state.Swap(int32(newState)))
	if oldState != newState {
		c.logger.Debug("state transition", "from", oldState.String(), "to", newState.String())
	}
}

// pumpAudio feeds mic frames to the model. The model runs its own voice
// activity detection, so every frame goes through.
func (c *RealtimeController) pumpAudio(ctx context.Context, sess realtime.Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case frame, ok := <-c.micIn:
			if !ok {
				return
			}
			if err := sess.PushAudio(frame); err != nil {
				c.logger.Warn("pushing audio failed", "error", err)
				return
			}
		}
	}
}

func (c *RealtimeController) run(ctx context.Context, sess realtime.Session) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.shutdown:
			return nil
		case event, ok := <-sess.Events():
			if !ok {
				return nil
			}
			if err := c.handleEvent(ctx, sess, event); err != nil {
				return err
			}
		}
	}
}

func (c *RealtimeController) handleEvent(ctx context.Context, sess realtime.Session, event realtime.Event) error {
	switch event.Type {
	case realtime.EventAudio:
		c.setState(StateSpeaking)
		select {
		case c.audioOut <- event.Frame:
		case <-c.shutdown:
		case <-ctx.Done():
		}

	case realtime.EventResponseDone:
		c.setState(StateListening)

	case realtime.EventInterrupted:
		// The model stops its own playback on barge-in; mirror the state.
		c.setState(StateListening)

	case realtime.EventTranscript:
		c.appendMessage(llm.Message{Role: llm.RoleAssistant, Content: event.Text})

	case realtime.EventInputTranscript:
		c.appendMessage(llm.Message{Role: llm.RoleUser, Content: event.Text})

	case realtime.EventToolCall:
		return c.handleToolCall(ctx, sess, event.Call)

	case realtime.EventError:
		if ai.IsFatal(event.Error) {
			return fmt.Errorf("realtime session failed: %w", event.Error)
		}
		c.logger.Warn("realtime session error", "error", event.Error)
	}
	return nil
}

// handleToolCall dispatches the tool and folds the result back into the
// conversation so the model can speak it.
func (c *RealtimeController) handleToolCall(ctx context.Context, sess realtime.Session, call *realtime.ToolCall) error {
	if call == nil {
		return nil
	}
	c.setState(StateInferring)

	invocation := &llm.FunctionCall{ID: call.CallID, Name: call.Name, Arguments: call.Arguments}
	c.appendMessage(llm.Message{Role: llm.RoleAssistant, FunctionCall: invocation})

	var result string
	if c.tools != nil {
		result = c.tools.Dispatch(ctx, call.Name, call.Arguments)
	} else {
		result = fmt.Sprintf("The tool %q is not available.", call.Name)
	}
	c.appendMessage(llm.FunctionResult(invocation, result))

	if err := sess.SendToolResult(ctx, call.CallID, result); err != nil {
		c.logger.Warn("sending tool result failed", "error", err)
		c.setState(StateListening)
		return nil
	}
	if err := sess.CreateResponse(ctx, ""); err != nil {
		c.logger.Warn("response request after tool call failed", "error", err)
		c.setState(StateListening)
	}
	return nil
}

func (c *RealtimeController) appendMessage(msg llm.Message) {
	c.historyMu.Lock()
	defer c.historyMu.Unlock()
	c.history = append(c.history, msg)
}
