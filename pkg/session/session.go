package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	"github.com/pion/webrtc/v4"

	"github.com/voicebridge/voicebridge/pkg/room"
	"github.com/voicebridge/voicebridge/pkg/rtc"
	"github.com/voicebridge/voicebridge/pkg/tool"
)

// DOMElementsMethod is the inbound RPC method clients use to push DOM
// element descriptors to the agent.
const DOMElementsMethod = "dom_elements"

const diagnosticTimeout = 10 * time.Second

// voiceTrackName labels the published speech track.
const voiceTrackName = "assistant-voice"

// conversationLoop is the common surface of the pipeline and realtime
// controllers.
type conversationLoop interface {
	Start(ctx context.Context) error
	Close() error
	GetState() State
}

// Session is a running voice session: a connected room, its RPC bridge,
// and the conversation controller.
type Session struct {
	cfg        Config
	logger     *slog.Logger
	rm         *room.Room
	controller conversationLoop
	tools      *tool.Dispatcher

	// Noise cancellation profile selected for the first participant.
	ncProfile NoiseCancellationProfile

	// state covers the lifecycle before the controller exists.
	state atomic.Int32

	micIn  chan rtc.AudioFrame
	ttsOut chan rtc.AudioFrame

	done chan struct{}

	errMu  sync.Mutex
	runErr error

	hooksMu       sync.Mutex
	shutdownHooks []func()

	closeOnce sync.Once
	cancel    context.CancelFunc
}

// Start connects to the room, waits for a participant, assembles the
// pipeline, and launches the conversation loop. Connection failures and a
// participant wait timeout are fatal; the diagnostic RPC is not.
func Start(ctx context.Context, cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := slog.Default().With("room", cfg.LiveKit.Room, "identity", cfg.Agent.Identity)

	token := cfg.LiveKit.Token
	if token == "" {
		var err error
		token, err = MintToken(cfg)
		if err != nil {
			return nil, err
		}
	}

	rm, err := room.Connect(ctx, room.Config{
		URL:      cfg.LiveKit.URL,
		Token:    token,
		RoomName: cfg.LiveKit.Room,
		Identity: cfg.Agent.Identity,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", room.ErrConnection, err)
	}

	s := newSession(cfg, logger, rm)

	participant, err := rm.WaitForParticipant(ctx, cfg.Agent.WaitForParticipant)
	if err != nil {
		rm.Disconnect()
		return nil, err
	}
	s.ncProfile = NoiseCancellationFor(participant.Kind)
	logger.Info("participant joined",
		"participant", participant.Identity,
		"kind", participant.Kind.String(),
		"noise_cancellation", string(s.ncProfile))

	s.tools = tool.NewDispatcher(logger)
	if err := s.tools.Register(tool.SendGreeting(rm.Bridge())); err != nil {
		rm.Disconnect()
		return nil, err
	}

	if err := rm.Bridge().RegisterHandler(DOMElementsMethod, handleDOMElements(logger)); err != nil {
		rm.Disconnect()
		return nil, err
	}

	// Startup check of the client RPC path. A failure here is informative,
	// not fatal.
	s.runDiagnostic(ctx, participant)

	if cfg.Pipeline.Realtime.Provider != "" {
		model, err := buildRealtime(cfg.Pipeline.Realtime)
		if err != nil {
			rm.Disconnect()
			return nil, err
		}
		s.controller, err = NewRealtimeController(RealtimeControllerConfig{
			Model:                model,
			Tools:                s.tools,
			MicIn:                s.micIn,
			AudioOut:             s.ttsOut,
			SystemPrompt:         cfg.Agent.SystemPrompt,
			GreetingInstructions: cfg.Agent.Greeting,
			Voice:                cfg.Pipeline.Realtime.Voice,
			Language:             cfg.Pipeline.Language,
			Logger:               logger,
		})
		if err != nil {
			rm.Disconnect()
			return nil, err
		}
	} else {
		pipe, err := buildPipeline(cfg.Pipeline, logger)
		if err != nil {
			rm.Disconnect()
			return nil, err
		}
		s.controller, err = NewController(ControllerConfig{
			STT:                  pipe.stt,
			TTS:                  pipe.tts,
			LLM:                  pipe.llm,
			VAD:                  pipe.vad,
			TurnDetector:         pipe.detector,
			Tools:                s.tools,
			MicIn:                s.micIn,
			TTSOut:               s.ttsOut,
			SystemPrompt:         cfg.Agent.SystemPrompt,
			GreetingInstructions: cfg.Agent.Greeting,
			Language:             cfg.Pipeline.Language,
			Logger:               logger,
		})
		if err != nil {
			rm.Disconnect()
			return nil, err
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go s.watchRoom(runCtx)
	go s.publishSpeech(runCtx)
	go func() {
		defer close(s.done)
		err := s.controller.Start(runCtx)
		if err != nil && runCtx.Err() == nil {
			s.setErr(err)
		}
	}()

	return s, nil
}

// Room returns the underlying room connection.
func (s *Session) Room() *room.Room {
	return s.rm
}

// NoiseCancellation returns the profile selected for this session.
func (s *Session) NoiseCancellation() NoiseCancellationProfile {
	return s.ncProfile
}

// newSession builds the session shell. The participant wait that follows
// is the first observable lifecycle stage.
func newSession(cfg Config, logger *slog.Logger, rm *room.Room) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		cfg:    cfg,
		logger: logger,
		rm:     rm,
		micIn:  make(chan rtc.AudioFrame, 64),
		ttsOut: make(chan rtc.AudioFrame, 64),
		done:   make(chan struct{}),
	}
	s.state.Store(int32(StateAwaitingParticipant))
	return s
}

// State reports the session lifecycle: AwaitingParticipant until the first
// remote participant arrives, then the conversation loop's state.
func (s *Session) State() State {
	if s.controller != nil {
		return s.controller.GetState()
	}
	return State(s.state.Load())
}

// PushAudio feeds a mic frame into the pipeline. Frames are dropped when
// the pipeline is backed up so the track reader never blocks.
func (s *Session) PushAudio(frame rtc.AudioFrame) bool {
	select {
	case s.micIn <- frame:
		return true
	case <-s.done:
		return false
	default:
		return false
	}
}

// OnShutdown registers a hook that runs when the session closes. Hooks run
// in reverse registration order.
func (s *Session) OnShutdown(hook func()) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.shutdownHooks = append(s.shutdownHooks, hook)
}

// Wait blocks until the conversation loop exits and returns its error.
func (s *Session) Wait() error {
	<-s.done
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.runErr
}

// Close shuts the session down and disconnects from the room. Safe to call
// more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.controller.Close()
		if s.cancel != nil {
			s.cancel()
		}
		<-s.done
		s.rm.Disconnect()

		s.hooksMu.Lock()
		hooks := s.shutdownHooks
		s.shutdownHooks = nil
		s.hooksMu.Unlock()
		for i := len(hooks) - 1; i >= 0; i-- {
			hooks[i]()
		}
		s.logger.Info("session closed")
	})
}

func (s *Session) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.runErr == nil {
		s.runErr = err
	}
}

// watchRoom reacts to room lifecycle events while the session runs.
func (s *Session) watchRoom(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-s.rm.Events():
			if !ok {
				return
			}
			switch event.Type {
			case room.EventTrackSubscribed:
				if event.Track != nil {
					go s.readMicTrack(ctx, event.Track)
				}
			case room.EventParticipantDisconnected:
				if len(s.rm.Registry().ListRemote()) == 0 {
					s.logger.Info("last participant left")
				}
			case room.EventConnectionStateChanged:
				if event.State == room.ConnectionDisconnected {
					s.setErr(fmt.Errorf("%w: room connection lost", room.ErrConnection))
					s.controller.Close()
					return
				}
			}
		}
	}
}

// frameWriter publishes synthesized frames to the room.
type frameWriter interface {
	WriteFrame(frame rtc.AudioFrame) error
}

// frameSource yields decoded mic frames from a room track.
type frameSource interface {
	ReadFrame() (rtc.AudioFrame, error)
}

// publishSpeech publishes the voice track and streams synthesized frames
// to it for the life of the session.
func (s *Session) publishSpeech(ctx context.Context) {
	var writer frameWriter
	if w, err := s.rm.NewAudioWriter(voiceTrackName); err != nil {
		s.logger.Warn("publishing voice track failed, discarding speech", "error", err)
	} else {
		writer = w
	}
	s.pumpSpeech(ctx, writer)
}

// pumpSpeech drains synthesized frames so the controller never blocks on
// playback, writing them to the room while a track is up.
func (s *Session) pumpSpeech(ctx context.Context, writer frameWriter) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-s.ttsOut:
			if !ok {
				return
			}
			if writer == nil {
				continue
			}
			if err := writer.WriteFrame(frame); err != nil {
				s.logger.Warn("writing speech frame failed, discarding speech", "error", err)
				writer = nil
			}
		}
	}
}

// readMicTrack decodes a subscribed audio track and feeds the pipeline.
func (s *Session) readMicTrack(ctx context.Context, track *webrtc.TrackRemote) {
	reader, err := room.NewAudioReader(track)
	if err != nil {
		s.logger.Warn("opening subscribed audio track failed", "error", err)
		return
	}
	s.readFrames(ctx, reader)
}

func (s *Session) readFrames(ctx context.Context, src frameSource) {
	for ctx.Err() == nil {
		frame, err := src.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Warn("reading audio track failed", "error", err)
			}
			return
		}
		s.PushAudio(frame)
	}
}

// runDiagnostic performs one outbound call to the client greet method to
// validate the RPC path end to end.
func (s *Session) runDiagnostic(ctx context.Context, target room.Participant) {
	payload, err := json.Marshal(map[string]any{
		"message": "Direct test from agent startup",
		"test":    true,
	})
	if err != nil {
		return
	}

	result := s.rm.Bridge().Call(ctx, room.ByIdentity(target.Identity), tool.GreetMethod, string(payload), diagnosticTimeout)
	if result.OK() {
		s.logger.Info("startup rpc check succeeded", "response", result.Payload)
	} else {
		s.logger.Warn("startup rpc check failed",
			"status", result.Status.String(),
			"message", result.Message)
	}
}

// domElement is one descriptor pushed by the client frontend.
type domElement struct {
	Tag  string `json:"tag"`
	ID   string `json:"id,omitempty"`
	Text string `json:"text,omitempty"`
}

// handleDOMElements accepts DOM element descriptors from the client. The
// payload is either an array of descriptors or a single descriptor object.
func handleDOMElements(logger *slog.Logger) room.Handler {
	return func(ctx context.Context, caller string, payload json.RawMessage) (any, error) {
		var elements []domElement
		if err := json.Unmarshal(payload, &elements); err != nil {
			var single domElement
			if err2 := json.Unmarshal(payload, &single); err2 != nil {
				return nil, fmt.Errorf("parsing dom elements: %v", err)
			}
			elements = []domElement{single}
		}

		logger.Info("received dom elements", "caller", caller, "count", len(elements))
		return room.HandlerResponse{
			Success: true,
			Message: fmt.Sprintf("received %d elements", len(elements)),
		}, nil
	}
}

// MintToken creates the room join token for the agent identity.
func MintToken(cfg Config) (string, error) {
	if cfg.LiveKit.APIKey == "" || cfg.LiveKit.APISecret == "" {
		return "", fmt.Errorf("livekit api key and secret are required")
	}

	at := auth.NewAccessToken(cfg.LiveKit.APIKey, cfg.LiveKit.APISecret)
	grant := &auth.VideoGrant{
		RoomJoin: true,
		Room:     cfg.LiveKit.Room,
	}
	at.SetVideoGrant(grant).
		SetIdentity(cfg.Agent.Identity).
		SetKind(livekit.ParticipantInfo_AGENT).
		SetValidFor(6 * time.Hour)
	return at.ToJWT()
}
