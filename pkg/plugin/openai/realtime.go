package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicebridge/voicebridge/pkg/ai/llm"
	"github.com/voicebridge/voicebridge/pkg/ai/realtime"
	"github.com/voicebridge/voicebridge/pkg/rtc"
)

const (
	realtimeEndpoint     = "wss://api.openai.com/v1/realtime"
	defaultRealtimeModel = "gpt-4o-realtime-preview"
	defaultRealtimeVoice = "alloy"
)

// RealtimeModel is a speech-to-speech backend over the OpenAI Realtime
// websocket API. Audio flows as 24 kHz 16-bit mono PCM in both directions;
// voice activity and turn taking run server side.
type RealtimeModel struct {
	apiKey   string
	model    string
	endpoint string
	logger   *slog.Logger
}

// RealtimeConfig configures the realtime model.
type RealtimeConfig struct {
	APIKey string
	Model  string

	// Endpoint overrides the production websocket URL, for tests.
	Endpoint string

	Logger *slog.Logger
}

// NewRealtimeModel creates a realtime model backend.
func NewRealtimeModel(cfg RealtimeConfig) (*RealtimeModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = defaultRealtimeModel
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = realtimeEndpoint
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RealtimeModel{apiKey: cfg.APIKey, model: model, endpoint: endpoint, logger: logger}, nil
}

// Connect dials the realtime endpoint and configures the session.
func (m *RealtimeModel) Connect(ctx context.Context, cfg realtime.SessionConfig) (realtime.Session, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+m.apiKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, m.endpoint+"?model="+m.model, header)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing realtime endpoint: %v", realtime.ErrRecoverable, err)
	}

	voice := cfg.Voice
	if voice == "" {
		voice = defaultRealtimeVoice
	}

	s := &realtimeSession{
		conn:   conn,
		logger: m.logger,
		events: make(chan realtime.Event, 64),
	}

	update := map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"modalities":          []string{"audio", "text"},
			"instructions":        cfg.Instructions,
			"voice":               voice,
			"input_audio_format":  "pcm16",
			"output_audio_format": "pcm16",
			"input_audio_transcription": map[string]any{
				"model": "whisper-1",
			},
			"turn_detection": map[string]any{
				"type": "server_vad",
			},
			"tools": realtimeTools(cfg.Tools),
		},
	}
	if err := s.writeJSON(update); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: configuring session: %v", realtime.ErrRecoverable, err)
	}

	go s.readLoop()
	return s, nil
}

// Capabilities returns the provider's capabilities.
func (m *RealtimeModel) Capabilities() realtime.Capabilities {
	return realtime.Capabilities{
		SupportsTools:      true,
		SampleRate:         ttsSampleRate,
		Voices:             []string{"alloy", "echo", "shimmer"},
		SupportedLanguages: []string{"en", "es", "fr", "de", "ja", "zh"},
	}
}

// realtimeTools converts function definitions to the wire tool format.
func realtimeTools(defs []llm.FunctionDefinition) []map[string]any {
	tools := make([]map[string]any, 0, len(defs))
	for _, def := range defs {
		tools = append(tools, map[string]any{
			"type":        "function",
			"name":        def.Name,
			"description": def.Description,
			"parameters":  def.Parameters,
		})
	}
	return tools
}

type realtimeSession struct {
	conn   *websocket.Conn
	logger *slog.Logger
	events chan realtime.Event

	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool

	// Reply audio arrives in arbitrarily sized deltas; tail holds the
	// remainder below one frame until the next delta or response end.
	tail      []byte
	timestamp time.Duration
}

// serverEvent is the decoded shape of inbound protocol messages. Only the
// fields this session reads are declared.
type serverEvent struct {
	Type       string `json:"type"`
	Delta      string `json:"delta,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	CallID     string `json:"call_id,omitempty"`
	Name       string `json:"name,omitempty"`
	Arguments  string `json:"arguments,omitempty"`
	Error      *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (s *realtimeSession) PushAudio(frame rtc.AudioFrame) error {
	if s.isClosed() {
		return fmt.Errorf("session closed")
	}
	return s.writeJSON(map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(frame.Data),
	})
}

func (s *realtimeSession) Events() <-chan realtime.Event {
	return s.events
}

func (s *realtimeSession) SendToolResult(ctx context.Context, callID, output string) error {
	if s.isClosed() {
		return fmt.Errorf("session closed")
	}
	return s.writeJSON(map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type":    "function_call_output",
			"call_id": callID,
			"output":  output,
		},
	})
}

func (s *realtimeSession) CreateResponse(ctx context.Context, instructions string) error {
	if s.isClosed() {
		return fmt.Errorf("session closed")
	}
	response := map[string]any{}
	if instructions != "" {
		response["instructions"] = instructions
	}
	return s.writeJSON(map[string]any{
		"type":     "response.create",
		"response": response,
	})
}

func (s *realtimeSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.conn.Close()
}

func (s *realtimeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *realtimeSession) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *realtimeSession) readLoop() {
	defer close(s.events)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.isClosed() {
				s.sendEvent(realtime.Event{
					Type:  realtime.EventError,
					Error: fmt.Errorf("%w: reading realtime message: %v", realtime.ErrRecoverable, err),
				})
			}
			return
		}

		var event serverEvent
		if err := json.Unmarshal(data, &event); err != nil {
			s.logger.Warn("undecodable realtime message", "error", err)
			continue
		}
		s.handleServerEvent(event)
	}
}

func (s *realtimeSession) handleServerEvent(event serverEvent) {
	switch event.Type {
	case "response.audio.delta":
		pcm, err := base64.StdEncoding.DecodeString(event.Delta)
		if err != nil {
			s.logger.Warn("undecodable audio delta", "error", err)
			return
		}
		s.emitAudio(pcm)

	case "response.audio.done":
		s.flushAudio()

	case "response.audio_transcript.done":
		s.sendEvent(realtime.Event{Type: realtime.EventTranscript, Text: event.Transcript})

	case "conversation.item.input_audio_transcription.completed":
		s.sendEvent(realtime.Event{Type: realtime.EventInputTranscript, Text: event.Transcript})

	case "response.function_call_arguments.done":
		s.sendEvent(realtime.Event{Type: realtime.EventToolCall, Call: &realtime.ToolCall{
			CallID:    event.CallID,
			Name:      event.Name,
			Arguments: event.Arguments,
		}})

	case "input_audio_buffer.speech_started":
		s.sendEvent(realtime.Event{Type: realtime.EventInterrupted})

	case "response.done":
		s.flushAudio()
		s.sendEvent(realtime.Event{Type: realtime.EventResponseDone})

	case "error":
		message := "realtime error"
		if event.Error != nil {
			message = event.Error.Message
		}
		s.sendEvent(realtime.Event{
			Type:  realtime.EventError,
			Error: fmt.Errorf("%w: %s", realtime.ErrRecoverable, message),
		})
	}
}

// emitAudio repackages delta PCM into 10 ms frames, holding any remainder
// until more audio arrives.
func (s *realtimeSession) emitAudio(pcm []byte) {
	s.mu.Lock()
	buffered := append(s.tail, pcm...)
	var frames [][]byte
	for len(buffered) >= ttsFrameBytes {
		frames = append(frames, buffered[:ttsFrameBytes:ttsFrameBytes])
		buffered = buffered[ttsFrameBytes:]
	}
	s.tail = append([]byte(nil), buffered...)
	timestamp := s.timestamp
	s.timestamp += time.Duration(len(frames)) * 10 * time.Millisecond
	s.mu.Unlock()

	for i, data := range frames {
		s.sendEvent(realtime.Event{Type: realtime.EventAudio, Frame: rtc.AudioFrame{
			Data:              data,
			SampleRate:        ttsSampleRate,
			SamplesPerChannel: ttsSampleRate / 100,
			NumChannels:       1,
			Timestamp:         timestamp + time.Duration(i)*10*time.Millisecond,
		}})
	}
}

// flushAudio pads and emits the remainder below one frame.
func (s *realtimeSession) flushAudio() {
	s.mu.Lock()
	if len(s.tail) == 0 {
		s.mu.Unlock()
		return
	}
	data := make([]byte, ttsFrameBytes)
	copy(data, s.tail)
	s.tail = nil
	timestamp := s.timestamp
	s.timestamp += 10 * time.Millisecond
	s.mu.Unlock()

	s.sendEvent(realtime.Event{Type: realtime.EventAudio, Frame: rtc.AudioFrame{
		Data:              data,
		SampleRate:        ttsSampleRate,
		SamplesPerChannel: ttsSampleRate / 100,
		NumChannels:       1,
		Timestamp:         timestamp,
	}})
}

func (s *realtimeSession) sendEvent(event realtime.Event) {
	select {
	case s.events <- event:
	default:
		s.logger.Warn("realtime event channel full, dropping event", "type", int(event.Type))
	}
}
