// Package assemblyai provides speech-to-text over the AssemblyAI
// realtime websocket API.
package assemblyai

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicebridge/voicebridge/pkg/ai/stt"
	"github.com/voicebridge/voicebridge/pkg/plugin"
	"github.com/voicebridge/voicebridge/pkg/rtc"
)

const realtimeEndpoint = "wss://api.assemblyai.com/v2/realtime/ws"

// RealtimeSTT implements streaming speech-to-text with interim results.
type RealtimeSTT struct {
	apiKey string
	logger *slog.Logger
}

// Config holds configuration for the realtime provider.
type Config struct {
	APIKey string
}

// NewRealtimeSTT creates an AssemblyAI realtime STT provider.
func NewRealtimeSTT(cfg Config) (*RealtimeSTT, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("AssemblyAI API key is required")
	}
	return &RealtimeSTT{
		apiKey: cfg.APIKey,
		logger: slog.Default().With("component", "assemblyai-stt"),
	}, nil
}

// NewStream opens a realtime websocket session.
func (r *RealtimeSTT) NewStream(ctx context.Context, cfg stt.StreamConfig) (stt.Stream, error) {
	sampleRate := cfg.SampleRate
	if sampleRate == 0 {
		sampleRate = 16000
	}

	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	header := http.Header{}
	header.Set("Authorization", r.apiKey)

	url := fmt.Sprintf("%s?sample_rate=%d", realtimeEndpoint, sampleRate)
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("%w: connecting realtime session: %v", stt.ErrRecoverable, err)
	}

	s := &realtimeStream{
		conn:     conn,
		ctx:      ctx,
		language: cfg.Language,
		logger:   r.logger,
		events:   make(chan stt.SpeechEvent, 10),
	}

	go s.readLoop()
	return s, nil
}

// Capabilities reports true streaming with interim transcripts.
func (r *RealtimeSTT) Capabilities() stt.Capabilities {
	return stt.Capabilities{
		Streaming:          true,
		InterimResults:     true,
		SupportedLanguages: []string{"en"},
		SampleRates:        []int{8000, 16000, 22050, 44100, 48000},
	}
}

type realtimeStream struct {
	conn     *websocket.Conn
	ctx      context.Context
	language string
	logger   *slog.Logger
	events   chan stt.SpeechEvent

	writeMu sync.Mutex
	closed  bool
}

// serverMessage is the subset of realtime message fields the stream uses.
type serverMessage struct {
	MessageType string `json:"message_type"`
	Text        string `json:"text"`
	Error       string `json:"error"`
}

func (s *realtimeStream) Push(frame rtc.AudioFrame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed {
		return fmt.Errorf("stream is closed")
	}

	payload := map[string]string{
		"audio_data": base64.StdEncoding.EncodeToString(frame.Data),
	}
	if err := s.conn.WriteJSON(payload); err != nil {
		return fmt.Errorf("%w: sending audio: %v", stt.ErrRecoverable, err)
	}
	return nil
}

func (s *realtimeStream) Events() <-chan stt.SpeechEvent {
	return s.events
}

// CloseSend asks the server to finalize; the read loop closes the event
// channel once the session terminates.
func (s *realtimeStream) CloseSend() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed {
		return fmt.Errorf("stream already closed")
	}
	s.closed = true

	if err := s.conn.WriteJSON(map[string]bool{"terminate_session": true}); err != nil {
		return fmt.Errorf("terminating session: %w", err)
	}
	return nil
}

func (s *realtimeStream) readLoop() {
	defer close(s.events)
	defer s.conn.Close()

	for {
		var msg serverMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if s.ctx.Err() != nil || s.isClosed() {
				return
			}
			s.sendEvent(stt.SpeechEvent{
				Type:      stt.SpeechEventError,
				Error:     fmt.Errorf("%w: reading transcript: %v", stt.ErrRecoverable, err),
				Timestamp: time.Now().UnixMilli(),
			})
			return
		}

		switch msg.MessageType {
		case "PartialTranscript":
			if msg.Text != "" {
				s.sendEvent(stt.SpeechEvent{
					Type:      stt.SpeechEventInterim,
					Text:      msg.Text,
					Language:  s.language,
					Timestamp: time.Now().UnixMilli(),
				})
			}
		case "FinalTranscript":
			s.sendEvent(stt.SpeechEvent{
				Type:      stt.SpeechEventFinal,
				Text:      msg.Text,
				IsFinal:   true,
				Language:  s.language,
				Timestamp: time.Now().UnixMilli(),
			})
		case "SessionTerminated":
			return
		case "SessionBegins":
			s.logger.Debug("realtime session started")
		default:
			if msg.Error != "" {
				s.sendEvent(stt.SpeechEvent{
					Type:      stt.SpeechEventError,
					Error:     fmt.Errorf("%w: %s", stt.ErrRecoverable, msg.Error),
					Timestamp: time.Now().UnixMilli(),
				})
			}
		}
	}
}

func (s *realtimeStream) isClosed() bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.closed
}

func (s *realtimeStream) sendEvent(event stt.SpeechEvent) {
	select {
	case s.events <- event:
	case <-s.ctx.Done():
	}
}

func newSTT(cfg map[string]any) (any, error) {
	apiKey, _ := cfg["api_key"].(string)
	if apiKey == "" {
		apiKey = os.Getenv("ASSEMBLYAI_API_KEY")
	}
	return NewRealtimeSTT(Config{APIKey: apiKey})
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindSTT,
		Name:        "assemblyai",
		Factory:     newSTT,
		Description: "AssemblyAI realtime speech-to-text",
		Version:     "1.0.0",
	})
}
