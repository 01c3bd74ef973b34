// Package openai provides OpenAI-backed speech-to-text, text-to-speech
// and chat completion providers.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/voicebridge/voicebridge/pkg/ai/stt"
	"github.com/voicebridge/voicebridge/pkg/audio/wav"
	"github.com/voicebridge/voicebridge/pkg/rtc"
)

// Whisper has no streaming endpoint, so buffered audio is shipped in
// batches at this interval while a stream is open.
const batchInterval = 3 * time.Second

// The transcription endpoint rejects clips shorter than 100ms.
const minClipDuration = 100 * time.Millisecond

// WhisperSTT implements speech-to-text using the OpenAI transcription API.
type WhisperSTT struct {
	client   *openai.Client
	model    string
	language string
	logger   *slog.Logger
}

// STTConfig holds configuration for the Whisper provider.
type STTConfig struct {
	APIKey   string
	Model    string // default whisper-1
	Language string // empty for auto-detect
}

// NewWhisperSTT creates a Whisper speech-to-text provider.
func NewWhisperSTT(cfg STTConfig) (*WhisperSTT, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}

	return &WhisperSTT{
		client:   openai.NewClient(cfg.APIKey),
		model:    model,
		language: cfg.Language,
		logger:   slog.Default().With("component", "whisper-stt"),
	}, nil
}

// NewStream creates a buffered recognition session.
func (w *WhisperSTT) NewStream(ctx context.Context, cfg stt.StreamConfig) (stt.Stream, error) {
	s := &whisperStream{
		provider: w,
		ctx:      ctx,
		config:   cfg,
		events:   make(chan stt.SpeechEvent, 10),
		done:     make(chan struct{}),
	}

	go s.processLoop()
	return s, nil
}

// Capabilities reports pseudo-streaming without interim results.
func (w *WhisperSTT) Capabilities() stt.Capabilities {
	return stt.Capabilities{
		Streaming:      true,
		InterimResults: false,
		SupportedLanguages: []string{
			"en", "zh", "de", "es", "ru", "ko", "fr", "ja", "pt", "tr", "pl", "ca", "nl",
			"ar", "sv", "it", "id", "hi", "fi", "vi", "he", "uk", "el", "ms", "cs", "ro",
			"da", "hu", "ta", "no", "th", "ur", "hr", "bg", "lt", "cy", "sk", "te", "fa",
			"lv", "bn", "sr", "az", "sl", "kn", "et", "mk", "eu", "is", "hy", "ne", "mn",
			"bs", "kk", "sq", "sw", "gl", "mr", "pa", "si", "km", "af", "ka", "be", "gu",
			"am", "lo", "uz", "ps", "mt", "lb", "my", "tl",
		},
		SampleRates: []int{16000, 22050, 44100, 48000},
	}
}

type whisperStream struct {
	provider *WhisperSTT
	ctx      context.Context
	config   stt.StreamConfig
	events   chan stt.SpeechEvent

	mu        sync.Mutex
	buffer    []rtc.AudioFrame
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
}

func (s *whisperStream) Push(frame rtc.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("stream is closed")
	}

	s.buffer = append(s.buffer, frame)
	return nil
}

func (s *whisperStream) Events() <-chan stt.SpeechEvent {
	return s.events
}

// CloseSend flushes any buffered audio as a final transcription.
func (s *whisperStream) CloseSend() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("stream already closed")
	}
	s.closed = true
	s.mu.Unlock()

	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *whisperStream) processLoop() {
	defer close(s.events)

	ticker := time.NewTicker(batchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.done:
			s.flush(true)
			return
		case <-ticker.C:
			s.flush(false)
		}
	}
}

// flush ships buffered audio to the transcription API. Interim flushes
// keep a couple of trailing frames so words spanning a batch boundary
// are not clipped.
func (s *whisperStream) flush(isFinal bool) {
	s.mu.Lock()
	if len(s.buffer) == 0 {
		s.mu.Unlock()
		if isFinal {
			s.sendFinal("", "")
		}
		return
	}

	frames := make([]rtc.AudioFrame, len(s.buffer))
	copy(frames, s.buffer)

	if isFinal {
		s.buffer = nil
	} else {
		const keep = 2
		if len(s.buffer) > keep {
			s.buffer = append(s.buffer[:0:0], s.buffer[len(s.buffer)-keep:]...)
		}
	}
	s.mu.Unlock()

	pcm, duration := combineFrames(frames)

	if duration < minClipDuration {
		if isFinal {
			s.sendFinal("", "")
		}
		return
	}

	wavData := wav.Encode(pcm, frames[0].SampleRate, frames[0].NumChannels)

	text, language, err := s.transcribe(wavData)
	if err != nil {
		s.provider.logger.Error("transcription failed", "error", err)
		s.sendError(fmt.Errorf("%w: %v", stt.ErrRecoverable, err))
		return
	}

	if isFinal || text != "" {
		s.sendFinal(text, language)
	}
}

// combineFrames concatenates frame payloads and sums their duration.
func combineFrames(frames []rtc.AudioFrame) ([]byte, time.Duration) {
	total := 0
	for _, f := range frames {
		total += len(f.Data)
	}

	pcm := make([]byte, 0, total)
	var duration time.Duration
	for _, f := range frames {
		pcm = append(pcm, f.Data...)
		duration += 10 * time.Millisecond
	}
	return pcm, duration
}

func (s *whisperStream) transcribe(wavData []byte) (string, string, error) {
	req := openai.AudioRequest{
		Model:    s.provider.model,
		Language: s.provider.language,
		Format:   openai.AudioResponseFormatJSON,
		Reader:   bytes.NewReader(wavData),
		FilePath: "audio.wav",
	}

	resp, err := s.provider.client.CreateTranscription(s.ctx, req)
	if err != nil {
		return "", "", fmt.Errorf("transcription request: %w", err)
	}

	s.provider.logger.Debug("transcription result", "text", resp.Text)
	return resp.Text, resp.Language, nil
}

func (s *whisperStream) sendFinal(text, language string) {
	event := stt.SpeechEvent{
		Type:      stt.SpeechEventFinal,
		Text:      text,
		IsFinal:   true,
		Language:  language,
		Timestamp: time.Now().UnixMilli(),
	}

	select {
	case s.events <- event:
	case <-s.ctx.Done():
	}
}

func (s *whisperStream) sendError(err error) {
	event := stt.SpeechEvent{
		Type:      stt.SpeechEventError,
		Error:     err,
		Timestamp: time.Now().UnixMilli(),
	}

	select {
	case s.events <- event:
	case <-s.ctx.Done():
	}
}
