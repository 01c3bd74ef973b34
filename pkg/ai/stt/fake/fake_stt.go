package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/voicebridge/voicebridge/pkg/ai/stt"
	"github.com/voicebridge/voicebridge/pkg/rtc"
)

const (
	// InterimResultFrameInterval controls how often interim results are sent.
	InterimResultFrameInterval = 10
	// DefaultTranscript is used when no transcript is provided.
	DefaultTranscript = "this is a fake transcript"
)

// FakeSTT is a fake STT implementation for testing. Every stream it creates
// yields the configured transcript as the final result on CloseSend.
type FakeSTT struct {
	transcript string
}

// NewFakeSTT creates a fake STT provider with a fixed transcript.
func NewFakeSTT(transcript string) *FakeSTT {
	if transcript == "" {
		transcript = DefaultTranscript
	}
	return &FakeSTT{transcript: transcript}
}

// NewStream creates a new fake recognition stream.
func (f *FakeSTT) NewStream(ctx context.Context, cfg stt.StreamConfig) (stt.Stream, error) {
	return &fakeStream{
		transcript: f.transcript,
		events:     make(chan stt.SpeechEvent, 10),
		ctx:        ctx,
	}, nil
}

// Capabilities returns the fake STT capabilities.
func (f *FakeSTT) Capabilities() stt.Capabilities {
	return stt.Capabilities{
		Streaming:          true,
		InterimResults:     true,
		SupportedLanguages: []string{"en-US", "en-GB", "es-ES"},
		SampleRates:        []int{16000, 48000},
	}
}

type fakeStream struct {
	transcript string
	events     chan stt.SpeechEvent
	ctx        context.Context

	mu         sync.Mutex
	frameCount int
	closed     bool
}

// Push counts frames and emits interim results periodically.
func (s *fakeStream) Push(frame rtc.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("stream is closed")
	}

	s.frameCount++

	if s.frameCount%InterimResultFrameInterval == 0 {
		n := min(len(s.transcript), s.frameCount/2)
		select {
		case s.events <- stt.SpeechEvent{
			Type:      stt.SpeechEventInterim,
			Text:      s.transcript[:n],
			Language:  "en-US",
			Timestamp: time.Now().UnixMilli(),
		}:
		case <-s.ctx.Done():
			return s.ctx.Err()
		}
	}

	return nil
}

// Events returns the events channel.
func (s *fakeStream) Events() <-chan stt.SpeechEvent {
	return s.events
}

// CloseSend emits the final transcript and closes the events channel.
func (s *fakeStream) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	select {
	case s.events <- stt.SpeechEvent{
		Type:      stt.SpeechEventFinal,
		Text:      s.transcript,
		IsFinal:   true,
		Language:  "en-US",
		Timestamp: time.Now().UnixMilli(),
	}:
	case <-s.ctx.Done():
		close(s.events)
		return s.ctx.Err()
	}

	close(s.events)
	return nil
}
