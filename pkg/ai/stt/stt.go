// Package stt defines the speech-to-text backend interface. Providers
// convert audio frames to transcripts with interim and final results.
package stt

import (
	"context"

	"github.com/voicebridge/voicebridge/pkg/ai"
	"github.com/voicebridge/voicebridge/pkg/rtc"
)

// STT-specific error variables re-exported for convenience.
var (
	ErrRecoverable = ai.ErrRecoverable
	ErrFatal       = ai.ErrFatal
)

// StreamConfig contains configuration for STT streams.
type StreamConfig struct {
	SampleRate  int
	NumChannels int
	Language    string
	MaxRetry    int
}

// SpeechEventType represents the type of speech recognition event.
type SpeechEventType int

const (
	// SpeechEventInterim represents partial results that may change.
	SpeechEventInterim SpeechEventType = iota
	// SpeechEventFinal represents final results that won't change.
	SpeechEventFinal
	// SpeechEventError represents transcription errors.
	SpeechEventError
)

// SpeechEvent represents a transcription result or error.
type SpeechEvent struct {
	Type      SpeechEventType
	Text      string // transcribed text, empty for error events
	IsFinal   bool
	Language  string
	Timestamp int64 // milliseconds since epoch
	Error     error // only set for error events
}

// Capabilities describes what an STT provider supports.
type Capabilities struct {
	Streaming          bool
	InterimResults     bool
	SupportedLanguages []string
	SampleRates        []int
}

// STT is the main interface for speech-to-text providers.
type STT interface {
	// NewStream creates a new streaming recognition session.
	NewStream(ctx context.Context, cfg StreamConfig) (Stream, error)

	// Capabilities returns the provider's capabilities.
	Capabilities() Capabilities
}

// Stream represents an active recognition session.
type Stream interface {
	// Push sends an audio frame for processing.
	Push(frame rtc.AudioFrame) error

	// Events returns a channel of speech recognition events.
	Events() <-chan SpeechEvent

	// CloseSend signals that no more audio will be sent and flushes any
	// pending data.
	CloseSend() error
}
