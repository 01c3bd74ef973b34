package vad

import (
	"context"
	"time"

	"github.com/voicebridge/voicebridge/pkg/ai"
	"github.com/voicebridge/voicebridge/pkg/rtc"
)

// VAD-specific error variables re-exported for convenience.
var (
	ErrRecoverable = ai.ErrRecoverable
	ErrFatal       = ai.ErrFatal
)

// EventType represents the type of voice-activity event.
type EventType int

const (
	EventSpeechStart EventType = iota
	EventSpeechEnd
	EventError
)

// Event represents a voice activity detection event.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Error     error
}

// Capabilities describes what a VAD provider supports.
type Capabilities struct {
	SampleRates        []int
	MinSpeechDuration  time.Duration
	MinSilenceDuration time.Duration
	Sensitivity        float32 // 0.0 to 1.0
}

// VAD is the main interface for voice activity detection providers.
type VAD interface {
	// Detect processes audio frames and returns voice-activity events.
	// The returned channel closes when the input channel closes or the
	// context is cancelled.
	Detect(ctx context.Context, frames <-chan rtc.AudioFrame) (<-chan Event, error)

	// Capabilities returns the provider's capabilities.
	Capabilities() Capabilities
}
