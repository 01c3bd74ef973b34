package tts

import (
	"context"

	"github.com/voicebridge/voicebridge/pkg/ai"
	"github.com/voicebridge/voicebridge/pkg/rtc"
)

// TTS-specific error variables re-exported for convenience.
var (
	ErrRecoverable = ai.ErrRecoverable
	ErrFatal       = ai.ErrFatal
)

// SynthesizeRequest contains parameters for text-to-speech synthesis.
type SynthesizeRequest struct {
	Text     string
	Voice    string
	Language string
	Speed    float32
}

// Capabilities describes what a TTS provider supports.
type Capabilities struct {
	Streaming            bool
	SupportedLanguages   []string
	SupportedVoices      []string
	SampleRates          []int
	SupportsSpeedControl bool
}

// TTS is the main interface for text-to-speech providers.
type TTS interface {
	// Synthesize converts text to audio frames. The returned channel
	// closes when synthesis is complete or the context is cancelled.
	Synthesize(ctx context.Context, req SynthesizeRequest) (<-chan rtc.AudioFrame, error)

	// Capabilities returns the provider's capabilities.
	Capabilities() Capabilities
}
