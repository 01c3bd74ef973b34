// Package turn provides end-of-utterance (EOU) detection for the voice
// pipeline. A Detector scores how likely it is that the user has finished
// speaking given recent conversation context; the session layer combines
// that score with VAD silence to decide when to commit a turn.
package turn

import (
	"context"

	"github.com/voicebridge/voicebridge/pkg/ai/llm"
)

// Detector is the turn-detection backend interface.
type Detector interface {
	// UnlikelyThreshold returns the language-specific threshold for EOU
	// detection, or an error if the language is unsupported.
	UnlikelyThreshold(language string) (float64, error)

	// SupportsLanguage reports whether the detector has a tuned threshold
	// for this language.
	SupportsLanguage(language string) bool

	// PredictEndOfTurn returns the probability (0-1) that the user has
	// finished speaking given recent chat context.
	PredictEndOfTurn(ctx context.Context, chatCtx ChatContext) (float64, error)
}

// ChatContext is the conversation history a detector scores.
type ChatContext struct {
	Messages []llm.Message
	Language string // language hint for detection
}
