package fake

import (
	"context"

	"github.com/voicebridge/voicebridge/pkg/turn"
)

// FakeDetector is a fixed-value turn detector for testing.
type FakeDetector struct {
	probability float64
	threshold   float64
}

// NewFakeDetector creates a fake detector that always reports end of turn.
func NewFakeDetector() *FakeDetector {
	return &FakeDetector{probability: 0.95, threshold: 0.85}
}

// NewFakeDetectorWithValues creates a fake detector with specific values.
func NewFakeDetectorWithValues(probability, threshold float64) *FakeDetector {
	return &FakeDetector{probability: probability, threshold: threshold}
}

// UnlikelyThreshold returns the configured threshold.
func (f *FakeDetector) UnlikelyThreshold(language string) (float64, error) {
	return f.threshold, nil
}

// SupportsLanguage always returns true.
func (f *FakeDetector) SupportsLanguage(language string) bool {
	return true
}

// PredictEndOfTurn returns the configured probability.
func (f *FakeDetector) PredictEndOfTurn(ctx context.Context, chatCtx turn.ChatContext) (float64, error) {
	return f.probability, nil
}
