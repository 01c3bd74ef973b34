package silero

import "math"

// Energy scoring maps RMS level onto a pseudo-probability so the same
// hysteresis thresholds apply to both engines. An RMS of 0.05 (about
// -26dBFS) scores as certain speech.
const fullScaleRMS = 0.05

type energyScorer struct{}

func newEnergyScorer() *energyScorer {
	return &energyScorer{}
}

func (e *energyScorer) score(window []float32) (float32, error) {
	if len(window) == 0 {
		return 0, nil
	}

	var sum float64
	for _, s := range window {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(window)))

	prob := rms / fullScaleRMS
	if prob > 1 {
		prob = 1
	}
	return float32(prob), nil
}

func (e *energyScorer) close() {}
