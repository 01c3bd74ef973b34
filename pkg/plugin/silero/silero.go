// Package silero provides voice activity detection backed by the Silero
// ONNX model, with an energy-based fallback when the model is missing.
package silero

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/voicebridge/voicebridge/pkg/ai/vad"
	"github.com/voicebridge/voicebridge/pkg/plugin"
	"github.com/voicebridge/voicebridge/pkg/rtc"
)

const (
	// ModelFileName is the ONNX model file within the model directory.
	ModelFileName = "silero_vad.onnx"

	// DefaultThreshold is the speech probability above which a window
	// counts as voiced.
	DefaultThreshold = 0.5

	// The model scores fixed 512-sample windows at 16kHz.
	modelSampleRate = 16000
	windowSamples   = 512

	// Hysteresis in windows (32ms each): speech starts after 2 voiced
	// windows, ends after 10 silent ones.
	minSpeechWindows  = 2
	minSilenceWindows = 10
)

// Config holds configuration for the Silero VAD.
type Config struct {
	Threshold float32
	ModelPath string // path to silero_vad.onnx, empty for the default
	Logger    *slog.Logger
}

// SileroVAD implements voice activity detection. Inference runs on the
// Silero ONNX model when available and falls back to RMS energy scoring
// otherwise.
type SileroVAD struct {
	threshold float32
	modelPath string
	logger    *slog.Logger
}

// NewSileroVAD creates a Silero VAD instance. The model is loaded lazily
// per detection stream.
func NewSileroVAD(cfg Config) (*SileroVAD, error) {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Threshold >= 1 {
		return nil, fmt.Errorf("threshold must be below 1.0, got %v", cfg.Threshold)
	}

	modelPath := cfg.ModelPath
	if modelPath == "" {
		modelPath = DefaultModelFile()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &SileroVAD{
		threshold: cfg.Threshold,
		modelPath: modelPath,
		logger:    logger.With("component", "silero-vad"),
	}, nil
}

// scorer rates one 16kHz window with a speech probability.
type scorer interface {
	score(window []float32) (float32, error)
	close()
}

// Detect scores incoming frames and emits speech start/end events. The
// returned channel closes when frames closes or ctx is cancelled.
func (s *SileroVAD) Detect(ctx context.Context, frames <-chan rtc.AudioFrame) (<-chan vad.Event, error) {
	events := make(chan vad.Event, 10)

	engine := s.newScorer()

	go func() {
		defer close(events)
		defer engine.close()
		s.run(ctx, frames, events, engine)
	}()

	return events, nil
}

// newScorer prefers the ONNX model and falls back to energy scoring when
// the model file or runtime is unavailable.
func (s *SileroVAD) newScorer() scorer {
	onnx, err := newONNXScorer(s.modelPath)
	if err != nil {
		s.logger.Warn("silero model unavailable, using energy-based detection",
			slog.String("model_path", s.modelPath),
			slog.String("error", err.Error()))
		return newEnergyScorer()
	}

	s.logger.Debug("silero model loaded", slog.String("model_path", s.modelPath))
	return onnx
}

func (s *SileroVAD) run(ctx context.Context, frames <-chan rtc.AudioFrame, events chan<- vad.Event, engine scorer) {
	window := make([]float32, 0, windowSamples)
	speaking := false
	voicedRun := 0
	silentRun := 0

	emit := func(t vad.EventType) bool {
		select {
		case events <- vad.Event{Type: t, Timestamp: time.Now()}:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				if speaking {
					emit(vad.EventSpeechEnd)
				}
				return
			}

			window = append(window, resampleToModelRate(frame)...)

			for len(window) >= windowSamples {
				prob, err := engine.score(window[:windowSamples])
				window = append(window[:0], window[windowSamples:]...)
				if err != nil {
					select {
					case events <- vad.Event{Type: vad.EventError, Timestamp: time.Now(), Error: fmt.Errorf("%w: %v", vad.ErrRecoverable, err)}:
					case <-ctx.Done():
						return
					}
					continue
				}

				if prob >= s.threshold {
					voicedRun++
					silentRun = 0
					if !speaking && voicedRun >= minSpeechWindows {
						speaking = true
						if !emit(vad.EventSpeechStart) {
							return
						}
					}
				} else {
					silentRun++
					voicedRun = 0
					if speaking && silentRun >= minSilenceWindows {
						speaking = false
						if !emit(vad.EventSpeechEnd) {
							return
						}
					}
				}
			}
		}
	}
}

// Capabilities describes the detector.
func (s *SileroVAD) Capabilities() vad.Capabilities {
	return vad.Capabilities{
		SampleRates:        []int{8000, 16000, 48000},
		MinSpeechDuration:  minSpeechWindows * 32 * time.Millisecond,
		MinSilenceDuration: minSilenceWindows * 32 * time.Millisecond,
		Sensitivity:        s.threshold,
	}
}

// resampleToModelRate converts a PCM frame to normalized float32 samples
// at the model rate, decimating multiples of 16kHz and averaging stereo.
func resampleToModelRate(frame rtc.AudioFrame) []float32 {
	step := 1
	if frame.SampleRate > modelSampleRate && frame.SampleRate%modelSampleRate == 0 {
		step = frame.SampleRate / modelSampleRate
	}

	samples := len(frame.Data) / 2 / frame.NumChannels
	out := make([]float32, 0, samples/step+1)

	for i := 0; i < samples; i += step {
		var sum int32
		for ch := 0; ch < frame.NumChannels; ch++ {
			idx := (i*frame.NumChannels + ch) * 2
			sum += int32(int16(uint16(frame.Data[idx]) | uint16(frame.Data[idx+1])<<8))
		}
		mono := sum / int32(frame.NumChannels)
		out = append(out, float32(mono)/32768.0)
	}
	return out
}

// DefaultModelFile returns where the Silero model lives when no explicit
// path is configured.
func DefaultModelFile() string {
	if path := os.Getenv("VOICEBRIDGE_MODEL_PATH"); path != "" {
		return filepath.Join(path, ModelFileName)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("/tmp/voicebridge-models", ModelFileName)
	}
	return filepath.Join(homeDir, ".voicebridge", "models", ModelFileName)
}

func newVAD(cfg map[string]any) (any, error) {
	config := Config{}

	switch v := cfg["threshold"].(type) {
	case float32:
		config.Threshold = v
	case float64:
		config.Threshold = float32(v)
	}
	if path, ok := cfg["model_path"].(string); ok {
		config.ModelPath = path
	}

	return NewSileroVAD(config)
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindVAD,
		Name:        "silero",
		Factory:     newVAD,
		Description: "Silero voice activity detection with energy fallback",
		Version:     "1.0.0",
		Downloader:  &Downloader{},
	})
}
