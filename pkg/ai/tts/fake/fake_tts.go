package fake

import (
	"context"
	"math"

	"github.com/voicebridge/voicebridge/pkg/ai/tts"
	"github.com/voicebridge/voicebridge/pkg/rtc"
)

// MaxFramesPerUtterance bounds fake synthesis so tests stay fast.
const MaxFramesPerUtterance = 50

// FakeTTS is a fake TTS implementation for testing. It synthesizes a 440 Hz
// sine wave, one 10 ms frame per character of input text.
type FakeTTS struct{}

// NewFakeTTS creates a fake TTS provider.
func NewFakeTTS() *FakeTTS {
	return &FakeTTS{}
}

// Synthesize generates sine-wave audio frames for the given text.
func (f *FakeTTS) Synthesize(ctx context.Context, req tts.SynthesizeRequest) (<-chan rtc.AudioFrame, error) {
	output := make(chan rtc.AudioFrame, 10)

	frameCount := len(req.Text)
	if frameCount > MaxFramesPerUtterance {
		frameCount = MaxFramesPerUtterance
	}
	if frameCount == 0 {
		frameCount = 1
	}

	go func() {
		defer close(output)

		const (
			sampleRate = 48000
			frequency  = 440.0
		)
		samplesPerChannel := sampleRate / 100

		for i := 0; i < frameCount; i++ {
			data := make([]byte, samplesPerChannel*2) // 16-bit mono
			for j := 0; j < samplesPerChannel; j++ {
				sampleIndex := i*samplesPerChannel + j
				sample := 0.3 * math.Sin(2*math.Pi*frequency*float64(sampleIndex)/float64(sampleRate))
				intSample := int16(sample * 32767)
				data[j*2] = byte(intSample & 0xFF)
				data[j*2+1] = byte((intSample >> 8) & 0xFF)
			}

			frame := rtc.AudioFrame{
				Data:              data,
				SampleRate:        sampleRate,
				SamplesPerChannel: samplesPerChannel,
				NumChannels:       1,
			}

			select {
			case output <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()

	return output, nil
}

// Capabilities returns the fake TTS capabilities.
func (f *FakeTTS) Capabilities() tts.Capabilities {
	return tts.Capabilities{
		Streaming:            true,
		SupportedLanguages:   []string{"en-US", "en-GB", "es-ES"},
		SupportedVoices:      []string{"fake-voice"},
		SampleRates:          []int{16000, 48000},
		SupportsSpeedControl: true,
	}
}
