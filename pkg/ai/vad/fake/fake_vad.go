package fake

import (
	"context"
	"time"

	"github.com/voicebridge/voicebridge/pkg/ai/vad"
	"github.com/voicebridge/voicebridge/pkg/rtc"
)

const (
	// DefaultSpeechAfterFrames is how many frames precede a SpeechStart.
	DefaultSpeechAfterFrames = 5
	// DefaultSilenceAfterFrames is how many speaking frames precede a SpeechEnd.
	DefaultSilenceAfterFrames = 20
)

// FakeVAD is a deterministic VAD implementation for testing. It emits
// SpeechStart after a fixed number of frames, SpeechEnd after a further
// fixed number, and then repeats the cycle.
type FakeVAD struct {
	speechAfter  int
	silenceAfter int
}

// NewFakeVAD creates a fake VAD with the default frame cadence.
func NewFakeVAD() *FakeVAD {
	return NewFakeVADWithCadence(DefaultSpeechAfterFrames, DefaultSilenceAfterFrames)
}

// NewFakeVADWithCadence creates a fake VAD that starts speech after
// speechAfter frames and ends it after silenceAfter more.
func NewFakeVADWithCadence(speechAfter, silenceAfter int) *FakeVAD {
	if speechAfter <= 0 {
		speechAfter = DefaultSpeechAfterFrames
	}
	if silenceAfter <= 0 {
		silenceAfter = DefaultSilenceAfterFrames
	}
	return &FakeVAD{speechAfter: speechAfter, silenceAfter: silenceAfter}
}

// Detect processes audio frames and generates deterministic VAD events.
func (f *FakeVAD) Detect(ctx context.Context, frames <-chan rtc.AudioFrame) (<-chan vad.Event, error) {
	output := make(chan vad.Event, 10)

	go func() {
		defer close(output)

		speaking := false
		count := 0

		emit := func(t vad.EventType) bool {
			select {
			case output <- vad.Event{Type: t, Timestamp: time.Now()}:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			select {
			case _, ok := <-frames:
				if !ok {
					if speaking {
						emit(vad.EventSpeechEnd)
					}
					return
				}

				count++
				if !speaking && count >= f.speechAfter {
					speaking = true
					count = 0
					if !emit(vad.EventSpeechStart) {
						return
					}
				} else if speaking && count >= f.silenceAfter {
					speaking = false
					count = 0
					if !emit(vad.EventSpeechEnd) {
						return
					}
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	return output, nil
}

// Capabilities returns the fake VAD capabilities.
func (f *FakeVAD) Capabilities() vad.Capabilities {
	return vad.Capabilities{
		SampleRates:        []int{16000, 48000},
		MinSpeechDuration:  50 * time.Millisecond,
		MinSilenceDuration: 100 * time.Millisecond,
		Sensitivity:        0.5,
	}
}
