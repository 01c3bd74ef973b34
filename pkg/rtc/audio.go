// Package rtc holds media-plane types shared by the capture, detection and
// synthesis stages of the voice pipeline.
package rtc

import (
	"encoding/binary"
	"fmt"
	"time"
)

// AudioFrame represents exactly 10 ms of PCM audio.
// Len(Data) == SamplesPerChannel * NumChannels * 2.
//
// A zero Timestamp means "live"; otherwise it points to absolute wall-clock.
type AudioFrame struct {
	Data              []byte        // 16-bit PCM, little-endian
	SampleRate        int           // 48 000 or 16 000
	SamplesPerChannel int           // SampleRate / 100
	NumChannels       int           // 1 or 2
	Timestamp         time.Duration // optional
}

// NewAudioFrame creates an AudioFrame after validating that the data length
// matches 10 ms of audio at the given rate and channel count.
func NewAudioFrame(data []byte, sampleRate, numChannels int, timestamp time.Duration) (*AudioFrame, error) {
	samplesPerChannel := sampleRate / 100
	expectedLen := samplesPerChannel * numChannels * 2

	if len(data) != expectedLen {
		return nil, fmt.Errorf("audio frame length mismatch: got %d bytes, expected %d for %dHz %d-channel 10ms audio",
			len(data), expectedLen, sampleRate, numChannels)
	}

	return &AudioFrame{
		Data:              data,
		SampleRate:        sampleRate,
		SamplesPerChannel: samplesPerChannel,
		NumChannels:       numChannels,
		Timestamp:         timestamp,
	}, nil
}

// Clone creates a deep copy of the frame.
func (f *AudioFrame) Clone() *AudioFrame {
	data := make([]byte, len(f.Data))
	copy(data, f.Data)

	return &AudioFrame{
		Data:              data,
		SampleRate:        f.SampleRate,
		SamplesPerChannel: f.SamplesPerChannel,
		NumChannels:       f.NumChannels,
		Timestamp:         f.Timestamp,
	}
}

// Duration returns the duration represented by this frame (always 10ms).
func (f *AudioFrame) Duration() time.Duration {
	return 10 * time.Millisecond
}

// Samples decodes the frame into interleaved int16 samples. Detection
// backends operate on samples rather than raw bytes.
func (f *AudioFrame) Samples() []int16 {
	samples := make([]int16, len(f.Data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(f.Data[i*2:]))
	}
	return samples
}
