package rtc

import (
	"encoding/binary"
	"testing"
	"time"
)

func TestNewAudioFrame(t *testing.T) {
	tests := []struct {
		name        string
		sampleRate  int
		numChannels int
		dataLen     int
		wantErr     bool
	}{
		{
			name:        "valid 48kHz mono",
			sampleRate:  48000,
			numChannels: 1,
			dataLen:     960, // 48000/100 * 1 * 2
		},
		{
			name:        "valid 16kHz mono",
			sampleRate:  16000,
			numChannels: 1,
			dataLen:     320, // 16000/100 * 1 * 2
		},
		{
			name:        "valid 48kHz stereo",
			sampleRate:  48000,
			numChannels: 2,
			dataLen:     1920, // 48000/100 * 2 * 2
		},
		{
			name:        "invalid data length",
			sampleRate:  48000,
			numChannels: 1,
			dataLen:     500,
			wantErr:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := make([]byte, tt.dataLen)
			timestamp := 100 * time.Millisecond

			frame, err := NewAudioFrame(data, tt.sampleRate, tt.numChannels, timestamp)

			if tt.wantErr {
				if err == nil {
					t.Error("expected error but got none")
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if frame.SampleRate != tt.sampleRate {
				t.Errorf("SampleRate = %d, want %d", frame.SampleRate, tt.sampleRate)
			}
			if frame.NumChannels != tt.numChannels {
				t.Errorf("NumChannels = %d, want %d", frame.NumChannels, tt.numChannels)
			}
			if frame.SamplesPerChannel != tt.sampleRate/100 {
				t.Errorf("SamplesPerChannel = %d, want %d", frame.SamplesPerChannel, tt.sampleRate/100)
			}
			if frame.Timestamp != timestamp {
				t.Errorf("Timestamp = %v, want %v", frame.Timestamp, timestamp)
			}
		})
	}
}

func TestAudioFrameClone(t *testing.T) {
	data := make([]byte, 320)
	for i := range data {
		data[i] = byte(i % 256)
	}

	original, err := NewAudioFrame(data, 16000, 1, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("NewAudioFrame() error = %v", err)
	}
	clone := original.Clone()

	if &clone.Data[0] == &original.Data[0] {
		t.Error("clone data points to same memory as original")
	}

	for i, b := range clone.Data {
		if b != original.Data[i] {
			t.Errorf("clone data[%d] = %d, want %d", i, b, original.Data[i])
		}
	}

	clone.Data[0] = 255
	if original.Data[0] == 255 {
		t.Error("modifying clone data affected original")
	}
}

func TestAudioFrameSamples(t *testing.T) {
	data := make([]byte, 320)
	binary.LittleEndian.PutUint16(data[0:], uint16(1000))
	binary.LittleEndian.PutUint16(data[2:], uint16(0xFFFF)) // -1

	frame, err := NewAudioFrame(data, 16000, 1, 0)
	if err != nil {
		t.Fatalf("NewAudioFrame() error = %v", err)
	}

	samples := frame.Samples()
	if len(samples) != 160 {
		t.Fatalf("expected 160 samples, got %d", len(samples))
	}
	if samples[0] != 1000 {
		t.Errorf("samples[0] = %d, want 1000", samples[0])
	}
	if samples[1] != -1 {
		t.Errorf("samples[1] = %d, want -1", samples[1])
	}
}

func TestAudioFrameDuration(t *testing.T) {
	frame := &AudioFrame{}
	if frame.Duration() != 10*time.Millisecond {
		t.Errorf("Duration() = %v, want 10ms", frame.Duration())
	}
}
