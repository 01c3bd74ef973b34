package rtc

import "time"

// FrameBuffer reassembles a PCM16 byte stream into exact 10 ms frames.
// Decoded packets rarely align with frame boundaries, so the remainder is
// carried until more audio arrives.
type FrameBuffer struct {
	sampleRate  int
	numChannels int
	frameBytes  int

	pending   []byte
	timestamp time.Duration
}

// NewFrameBuffer creates a buffer producing frames at the given rate and
// channel count.
func NewFrameBuffer(sampleRate, numChannels int) *FrameBuffer {
	return &FrameBuffer{
		sampleRate:  sampleRate,
		numChannels: numChannels,
		frameBytes:  sampleRate / 100 * numChannels * 2,
	}
}

// Write appends PCM bytes and returns the complete frames now available.
// Frame timestamps advance 10 ms per frame from the start of the stream.
func (b *FrameBuffer) Write(pcm []byte) []AudioFrame {
	b.pending = append(b.pending, pcm...)

	var frames []AudioFrame
	for len(b.pending) >= b.frameBytes {
		data := make([]byte, b.frameBytes)
		copy(data, b.pending[:b.frameBytes])
		b.pending = b.pending[b.frameBytes:]
		frames = append(frames, b.frame(data))
	}
	return frames
}

// Flush zero-pads the remainder to a full frame and returns it, or nil
// when no audio is pending.
func (b *FrameBuffer) Flush() *AudioFrame {
	if len(b.pending) == 0 {
		return nil
	}
	data := make([]byte, b.frameBytes)
	copy(data, b.pending)
	b.pending = b.pending[:0]
	frame := b.frame(data)
	return &frame
}

func (b *FrameBuffer) frame(data []byte) AudioFrame {
	frame := AudioFrame{
		Data:              data,
		SampleRate:        b.sampleRate,
		SamplesPerChannel: b.sampleRate / 100,
		NumChannels:       b.numChannels,
		Timestamp:         b.timestamp,
	}
	b.timestamp += 10 * time.Millisecond
	return frame
}
