package rtc

import (
	"testing"
	"time"

	"github.com/matryer/is"
)

func TestFrameBufferReassembly(t *testing.T) {
	is := is.New(t)

	// 48 kHz mono: 960 bytes per 10 ms frame.
	b := NewFrameBuffer(48000, 1)

	// A 20 ms opus packet followed by a half frame.
	frames := b.Write(make([]byte, 1920))
	is.Equal(len(frames), 2)
	is.Equal(len(frames[0].Data), 960)
	is.Equal(frames[0].SampleRate, 48000)
	is.Equal(frames[0].Timestamp, time.Duration(0))
	is.Equal(frames[1].Timestamp, 10*time.Millisecond)

	frames = b.Write(make([]byte, 480))
	is.Equal(len(frames), 0)

	// The carried half frame completes with the next packet.
	frames = b.Write(make([]byte, 960))
	is.Equal(len(frames), 1)
	is.Equal(frames[0].Timestamp, 20*time.Millisecond)
}

func TestFrameBufferFlushPads(t *testing.T) {
	is := is.New(t)

	b := NewFrameBuffer(48000, 1)
	is.Equal(b.Flush(), (*AudioFrame)(nil))

	pcm := make([]byte, 100)
	for i := range pcm {
		pcm[i] = 0xff
	}
	is.Equal(len(b.Write(pcm)), 0)

	frame := b.Flush()
	is.True(frame != nil)
	is.Equal(len(frame.Data), 960)
	is.Equal(frame.Data[99], byte(0xff))
	is.Equal(frame.Data[100], byte(0)) // padded tail
	is.Equal(b.Flush(), (*AudioFrame)(nil))
}
