package wav

import (
	"path/filepath"
	"testing"

	"github.com/matryer/is"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	is := is.New(t)

	// 30ms of 48kHz mono audio.
	pcm := make([]byte, 960*3)
	for i := range pcm {
		pcm[i] = byte(i % 251)
	}

	data := Encode(pcm, 48000, 1)
	is.Equal(len(data), headerSize+len(pcm))

	header, frames, err := Decode(data)
	is.NoErr(err)
	is.Equal(header.SampleRate, uint32(48000))
	is.Equal(header.NumChannels, uint16(1))
	is.Equal(header.BitsPerSample, uint16(16))
	is.Equal(header.DataSize, uint32(len(pcm)))
	is.Equal(len(frames), 3)
	is.Equal(frames[0].Data, pcm[:960])
	is.Equal(frames[2].Data, pcm[1920:])
}

func TestDecodePadsPartialFrame(t *testing.T) {
	is := is.New(t)

	// 15ms of audio: one full frame plus half a frame.
	pcm := make([]byte, 960+480)
	for i := range pcm {
		pcm[i] = 1
	}

	_, frames, err := Decode(Encode(pcm, 48000, 1))
	is.NoErr(err)
	is.Equal(len(frames), 2)
	is.Equal(len(frames[1].Data), 960)
	is.Equal(frames[1].Data[479], byte(1))
	is.Equal(frames[1].Data[480], byte(0)) // zero padded
}

func TestDecodeRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"not riff", []byte("JUNKJUNKJUNKJUNK")},
		{"truncated header", []byte("RIFF")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			_, _, err := Decode(tt.data)
			is.True(err != nil)
		})
	}
}

func TestWriterRoundTrip(t *testing.T) {
	is := is.New(t)

	path := filepath.Join(t.TempDir(), "tone.wav")

	w, err := NewWriter(path, 48000, 1)
	is.NoErr(err)

	is.NoErr(w.WriteSineWave(440, 100))
	is.NoErr(w.Close())

	r, err := Open(path)
	is.NoErr(err)
	defer r.Close()

	is.Equal(r.Header().SampleRate, uint32(48000))
	is.Equal(r.Header().DataSize, uint32(48000/10*2)) // 100ms of 16-bit mono

	frames, err := r.Frames()
	is.NoErr(err)
	is.Equal(len(frames), 10)

	// A 440Hz tone is not silence.
	silent := true
	for _, b := range frames[5].Data {
		if b != 0 {
			silent = false
			break
		}
	}
	is.True(!silent)
}

func TestWriterRejectsMismatchedFrames(t *testing.T) {
	is := is.New(t)

	path := filepath.Join(t.TempDir(), "bad.wav")

	w, err := NewWriter(path, 48000, 1)
	is.NoErr(err)
	defer w.Close()

	data := Encode(make([]byte, 320), 16000, 1)
	_, frames, err := Decode(data)
	is.NoErr(err)

	err = w.WriteFrames(frames)
	is.True(err != nil)
}
