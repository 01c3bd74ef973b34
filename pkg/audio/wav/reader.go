package wav

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/voicebridge/voicebridge/pkg/rtc"
)

// Header describes the format of a parsed WAV stream.
type Header struct {
	ChunkSize     uint32
	SampleRate    uint32
	NumChannels   uint16
	BitsPerSample uint16
	DataSize      uint32
}

// Reader parses a WAV stream and yields 10ms audio frames.
type Reader struct {
	src    io.ReadSeeker
	closer io.Closer
	header Header
}

// NewReader parses the WAV header from src and positions it at the start
// of the audio data.
func NewReader(src io.ReadSeeker) (*Reader, error) {
	r := &Reader{src: src}
	if err := r.readHeader(); err != nil {
		return nil, fmt.Errorf("reading WAV header: %w", err)
	}
	return r, nil
}

// Open opens a WAV file for reading. Close releases the file handle.
func Open(filename string) (*Reader, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("opening WAV file: %w", err)
	}

	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// Decode parses an in-memory WAV image into its header and frames.
func Decode(data []byte) (Header, []rtc.AudioFrame, error) {
	r, err := NewReader(bytes.NewReader(data))
	if err != nil {
		return Header{}, nil, err
	}
	frames, err := r.Frames()
	if err != nil {
		return Header{}, nil, err
	}
	return r.header, frames, nil
}

// Header returns the parsed format information.
func (r *Reader) Header() Header {
	return r.header
}

// Frames reads the remaining audio data as 10ms frames. A trailing
// partial frame is zero-padded to full length.
func (r *Reader) Frames() ([]rtc.AudioFrame, error) {
	samplesPerFrame := int(r.header.SampleRate) / 100
	frameSize := samplesPerFrame * int(r.header.NumChannels) * (int(r.header.BitsPerSample) / 8)

	var frames []rtc.AudioFrame
	buf := make([]byte, frameSize)
	index := 0

	for {
		n, err := io.ReadFull(r.src, buf)
		if err == io.EOF {
			break
		}
		if err != nil && err != io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("reading audio data: %w", err)
		}

		for i := n; i < frameSize; i++ {
			buf[i] = 0
		}

		frame := rtc.AudioFrame{
			Data:              make([]byte, frameSize),
			SampleRate:        int(r.header.SampleRate),
			SamplesPerChannel: samplesPerFrame,
			NumChannels:       int(r.header.NumChannels),
			Timestamp:         time.Duration(index) * 10 * time.Millisecond,
		}
		copy(frame.Data, buf)
		frames = append(frames, frame)
		index++

		if err == io.ErrUnexpectedEOF {
			break
		}
	}

	return frames, nil
}

// Close releases the underlying file if the reader was opened with Open.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

func (r *Reader) readHeader() error {
	var riff [12]byte
	if _, err := io.ReadFull(r.src, riff[:]); err != nil {
		return fmt.Errorf("reading RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" {
		return fmt.Errorf("not a RIFF stream")
	}
	if string(riff[8:12]) != "WAVE" {
		return fmt.Errorf("not a WAVE stream")
	}
	r.header.ChunkSize = binary.LittleEndian.Uint32(riff[4:8])

	if err := r.readFmtChunk(); err != nil {
		return err
	}
	if err := r.seekDataChunk(); err != nil {
		return err
	}

	if r.header.BitsPerSample != 16 {
		return fmt.Errorf("only 16-bit samples are supported, got %d-bit", r.header.BitsPerSample)
	}
	if r.header.NumChannels != 1 && r.header.NumChannels != 2 {
		return fmt.Errorf("only mono and stereo are supported, got %d channels", r.header.NumChannels)
	}
	return nil
}

func (r *Reader) readFmtChunk() error {
	for {
		id, size, err := r.nextChunk()
		if err != nil {
			return err
		}

		if id != "fmt " {
			if _, err := r.src.Seek(int64(size), io.SeekCurrent); err != nil {
				return fmt.Errorf("skipping %q chunk: %w", id, err)
			}
			continue
		}

		if size < fmtChunkSize {
			return fmt.Errorf("fmt chunk too small: %d bytes", size)
		}

		var data [fmtChunkSize]byte
		if _, err := io.ReadFull(r.src, data[:]); err != nil {
			return fmt.Errorf("reading fmt chunk: %w", err)
		}

		if format := binary.LittleEndian.Uint16(data[0:2]); format != pcmFormat {
			return fmt.Errorf("only PCM is supported, got format %d", format)
		}
		r.header.NumChannels = binary.LittleEndian.Uint16(data[2:4])
		r.header.SampleRate = binary.LittleEndian.Uint32(data[4:8])
		r.header.BitsPerSample = binary.LittleEndian.Uint16(data[14:16])

		if size > fmtChunkSize {
			if _, err := r.src.Seek(int64(size-fmtChunkSize), io.SeekCurrent); err != nil {
				return fmt.Errorf("skipping fmt extension: %w", err)
			}
		}
		return nil
	}
}

func (r *Reader) seekDataChunk() error {
	for {
		id, size, err := r.nextChunk()
		if err != nil {
			return err
		}

		if id == "data" {
			r.header.DataSize = size
			return nil
		}

		if _, err := r.src.Seek(int64(size), io.SeekCurrent); err != nil {
			return fmt.Errorf("skipping %q chunk: %w", id, err)
		}
	}
}

func (r *Reader) nextChunk() (string, uint32, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r.src, hdr[:]); err != nil {
		return "", 0, fmt.Errorf("reading chunk header: %w", err)
	}
	return string(hdr[0:4]), binary.LittleEndian.Uint32(hdr[4:8]), nil
}
