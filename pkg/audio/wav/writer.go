package wav

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/voicebridge/voicebridge/pkg/rtc"
)

// Writer streams 16-bit PCM audio to a WAV file. The header is patched
// with the final sizes on Close.
type Writer struct {
	file           *os.File
	sampleRate     uint32
	numChannels    uint16
	samplesWritten uint32
}

// NewWriter creates a WAV file for writing.
func NewWriter(filename string, sampleRate, numChannels int) (*Writer, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("creating WAV file: %w", err)
	}

	w := &Writer{
		file:        file,
		sampleRate:  uint32(sampleRate),
		numChannels: uint16(numChannels),
	}

	// Placeholder sizes, rewritten on Close.
	header := Encode(nil, sampleRate, numChannels)
	if _, err := file.Write(header); err != nil {
		file.Close()
		return nil, fmt.Errorf("writing WAV header: %w", err)
	}

	return w, nil
}

// WriteFrames appends audio frames to the file. Frames must match the
// writer's sample rate and channel count.
func (w *Writer) WriteFrames(frames []rtc.AudioFrame) error {
	for _, frame := range frames {
		if frame.SampleRate != int(w.sampleRate) || frame.NumChannels != int(w.numChannels) {
			return fmt.Errorf("frame format %dHz/%dch does not match writer %dHz/%dch",
				frame.SampleRate, frame.NumChannels, w.sampleRate, w.numChannels)
		}
		if _, err := w.file.Write(frame.Data); err != nil {
			return fmt.Errorf("writing audio data: %w", err)
		}
		w.samplesWritten += uint32(frame.SamplesPerChannel)
	}
	return nil
}

// WriteSineWave appends a sine tone of the given frequency and duration.
func (w *Writer) WriteSineWave(frequency float64, durationMs int) error {
	samples := int(w.sampleRate) * durationMs / 1000

	for i := 0; i < samples; i++ {
		t := float64(i) / float64(w.sampleRate)
		sample := int16(math.Sin(2*math.Pi*frequency*t) * 32767 * 0.5)

		for ch := 0; ch < int(w.numChannels); ch++ {
			if err := binary.Write(w.file, binary.LittleEndian, sample); err != nil {
				return fmt.Errorf("writing sample: %w", err)
			}
		}
		w.samplesWritten++
	}

	return nil
}

// Close patches the header with the actual data size and closes the file.
func (w *Writer) Close() error {
	if w.file == nil {
		return nil
	}

	dataSize := w.samplesWritten * uint32(w.numChannels) * bitsPerSample / 8

	if _, err := w.file.Seek(4, 0); err != nil {
		return fmt.Errorf("seeking to chunk size: %w", err)
	}
	if err := binary.Write(w.file, binary.LittleEndian, dataSize+36); err != nil {
		return fmt.Errorf("writing chunk size: %w", err)
	}

	if _, err := w.file.Seek(40, 0); err != nil {
		return fmt.Errorf("seeking to data size: %w", err)
	}
	if err := binary.Write(w.file, binary.LittleEndian, dataSize); err != nil {
		return fmt.Errorf("writing data size: %w", err)
	}

	err := w.file.Close()
	w.file = nil
	return err
}
