// Package wav reads and writes 16-bit PCM WAV audio, converting between
// WAV byte streams and 10ms audio frames.
package wav

import (
	"bytes"
	"encoding/binary"
)

const (
	headerSize    = 44
	fmtChunkSize  = 16
	pcmFormat     = 1
	bitsPerSample = 16
)

// Encode wraps raw 16-bit little-endian PCM data in a WAV container.
// The result is a complete, self-describing file image suitable for
// upload APIs that refuse bare PCM.
func Encode(pcm []byte, sampleRate, numChannels int) []byte {
	var buf bytes.Buffer
	buf.Grow(headerSize + len(pcm))

	byteRate := sampleRate * numChannels * bitsPerSample / 8
	blockAlign := numChannels * bitsPerSample / 8

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(fmtChunkSize))
	binary.Write(&buf, binary.LittleEndian, uint16(pcmFormat))
	binary.Write(&buf, binary.LittleEndian, uint16(numChannels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}
