// Package opus converts between the opus packets carried on room tracks
// and the little-endian PCM16 the pipeline works in.
package opus

import (
	"encoding/binary"
	"fmt"

	hopus "gopkg.in/hraban/opus.v2"
)

// maxFrameSamples covers the largest opus frame, 120 ms at 48 kHz.
const maxFrameSamples = 5760

// maxPacketBytes bounds an encoded opus packet.
const maxPacketBytes = 1500

// Decoder turns opus packets into PCM16 bytes.
type Decoder struct {
	dec      *hopus.Decoder
	channels int
	pcm      []int16
}

// NewDecoder creates a decoder producing PCM at the given rate.
func NewDecoder(sampleRate, channels int) (*Decoder, error) {
	dec, err := hopus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("creating opus decoder: %w", err)
	}
	return &Decoder{
		dec:      dec,
		channels: channels,
		pcm:      make([]int16, maxFrameSamples*channels),
	}, nil
}

// Decode decompresses one packet. An empty packet decodes to no audio.
func (d *Decoder) Decode(packet []byte) ([]byte, error) {
	if len(packet) == 0 {
		return nil, nil
	}
	n, err := d.dec.Decode(packet, d.pcm)
	if err != nil {
		return nil, fmt.Errorf("decoding opus packet: %w", err)
	}
	return samplesToBytes(d.pcm[:n*d.channels]), nil
}

// Encoder compresses PCM16 frames into opus packets.
type Encoder struct {
	enc *hopus.Encoder
	pcm []int16
	buf []byte
}

// NewEncoder creates a voice encoder at the given rate. Opus accepts 8,
// 12, 16, 24, and 48 kHz input.
func NewEncoder(sampleRate, channels int) (*Encoder, error) {
	enc, err := hopus.NewEncoder(sampleRate, channels, hopus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("creating opus encoder: %w", err)
	}
	return &Encoder{enc: enc, buf: make([]byte, maxPacketBytes)}, nil
}

// Encode compresses one PCM frame and returns the packet.
func (e *Encoder) Encode(pcm []byte) ([]byte, error) {
	samples := bytesToSamples(pcm, e.pcm)
	e.pcm = samples[:0]

	n, err := e.enc.Encode(samples, e.buf)
	if err != nil {
		return nil, fmt.Errorf("encoding opus packet: %w", err)
	}
	packet := make([]byte, n)
	copy(packet, e.buf[:n])
	return packet, nil
}

func samplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func bytesToSamples(pcm []byte, scratch []int16) []int16 {
	n := len(pcm) / 2
	if cap(scratch) < n {
		scratch = make([]int16, n)
	}
	samples := scratch[:n]
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}
