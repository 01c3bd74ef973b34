package room

import (
	"errors"
	"fmt"
	"io"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/voicebridge/voicebridge/pkg/audio/opus"
	"github.com/voicebridge/voicebridge/pkg/rtc"
)

// trackSampleRate is the opus clock rate room tracks negotiate. Inbound
// audio decodes at this rate before it enters the pipeline.
const trackSampleRate = 48000

// AudioWriter publishes synthesized speech as an opus voice track.
type AudioWriter struct {
	track *lksdk.LocalSampleTrack
	enc   *opus.Encoder
	rate  int
}

// NewAudioWriter creates and publishes the local voice track. The track is
// announced as a microphone source so clients render it as speech.
func (r *Room) NewAudioWriter(name string) (*AudioWriter, error) {
	r.mu.RLock()
	room := r.room
	connected := r.connected
	r.mu.RUnlock()

	if !connected || room == nil {
		return nil, fmt.Errorf("%w: room not connected", ErrConnection)
	}

	track, err := lksdk.NewLocalSampleTrack(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: trackSampleRate,
		Channels:  1,
	})
	if err != nil {
		return nil, fmt.Errorf("creating local audio track: %w", err)
	}

	if _, err := room.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name:   name,
		Source: livekit.TrackSource_MICROPHONE,
	}); err != nil {
		return nil, fmt.Errorf("publishing audio track: %w", err)
	}

	r.logger.Info("published voice track", "name", name)
	return &AudioWriter{track: track}, nil
}

// WriteFrame encodes one PCM frame and writes it to the track. The encoder
// locks onto the first frame's sample rate.
func (w *AudioWriter) WriteFrame(frame rtc.AudioFrame) error {
	if w.enc == nil {
		enc, err := opus.NewEncoder(frame.SampleRate, frame.NumChannels)
		if err != nil {
			return err
		}
		w.enc = enc
		w.rate = frame.SampleRate
	}
	if frame.SampleRate != w.rate {
		return fmt.Errorf("frame rate %d does not match encoder rate %d", frame.SampleRate, w.rate)
	}

	packet, err := w.enc.Encode(frame.Data)
	if err != nil {
		return err
	}
	return w.track.WriteSample(media.Sample{
		Data:     packet,
		Duration: frame.Duration(),
	}, nil)
}

// AudioReader decodes a subscribed opus track into 10 ms pipeline frames.
type AudioReader struct {
	track *webrtc.TrackRemote
	dec   *opus.Decoder
	buf   *rtc.FrameBuffer
	queue []rtc.AudioFrame
}

// NewAudioReader wraps a subscribed remote audio track.
func NewAudioReader(track *webrtc.TrackRemote) (*AudioReader, error) {
	dec, err := opus.NewDecoder(trackSampleRate, 1)
	if err != nil {
		return nil, err
	}
	return &AudioReader{
		track: track,
		dec:   dec,
		buf:   rtc.NewFrameBuffer(trackSampleRate, 1),
	}, nil
}

// ReadFrame blocks until the next frame is available. io.EOF means the
// track ended.
func (r *AudioReader) ReadFrame() (rtc.AudioFrame, error) {
	for len(r.queue) == 0 {
		packet, _, err := r.track.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return rtc.AudioFrame{}, io.EOF
			}
			return rtc.AudioFrame{}, fmt.Errorf("reading rtp packet: %w", err)
		}

		// A corrupt packet is skipped; the decoder conceals the gap on
		// the next good one.
		pcm, err := r.dec.Decode(packet.Payload)
		if err != nil || len(pcm) == 0 {
			continue
		}
		r.queue = r.buf.Write(pcm)
	}

	frame := r.queue[0]
	r.queue = r.queue[1:]
	return frame, nil
}
