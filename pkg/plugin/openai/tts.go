package openai

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/voicebridge/voicebridge/pkg/ai/tts"
	"github.com/voicebridge/voicebridge/pkg/rtc"
)

// The speech endpoint returns 24kHz 16-bit mono when PCM is requested.
const (
	ttsSampleRate = 24000
	ttsFrameBytes = ttsSampleRate / 100 * 2
)

// SpeechTTS implements text-to-speech using the OpenAI speech API.
type SpeechTTS struct {
	client *openai.Client
	model  string
	voice  string
	logger *slog.Logger
}

// TTSConfig holds configuration for the speech provider.
type TTSConfig struct {
	APIKey string
	Model  string // default tts-1
	Voice  string // default alloy
}

// NewSpeechTTS creates an OpenAI text-to-speech provider.
func NewSpeechTTS(cfg TTSConfig) (*SpeechTTS, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	model := cfg.Model
	if model == "" {
		model = "tts-1"
	}
	voice := cfg.Voice
	if voice == "" {
		voice = "alloy"
	}

	return &SpeechTTS{
		client: openai.NewClient(cfg.APIKey),
		model:  model,
		voice:  voice,
		logger: slog.Default().With("component", "openai-tts"),
	}, nil
}

// Synthesize requests PCM audio and repackages it as 10ms frames. The
// returned channel closes when synthesis completes or ctx is cancelled.
func (t *SpeechTTS) Synthesize(ctx context.Context, req tts.SynthesizeRequest) (<-chan rtc.AudioFrame, error) {
	voice := req.Voice
	if voice == "" {
		voice = t.voice
	}

	speechReq := openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(t.model),
		Input:          req.Text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatPcm,
	}
	if req.Speed > 0 {
		speechReq.Speed = float64(req.Speed)
	}

	frames := make(chan rtc.AudioFrame, 16)

	go func() {
		defer close(frames)

		start := time.Now()

		resp, err := t.client.CreateSpeech(ctx, speechReq)
		if err != nil {
			t.logger.Error("speech synthesis failed", "error", err)
			return
		}
		defer resp.Close()

		if err := t.streamFrames(ctx, resp, frames, start); err != nil {
			t.logger.Error("reading speech response", "error", err)
			return
		}

		t.logger.Debug("speech synthesis complete",
			"voice", voice, "duration", time.Since(start))
	}()

	return frames, nil
}

// streamFrames repackages the PCM byte stream into exact 10ms frames,
// zero-padding the final partial frame.
func (t *SpeechTTS) streamFrames(ctx context.Context, src io.Reader, out chan<- rtc.AudioFrame, start time.Time) error {
	buf := make([]byte, ttsFrameBytes)
	filled := 0
	index := 0

	emit := func() error {
		frame := rtc.AudioFrame{
			Data:              append([]byte(nil), buf...),
			SampleRate:        ttsSampleRate,
			SamplesPerChannel: ttsSampleRate / 100,
			NumChannels:       1,
			Timestamp:         time.Duration(index) * 10 * time.Millisecond,
		}
		index++

		select {
		case out <- frame:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		n, err := src.Read(buf[filled:])
		filled += n

		if filled == ttsFrameBytes {
			if err := emit(); err != nil {
				return nil
			}
			filled = 0
		}

		if err == io.EOF {
			if filled > 0 {
				for i := filled; i < ttsFrameBytes; i++ {
					buf[i] = 0
				}
				emit()
			}
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Capabilities describes the speech provider.
func (t *SpeechTTS) Capabilities() tts.Capabilities {
	return tts.Capabilities{
		Streaming:            false,
		SupportedLanguages:   []string{"en", "es", "fr", "de", "it", "pt", "ru", "ja", "ko", "zh"},
		SupportedVoices:      []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"},
		SampleRates:          []int{ttsSampleRate},
		SupportsSpeedControl: true,
	}
}
