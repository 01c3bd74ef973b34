// Package cartesia provides text-to-speech over the Cartesia REST API.
// There is no official Go SDK; the bytes endpoint streams raw PCM which
// maps directly onto 10ms audio frames.
package cartesia

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/voicebridge/voicebridge/pkg/ai/tts"
	"github.com/voicebridge/voicebridge/pkg/plugin"
	"github.com/voicebridge/voicebridge/pkg/rtc"
)

const (
	bytesEndpoint = "https://api.cartesia.ai/tts/bytes"
	apiVersion    = "2024-06-10"

	defaultModel = "sonic-2"

	sampleRate = 24000
	frameBytes = sampleRate / 100 * 2
)

// SonicTTS implements text-to-speech using Cartesia's Sonic models.
type SonicTTS struct {
	apiKey string
	model  string
	voice  string
	client *http.Client
	logger *slog.Logger
}

// Config holds configuration for the Sonic provider.
type Config struct {
	APIKey string
	Model  string // default sonic-2
	Voice  string // Cartesia voice ID
}

// NewSonicTTS creates a Cartesia text-to-speech provider.
func NewSonicTTS(cfg Config) (*SonicTTS, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Cartesia API key is required")
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}

	return &SonicTTS{
		apiKey: cfg.APIKey,
		model:  model,
		voice:  cfg.Voice,
		client: &http.Client{Timeout: 60 * time.Second},
		logger: slog.Default().With("component", "cartesia-tts"),
	}, nil
}

type synthesisRequest struct {
	ModelID      string       `json:"model_id"`
	Transcript   string       `json:"transcript"`
	Voice        voiceRef     `json:"voice"`
	OutputFormat outputFormat `json:"output_format"`
	Language     string       `json:"language,omitempty"`
	Speed        string       `json:"speed,omitempty"`
}

type voiceRef struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type outputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// Synthesize streams raw PCM from the bytes endpoint as 10ms frames. The
// returned channel closes when synthesis completes or ctx is cancelled.
func (t *SonicTTS) Synthesize(ctx context.Context, req tts.SynthesizeRequest) (<-chan rtc.AudioFrame, error) {
	voice := req.Voice
	if voice == "" {
		voice = t.voice
	}
	if voice == "" {
		return nil, fmt.Errorf("cartesia voice ID is required")
	}

	body := synthesisRequest{
		ModelID:    t.model,
		Transcript: req.Text,
		Voice:      voiceRef{Mode: "id", ID: voice},
		OutputFormat: outputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: sampleRate,
		},
		Language: normalizeLanguage(req.Language),
	}
	if req.Speed != 0 {
		body.Speed = speedLabel(req.Speed)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding synthesis request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, bytesEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building synthesis request: %w", err)
	}
	httpReq.Header.Set("X-API-Key", t.apiKey)
	httpReq.Header.Set("Cartesia-Version", apiVersion)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: synthesis request: %v", tts.ErrRecoverable, err)
	}
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: synthesis HTTP %d: %s", tts.ErrRecoverable, resp.StatusCode, detail)
	}

	frames := make(chan rtc.AudioFrame, 16)

	go func() {
		defer close(frames)
		defer resp.Body.Close()

		start := time.Now()
		if err := streamFrames(ctx, resp.Body, frames); err != nil {
			t.logger.Error("reading synthesis response", "error", err)
			return
		}
		t.logger.Debug("synthesis complete", "duration", time.Since(start))
	}()

	return frames, nil
}

// streamFrames repackages the PCM stream into exact 10ms frames,
// zero-padding the final partial frame.
func streamFrames(ctx context.Context, src io.Reader, out chan<- rtc.AudioFrame) error {
	buf := make([]byte, frameBytes)
	filled := 0
	index := 0

	emit := func() bool {
		frame := rtc.AudioFrame{
			Data:              append([]byte(nil), buf...),
			SampleRate:        sampleRate,
			SamplesPerChannel: sampleRate / 100,
			NumChannels:       1,
			Timestamp:         time.Duration(index) * 10 * time.Millisecond,
		}
		index++

		select {
		case out <- frame:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		n, err := src.Read(buf[filled:])
		filled += n

		if filled == frameBytes {
			if !emit() {
				return nil
			}
			filled = 0
		}

		if err == io.EOF {
			if filled > 0 {
				for i := filled; i < frameBytes; i++ {
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

// Capabilities describes the Sonic provider.
func (t *SonicTTS) Capabilities() tts.Capabilities {
	return tts.Capabilities{
		Streaming:            true,
		SupportedLanguages:   []string{"en", "es", "fr", "de", "it", "pt", "pl", "nl", "ru", "ja", "ko", "zh", "hi", "tr", "sv"},
		SampleRates:          []int{sampleRate},
		SupportsSpeedControl: true,
	}
}

// normalizeLanguage maps region-qualified tags to the bare code the API
// expects ("en-US" -> "en").
func normalizeLanguage(language string) string {
	if language == "" {
		return ""
	}
	for i := 0; i < len(language); i++ {
		if language[i] == '-' {
			return language[:i]
		}
	}
	return language
}

// speedLabel buckets the numeric speed into the API's named speeds.
func speedLabel(speed float32) string {
	switch {
	case speed < 0.9:
		return "slow"
	case speed > 1.1:
		return "fast"
	default:
		return "normal"
	}
}

func newTTS(cfg map[string]any) (any, error) {
	apiKey, _ := cfg["api_key"].(string)
	if apiKey == "" {
		apiKey = os.Getenv("CARTESIA_API_KEY")
	}

	model, _ := cfg["model"].(string)
	voice, _ := cfg["voice"].(string)

	return NewSonicTTS(Config{APIKey: apiKey, Model: model, Voice: voice})
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindTTS,
		Name:        "cartesia",
		Factory:     newTTS,
		Description: "Cartesia Sonic text-to-speech",
		Version:     "1.0.0",
	})
}
