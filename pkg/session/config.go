package session

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/voicebridge/voicebridge/pkg/room"
)

// STTProvider selects the speech-to-text backend.
type STTProvider string

const (
	STTOpenAI     STTProvider = "openai"
	STTAssemblyAI STTProvider = "assemblyai"
	STTFake       STTProvider = "fake"
)

// LLMProvider selects the language model backend.
type LLMProvider string

const (
	LLMOpenAI LLMProvider = "openai"
	LLMFake   LLMProvider = "fake"
)

// TTSProvider selects the text-to-speech backend.
type TTSProvider string

const (
	TTSOpenAI   TTSProvider = "openai"
	TTSCartesia TTSProvider = "cartesia"
	TTSFake     TTSProvider = "fake"
)

// VADProvider selects the voice activity detection backend.
type VADProvider string

const (
	VADSilero VADProvider = "silero"
	VADFake   VADProvider = "fake"
)

// TurnProvider selects the end-of-turn detection backend.
type TurnProvider string

const (
	TurnEnglish      TurnProvider = "english"
	TurnMultilingual TurnProvider = "multilingual"
	TurnFake         TurnProvider = "fake"
	TurnNone         TurnProvider = "none"
)

// RealtimeProvider selects a combined speech-in/speech-out backend that
// replaces the separate STT, LLM, and TTS stages.
type RealtimeProvider string

const (
	RealtimeOpenAI RealtimeProvider = "openai"
	RealtimeFake   RealtimeProvider = "fake"
)

// NoiseCancellationProfile selects the noise cancellation model applied to
// the inbound audio track.
type NoiseCancellationProfile string

const (
	// NoiseCancellationStandard is the wideband model for WebRTC clients.
	NoiseCancellationStandard NoiseCancellationProfile = "standard"

	// NoiseCancellationTelephony is the narrowband model tuned for
	// telephone audio.
	NoiseCancellationTelephony NoiseCancellationProfile = "telephony"
)

// NoiseCancellationFor picks the profile for a participant. Telephone
// callers get the telephony model, everyone else the standard one.
func NoiseCancellationFor(kind room.ParticipantKind) NoiseCancellationProfile {
	if kind == room.KindSIP {
		return NoiseCancellationTelephony
	}
	return NoiseCancellationStandard
}

// Config is the top level session configuration.
type Config struct {
	LiveKit  LiveKitConfig  `yaml:"livekit"`
	Agent    AgentConfig    `yaml:"agent"`
	Pipeline PipelineConfig `yaml:"pipeline"`
}

// LiveKitConfig holds server connection settings.
type LiveKitConfig struct {
	URL       string `yaml:"url"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`

	// Room to join.
	Room string `yaml:"room"`

	// Token, when set, is used as the join token instead of minting one
	// from the API key and secret. Job assignments arrive with a token.
	Token string `yaml:"-"`
}

// AgentConfig holds the agent persona and session behavior.
type AgentConfig struct {
	// Identity the agent joins the room with.
	Identity string `yaml:"identity"`

	// SystemPrompt seeds the conversation.
	SystemPrompt string `yaml:"system_prompt"`

	// Greeting, when set, is the instruction used to generate the spoken
	// greeting once the session starts listening.
	Greeting string `yaml:"greeting"`

	// WaitForParticipant bounds how long the session waits for the first
	// remote participant.
	WaitForParticipant time.Duration `yaml:"wait_for_participant"`
}

// PipelineConfig selects and configures the audio pipeline backends.
// Realtime, when set, replaces STT, LLM, and TTS; configuring both is a
// validation error.
type PipelineConfig struct {
	STT      STTConfig      `yaml:"stt"`
	LLM      LLMConfig      `yaml:"llm"`
	TTS      TTSConfig      `yaml:"tts"`
	VAD      VADConfig      `yaml:"vad"`
	Turn     TurnConfig     `yaml:"turn"`
	Realtime RealtimeConfig `yaml:"realtime"`

	// Language used across STT and turn detection.
	Language string `yaml:"language"`
}

type STTConfig struct {
	Provider STTProvider `yaml:"provider"`
	Model    string      `yaml:"model"`
	APIKey   string      `yaml:"api_key"`
}

type LLMConfig struct {
	Provider    LLMProvider `yaml:"provider"`
	Model       string      `yaml:"model"`
	APIKey      string      `yaml:"api_key"`
	Temperature float32     `yaml:"temperature"`
}

type TTSConfig struct {
	Provider TTSProvider `yaml:"provider"`
	Model    string      `yaml:"model"`
	Voice    string      `yaml:"voice"`
	APIKey   string      `yaml:"api_key"`
}

type VADConfig struct {
	Provider VADProvider `yaml:"provider"`
}

type TurnConfig struct {
	Provider TurnProvider `yaml:"provider"`

	// ModelPath overrides the default model directory for local detection.
	ModelPath string `yaml:"model_path"`

	// RemoteURL, when set, routes predictions to a remote inference service
	// with the local model as fallback.
	RemoteURL string `yaml:"remote_url"`
}

// RealtimeConfig configures the combined speech-to-speech backend.
type RealtimeConfig struct {
	Provider RealtimeProvider `yaml:"provider"`
	Model    string           `yaml:"model"`
	Voice    string           `yaml:"voice"`
	APIKey   string           `yaml:"api_key"`
}

// Defaults used when the file leaves fields unset.
func defaultConfig() Config {
	return Config{
		Agent: AgentConfig{
			Identity:           "voicebridge-agent",
			WaitForParticipant: room.DefaultWaitForParticipant,
		},
		Pipeline: PipelineConfig{
			STT:      STTConfig{Provider: STTOpenAI},
			LLM:      LLMConfig{Provider: LLMOpenAI, Model: "gpt-4.1-mini"},
			TTS:      TTSConfig{Provider: TTSOpenAI},
			VAD:      VADConfig{Provider: VADSilero},
			Turn:     TurnConfig{Provider: TurnMultilingual},
			Language: "en-US",
		},
	}
}

// DefaultConfig returns the built-in defaults with environment
// credentials applied. Callers fill in the server URL and room before
// starting a session.
func DefaultConfig() Config {
	cfg := defaultConfig()
	cfg.applyEnv()
	return cfg
}

// LoadConfig reads and validates a YAML config file. Unset fields fall
// back to defaults; environment variables fill the LiveKit credentials
// when the file omits them.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	// Detect the conflict before defaults fill the pipeline providers in.
	if cfg.Pipeline.Realtime.Provider != "" {
		if cfg.Pipeline.STT.Provider != "" || cfg.Pipeline.LLM.Provider != "" || cfg.Pipeline.TTS.Provider != "" {
			return Config{}, fmt.Errorf("realtime model replaces stt, llm, and tts; configure one or the other")
		}
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyDefaults fills unset fields. A configured realtime model leaves the
// replaced pipeline stages empty.
func (c *Config) applyDefaults() {
	d := defaultConfig()

	if c.Agent.Identity == "" {
		c.Agent.Identity = d.Agent.Identity
	}
	if c.Agent.WaitForParticipant == 0 {
		c.Agent.WaitForParticipant = d.Agent.WaitForParticipant
	}
	if c.Pipeline.Language == "" {
		c.Pipeline.Language = d.Pipeline.Language
	}

	if c.Pipeline.Realtime.Provider != "" {
		return
	}

	if c.Pipeline.STT.Provider == "" {
		c.Pipeline.STT.Provider = d.Pipeline.STT.Provider
	}
	if c.Pipeline.LLM.Provider == "" {
		c.Pipeline.LLM.Provider = d.Pipeline.LLM.Provider
	}
	if c.Pipeline.LLM.Model == "" {
		c.Pipeline.LLM.Model = d.Pipeline.LLM.Model
	}
	if c.Pipeline.TTS.Provider == "" {
		c.Pipeline.TTS.Provider = d.Pipeline.TTS.Provider
	}
	if c.Pipeline.VAD.Provider == "" {
		c.Pipeline.VAD.Provider = d.Pipeline.VAD.Provider
	}
	if c.Pipeline.Turn.Provider == "" {
		c.Pipeline.Turn.Provider = d.Pipeline.Turn.Provider
	}
}

func (c *Config) applyEnv() {
	if c.LiveKit.URL == "" {
		c.LiveKit.URL = os.Getenv("LIVEKIT_URL")
	}
	if c.LiveKit.APIKey == "" {
		c.LiveKit.APIKey = os.Getenv("LIVEKIT_API_KEY")
	}
	if c.LiveKit.APISecret == "" {
		c.LiveKit.APISecret = os.Getenv("LIVEKIT_API_SECRET")
	}
	if c.Pipeline.LLM.APIKey == "" {
		c.Pipeline.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.Pipeline.STT.APIKey == "" {
		switch c.Pipeline.STT.Provider {
		case STTAssemblyAI:
			c.Pipeline.STT.APIKey = os.Getenv("ASSEMBLYAI_API_KEY")
		case STTOpenAI:
			c.Pipeline.STT.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if c.Pipeline.TTS.APIKey == "" {
		switch c.Pipeline.TTS.Provider {
		case TTSCartesia:
			c.Pipeline.TTS.APIKey = os.Getenv("CARTESIA_API_KEY")
		case TTSOpenAI:
			c.Pipeline.TTS.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if c.Pipeline.Realtime.APIKey == "" && c.Pipeline.Realtime.Provider == RealtimeOpenAI {
		c.Pipeline.Realtime.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}

// Validate checks provider names and required connection settings.
func (c *Config) Validate() error {
	if c.Pipeline.Realtime.Provider != "" {
		switch c.Pipeline.Realtime.Provider {
		case RealtimeOpenAI, RealtimeFake:
		default:
			return fmt.Errorf("unknown realtime provider: %q", c.Pipeline.Realtime.Provider)
		}
		if c.Pipeline.STT.Provider != "" || c.Pipeline.LLM.Provider != "" || c.Pipeline.TTS.Provider != "" {
			return fmt.Errorf("realtime model replaces stt, llm, and tts; configure one or the other")
		}
	} else {
		switch c.Pipeline.STT.Provider {
		case STTOpenAI, STTAssemblyAI, STTFake:
		default:
			return fmt.Errorf("unknown stt provider: %q", c.Pipeline.STT.Provider)
		}
		switch c.Pipeline.LLM.Provider {
		case LLMOpenAI, LLMFake:
		default:
			return fmt.Errorf("unknown llm provider: %q", c.Pipeline.LLM.Provider)
		}
		switch c.Pipeline.TTS.Provider {
		case TTSOpenAI, TTSCartesia, TTSFake:
		default:
			return fmt.Errorf("unknown tts provider: %q", c.Pipeline.TTS.Provider)
		}
		switch c.Pipeline.VAD.Provider {
		case VADSilero, VADFake:
		default:
			return fmt.Errorf("unknown vad provider: %q", c.Pipeline.VAD.Provider)
		}
		switch c.Pipeline.Turn.Provider {
		case TurnEnglish, TurnMultilingual, TurnFake, TurnNone:
		default:
			return fmt.Errorf("unknown turn provider: %q", c.Pipeline.Turn.Provider)
		}
	}

	if c.LiveKit.URL == "" {
		return fmt.Errorf("livekit url is required")
	}
	if c.LiveKit.Room == "" {
		return fmt.Errorf("livekit room is required")
	}
	if c.Agent.Identity == "" {
		return fmt.Errorf("agent identity is required")
	}
	if c.Agent.WaitForParticipant < 0 {
		return fmt.Errorf("wait_for_participant must not be negative")
	}
	return nil
}
