package openai

import (
	"os"

	"github.com/voicebridge/voicebridge/pkg/plugin"
)

// apiKey prefers the configured key over the environment.
func apiKey(cfg map[string]any) string {
	if key, ok := cfg["api_key"].(string); ok && key != "" {
		return key
	}
	return os.Getenv("OPENAI_API_KEY")
}

func stringOpt(cfg map[string]any, key string) string {
	v, _ := cfg[key].(string)
	return v
}

func floatOpt(cfg map[string]any, key string) float32 {
	switch v := cfg[key].(type) {
	case float32:
		return v
	case float64:
		return float32(v)
	}
	return 0
}

func newSTT(cfg map[string]any) (any, error) {
	return NewWhisperSTT(STTConfig{
		APIKey:   apiKey(cfg),
		Model:    stringOpt(cfg, "model"),
		Language: stringOpt(cfg, "language"),
	})
}

func newLLM(cfg map[string]any) (any, error) {
	return NewChatLLM(LLMConfig{
		APIKey:      apiKey(cfg),
		Model:       stringOpt(cfg, "model"),
		Temperature: floatOpt(cfg, "temperature"),
	})
}

func newTTS(cfg map[string]any) (any, error) {
	return NewSpeechTTS(TTSConfig{
		APIKey: apiKey(cfg),
		Model:  stringOpt(cfg, "model"),
		Voice:  stringOpt(cfg, "voice"),
	})
}

func newRealtime(cfg map[string]any) (any, error) {
	return NewRealtimeModel(RealtimeConfig{
		APIKey: apiKey(cfg),
		Model:  stringOpt(cfg, "model"),
	})
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindSTT,
		Name:        "openai",
		Factory:     newSTT,
		Description: "OpenAI Whisper speech-to-text",
		Version:     "1.0.0",
	})

	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindLLM,
		Name:        "openai",
		Factory:     newLLM,
		Description: "OpenAI chat completion",
		Version:     "1.0.0",
	})

	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindTTS,
		Name:        "openai",
		Factory:     newTTS,
		Description: "OpenAI text-to-speech",
		Version:     "1.0.0",
	})

	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindRealtime,
		Name:        "openai",
		Factory:     newRealtime,
		Description: "OpenAI realtime speech-to-speech",
		Version:     "1.0.0",
	})
}
