// Package fake registers deterministic fake providers for every pipeline
// backend kind. Importing it gives a fully offline pipeline for tests and
// local development.
package fake

import (
	llmfake "github.com/voicebridge/voicebridge/pkg/ai/llm/fake"
	realtimefake "github.com/voicebridge/voicebridge/pkg/ai/realtime/fake"
	sttfake "github.com/voicebridge/voicebridge/pkg/ai/stt/fake"
	ttsfake "github.com/voicebridge/voicebridge/pkg/ai/tts/fake"
	vadfake "github.com/voicebridge/voicebridge/pkg/ai/vad/fake"
	"github.com/voicebridge/voicebridge/pkg/plugin"
)

func newFakeSTT(cfg map[string]any) (any, error) {
	transcript := ""
	if t, ok := cfg["transcript"].(string); ok {
		transcript = t
	}
	return sttfake.NewFakeSTT(transcript), nil
}

func newFakeTTS(cfg map[string]any) (any, error) {
	return ttsfake.NewFakeTTS(), nil
}

func newFakeLLM(cfg map[string]any) (any, error) {
	var responses []string
	if r, ok := cfg["responses"].([]string); ok {
		responses = r
	}
	return llmfake.NewFakeLLM(responses...), nil
}

func newFakeVAD(cfg map[string]any) (any, error) {
	speechAfter, _ := cfg["speech_after_frames"].(int)
	silenceAfter, _ := cfg["silence_after_frames"].(int)
	if speechAfter > 0 || silenceAfter > 0 {
		return vadfake.NewFakeVADWithCadence(speechAfter, silenceAfter), nil
	}
	return vadfake.NewFakeVAD(), nil
}

func newFakeRealtime(cfg map[string]any) (any, error) {
	var replies []string
	if r, ok := cfg["replies"].([]string); ok {
		replies = r
	}
	return realtimefake.NewFakeModel(replies...), nil
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindSTT,
		Name:        "fake",
		Factory:     newFakeSTT,
		Description: "Fake STT provider for testing and development",
		Version:     "1.0.0",
	})

	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindTTS,
		Name:        "fake",
		Factory:     newFakeTTS,
		Description: "Fake TTS provider for testing and development",
		Version:     "1.0.0",
	})

	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindLLM,
		Name:        "fake",
		Factory:     newFakeLLM,
		Description: "Fake LLM provider for testing and development",
		Version:     "1.0.0",
	})

	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindVAD,
		Name:        "fake",
		Factory:     newFakeVAD,
		Description: "Fake VAD provider for testing and development",
		Version:     "1.0.0",
	})

	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindRealtime,
		Name:        "fake",
		Factory:     newFakeRealtime,
		Description: "Fake realtime model for testing and development",
		Version:     "1.0.0",
	})
}
