package session

import (
	"fmt"
	"log/slog"

	"github.com/voicebridge/voicebridge/pkg/ai/llm"
	"github.com/voicebridge/voicebridge/pkg/ai/realtime"
	"github.com/voicebridge/voicebridge/pkg/ai/stt"
	"github.com/voicebridge/voicebridge/pkg/ai/tts"
	"github.com/voicebridge/voicebridge/pkg/ai/vad"
	"github.com/voicebridge/voicebridge/pkg/plugin"
	"github.com/voicebridge/voicebridge/pkg/turn"
	turnfake "github.com/voicebridge/voicebridge/pkg/turn/fake"
)

// pipeline bundles the resolved backends for one session.
type pipeline struct {
	stt      stt.STT
	llm      llm.LLM
	tts      tts.TTS
	vad      vad.VAD
	detector turn.Detector
}

// buildPipeline resolves configured providers through the plugin registry.
func buildPipeline(cfg PipelineConfig, logger *slog.Logger) (*pipeline, error) {
	p := &pipeline{}

	sttBackend, err := resolve(plugin.KindSTT, string(cfg.STT.Provider), map[string]any{
		"api_key":  cfg.STT.APIKey,
		"model":    cfg.STT.Model,
		"language": cfg.Language,
	})
	if err != nil {
		return nil, err
	}
	var ok bool
	if p.stt, ok = sttBackend.(stt.STT); !ok {
		return nil, fmt.Errorf("stt plugin %q returned %T", cfg.STT.Provider, sttBackend)
	}

	llmBackend, err := resolve(plugin.KindLLM, string(cfg.LLM.Provider), map[string]any{
		"api_key":     cfg.LLM.APIKey,
		"model":       cfg.LLM.Model,
		"temperature": cfg.LLM.Temperature,
	})
	if err != nil {
		return nil, err
	}
	if p.llm, ok = llmBackend.(llm.LLM); !ok {
		return nil, fmt.Errorf("llm plugin %q returned %T", cfg.LLM.Provider, llmBackend)
	}

	ttsBackend, err := resolve(plugin.KindTTS, string(cfg.TTS.Provider), map[string]any{
		"api_key": cfg.TTS.APIKey,
		"model":   cfg.TTS.Model,
		"voice":   cfg.TTS.Voice,
	})
	if err != nil {
		return nil, err
	}
	if p.tts, ok = ttsBackend.(tts.TTS); !ok {
		return nil, fmt.Errorf("tts plugin %q returned %T", cfg.TTS.Provider, ttsBackend)
	}

	vadBackend, err := resolve(plugin.KindVAD, string(cfg.VAD.Provider), map[string]any{})
	if err != nil {
		return nil, err
	}
	if p.vad, ok = vadBackend.(vad.VAD); !ok {
		return nil, fmt.Errorf("vad plugin %q returned %T", cfg.VAD.Provider, vadBackend)
	}

	p.detector, err = buildDetector(cfg.Turn, logger)
	if err != nil {
		return nil, err
	}

	return p, nil
}

// buildRealtime resolves the combined speech-to-speech backend.
func buildRealtime(cfg RealtimeConfig) (realtime.Model, error) {
	backend, err := resolve(plugin.KindRealtime, string(cfg.Provider), map[string]any{
		"api_key": cfg.APIKey,
		"model":   cfg.Model,
	})
	if err != nil {
		return nil, err
	}
	model, ok := backend.(realtime.Model)
	if !ok {
		return nil, fmt.Errorf("realtime plugin %q returned %T", cfg.Provider, backend)
	}
	return model, nil
}

func resolve(kind, name string, cfg map[string]any) (any, error) {
	factory, ok := plugin.Get(kind, name)
	if !ok {
		return nil, fmt.Errorf("no %s plugin registered for %q", kind, name)
	}
	backend, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating %s backend %q: %w", kind, name, err)
	}
	return backend, nil
}

func buildDetector(cfg TurnConfig, logger *slog.Logger) (turn.Detector, error) {
	switch cfg.Provider {
	case TurnNone:
		return nil, nil
	case TurnFake:
		return turnfake.NewFakeDetector(), nil
	case TurnEnglish, TurnMultilingual:
		return turn.NewDetector(turn.DetectorConfig{
			Model:     string(cfg.Provider),
			ModelPath: cfg.ModelPath,
			RemoteURL: cfg.RemoteURL,
			Logger:    logger,
		})
	default:
		return nil, fmt.Errorf("unknown turn provider: %q", cfg.Provider)
	}
}
