package openai

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/matryer/is"
	openai "github.com/sashabaranov/go-openai"

	"github.com/voicebridge/voicebridge/pkg/ai/llm"
	"github.com/voicebridge/voicebridge/pkg/ai/stt"
	"github.com/voicebridge/voicebridge/pkg/plugin"
	"github.com/voicebridge/voicebridge/pkg/rtc"
)

func TestWhisperSTTConfiguration(t *testing.T) {
	is := is.New(t)

	_, err := NewWhisperSTT(STTConfig{})
	is.True(err != nil) // missing API key

	w, err := NewWhisperSTT(STTConfig{APIKey: "test-key", Model: "whisper-1", Language: "en"})
	is.NoErr(err)
	is.Equal(w.model, "whisper-1")
	is.Equal(w.language, "en")

	w, err = NewWhisperSTT(STTConfig{APIKey: "test-key"})
	is.NoErr(err)
	is.Equal(w.model, "whisper-1") // default model
}

func TestWhisperSTTCapabilities(t *testing.T) {
	is := is.New(t)

	w, err := NewWhisperSTT(STTConfig{APIKey: "test-key"})
	is.NoErr(err)

	caps := w.Capabilities()
	is.True(caps.Streaming)
	is.True(!caps.InterimResults)

	langs := make(map[string]bool)
	for _, l := range caps.SupportedLanguages {
		langs[l] = true
	}
	for _, want := range []string{"en", "es", "fr", "de", "ja", "zh"} {
		is.True(langs[want])
	}
}

func TestWhisperStreamLifecycle(t *testing.T) {
	is := is.New(t)

	w, err := NewWhisperSTT(STTConfig{APIKey: "test-key"})
	is.NoErr(err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := w.NewStream(ctx, stt.StreamConfig{
		SampleRate:  16000,
		NumChannels: 1,
		Language:    "en",
	})
	is.NoErr(err)

	frame := rtc.AudioFrame{
		Data:              make([]byte, 320),
		SampleRate:        16000,
		SamplesPerChannel: 160,
		NumChannels:       1,
	}

	is.NoErr(stream.Push(frame))
	is.NoErr(stream.CloseSend())

	is.True(stream.Push(frame) != nil)      // push after close
	is.True(stream.CloseSend() != nil)      // double close

	// A sub-100ms clip is dropped and the final flush reports empty text.
	select {
	case ev := <-stream.Events():
		is.Equal(ev.Type, stt.SpeechEventFinal)
		is.Equal(ev.Text, "")
	case <-time.After(2 * time.Second):
		t.Fatal("no final event after CloseSend")
	}
}

func TestCombineFrames(t *testing.T) {
	is := is.New(t)

	frames := []rtc.AudioFrame{
		{Data: []byte{1, 2, 3, 4}, SampleRate: 16000, NumChannels: 1},
		{Data: []byte{5, 6, 7, 8}, SampleRate: 16000, NumChannels: 1},
	}

	pcm, duration := combineFrames(frames)
	is.Equal(pcm, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	is.Equal(duration, 20*time.Millisecond)
}

func TestChatLLMConfiguration(t *testing.T) {
	is := is.New(t)

	_, err := NewChatLLM(LLMConfig{})
	is.True(err != nil) // missing API key

	c, err := NewChatLLM(LLMConfig{APIKey: "test-key"})
	is.NoErr(err)
	is.Equal(c.model, defaultChatModel)

	caps := c.Capabilities()
	is.True(caps.SupportsFunctions)
	is.True(caps.SupportsSystemRole)
}

func TestChatMessagesToolThreading(t *testing.T) {
	is := is.New(t)

	call := &llm.FunctionCall{ID: "call-1", Name: "send_greeting", Arguments: `{"message":"hi"}`}
	history := []llm.Message{
		{Role: llm.RoleSystem, Content: "You are a helpful voice assistant."},
		{Role: llm.RoleUser, Content: "greet the client"},
		{Role: llm.RoleAssistant, FunctionCall: call},
		llm.FunctionResult(call, "Greeting sent to client: hi"),
		{Role: llm.RoleAssistant, Content: "Done."},
	}

	msgs := chatMessages(history)
	is.Equal(len(msgs), 5)

	invocation := msgs[2]
	is.Equal(invocation.Role, openai.ChatMessageRoleAssistant)
	is.Equal(len(invocation.ToolCalls), 1)
	is.Equal(invocation.ToolCalls[0].ID, "call-1")
	is.Equal(invocation.ToolCalls[0].Function.Name, "send_greeting")
	is.Equal(invocation.ToolCalls[0].Function.Arguments, `{"message":"hi"}`)

	result := msgs[3]
	is.Equal(result.Role, openai.ChatMessageRoleTool)
	is.Equal(result.ToolCallID, "call-1")
	is.Equal(result.Content, "Greeting sent to client: hi")

	// Plain messages pass through untouched.
	is.Equal(msgs[0].Role, openai.ChatMessageRoleSystem)
	is.Equal(msgs[4].Content, "Done.")
}

func TestSpeechTTSConfiguration(t *testing.T) {
	is := is.New(t)

	_, err := NewSpeechTTS(TTSConfig{})
	is.True(err != nil) // missing API key

	s, err := NewSpeechTTS(TTSConfig{APIKey: "test-key"})
	is.NoErr(err)
	is.Equal(s.model, "tts-1")
	is.Equal(s.voice, "alloy")
}

func TestStreamFramesRepackaging(t *testing.T) {
	is := is.New(t)

	s, err := NewSpeechTTS(TTSConfig{APIKey: "test-key"})
	is.NoErr(err)

	// 2.5 frames of PCM: expect two full frames plus a padded tail.
	pcm := make([]byte, ttsFrameBytes*2+ttsFrameBytes/2)
	for i := range pcm {
		pcm[i] = byte(i%250 + 1)
	}

	out := make(chan rtc.AudioFrame, 8)
	err = s.streamFrames(context.Background(), bytes.NewReader(pcm), out, time.Now())
	is.NoErr(err)
	close(out)

	var frames []rtc.AudioFrame
	for f := range out {
		frames = append(frames, f)
	}

	is.Equal(len(frames), 3)
	for _, f := range frames {
		is.Equal(len(f.Data), ttsFrameBytes)
		is.Equal(f.SampleRate, ttsSampleRate)
		is.Equal(f.NumChannels, 1)
	}
	is.Equal(frames[0].Data[0], byte(1))
	is.Equal(frames[2].Data[ttsFrameBytes-1], byte(0)) // zero padded
}

func TestPluginRegistration(t *testing.T) {
	is := is.New(t)

	for _, kind := range []string{plugin.KindSTT, plugin.KindLLM, plugin.KindTTS} {
		factory, ok := plugin.Get(kind, "openai")
		is.True(ok)

		// Without a key in config or environment the factory must fail.
		t.Setenv("OPENAI_API_KEY", "")
		_, err := factory(map[string]any{})
		is.True(err != nil)

		backend, err := factory(map[string]any{"api_key": "test-key"})
		is.NoErr(err)
		is.True(backend != nil)
	}
}
