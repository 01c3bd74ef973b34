package session

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/voicebridge/voicebridge/pkg/ai/llm"
	llmfake "github.com/voicebridge/voicebridge/pkg/ai/llm/fake"
	sttfake "github.com/voicebridge/voicebridge/pkg/ai/stt/fake"
	ttsfake "github.com/voicebridge/voicebridge/pkg/ai/tts/fake"
	vadfake "github.com/voicebridge/voicebridge/pkg/ai/vad/fake"
	"github.com/voicebridge/voicebridge/pkg/rtc"
	"github.com/voicebridge/voicebridge/pkg/tool"
	turnfake "github.com/voicebridge/voicebridge/pkg/turn/fake"
)

type controllerFixture struct {
	controller *Controller
	llm        *llmfake.FakeLLM
	micIn      chan rtc.AudioFrame
	ttsOut     chan rtc.AudioFrame
	cancel     context.CancelFunc
	done       chan error
}

func startController(t *testing.T, mutate func(*ControllerConfig)) *controllerFixture {
	t.Helper()

	micIn := make(chan rtc.AudioFrame, 64)
	ttsOut := make(chan rtc.AudioFrame, 256)
	fakeLLM := llmfake.NewFakeLLM()

	cfg := ControllerConfig{
		STT:          sttfake.NewFakeSTT("what is the weather"),
		TTS:          ttsfake.NewFakeTTS(),
		LLM:          fakeLLM,
		VAD:          vadfake.NewFakeVADWithCadence(5, 10),
		TurnDetector: turnfake.NewFakeDetector(),
		MicIn:        micIn,
		TTSOut:       ttsOut,
		SystemPrompt: "You are a helpful voice assistant.",
	}
	if mutate != nil {
		mutate(&cfg)
	}

	c, err := NewController(cfg)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Start(ctx)
	}()

	// Keep playback from blocking the loop.
	go func() {
		for range ttsOut {
		}
	}()

	f := &controllerFixture{
		controller: c,
		llm:        fakeLLM,
		micIn:      micIn,
		ttsOut:     ttsOut,
		cancel:     cancel,
		done:       done,
	}
	t.Cleanup(func() {
		cancel()
		c.Close()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("controller did not stop")
		}
	})
	return f
}

func testFrame(t *testing.T) rtc.AudioFrame {
	t.Helper()
	frame, err := rtc.NewAudioFrame(make([]byte, 960), 48000, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	return *frame
}

// pushFrames feeds n mic frames with a small pacing delay so the VAD and
// STT goroutines get scheduled between frames.
func (f *controllerFixture) pushFrames(t *testing.T, n int) {
	t.Helper()
	frame := testFrame(t)
	for i := 0; i < n; i++ {
		select {
		case f.micIn <- frame:
		case <-time.After(time.Second):
			t.Fatal("mic channel blocked")
		}
		time.Sleep(time.Millisecond)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (f *controllerFixture) historyContains(role llm.MessageRole, substr string) bool {
	for _, msg := range f.controller.History() {
		if msg.Role == role && strings.Contains(msg.Content, substr) {
			return true
		}
	}
	return false
}

func TestControllerStartsListening(t *testing.T) {
	f := startController(t, nil)
	waitFor(t, "listening state", func() bool {
		return f.controller.GetState() == StateListening
	})
}

func TestControllerConversationFlow(t *testing.T) {
	f := startController(t, nil)
	f.llm.QueueResponse("It is sunny today.")

	waitFor(t, "listening state", func() bool {
		return f.controller.GetState() == StateListening
	})

	// Enough frames for SpeechStart (5) plus SpeechEnd (10 more).
	f.pushFrames(t, 20)

	waitFor(t, "user turn in history", func() bool {
		return f.historyContains(llm.RoleUser, "what is the weather")
	})
	waitFor(t, "assistant reply in history", func() bool {
		return f.historyContains(llm.RoleAssistant, "It is sunny today.")
	})
	waitFor(t, "return to listening", func() bool {
		return f.controller.GetState() == StateListening
	})
}

func TestControllerInitialGreeting(t *testing.T) {
	var fakeLLM *llmfake.FakeLLM
	f := startController(t, func(cfg *ControllerConfig) {
		fakeLLM = llmfake.NewFakeLLM("Hi! I'm your assistant.")
		cfg.LLM = fakeLLM
		cfg.GreetingInstructions = "Greet the user and offer your assistance."
	})

	// The greeting is generated without any user speech.
	waitFor(t, "greeting in history", func() bool {
		return f.historyContains(llm.RoleAssistant, "Hi! I'm your assistant.")
	})

	reqs := fakeLLM.Requests()
	if len(reqs) == 0 {
		t.Fatal("no LLM request recorded")
	}
	last := reqs[0].Messages[len(reqs[0].Messages)-1]
	is := is.New(t)
	is.Equal(last.Role, llm.RoleSystem)
	is.True(strings.Contains(last.Content, "Greet the user"))
}

func TestControllerFunctionCallRound(t *testing.T) {
	dispatcher := tool.NewDispatcher(nil)
	var calledArgs string
	err := dispatcher.Register(tool.Definition{
		Name:        "send_greeting",
		Description: "send a greeting",
		Parameters:  map[string]any{"type": "object"},
		Run: func(ctx context.Context, args json.RawMessage) (string, error) {
			calledArgs = string(args)
			return "Greeting sent to client: Hello from the agent!", nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	f := startController(t, func(cfg *ControllerConfig) {
		cfg.Tools = dispatcher
	})
	f.llm.QueueFunctionCall("send_greeting", `{"message":"Hello from the agent!"}`)
	f.llm.QueueResponse("Done, I sent the greeting.")

	waitFor(t, "listening state", func() bool {
		return f.controller.GetState() == StateListening
	})
	f.pushFrames(t, 20)

	waitFor(t, "tool result in history", func() bool {
		return f.historyContains(llm.RoleFunction, "Greeting sent to client")
	})
	waitFor(t, "final reply in history", func() bool {
		return f.historyContains(llm.RoleAssistant, "Done, I sent the greeting.")
	})

	is := is.New(t)
	is.True(strings.Contains(calledArgs, "Hello from the agent!"))

	// The invocation and its result are both recorded, threaded by the
	// provider's call id.
	var invocation, result *llm.Message
	for _, msg := range f.controller.History() {
		msg := msg
		switch {
		case msg.Role == llm.RoleAssistant && msg.FunctionCall != nil:
			invocation = &msg
		case msg.Role == llm.RoleFunction:
			result = &msg
		}
	}
	is.True(invocation != nil)
	is.Equal(invocation.FunctionCall.Name, "send_greeting")
	is.True(invocation.FunctionCall.ID != "")
	is.True(result != nil)
	is.True(result.FunctionCall != nil)
	is.Equal(result.FunctionCall.ID, invocation.FunctionCall.ID)
}

func TestControllerToolRoundLimit(t *testing.T) {
	dispatcher := tool.NewDispatcher(nil)
	calls := 0
	err := dispatcher.Register(tool.Definition{
		Name:       "loop_forever",
		Parameters: map[string]any{"type": "object"},
		Run: func(ctx context.Context, args json.RawMessage) (string, error) {
			calls++
			return "again", nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	f := startController(t, func(cfg *ControllerConfig) {
		cfg.Tools = dispatcher
	})
	// More scripted calls than the round limit allows.
	for i := 0; i < 10; i++ {
		f.llm.QueueFunctionCall("loop_forever", "{}")
	}

	waitFor(t, "listening state", func() bool {
		return f.controller.GetState() == StateListening
	})
	f.pushFrames(t, 20)

	waitFor(t, "apology after round limit", func() bool {
		return f.historyContains(llm.RoleAssistant, "Sorry, I got stuck")
	})

	is := is.New(t)
	is.True(calls <= maxToolRounds+1)
}

func TestControllerPartialTurnKeepsPending(t *testing.T) {
	// A detector that never confirms end of turn keeps the session
	// listening and out of inference.
	f := startController(t, func(cfg *ControllerConfig) {
		cfg.TurnDetector = turnfake.NewFakeDetectorWithValues(0.1, 0.85)
	})

	waitFor(t, "listening state", func() bool {
		return f.controller.GetState() == StateListening
	})
	f.pushFrames(t, 20)

	waitFor(t, "back to listening with pending transcript", func() bool {
		return f.controller.GetState() == StateListening
	})
	time.Sleep(50 * time.Millisecond)

	is := is.New(t)
	is.True(!f.historyContains(llm.RoleUser, "what is the weather"))
	is.Equal(len(f.llm.Requests()), 0)
}

func TestControllerClose(t *testing.T) {
	f := startController(t, nil)
	waitFor(t, "listening state", func() bool {
		return f.controller.GetState() == StateListening
	})

	f.controller.Close()
	select {
	case err := <-f.done:
		is := is.New(t)
		is.NoErr(err)
	case <-time.After(2 * time.Second):
		t.Fatal("controller did not exit on Close")
	}

	is := is.New(t)
	is.Equal(f.controller.GetState(), StateEnded)
}

func TestControllerRequiredConfig(t *testing.T) {
	is := is.New(t)

	_, err := NewController(ControllerConfig{})
	is.True(err != nil)
}
