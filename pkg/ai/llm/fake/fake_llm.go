package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/voicebridge/voicebridge/pkg/ai/llm"
)

// FakeLLM is a scriptable LLM implementation for testing. Responses are
// consumed in order; when the script is exhausted a fixed default reply is
// returned. Every request is recorded for assertions.
type FakeLLM struct {
	mu       sync.Mutex
	script   []llm.ChatResponse
	requests []llm.ChatRequest
}

// NewFakeLLM creates a fake LLM provider with plain-text responses.
func NewFakeLLM(responses ...string) *FakeLLM {
	f := &FakeLLM{}
	for _, r := range responses {
		f.QueueResponse(r)
	}
	return f
}

// QueueResponse appends a plain spoken reply to the script.
func (f *FakeLLM) QueueResponse(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = append(f.script, llm.ChatResponse{
		Message:      llm.Message{Role: llm.RoleAssistant, Content: text},
		TokensUsed:   len(text),
		FinishReason: "stop",
	})
}

// QueueFunctionCall appends a tool invocation to the script. The call id
// is derived from the script position.
func (f *FakeLLM) QueueFunctionCall(name, arguments string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := fmt.Sprintf("call-%d", len(f.script)+1)
	f.script = append(f.script, llm.ChatResponse{
		Message:      llm.Message{Role: llm.RoleAssistant},
		FunctionCall: &llm.FunctionCall{ID: id, Name: name, Arguments: arguments},
		FinishReason: "function_call",
	})
}

// Chat pops the next scripted response.
func (f *FakeLLM) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return llm.ChatResponse{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)

	if len(f.script) == 0 {
		return llm.ChatResponse{
			Message:      llm.Message{Role: llm.RoleAssistant, Content: "This is a fake response."},
			FinishReason: "stop",
		}, nil
	}

	resp := f.script[0]
	f.script = f.script[1:]
	return resp, nil
}

// Requests returns a snapshot of all recorded chat requests.
func (f *FakeLLM) Requests() []llm.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]llm.ChatRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

// Capabilities returns the fake LLM capabilities.
func (f *FakeLLM) Capabilities() llm.Capabilities {
	return llm.Capabilities{
		SupportsFunctions:  true,
		SupportsStreaming:  false,
		MaxTokens:          4096,
		SupportedModels:    []string{"fake-model"},
		SupportsSystemRole: true,
	}
}
