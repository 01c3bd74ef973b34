package llm

import (
	"context"

	"github.com/voicebridge/voicebridge/pkg/ai"
)

// LLM-specific error variables re-exported for convenience.
var (
	ErrRecoverable = ai.ErrRecoverable
	ErrFatal       = ai.ErrFatal
)

// MessageRole represents the role of a message in a chat conversation.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleFunction  MessageRole = "function"
)

// Message represents a single message in a chat conversation.
type Message struct {
	Role    MessageRole
	Content string
	Name    string // for function messages

	// FunctionCall records the tool invocation on an assistant message and
	// ties a function-role result back to the call that produced it.
	FunctionCall *FunctionCall
}

// FunctionCall represents a tool invocation request emitted by the model.
type FunctionCall struct {
	ID        string // provider call id, echoed back with the result
	Name      string
	Arguments string // JSON-encoded arguments
}

// ChatRequest contains parameters for a chat completion request.
type ChatRequest struct {
	Messages    []Message
	MaxTokens   int
	Temperature float32
	Functions   []FunctionDefinition
}

// ChatResponse contains the response from a chat completion request.
// Exactly one of Message.Content or FunctionCall is meaningful: a response
// carrying a FunctionCall routes to the tool dispatcher instead of TTS.
type ChatResponse struct {
	Message      Message
	FunctionCall *FunctionCall
	TokensUsed   int
	FinishReason string
}

// FunctionDefinition defines a tool exposed to the model.
type FunctionDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema
}

// FunctionResult builds the function-role message that folds a tool's
// textual result back into the conversation. The call is attached so
// providers can thread the result to the originating invocation.
func FunctionResult(call *FunctionCall, result string) Message {
	return Message{Role: RoleFunction, Name: call.Name, Content: result, FunctionCall: call}
}

// Capabilities describes what an LLM provider supports.
type Capabilities struct {
	SupportsFunctions  bool
	SupportsStreaming  bool
	MaxTokens          int
	SupportedModels    []string
	SupportsSystemRole bool
}

// LLM is the main interface for language-model providers.
type LLM interface {
	// Chat performs a chat completion request.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)

	// Capabilities returns the provider's capabilities.
	Capabilities() Capabilities
}
