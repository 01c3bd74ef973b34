// Package realtime defines the interface for combined speech-in/speech-out
// models. A realtime model replaces the separate STT, LLM, and TTS stages
// with one bidirectional audio session; voice activity and turn taking are
// handled server side.
package realtime

import (
	"context"

	"github.com/voicebridge/voicebridge/pkg/ai"
	"github.com/voicebridge/voicebridge/pkg/ai/llm"
	"github.com/voicebridge/voicebridge/pkg/rtc"
)

// Re-export common error variables for convenience.
var (
	ErrRecoverable = ai.ErrRecoverable
	ErrFatal       = ai.ErrFatal
)

// SessionConfig carries the conversation setup sent when a session opens.
type SessionConfig struct {
	// Instructions seed the model, equivalent to a system prompt.
	Instructions string

	// Voice used for synthesized replies.
	Voice string

	// Language hint for input transcription.
	Language string

	// Tools exposed to the model for function calling.
	Tools []llm.FunctionDefinition
}

// EventType identifies what a session event carries.
type EventType int

const (
	// EventAudio carries one frame of synthesized reply audio.
	EventAudio EventType = iota

	// EventTranscript carries the completed text of a spoken reply.
	EventTranscript

	// EventInputTranscript carries the transcription of user speech.
	EventInputTranscript

	// EventToolCall asks the caller to run a tool and send the result back.
	EventToolCall

	// EventInterrupted signals that user speech cut off the current reply.
	EventInterrupted

	// EventResponseDone signals that a reply finished, audio included.
	EventResponseDone

	// EventError carries a session error.
	EventError
)

// ToolCall is a function invocation requested by the model. CallID must be
// passed back with the result so the model can correlate it.
type ToolCall struct {
	CallID    string
	Name      string
	Arguments string
}

// Event is one occurrence on a realtime session. The populated fields
// depend on Type.
type Event struct {
	Type  EventType
	Frame rtc.AudioFrame
	Text  string
	Call  *ToolCall
	Error error
}

// Capabilities describes what a realtime provider supports.
type Capabilities struct {
	SupportsTools      bool
	SampleRate         int
	Voices             []string
	SupportedLanguages []string
}

// Session is one open bidirectional conversation.
type Session interface {
	// PushAudio appends one frame of user audio to the input buffer.
	PushAudio(frame rtc.AudioFrame) error

	// Events returns the channel of session events. It is closed when the
	// session ends.
	Events() <-chan Event

	// SendToolResult delivers the output of a tool call back to the model.
	SendToolResult(ctx context.Context, callID, output string) error

	// CreateResponse asks the model to produce a reply now. Instructions,
	// when set, steer this one response only.
	CreateResponse(ctx context.Context, instructions string) error

	// Close ends the session and releases the connection.
	Close() error
}

// Model is the main interface for realtime speech-to-speech providers.
type Model interface {
	// Connect opens a conversation session.
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)

	// Capabilities returns the provider's capabilities.
	Capabilities() Capabilities
}
