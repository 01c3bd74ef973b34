package tool

import (
	"context"
	"encoding/json"
	"time"

	"github.com/voicebridge/voicebridge/pkg/room"
)

const (
	// DefaultGreeting is used when the model omits a message.
	DefaultGreeting = "Hello from the agent!"

	// GreetMethod is the RPC method the client frontend registers.
	GreetMethod = "client.greet"

	greetTimeout = 10 * time.Second
)

type greetingArgs struct {
	Message string `json:"message,omitempty" jsonschema:"description=The greeting message to send"`
}

type greetingPayload struct {
	Message string `json:"message"`
	From    string `json:"from"`
}

// SendGreeting builds the send_greeting tool, which pushes a greeting to
// the first connected client over the RPC bridge.
func SendGreeting(bridge *room.Bridge) Definition {
	return Definition{
		Name: "send_greeting",
		Description: "Send a greeting message to the client frontend. " +
			"Use this when the user asks you to send a greeting to the client, " +
			"trigger a UI action, or demonstrate calling into the client.",
		Parameters: SchemaFor(&greetingArgs{}),
		Run: func(ctx context.Context, args json.RawMessage) (string, error) {
			var parsed greetingArgs
			if len(args) > 0 {
				// Bad arguments fall back to the default message rather
				// than failing the call.
				_ = json.Unmarshal(args, &parsed)
			}
			message := parsed.Message
			if message == "" {
				message = DefaultGreeting
			}

			payload, err := json.Marshal(greetingPayload{Message: message, From: "agent"})
			if err != nil {
				return "Failed to send greeting: " + err.Error(), nil
			}

			result := bridge.Call(ctx, room.FirstJoined(), GreetMethod, string(payload), greetTimeout)
			switch result.Status {
			case room.CallOK:
				return "Greeting sent to client: " + message, nil
			case room.CallTargetNotFound:
				return "I can't send a greeting - no client connected.", nil
			default:
				return "Failed to send greeting: " + result.Message, nil
			}
		},
	}
}
