// Package session implements the voice session orchestrator: a finite state
// machine that drives the audio pipeline through
// Idle → AwaitingParticipant → Listening → Transcribing → Inferring → Speaking
// and wires the RPC bridge and tool dispatcher into the conversation loop.
package session

import "fmt"

// State represents the current state of a voice session.
type State int32

const (
	StateIdle State = iota
	StateAwaitingParticipant
	StateListening
	StateTranscribing
	StateInferring
	StateSpeaking
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateAwaitingParticipant:
		return "AwaitingParticipant"
	case StateListening:
		return "Listening"
	case StateTranscribing:
		return "Transcribing"
	case StateInferring:
		return "Inferring"
	case StateSpeaking:
		return "Speaking"
	case StateEnded:
		return "Ended"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}
