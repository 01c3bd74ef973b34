// Package room wraps the LiveKit room connection for one agent session.
// It tracks remote participants, surfaces room events on a channel, and
// carries the RPC bridge used for cross-participant calls.
package room

import (
	"errors"
	"fmt"

	lksdk "github.com/livekit/server-sdk-go/v2"
)

// Sentinel errors for the participant registry and room lifecycle.
var (
	// ErrNoParticipant is returned when resolution runs against a room
	// with zero remote participants.
	ErrNoParticipant = errors.New("no remote participant in room")

	// ErrTargetNotFound is returned when a selector matches nothing even
	// though remote participants exist.
	ErrTargetNotFound = errors.New("rpc target not found")

	// ErrConnection is returned for room join failures, including a
	// timed-out wait for the first participant.
	ErrConnection = errors.New("room connection failed")
)

// ParticipantKind classifies a connected endpoint.
type ParticipantKind int

const (
	KindStandard ParticipantKind = iota
	KindSIP
	KindAgent
)

func (k ParticipantKind) String() string {
	switch k {
	case KindStandard:
		return "standard"
	case KindSIP:
		return "sip"
	case KindAgent:
		return "agent"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Participant is a connected remote endpoint. Instances are immutable;
// join/leave events replace them wholesale.
type Participant struct {
	Identity string
	Kind     ParticipantKind
}

// kindFromSDK maps the SDK participant kind onto the closed local enum.
func kindFromSDK(kind lksdk.ParticipantKind) ParticipantKind {
	switch kind {
	case lksdk.ParticipantSIP:
		return KindSIP
	case lksdk.ParticipantAgent:
		return KindAgent
	default:
		return KindStandard
	}
}
