package room

import (
	"time"

	"github.com/pion/webrtc/v4"
)

// EventType represents the type of room event.
type EventType string

const (
	// EventParticipantConnected is fired when a remote participant joins the room
	EventParticipantConnected EventType = "participant_connected"

	// EventParticipantDisconnected is fired when a remote participant leaves the room
	EventParticipantDisconnected EventType = "participant_disconnected"

	// EventConnectionStateChanged is fired when the room connection state changes
	EventConnectionStateChanged EventType = "connection_state_changed"

	// EventTrackSubscribed is fired when a remote audio track is subscribed
	EventTrackSubscribed EventType = "track_subscribed"

	// EventTrackUnsubscribed is fired when a remote audio track is unsubscribed
	EventTrackUnsubscribed EventType = "track_unsubscribed"

	// EventDataReceived is fired when data is received from a participant
	EventDataReceived EventType = "data_received"
)

// ConnectionState describes the room transport connection.
type ConnectionState string

const (
	ConnectionConnected    ConnectionState = "connected"
	ConnectionReconnecting ConnectionState = "reconnecting"
	ConnectionDisconnected ConnectionState = "disconnected"
)

// Event represents a room event with associated data.
type Event struct {
	// Type of the event
	Type EventType

	// Timestamp when the event occurred
	Timestamp time.Time

	// Participant associated with the event (if applicable)
	Participant Participant

	// State carries the new connection state for state change events
	State ConnectionState

	// Data payload for data events
	Data []byte

	// Track carries the remote media for audio track subscription events
	Track *webrtc.TrackRemote
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType EventType) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now(),
	}
}

// WithParticipant adds participant information to the event.
func (e *Event) WithParticipant(p Participant) *Event {
	e.Participant = p
	return e
}

// WithState adds the new connection state to the event.
func (e *Event) WithState(state ConnectionState) *Event {
	e.State = state
	return e
}

// WithData adds data payload to the event.
func (e *Event) WithData(data []byte) *Event {
	e.Data = data
	return e
}

// WithTrack attaches the subscribed remote track to the event.
func (e *Event) WithTrack(track *webrtc.TrackRemote) *Event {
	e.Track = track
	return e
}
