package room

import (
	"testing"

	"github.com/matryer/is"
	"github.com/pion/webrtc/v4"
)

func TestEventCarriesTrack(t *testing.T) {
	is := is.New(t)

	track := &webrtc.TrackRemote{}
	event := NewEvent(EventTrackSubscribed).
		WithParticipant(Participant{Identity: "caller"}).
		WithTrack(track)

	is.Equal(event.Type, EventTrackSubscribed)
	is.Equal(event.Participant.Identity, "caller")
	is.Equal(event.Track, track)

	// Non-media events leave the track unset.
	is.Equal(NewEvent(EventDataReceived).Track, (*webrtc.TrackRemote)(nil))
}
