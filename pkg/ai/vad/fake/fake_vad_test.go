package fake

import (
	"context"
	"testing"
	"time"

	"github.com/voicebridge/voicebridge/pkg/ai/vad"
	"github.com/voicebridge/voicebridge/pkg/rtc"
)

func TestFakeVAD_Cadence(t *testing.T) {
	f := NewFakeVADWithCadence(3, 4)
	frames := make(chan rtc.AudioFrame)

	events, err := f.Detect(context.Background(), frames)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	go func() {
		for i := 0; i < 7; i++ {
			frames <- rtc.AudioFrame{}
		}
		close(frames)
	}()

	expect := func(want vad.EventType) {
		t.Helper()
		select {
		case ev := <-events:
			if ev.Type != want {
				t.Fatalf("expected event %v, got %v", want, ev.Type)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for VAD event")
		}
	}

	expect(vad.EventSpeechStart) // after 3 frames
	expect(vad.EventSpeechEnd)   // after 4 more

	if _, ok := <-events; ok {
		t.Error("expected events channel to close after input closes")
	}
}

func TestFakeVAD_SpeechEndOnClose(t *testing.T) {
	f := NewFakeVADWithCadence(2, 100)
	frames := make(chan rtc.AudioFrame)

	events, err := f.Detect(context.Background(), frames)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	go func() {
		for i := 0; i < 5; i++ {
			frames <- rtc.AudioFrame{}
		}
		close(frames)
	}()

	var got []vad.EventType
	for ev := range events {
		got = append(got, ev.Type)
	}

	if len(got) != 2 || got[0] != vad.EventSpeechStart || got[1] != vad.EventSpeechEnd {
		t.Errorf("expected start then end, got %v", got)
	}
}
