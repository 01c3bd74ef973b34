package openai

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matryer/is"

	"github.com/voicebridge/voicebridge/pkg/ai/llm"
	"github.com/voicebridge/voicebridge/pkg/ai/realtime"
	"github.com/voicebridge/voicebridge/pkg/plugin"
	"github.com/voicebridge/voicebridge/pkg/rtc"
)

func TestNewRealtimeModelConfig(t *testing.T) {
	is := is.New(t)

	_, err := NewRealtimeModel(RealtimeConfig{})
	is.True(err != nil) // missing API key

	m, err := NewRealtimeModel(RealtimeConfig{APIKey: "test-key"})
	is.NoErr(err)
	is.Equal(m.model, defaultRealtimeModel)

	caps := m.Capabilities()
	is.True(caps.SupportsTools)
	is.Equal(caps.SampleRate, ttsSampleRate)
}

func TestRealtimePluginRegistration(t *testing.T) {
	is := is.New(t)

	factory, ok := plugin.Get(plugin.KindRealtime, "openai")
	is.True(ok)

	t.Setenv("OPENAI_API_KEY", "")
	_, err := factory(map[string]any{})
	is.True(err != nil)

	backend, err := factory(map[string]any{"api_key": "test-key"})
	is.NoErr(err)
	_, ok = backend.(realtime.Model)
	is.True(ok)
}

// fakeRealtimeEndpoint speaks just enough of the realtime protocol to
// exercise a session. After the session.update it replays scripted server
// events in response to the client's messages.
func fakeRealtimeEndpoint(t *testing.T, gotAudio chan<- []byte, gotToolResult chan<- string) *httptest.Server {
	upgrader := websocket.Upgrader{}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if r.Header.Get("OpenAI-Beta") != "realtime=v1" {
			http.Error(w, "missing beta header", http.StatusBadRequest)
			return
		}
		if r.URL.Query().Get("model") == "" {
			http.Error(w, "missing model", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		var update map[string]any
		if err := conn.ReadJSON(&update); err != nil {
			return
		}
		if update["type"] != "session.update" {
			t.Errorf("first message is %v, want session.update", update["type"])
			return
		}

		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}

			switch msg["type"] {
			case "input_audio_buffer.append":
				data, err := base64.StdEncoding.DecodeString(msg["audio"].(string))
				if err != nil {
					t.Errorf("audio is not base64: %v", err)
					return
				}
				gotAudio <- data

			case "conversation.item.create":
				item := msg["item"].(map[string]any)
				gotToolResult <- item["output"].(string)

			case "response.create":
				// Two and a half frames of reply audio, then the
				// transcript and the done markers.
				conn.WriteJSON(map[string]string{
					"type":  "response.audio.delta",
					"delta": base64.StdEncoding.EncodeToString(make([]byte, ttsFrameBytes*2)),
				})
				conn.WriteJSON(map[string]string{
					"type":  "response.audio.delta",
					"delta": base64.StdEncoding.EncodeToString(make([]byte, ttsFrameBytes/2)),
				})
				conn.WriteJSON(map[string]string{"type": "response.audio.done"})
				conn.WriteJSON(map[string]string{
					"type":       "response.audio_transcript.done",
					"transcript": "hello there",
				})
				conn.WriteJSON(map[string]string{"type": "response.done"})
			}
		}
	}))
}

func connectRealtime(t *testing.T, server *httptest.Server, cfg realtime.SessionConfig) realtime.Session {
	t.Helper()

	endpoint := "ws" + strings.TrimPrefix(server.URL, "http")
	m, err := NewRealtimeModel(RealtimeConfig{APIKey: "test-key", Endpoint: endpoint})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	sess, err := m.Connect(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sess.Close() })
	return sess
}

func nextEvent(t *testing.T, sess realtime.Session) realtime.Event {
	t.Helper()
	select {
	case event, ok := <-sess.Events():
		if !ok {
			t.Fatal("event channel closed")
		}
		return event
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return realtime.Event{}
}

func TestRealtimeSessionResponseFlow(t *testing.T) {
	is := is.New(t)

	gotAudio := make(chan []byte, 16)
	gotToolResult := make(chan string, 1)
	server := fakeRealtimeEndpoint(t, gotAudio, gotToolResult)
	defer server.Close()

	sess := connectRealtime(t, server, realtime.SessionConfig{Instructions: "be brief"})

	is.NoErr(sess.CreateResponse(context.Background(), "say hi"))

	// 2.5 frames of delta audio come back as three full frames, the last
	// one padded to frame size on response end.
	var frames []rtc.AudioFrame
	var transcript string
	var done bool
	for !done {
		event := nextEvent(t, sess)
		switch event.Type {
		case realtime.EventAudio:
			frames = append(frames, event.Frame)
		case realtime.EventTranscript:
			transcript = event.Text
		case realtime.EventResponseDone:
			done = true
		}
	}

	is.Equal(len(frames), 3)
	for i, frame := range frames {
		is.Equal(len(frame.Data), ttsFrameBytes)
		is.Equal(frame.SampleRate, ttsSampleRate)
		is.Equal(frame.Timestamp, time.Duration(i)*10*time.Millisecond)
	}
	is.Equal(transcript, "hello there")
}

func TestRealtimeSessionPushAudio(t *testing.T) {
	is := is.New(t)

	gotAudio := make(chan []byte, 16)
	gotToolResult := make(chan string, 1)
	server := fakeRealtimeEndpoint(t, gotAudio, gotToolResult)
	defer server.Close()

	sess := connectRealtime(t, server, realtime.SessionConfig{})

	pcm := make([]byte, ttsFrameBytes)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	frame, err := rtc.NewAudioFrame(pcm, ttsSampleRate, 1, 0)
	is.NoErr(err)
	is.NoErr(sess.PushAudio(*frame))

	select {
	case data := <-gotAudio:
		is.Equal(data, pcm)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not receive audio")
	}
}

func TestRealtimeSessionToolResult(t *testing.T) {
	is := is.New(t)

	gotAudio := make(chan []byte, 16)
	gotToolResult := make(chan string, 1)
	server := fakeRealtimeEndpoint(t, gotAudio, gotToolResult)
	defer server.Close()

	sess := connectRealtime(t, server, realtime.SessionConfig{
		Tools: []llm.FunctionDefinition{{Name: "get_weather", Description: "Look up the weather."}},
	})

	is.NoErr(sess.SendToolResult(context.Background(), "call-1", "sunny"))

	select {
	case output := <-gotToolResult:
		is.Equal(output, "sunny")
	case <-time.After(3 * time.Second):
		t.Fatal("server did not receive tool result")
	}
}

func TestRealtimeSessionClosedWrites(t *testing.T) {
	is := is.New(t)

	gotAudio := make(chan []byte, 16)
	gotToolResult := make(chan string, 1)
	server := fakeRealtimeEndpoint(t, gotAudio, gotToolResult)
	defer server.Close()

	sess := connectRealtime(t, server, realtime.SessionConfig{})
	is.NoErr(sess.Close())
	is.NoErr(sess.Close()) // idempotent

	frame, err := rtc.NewAudioFrame(make([]byte, ttsFrameBytes), ttsSampleRate, 1, 0)
	is.NoErr(err)
	is.True(sess.PushAudio(*frame) != nil)
	is.True(sess.CreateResponse(context.Background(), "") != nil)
}
