package cartesia

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/voicebridge/voicebridge/pkg/ai/tts"
	"github.com/voicebridge/voicebridge/pkg/plugin"
)

func TestNewSonicTTSConfig(t *testing.T) {
	is := is.New(t)

	_, err := NewSonicTTS(Config{})
	is.True(err != nil) // missing API key

	s, err := NewSonicTTS(Config{APIKey: "test-key", Voice: "voice-1"})
	is.NoErr(err)
	is.Equal(s.model, defaultModel)
	is.Equal(s.voice, "voice-1")
}

func TestNormalizeLanguage(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"en-US", "en"},
		{"en", "en"},
		{"pt-BR", "pt"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			is := is.New(t)
			is.Equal(normalizeLanguage(tt.in), tt.want)
		})
	}
}

func TestSpeedLabel(t *testing.T) {
	is := is.New(t)

	is.Equal(speedLabel(0.5), "slow")
	is.Equal(speedLabel(1.0), "normal")
	is.Equal(speedLabel(1.5), "fast")
}

func TestSynthesizeAgainstFakeServer(t *testing.T) {
	is := is.New(t)

	// 2.5 frames of PCM.
	pcm := make([]byte, frameBytes*2+frameBytes/2)
	for i := range pcm {
		pcm[i] = byte(i%250 + 1)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		is.Equal(r.Header.Get("X-API-Key"), "test-key")
		is.Equal(r.Header.Get("Cartesia-Version"), apiVersion)

		var req synthesisRequest
		is.NoErr(json.NewDecoder(r.Body).Decode(&req))
		is.Equal(req.Transcript, "hello there")
		is.Equal(req.Voice.ID, "voice-1")
		is.Equal(req.OutputFormat.Encoding, "pcm_s16le")
		is.Equal(req.Language, "en")

		w.Write(pcm)
	}))
	defer server.Close()

	s, err := NewSonicTTS(Config{APIKey: "test-key", Voice: "voice-1"})
	is.NoErr(err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Point the request at the fake server through a rewriting transport.
	s.client = &http.Client{
		Transport: rewriteTransport{target: server.URL},
	}

	frames, err := s.Synthesize(ctx, tts.SynthesizeRequest{
		Text:     "hello there",
		Language: "en-US",
	})
	is.NoErr(err)

	count := 0
	for frame := range frames {
		is.Equal(len(frame.Data), frameBytes)
		is.Equal(frame.SampleRate, sampleRate)
		count++
	}
	is.Equal(count, 3) // two full frames plus a padded tail
}

func TestSynthesizeRequiresVoice(t *testing.T) {
	is := is.New(t)

	s, err := NewSonicTTS(Config{APIKey: "test-key"})
	is.NoErr(err)

	_, err = s.Synthesize(context.Background(), tts.SynthesizeRequest{Text: "hi"})
	is.True(err != nil)
}

func TestPluginRegistration(t *testing.T) {
	is := is.New(t)

	factory, ok := plugin.Get(plugin.KindTTS, "cartesia")
	is.True(ok)

	t.Setenv("CARTESIA_API_KEY", "")
	_, err := factory(map[string]any{})
	is.True(err != nil)

	backend, err := factory(map[string]any{"api_key": "test-key", "voice": "v"})
	is.NoErr(err)
	_, ok = backend.(tts.TTS)
	is.True(ok)
}

// rewriteTransport sends every request to the fake server regardless of
// the original host.
type rewriteTransport struct {
	target string
}

func (rt rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rewritten, err := http.NewRequestWithContext(req.Context(), req.Method, rt.target, req.Body)
	if err != nil {
		return nil, err
	}
	rewritten.Header = req.Header
	return http.DefaultTransport.RoundTrip(rewritten)
}
