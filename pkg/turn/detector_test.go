package turn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voicebridge/voicebridge/pkg/ai/llm"
)

func TestNewDetector_InvalidModel(t *testing.T) {
	_, err := NewDetector(DetectorConfig{Model: "klingon"})
	if err == nil {
		t.Fatal("expected error for unknown model")
	}
}

func TestFormatChatTemplate(t *testing.T) {
	messages := []llm.Message{
		{Role: llm.RoleUser, Content: "hello"},
		{Role: llm.RoleAssistant, Content: "hi there"},
	}

	got := formatChatTemplate(messages)
	want := "<|im_start|><|user|>hello<|im_end|><|im_start|><|assistant|>hi there<|im_end|>"
	if got != want {
		t.Errorf("formatChatTemplate() = %q, want %q", got, want)
	}
}

func TestFormatChatTemplate_TruncatesHistory(t *testing.T) {
	var messages []llm.Message
	for i := 0; i < 20; i++ {
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: "x"})
	}

	got := formatChatTemplate(messages)
	// 6 messages * one <|im_start|> each
	count := 0
	for i := 0; i+12 <= len(got); i++ {
		if got[i:i+12] == "<|im_start|>" {
			count++
		}
	}
	if count != maxContextMessages {
		t.Errorf("expected %d rendered messages, got %d", maxContextMessages, count)
	}
}

func TestNormalizeLanguage(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"en-US", "en"},
		{"en", "en"},
		{"DE-de", "de"},
		{"ja", "ja"},
	}
	for _, tt := range tests {
		if got := normalizeLanguage(tt.in); got != tt.want {
			t.Errorf("normalizeLanguage(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRemoteDetector_Predict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"eou_probability": 0.92}`))
	}))
	defer server.Close()

	d := NewRemoteDetector(server.URL, nil, nil)
	prob, err := d.PredictEndOfTurn(context.Background(), ChatContext{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "are you there"}},
		Language: "en-US",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prob != 0.92 {
		t.Errorf("expected probability 0.92, got %f", prob)
	}
}

func TestRemoteDetector_ErrorWithoutFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	d := NewRemoteDetector(server.URL, nil, nil)
	if _, err := d.PredictEndOfTurn(context.Background(), ChatContext{}); err == nil {
		t.Fatal("expected error when remote fails and no fallback exists")
	}
}

func TestRemoteDetector_FallsBack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	fallback := &staticDetector{probability: 0.7}
	d := NewRemoteDetector(server.URL, fallback, nil)

	prob, err := d.PredictEndOfTurn(context.Background(), ChatContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prob != 0.7 {
		t.Errorf("expected fallback probability 0.7, got %f", prob)
	}
}

type staticDetector struct {
	probability float64
}

func (s *staticDetector) UnlikelyThreshold(string) (float64, error) { return 0.85, nil }
func (s *staticDetector) SupportsLanguage(string) bool              { return true }
func (s *staticDetector) PredictEndOfTurn(context.Context, ChatContext) (float64, error) {
	return s.probability, nil
}
