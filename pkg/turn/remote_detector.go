package turn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/voicebridge/voicebridge/pkg/ai/llm"
)

// RemoteDetector delegates EOU scoring to a remote HTTP endpoint, falling
// back to a local detector when the endpoint misbehaves.
type RemoteDetector struct {
	endpoint   string
	httpClient *http.Client
	fallback   Detector
	logger     *slog.Logger
}

// NewRemoteDetector creates a remote turn detector. fallback may be nil.
func NewRemoteDetector(endpoint string, fallback Detector, logger *slog.Logger) *RemoteDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteDetector{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 2 * time.Second,
		},
		fallback: fallback,
		logger:   logger,
	}
}

type remoteRequest struct {
	Messages []llm.Message `json:"messages"`
	Language string        `json:"language,omitempty"`
}

type remoteResponse struct {
	Probability float64 `json:"eou_probability"`
	Error       string  `json:"error,omitempty"`
}

// UnlikelyThreshold delegates to the fallback when present, otherwise uses a
// conservative default.
func (d *RemoteDetector) UnlikelyThreshold(language string) (float64, error) {
	if d.fallback != nil {
		return d.fallback.UnlikelyThreshold(language)
	}

	switch normalizeLanguage(language) {
	case "en":
		return 0.85, nil
	default:
		return 0.80, nil
	}
}

// SupportsLanguage delegates to the fallback when present; remote endpoints
// are assumed to cover all languages otherwise.
func (d *RemoteDetector) SupportsLanguage(language string) bool {
	if d.fallback != nil {
		return d.fallback.SupportsLanguage(language)
	}
	return true
}

// PredictEndOfTurn posts the chat context to the remote endpoint.
func (d *RemoteDetector) PredictEndOfTurn(ctx context.Context, chatCtx ChatContext) (float64, error) {
	body, err := json.Marshal(remoteRequest{
		Messages: chatCtx.Messages,
		Language: chatCtx.Language,
	})
	if err != nil {
		return d.fallbackPredict(ctx, chatCtx, fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return d.fallbackPredict(ctx, chatCtx, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "voicebridge/turn-detector")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return d.fallbackPredict(ctx, chatCtx, fmt.Errorf("HTTP request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return d.fallbackPredict(ctx, chatCtx, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(msg)))
	}

	var response remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return d.fallbackPredict(ctx, chatCtx, fmt.Errorf("failed to decode response: %w", err))
	}
	if response.Error != "" {
		return d.fallbackPredict(ctx, chatCtx, fmt.Errorf("remote error: %s", response.Error))
	}
	if response.Probability < 0 || response.Probability > 1 {
		return d.fallbackPredict(ctx, chatCtx, fmt.Errorf("invalid probability: %f", response.Probability))
	}

	return response.Probability, nil
}

func (d *RemoteDetector) fallbackPredict(ctx context.Context, chatCtx ChatContext, cause error) (float64, error) {
	if d.fallback == nil {
		return 0, fmt.Errorf("remote inference failed and no fallback available: %w", cause)
	}

	d.logger.Warn("remote turn detection failed, using fallback",
		slog.String("endpoint", d.endpoint),
		slog.String("error", cause.Error()))

	return d.fallback.PredictEndOfTurn(ctx, chatCtx)
}
