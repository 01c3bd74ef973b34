package turn

import (
	"fmt"
	"log/slog"
	"os"
)

// DetectorConfig holds configuration for creating turn detectors.
type DetectorConfig struct {
	Model     string // "english" or "multilingual"
	ModelPath string // path to model files (optional, uses default if empty)
	RemoteURL string // remote inference URL (optional)
	Logger    *slog.Logger
}

// NewDetector creates a turn detector from the given configuration.
// If RemoteURL is set (directly or via VOICEBRIDGE_REMOTE_EOT_URL), the
// remote detector wraps the local one as fallback; otherwise the local
// ONNX detector is used directly.
func NewDetector(config DetectorConfig) (Detector, error) {
	remoteURL := config.RemoteURL
	if remoteURL == "" {
		remoteURL = os.Getenv("VOICEBRIDGE_REMOTE_EOT_URL")
	}

	if config.Model == "" {
		config.Model = "english"
	}
	switch config.Model {
	case "english", "multilingual":
	default:
		return nil, fmt.Errorf("invalid model name: %s (supported: english|multilingual)", config.Model)
	}

	localDetector, err := NewONNXDetector(config.Model, config.ModelPath, config.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX detector: %w", err)
	}

	if remoteURL != "" {
		return NewRemoteDetector(remoteURL, localDetector, config.Logger), nil
	}
	return localDetector, nil
}

// NewDefaultDetector creates a detector with default configuration.
func NewDefaultDetector() (Detector, error) {
	return NewDetector(DetectorConfig{Model: "english"})
}
