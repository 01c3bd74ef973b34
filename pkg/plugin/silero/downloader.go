package silero

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
)

const modelURL = "https://github.com/snakers4/silero-vad/raw/master/src/silero_vad/data/silero_vad.onnx"

// Downloader fetches the Silero VAD model file.
type Downloader struct{}

// Download fetches the model into the default model directory. Existing
// non-empty files are kept.
func (d *Downloader) Download() error {
	modelPath := DefaultModelFile()

	if err := os.MkdirAll(filepath.Dir(modelPath), 0o755); err != nil {
		return fmt.Errorf("creating model directory: %w", err)
	}

	if info, err := os.Stat(modelPath); err == nil && info.Size() > 0 {
		slog.Debug("silero model already present", slog.String("model_path", modelPath))
		return nil
	}

	slog.Info("downloading silero VAD model", slog.String("model_path", modelPath))

	resp, err := http.Get(modelURL)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", modelURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading %s: HTTP %d", modelURL, resp.StatusCode)
	}

	tmp := modelPath + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating %s: %w", tmp, err)
	}

	if _, err := io.Copy(file, resp.Body); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing model file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing model file: %w", err)
	}

	if err := os.Rename(tmp, modelPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("moving model into place: %w", err)
	}

	slog.Info("silero model ready", slog.String("model_path", modelPath))
	return nil
}
