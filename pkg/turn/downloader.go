package turn

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/voicebridge/voicebridge/pkg/turn/internal"
)

// Downloader fetches turn-detection model files from the model hub.
type Downloader struct {
	modelPath string
	client    *http.Client
	logger    *slog.Logger
}

// NewDownloader creates a model downloader rooted at modelPath.
func NewDownloader(modelPath string, logger *slog.Logger) *Downloader {
	if modelPath == "" {
		modelPath = DefaultModelPath()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{
		modelPath: modelPath,
		client:    &http.Client{},
		logger:    logger,
	}
}

// DownloadAll downloads every known model.
func (d *Downloader) DownloadAll() error {
	for _, model := range internal.AllModels {
		if err := d.DownloadModel(model); err != nil {
			return fmt.Errorf("failed to download model %s: %w", model.Name, err)
		}
	}
	return nil
}

// DownloadModel downloads one model revision and its associated files.
// Existing non-empty files are kept.
func (d *Downloader) DownloadModel(model internal.ModelInfo) error {
	modelDir := internal.GetModelPath(d.modelPath, model.Revision)
	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	for _, filename := range model.Files {
		filePath := filepath.Join(modelDir, filename)

		if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
			return fmt.Errorf("failed to create directories for %s: %w", filename, err)
		}

		if info, err := os.Stat(filePath); err == nil && info.Size() > 0 {
			d.logger.Debug("model file already present", slog.String("file", filename))
			continue
		}

		d.logger.Info("downloading model file",
			slog.String("model", model.Name),
			slog.String("file", filename))

		if err := d.downloadFile(model, filename, filePath); err != nil {
			os.Remove(filePath)
			return fmt.Errorf("failed to download %s: %w", filename, err)
		}
	}

	d.logger.Info("model ready", slog.String("model", model.Name), slog.String("path", modelDir))
	return nil
}

func (d *Downloader) downloadFile(model internal.ModelInfo, filename, destination string) error {
	url := fmt.Sprintf("https://huggingface.co/%s/resolve/%s/%s",
		model.Repo, model.Revision, filename)

	resp, err := d.client.Get(url)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	file, err := os.Create(destination)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, resp.Body); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}
