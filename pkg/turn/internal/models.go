package internal

import "path/filepath"

// ModelInfo holds metadata for a turn-detection model revision.
type ModelInfo struct {
	Name     string // "english", "multilingual"
	Repo     string
	Revision string
	Size     int64
	Files    []string
}

var (
	EnglishModel = ModelInfo{
		Name:     "english",
		Repo:     "livekit/turn-detector",
		Revision: "v1.2.2-en",
		Size:     66 * 1024 * 1024,
		Files: []string{
			"onnx/model_q8.onnx",
			"tokenizer.json",
			"languages.json",
		},
	}

	MultilingualModel = ModelInfo{
		Name:     "multilingual",
		Repo:     "livekit/turn-detector",
		Revision: "v0.3.0-intl",
		Size:     281 * 1024 * 1024,
		Files: []string{
			"onnx/model_q8.onnx",
			"tokenizer.json",
			"languages.json",
		},
	}

	// AllModels enumerates every model the downloader must handle.
	AllModels = []ModelInfo{EnglishModel, MultilingualModel}
)

// GetModelPath returns the directory where a revision is stored.
func GetModelPath(basePath, revision string) string {
	return filepath.Join(basePath, "turn-detector", revision)
}

// GetModelFilePath returns the absolute path to a specific file for a revision.
func GetModelFilePath(basePath, revision, filename string) string {
	return filepath.Join(GetModelPath(basePath, revision), filename)
}
