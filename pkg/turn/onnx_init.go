package turn

import (
	"os"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	ortOnce    sync.Once
	ortInitErr error
)

// ensureOrtEnv initializes the ONNX runtime environment exactly once per
// process. Concurrent detectors must not race on schema registration.
func ensureOrtEnv() error {
	ortOnce.Do(func() {
		if libPath := os.Getenv("ONNXRUNTIME_LIB"); libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		} else if runtime.GOOS == "darwin" {
			// Homebrew default on macOS
			ort.SetSharedLibraryPath("/opt/homebrew/lib/libonnxruntime.dylib")
		}

		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}
