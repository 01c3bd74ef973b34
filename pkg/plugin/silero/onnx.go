package silero

import (
	"fmt"
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
// process.
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

// onnxScorer runs the Silero model. The model is stateful: the recurrent
// state tensor carries across windows within one stream.
type onnxScorer struct {
	session *ort.DynamicAdvancedSession
	state   []float32
}

const stateSize = 2 * 1 * 128

func newONNXScorer(modelPath string) (*onnxScorer, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %s (run 'voicebridge plugins download' first)", modelPath)
	}

	if err := ensureOrtEnv(); err != nil {
		return nil, fmt.Errorf("initializing ONNX runtime: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("creating session options: %w", err)
	}
	defer options.Destroy()

	if err := options.SetIntraOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("setting intra-op threads: %w", err)
	}
	if err := options.SetInterOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("setting inter-op threads: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		options,
	)
	if err != nil {
		return nil, fmt.Errorf("creating ONNX session: %w", err)
	}

	return &onnxScorer{
		session: session,
		state:   make([]float32, stateSize),
	}, nil
}

func (o *onnxScorer) score(window []float32) (float32, error) {
	inputTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(window))), window)
	if err != nil {
		return 0, fmt.Errorf("creating input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	stateTensor, err := ort.NewTensor(ort.NewShape(2, 1, 128), o.state)
	if err != nil {
		return 0, fmt.Errorf("creating state tensor: %w", err)
	}
	defer stateTensor.Destroy()

	srTensor, err := ort.NewTensor(ort.NewShape(1), []int64{modelSampleRate})
	if err != nil {
		return 0, fmt.Errorf("creating sample-rate tensor: %w", err)
	}
	defer srTensor.Destroy()

	outputs := []ort.Value{nil, nil}
	if err := o.session.Run([]ort.Value{inputTensor, stateTensor, srTensor}, outputs); err != nil {
		return 0, fmt.Errorf("ONNX run failed: %w", err)
	}
	defer outputs[0].Destroy()
	defer outputs[1].Destroy()

	probTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return 0, fmt.Errorf("unexpected output tensor type %T", outputs[0])
	}
	probs := probTensor.GetData()
	if len(probs) == 0 {
		return 0, fmt.Errorf("empty output tensor")
	}

	if next, ok := outputs[1].(*ort.Tensor[float32]); ok {
		copy(o.state, next.GetData())
	}

	return probs[0], nil
}

func (o *onnxScorer) close() {
	if o.session != nil {
		o.session.Destroy()
		o.session = nil
	}
}
