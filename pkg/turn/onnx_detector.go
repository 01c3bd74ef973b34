package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/voicebridge/voicebridge/pkg/ai/llm"
	"github.com/voicebridge/voicebridge/pkg/turn/internal"
)

const (
	// modelFileRel is the ONNX model file within the model directory.
	modelFileRel = "onnx/model_q8.onnx"

	// maxContextTokens is the model's input window; longer contexts are
	// left-truncated so the most recent turns survive.
	maxContextTokens = 128

	// maxContextMessages bounds how much history the template renders.
	maxContextMessages = 6
)

// ONNXDetector scores end-of-utterance locally with a quantized ONNX model.
// Session, tokenizer and language thresholds are loaded lazily on first use.
type ONNXDetector struct {
	modelInfo internal.ModelInfo
	modelPath string
	logger    *slog.Logger

	sessionOnce sync.Once
	session     *ort.DynamicAdvancedSession
	sessionErr  error

	tokenizerOnce sync.Once
	tokenizer     *tokenizer.Tokenizer
	tokenizerErr  error

	languagesOnce sync.Once
	languages     map[string]float64
	languagesErr  error
}

// NewONNXDetector creates an ONNX-based turn detector for the named model.
func NewONNXDetector(modelName, modelPath string, logger *slog.Logger) (*ONNXDetector, error) {
	var modelInfo internal.ModelInfo
	found := false
	for _, model := range internal.AllModels {
		if model.Name == modelName {
			modelInfo = model
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("unknown turn-detection model: %s", modelName)
	}

	if modelPath == "" {
		modelPath = DefaultModelPath()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &ONNXDetector{
		modelInfo: modelInfo,
		modelPath: modelPath,
		logger:    logger,
	}, nil
}

// UnlikelyThreshold returns the language-specific threshold for EOU detection.
func (d *ONNXDetector) UnlikelyThreshold(language string) (float64, error) {
	if err := d.loadLanguages(); err != nil {
		return 0, err
	}
	threshold, ok := d.languages[normalizeLanguage(language)]
	if !ok {
		return 0, fmt.Errorf("unsupported language: %s", language)
	}
	return threshold, nil
}

// SupportsLanguage reports whether the detector has a tuned threshold for
// this language.
func (d *ONNXDetector) SupportsLanguage(language string) bool {
	if err := d.loadLanguages(); err != nil {
		return false
	}
	_, ok := d.languages[normalizeLanguage(language)]
	return ok
}

// PredictEndOfTurn runs tokenization and model inference over recent chat
// context and returns the EOU probability.
func (d *ONNXDetector) PredictEndOfTurn(ctx context.Context, chatCtx ChatContext) (float64, error) {
	start := time.Now()

	if err := d.loadSession(); err != nil {
		return 0, fmt.Errorf("failed to load ONNX session: %w", err)
	}
	if err := d.loadTokenizer(); err != nil {
		return 0, fmt.Errorf("failed to load tokenizer: %w", err)
	}

	tokens, err := d.tokenizeChat(chatCtx)
	if err != nil {
		return 0, fmt.Errorf("tokenization failed: %w", err)
	}

	probability, err := d.runInference(ctx, tokens)
	if err != nil {
		return 0, fmt.Errorf("inference failed: %w", err)
	}

	if latency := time.Since(start); latency > 25*time.Millisecond {
		d.logger.Warn("slow turn-detection inference",
			slog.Duration("latency", latency),
			slog.String("model", d.modelInfo.Name))
	}

	return probability, nil
}

func (d *ONNXDetector) loadSession() error {
	d.sessionOnce.Do(func() {
		modelFile := internal.GetModelFilePath(d.modelPath, d.modelInfo.Revision, modelFileRel)
		if _, err := os.Stat(modelFile); os.IsNotExist(err) {
			d.sessionErr = fmt.Errorf("model file not found: %s (run 'voicebridge turn download-models' first)", modelFile)
			return
		}

		if err := ensureOrtEnv(); err != nil {
			d.sessionErr = fmt.Errorf("failed to initialize ONNX runtime: %w", err)
			return
		}

		options, err := ort.NewSessionOptions()
		if err != nil {
			d.sessionErr = fmt.Errorf("failed to create session options: %w", err)
			return
		}
		defer options.Destroy()

		intraOpThreads := runtime.NumCPU() / 2
		if intraOpThreads < 1 {
			intraOpThreads = 1
		}
		if err := options.SetIntraOpNumThreads(intraOpThreads); err != nil {
			d.sessionErr = fmt.Errorf("failed to set intra-op threads: %w", err)
			return
		}
		if err := options.SetInterOpNumThreads(1); err != nil {
			d.sessionErr = fmt.Errorf("failed to set inter-op threads: %w", err)
			return
		}

		d.session, err = ort.NewDynamicAdvancedSession(
			modelFile,
			[]string{"input_ids"},
			[]string{"logits"},
			options,
		)
		if err != nil {
			d.sessionErr = fmt.Errorf("failed to create ONNX session: %w", err)
		}
	})
	return d.sessionErr
}

func (d *ONNXDetector) loadTokenizer() error {
	d.tokenizerOnce.Do(func() {
		tokenizerFile := internal.GetModelFilePath(d.modelPath, d.modelInfo.Revision, "tokenizer.json")
		if _, err := os.Stat(tokenizerFile); os.IsNotExist(err) {
			d.tokenizerErr = fmt.Errorf("tokenizer file not found: %s (run 'voicebridge turn download-models' first)", tokenizerFile)
			return
		}

		tk, err := pretrained.FromFile(tokenizerFile)
		if err != nil {
			d.tokenizerErr = fmt.Errorf("failed to load tokenizer: %w", err)
			return
		}
		d.tokenizer = tk
	})
	return d.tokenizerErr
}

func (d *ONNXDetector) loadLanguages() error {
	d.languagesOnce.Do(func() {
		langFile := internal.GetModelFilePath(d.modelPath, d.modelInfo.Revision, "languages.json")
		file, err := os.Open(langFile)
		if err != nil {
			d.languagesErr = fmt.Errorf("failed to open languages.json: %w", err)
			return
		}
		defer file.Close()

		var cfg map[string]float64
		if err := json.NewDecoder(file).Decode(&cfg); err != nil {
			d.languagesErr = fmt.Errorf("failed to decode languages.json: %w", err)
			return
		}
		d.languages = cfg
	})
	return d.languagesErr
}

// tokenizeChat renders the chat template and encodes it, left-truncating to
// the model's context window.
func (d *ONNXDetector) tokenizeChat(chatCtx ChatContext) ([]int64, error) {
	chatText := formatChatTemplate(chatCtx.Messages)

	encoding, err := d.tokenizer.EncodeSingle(chatText, false)
	if err != nil {
		return nil, fmt.Errorf("encode failed: %w", err)
	}

	tokenIds := encoding.GetIds()
	if len(tokenIds) > maxContextTokens {
		tokenIds = tokenIds[len(tokenIds)-maxContextTokens:]
	}

	result := make([]int64, len(tokenIds))
	for i, id := range tokenIds {
		result[i] = int64(id)
	}
	return result, nil
}

// formatChatTemplate renders messages with the model's chat template:
// <|im_start|><|role|>content<|im_end|> per message, most recent turns only.
func formatChatTemplate(messages []llm.Message) string {
	if len(messages) > maxContextMessages {
		messages = messages[len(messages)-maxContextMessages:]
	}

	var b strings.Builder
	for _, msg := range messages {
		fmt.Fprintf(&b, "<|im_start|><|%s|>%s<|im_end|>", string(msg.Role), msg.Content)
	}
	return b.String()
}

func (d *ONNXDetector) runInference(ctx context.Context, tokens []int64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(tokens) == 0 {
		return 0.5, nil // neutral probability for empty input
	}

	inputShape := ort.NewShape(1, int64(len(tokens)))
	inputTensor, err := ort.NewTensor(inputShape, tokens)
	if err != nil {
		return 0, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputs := []ort.Value{nil}
	if err := d.session.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return 0, fmt.Errorf("ONNX run failed: %w", err)
	}
	defer outputs[0].Destroy()

	logits, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return 0, fmt.Errorf("unexpected output tensor type %T", outputs[0])
	}

	data := logits.GetData()
	if len(data) == 0 {
		return 0, fmt.Errorf("empty output tensor")
	}

	prob := float64(data[0])
	if prob < 0 {
		prob = 0
	} else if prob > 1 {
		prob = 1
	}
	return prob, nil
}

// DefaultModelPath returns where models are stored when no explicit path is
// configured.
func DefaultModelPath() string {
	if path := os.Getenv("VOICEBRIDGE_MODEL_PATH"); path != "" {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/voicebridge-models"
	}
	return filepath.Join(homeDir, ".voicebridge", "models")
}

// normalizeLanguage maps region-qualified tags to the bare language code the
// thresholds file uses ("en-US" -> "en").
func normalizeLanguage(language string) string {
	if i := strings.IndexByte(language, '-'); i > 0 {
		return strings.ToLower(language[:i])
	}
	return strings.ToLower(language)
}
