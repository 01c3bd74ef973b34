package main

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/voicebridge/voicebridge/internal/worker"
	"github.com/voicebridge/voicebridge/pkg/ai/llm"
	"github.com/voicebridge/voicebridge/pkg/ai/stt"
	"github.com/voicebridge/voicebridge/pkg/audio/wav"
	"github.com/voicebridge/voicebridge/pkg/plugin"
	_ "github.com/voicebridge/voicebridge/pkg/plugin/assemblyai" // Import to register AssemblyAI plugin
	_ "github.com/voicebridge/voicebridge/pkg/plugin/cartesia"   // Import to register Cartesia plugin
	_ "github.com/voicebridge/voicebridge/pkg/plugin/fake"       // Import to register fake plugins
	_ "github.com/voicebridge/voicebridge/pkg/plugin/openai"     // Import to register OpenAI plugins
	_ "github.com/voicebridge/voicebridge/pkg/plugin/silero"     // Import to register silero plugin
	"github.com/voicebridge/voicebridge/pkg/session"
	"github.com/voicebridge/voicebridge/pkg/turn"
	"github.com/voicebridge/voicebridge/pkg/version"
)

var rootCmd = &cobra.Command{
	Use:   "voicebridge",
	Short: "Voicebridge - voice agent sessions over LiveKit rooms",
	Long: `voicebridge runs real-time voice agents in LiveKit rooms: it joins a room,
listens to participant audio, and answers through an STT/LLM/TTS pipeline with
voice activity and end-of-turn detection.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.GetVersionInfo())
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single agent session in a room",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()

		cfg, err := sessionConfig(cmd)
		if err != nil {
			return err
		}

		metrics, _ := cmd.Flags().GetBool("metrics")
		if metrics {
			go serveMetrics(logger)
		}

		logger.Info("Starting session",
			slog.String("service", "voicebridge"),
			slog.String("version", version.Version),
			slog.String("room", cfg.LiveKit.Room),
			slog.String("identity", cfg.Agent.Identity))

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return runSession(ctx, cfg, logger)
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Worker management commands",
}

var workerRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a worker that accepts job assignments from a dispatcher",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()

		url, _ := cmd.Flags().GetString("url")
		token, _ := cmd.Flags().GetString("token")
		agentName, _ := cmd.Flags().GetString("agent-name")
		if url == "" {
			return fmt.Errorf("--url is required")
		}
		if token == "" {
			return fmt.Errorf("--token is required")
		}

		base, err := sessionConfig(cmd)
		if err != nil {
			return err
		}

		logger.Info("Starting worker",
			slog.String("service", "voicebridge"),
			slog.String("version", version.Version),
			slog.String("url", url),
			slog.String("agent_name", agentName))

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		handler := func(ctx context.Context, job worker.Job) error {
			cfg := base
			cfg.LiveKit.Room = job.Room
			cfg.LiveKit.Token = job.Token
			return runSession(ctx, cfg, logger.With(slog.String("job_id", job.ID)))
		}

		w := worker.New(worker.Config{URL: url, Token: token, AgentName: agentName}, handler, logger)
		return w.Run(ctx)
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a room join token for the agent identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		setupLogger()

		cfg, err := sessionConfig(cmd)
		if err != nil {
			return err
		}

		token, err := session.MintToken(cfg)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

var sttCmd = &cobra.Command{
	Use:   "stt",
	Short: "Speech-to-text commands",
}

var sttEchoCmd = &cobra.Command{
	Use:   "echo",
	Short: "Transcribe a WAV file with the chosen provider and print the transcript",
	RunE: func(cmd *cobra.Command, args []string) error {
		filePath, _ := cmd.Flags().GetString("file")
		provider, _ := cmd.Flags().GetString("provider")
		language, _ := cmd.Flags().GetString("language")

		logger := setupLogger()
		logger.Info("Starting STT echo",
			slog.String("file", filePath),
			slog.String("provider", provider))

		return runSTTEcho(filePath, provider, language, logger)
	},
}

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "Plugin management commands",
}

var pluginsListCmd = &cobra.Command{
	Use:   "list [kind]",
	Short: "List registered plugins",
	Long: `List all registered plugins or plugins of a specific kind.
Available kinds: stt, tts, llm, vad`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		setupLogger()

		kind := ""
		if len(args) > 0 {
			kind = args[0]
		}

		plugins := plugin.List(kind)
		if len(plugins) == 0 {
			if kind == "" {
				fmt.Println("No plugins registered")
			} else {
				fmt.Printf("No plugins registered for kind: %s\n", kind)
			}
			return nil
		}

		fmt.Printf("%-8s %-20s %-10s %s\n", "KIND", "NAME", "VERSION", "DESCRIPTION")
		fmt.Println("------------------------------------------------------------")
		for _, p := range plugins {
			ver := p.Version
			if ver == "" {
				ver = "N/A"
			}
			desc := p.Description
			if desc == "" {
				desc = "No description"
			}
			fmt.Printf("%-8s %-20s %-10s %s\n", p.Kind, p.Name, ver, desc)
		}
		return nil
	},
}

var pluginsDownloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download missing model files for all registered plugins",
	Long: `Iterate through all registered plugins and download any missing model
files. Plugins that bundle no models are skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()

		plugins := plugin.List("")
		downloaded := 0
		failed := 0

		for _, p := range plugins {
			if p.Downloader == nil {
				continue
			}
			logger.Info("Downloading model files",
				slog.String("kind", p.Kind),
				slog.String("name", p.Name))
			if err := p.Downloader.Download(); err != nil {
				logger.Error("Download failed",
					slog.String("kind", p.Kind),
					slog.String("name", p.Name),
					slog.String("error", err.Error()))
				failed++
				continue
			}
			downloaded++
		}

		if downloaded == 0 && failed == 0 {
			fmt.Println("No model files needed downloading")
		} else {
			fmt.Printf("Downloaded model files for %d plugins", downloaded)
			if failed > 0 {
				fmt.Printf(" (%d failed)", failed)
			}
			fmt.Println()
		}
		if failed > 0 {
			return fmt.Errorf("failed to download model files for %d plugins", failed)
		}
		return nil
	},
}

var turnCmd = &cobra.Command{
	Use:   "turn",
	Short: "Turn detection commands",
}

var turnDownloadCmd = &cobra.Command{
	Use:   "download-models",
	Short: "Download end-of-turn detection models",
	Long: `Download English and multilingual end-of-turn models. Models are stored
in $VOICEBRIDGE_MODEL_PATH or ~/.voicebridge/models.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()
		logger.Info("Starting turn detection model download")

		if err := turn.NewDownloader("", logger).DownloadAll(); err != nil {
			return err
		}

		logger.Info("Turn detection models downloaded successfully")
		return nil
	},
}

var turnPredictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Predict end-of-turn probability from chat history JSON",
	Long: `Read chat history JSON from stdin and output end-of-turn probability.
Input format: {"messages": [{"role": "user", "content": "Hello"}], "language": "en-US"}
Output format: {"eou_probability": 0.85}`,
	RunE: func(cmd *cobra.Command, args []string) error {
		model, _ := cmd.Flags().GetString("model")
		threshold, _ := cmd.Flags().GetFloat64("threshold")
		language, _ := cmd.Flags().GetString("language")
		remoteURL, _ := cmd.Flags().GetString("remote-url")

		logger := setupLogger()
		return runTurnPredict(model, threshold, language, remoteURL, logger)
	},
}

func setupLogger() *slog.Logger {
	logFormat := os.Getenv("VOICEBRIDGE_LOG_FORMAT")
	logLevel := os.Getenv("VOICEBRIDGE_LOG_LEVEL")

	opts := &slog.HandlerOptions{}
	switch logLevel {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	var handler slog.Handler
	if logFormat == "console" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// sessionConfig loads the session configuration from --config when given,
// otherwise from defaults and the environment, then applies flag overrides.
func sessionConfig(cmd *cobra.Command) (session.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	var cfg session.Config
	if path != "" {
		loaded, err := session.LoadConfig(path)
		if err != nil {
			return session.Config{}, err
		}
		cfg = loaded
	} else {
		cfg = session.DefaultConfig()
	}

	if v, _ := cmd.Flags().GetString("lk-url"); v != "" {
		cfg.LiveKit.URL = v
	}
	if v, _ := cmd.Flags().GetString("room"); v != "" {
		cfg.LiveKit.Room = v
	}
	if v, _ := cmd.Flags().GetString("identity"); v != "" {
		cfg.Agent.Identity = v
	}
	if v, _ := cmd.Flags().GetString("system-prompt"); v != "" {
		cfg.Agent.SystemPrompt = v
	}
	if v, _ := cmd.Flags().GetString("greeting"); v != "" {
		cfg.Agent.Greeting = v
	}
	if v, _ := cmd.Flags().GetString("stt"); v != "" {
		cfg.Pipeline.STT.Provider = session.STTProvider(v)
	}
	if v, _ := cmd.Flags().GetString("llm"); v != "" {
		cfg.Pipeline.LLM.Provider = session.LLMProvider(v)
	}
	if v, _ := cmd.Flags().GetString("tts"); v != "" {
		cfg.Pipeline.TTS.Provider = session.TTSProvider(v)
	}
	if v, _ := cmd.Flags().GetString("vad"); v != "" {
		cfg.Pipeline.VAD.Provider = session.VADProvider(v)
	}
	if v, _ := cmd.Flags().GetString("realtime"); v != "" {
		// A realtime model replaces the separate pipeline stages.
		cfg.Pipeline.Realtime.Provider = session.RealtimeProvider(v)
		cfg.Pipeline.STT = session.STTConfig{}
		cfg.Pipeline.LLM = session.LLMConfig{}
		cfg.Pipeline.TTS = session.TTSConfig{}
		cfg.Pipeline.VAD = session.VADConfig{}
		cfg.Pipeline.Turn = session.TurnConfig{}
		if cfg.Pipeline.Realtime.Provider == session.RealtimeOpenAI && cfg.Pipeline.Realtime.APIKey == "" {
			cfg.Pipeline.Realtime.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	return cfg, nil
}

func runSession(ctx context.Context, cfg session.Config, logger *slog.Logger) error {
	sess, err := session.Start(ctx, cfg)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		sess.Close()
	}()

	if err := sess.Wait(); err != nil {
		logger.Error("Session ended with error", slog.String("error", err.Error()))
		return err
	}
	logger.Info("Session ended")
	return nil
}

func serveMetrics(logger *slog.Logger) {
	logger.Info("Starting metrics server on :8080")
	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	if err := http.ListenAndServe(":8080", mux); err != nil {
		logger.Error("Metrics server failed", slog.String("error", err.Error()))
	}
}

func runSTTEcho(filePath, provider, language string, logger *slog.Logger) error {
	if filePath == "" {
		return fmt.Errorf("--file is required")
	}

	factory, ok := plugin.Get(plugin.KindSTT, provider)
	if !ok {
		return fmt.Errorf("unknown stt provider: %q", provider)
	}
	instance, err := factory(map[string]any{
		"language":   language,
		"transcript": "This is a test transcript.",
	})
	if err != nil {
		return fmt.Errorf("creating stt provider: %w", err)
	}
	sttProvider, ok := instance.(stt.STT)
	if !ok {
		return fmt.Errorf("provider %q does not implement stt.STT", provider)
	}

	reader, err := wav.Open(filePath)
	if err != nil {
		return fmt.Errorf("opening wav file: %w", err)
	}
	defer reader.Close()

	header := reader.Header()
	frames, err := reader.Frames()
	if err != nil {
		return fmt.Errorf("reading audio frames: %w", err)
	}
	logger.Info("WAV file info",
		slog.Int("sample_rate", int(header.SampleRate)),
		slog.Int("channels", int(header.NumChannels)),
		slog.Int("frames", len(frames)))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	stream, err := sttProvider.NewStream(ctx, stt.StreamConfig{
		SampleRate:  int(header.SampleRate),
		NumChannels: int(header.NumChannels),
		Language:    language,
	})
	if err != nil {
		return fmt.Errorf("creating stt stream: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for event := range stream.Events() {
			switch event.Type {
			case stt.SpeechEventInterim:
				logger.Debug("Interim result", slog.String("text", event.Text))
			case stt.SpeechEventFinal:
				if event.Text != "" {
					fmt.Printf("Transcript: %s\n", event.Text)
				}
			case stt.SpeechEventError:
				logger.Error("STT error", slog.String("error", event.Error.Error()))
			}
		}
	}()

	for i, frame := range frames {
		if err := stream.Push(frame); err != nil {
			return fmt.Errorf("pushing audio frame %d: %w", i, err)
		}
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("closing stt stream: %w", err)
	}

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func runTurnPredict(model string, threshold float64, language, remoteURL string, logger *slog.Logger) error {
	var input struct {
		Messages []llm.Message `json:"messages"`
		Language string        `json:"language,omitempty"`
	}
	if err := json.NewDecoder(os.Stdin).Decode(&input); err != nil {
		return fmt.Errorf("decoding input JSON: %w", err)
	}

	if language != "" {
		input.Language = language
	}
	if input.Language == "" {
		input.Language = "en-US"
	}

	detector, err := turn.NewDetector(turn.DetectorConfig{
		Model:     model,
		RemoteURL: remoteURL,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("creating detector: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	probability, err := detector.PredictEndOfTurn(ctx, turn.ChatContext{
		Messages: input.Messages,
		Language: input.Language,
	})
	if err != nil {
		return fmt.Errorf("prediction failed: %w", err)
	}

	result := map[string]any{
		"eou_probability": probability,
	}
	if threshold > 0 {
		result["threshold"] = threshold
		result["end_of_turn"] = probability >= threshold
	}
	return json.NewEncoder(os.Stdout).Encode(result)
}

// addSessionFlags registers the flags consumed by sessionConfig.
func addSessionFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "Path to session config YAML file")
	cmd.Flags().String("lk-url", "", "LiveKit server WebSocket URL")
	cmd.Flags().String("room", "", "Room name to join")
	cmd.Flags().String("identity", "", "Agent participant identity")
	cmd.Flags().String("system-prompt", "", "System prompt seeding the conversation")
	cmd.Flags().String("greeting", "", "Instruction for the spoken greeting")
	cmd.Flags().String("stt", "", "STT provider (openai, assemblyai, fake)")
	cmd.Flags().String("llm", "", "LLM provider (openai, fake)")
	cmd.Flags().String("tts", "", "TTS provider (openai, cartesia, fake)")
	cmd.Flags().String("vad", "", "VAD provider (silero, fake)")
	cmd.Flags().String("realtime", "", "Realtime model provider replacing STT, LLM, and TTS (openai, fake)")
}

func init() {
	addSessionFlags(runCmd)
	runCmd.Flags().Bool("metrics", false, "Enable expvar metrics server on port 8080")

	addSessionFlags(workerRunCmd)
	workerRunCmd.Flags().String("url", "", "Dispatcher WebSocket URL")
	workerRunCmd.Flags().String("token", "", "Dispatcher authentication token")
	workerRunCmd.Flags().String("agent-name", "voicebridge", "Agent name announced to the dispatcher")

	addSessionFlags(tokenCmd)

	sttEchoCmd.Flags().String("file", "", "Path to WAV file to process")
	sttEchoCmd.Flags().String("provider", "fake", "STT provider to use")
	sttEchoCmd.Flags().String("language", "en-US", "Transcription language")
	sttEchoCmd.MarkFlagRequired("file")

	turnPredictCmd.Flags().String("model", "english", "Model to use (english, multilingual)")
	turnPredictCmd.Flags().Float64("threshold", 0, "Override threshold for end-of-turn decision")
	turnPredictCmd.Flags().String("language", "", "Language hint for detection")
	turnPredictCmd.Flags().String("remote-url", "", "Override VOICEBRIDGE_REMOTE_EOT_URL")

	workerCmd.AddCommand(workerRunCmd)
	sttCmd.AddCommand(sttEchoCmd)
	pluginsCmd.AddCommand(pluginsListCmd, pluginsDownloadCmd)
	turnCmd.AddCommand(turnDownloadCmd, turnPredictCmd)
	rootCmd.AddCommand(versionCmd, runCmd, workerCmd, tokenCmd, sttCmd, pluginsCmd, turnCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
