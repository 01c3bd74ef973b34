package session

import (
	"context"
	"expvar"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voicebridge/voicebridge/pkg/ai"
	"github.com/voicebridge/voicebridge/pkg/ai/llm"
	"github.com/voicebridge/voicebridge/pkg/ai/stt"
	"github.com/voicebridge/voicebridge/pkg/ai/tts"
	"github.com/voicebridge/voicebridge/pkg/ai/vad"
	"github.com/voicebridge/voicebridge/pkg/rtc"
	"github.com/voicebridge/voicebridge/pkg/tool"
	"github.com/voicebridge/voicebridge/pkg/turn"
)

// maxToolRounds bounds how many consecutive function calls the model may
// chain for a single user turn.
const maxToolRounds = 3

// ControllerConfig holds the pipeline backends and channels for a Controller.
type ControllerConfig struct {
	STT          stt.STT
	TTS          tts.TTS
	LLM          llm.LLM
	VAD          vad.VAD
	TurnDetector turn.Detector
	Tools        *tool.Dispatcher

	MicIn  <-chan rtc.AudioFrame
	TTSOut chan<- rtc.AudioFrame

	// SystemPrompt seeds the conversation history.
	SystemPrompt string

	// GreetingInstructions, when set, produce a spoken greeting when the
	// session first starts listening.
	GreetingInstructions string

	// Language for STT and turn detection. Defaults to "en-US".
	Language string

	Logger *slog.Logger
}

// Controller drives the conversation loop for one session. It coordinates
// VAD, STT, turn detection, LLM inference, tool dispatch, and TTS playback
// through a single event loop goroutine.
type Controller struct {
	stt      stt.STT
	tts      tts.TTS
	llm      llm.LLM
	vad      vad.VAD
	detector turn.Detector
	tools    *tool.Dispatcher
	logger   *slog.Logger

	micIn  <-chan rtc.AudioFrame
	ttsOut chan<- rtc.AudioFrame

	systemPrompt string
	greeting     string
	language     string

	state atomic.Int32

	// Audio gate: mic audio reaches VAD at all times but is only fed to
	// STT while the gate is open.
	gateOpen atomic.Bool

	vadIn        chan rtc.AudioFrame
	vadEvents    <-chan vad.Event
	sttEvents    <-chan stt.SpeechEvent
	interrupts   chan struct{}
	shutdown     chan struct{}
	shutdownOnce sync.Once

	sttStream stt.Stream
	streamMu  sync.Mutex

	speakMu     sync.Mutex
	speakCancel context.CancelFunc

	// Transcript segments accumulated while the end of turn is uncertain.
	pending []string

	historyMu sync.Mutex
	history   []llm.Message

	sessionStart      time.Time
	firstWordTimeOnce sync.Once
	metrics           *Metrics
}

// Metrics holds performance metrics for a session.
type Metrics struct {
	FirstWordLatency *expvar.Float
	SessionDuration  *expvar.Float
	StateTransitions *expvar.Map
}

func newMetrics() *Metrics {
	transitions := &expvar.Map{}
	transitions.Init()
	return &Metrics{
		FirstWordLatency: &expvar.Float{},
		SessionDuration:  &expvar.Float{},
		StateTransitions: transitions,
	}
}

// NewController creates a controller from the given configuration.
func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.STT == nil {
		return nil, fmt.Errorf("STT is required")
	}
	if cfg.TTS == nil {
		return nil, fmt.Errorf("TTS is required")
	}
	if cfg.LLM == nil {
		return nil, fmt.Errorf("LLM is required")
	}
	if cfg.VAD == nil {
		return nil, fmt.Errorf("VAD is required")
	}
	if cfg.MicIn == nil {
		return nil, fmt.Errorf("MicIn channel is required")
	}
	if cfg.TTSOut == nil {
		return nil, fmt.Errorf("TTSOut channel is required")
	}

	language := cfg.Language
	if language == "" {
		language = "en-US"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Controller{
		stt:          cfg.STT,
		tts:          cfg.TTS,
		llm:          cfg.LLM,
		vad:          cfg.VAD,
		detector:     cfg.TurnDetector,
		tools:        cfg.Tools,
		logger:       logger,
		micIn:        cfg.MicIn,
		ttsOut:       cfg.TTSOut,
		systemPrompt: cfg.SystemPrompt,
		greeting:     cfg.GreetingInstructions,
		language:     language,
		vadIn:        make(chan rtc.AudioFrame, 16),
		interrupts:   make(chan struct{}, 1),
		shutdown:     make(chan struct{}),
		metrics:      newMetrics(),
	}

	if c.systemPrompt != "" {
		c.history = []llm.Message{{Role: llm.RoleSystem, Content: c.systemPrompt}}
	}

	c.setState(StateIdle)
	return c, nil
}

// Start runs the session loop. It returns when the context is canceled,
// Close is called, or an unrecoverable pipeline error occurs.
func (c *Controller) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.sessionStart = time.Now()
	defer c.updateSessionDuration()
	defer c.setState(StateEnded)

	vadEvents, err := c.vad.Detect(ctx, c.vadIn)
	if err != nil {
		return fmt.Errorf("starting VAD: %w", err)
	}
	c.vadEvents = vadEvents

	go c.pumpAudio(ctx)

	c.setState(StateListening)

	if c.greeting != "" {
		if err := c.speakGreeting(ctx); err != nil {
			return err
		}
	}

	return c.run(ctx)
}

// Interrupt requests that current inference or playback be abandoned in
// favor of listening.
func (c *Controller) Interrupt() {
	select {
	case c.interrupts <- struct{}{}:
	default:
	}
}

// Close shuts the session loop down.
func (c *Controller) Close() error {
	c.shutdownOnce.Do(func() {
		close(c.shutdown)
	})

	c.streamMu.Lock()
	defer c.streamMu.Unlock()
	if c.sttStream != nil {
		c.sttStream.CloseSend()
		c.sttStream = nil
	}
	return nil
}

// GetState returns the current session state.
func (c *Controller) GetState() State {
	return State(c.state.Load())
}

// History returns a snapshot of the conversation so far.
func (c *Controller) History() []llm.Message {
	c.historyMu.Lock()
	defer c.historyMu.Unlock()
	out := make([]llm.Message, len(c.history))
	copy(out, c.history)
	return out
}

// StateTransitions exposes the transition counters for diagnostics.
func (c *Controller) StateTransitions() *expvar.Map {
	return c.metrics.StateTransitions
}

func (c *Controller) setState(newState State) {
	oldState := State(c.state.Swap(int32(newState)))
	c.recordTransition(oldState, newState)
}

// setStateIf transitions only when the current state matches, so a
// completing speak goroutine cannot clobber an interrupt transition.
func (c *Controller) setStateIf(from, to State) bool {
	if c.state.CompareAndSwap(int32(from), int32(to)) {
		c.recordTransition(from, to)
		return true
	}
	return false
}

func (c *Controller) recordTransition(from, to State) {
	if from == to {
		return
	}
	key := fmt.Sprintf("%s_to_%s", from, to)
	if counter := c.metrics.StateTransitions.Get(key); counter != nil {
		counter.(*expvar.Int).Add(1)
	} else {
		n := &expvar.Int{}
		n.Set(1)
		c.metrics.StateTransitions.Set(key, n)
	}
	c.logger.Debug("state transition", "from", from.String(), "to", to.String())
}

// pumpAudio fans mic audio out to VAD unconditionally and to the STT
// stream while the gate is open. Gating keeps the agent's own playback
// from being transcribed while still letting VAD detect barge-in.
func (c *Controller) pumpAudio(ctx context.Context) {
	defer close(c.vadIn)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case frame, ok := <-c.micIn:
			if !ok {
				return
			}
			select {
			case c.vadIn <- frame:
			case <-ctx.Done():
				return
			}
			if c.gateOpen.Load() {
				c.streamMu.Lock()
				stream := c.sttStream
				c.streamMu.Unlock()
				if stream != nil {
					if err := stream.Push(frame); err != nil {
						c.gateOpen.Store(false)
					}
				}
			}
		}
	}
}

// run is the main event loop.
func (c *Controller) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.shutdown:
			return nil
		case <-c.interrupts:
			c.handleInterrupt(ctx)
		case event, ok := <-c.vadEvents:
			if !ok {
				return nil
			}
			if err := c.handleVADEvent(ctx, event); err != nil {
				return err
			}
		case event, ok := <-c.sttEvents:
			if !ok {
				c.sttEvents = nil
				continue
			}
			if err := c.handleSTTEvent(ctx, event); err != nil {
				return err
			}
		}
	}
}

func (c *Controller) handleInterrupt(ctx context.Context) {
	switch c.GetState() {
	case StateSpeaking, StateInferring:
		c.cancelSpeaking()
		c.setState(StateListening)
	}
}

func (c *Controller) handleVADEvent(ctx context.Context, event vad.Event) error {
	switch event.Type {
	case vad.EventSpeechStart:
		switch c.GetState() {
		case StateListening:
			c.setState(StateTranscribing)
			return c.startTranscribing(ctx)
		case StateSpeaking:
			// Barge-in: stop playback and capture the user instead.
			c.cancelSpeaking()
			c.setState(StateTranscribing)
			return c.startTranscribing(ctx)
		}
	case vad.EventSpeechEnd:
		if c.GetState() == StateTranscribing {
			c.finishTranscribing()
		}
	case vad.EventError:
		c.logger.Warn("vad error event", "error", event.Error)
	}
	return nil
}

func (c *Controller) handleSTTEvent(ctx context.Context, event stt.SpeechEvent) error {
	switch event.Type {
	case stt.SpeechEventInterim:
		c.logger.Debug("interim transcript", "text", event.Text)
		return nil
	case stt.SpeechEventError:
		c.logger.Warn("stt error event", "error", event.Error)
		return nil
	case stt.SpeechEventFinal:
		if c.GetState() != StateTranscribing {
			return nil
		}
		return c.handleFinalTranscript(ctx, event.Text)
	}
	return nil
}

// startTranscribing opens a fresh STT stream and opens the audio gate.
func (c *Controller) startTranscribing(ctx context.Context) error {
	c.streamMu.Lock()
	defer c.streamMu.Unlock()

	if c.sttStream != nil {
		c.sttStream.CloseSend()
	}

	stream, err := c.stt.NewStream(ctx, stt.StreamConfig{
		SampleRate:  48000,
		NumChannels: 1,
		Language:    c.language,
		MaxRetry:    3,
	})
	if err != nil {
		return fmt.Errorf("creating STT stream: %w", err)
	}

	c.sttStream = stream
	c.sttEvents = stream.Events()
	c.gateOpen.Store(true)
	return nil
}

// finishTranscribing closes the audio gate and flushes the STT stream so
// the final transcript is emitted.
func (c *Controller) finishTranscribing() {
	c.gateOpen.Store(false)

	c.streamMu.Lock()
	defer c.streamMu.Unlock()
	if c.sttStream != nil {
		c.sttStream.CloseSend()
		c.sttStream = nil
	}
}

// handleFinalTranscript accumulates the segment and asks the turn detector
// whether the user is done. An uncertain turn keeps the session listening
// with the pending text retained for the next segment.
func (c *Controller) handleFinalTranscript(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		c.setState(StateListening)
		return nil
	}
	c.pending = append(c.pending, text)

	if !c.turnEnded(ctx) {
		c.logger.Debug("turn not finished, keeping pending transcript",
			"segments", len(c.pending))
		c.setState(StateListening)
		return nil
	}

	userText := strings.Join(c.pending, " ")
	c.pending = nil

	c.setState(StateInferring)
	return c.infer(ctx, userText)
}

// turnEnded consults the end-of-turn detector over the history plus the
// pending transcript. With no detector configured, every final transcript
// ends the turn.
func (c *Controller) turnEnded(ctx context.Context) bool {
	if c.detector == nil {
		return true
	}

	messages := c.History()
	messages = append(messages, llm.Message{
		Role:    llm.RoleUser,
		Content: strings.Join(c.pending, " "),
	})

	threshold, err := c.detector.UnlikelyThreshold(c.language)
	if err != nil {
		c.logger.Warn("no turn threshold for language, assuming turn ended", "error", err)
		return true
	}

	prob, err := c.detector.PredictEndOfTurn(ctx, turn.ChatContext{
		Messages: messages,
		Language: c.language,
	})
	if err != nil {
		c.logger.Warn("end of turn prediction failed, assuming turn ended", "error", err)
		return true
	}
	return prob >= threshold
}

// infer runs the LLM over the conversation, dispatching function calls
// until the model produces a spoken reply or the round limit is hit.
func (c *Controller) infer(ctx context.Context, userText string) error {
	c.appendMessage(llm.Message{Role: llm.RoleUser, Content: userText})

	var functions []llm.FunctionDefinition
	if c.tools != nil {
		functions = c.tools.Definitions()
	}

	for round := 0; round <= maxToolRounds; round++ {
		if c.GetState() != StateInferring {
			// Interrupted mid-inference.
			return nil
		}

		resp, err := c.llm.Chat(ctx, llm.ChatRequest{
			Messages:  c.History(),
			Functions: functions,
		})
		if err != nil {
			if ai.IsFatal(err) {
				return fmt.Errorf("LLM chat failed: %w", err)
			}
			c.logger.Warn("LLM chat failed, apologizing", "error", err)
			c.sayAndRecord(ctx, "Sorry, I'm having trouble thinking right now. Could you say that again?")
			return nil
		}

		if resp.FunctionCall != nil && c.tools != nil {
			call := resp.FunctionCall
			c.appendMessage(llm.Message{
				Role:         llm.RoleAssistant,
				FunctionCall: call,
			})
			result := c.tools.Dispatch(ctx, call.Name, call.Arguments)
			c.appendMessage(llm.FunctionResult(call, result))
			continue
		}

		content := strings.TrimSpace(resp.Message.Content)
		if content == "" {
			c.setState(StateListening)
			return nil
		}
		c.sayAndRecord(ctx, content)
		return nil
	}

	c.logger.Warn("function call round limit reached")
	c.sayAndRecord(ctx, "Sorry, I got stuck on that one. Is there anything else I can help with?")
	return nil
}

// sayAndRecord appends an assistant message to the history and speaks it.
func (c *Controller) sayAndRecord(ctx context.Context, text string) {
	c.appendMessage(llm.Message{Role: llm.RoleAssistant, Content: text})
	c.speak(ctx, text)
}

// speakGreeting generates and speaks the initial greeting. A greeting
// failure is logged and skipped rather than ending the session.
func (c *Controller) speakGreeting(ctx context.Context) error {
	messages := c.History()
	messages = append(messages, llm.Message{
		Role:    llm.RoleSystem,
		Content: c.greeting,
	})

	resp, err := c.llm.Chat(ctx, llm.ChatRequest{Messages: messages})
	if err != nil {
		if ai.IsFatal(err) {
			return fmt.Errorf("generating greeting: %w", err)
		}
		c.logger.Warn("greeting generation failed, skipping", "error", err)
		return nil
	}

	content := strings.TrimSpace(resp.Message.Content)
	if content == "" {
		return nil
	}
	c.sayAndRecord(ctx, content)
	return nil
}

// speak transitions to Speaking and starts playback of text.
func (c *Controller) speak(ctx context.Context, text string) {
	c.setState(StateSpeaking)
	c.startSpeaking(ctx, text)
}

// startSpeaking synthesizes text and streams it to the output track on a
// playback goroutine. Playback returns the session to Listening unless an
// interrupt already moved it elsewhere.
func (c *Controller) startSpeaking(ctx context.Context, text string) {
	c.firstWordTimeOnce.Do(func() {
		latency := time.Since(c.sessionStart)
		c.metrics.FirstWordLatency.Set(float64(latency.Milliseconds()))
	})

	speakCtx, cancel := context.WithCancel(ctx)
	c.speakMu.Lock()
	if c.speakCancel != nil {
		c.speakCancel()
	}
	c.speakCancel = cancel
	c.speakMu.Unlock()

	frames, err := c.tts.Synthesize(speakCtx, tts.SynthesizeRequest{
		Text:     text,
		Voice:    "default",
		Language: c.language,
	})
	if err != nil {
		c.logger.Warn("TTS synthesis failed", "error", err)
		cancel()
		c.setStateIf(StateSpeaking, StateListening)
		return
	}

	go func() {
		defer cancel()
		defer c.setStateIf(StateSpeaking, StateListening)

		for frame := range frames {
			select {
			case c.ttsOut <- frame:
			case <-speakCtx.Done():
				return
			case <-c.shutdown:
				return
			}
		}
	}()
}

func (c *Controller) cancelSpeaking() {
	c.speakMu.Lock()
	defer c.speakMu.Unlock()
	if c.speakCancel != nil {
		c.speakCancel()
		c.speakCancel = nil
	}
}

func (c *Controller) appendMessage(msg llm.Message) {
	c.historyMu.Lock()
	defer c.historyMu.Unlock()
	c.history = append(c.history, msg)
}

func (c *Controller) updateSessionDuration() {
	duration := time.Since(c.sessionStart)
	c.metrics.SessionDuration.Set(float64(duration.Milliseconds()))
}
