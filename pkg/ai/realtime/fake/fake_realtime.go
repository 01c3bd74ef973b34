// Package fake provides a scriptable realtime model for tests. Replies are
// played back in order; user turns and interrupts are simulated by the
// test driving the session.
package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/voicebridge/voicebridge/pkg/ai/realtime"
	"github.com/voicebridge/voicebridge/pkg/rtc"
)

const (
	fakeSampleRate = 24000
	fakeFrameBytes = fakeSampleRate / 100 * 2
)

// FakeModel is a realtime model that plays scripted replies.
type FakeModel struct {
	mu       sync.Mutex
	replies  []string
	toolCall *realtime.ToolCall
	last     *FakeSession
}

// NewFakeModel creates a model that answers each response request with the
// next scripted reply.
func NewFakeModel(replies ...string) *FakeModel {
	return &FakeModel{replies: replies}
}

// WithToolCall makes the first response request emit a tool call instead
// of a reply. The scripted replies resume once the result arrives.
func (m *FakeModel) WithToolCall(callID, name, arguments string) *FakeModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toolCall = &realtime.ToolCall{CallID: callID, Name: name, Arguments: arguments}
	return m
}

// Connect opens a fake session.
func (m *FakeModel) Connect(ctx context.Context, cfg realtime.SessionConfig) (realtime.Session, error) {
	s := &FakeSession{
		model:       m,
		cfg:         cfg,
		events:      make(chan realtime.Event, 64),
		toolResults: make(map[string]string),
	}
	m.mu.Lock()
	m.last = s
	m.mu.Unlock()
	return s, nil
}

// Capabilities returns fake capabilities.
func (m *FakeModel) Capabilities() realtime.Capabilities {
	return realtime.Capabilities{
		SupportsTools:      true,
		SampleRate:         fakeSampleRate,
		Voices:             []string{"fake"},
		SupportedLanguages: []string{"en-US"},
	}
}

// LastSession returns the most recently connected session.
func (m *FakeModel) LastSession() *FakeSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

func (m *FakeModel) nextReply() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.replies) == 0 {
		return "", false
	}
	reply := m.replies[0]
	m.replies = m.replies[1:]
	return reply, true
}

func (m *FakeModel) takeToolCall() *realtime.ToolCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	call := m.toolCall
	m.toolCall = nil
	return call
}

// FakeSession is the session returned by FakeModel.
type FakeSession struct {
	model *FakeModel
	cfg   realtime.SessionConfig

	events chan realtime.Event

	mu          sync.Mutex
	pushed      int
	toolResults map[string]string
	closed      bool
}

// Config returns the session configuration captured at connect time.
func (s *FakeSession) Config() realtime.SessionConfig {
	return s.cfg
}

// PushAudio counts the frame and discards it.
func (s *FakeSession) PushAudio(frame rtc.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("session closed")
	}
	s.pushed++
	return nil
}

// PushedFrames returns how many audio frames were pushed.
func (s *FakeSession) PushedFrames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pushed
}

// Events returns the session event channel.
func (s *FakeSession) Events() <-chan realtime.Event {
	return s.events
}

// SendToolResult records the result and unblocks the scripted replies.
func (s *FakeSession) SendToolResult(ctx context.Context, callID, output string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("session closed")
	}
	s.toolResults[callID] = output
	return nil
}

// ToolResult returns the recorded result for a call id.
func (s *FakeSession) ToolResult(callID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, ok := s.toolResults[callID]
	return out, ok
}

// CreateResponse emits the pending tool call if one is scripted, otherwise
// the next reply as audio frames, a transcript, and a done marker.
func (s *FakeSession) CreateResponse(ctx context.Context, instructions string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("session closed")
	}
	s.mu.Unlock()

	if call := s.model.takeToolCall(); call != nil {
		s.emit(realtime.Event{Type: realtime.EventToolCall, Call: call})
		return nil
	}

	reply, ok := s.model.nextReply()
	if ok {
		for i := 0; i < 2; i++ {
			s.emit(realtime.Event{Type: realtime.EventAudio, Frame: rtc.AudioFrame{
				Data:              make([]byte, fakeFrameBytes),
				SampleRate:        fakeSampleRate,
				SamplesPerChannel: fakeSampleRate / 100,
				NumChannels:       1,
				Timestamp:         time.Duration(i) * 10 * time.Millisecond,
			}})
		}
		s.emit(realtime.Event{Type: realtime.EventTranscript, Text: reply})
	}
	s.emit(realtime.Event{Type: realtime.EventResponseDone})
	return nil
}

// SimulateUserTurn emits a user transcript and the model's next response,
// as a server-side voice activity detector would.
func (s *FakeSession) SimulateUserTurn(text string) {
	s.emit(realtime.Event{Type: realtime.EventInputTranscript, Text: text})
	s.CreateResponse(context.Background(), "")
}

// SimulateInterrupt emits an interruption event.
func (s *FakeSession) SimulateInterrupt() {
	s.emit(realtime.Event{Type: realtime.EventInterrupted})
}

// Close ends the session and closes the event channel.
func (s *FakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return nil
}

func (s *FakeSession) emit(event realtime.Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	select {
	case s.events <- event:
	default:
	}
}
