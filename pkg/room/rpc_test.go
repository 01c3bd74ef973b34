package room

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"
)

// fakeTransport is an in-process Transport with scriptable outcomes.
type fakeTransport struct {
	mu        sync.Mutex
	handlers  map[string]TransportHandler
	performed int

	// scripted outbound behavior
	response string
	err      error
	delay    time.Duration
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]TransportHandler)}
}

func (t *fakeTransport) PerformRPC(ctx context.Context, destIdentity, method, payload string, timeout time.Duration) (string, error) {
	t.mu.Lock()
	t.performed++
	response, err, delay := t.response, t.err, t.delay
	t.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return response, err
}

func (t *fakeTransport) RegisterMethod(method string, h TransportHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.handlers[method]; exists {
		return errors.New("method already registered")
	}
	t.handlers[method] = h
	return nil
}

func (t *fakeTransport) UnregisterMethod(method string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handlers, method)
}

func (t *fakeTransport) performCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.performed
}

func (t *fakeTransport) invoke(method, caller, payload string) (string, error) {
	t.mu.Lock()
	h, ok := t.handlers[method]
	t.mu.Unlock()
	if !ok {
		return "", errors.New("no handler for " + method)
	}
	return h("req-1", caller, payload, time.Second)
}

func newTestBridge() (*Bridge, *fakeTransport, *Registry) {
	transport := newFakeTransport()
	registry := NewRegistry("agent")
	bridge := NewBridge(transport, registry, nil)
	return bridge, transport, registry
}

func TestCallSuccess(t *testing.T) {
	is := is.New(t)

	bridge, transport, registry := newTestBridge()
	registry.Add(Participant{Identity: "client", Kind: KindStandard})
	transport.response = `{"ack":true}`

	result := bridge.Call(context.Background(), ByIdentity("client"), "client.greet", `{"message":"hi"}`, time.Second)
	is.True(result.OK())
	is.Equal(result.Status, CallOK)
	is.Equal(result.Payload, `{"ack":true}`)
	is.Equal(transport.performCount(), 1)
}

func TestCallTargetNotFoundSkipsDispatch(t *testing.T) {
	is := is.New(t)

	bridge, transport, registry := newTestBridge()
	registry.Add(Participant{Identity: "other", Kind: KindStandard})

	result := bridge.Call(context.Background(), ByIdentity("nobody"), "client.greet", "{}", time.Second)
	is.Equal(result.Status, CallTargetNotFound)
	is.True(result.Message != "")

	// Nothing was sent over the wire.
	is.Equal(transport.performCount(), 0)
}

func TestCallEmptyRoom(t *testing.T) {
	is := is.New(t)

	bridge, transport, _ := newTestBridge()

	result := bridge.Call(context.Background(), FirstJoined(), "client.greet", "{}", time.Second)
	is.Equal(result.Status, CallTargetNotFound)
	is.Equal(transport.performCount(), 0)
}

func TestCallTimeout(t *testing.T) {
	is := is.New(t)

	bridge, transport, registry := newTestBridge()
	registry.Add(Participant{Identity: "client", Kind: KindStandard})
	transport.delay = time.Second

	start := time.Now()
	result := bridge.Call(context.Background(), ByIdentity("client"), "client.greet", "{}", 30*time.Millisecond)
	is.Equal(result.Status, CallTimeout)
	is.True(time.Since(start) < 500*time.Millisecond)
	is.Equal(transport.performCount(), 1) // dispatched exactly once, no retry
}

func TestCallRemoteError(t *testing.T) {
	is := is.New(t)

	bridge, transport, registry := newTestBridge()
	registry.Add(Participant{Identity: "client", Kind: KindStandard})
	transport.err = &RemoteError{Code: 1500, Message: "handler exploded"}

	result := bridge.Call(context.Background(), ByIdentity("client"), "client.greet", "{}", time.Second)
	is.Equal(result.Status, CallRemoteError)
	is.Equal(result.Message, "handler exploded")
}

func TestCallTransportFailure(t *testing.T) {
	is := is.New(t)

	bridge, transport, registry := newTestBridge()
	registry.Add(Participant{Identity: "client", Kind: KindStandard})
	transport.err = errors.New("data channel closed")

	result := bridge.Call(context.Background(), ByIdentity("client"), "client.greet", "{}", time.Second)
	is.Equal(result.Status, CallTransportFailure)
	is.Equal(result.Message, "data channel closed")
}

func TestCallRecipientGone(t *testing.T) {
	is := is.New(t)

	bridge, transport, registry := newTestBridge()
	registry.Add(Participant{Identity: "client", Kind: KindStandard})
	transport.err = ErrRecipientGone

	result := bridge.Call(context.Background(), ByIdentity("client"), "client.greet", "{}", time.Second)
	is.Equal(result.Status, CallTargetNotFound)
}

func TestCallAsync(t *testing.T) {
	is := is.New(t)

	bridge, transport, registry := newTestBridge()
	registry.Add(Participant{Identity: "client", Kind: KindStandard})
	transport.response = "pong"

	select {
	case result := <-bridge.CallAsync(context.Background(), FirstJoined(), "ping", "{}", time.Second):
		is.Equal(result.Status, CallOK)
		is.Equal(result.Payload, "pong")
	case <-time.After(time.Second):
		t.Fatal("async call did not resolve")
	}
}

func TestRegisterHandlerReplaces(t *testing.T) {
	is := is.New(t)

	bridge, transport, _ := newTestBridge()

	err := bridge.RegisterHandler("echo", func(ctx context.Context, caller string, payload json.RawMessage) (any, error) {
		return "first", nil
	})
	is.NoErr(err)

	// Registering again for the same method replaces the previous handler
	// instead of erroring.
	err = bridge.RegisterHandler("echo", func(ctx context.Context, caller string, payload json.RawMessage) (any, error) {
		return "second", nil
	})
	is.NoErr(err)

	resp, err := transport.invoke("echo", "client", "{}")
	is.NoErr(err)
	is.Equal(resp, `"second"`)
}

func TestInboundHandlerFailureEnvelope(t *testing.T) {
	is := is.New(t)

	bridge, transport, _ := newTestBridge()

	err := bridge.RegisterHandler("boom", func(ctx context.Context, caller string, payload json.RawMessage) (any, error) {
		return nil, errors.New("no such element")
	})
	is.NoErr(err)

	// A handler error still resolves the caller's request with a payload.
	resp, err := transport.invoke("boom", "client", "{}")
	is.NoErr(err)

	var envelope HandlerResponse
	is.NoErr(json.Unmarshal([]byte(resp), &envelope))
	is.True(!envelope.Success)
	is.Equal(envelope.Message, "no such element")
}

func TestInboundHandlerMalformedPayload(t *testing.T) {
	is := is.New(t)

	bridge, transport, _ := newTestBridge()

	called := false
	err := bridge.RegisterHandler("parse", func(ctx context.Context, caller string, payload json.RawMessage) (any, error) {
		called = true
		return "ok", nil
	})
	is.NoErr(err)

	resp, err := transport.invoke("parse", "client", "{not json")
	is.NoErr(err)
	is.True(!called)

	var envelope HandlerResponse
	is.NoErr(json.Unmarshal([]byte(resp), &envelope))
	is.True(!envelope.Success)
}

func TestInboundHandlerPanicRecovery(t *testing.T) {
	is := is.New(t)

	bridge, transport, _ := newTestBridge()

	err := bridge.RegisterHandler("panic", func(ctx context.Context, caller string, payload json.RawMessage) (any, error) {
		panic("unexpected state")
	})
	is.NoErr(err)

	resp, err := transport.invoke("panic", "client", "{}")
	is.NoErr(err)

	var envelope HandlerResponse
	is.NoErr(json.Unmarshal([]byte(resp), &envelope))
	is.True(!envelope.Success)
}

func TestInboundHandlerCallerIdentity(t *testing.T) {
	is := is.New(t)

	bridge, transport, _ := newTestBridge()

	var gotCaller string
	err := bridge.RegisterHandler("who", func(ctx context.Context, caller string, payload json.RawMessage) (any, error) {
		gotCaller = caller
		return HandlerResponse{Success: true, Message: "hello " + caller}, nil
	})
	is.NoErr(err)

	resp, err := transport.invoke("who", "alice", "{}")
	is.NoErr(err)
	is.Equal(gotCaller, "alice")

	var envelope HandlerResponse
	is.NoErr(json.Unmarshal([]byte(resp), &envelope))
	is.True(envelope.Success)
	is.Equal(envelope.Message, "hello alice")
}
