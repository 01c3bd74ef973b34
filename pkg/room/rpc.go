package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// DefaultCallTimeout bounds an outbound RPC call when the caller does not
// supply one.
const DefaultCallTimeout = 10 * time.Second

// CallStatus classifies the outcome of an outbound RPC call.
type CallStatus int

const (
	// CallOK means the far end handler ran and returned a payload.
	CallOK CallStatus = iota

	// CallTargetNotFound means no participant matched the target selector,
	// or the target left before the call was delivered.
	CallTargetNotFound

	// CallTimeout means no response arrived within the call deadline.
	CallTimeout

	// CallRemoteError means the far end handler ran and reported an error.
	CallRemoteError

	// CallTransportFailure means the call could not be delivered at all.
	CallTransportFailure
)

// String returns the status name for logging.
func (s CallStatus) String() string {
	switch s {
	case CallOK:
		return "ok"
	case CallTargetNotFound:
		return "target_not_found"
	case CallTimeout:
		return "timeout"
	case CallRemoteError:
		return "remote_error"
	case CallTransportFailure:
		return "transport_failure"
	default:
		return "unknown"
	}
}

// CallResult is the resolved outcome of an outbound RPC call. Exactly one
// result is produced per call, and the variants are mutually exclusive.
type CallResult struct {
	// Status classifies the outcome.
	Status CallStatus

	// Payload holds the far end response when Status is CallOK.
	Payload string

	// Message carries the failure detail for non-OK statuses.
	Message string
}

// OK reports whether the call succeeded.
func (r CallResult) OK() bool {
	return r.Status == CallOK
}

// RemoteError is a failure reported by the far end handler itself, as
// opposed to a delivery failure.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote handler error %d: %s", e.Code, e.Message)
}

// ErrRPCTimeout is reported by the transport when the far end did not
// respond within the deadline.
var ErrRPCTimeout = errors.New("rpc response timeout")

// ErrRecipientGone is reported by the transport when the target was not
// reachable at delivery time.
var ErrRecipientGone = errors.New("rpc recipient not reachable")

// Handler is an inbound RPC method handler. The returned value is JSON
// encoded as the response payload. A returned error is reported to the
// caller as a structured failure response, not a transport error.
type Handler func(ctx context.Context, caller string, payload json.RawMessage) (any, error)

// HandlerResponse is the envelope inbound handlers answer with.
type HandlerResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// TransportHandler is the raw inbound shape the transport delivers.
type TransportHandler func(requestID, caller, payload string, responseTimeout time.Duration) (string, error)

// Transport is the wire surface the bridge drives. The room connection
// implements it over the WebRTC data channel.
type Transport interface {
	PerformRPC(ctx context.Context, destIdentity, method, payload string, timeout time.Duration) (string, error)
	RegisterMethod(method string, h TransportHandler) error
	UnregisterMethod(method string)
}

// Bridge layers application RPC semantics over the room transport: target
// resolution through the registry, bounded single-resolution calls, and
// panic-safe inbound handler dispatch.
type Bridge struct {
	transport Transport
	registry  *Registry
	logger    *slog.Logger
}

// NewBridge creates a bridge over the given transport and registry.
func NewBridge(transport Transport, registry *Registry, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		transport: transport,
		registry:  registry,
		logger:    logger,
	}
}

// Call invokes method on the participant resolved by sel and blocks until
// the single result is known. Target resolution happens before anything is
// sent, so calls against an absent target fail fast without a network
// round trip. The call never retries.
func (b *Bridge) Call(ctx context.Context, sel Selector, method, payload string, timeout time.Duration) CallResult {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	target, err := b.registry.Resolve(sel)
	if err != nil {
		return CallResult{
			Status:  CallTargetNotFound,
			Message: err.Error(),
		}
	}

	requestID := uuid.NewString()
	log := b.logger.With(
		"request_id", requestID,
		"method", method,
		"target", target.Identity,
	)
	log.Debug("performing rpc call", "timeout", timeout)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// The transport call runs in its own goroutine so the deadline is
	// honored even if the transport blocks. The channel is buffered so a
	// late response is dropped instead of leaking the goroutine.
	type outcome struct {
		payload string
		err     error
	}
	resultCh := make(chan outcome, 1)

	go func() {
		resp, err := b.transport.PerformRPC(ctx, target.Identity, method, payload, timeout)
		resultCh <- outcome{payload: resp, err: err}
	}()

	select {
	case out := <-resultCh:
		result := classifyOutcome(out.payload, out.err)
		if !result.OK() {
			log.Warn("rpc call failed", "status", result.Status, "message", result.Message)
		} else {
			log.Debug("rpc call succeeded")
		}
		return result
	case <-ctx.Done():
		log.Warn("rpc call timed out", "timeout", timeout)
		return CallResult{
			Status:  CallTimeout,
			Message: fmt.Sprintf("no response within %s", timeout),
		}
	}
}

// CallAsync performs Call on its own goroutine and delivers the single
// result on the returned channel.
func (b *Bridge) CallAsync(ctx context.Context, sel Selector, method, payload string, timeout time.Duration) <-chan CallResult {
	ch := make(chan CallResult, 1)
	go func() {
		ch <- b.Call(ctx, sel, method, payload, timeout)
	}()
	return ch
}

func classifyOutcome(payload string, err error) CallResult {
	if err == nil {
		return CallResult{Status: CallOK, Payload: payload}
	}

	var remoteErr *RemoteError
	switch {
	case errors.Is(err, ErrRPCTimeout), errors.Is(err, context.DeadlineExceeded):
		return CallResult{Status: CallTimeout, Message: err.Error()}
	case errors.Is(err, ErrRecipientGone):
		return CallResult{Status: CallTargetNotFound, Message: err.Error()}
	case errors.As(err, &remoteErr):
		return CallResult{Status: CallRemoteError, Message: remoteErr.Message}
	default:
		return CallResult{Status: CallTransportFailure, Message: err.Error()}
	}
}

// RegisterHandler installs an inbound handler for method, replacing any
// previously registered handler for the same method.
func (b *Bridge) RegisterHandler(method string, handler Handler) error {
	b.transport.UnregisterMethod(method)

	wrapped := b.wrapHandler(method, handler)
	if err := b.transport.RegisterMethod(method, wrapped); err != nil {
		return fmt.Errorf("registering rpc method %s: %w", method, err)
	}
	b.logger.Debug("registered rpc handler", "method", method)
	return nil
}

// UnregisterHandler removes the inbound handler for method, if any.
func (b *Bridge) UnregisterHandler(method string) {
	b.transport.UnregisterMethod(method)
}

// wrapHandler adapts an application handler to the transport shape. Handler
// failures, malformed payloads, and panics all produce a structured failure
// response delivered on the success path, keeping the far end's promise
// resolution independent of our handler health.
func (b *Bridge) wrapHandler(method string, handler Handler) TransportHandler {
	return func(requestID, caller, payload string, responseTimeout time.Duration) (response string, err error) {
		log := b.logger.With(
			"request_id", requestID,
			"method", method,
			"caller", caller,
		)

		defer func() {
			if r := recover(); r != nil {
				log.Error("rpc handler panicked", "panic", r)
				response = failureResponse(fmt.Sprintf("internal handler error: %v", r))
				err = nil
			}
		}()

		if payload != "" && !json.Valid([]byte(payload)) {
			log.Warn("rejecting malformed rpc payload")
			return failureResponse("malformed request payload"), nil
		}

		ctx := context.Background()
		if responseTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, responseTimeout)
			defer cancel()
		}

		result, err := handler(ctx, caller, json.RawMessage(payload))
		if err != nil {
			log.Warn("rpc handler failed", "error", err)
			return failureResponse(err.Error()), nil
		}

		encoded, err := json.Marshal(result)
		if err != nil {
			log.Error("rpc handler result not encodable", "error", err)
			return failureResponse("internal encoding error"), nil
		}

		log.Debug("rpc handler succeeded")
		return string(encoded), nil
	}
}

func failureResponse(message string) string {
	encoded, err := json.Marshal(HandlerResponse{Success: false, Message: message})
	if err != nil {
		return `{"success":false,"message":"internal error"}`
	}
	return string(encoded)
}
