package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
)

// DefaultWaitForParticipant bounds how long a session waits for the first
// remote participant before giving up.
const DefaultWaitForParticipant = 90 * time.Second

// Config contains configuration for connecting to a room.
type Config struct {
	// URL of the LiveKit server
	URL string

	// Token for authentication
	Token string

	// RoomName to join
	RoomName string

	// Identity of the local participant, matching the token grant
	Identity string

	// EventBufferSize for the events channel
	EventBufferSize int

	// Logger for room lifecycle logging. Defaults to slog.Default.
	Logger *slog.Logger
}

// Room wraps the LiveKit room connection, keeps the participant registry in
// sync with membership callbacks, and exposes the RPC bridge.
type Room struct {
	config   Config
	logger   *slog.Logger
	registry *Registry
	bridge   *Bridge
	events   chan *Event

	mu        sync.RWMutex
	room      *lksdk.Room
	connected bool

	closeOnce sync.Once
}

// Connect establishes the room connection and returns the wrapper once the
// registry is seeded with current membership.
func Connect(ctx context.Context, config Config) (*Room, error) {
	if config.URL == "" {
		return nil, errors.New("URL is required")
	}
	if config.Token == "" {
		return nil, errors.New("token is required")
	}
	if config.Identity == "" {
		return nil, errors.New("identity is required")
	}

	bufferSize := config.EventBufferSize
	if bufferSize == 0 {
		bufferSize = 100
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Room{
		config:   config,
		logger:   logger.With("room", config.RoomName),
		registry: NewRegistry(config.Identity),
		events:   make(chan *Event, bufferSize),
	}
	r.bridge = NewBridge(r, r.registry, r.logger)

	callback := &lksdk.RoomCallback{
		OnParticipantConnected:    r.onParticipantConnected,
		OnParticipantDisconnected: r.onParticipantDisconnected,
		OnDisconnected:            r.onDisconnected,
		OnReconnecting:            r.onReconnecting,
		OnReconnected:             r.onReconnected,
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed:   r.onTrackSubscribed,
			OnTrackUnsubscribed: r.onTrackUnsubscribed,
			OnDataReceived:      r.onDataReceived,
		},
	}

	lkRoom, err := lksdk.ConnectToRoomWithToken(config.URL, config.Token, callback, lksdk.WithAutoSubscribe(true))
	if err != nil {
		return nil, fmt.Errorf("connecting to room: %w", err)
	}

	r.mu.Lock()
	r.room = lkRoom
	r.connected = true
	r.mu.Unlock()

	// Participants already in the room never fire the connected callback.
	for _, rp := range lkRoom.GetRemoteParticipants() {
		r.registry.Add(Participant{
			Identity: rp.Identity(),
			Kind:     kindFromSDK(rp.Kind()),
		})
	}

	r.logger.Info("connected to room",
		slog.String("url", config.URL),
		slog.String("identity", config.Identity),
		slog.Int("remote_participants", len(r.registry.ListRemote())))

	return r, nil
}

// Registry returns the participant registry.
func (r *Room) Registry() *Registry {
	return r.registry
}

// Bridge returns the RPC bridge bound to this room.
func (r *Room) Bridge() *Bridge {
	return r.bridge
}

// Events returns the room event stream. The channel is closed on disconnect.
func (r *Room) Events() <-chan *Event {
	return r.events
}

// LocalIdentity returns the identity of the local participant.
func (r *Room) LocalIdentity() string {
	return r.config.Identity
}

// IsConnected returns true while the room connection is up.
func (r *Room) IsConnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connected
}

// WaitForParticipant blocks until a remote participant is present, the
// context is canceled, or the timeout elapses. A timeout yields
// ErrConnection so callers can treat it as a session-fatal condition.
func (r *Room) WaitForParticipant(ctx context.Context, timeout time.Duration) (Participant, error) {
	if timeout <= 0 {
		timeout = DefaultWaitForParticipant
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	p, err := r.registry.WaitForRemote(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Participant{}, fmt.Errorf("%w: no participant joined within %s", ErrConnection, timeout)
		}
		return Participant{}, err
	}
	return p, nil
}

// Disconnect closes the room connection. Safe to call more than once.
func (r *Room) Disconnect() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		room := r.room
		r.connected = false
		r.mu.Unlock()

		if room != nil {
			room.Disconnect()
		}
		close(r.events)
		r.logger.Info("disconnected from room")
	})
}

// Transport implementation over the SDK data channel. The bridge drives
// these; application code goes through Bridge instead.

func (r *Room) PerformRPC(ctx context.Context, destIdentity, method, payload string, timeout time.Duration) (string, error) {
	r.mu.RLock()
	room := r.room
	connected := r.connected
	r.mu.RUnlock()

	if !connected || room == nil {
		return "", fmt.Errorf("%w: room not connected", ErrConnection)
	}

	resp, err := room.LocalParticipant.PerformRpc(lksdk.PerformRpcParams{
		DestinationIdentity: destIdentity,
		Method:              method,
		Payload:             payload,
		ResponseTimeout:     &timeout,
	})
	if err != nil {
		return "", translateRPCError(err)
	}
	return *resp, nil
}

func (r *Room) RegisterMethod(method string, h TransportHandler) error {
	r.mu.RLock()
	room := r.room
	r.mu.RUnlock()

	if room == nil {
		return fmt.Errorf("%w: room not connected", ErrConnection)
	}
	return room.RegisterRpcMethod(method, func(data lksdk.RpcInvocationData) (string, error) {
		return h(data.RequestID, data.CallerIdentity, data.Payload, data.ResponseTimeout)
	})
}

func (r *Room) UnregisterMethod(method string) {
	r.mu.RLock()
	room := r.room
	r.mu.RUnlock()

	if room != nil {
		room.UnregisterRpcMethod(method)
	}
}

// translateRPCError maps SDK RPC failures onto the bridge's error surface.
func translateRPCError(err error) error {
	var rpcErr *lksdk.RpcError
	if !errors.As(err, &rpcErr) {
		return err
	}

	switch rpcErr.Code {
	case lksdk.RpcConnectionTimeout, lksdk.RpcResponseTimeout:
		return fmt.Errorf("%w: %s", ErrRPCTimeout, rpcErr.Message)
	case lksdk.RpcRecipientNotFound, lksdk.RpcRecipientDisconnected:
		return fmt.Errorf("%w: %s", ErrRecipientGone, rpcErr.Message)
	default:
		return &RemoteError{Code: int(rpcErr.Code), Message: rpcErr.Message}
	}
}

// Event handlers

func (r *Room) onParticipantConnected(rp *lksdk.RemoteParticipant) {
	p := Participant{
		Identity: rp.Identity(),
		Kind:     kindFromSDK(rp.Kind()),
	}
	r.registry.Add(p)
	r.sendEvent(NewEvent(EventParticipantConnected).WithParticipant(p))

	r.logger.Info("participant connected",
		slog.String("identity", p.Identity),
		slog.String("kind", p.Kind.String()))
}

func (r *Room) onParticipantDisconnected(rp *lksdk.RemoteParticipant) {
	p := Participant{
		Identity: rp.Identity(),
		Kind:     kindFromSDK(rp.Kind()),
	}
	r.registry.Remove(p.Identity)
	r.sendEvent(NewEvent(EventParticipantDisconnected).WithParticipant(p))

	r.logger.Info("participant disconnected", slog.String("identity", p.Identity))
}

func (r *Room) onDisconnected() {
	r.mu.Lock()
	r.connected = false
	r.mu.Unlock()

	r.sendEvent(NewEvent(EventConnectionStateChanged).WithState(ConnectionDisconnected))
	r.logger.Warn("room connection lost")
}

func (r *Room) onReconnecting() {
	r.sendEvent(NewEvent(EventConnectionStateChanged).WithState(ConnectionReconnecting))
	r.logger.Warn("room connection reconnecting")
}

func (r *Room) onReconnected() {
	r.mu.Lock()
	r.connected = true
	r.mu.Unlock()

	r.sendEvent(NewEvent(EventConnectionStateChanged).WithState(ConnectionConnected))
	r.logger.Info("room connection restored")
}

func (r *Room) onTrackSubscribed(track *webrtc.TrackRemote, publication *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	p := Participant{
		Identity: rp.Identity(),
		Kind:     kindFromSDK(rp.Kind()),
	}
	event := NewEvent(EventTrackSubscribed).WithParticipant(p)
	if track.Kind() == webrtc.RTPCodecTypeAudio {
		event.WithTrack(track)
	}
	r.sendEvent(event)

	r.logger.Info("track subscribed",
		slog.String("participant", p.Identity),
		slog.String("track_sid", publication.SID()),
		slog.String("track_type", publication.Kind().String()))
}

func (r *Room) onTrackUnsubscribed(track *webrtc.TrackRemote, publication *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	p := Participant{
		Identity: rp.Identity(),
		Kind:     kindFromSDK(rp.Kind()),
	}
	r.sendEvent(NewEvent(EventTrackUnsubscribed).WithParticipant(p))
}

func (r *Room) onDataReceived(data []byte, params lksdk.DataReceiveParams) {
	p, _ := r.registry.Resolve(ByIdentity(params.SenderIdentity))
	r.sendEvent(NewEvent(EventDataReceived).WithParticipant(p).WithData(data))
}

// sendEvent delivers an event without blocking the SDK callback goroutine.
// A full channel drops the event with a warning.
func (r *Room) sendEvent(event *Event) {
	defer func() {
		// The events channel closes on Disconnect; a callback racing the
		// shutdown must not crash the SDK goroutine.
		recover()
	}()

	select {
	case r.events <- event:
	default:
		r.logger.Warn("events channel full, dropping event",
			slog.String("event_type", string(event.Type)))
	}
}
