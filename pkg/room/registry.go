package room

import (
	"context"
	"fmt"
	"sync"
)

// Registry is a read view over room membership for RPC target resolution.
// Membership is mutated only by the room transport callbacks; everything
// else takes snapshots.
type Registry struct {
	mu            sync.RWMutex
	localIdentity string
	participants  map[string]Participant
	order         []string // identities in join order
	waiters       []chan Participant
}

// NewRegistry creates a registry for a room whose local participant has the
// given identity. The local participant is never a valid RPC target.
func NewRegistry(localIdentity string) *Registry {
	return &Registry{
		localIdentity: localIdentity,
		participants:  make(map[string]Participant),
	}
}

// Add records a joined participant. Re-adding an identity replaces the
// previous entry but keeps its join position.
func (r *Registry) Add(p Participant) {
	if p.Identity == r.localIdentity {
		return
	}

	r.mu.Lock()
	if _, exists := r.participants[p.Identity]; !exists {
		r.order = append(r.order, p.Identity)
	}
	r.participants[p.Identity] = p

	waiters := r.waiters
	r.waiters = nil
	r.mu.Unlock()

	for _, w := range waiters {
		w <- p // buffered, never blocks
	}
}

// Remove drops a participant on leave.
func (r *Registry) Remove(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.participants[identity]; !exists {
		return
	}
	delete(r.participants, identity)
	for i, id := range r.order {
		if id == identity {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// ListRemote returns a join-ordered snapshot of remote participants.
func (r *Registry) ListRemote() []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.participants[id])
	}
	return out
}

// Contains reports whether an identity is currently present.
func (r *Registry) Contains(identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.participants[identity]
	return ok
}

// Resolve applies a selector policy to the current membership snapshot.
// An empty room yields ErrNoParticipant; a non-empty room where nothing
// matches yields ErrTargetNotFound.
func (r *Registry) Resolve(sel Selector) (Participant, error) {
	remotes := r.ListRemote()
	if len(remotes) == 0 {
		return Participant{}, ErrNoParticipant
	}

	p, ok := sel.pick(remotes)
	if !ok {
		return Participant{}, fmt.Errorf("%w: %s", ErrTargetNotFound, sel)
	}
	return p, nil
}

// WaitForRemote blocks until a remote participant is present or the context
// is done. If one is already present, it returns immediately.
func (r *Registry) WaitForRemote(ctx context.Context) (Participant, error) {
	r.mu.Lock()
	if len(r.order) > 0 {
		p := r.participants[r.order[0]]
		r.mu.Unlock()
		return p, nil
	}

	w := make(chan Participant, 1)
	r.waiters = append(r.waiters, w)
	r.mu.Unlock()

	select {
	case p := <-w:
		return p, nil
	case <-ctx.Done():
		r.dropWaiter(w)
		return Participant{}, ctx.Err()
	}
}

func (r *Registry) dropWaiter(w chan Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, other := range r.waiters {
		if other == w {
			r.waiters = append(r.waiters[:i], r.waiters[i+1:]...)
			return
		}
	}
}

// Selector is a target-resolution policy applied to a membership snapshot.
type Selector interface {
	pick(remotes []Participant) (Participant, bool)
	String() string
}

// ByIdentity selects the participant with an exact identity match.
func ByIdentity(identity string) Selector {
	return identitySelector(identity)
}

type identitySelector string

func (s identitySelector) pick(remotes []Participant) (Participant, bool) {
	for _, p := range remotes {
		if p.Identity == string(s) {
			return p, true
		}
	}
	return Participant{}, false
}

func (s identitySelector) String() string {
	return fmt.Sprintf("identity=%s", string(s))
}

// ByKind selects the earliest-joined participant of the given kind.
func ByKind(kind ParticipantKind) Selector {
	return kindSelector(kind)
}

type kindSelector ParticipantKind

func (s kindSelector) pick(remotes []Participant) (Participant, bool) {
	for _, p := range remotes {
		if p.Kind == ParticipantKind(s) {
			return p, true
		}
	}
	return Participant{}, false
}

func (s kindSelector) String() string {
	return fmt.Sprintf("kind=%s", ParticipantKind(s))
}

// FirstJoined selects the earliest-joined remote participant.
func FirstJoined() Selector {
	return firstJoinedSelector{}
}

type firstJoinedSelector struct{}

func (firstJoinedSelector) pick(remotes []Participant) (Participant, bool) {
	if len(remotes) == 0 {
		return Participant{}, false
	}
	return remotes[0], true
}

func (firstJoinedSelector) String() string {
	return "first-joined"
}
