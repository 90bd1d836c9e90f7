// Package events carries the asynchronous notifications emitted by the
// deployment store and the dispatcher. Observers consume them; they never
// mutate ledger state through them.
package events

import (
	"sync"

	"github.com/rs/zerolog"

	"xdao.co/routeplane/model"
)

type Kind string

const (
	RootCommitted Kind = "RootCommitted"
	RootActivated Kind = "RootActivated"
	RouteApplied  Kind = "RouteApplied"
	RouteRemoved  Kind = "RouteRemoved"
	Paused        Kind = "Paused"
	Unpaused      Kind = "Unpaused"
	Frozen        Kind = "Frozen"
	AdminRotated  Kind = "AdminRotated"
	RoleGranted   Kind = "RoleGranted"
	RoleRevoked   Kind = "RoleRevoked"
	ChunkDeployed Kind = "ChunkDeployed"
)

// Event is one notification. Fields irrelevant to a Kind are zero.
type Event struct {
	Kind        Kind           `json:"kind"`
	Network     string         `json:"network,omitempty"`
	Epoch       uint64         `json:"epoch,omitempty"`
	Root        model.Hash     `json:"root"`
	Selector    model.Selector `json:"selector"`
	Address     model.Address  `json:"address"`
	ContentHash model.Hash     `json:"contentHash"`
	Size        int            `json:"size,omitempty"`
	Role        model.Role     `json:"role,omitempty"`
	Actor       model.Address  `json:"actor"`
	At          uint64         `json:"at"`
}

// Sink receives events. Emit must not block for long; it runs after the
// emitting operation has been persisted.
type Sink interface {
	Emit(Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(Event) {}

// Recorder keeps every event in memory, in emission order.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Kinds returns the recorded kinds, in order.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

// Fanout forwards each event to every sink in order.
type Fanout []Sink

func (f Fanout) Emit(e Event) {
	for _, s := range f {
		if s != nil {
			s.Emit(e)
		}
	}
}

// Tagged stamps Network on every event before forwarding it.
type Tagged struct {
	Network string
	Sink    Sink
}

func (t Tagged) Emit(e Event) {
	if e.Network == "" {
		e.Network = t.Network
	}
	t.Sink.Emit(e)
}

// LogSink writes events to a zerolog logger at info level.
type LogSink struct {
	Logger zerolog.Logger
}

func (l LogSink) Emit(e Event) {
	ev := l.Logger.Info().Str("event", string(e.Kind))
	if e.Network != "" {
		ev = ev.Str("network", e.Network)
	}
	switch e.Kind {
	case RootCommitted, RootActivated:
		ev = ev.Stringer("root", e.Root).Uint64("epoch", e.Epoch)
	case RouteApplied, RouteRemoved:
		ev = ev.Stringer("selector", e.Selector).Stringer("implementation", e.Address).Uint64("epoch", e.Epoch)
	case ChunkDeployed:
		ev = ev.Stringer("address", e.Address).Stringer("content_hash", e.ContentHash).Int("size", e.Size)
	case AdminRotated, RoleGranted, RoleRevoked:
		ev = ev.Stringer("subject", e.Address).Stringer("role", e.Role)
	}
	ev.Stringer("actor", e.Actor).Uint64("at", e.At).Msg("routeplane event")
}
