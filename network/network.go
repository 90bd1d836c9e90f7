// Package network abstracts one target network: its deployment store and its
// dispatcher, as seen by the orchestrator.
package network

import (
	"context"

	"xdao.co/routeplane/deploy"
	"xdao.co/routeplane/dispatch"
	"xdao.co/routeplane/model"
	"xdao.co/routeplane/prooftree"
)

// Network is the orchestrator's view of a single network. Implementations
// must be safe for concurrent use.
type Network interface {
	ID() string

	Info(ctx context.Context) (model.StoreInfo, error)
	Predict(ctx context.Context, content []byte) (model.Address, error)
	StageBatch(ctx context.Context, call model.Call, contents [][]byte) ([]model.Chunk, error)
	CodeHash(ctx context.Context, addr model.Address) (model.Hash, error)
	ChunkAt(ctx context.Context, addr model.Address) (model.Chunk, error)

	Commit(ctx context.Context, actor model.Address, c model.Commitment) error
	Apply(ctx context.Context, actor model.Address, entry model.RouteEntry, proof prooftree.Proof) error
	Activate(ctx context.Context, actor model.Address) error
	Status(ctx context.Context) (model.DispatcherStatus, error)
	Lookup(ctx context.Context, sel model.Selector) (model.RouteEntry, error)
}

// Local is an in-process network backed by a deployment store and a
// dispatcher.
type Local struct {
	id         string
	store      *deploy.Store
	dispatcher *dispatch.Dispatcher
	closers    []func() error
}

var _ Network = (*Local)(nil)

// NewLocal wraps store and dispatcher as network id. closers run on Close.
func NewLocal(id string, store *deploy.Store, dispatcher *dispatch.Dispatcher, closers ...func() error) *Local {
	return &Local{id: id, store: store, dispatcher: dispatcher, closers: closers}
}

func (l *Local) ID() string                       { return l.id }
func (l *Local) Store() *deploy.Store             { return l.store }
func (l *Local) Dispatcher() *dispatch.Dispatcher { return l.dispatcher }

func (l *Local) Info(ctx context.Context) (model.StoreInfo, error) { return l.store.Info(ctx) }

func (l *Local) Predict(ctx context.Context, content []byte) (model.Address, error) {
	if err := ctx.Err(); err != nil {
		return model.Address{}, err
	}
	return l.store.Predict(content), nil
}

func (l *Local) StageBatch(ctx context.Context, call model.Call, contents [][]byte) ([]model.Chunk, error) {
	return l.store.StageBatch(ctx, call, contents)
}

func (l *Local) CodeHash(ctx context.Context, addr model.Address) (model.Hash, error) {
	return l.store.CodeHash(ctx, addr)
}

func (l *Local) ChunkAt(ctx context.Context, addr model.Address) (model.Chunk, error) {
	return l.store.ChunkAt(ctx, addr)
}

func (l *Local) Commit(ctx context.Context, actor model.Address, c model.Commitment) error {
	return l.dispatcher.Commit(ctx, actor, c)
}

func (l *Local) Apply(ctx context.Context, actor model.Address, entry model.RouteEntry, proof prooftree.Proof) error {
	return l.dispatcher.Apply(ctx, actor, entry, proof)
}

func (l *Local) Activate(ctx context.Context, actor model.Address) error {
	return l.dispatcher.Activate(ctx, actor)
}

func (l *Local) Status(ctx context.Context) (model.DispatcherStatus, error) {
	return l.dispatcher.Status(ctx)
}

func (l *Local) Lookup(ctx context.Context, sel model.Selector) (model.RouteEntry, error) {
	if err := ctx.Err(); err != nil {
		return model.RouteEntry{}, err
	}
	return l.dispatcher.Lookup(sel)
}

// Close releases the backing stores.
func (l *Local) Close() error {
	var first error
	for _, c := range l.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
