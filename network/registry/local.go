package registry

import (
	"context"
	"fmt"
	"strings"

	"xdao.co/routeplane/chaintime"
	"xdao.co/routeplane/deploy"
	"xdao.co/routeplane/dispatch"
	"xdao.co/routeplane/events"
	"xdao.co/routeplane/network"
	"xdao.co/routeplane/storage"
	"xdao.co/routeplane/storage/badgerstore"
)

func init() {
	MustRegister(Backend{
		Name:        "memory",
		Description: "in-process network with memory-backed ledger state",
		Usage:       UsageCLI | UsageDaemon,
		Open: func(ctx context.Context, spec Spec) (network.Network, func() error, error) {
			return OpenLocal(ctx, spec, storage.NewMemoryChunks(), storage.NewMemoryRouting())
		},
	})
	MustRegister(Backend{
		Name:        "badger",
		Description: "in-process network with ledger state persisted in BadgerDB",
		Usage:       UsageCLI | UsageDaemon,
		Open: func(ctx context.Context, spec Spec) (network.Network, func() error, error) {
			path := strings.TrimSpace(spec.Path)
			if path == "" {
				return nil, nil, fmt.Errorf("network %s: badger backend requires a path", spec.ID)
			}
			cfg := badgerstore.DefaultConfig(path)
			logger := spec.Logger.With().Str("network", spec.ID).Str("component", "badger").Logger()
			cfg.Logger = &logger
			db, err := badgerstore.Open(cfg)
			if err != nil {
				return nil, nil, err
			}
			n, _, err := OpenLocal(ctx, spec, db, db)
			if err != nil {
				_ = db.Close()
				return nil, nil, err
			}
			return n, db.Close, nil
		},
	})
}

// OpenLocal assembles a network.Local over the given stores.
func OpenLocal(ctx context.Context, spec Spec, chunks storage.ChunkStore, routing storage.RoutingStore) (*network.Local, func() error, error) {
	clock := spec.Clock
	if clock == nil {
		clock = chaintime.System{}
	}
	logger := spec.Logger.With().Str("network", spec.ID).Logger()
	var sink events.Sink = events.Discard{}
	if spec.Sink != nil {
		sink = events.Tagged{Network: spec.ID, Sink: spec.Sink}
	}

	store, err := deploy.New(chunks, spec.Store,
		deploy.WithLogger(logger),
		deploy.WithSink(sink),
		deploy.WithMetrics(spec.Metrics),
		deploy.WithClock(clock.Now),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("network %s: %w", spec.ID, err)
	}
	d, err := dispatch.New(ctx, routing, store, clock, spec.Dispatch,
		dispatch.WithLogger(logger),
		dispatch.WithSink(sink),
		dispatch.WithMetrics(spec.Metrics),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("network %s: %w", spec.ID, err)
	}
	n := network.NewLocal(spec.ID, store, d)
	return n, n.Close, nil
}
