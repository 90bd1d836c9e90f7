// Package storage defines the persistence boundaries of one network's ledger
// state: deployed chunks (ChunkStore) and the dispatcher snapshot
// (RoutingStore).
//
// Both are injected into the deployment store and the dispatcher so that the
// state machines can be tested without a live ledger. Every mutating method is
// a single atomic step: on error nothing is visible.
package storage

import (
	"context"

	"xdao.co/routeplane/model"
)

// ChunkRecord is a chunk together with the code bytes deployed at its address.
type ChunkRecord struct {
	Chunk model.Chunk
	Code  []byte
}

// ChunkStats summarizes a ChunkStore.
type ChunkStats struct {
	Count         uint64 `json:"count"`
	FeesCollected uint64 `json:"feesCollected"`
}

// ChunkStore persists immutable chunk records keyed by content digest.
//
// Contract:
// - CommitChunks MUST apply all records and the fee credit atomically, or none.
// - Re-committing an identical record MUST be a no-op; a different record for an
//   existing digest or address MUST fail with ErrImmutable.
// - Code MUST verify the stored bytes against the chunk's digest and return
//   ErrCorrupt on mismatch.
// - Lookups of absent keys MUST return ErrNotFound.
type ChunkStore interface {
	ChunkByDigest(ctx context.Context, digest model.Hash) (model.Chunk, error)
	ChunkAt(ctx context.Context, addr model.Address) (model.Chunk, error)
	Code(ctx context.Context, addr model.Address) ([]byte, error)
	CommitChunks(ctx context.Context, records []ChunkRecord, fee uint64) error
	Stats(ctx context.Context) (ChunkStats, error)
}

// RoutingStore persists the dispatcher snapshot.
//
// Contract:
// - LoadState MUST return ErrNotFound before the first SaveState.
// - SaveState MUST replace the snapshot atomically.
// - Returned snapshots MUST NOT alias memory held by the store.
type RoutingStore interface {
	LoadState(ctx context.Context) (*model.DispatcherState, error)
	SaveState(ctx context.Context, st *model.DispatcherState) error
}
