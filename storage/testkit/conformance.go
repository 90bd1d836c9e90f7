// Package testkit holds conformance suites shared by every storage backend.
package testkit

import (
	"bytes"
	"context"
	"testing"

	"xdao.co/routeplane/cidutil"
	"xdao.co/routeplane/model"
	"xdao.co/routeplane/storage"
)

// NewChunkStore constructs a fresh, empty ChunkStore for a test.
// The returned store MUST be isolated from other tests.
type NewChunkStore func(t *testing.T) storage.ChunkStore

// NewRoutingStore constructs a fresh, empty RoutingStore for a test.
type NewRoutingStore func(t *testing.T) storage.RoutingStore

// Record builds a ChunkRecord for code at addr.
func Record(addr model.Address, code []byte) storage.ChunkRecord {
	digest, id := cidutil.MustCID(code)
	return storage.ChunkRecord{
		Chunk: model.Chunk{Address: addr, ContentHash: digest, Size: len(code), CID: id},
		Code:  code,
	}
}

func RunChunkStoreConformance(t *testing.T, newStore NewChunkStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("CommitAndRead", func(t *testing.T) {
		s := newStore(t)
		rec := Record(model.Address{19: 1}, []byte("code one"))
		if err := s.CommitChunks(ctx, []storage.ChunkRecord{rec}, 7); err != nil {
			t.Fatalf("CommitChunks: %v", err)
		}
		got, err := s.ChunkByDigest(ctx, rec.Chunk.ContentHash)
		if err != nil {
			t.Fatalf("ChunkByDigest: %v", err)
		}
		if got != rec.Chunk {
			t.Fatalf("chunk mismatch: %+v vs %+v", got, rec.Chunk)
		}
		at, err := s.ChunkAt(ctx, rec.Chunk.Address)
		if err != nil || at != rec.Chunk {
			t.Fatalf("ChunkAt: %+v %v", at, err)
		}
		code, err := s.Code(ctx, rec.Chunk.Address)
		if err != nil {
			t.Fatalf("Code: %v", err)
		}
		if !bytes.Equal(code, rec.Code) {
			t.Fatalf("code mismatch")
		}
		st, err := s.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if st.Count != 1 || st.FeesCollected != 7 {
			t.Fatalf("stats: %+v", st)
		}
	})

	t.Run("IdenticalRecommitIsNoop", func(t *testing.T) {
		s := newStore(t)
		rec := Record(model.Address{19: 2}, []byte("same"))
		if err := s.CommitChunks(ctx, []storage.ChunkRecord{rec}, 0); err != nil {
			t.Fatalf("CommitChunks(1): %v", err)
		}
		if err := s.CommitChunks(ctx, []storage.ChunkRecord{rec, rec}, 0); err != nil {
			t.Fatalf("CommitChunks(2): %v", err)
		}
		st, _ := s.Stats(ctx)
		if st.Count != 1 {
			t.Fatalf("count after recommit: %d", st.Count)
		}
	})

	t.Run("ConflictingRecordRejectedAtomically", func(t *testing.T) {
		s := newStore(t)
		first := Record(model.Address{19: 3}, []byte("first"))
		if err := s.CommitChunks(ctx, []storage.ChunkRecord{first}, 0); err != nil {
			t.Fatalf("CommitChunks: %v", err)
		}
		other := Record(model.Address{19: 4}, []byte("other"))
		clash := Record(model.Address{19: 3}, []byte("clash at same address"))
		err := s.CommitChunks(ctx, []storage.ChunkRecord{other, clash}, 5)
		if err != storage.ErrImmutable {
			t.Fatalf("got %v want ErrImmutable", err)
		}
		if _, err := s.ChunkAt(ctx, other.Chunk.Address); !storage.IsNotFound(err) {
			t.Fatalf("partial commit visible: %v", err)
		}
		st, _ := s.Stats(ctx)
		if st.Count != 1 || st.FeesCollected != 0 {
			t.Fatalf("stats changed by failed commit: %+v", st)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.ChunkByDigest(ctx, model.Hash{1}); !storage.IsNotFound(err) {
			t.Fatalf("ChunkByDigest: %v", err)
		}
		if _, err := s.ChunkAt(ctx, model.Address{1}); !storage.IsNotFound(err) {
			t.Fatalf("ChunkAt: %v", err)
		}
		if _, err := s.Code(ctx, model.Address{1}); !storage.IsNotFound(err) {
			t.Fatalf("Code: %v", err)
		}
	})
}

func RunRoutingStoreConformance(t *testing.T, newStore NewRoutingStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("EmptyIsNotFound", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.LoadState(ctx); !storage.IsNotFound(err) {
			t.Fatalf("LoadState on empty store: %v", err)
		}
	})

	t.Run("SaveLoadRoundTrip", func(t *testing.T) {
		s := newStore(t)
		admin := model.Address{19: 9}
		st := &model.DispatcherState{
			ActiveEpoch:     2,
			CommittedRoot:   model.Hash{7},
			CommittedEpoch:  3,
			CommittedAt:     1000,
			Pending:         true,
			ActivationDelay: 3600,
			Admin:           admin,
			Roles:           map[model.Address]model.Role{admin: model.RoleAdmin},
			Routes:          []model.Route{{Entry: model.RouteEntry{Selector: model.Selector{1}}, Epoch: 2}},
			Applied:         []model.Selector{{1}},
		}
		if err := s.SaveState(ctx, st); err != nil {
			t.Fatalf("SaveState: %v", err)
		}
		got, err := s.LoadState(ctx)
		if err != nil {
			t.Fatalf("LoadState: %v", err)
		}
		if got.CommittedAt != 1000 || got.CommittedRoot != st.CommittedRoot || !got.Pending {
			t.Fatalf("state mismatch: %+v", got)
		}
		if got.Roles[admin] != model.RoleAdmin || len(got.Routes) != 1 || len(got.Applied) != 1 {
			t.Fatalf("collections lost: %+v", got)
		}

		// Mutating the loaded copy must not leak into the store.
		got.Routes[0].Epoch = 42
		again, _ := s.LoadState(ctx)
		if again.Routes[0].Epoch != 2 {
			t.Fatalf("LoadState aliases store memory")
		}
	})
}
