package storage

import (
	"bytes"
	"context"
	"sync"

	"xdao.co/routeplane/cidutil"
	"xdao.co/routeplane/model"
)

// MemoryChunks is an in-process ChunkStore.
type MemoryChunks struct {
	mu       sync.RWMutex
	byDigest map[model.Hash]model.Chunk
	byAddr   map[model.Address]model.Hash
	code     map[model.Address][]byte
	fees     uint64
}

var _ ChunkStore = (*MemoryChunks)(nil)

func NewMemoryChunks() *MemoryChunks {
	return &MemoryChunks{
		byDigest: make(map[model.Hash]model.Chunk),
		byAddr:   make(map[model.Address]model.Hash),
		code:     make(map[model.Address][]byte),
	}
}

func (m *MemoryChunks) ChunkByDigest(_ context.Context, digest model.Hash) (model.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byDigest[digest]
	if !ok {
		return model.Chunk{}, ErrNotFound
	}
	return c, nil
}

func (m *MemoryChunks) ChunkAt(_ context.Context, addr model.Address) (model.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.byAddr[addr]
	if !ok {
		return model.Chunk{}, ErrNotFound
	}
	return m.byDigest[d], nil
}

func (m *MemoryChunks) Code(_ context.Context, addr model.Address) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.byAddr[addr]
	if !ok {
		return nil, ErrNotFound
	}
	b := m.code[addr]
	if cidutil.ContentDigest(b) != d {
		return nil, ErrCorrupt
	}
	return append([]byte(nil), b...), nil
}

func (m *MemoryChunks) CommitChunks(_ context.Context, records []ChunkRecord, fee uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Validate everything before touching the maps.
	fresh := make([]ChunkRecord, 0, len(records))
	pending := make(map[model.Hash]struct{}, len(records))
	for _, r := range records {
		if existing, ok := m.byDigest[r.Chunk.ContentHash]; ok {
			if existing != r.Chunk || !bytes.Equal(m.code[existing.Address], r.Code) {
				return ErrImmutable
			}
			continue
		}
		if d, ok := m.byAddr[r.Chunk.Address]; ok && d != r.Chunk.ContentHash {
			return ErrImmutable
		}
		if _, dup := pending[r.Chunk.ContentHash]; dup {
			continue
		}
		pending[r.Chunk.ContentHash] = struct{}{}
		fresh = append(fresh, r)
	}

	for _, r := range fresh {
		m.byDigest[r.Chunk.ContentHash] = r.Chunk
		m.byAddr[r.Chunk.Address] = r.Chunk.ContentHash
		m.code[r.Chunk.Address] = append([]byte(nil), r.Code...)
	}
	m.fees += fee
	return nil
}

func (m *MemoryChunks) Stats(_ context.Context) (ChunkStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return ChunkStats{Count: uint64(len(m.byDigest)), FeesCollected: m.fees}, nil
}

// Corrupt overwrites the code stored at addr without updating its digest.
// It exists to exercise integrity checks in tests.
func (m *MemoryChunks) Corrupt(addr model.Address, code []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.code[addr] = append([]byte(nil), code...)
}

// MemoryRouting is an in-process RoutingStore.
type MemoryRouting struct {
	mu sync.RWMutex
	st *model.DispatcherState
}

var _ RoutingStore = (*MemoryRouting)(nil)

func NewMemoryRouting() *MemoryRouting { return &MemoryRouting{} }

func (m *MemoryRouting) LoadState(_ context.Context) (*model.DispatcherState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.st == nil {
		return nil, ErrNotFound
	}
	return m.st.Clone(), nil
}

func (m *MemoryRouting) SaveState(_ context.Context, st *model.DispatcherState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = st.Clone()
	return nil
}
