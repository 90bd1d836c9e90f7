// Package badgerstore persists chunk records and the dispatcher snapshot in
// an embedded BadgerDB.
//
// One Store implements both storage.ChunkStore and storage.RoutingStore for a
// single network; every mutating call is one Badger read-write transaction.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"xdao.co/routeplane/cidutil"
	"xdao.co/routeplane/model"
	"xdao.co/routeplane/storage"
)

// Config holds configuration for a Badger-backed store.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal log lines. Nil disables them.
	Logger *zerolog.Logger
}

// DefaultConfig returns durable settings rooted at path.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns settings for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

type badgerLogger struct {
	logger zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(format, args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info().Msgf(format, args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}

var (
	prefixDigest = []byte("c/d/")
	prefixAddr   = []byte("c/a/")
	prefixCode   = []byte("c/x/")
	keyStats     = []byte("m/stats")
	keyState     = []byte("d/state")
)

func key(prefix []byte, id []byte) []byte {
	out := make([]byte, 0, len(prefix)+len(id))
	out = append(out, prefix...)
	return append(out, id...)
}

// Store is a Badger-backed ChunkStore and RoutingStore.
type Store struct {
	db *badger.DB
}

var (
	_ storage.ChunkStore   = (*Store)(nil)
	_ storage.RoutingStore = (*Store)(nil)
)

// Open opens (creating if needed) a store with cfg.
func Open(cfg Config) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("badgerstore: path is required for a persistent store")
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("badgerstore: create %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(badgerLogger{logger: *cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func getJSON(txn *badger.Txn, k []byte, out any) error {
	item, err := txn.Get(k)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return storage.ErrNotFound
	}
	if err != nil {
		return err
	}
	b, err := item.ValueCopy(nil)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func getRaw(txn *badger.Txn, k []byte) ([]byte, error) {
	item, err := txn.Get(k)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (s *Store) ChunkByDigest(ctx context.Context, digest model.Hash) (model.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return model.Chunk{}, err
	}
	var c model.Chunk
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, key(prefixDigest, digest[:]), &c)
	})
	return c, err
}

func (s *Store) ChunkAt(ctx context.Context, addr model.Address) (model.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return model.Chunk{}, err
	}
	var c model.Chunk
	err := s.db.View(func(txn *badger.Txn) error {
		d, err := getRaw(txn, key(prefixAddr, addr[:]))
		if err != nil {
			return err
		}
		return getJSON(txn, key(prefixDigest, d), &c)
	})
	return c, err
}

func (s *Store) Code(ctx context.Context, addr model.Address) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var code []byte
	err := s.db.View(func(txn *badger.Txn) error {
		d, err := getRaw(txn, key(prefixAddr, addr[:]))
		if err != nil {
			return err
		}
		want, err := model.HashFromBytes(d)
		if err != nil {
			return storage.ErrCorrupt
		}
		b, err := getRaw(txn, key(prefixCode, addr[:]))
		if err != nil {
			return err
		}
		if cidutil.ContentDigest(b) != want {
			return storage.ErrCorrupt
		}
		code = b
		return nil
	})
	return code, err
}

func (s *Store) CommitChunks(ctx context.Context, records []storage.ChunkRecord, fee uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		var stats storage.ChunkStats
		if err := getJSON(txn, keyStats, &stats); err != nil && !storage.IsNotFound(err) {
			return err
		}

		pending := make(map[model.Hash]struct{}, len(records))
		for _, r := range records {
			c := r.Chunk
			var existing model.Chunk
			err := getJSON(txn, key(prefixDigest, c.ContentHash[:]), &existing)
			switch {
			case err == nil:
				if existing != c {
					return storage.ErrImmutable
				}
				code, cerr := getRaw(txn, key(prefixCode, c.Address[:]))
				if cerr != nil || string(code) != string(r.Code) {
					return storage.ErrImmutable
				}
				continue
			case !storage.IsNotFound(err):
				return err
			}
			if d, err := getRaw(txn, key(prefixAddr, c.Address[:])); err == nil {
				if string(d) != string(c.ContentHash[:]) {
					return storage.ErrImmutable
				}
			} else if !storage.IsNotFound(err) {
				return err
			}
			if _, dup := pending[c.ContentHash]; dup {
				continue
			}
			pending[c.ContentHash] = struct{}{}

			b, err := json.Marshal(c)
			if err != nil {
				return err
			}
			if err := txn.Set(key(prefixDigest, c.ContentHash[:]), b); err != nil {
				return err
			}
			if err := txn.Set(key(prefixAddr, c.Address[:]), append([]byte(nil), c.ContentHash[:]...)); err != nil {
				return err
			}
			if err := txn.Set(key(prefixCode, c.Address[:]), append([]byte(nil), r.Code...)); err != nil {
				return err
			}
			stats.Count++
		}
		stats.FeesCollected += fee
		b, err := json.Marshal(stats)
		if err != nil {
			return err
		}
		return txn.Set(keyStats, b)
	})
}

func (s *Store) Stats(ctx context.Context) (storage.ChunkStats, error) {
	if err := ctx.Err(); err != nil {
		return storage.ChunkStats{}, err
	}
	var stats storage.ChunkStats
	err := s.db.View(func(txn *badger.Txn) error {
		err := getJSON(txn, keyStats, &stats)
		if storage.IsNotFound(err) {
			return nil
		}
		return err
	})
	return stats, err
}

func (s *Store) LoadState(ctx context.Context) (*model.DispatcherState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var st model.DispatcherState
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, keyState, &st)
	})
	if err != nil {
		return nil, err
	}
	if st.Roles == nil {
		st.Roles = map[model.Address]model.Role{}
	}
	return &st, nil
}

func (s *Store) SaveState(ctx context.Context, st *model.DispatcherState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyState, b)
	})
}

// Size reports the on-disk LSM and value-log sizes, for diagnostics.
func (s *Store) Size() (lsm, vlog int64) {
	return s.db.Size()
}
