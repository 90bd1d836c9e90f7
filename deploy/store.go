// Package deploy places immutable code chunks at addresses computable in
// advance from content alone.
//
// A Store is one network's deployment endpoint. It is idempotent by content
// digest: staging the same bytes twice returns the same chunk without a second
// deployment or a second charge. Batches are all-or-nothing; separate batches
// are independently idempotent.
package deploy

import (
	"context"
	"errors"
	"math/bits"
	"sync"

	"github.com/rs/zerolog"

	"xdao.co/routeplane/cidutil"
	"xdao.co/routeplane/events"
	"xdao.co/routeplane/model"
	"xdao.co/routeplane/observability"
	"xdao.co/routeplane/storage"
)

const (
	DefaultMaxChunkSize = 24576
	DefaultMaxBatchSize = 32
)

// Config fixes a store's identity, fee policy and limits.
//
// A zero FeeRecipient means fees are disabled. Setting a Fee without a
// recipient is a configuration error rather than a silent default.
type Config struct {
	Identity     model.Address
	Fee          uint64
	FeeRecipient model.Address
	MaxChunkSize int
	MaxBatchSize int
}

func (c Config) withDefaults() Config {
	if c.MaxChunkSize == 0 {
		c.MaxChunkSize = DefaultMaxChunkSize
	}
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = DefaultMaxBatchSize
	}
	return c
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	if c.Identity.IsZero() {
		return model.Errorf(model.CodeInvalidConfig, "store identity is required")
	}
	if c.Fee > 0 && c.FeeRecipient.IsZero() {
		return model.Errorf(model.CodeFeeConfig, "fee %d configured without a fee recipient", c.Fee)
	}
	if c.MaxChunkSize < 0 || c.MaxBatchSize < 0 {
		return model.Errorf(model.CodeInvalidConfig, "limits must not be negative")
	}
	return nil
}

// FeesEnabled reports whether calls are charged.
func (c Config) FeesEnabled() bool { return !c.FeeRecipient.IsZero() }

// BatchFee returns fee × n. ok is false when the product does not fit in a
// uint64.
func BatchFee(fee uint64, n int) (total uint64, ok bool) {
	if n < 0 {
		return 0, false
	}
	hi, lo := bits.Mul64(fee, uint64(n))
	return lo, hi == 0
}

type Option func(*Store)

func WithLogger(l zerolog.Logger) Option { return func(s *Store) { s.log = l } }

func WithSink(sink events.Sink) Option {
	return func(s *Store) {
		if sink != nil {
			s.sink = sink
		}
	}
}

func WithMetrics(m *observability.Metrics) Option { return func(s *Store) { s.metrics = m } }

// WithClock stamps emitted events with chain time.
func WithClock(now func() uint64) Option { return func(s *Store) { s.now = now } }

type Store struct {
	cfg     Config
	chunks  storage.ChunkStore
	log     zerolog.Logger
	sink    events.Sink
	metrics *observability.Metrics
	now     func() uint64

	// Serializes validate-then-commit so the fee charged matches what is new.
	mu sync.Mutex
}

// New returns a store over chunks.
func New(chunks storage.ChunkStore, cfg Config, opts ...Option) (*Store, error) {
	if chunks == nil {
		return nil, model.Errorf(model.CodeInvalidConfig, "chunk store is required")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Store{
		cfg:    cfg,
		chunks: chunks,
		log:    zerolog.Nop(),
		sink:   events.Discard{},
		now:    func() uint64 { return 0 },
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Store) Config() Config { return s.cfg }

// Predict returns the address content would be staged at. It changes nothing
// and charges nothing.
func (s *Store) Predict(content []byte) model.Address {
	return PredictAddress(s.cfg.Identity, content)
}

// Stage deploys content, or returns the existing chunk if its digest is
// already deployed.
func (s *Store) Stage(ctx context.Context, call model.Call, content []byte) (model.Chunk, error) {
	out, err := s.stage(ctx, call, [][]byte{content})
	if err != nil {
		return model.Chunk{}, err
	}
	return out[0], nil
}

// StageBatch stages every item or none. The fee is charged once per distinct
// new chunk; items already deployed, and repeats within the batch, are free.
func (s *Store) StageBatch(ctx context.Context, call model.Call, contents [][]byte) ([]model.Chunk, error) {
	if len(contents) == 0 {
		return nil, model.Errorf(model.CodeEmptyBatch, "batch has no items")
	}
	if len(contents) > s.cfg.MaxBatchSize {
		return nil, model.Errorf(model.CodeBatchTooLarge, "batch of %d exceeds limit %d", len(contents), s.cfg.MaxBatchSize)
	}
	return s.stage(ctx, call, contents)
}

func (s *Store) stage(ctx context.Context, call model.Call, contents [][]byte) ([]model.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Chunk, len(contents))
	var fresh []storage.ChunkRecord
	seen := make(map[model.Hash]int, len(contents))

	for i, content := range contents {
		if len(content) == 0 {
			return nil, model.Errorf(model.CodeEmptyContent, "item %d is empty", i)
		}
		digest := cidutil.ContentDigest(content)
		if j, ok := seen[digest]; ok {
			out[i] = out[j]
			continue
		}
		seen[digest] = i

		existing, err := s.chunks.ChunkByDigest(ctx, digest)
		switch {
		case err == nil:
			out[i] = existing
			continue
		case !errors.Is(err, storage.ErrNotFound):
			return nil, model.Wrap(model.CodeInternal, err, "look up chunk %s", digest)
		}

		if len(content) > s.cfg.MaxChunkSize {
			return nil, model.Errorf(model.CodeSizeExceeded, "item %d is %d bytes, limit %d", i, len(content), s.cfg.MaxChunkSize)
		}
		_, id := cidutil.MustCID(content)
		c := model.Chunk{
			Address:     s.Predict(content),
			ContentHash: digest,
			Size:        len(content),
			CID:         id,
		}
		out[i] = c
		fresh = append(fresh, storage.ChunkRecord{Chunk: c, Code: content})
	}

	var fee uint64
	if s.cfg.FeesEnabled() {
		total, ok := BatchFee(s.cfg.Fee, len(fresh))
		if !ok {
			return nil, model.Errorf(model.CodeInsufficientFee, "%d new chunk(s) at fee %d exceed any payable value", len(fresh), s.cfg.Fee)
		}
		fee = total
		if call.Value < fee {
			return nil, model.Errorf(model.CodeInsufficientFee, "%d new chunk(s) cost %d, paid %d", len(fresh), fee, call.Value)
		}
	}
	if len(fresh) == 0 {
		return out, nil
	}

	if err := s.chunks.CommitChunks(ctx, fresh, fee); err != nil {
		if errors.Is(err, storage.ErrImmutable) {
			return nil, model.Wrap(model.CodeAddressMismatch, err, "chunk conflicts with a deployed record")
		}
		return nil, model.Wrap(model.CodeInternal, err, "commit %d chunk(s)", len(fresh))
	}

	at := s.now()
	for _, r := range fresh {
		s.log.Debug().
			Stringer("address", r.Chunk.Address).
			Str("cid", r.Chunk.CID).
			Int("size", r.Chunk.Size).
			Msg("chunk deployed")
		s.sink.Emit(events.Event{
			Kind:        events.ChunkDeployed,
			Address:     r.Chunk.Address,
			ContentHash: r.Chunk.ContentHash,
			Size:        r.Chunk.Size,
			Actor:       call.Caller,
			At:          at,
		})
	}
	s.metrics.RecordDeploy(s.cfg.Identity.String(), len(fresh), fee)
	return out, nil
}

// Info reports the store's fee policy, limits and counters.
func (s *Store) Info(ctx context.Context) (model.StoreInfo, error) {
	stats, err := s.chunks.Stats(ctx)
	if err != nil {
		return model.StoreInfo{}, model.Wrap(model.CodeInternal, err, "read chunk stats")
	}
	return model.StoreInfo{
		Identity:      s.cfg.Identity,
		Fee:           s.cfg.Fee,
		FeeRecipient:  s.cfg.FeeRecipient,
		FeesEnabled:   s.cfg.FeesEnabled(),
		MaxChunkSize:  s.cfg.MaxChunkSize,
		MaxBatchSize:  s.cfg.MaxBatchSize,
		ChunkCount:    stats.Count,
		FeesCollected: stats.FeesCollected,
	}, nil
}

// ChunkAt returns the chunk record deployed at addr.
func (s *Store) ChunkAt(ctx context.Context, addr model.Address) (model.Chunk, error) {
	c, err := s.chunks.ChunkAt(ctx, addr)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Chunk{}, model.Errorf(model.CodeNoCode, "no chunk at %s", addr)
	}
	if err != nil {
		return model.Chunk{}, model.Wrap(model.CodeInternal, err, "read chunk at %s", addr)
	}
	return c, nil
}

// Code returns the bytes deployed at addr, verified against the recorded
// digest.
func (s *Store) Code(ctx context.Context, addr model.Address) ([]byte, error) {
	b, err := s.chunks.Code(ctx, addr)
	switch {
	case err == nil:
		return b, nil
	case errors.Is(err, storage.ErrNotFound):
		return nil, model.Errorf(model.CodeNoCode, "no code at %s", addr)
	case errors.Is(err, storage.ErrCorrupt):
		return nil, model.Wrap(model.CodeCodeCorrupted, err, "code at %s does not match its digest", addr)
	default:
		return nil, model.Wrap(model.CodeInternal, err, "read code at %s", addr)
	}
}

// CodeHash returns the sha2-256 digest of the code actually stored at addr.
// The bytes are re-hashed on every call.
func (s *Store) CodeHash(ctx context.Context, addr model.Address) (model.Hash, error) {
	b, err := s.Code(ctx, addr)
	if err != nil {
		return model.Hash{}, err
	}
	return cidutil.ContentDigest(b), nil
}
