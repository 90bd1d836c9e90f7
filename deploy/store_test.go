package deploy

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"

	"xdao.co/routeplane/cidutil"
	"xdao.co/routeplane/events"
	"xdao.co/routeplane/model"
	"xdao.co/routeplane/storage"
)

var (
	identity  = model.Address{0: 0xd1, 19: 0x01}
	recipient = model.Address{0: 0xfe, 19: 0x02}
	caller    = model.Address{0: 0xca, 19: 0x03}
)

func newStore(t *testing.T, cfg Config, opts ...Option) (*Store, *storage.MemoryChunks) {
	t.Helper()
	chunks := storage.NewMemoryChunks()
	if cfg.Identity.IsZero() {
		cfg.Identity = identity
	}
	s, err := New(chunks, cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, chunks
}

func TestPredictAddress_PureAndContentSensitive(t *testing.T) {
	a := PredictAddress(identity, []byte("module a"))
	if a != PredictAddress(identity, []byte("module a")) {
		t.Fatalf("prediction is not deterministic")
	}
	if a == PredictAddress(identity, []byte("module b")) {
		t.Fatalf("different content must predict different addresses")
	}
	if a == PredictAddress(model.Address{19: 9}, []byte("module a")) {
		t.Fatalf("different identity must predict different addresses")
	}
}

func TestStage_MatchesPrediction(t *testing.T) {
	s, _ := newStore(t, Config{})
	content := []byte("implementation bytes")
	want := s.Predict(content)

	c, err := s.Stage(context.Background(), model.Call{Caller: caller}, content)
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if c.Address != want {
		t.Fatalf("staged at %s, predicted %s", c.Address, want)
	}
	if c.ContentHash != cidutil.ContentDigest(content) || c.Size != len(content) {
		t.Fatalf("chunk record wrong: %+v", c)
	}
	if c.CID != cidutil.CIDv1RawSHA256(content) {
		t.Fatalf("cid: got %s", c.CID)
	}
}

func TestStage_ThousandBytesTwiceChargesOnce(t *testing.T) {
	var rec events.Recorder
	s, _ := newStore(t, Config{Fee: 5, FeeRecipient: recipient}, WithSink(&rec))
	ctx := context.Background()
	content := bytes.Repeat([]byte{0x42}, 1000)

	before, err := s.Info(ctx)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	first, err := s.Stage(ctx, model.Call{Caller: caller, Value: 5}, content)
	if err != nil {
		t.Fatalf("first Stage: %v", err)
	}
	// Already deployed: a zero-value call is accepted and nothing is charged.
	second, err := s.Stage(ctx, model.Call{Caller: caller}, content)
	if err != nil {
		t.Fatalf("second Stage: %v", err)
	}
	if first != second {
		t.Fatalf("second stage returned a different chunk")
	}
	after, _ := s.Info(ctx)
	if after.ChunkCount != before.ChunkCount+1 {
		t.Fatalf("chunk count: before %d after %d", before.ChunkCount, after.ChunkCount)
	}
	if after.FeesCollected != 5 {
		t.Fatalf("fees collected: got %d want 5", after.FeesCollected)
	}
	if n := len(rec.Events()); n != 1 {
		t.Fatalf("expected one ChunkDeployed event, got %d", n)
	}
	ev := rec.Events()[0]
	if ev.Kind != events.ChunkDeployed || ev.Address != first.Address || ev.Size != 1000 {
		t.Fatalf("event: %+v", ev)
	}
}

func TestStage_Rejections(t *testing.T) {
	s, _ := newStore(t, Config{Fee: 3, FeeRecipient: recipient, MaxChunkSize: 8})
	ctx := context.Background()

	if _, err := s.Stage(ctx, model.Call{Value: 3}, nil); model.CodeOf(err) != model.CodeEmptyContent {
		t.Fatalf("empty: got %v", err)
	}
	if _, err := s.Stage(ctx, model.Call{Value: 3}, make([]byte, 9)); !errors.Is(err, model.ErrSizeExceeded) {
		t.Fatalf("oversize: got %v", err)
	}
	if _, err := s.Stage(ctx, model.Call{Value: 2}, []byte("ok")); !errors.Is(err, model.ErrInsufficientFee) {
		t.Fatalf("underpaid: got %v", err)
	}
	info, _ := s.Info(ctx)
	if info.ChunkCount != 0 || info.FeesCollected != 0 {
		t.Fatalf("rejected calls changed state: %+v", info)
	}
}

func TestStage_FeesDisabledByZeroRecipient(t *testing.T) {
	s, _ := newStore(t, Config{})
	if s.Config().FeesEnabled() {
		t.Fatalf("zero recipient must disable fees")
	}
	if _, err := s.Stage(context.Background(), model.Call{}, []byte("free")); err != nil {
		t.Fatalf("Stage: %v", err)
	}
}

func TestNew_FeeWithoutRecipientRejected(t *testing.T) {
	_, err := New(storage.NewMemoryChunks(), Config{Identity: identity, Fee: 1})
	if !errors.Is(err, model.ErrFeeConfig) {
		t.Fatalf("expected FeeConfig, got %v", err)
	}
	if _, err := New(storage.NewMemoryChunks(), Config{}); model.CodeOf(err) != model.CodeInvalidConfig {
		t.Fatalf("expected InvalidConfig for missing identity, got %v", err)
	}
}

func TestStageBatch_AllOrNothing(t *testing.T) {
	s, _ := newStore(t, Config{MaxChunkSize: 16})
	ctx := context.Background()

	_, err := s.StageBatch(ctx, model.Call{}, [][]byte{[]byte("fine"), make([]byte, 17)})
	if !errors.Is(err, model.ErrSizeExceeded) {
		t.Fatalf("expected SizeExceeded, got %v", err)
	}
	info, _ := s.Info(ctx)
	if info.ChunkCount != 0 {
		t.Fatalf("failed batch left %d chunk(s) behind", info.ChunkCount)
	}
	if _, err := s.ChunkAt(ctx, s.Predict([]byte("fine"))); model.CodeOf(err) != model.CodeNoCode {
		t.Fatalf("valid item of a failed batch was deployed: %v", err)
	}
}

func TestStageBatch_DuplicatesChargedOnce(t *testing.T) {
	s, _ := newStore(t, Config{Fee: 4, FeeRecipient: recipient})
	ctx := context.Background()
	a, b := []byte("alpha"), []byte("beta")

	if _, err := s.StageBatch(ctx, model.Call{Value: 7}, [][]byte{a, b, a}); !errors.Is(err, model.ErrInsufficientFee) {
		t.Fatalf("two new chunks cost 8: got %v", err)
	}
	out, err := s.StageBatch(ctx, model.Call{Value: 8}, [][]byte{a, b, a})
	if err != nil {
		t.Fatalf("StageBatch: %v", err)
	}
	if out[0] != out[2] || out[0].Address == out[1].Address {
		t.Fatalf("batch results wrong: %+v", out)
	}
	info, _ := s.Info(ctx)
	if info.ChunkCount != 2 || info.FeesCollected != 8 {
		t.Fatalf("info: %+v", info)
	}

	// Across batches, only the new item is charged.
	if _, err := s.StageBatch(ctx, model.Call{Value: 4}, [][]byte{a, []byte("gamma")}); err != nil {
		t.Fatalf("second batch: %v", err)
	}
	info, _ = s.Info(ctx)
	if info.ChunkCount != 3 || info.FeesCollected != 12 {
		t.Fatalf("info after second batch: %+v", info)
	}
}

func TestStageBatch_FeeOverflowRejected(t *testing.T) {
	s, _ := newStore(t, Config{Fee: 1 << 63, FeeRecipient: recipient})
	ctx := context.Background()

	for _, v := range []uint64{0, math.MaxUint64} {
		_, err := s.StageBatch(ctx, model.Call{Caller: caller, Value: v}, [][]byte{[]byte("one"), []byte("two")})
		if !errors.Is(err, model.ErrInsufficientFee) {
			t.Fatalf("value %d: expected InsufficientFee, got %v", v, err)
		}
	}
	info, _ := s.Info(ctx)
	if info.ChunkCount != 0 || info.FeesCollected != 0 {
		t.Fatalf("overflowing batch deployed: %+v", info)
	}

	if _, err := s.StageBatch(ctx, model.Call{Caller: caller, Value: 1 << 63}, [][]byte{[]byte("one")}); err != nil {
		t.Fatalf("single chunk at the full fee: %v", err)
	}
}

func TestBatchFee(t *testing.T) {
	if got, ok := BatchFee(4, 3); !ok || got != 12 {
		t.Fatalf("BatchFee(4, 3) = %d, %v", got, ok)
	}
	if _, ok := BatchFee(1<<63, 2); ok {
		t.Fatalf("BatchFee(2^63, 2) must overflow")
	}
	if got, ok := BatchFee(math.MaxUint64, 1); !ok || got != math.MaxUint64 {
		t.Fatalf("BatchFee(max, 1) = %d, %v", got, ok)
	}
	if _, ok := BatchFee(1, -1); ok {
		t.Fatalf("negative count accepted")
	}
}

func TestStageBatch_Limits(t *testing.T) {
	s, _ := newStore(t, Config{MaxBatchSize: 2})
	ctx := context.Background()
	if _, err := s.StageBatch(ctx, model.Call{}, nil); model.CodeOf(err) != model.CodeEmptyBatch {
		t.Fatalf("empty batch: got %v", err)
	}
	items := [][]byte{[]byte("1"), []byte("2"), []byte("3")}
	if _, err := s.StageBatch(ctx, model.Call{}, items); !errors.Is(err, model.ErrBatchTooLarge) {
		t.Fatalf("oversized batch: got %v", err)
	}
}

func TestCodeHash_ReHashesStoredBytes(t *testing.T) {
	s, chunks := newStore(t, Config{})
	ctx := context.Background()
	content := []byte("real implementation")
	c, err := s.Stage(ctx, model.Call{}, content)
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	h, err := s.CodeHash(ctx, c.Address)
	if err != nil || h != cidutil.ContentDigest(content) {
		t.Fatalf("CodeHash: %s, %v", h, err)
	}

	if _, err := s.CodeHash(ctx, model.Address{19: 0x77}); !errors.Is(err, model.ErrNoCode) {
		t.Fatalf("undeployed: got %v", err)
	}

	chunks.Corrupt(c.Address, []byte("swapped implementation"))
	if _, err := s.Code(ctx, c.Address); model.CodeOf(err) != model.CodeCodeCorrupted {
		t.Fatalf("corrupted: got %v", err)
	}
}
