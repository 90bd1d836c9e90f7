package orchestrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"xdao.co/routeplane/chaintime"
	"xdao.co/routeplane/deploy"
	"xdao.co/routeplane/dispatch"
	"xdao.co/routeplane/model"
	"xdao.co/routeplane/network"
	"xdao.co/routeplane/observability"
	"xdao.co/routeplane/storage"
)

var (
	operator = model.Address{19: 0x0a}
	admin    = model.Address{19: 0xad}
	identity = model.Address{19: 0xd1}
)

type testNet struct {
	*network.Local
	chunks *storage.MemoryChunks
}

type netOpts struct {
	identity     model.Address
	delay        uint64
	roles        model.Role
	fee          uint64
	maxChunkSize int
}

func newTestNet(t *testing.T, id string, clock chaintime.Clock, o netOpts) *testNet {
	t.Helper()
	ctx := context.Background()
	if o.identity.IsZero() {
		o.identity = identity
	}
	cfg := deploy.Config{Identity: o.identity, MaxChunkSize: o.maxChunkSize}
	if o.fee > 0 {
		cfg.Fee, cfg.FeeRecipient = o.fee, model.Address{19: 0xfe}
	}
	chunks := storage.NewMemoryChunks()
	store, err := deploy.New(chunks, cfg)
	require.NoError(t, err)

	roles := map[model.Address]model.Role{}
	if o.roles != 0 {
		roles[operator] = o.roles
	}
	d, err := dispatch.New(ctx, storage.NewMemoryRouting(), store, clock, dispatch.Config{
		Admin:           admin,
		ActivationDelay: o.delay,
		Roles:           roles,
	})
	require.NoError(t, err)
	return &testNet{Local: network.NewLocal(id, store, d), chunks: chunks}
}

func operatorRoles() model.Role { return model.RoleCommitter | model.RoleApplier }

func request() Request {
	return Request{
		Version: "v1.2.0",
		Epoch:   5,
		Contents: [][]byte{
			[]byte("implementation: transfer"),
			[]byte("implementation: approve"),
			[]byte("implementation: metadata"),
		},
		Bindings: []Binding{
			{Selector: model.Selector{0xa9, 0x05, 0x9c, 0xbb}, Content: 0},
			{Selector: model.Selector{0x09, 0x5e, 0xa7, 0xb3}, Content: 1},
			{Selector: model.Selector{0x06, 0xfd, 0xde, 0x03}, Content: 2},
			{Selector: model.Selector{0x95, 0xd8, 0x9b, 0x41}, Content: 2},
		},
	}
}

func asNetworks(ns ...*testNet) []network.Network {
	out := make([]network.Network, len(ns))
	for i, n := range ns {
		out[i] = n
	}
	return out
}

func newOrchestrator(t *testing.T, nets []network.Network, mod func(*Options)) *Orchestrator {
	t.Helper()
	logger := zerolog.Nop()
	opts := Options{
		Operator:          operator,
		PollInterval:      time.Millisecond,
		ActivationTimeout: 30 * time.Millisecond,
		Logger:            &logger,
	}
	if mod != nil {
		mod(&opts)
	}
	o, err := New(nets, opts)
	require.NoError(t, err)
	return o
}

func chunkCount(t *testing.T, n network.Network) uint64 {
	t.Helper()
	info, err := n.Info(context.Background())
	require.NoError(t, err)
	return info.ChunkCount
}

func TestPlanDeployment_BuildsVerifiableRoutes(t *testing.T) {
	clock := chaintime.NewManual(1000)
	a := newTestNet(t, "a", clock, netOpts{roles: operatorRoles()})
	b := newTestNet(t, "b", clock, netOpts{roles: operatorRoles()})

	p, err := PlanDeployment(context.Background(), asNetworks(a, b), request())
	require.NoError(t, err)
	require.NotEmpty(t, p.ID)
	require.Equal(t, []string{"a", "b"}, p.Networks)
	require.Len(t, p.Chunks, 3)
	require.Len(t, p.Routes, 4)
	require.Equal(t, p.Chunks[2].Address, p.Routes[3].Entry.Implementation)

	for i, c := range request().Contents {
		require.Equal(t, deploy.PredictAddress(identity, c), p.Chunks[i].Address)
	}
	for _, r := range p.Routes {
		require.NoError(t, r.Proof.VerifyEntry(r.Entry, p.Root))
	}
	require.EqualValues(t, 4, p.Commitment().Entries)
	require.Zero(t, chunkCount(t, a), "planning must not stage anything")
}

func TestPlanDeployment_PredictionMismatchBeforeStaging(t *testing.T) {
	clock := chaintime.NewManual(1000)
	a := newTestNet(t, "a", clock, netOpts{roles: operatorRoles()})
	b := newTestNet(t, "b", clock, netOpts{roles: operatorRoles(), identity: model.Address{19: 0xd2}})

	_, err := PlanDeployment(context.Background(), asNetworks(a, b), request())
	require.ErrorIs(t, err, model.ErrPredictionMismatch)
	require.True(t, model.IsKind(err, model.KindIntegrity))
	require.Zero(t, chunkCount(t, a))
	require.Zero(t, chunkCount(t, b))
}

func TestPlanDeployment_Rejects(t *testing.T) {
	ctx := context.Background()
	clock := chaintime.NewManual(1000)
	a := newTestNet(t, "a", clock, netOpts{roles: operatorRoles()})
	small := newTestNet(t, "small", clock, netOpts{roles: operatorRoles(), maxChunkSize: 8})

	_, err := PlanDeployment(ctx, asNetworks(a, small), request())
	require.ErrorIs(t, err, model.ErrSizeExceeded)

	req := request()
	req.Bindings[1].Selector = req.Bindings[0].Selector
	_, err = PlanDeployment(ctx, asNetworks(a), req)
	require.ErrorIs(t, err, model.ErrDuplicateSelector)

	req = request()
	req.Bindings[0].Content = 7
	_, err = PlanDeployment(ctx, asNetworks(a), req)
	require.Equal(t, model.CodeIndexOutOfRange, model.CodeOf(err))

	req = request()
	req.Bindings = nil
	_, err = PlanDeployment(ctx, asNetworks(a), req)
	require.ErrorIs(t, err, model.ErrEmptyManifest)

	req = request()
	req.Contents = append(req.Contents, nil)
	_, err = PlanDeployment(ctx, asNetworks(a), req)
	require.Equal(t, model.CodeEmptyContent, model.CodeOf(err))

	big := request()
	for len(big.Contents) <= deploy.DefaultMaxBatchSize {
		big.Contents = append(big.Contents, []byte{byte(len(big.Contents))})
	}
	_, err = PlanDeployment(ctx, asNetworks(a), big)
	require.ErrorIs(t, err, model.ErrBatchTooLarge)

	_, err = PlanDeployment(ctx, asNetworks(a, a), request())
	require.Equal(t, model.CodeInvalidConfig, model.CodeOf(err))
}

func TestExecute_CompleteAndConsistent(t *testing.T) {
	ctx := context.Background()
	clock := chaintime.NewManual(1000)
	a := newTestNet(t, "a", clock, netOpts{roles: operatorRoles()})
	b := newTestNet(t, "b", clock, netOpts{roles: operatorRoles(), fee: 3})
	c := newTestNet(t, "c", clock, netOpts{roles: operatorRoles()})

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	o := newOrchestrator(t, asNetworks(a, b, c), func(opts *Options) {
		opts.Parallelism = 2
		opts.Metrics = metrics
	})

	p, err := o.Plan(ctx, request())
	require.NoError(t, err)
	report, err := o.Execute(ctx, p)
	require.NoError(t, err)
	require.Equal(t, StatusComplete, report.Status)
	require.Len(t, report.Results, 3)
	for i, id := range []string{"a", "b", "c"} {
		r := report.Results[i]
		require.Equal(t, id, r.Network)
		require.Equal(t, StateSucceeded, r.State, r.Error)
		require.Equal(t, StepDone, r.Step)
		require.True(t, r.Committed)
		require.Equal(t, p.Root, r.ActiveRoot)
		require.EqualValues(t, 5, r.ActiveEpoch)
	}
	require.EqualValues(t, 3, chunkCount(t, a))

	info, err := b.Info(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 9, info.FeesCollected)

	cons, err := o.VerifyConsistency(ctx, p)
	require.NoError(t, err)
	require.True(t, cons.Consistent)
	require.Empty(t, cons.Discrepancies())

	require.Equal(t, 1.0, testutil.ToFloat64(metrics.Plans.WithLabelValues(string(StatusComplete))))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.NetworkResults.WithLabelValues("b", string(StateSucceeded))))

	again, err := o.Execute(ctx, p)
	require.NoError(t, err)
	require.Equal(t, StatusComplete, again.Status)
	require.False(t, again.Results[0].Committed, "an active plan is not committed again")
	require.EqualValues(t, 3, chunkCount(t, a))
}

func TestExecute_PartialFailureIsIsolated(t *testing.T) {
	ctx := context.Background()
	clock := chaintime.NewManual(1000)
	a := newTestNet(t, "a", clock, netOpts{roles: operatorRoles()})
	denied := newTestNet(t, "denied", clock, netOpts{})
	c := newTestNet(t, "c", clock, netOpts{roles: operatorRoles()})

	o := newOrchestrator(t, asNetworks(a, denied, c), nil)
	p, err := o.Plan(ctx, request())
	require.NoError(t, err)
	report, err := o.Execute(ctx, p)
	require.NoError(t, err)
	require.Equal(t, StatusPartial, report.Status)

	bad, ok := report.Result("denied")
	require.True(t, ok)
	require.Equal(t, StateFailed, bad.State)
	require.Equal(t, StepCommit, bad.Step)
	require.Equal(t, model.CodeUnauthorized, bad.Code)
	require.NotEmpty(t, bad.Error)
	require.True(t, denied.Dispatcher().CommittedRoot().IsZero())

	for _, id := range []string{"a", "c"} {
		r, _ := report.Result(id)
		require.Equal(t, StateSucceeded, r.State, r.Error)
	}

	cons, err := o.VerifyConsistency(ctx, p)
	require.ErrorIs(t, err, model.ErrConsistencyMismatch)
	require.False(t, cons.Consistent)
	for _, d := range cons.Discrepancies() {
		require.Equal(t, "denied", d.Network)
	}
	require.Empty(t, cons.Networks[0].Discrepancies)
	require.NotEmpty(t, cons.Networks[1].Discrepancies)
}

func TestExecute_AllFailed(t *testing.T) {
	ctx := context.Background()
	clock := chaintime.NewManual(1000)
	a := newTestNet(t, "a", clock, netOpts{})
	b := newTestNet(t, "b", clock, netOpts{})

	o := newOrchestrator(t, asNetworks(a, b), nil)
	p, err := o.Plan(ctx, request())
	require.NoError(t, err)
	report, err := o.Execute(ctx, p)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, report.Status)
}

func TestExecute_FeeOverflowFailsStage(t *testing.T) {
	ctx := context.Background()
	clock := chaintime.NewManual(1000)
	a := newTestNet(t, "a", clock, netOpts{roles: operatorRoles()})
	b := newTestNet(t, "b", clock, netOpts{roles: operatorRoles(), fee: 1 << 63})

	o := newOrchestrator(t, asNetworks(a, b), nil)
	p, err := o.Plan(ctx, request())
	require.NoError(t, err)
	report, err := o.Execute(ctx, p)
	require.NoError(t, err)
	require.Equal(t, StatusPartial, report.Status)

	r, _ := report.Result("b")
	require.Equal(t, StateFailed, r.State)
	require.Equal(t, StepStage, r.Step)
	require.Equal(t, model.CodeInsufficientFee, r.Code)

	info, err := b.Info(ctx)
	require.NoError(t, err)
	require.Zero(t, info.ChunkCount)
	require.Zero(t, info.FeesCollected)
}

// relocating stages content somewhere other than predicted.
type relocating struct {
	*testNet
}

func (r relocating) StageBatch(ctx context.Context, call model.Call, contents [][]byte) ([]model.Chunk, error) {
	out, err := r.testNet.StageBatch(ctx, call, contents)
	if err != nil {
		return nil, err
	}
	out[0].Address[0] ^= 0xff
	return out, nil
}

func TestExecute_StagedAddressMismatch(t *testing.T) {
	ctx := context.Background()
	clock := chaintime.NewManual(1000)
	a := newTestNet(t, "a", clock, netOpts{roles: operatorRoles()})
	b := relocating{newTestNet(t, "b", clock, netOpts{roles: operatorRoles()})}

	o := newOrchestrator(t, []network.Network{a, b}, nil)
	p, err := o.Plan(ctx, request())
	require.NoError(t, err)
	report, err := o.Execute(ctx, p)
	require.NoError(t, err)

	r, _ := report.Result("b")
	require.Equal(t, StateFailed, r.State)
	require.Equal(t, StepStage, r.Step)
	require.Equal(t, model.CodeAddressMismatch, r.Code)
	require.False(t, r.Committed)
	require.True(t, b.Dispatcher().CommittedRoot().IsZero())

	r, _ = report.Result("a")
	require.Equal(t, StateSucceeded, r.State)
}

func TestExecute_PendingThenResume(t *testing.T) {
	ctx := context.Background()
	clock := chaintime.NewManual(1000)
	a := newTestNet(t, "a", clock, netOpts{roles: operatorRoles(), delay: 3600})
	b := newTestNet(t, "b", clock, netOpts{roles: operatorRoles(), delay: 3600})

	journal, err := OpenJournal(filepath.Join(t.TempDir(), "plans.db"))
	require.NoError(t, err)
	defer journal.Close()

	o := newOrchestrator(t, asNetworks(a, b), func(opts *Options) { opts.Journal = journal })
	p, err := o.Plan(ctx, request())
	require.NoError(t, err)

	report, err := o.Execute(ctx, p)
	require.NoError(t, err)
	require.Equal(t, StatusPending, report.Status)
	for _, r := range report.Results {
		require.Equal(t, StatePending, r.State)
		require.Equal(t, StepWait, r.Step)
		require.EqualValues(t, 1000, r.CommittedAt)
		require.EqualValues(t, 4600, r.ActivatableAt)
	}

	saved, err := journal.LoadReport(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, saved.Status)
	require.Equal(t, []string{"a", "b"}, []string{saved.Results[0].Network, saved.Results[1].Network})

	// A restarted orchestrator re-attaches from the journal.
	clock.Advance(3599)
	restarted := newOrchestrator(t, asNetworks(a, b), func(opts *Options) { opts.Journal = journal })
	report, err = restarted.Resume(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, report.Status)
	require.False(t, report.Results[0].Committed)
	require.EqualValues(t, 1000, a.Dispatcher().CommittedAt(), "resume must not reset the delay window")

	clock.Advance(1)
	report, err = restarted.Resume(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, StatusComplete, report.Status)
	for _, r := range report.Results {
		require.False(t, r.Committed)
		require.EqualValues(t, 1000, r.CommittedAt)
	}
	require.Equal(t, p.Root, b.Dispatcher().ActiveRoot())

	plans, err := journal.Plans(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	require.Equal(t, StatusComplete, plans[0].Status)
}

func TestVerifyConsistency_ReportsCorruptCode(t *testing.T) {
	ctx := context.Background()
	clock := chaintime.NewManual(1000)
	a := newTestNet(t, "a", clock, netOpts{roles: operatorRoles()})
	b := newTestNet(t, "b", clock, netOpts{roles: operatorRoles()})

	o := newOrchestrator(t, asNetworks(a, b), nil)
	p, err := o.Plan(ctx, request())
	require.NoError(t, err)
	report, err := o.Execute(ctx, p)
	require.NoError(t, err)
	require.Equal(t, StatusComplete, report.Status)

	b.chunks.Corrupt(p.Chunks[1].Address, []byte("tampered"))

	cons, err := VerifyConsistency(ctx, asNetworks(a, b), p)
	require.ErrorIs(t, err, model.ErrConsistencyMismatch)
	require.Len(t, cons.Discrepancies(), 1)
	d := cons.Discrepancies()[0]
	require.Equal(t, "b", d.Network)
	require.Equal(t, CheckCodeHash, d.Check)
	require.Equal(t, p.Chunks[1].Address.String(), d.Subject)
}

func TestResume_Errors(t *testing.T) {
	ctx := context.Background()
	clock := chaintime.NewManual(1000)
	a := newTestNet(t, "a", clock, netOpts{roles: operatorRoles()})

	o := newOrchestrator(t, asNetworks(a), nil)
	_, err := o.Resume(ctx, "missing")
	require.Equal(t, model.CodeInvalidConfig, model.CodeOf(err))

	journal, err := OpenJournal(filepath.Join(t.TempDir(), "plans.db"))
	require.NoError(t, err)
	defer journal.Close()
	o = newOrchestrator(t, asNetworks(a), func(opts *Options) { opts.Journal = journal })
	_, err = o.Resume(ctx, "missing")
	require.Equal(t, model.CodeUnknownPlan, model.CodeOf(err))

	p, err := o.Plan(ctx, request())
	require.NoError(t, err)
	p.Networks = append(p.Networks, "elsewhere")
	_, err = o.Execute(ctx, p)
	require.Equal(t, model.CodeUnknownNetwork, model.CodeOf(err))
}

func TestNew_Rejects(t *testing.T) {
	clock := chaintime.NewManual(1000)
	a := newTestNet(t, "a", clock, netOpts{})

	_, err := New(nil, Options{Operator: operator})
	require.Error(t, err)
	_, err = New(asNetworks(a), Options{})
	require.Error(t, err)
	_, err = New(asNetworks(a, a), Options{Operator: operator})
	require.Error(t, err)
}

func TestAggregate(t *testing.T) {
	res := func(states ...State) []NetworkResult {
		out := make([]NetworkResult, len(states))
		for i, s := range states {
			out[i].State = s
		}
		return out
	}
	cases := []struct {
		in   []NetworkResult
		want Status
	}{
		{res(StateSucceeded, StateSucceeded), StatusComplete},
		{res(StateSucceeded, StateFailed), StatusPartial},
		{res(StateFailed, StatePending), StatusPending},
		{res(StateFailed, StatePending, StateSucceeded), StatusPartial},
		{res(StateFailed, StateFailed), StatusFailed},
		{res(StateSucceeded, StatePending), StatusPending},
		{res(StatePending), StatusPending},
		{nil, StatusFailed},
	}
	for i, tc := range cases {
		require.Equal(t, tc.want, Aggregate(tc.in), "case %d", i)
	}
}
