package orchestrator

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"xdao.co/routeplane/deploy"
	"xdao.co/routeplane/model"
	"xdao.co/routeplane/network"
	"xdao.co/routeplane/observability"
)

const (
	DefaultPollInterval      = 2 * time.Second
	DefaultActivationTimeout = 10 * time.Minute
)

// State is the outcome of a plan on one network.
type State string

const (
	// StatePending means the activation delay had not elapsed when the
	// advisory timeout ran out. The plan can be resumed.
	StatePending   State = "pending"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Status summarizes a plan across networks.
type Status string

const (
	StatusComplete Status = "complete"
	StatusPartial  Status = "partial"
	StatusFailed   Status = "failed"
	StatusPending  Status = "pending"
)

// Step names the last step attempted on a network.
type Step string

const (
	StepStage    Step = "stage"
	StepCommit   Step = "commit"
	StepApply    Step = "apply"
	StepWait     Step = "wait"
	StepActivate Step = "activate"
	StepConfirm  Step = "confirm"
	StepDone     Step = "done"
)

// NetworkResult records what happened on one network.
type NetworkResult struct {
	Network       string        `json:"network"`
	State         State         `json:"state"`
	Step          Step          `json:"step"`
	Code          model.Code    `json:"code,omitempty"`
	Error         string        `json:"error,omitempty"`
	Staged        int           `json:"staged"`
	Committed     bool          `json:"committed"`
	CommittedAt   uint64        `json:"committedAt"`
	ActivatableAt uint64        `json:"activatableAt"`
	ActiveRoot    model.Hash    `json:"activeRoot"`
	ActiveEpoch   uint64        `json:"activeEpoch"`
	Duration      time.Duration `json:"duration"`
}

// Report is the outcome of one Execute call. Results follow the plan's
// network order.
type Report struct {
	PlanID     string          `json:"planId"`
	Status     Status          `json:"status"`
	Results    []NetworkResult `json:"results"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt"`
}

// Result returns the result for network id.
func (r *Report) Result(id string) (NetworkResult, bool) {
	for _, res := range r.Results {
		if res.Network == id {
			return res, true
		}
	}
	return NetworkResult{}, false
}

// Aggregate derives a plan status from per-network results. A plan where
// nothing has succeeded yet but some networks are still waiting is pending,
// whatever else failed; partial needs at least one success and one failure.
func Aggregate(results []NetworkResult) Status {
	var succeeded, failed int
	for _, r := range results {
		switch r.State {
		case StateSucceeded:
			succeeded++
		case StateFailed:
			failed++
		}
	}
	switch {
	case len(results) == 0 || failed == len(results):
		return StatusFailed
	case succeeded == len(results):
		return StatusComplete
	case failed == 0 || succeeded == 0:
		return StatusPending
	default:
		return StatusPartial
	}
}

// Options configures an Orchestrator.
type Options struct {
	// Operator is the actor used for every store and dispatcher call. It must
	// hold the committer and applier roles on every network.
	Operator model.Address

	// Parallelism bounds how many networks run at once. Zero means all.
	Parallelism int

	PollInterval time.Duration

	// ActivationTimeout bounds how long Execute waits for a delay window
	// before reporting the network as pending. It never affects whether a
	// network accepts activation.
	ActivationTimeout time.Duration

	Logger  *zerolog.Logger
	Metrics *observability.Metrics
	Journal *Journal
}

// Orchestrator plans and executes deployments over a fixed set of networks.
type Orchestrator struct {
	nets  []network.Network
	byID  map[string]network.Network
	opts  Options
	log   zerolog.Logger
	sleep func(context.Context, time.Duration) error
}

// New returns an orchestrator over nets.
func New(nets []network.Network, opts Options) (*Orchestrator, error) {
	if len(nets) == 0 {
		return nil, model.Errorf(model.CodeInvalidConfig, "no networks configured")
	}
	if opts.Operator.IsZero() {
		return nil, model.Errorf(model.CodeInvalidConfig, "operator address is required")
	}
	byID := make(map[string]network.Network, len(nets))
	for _, n := range nets {
		if _, dup := byID[n.ID()]; dup {
			return nil, model.Errorf(model.CodeInvalidConfig, "network %q configured twice", n.ID())
		}
		byID[n.ID()] = n
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = len(nets)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ActivationTimeout <= 0 {
		opts.ActivationTimeout = DefaultActivationTimeout
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = opts.Logger.With().Str("component", "orchestrator").Logger()
	}
	return &Orchestrator{
		nets:  append([]network.Network(nil), nets...),
		byID:  byID,
		opts:  opts,
		log:   log,
		sleep: sleepCtx,
	}, nil
}

// Networks returns the configured networks in order.
func (o *Orchestrator) Networks() []network.Network {
	return append([]network.Network(nil), o.nets...)
}

// Plan plans req against every configured network and journals the plan.
func (o *Orchestrator) Plan(ctx context.Context, req Request) (*Plan, error) {
	p, err := PlanDeployment(ctx, o.nets, req)
	if err != nil {
		o.log.Error().Err(err).Str("code", string(model.CodeOf(err))).Msg("plan rejected")
		return nil, err
	}
	if o.opts.Journal != nil {
		if err := o.opts.Journal.SavePlan(ctx, p); err != nil {
			return nil, model.Wrap(model.CodeInternal, err, "journal plan %s", p.ID)
		}
	}
	o.log.Info().
		Str("plan", p.ID).
		Str("version", p.Version).
		Uint64("epoch", p.Epoch).
		Stringer("root", p.Root).
		Int("routes", len(p.Routes)).
		Int("networks", len(p.Networks)).
		Msg("plan created")
	return p, nil
}

// Execute runs plan on every network it names. Per-network failures are
// reported in the Report, not returned; the error is non-nil only when the
// plan cannot be run at all or its report cannot be journaled.
func (o *Orchestrator) Execute(ctx context.Context, plan *Plan) (*Report, error) {
	if plan == nil {
		return nil, model.Errorf(model.CodeInvalidConfig, "nil plan")
	}
	nets := make([]network.Network, len(plan.Networks))
	for i, id := range plan.Networks {
		n, ok := o.byID[id]
		if !ok {
			return nil, model.Errorf(model.CodeUnknownNetwork, "plan %s names unconfigured network %q", plan.ID, id)
		}
		nets[i] = n
	}

	report := &Report{PlanID: plan.ID, StartedAt: time.Now().UTC()}
	results := make([]NetworkResult, len(nets))

	var g errgroup.Group
	g.SetLimit(o.opts.Parallelism)
	for i, n := range nets {
		g.Go(func() error {
			results[i] = o.run(ctx, plan, n)
			return nil
		})
	}
	_ = g.Wait()

	report.Results = results
	report.Status = Aggregate(results)
	report.FinishedAt = time.Now().UTC()
	o.opts.Metrics.RecordPlan(string(report.Status))
	o.log.Info().Str("plan", plan.ID).Str("status", string(report.Status)).Msg("plan executed")

	if o.opts.Journal != nil {
		if err := o.opts.Journal.SaveReport(ctx, report); err != nil {
			return report, model.Wrap(model.CodeInternal, err, "journal report for plan %s", plan.ID)
		}
	}
	return report, nil
}

// Resume loads plan id from the journal and executes it again. Networks that
// already activated it report success; networks still inside their delay
// window keep their original commitment time.
func (o *Orchestrator) Resume(ctx context.Context, id string) (*Report, error) {
	if o.opts.Journal == nil {
		return nil, model.Errorf(model.CodeInvalidConfig, "resume requires a journal")
	}
	p, err := o.opts.Journal.LoadPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	o.log.Info().Str("plan", id).Msg("resuming plan")
	return o.Execute(ctx, p)
}

func (o *Orchestrator) run(ctx context.Context, plan *Plan, n network.Network) NetworkResult {
	start := time.Now()
	res := NetworkResult{Network: n.ID()}
	if err := o.drive(ctx, plan, n, &res); err != nil {
		res.State = StateFailed
		res.Code = model.CodeOf(err)
		if res.Code == "" {
			res.Code = model.CodeInternal
		}
		res.Error = err.Error()
	}
	res.Duration = time.Since(start)
	o.opts.Metrics.RecordNetwork(res.Network, string(res.State), res.Duration)

	ev := o.log.Info()
	if res.State == StateFailed {
		ev = o.log.Warn().Str("code", string(res.Code)).Str("error", res.Error)
	}
	ev.Str("plan", plan.ID).
		Str("network", res.Network).
		Str("state", string(res.State)).
		Str("step", string(res.Step)).
		Dur("duration", res.Duration).
		Msg("network finished")
	return res
}

func (o *Orchestrator) drive(ctx context.Context, plan *Plan, n network.Network, res *NetworkResult) error {
	st, err := n.Status(ctx)
	if err != nil {
		return annotate(err, "read status")
	}
	if st.ActiveRoot == plan.Root && st.ActiveEpoch == plan.Epoch {
		res.CommittedAt, res.ActivatableAt = st.CommittedAt, st.ActivatableAt()
		return o.confirm(ctx, plan, n, res)
	}

	res.Step = StepStage
	if err := o.stage(ctx, plan, n, res); err != nil {
		return err
	}

	res.Step = StepCommit
	if !(st.Pending && st.CommittedRoot == plan.Root && st.CommittedEpoch == plan.Epoch) {
		if err := n.Commit(ctx, o.opts.Operator, plan.Commitment()); err != nil {
			return annotate(err, "commit %s", plan.Root)
		}
		res.Committed = true
	}

	res.Step = StepApply
	for i, r := range plan.Routes {
		if err := n.Apply(ctx, o.opts.Operator, r.Entry, r.Proof); err != nil {
			return annotate(err, "apply route %d (%s)", i, r.Entry.Selector)
		}
	}

	res.Step = StepWait
	st, ready, err := o.waitActivatable(ctx, n)
	res.CommittedAt, res.ActivatableAt = st.CommittedAt, st.ActivatableAt()
	if err != nil {
		return annotate(err, "poll status")
	}
	if st.CommittedRoot != plan.Root || st.CommittedEpoch != plan.Epoch {
		return model.Errorf(model.CodeConsistencyMismatch, "commitment %s@%d was superseded by %s@%d",
			plan.Root, plan.Epoch, st.CommittedRoot, st.CommittedEpoch)
	}
	if !ready {
		res.State = StatePending
		return nil
	}

	res.Step = StepActivate
	if err := n.Activate(ctx, o.opts.Operator); err != nil {
		switch {
		case errors.Is(err, model.ErrAlreadyActive):
		case errors.Is(err, model.ErrActivationNotReady):
			res.State = StatePending
			return nil
		default:
			return annotate(err, "activate")
		}
	}
	return o.confirm(ctx, plan, n, res)
}

// stage deploys every content of plan and checks that each landed at its
// predicted address.
func (o *Orchestrator) stage(ctx context.Context, plan *Plan, n network.Network, res *NetworkResult) error {
	info, err := n.Info(ctx)
	if err != nil {
		return annotate(err, "read store info")
	}
	call := model.Call{Caller: o.opts.Operator}
	if info.FeesEnabled {
		// The store charges only new chunks; an upper bound that overflows
		// saturates and is left to the store to reject.
		v, ok := deploy.BatchFee(info.Fee, len(plan.Contents))
		if !ok {
			v = math.MaxUint64
		}
		call.Value = v
	}
	chunks, err := n.StageBatch(ctx, call, plan.Contents)
	if err != nil {
		return annotate(err, "stage %d content(s)", len(plan.Contents))
	}
	if len(chunks) != len(plan.Chunks) {
		return model.Errorf(model.CodeAddressMismatch, "staged %d chunk(s), planned %d", len(chunks), len(plan.Chunks))
	}
	for i, c := range chunks {
		want := plan.Chunks[i]
		if c.Address != want.Address {
			return model.Errorf(model.CodeAddressMismatch, "content %d staged at %s, predicted %s", i, c.Address, want.Address)
		}
		if c.ContentHash != want.ContentHash {
			return model.Errorf(model.CodeAddressMismatch, "content %d staged with digest %s, planned %s", i, c.ContentHash, want.ContentHash)
		}
	}
	res.Staged = len(chunks)
	return nil
}

// waitActivatable polls n until its pending commitment can be activated or
// the advisory timeout runs out. Cancellation of ctx ends the wait without
// an error.
func (o *Orchestrator) waitActivatable(ctx context.Context, n network.Network) (model.DispatcherStatus, bool, error) {
	deadline := time.Now().Add(o.opts.ActivationTimeout)
	for {
		st, err := n.Status(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return st, false, nil
			}
			return st, false, err
		}
		if !st.Pending || st.Activatable() {
			return st, true, nil
		}
		left := time.Until(deadline)
		if left <= 0 {
			return st, false, nil
		}
		wait := o.opts.PollInterval
		if wait > left {
			wait = left
		}
		if err := o.sleep(ctx, wait); err != nil {
			return st, false, nil
		}
	}
}

// confirm checks that plan is active on n and that every route resolves to
// its planned entry.
func (o *Orchestrator) confirm(ctx context.Context, plan *Plan, n network.Network, res *NetworkResult) error {
	res.Step = StepConfirm
	st, err := n.Status(ctx)
	if err != nil {
		return annotate(err, "read status")
	}
	res.ActiveRoot, res.ActiveEpoch = st.ActiveRoot, st.ActiveEpoch
	if st.ActiveRoot != plan.Root || st.ActiveEpoch != plan.Epoch {
		return model.Errorf(model.CodeConsistencyMismatch, "active %s@%d, planned %s@%d",
			st.ActiveRoot, st.ActiveEpoch, plan.Root, plan.Epoch)
	}
	for _, r := range plan.Routes {
		got, err := n.Lookup(ctx, r.Entry.Selector)
		if err != nil {
			return annotate(err, "look up %s", r.Entry.Selector)
		}
		if got != r.Entry {
			return model.Errorf(model.CodeConsistencyMismatch, "selector %s routes to %s, planned %s",
				r.Entry.Selector, got.Implementation, r.Entry.Implementation)
		}
	}
	res.Step = StepDone
	res.State = StateSucceeded
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
