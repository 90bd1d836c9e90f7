// Package dispatch implements the manifest dispatcher: a time-locked state
// machine that commits to a route set, applies proven entries one by one and
// activates the commitment once the delay window has elapsed.
//
// Every mutating operation is atomic. The dispatcher clones its snapshot,
// mutates the clone, persists it through the RoutingStore and only then swaps
// it in and emits events. A failed operation leaves no trace.
//
// Lookups fail closed. A route applied under a commitment that has not been
// activated is not served; the entry it replaced keeps serving until then.
package dispatch

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"xdao.co/routeplane/chaintime"
	"xdao.co/routeplane/events"
	"xdao.co/routeplane/model"
	"xdao.co/routeplane/observability"
	"xdao.co/routeplane/prooftree"
	"xdao.co/routeplane/storage"
)

// CodeReader reports the digest of the code actually deployed at an address.
type CodeReader interface {
	CodeHash(ctx context.Context, addr model.Address) (model.Hash, error)
}

// Config seeds a dispatcher that has no persisted state yet. It is ignored
// when the RoutingStore already holds a snapshot.
type Config struct {
	Admin           model.Address
	ActivationDelay uint64
	Roles           map[model.Address]model.Role
}

type Option func(*Dispatcher)

func WithLogger(l zerolog.Logger) Option { return func(d *Dispatcher) { d.log = l } }

func WithSink(sink events.Sink) Option {
	return func(d *Dispatcher) {
		if sink != nil {
			d.sink = sink
		}
	}
}

func WithMetrics(m *observability.Metrics) Option { return func(d *Dispatcher) { d.metrics = m } }

type Dispatcher struct {
	routing storage.RoutingStore
	code    CodeReader
	clock   chaintime.Clock
	log     zerolog.Logger
	sink    events.Sink
	metrics *observability.Metrics

	mu    sync.RWMutex
	st    *model.DispatcherState
	table *routeTable
}

// New loads the dispatcher snapshot from routing, creating it from cfg on
// first use.
func New(ctx context.Context, routing storage.RoutingStore, code CodeReader, clock chaintime.Clock, cfg Config, opts ...Option) (*Dispatcher, error) {
	if routing == nil || code == nil || clock == nil {
		return nil, model.Errorf(model.CodeInvalidConfig, "routing store, code reader and clock are required")
	}
	d := &Dispatcher{
		routing: routing,
		code:    code,
		clock:   clock,
		log:     zerolog.Nop(),
		sink:    events.Discard{},
	}
	for _, o := range opts {
		o(d)
	}

	st, err := routing.LoadState(ctx)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
		if cfg.Admin.IsZero() {
			return nil, model.Errorf(model.CodeInvalidAddress, "admin address is required")
		}
		st = &model.DispatcherState{
			ActivationDelay: cfg.ActivationDelay,
			Admin:           cfg.Admin,
			Roles:           make(map[model.Address]model.Role, len(cfg.Roles)+1),
		}
		for a, r := range cfg.Roles {
			if a.IsZero() {
				return nil, model.Errorf(model.CodeInvalidAddress, "role holder must not be the zero address")
			}
			st.Roles[a] = r &^ model.RoleAdmin
		}
		st.Roles[cfg.Admin] |= model.RoleAdmin
		if err := routing.SaveState(ctx, st); err != nil {
			return nil, model.Wrap(model.CodeInternal, err, "persist initial dispatcher state")
		}
	default:
		return nil, model.Wrap(model.CodeInternal, err, "load dispatcher state")
	}
	if st.Roles == nil {
		st.Roles = map[model.Address]model.Role{}
	}
	d.st = st
	d.table = newRouteTable(st.Routes)
	return d, nil
}

// txn is one in-flight mutation over a private copy of the snapshot.
type txn struct {
	st     *model.DispatcherState
	table  *routeTable
	now    uint64
	actor  model.Address
	events []events.Event
}

func (tx *txn) emit(e events.Event) {
	e.Actor = tx.actor
	e.At = tx.now
	tx.events = append(tx.events, e)
}

func (d *Dispatcher) mutate(ctx context.Context, op string, actor model.Address, capability Capability, fn func(tx *txn) error) (err error) {
	defer func() {
		code := string(model.CodeOf(err))
		if err != nil && code == "" {
			code = "ERROR"
		}
		d.metrics.RecordDispatch(op, code)
	}()
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := CheckPermission(d.st.Roles, actor, capability); err != nil {
		return err
	}
	st := d.st.Clone()
	tx := &txn{st: st, table: newRouteTable(st.Routes), now: d.clock.Now(), actor: actor}
	if err := fn(tx); err != nil {
		d.log.Debug().Err(err).Str("op", op).Stringer("actor", actor).Msg("dispatcher operation rejected")
		return err
	}
	st.Routes = tx.table.rows()
	if err := d.routing.SaveState(ctx, st); err != nil {
		return model.Wrap(model.CodeInternal, err, "%s: persist dispatcher state", op)
	}
	d.st = st
	d.table = tx.table

	for _, e := range tx.events {
		d.sink.Emit(e)
	}
	d.log.Info().Str("op", op).Stringer("actor", actor).Uint64("at", tx.now).Msg("dispatcher state changed")
	return nil
}

func notFrozen(st *model.DispatcherState) error {
	if st.Frozen {
		return model.Errorf(model.CodeFrozen, "dispatcher is frozen")
	}
	return nil
}

func notPaused(st *model.DispatcherState) error {
	if st.Paused {
		return model.Errorf(model.CodePaused, "dispatcher is paused")
	}
	return nil
}

// Commit publishes a new route set commitment and starts its delay window.
// A pending commitment is replaced, and routes applied under it are rolled
// back. Commit is allowed while paused so a fix can be queued.
func (d *Dispatcher) Commit(ctx context.Context, actor model.Address, c model.Commitment) error {
	return d.mutate(ctx, "commit", actor, CapCommit, func(tx *txn) error {
		st := tx.st
		if err := notFrozen(st); err != nil {
			return err
		}
		if c.Root.IsZero() || c.Entries == 0 {
			return model.Errorf(model.CodeEmptyManifest, "commitment has no routes")
		}
		if c.Epoch <= st.ActiveEpoch {
			return model.Errorf(model.CodeEpochRegression, "epoch %d does not exceed active epoch %d", c.Epoch, st.ActiveEpoch)
		}
		if st.Pending {
			discardPending(tx)
		}
		st.CommittedRoot = c.Root
		st.CommittedEpoch = c.Epoch
		st.CommittedEntries = c.Entries
		st.CommittedAt = tx.now
		st.Pending = true
		st.Applied = nil
		tx.emit(events.Event{Kind: events.RootCommitted, Root: c.Root, Epoch: c.Epoch})
		return nil
	})
}

// discardPending restores the rows a superseded commitment had replaced and
// drops the rows it had added.
func discardPending(tx *txn) {
	active := tx.st.ActiveEpoch
	for i := tx.table.len() - 1; i >= 0; i-- {
		r := tx.table.list[i]
		if r.Epoch <= active {
			continue
		}
		if r.Prior != nil {
			tx.table.list[i] = model.Route{Entry: *r.Prior, Epoch: r.PriorEpoch}
			continue
		}
		tx.table.remove(r.Entry.Selector)
	}
}

// Apply installs one entry of the committed route set. The proof must place
// entry under the committed root, and the code deployed at the entry's
// implementation must hash to entry.CodeHash.
func (d *Dispatcher) Apply(ctx context.Context, actor model.Address, entry model.RouteEntry, proof prooftree.Proof) error {
	return d.mutate(ctx, "apply", actor, CapApply, func(tx *txn) error {
		st := tx.st
		if err := notFrozen(st); err != nil {
			return err
		}
		if err := notPaused(st); err != nil {
			return err
		}
		if st.CommittedRoot.IsZero() {
			return model.Errorf(model.CodeNoCommitment, "nothing has been committed")
		}
		if err := proof.VerifyEntry(entry, st.CommittedRoot); err != nil {
			return err
		}
		actual, err := d.code.CodeHash(ctx, entry.Implementation)
		if err != nil {
			if model.CodeOf(err) == model.CodeNoCode || model.IsKind(err, model.KindIntegrity) {
				return model.Wrap(model.CodeCodeMismatch, err, "implementation %s has no verifiable code", entry.Implementation)
			}
			return err
		}
		if actual != entry.CodeHash {
			return model.Errorf(model.CodeCodeMismatch, "code at %s hashes to %s, entry claims %s", entry.Implementation, actual, entry.CodeHash)
		}

		row := model.Route{Entry: entry, Epoch: st.CommittedEpoch}
		if prev, ok := tx.table.get(entry.Selector); ok && row.Epoch > st.ActiveEpoch {
			switch {
			case prev.Epoch <= st.ActiveEpoch:
				e := prev.Entry
				row.Prior, row.PriorEpoch = &e, prev.Epoch
			case prev.Prior != nil:
				row.Prior, row.PriorEpoch = prev.Prior, prev.PriorEpoch
			}
		}
		tx.table.upsert(row)
		st.Applied = insertSelector(st.Applied, entry.Selector)
		tx.emit(events.Event{
			Kind:     events.RouteApplied,
			Selector: entry.Selector,
			Address:  entry.Implementation,
			Epoch:    row.Epoch,
			Root:     st.CommittedRoot,
		})
		return nil
	})
}

// Activate promotes the pending commitment once chain time has reached
// committedAt + activationDelay.
func (d *Dispatcher) Activate(ctx context.Context, actor model.Address) error {
	return d.mutate(ctx, "activate", actor, CapActivate, func(tx *txn) error {
		st := tx.st
		if err := notFrozen(st); err != nil {
			return err
		}
		if err := notPaused(st); err != nil {
			return err
		}
		if !st.Pending {
			if !st.ActiveRoot.IsZero() && st.ActiveRoot == st.CommittedRoot {
				return model.Errorf(model.CodeAlreadyActive, "epoch %d is already active", st.ActiveEpoch)
			}
			return model.Errorf(model.CodeNoCommitment, "no pending commitment")
		}
		if !model.DelayElapsed(st.CommittedAt, st.ActivationDelay, tx.now) {
			return model.Errorf(model.CodeActivationNotReady, "activatable at %d, chain time is %d",
				model.ActivatableAt(st.CommittedAt, st.ActivationDelay), tx.now)
		}
		st.ActiveRoot = st.CommittedRoot
		st.ActiveEpoch = st.CommittedEpoch
		st.Pending = false
		for i := range tx.table.list {
			tx.table.list[i].Prior = nil
			tx.table.list[i].PriorEpoch = 0
		}
		tx.emit(events.Event{Kind: events.RootActivated, Root: st.ActiveRoot, Epoch: st.ActiveEpoch})
		return nil
	})
}

// RemoveRoute deletes selector from the routing table.
func (d *Dispatcher) RemoveRoute(ctx context.Context, actor model.Address, sel model.Selector) error {
	return d.mutate(ctx, "remove", actor, CapRemove, func(tx *txn) error {
		st := tx.st
		if err := notFrozen(st); err != nil {
			return err
		}
		if err := notPaused(st); err != nil {
			return err
		}
		row, ok := tx.table.get(sel)
		if !ok {
			return model.Errorf(model.CodeUnknownSelector, "no route for %s", sel)
		}
		tx.table.remove(sel)
		st.Applied = deleteSelector(st.Applied, sel)
		tx.emit(events.Event{Kind: events.RouteRemoved, Selector: sel, Address: row.Entry.Implementation, Epoch: row.Epoch})
		return nil
	})
}

func (d *Dispatcher) Pause(ctx context.Context, actor model.Address) error {
	return d.mutate(ctx, "pause", actor, CapPause, func(tx *txn) error {
		if tx.st.Paused {
			return model.Errorf(model.CodeAlreadyPaused, "dispatcher is already paused")
		}
		tx.st.Paused = true
		tx.emit(events.Event{Kind: events.Paused})
		return nil
	})
}

func (d *Dispatcher) Unpause(ctx context.Context, actor model.Address) error {
	return d.mutate(ctx, "unpause", actor, CapPause, func(tx *txn) error {
		if !tx.st.Paused {
			return model.Errorf(model.CodeNotPaused, "dispatcher is not paused")
		}
		tx.st.Paused = false
		tx.emit(events.Event{Kind: events.Unpaused})
		return nil
	})
}

// Freeze permanently disables commit, apply, activate and remove. Lookups
// keep serving the table as it stands.
func (d *Dispatcher) Freeze(ctx context.Context, actor model.Address) error {
	return d.mutate(ctx, "freeze", actor, CapFreeze, func(tx *txn) error {
		if err := notFrozen(tx.st); err != nil {
			return err
		}
		tx.st.Frozen = true
		tx.emit(events.Event{Kind: events.Frozen})
		return nil
	})
}

// RotateAdmin moves the admin role to newAdmin.
func (d *Dispatcher) RotateAdmin(ctx context.Context, actor, newAdmin model.Address) error {
	return d.mutate(ctx, "rotate-admin", actor, CapRotateAdmin, func(tx *txn) error {
		st := tx.st
		if newAdmin.IsZero() {
			return model.Errorf(model.CodeInvalidAddress, "new admin must not be the zero address")
		}
		old := st.Admin
		setRole(st.Roles, old, st.Roles[old]&^model.RoleAdmin)
		st.Roles[newAdmin] |= model.RoleAdmin
		st.Admin = newAdmin
		tx.emit(events.Event{Kind: events.AdminRotated, Address: newAdmin, Role: model.RoleAdmin})
		return nil
	})
}

// GrantRole adds role to holder. The admin role moves only via RotateAdmin.
func (d *Dispatcher) GrantRole(ctx context.Context, actor, holder model.Address, role model.Role) error {
	return d.mutate(ctx, "grant", actor, CapGrant, func(tx *txn) error {
		if err := checkGrantable(holder, role); err != nil {
			return err
		}
		tx.st.Roles[holder] |= role
		tx.emit(events.Event{Kind: events.RoleGranted, Address: holder, Role: role})
		return nil
	})
}

// RevokeRole removes role from holder.
func (d *Dispatcher) RevokeRole(ctx context.Context, actor, holder model.Address, role model.Role) error {
	return d.mutate(ctx, "revoke", actor, CapGrant, func(tx *txn) error {
		if err := checkGrantable(holder, role); err != nil {
			return err
		}
		setRole(tx.st.Roles, holder, tx.st.Roles[holder]&^role)
		tx.emit(events.Event{Kind: events.RoleRevoked, Address: holder, Role: role})
		return nil
	})
}

func checkGrantable(holder model.Address, role model.Role) error {
	if holder.IsZero() {
		return model.Errorf(model.CodeInvalidAddress, "role holder must not be the zero address")
	}
	if role == 0 {
		return model.Errorf(model.CodeInvalidConfig, "no role given")
	}
	if role&model.RoleAdmin != 0 {
		return model.Errorf(model.CodeInvalidConfig, "admin is transferred with RotateAdmin")
	}
	return nil
}

func setRole(roles map[model.Address]model.Role, a model.Address, r model.Role) {
	if r == 0 {
		delete(roles, a)
		return
	}
	roles[a] = r
}

func insertSelector(sorted []model.Selector, sel model.Selector) []model.Selector {
	i := sort.Search(len(sorted), func(i int) bool { return !lessSelector(sorted[i], sel) })
	if i < len(sorted) && sorted[i] == sel {
		return sorted
	}
	sorted = append(sorted, model.Selector{})
	copy(sorted[i+1:], sorted[i:])
	sorted[i] = sel
	return sorted
}

func deleteSelector(sorted []model.Selector, sel model.Selector) []model.Selector {
	i := sort.Search(len(sorted), func(i int) bool { return !lessSelector(sorted[i], sel) })
	if i < len(sorted) && sorted[i] == sel {
		return append(sorted[:i], sorted[i+1:]...)
	}
	return sorted
}

func lessSelector(a, b model.Selector) bool {
	for k := range a {
		if a[k] != b[k] {
			return a[k] < b[k]
		}
	}
	return false
}

// Lookup returns the live entry for sel.
func (d *Dispatcher) Lookup(sel model.Selector) (model.RouteEntry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	row, ok := d.table.get(sel)
	if !ok {
		return model.RouteEntry{}, model.Errorf(model.CodeUnknownSelector, "no route for %s", sel)
	}
	if row.Epoch <= d.st.ActiveEpoch {
		return row.Entry, nil
	}
	if row.Prior != nil && row.PriorEpoch <= d.st.ActiveEpoch {
		return *row.Prior, nil
	}
	return model.RouteEntry{}, model.Errorf(model.CodeRouteNotActive, "route for %s awaits activation of epoch %d", sel, row.Epoch)
}

// Coverage reports how many entries of the current commitment are applied.
func (d *Dispatcher) Coverage() Coverage {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return coverageOf(d.st)
}

func coverageOf(st *model.DispatcherState) Coverage {
	c := Coverage{Epoch: st.CommittedEpoch, Expected: st.CommittedEntries, Applied: len(st.Applied)}
	c.Complete = c.Expected > 0 && uint32(c.Applied) >= c.Expected
	return c
}

// Live reports whether the committed epoch is active and fully applied.
func (d *Dispatcher) Live() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return !d.st.Pending && d.st.ActiveEpoch == d.st.CommittedEpoch && coverageOf(d.st).Complete
}

// Phase reports the lifecycle phase at the current chain time.
func (d *Dispatcher) Phase() Phase {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return PhaseOf(d.st, d.clock.Now())
}

// Status bundles the read-only accessors with the current chain time.
func (d *Dispatcher) Status(ctx context.Context) (model.DispatcherStatus, error) {
	if err := ctx.Err(); err != nil {
		return model.DispatcherStatus{}, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	st := d.st
	return model.DispatcherStatus{
		ActiveRoot:       st.ActiveRoot,
		ActiveEpoch:      st.ActiveEpoch,
		CommittedRoot:    st.CommittedRoot,
		CommittedEpoch:   st.CommittedEpoch,
		CommittedAt:      st.CommittedAt,
		CommittedEntries: st.CommittedEntries,
		Pending:          st.Pending,
		ActivationDelay:  st.ActivationDelay,
		Frozen:           st.Frozen,
		Paused:           st.Paused,
		RouteCount:       d.table.len(),
		Applied:          len(st.Applied),
		Now:              d.clock.Now(),
	}, nil
}

func (d *Dispatcher) ActiveRoot() model.Hash {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.st.ActiveRoot
}

func (d *Dispatcher) ActiveEpoch() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.st.ActiveEpoch
}

func (d *Dispatcher) CommittedRoot() model.Hash {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.st.CommittedRoot
}

func (d *Dispatcher) CommittedAt() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.st.CommittedAt
}

func (d *Dispatcher) Frozen() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.st.Frozen
}

func (d *Dispatcher) Paused() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.st.Paused
}

func (d *Dispatcher) RouteCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.table.len()
}

// RoleOf returns the roles held by a.
func (d *Dispatcher) RoleOf(a model.Address) model.Role {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.st.Roles[a]
}

func (d *Dispatcher) Admin() model.Address {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.st.Admin
}
