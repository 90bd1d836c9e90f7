package orchestrator

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"xdao.co/routeplane/model"
	"xdao.co/routeplane/network"
)

// Discrepancy is one observed difference between a plan and a network.
type Discrepancy struct {
	Network  string `json:"network"`
	Check    string `json:"check"`
	Subject  string `json:"subject,omitempty"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

func (d Discrepancy) String() string {
	if d.Subject == "" {
		return fmt.Sprintf("%s: %s: expected %s, got %s", d.Network, d.Check, d.Expected, d.Actual)
	}
	return fmt.Sprintf("%s: %s %s: expected %s, got %s", d.Network, d.Check, d.Subject, d.Expected, d.Actual)
}

// Consistency check names.
const (
	CheckReachable   = "reachable"
	CheckActiveRoot  = "active-root"
	CheckActiveEpoch = "active-epoch"
	CheckChunk       = "chunk"
	CheckCodeHash    = "code-hash"
	CheckRoute       = "route"
)

// NetworkConsistency is what one network looked like when re-read.
type NetworkConsistency struct {
	Network       string        `json:"network"`
	ActiveRoot    model.Hash    `json:"activeRoot"`
	ActiveEpoch   uint64        `json:"activeEpoch"`
	Discrepancies []Discrepancy `json:"discrepancies,omitempty"`
}

// Consistency is the result of re-reading every network of a plan. Networks
// follow the plan's order.
type Consistency struct {
	PlanID     string               `json:"planId"`
	Consistent bool                 `json:"consistent"`
	Networks   []NetworkConsistency `json:"networks"`
}

// Discrepancies returns every discrepancy, network by network.
func (c *Consistency) Discrepancies() []Discrepancy {
	var out []Discrepancy
	for _, n := range c.Networks {
		out = append(out, n.Discrepancies...)
	}
	return out
}

// VerifyConsistency re-reads plan's networks through o.
func (o *Orchestrator) VerifyConsistency(ctx context.Context, plan *Plan) (*Consistency, error) {
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
	c, err := VerifyConsistency(ctx, nets, plan)
	if err != nil {
		o.log.Warn().Str("plan", plan.ID).Int("discrepancies", len(c.Discrepancies())).Msg("networks diverge")
	} else {
		o.log.Info().Str("plan", plan.ID).Msg("networks consistent")
	}
	return c, err
}

// VerifyConsistency re-reads the active root and epoch, the deployed chunks
// and the route table of every network and compares them with plan. Every
// discrepancy is listed; if there is any, the report is returned together
// with a ConsistencyMismatch error.
func VerifyConsistency(ctx context.Context, nets []network.Network, plan *Plan) (*Consistency, error) {
	out := &Consistency{PlanID: plan.ID, Networks: make([]NetworkConsistency, len(nets))}

	var g errgroup.Group
	for i, n := range nets {
		g.Go(func() error {
			out.Networks[i] = inspect(ctx, n, plan)
			return nil
		})
	}
	_ = g.Wait()

	total := len(out.Discrepancies())
	out.Consistent = total == 0
	if total > 0 {
		return out, model.Errorf(model.CodeConsistencyMismatch, "%d discrepancy(ies) across %d network(s)", total, len(nets))
	}
	return out, nil
}

func inspect(ctx context.Context, n network.Network, plan *Plan) NetworkConsistency {
	nc := NetworkConsistency{Network: n.ID()}
	add := func(check, subject, expected, actual string) {
		nc.Discrepancies = append(nc.Discrepancies, Discrepancy{
			Network: n.ID(), Check: check, Subject: subject, Expected: expected, Actual: actual,
		})
	}

	st, err := n.Status(ctx)
	if err != nil {
		add(CheckReachable, "", "status", err.Error())
		return nc
	}
	nc.ActiveRoot, nc.ActiveEpoch = st.ActiveRoot, st.ActiveEpoch
	if st.ActiveRoot != plan.Root {
		add(CheckActiveRoot, "", plan.Root.String(), st.ActiveRoot.String())
	}
	if st.ActiveEpoch != plan.Epoch {
		add(CheckActiveEpoch, "", fmt.Sprint(plan.Epoch), fmt.Sprint(st.ActiveEpoch))
	}

	seen := make(map[model.Address]struct{}, len(plan.Chunks))
	for _, want := range plan.Chunks {
		if _, dup := seen[want.Address]; dup {
			continue
		}
		seen[want.Address] = struct{}{}
		subject := want.Address.String()

		c, err := n.ChunkAt(ctx, want.Address)
		if err != nil {
			add(CheckChunk, subject, want.ContentHash.String(), err.Error())
			continue
		}
		if c.ContentHash != want.ContentHash {
			add(CheckChunk, subject, want.ContentHash.String(), c.ContentHash.String())
		}
		h, err := n.CodeHash(ctx, want.Address)
		switch {
		case err != nil:
			add(CheckCodeHash, subject, want.ContentHash.String(), err.Error())
		case h != want.ContentHash:
			add(CheckCodeHash, subject, want.ContentHash.String(), h.String())
		}
	}

	for _, r := range plan.Routes {
		subject := r.Entry.Selector.String()
		got, err := n.Lookup(ctx, r.Entry.Selector)
		switch {
		case err != nil:
			add(CheckRoute, subject, r.Entry.Implementation.String(), err.Error())
		case got != r.Entry:
			add(CheckRoute, subject, r.Entry.Implementation.String(), got.Implementation.String())
		}
	}
	return nc
}
