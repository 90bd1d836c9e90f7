package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"xdao.co/routeplane/cidutil"
	"xdao.co/routeplane/model"
	"xdao.co/routeplane/network"
	"xdao.co/routeplane/prooftree"
)

// Binding routes Selector to the chunk built from Contents[Content].
type Binding struct {
	Selector model.Selector `json:"selector"`
	Content  int            `json:"content"`
}

// Request describes one deployment: the code chunks to stage and the routes
// that point at them, in manifest order.
type Request struct {
	Version  string    `json:"version"`
	Epoch    uint64    `json:"epoch"`
	Contents [][]byte  `json:"contents"`
	Bindings []Binding `json:"bindings"`
}

// PlannedChunk is the expected deployment of one content item.
type PlannedChunk struct {
	Address     model.Address `json:"address"`
	ContentHash model.Hash    `json:"contentHash"`
	Size        int           `json:"size"`
	CID         string        `json:"cid"`
}

// PlannedRoute is one manifest route with its inclusion proof.
type PlannedRoute struct {
	Entry model.RouteEntry `json:"entry"`
	Proof prooftree.Proof  `json:"proof"`
}

// Plan is a fully resolved deployment, identical for every network it names.
type Plan struct {
	ID        string         `json:"id"`
	Version   string         `json:"version"`
	Epoch     uint64         `json:"epoch"`
	Root      model.Hash     `json:"root"`
	Networks  []string       `json:"networks"`
	Contents  [][]byte       `json:"contents"`
	Chunks    []PlannedChunk `json:"chunks"`
	Routes    []PlannedRoute `json:"routes"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Commitment is what each network's dispatcher is asked to commit.
func (p *Plan) Commitment() model.Commitment {
	return model.Commitment{Root: p.Root, Epoch: p.Epoch, Entries: uint32(len(p.Routes))}
}

// Entries returns the route entries in manifest order.
func (p *Plan) Entries() []model.RouteEntry {
	out := make([]model.RouteEntry, len(p.Routes))
	for i, r := range p.Routes {
		out[i] = r.Entry
	}
	return out
}

// PlanDeployment predicts every content's address on every network and
// builds the route set.
//
// Networks must agree on every predicted address. Disagreement fails with
// PredictionMismatch before anything is staged anywhere. Contents that some
// network's limits would reject fail here too, as SizeExceeded or
// BatchTooLarge.
func PlanDeployment(ctx context.Context, nets []network.Network, req Request) (*Plan, error) {
	if len(nets) == 0 {
		return nil, model.Errorf(model.CodeInvalidConfig, "no networks to plan for")
	}
	if len(req.Contents) == 0 {
		return nil, model.Errorf(model.CodeEmptyBatch, "no contents to deploy")
	}
	if len(req.Bindings) == 0 {
		return nil, model.Errorf(model.CodeEmptyManifest, "no routes to deploy")
	}
	for i, c := range req.Contents {
		if len(c) == 0 {
			return nil, model.Errorf(model.CodeEmptyContent, "content %d is empty", i)
		}
	}

	ids := make([]string, len(nets))
	seen := make(map[string]struct{}, len(nets))
	for i, n := range nets {
		id := n.ID()
		if _, dup := seen[id]; dup {
			return nil, model.Errorf(model.CodeInvalidConfig, "network %q listed twice", id)
		}
		seen[id] = struct{}{}
		ids[i] = id
	}

	for _, n := range nets {
		info, err := n.Info(ctx)
		if err != nil {
			return nil, annotate(err, "network %s: read store info", n.ID())
		}
		if info.MaxBatchSize > 0 && len(req.Contents) > info.MaxBatchSize {
			return nil, model.Errorf(model.CodeBatchTooLarge, "network %s: %d contents exceed batch limit %d", n.ID(), len(req.Contents), info.MaxBatchSize)
		}
		for i, c := range req.Contents {
			if info.MaxChunkSize > 0 && len(c) > info.MaxChunkSize {
				return nil, model.Errorf(model.CodeSizeExceeded, "network %s: content %d is %d bytes, limit %d", n.ID(), i, len(c), info.MaxChunkSize)
			}
		}
	}

	chunks := make([]PlannedChunk, len(req.Contents))
	for i, c := range req.Contents {
		var want model.Address
		for j, n := range nets {
			addr, err := n.Predict(ctx, c)
			if err != nil {
				return nil, annotate(err, "network %s: predict content %d", n.ID(), i)
			}
			if j == 0 {
				want = addr
				continue
			}
			if addr != want {
				return nil, model.Errorf(model.CodePredictionMismatch,
					"content %d: network %s predicts %s, network %s predicts %s", i, ids[0], want, n.ID(), addr)
			}
		}
		digest, id := cidutil.MustCID(c)
		chunks[i] = PlannedChunk{Address: want, ContentHash: digest, Size: len(c), CID: id}
	}

	entries := make([]model.RouteEntry, len(req.Bindings))
	for i, b := range req.Bindings {
		if b.Content < 0 || b.Content >= len(chunks) {
			return nil, model.Errorf(model.CodeIndexOutOfRange, "binding %d: content %d outside [0,%d)", i, b.Content, len(chunks))
		}
		entries[i] = model.RouteEntry{
			Selector:       b.Selector,
			Implementation: chunks[b.Content].Address,
			CodeHash:       chunks[b.Content].ContentHash,
		}
	}
	tree, err := prooftree.New(entries)
	if err != nil {
		return nil, err
	}
	routes := make([]PlannedRoute, len(entries))
	for i, e := range entries {
		p, err := tree.Proof(i)
		if err != nil {
			return nil, err
		}
		routes[i] = PlannedRoute{Entry: e, Proof: p}
	}

	contents := make([][]byte, len(req.Contents))
	for i, c := range req.Contents {
		contents[i] = append([]byte(nil), c...)
	}
	return &Plan{
		ID:        uuid.NewString(),
		Version:   req.Version,
		Epoch:     req.Epoch,
		Root:      tree.Root(),
		Networks:  ids,
		Contents:  contents,
		Chunks:    chunks,
		Routes:    routes,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// annotate keeps err's code and prefixes its message with context. Errors
// without a code become Internal.
func annotate(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	var e *model.Error
	if errors.As(err, &e) {
		if e.Message != "" {
			msg += ": " + e.Message
		}
		return model.Wrap(e.Code, err, "%s", msg)
	}
	return model.Wrap(model.CodeInternal, err, "%s: %v", msg, err)
}
