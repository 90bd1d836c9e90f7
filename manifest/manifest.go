// Package manifest reads, writes and checks manifest files: the ordered route
// list an operator commits to, plus a header that chains each manifest to its
// predecessor.
//
// The manifest digest is keccak256 over the manifest's JSON encoding with the
// signature omitted. Field order is fixed by the Go structs, so the encoding
// is canonical for a given manifest.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"xdao.co/routeplane/cidutil"
	"xdao.co/routeplane/keys"
	"xdao.co/routeplane/model"
	"xdao.co/routeplane/prooftree"
)

// Header identifies one manifest in the upgrade chain.
type Header struct {
	Version       string        `json:"version"`
	VersionDigest model.Hash    `json:"versionDigest"`
	Timestamp     int64         `json:"timestamp"`
	Deployer      model.Address `json:"deployer"`
	Network       string        `json:"network"`
	Epoch         uint64        `json:"epoch"`
	Previous      model.Hash    `json:"previous"`
}

// Route is one manifest record. Proof and Positions are optional; when
// present they must place the route under the manifest root.
type Route struct {
	Selector       model.Selector `json:"selector"`
	Implementation model.Address  `json:"implementation"`
	CodeHash       model.Hash     `json:"codeHash"`
	Proof          []model.Hash   `json:"proof,omitempty"`
	Positions      string         `json:"positions,omitempty"`
}

func (r Route) Entry() model.RouteEntry {
	return model.RouteEntry{Selector: r.Selector, Implementation: r.Implementation, CodeHash: r.CodeHash}
}

type Manifest struct {
	Header    Header          `json:"header"`
	Root      model.Hash      `json:"root"`
	Routes    []Route         `json:"routes"`
	Signature *keys.Signature `json:"signature,omitempty"`
}

// VersionDigest is keccak256 of the human-readable version string.
func VersionDigest(version string) model.Hash {
	return cidutil.Keccak256([]byte(version))
}

// New builds a manifest over entries, filling the version digest, the root
// and one proof per route.
func New(h Header, entries []model.RouteEntry) (*Manifest, error) {
	if h.Version == "" {
		return nil, model.Errorf(model.CodeInvalidConfig, "manifest version is required")
	}
	tree, err := prooftree.New(entries)
	if err != nil {
		return nil, err
	}
	h.VersionDigest = VersionDigest(h.Version)
	m := &Manifest{Header: h, Root: tree.Root(), Routes: make([]Route, len(entries))}
	for i, e := range entries {
		p, err := tree.Proof(i)
		if err != nil {
			return nil, err
		}
		m.Routes[i] = Route{
			Selector:       e.Selector,
			Implementation: e.Implementation,
			CodeHash:       e.CodeHash,
			Proof:          p.Siblings,
			Positions:      prooftree.FormatPositions(p.Positions),
		}
	}
	return m, nil
}

// Entries returns the route entries in manifest order.
func (m *Manifest) Entries() []model.RouteEntry {
	out := make([]model.RouteEntry, len(m.Routes))
	for i, r := range m.Routes {
		out[i] = r.Entry()
	}
	return out
}

// Commitment is what a committer publishes for this manifest.
func (m *Manifest) Commitment() model.Commitment {
	return model.Commitment{Root: m.Root, Epoch: m.Header.Epoch, Entries: uint32(len(m.Routes))}
}

// ProofFor returns the proof for route i, computing it when the file
// carries none.
func (m *Manifest) ProofFor(i int) (prooftree.Proof, error) {
	if i < 0 || i >= len(m.Routes) {
		return prooftree.Proof{}, model.Errorf(model.CodeIndexOutOfRange, "route %d outside [0,%d)", i, len(m.Routes))
	}
	r := m.Routes[i]
	if r.Proof == nil && r.Positions == "" {
		return prooftree.BuildProof(m.Entries(), i)
	}
	pos, err := prooftree.ParsePositions(r.Positions)
	if err != nil {
		return prooftree.Proof{}, err
	}
	return prooftree.Proof{Siblings: r.Proof, Positions: pos}, nil
}

// Validate checks the version digest, that Root equals the root of the
// routes, and that every embedded proof verifies.
func (m *Manifest) Validate() error {
	if m.Header.VersionDigest != VersionDigest(m.Header.Version) {
		return model.Errorf(model.CodeRootMismatch, "version digest does not match version %q", m.Header.Version)
	}
	entries := m.Entries()
	root, err := prooftree.BuildRoot(entries)
	if err != nil {
		return err
	}
	if root != m.Root {
		return model.Errorf(model.CodeRootMismatch, "manifest root %s, routes build %s", m.Root, root)
	}
	for i, r := range m.Routes {
		if r.Proof == nil && r.Positions == "" {
			continue
		}
		p, err := m.ProofFor(i)
		if err != nil {
			return err
		}
		if err := p.VerifyEntry(entries[i], m.Root); err != nil {
			return fmt.Errorf("route %d (%s): %w", i, r.Selector, err)
		}
	}
	return nil
}

func (m *Manifest) unsigned() ([]byte, error) {
	cp := *m
	cp.Signature = nil
	return json.Marshal(&cp)
}

// Digest is keccak256 over the canonical encoding without the signature.
func (m *Manifest) Digest() (model.Hash, error) {
	b, err := m.unsigned()
	if err != nil {
		return model.Hash{}, model.Wrap(model.CodeInternal, err, "encode manifest")
	}
	return cidutil.Keccak256(b), nil
}

// CID addresses the canonical encoding without the signature.
func (m *Manifest) CID() (string, error) {
	b, err := m.unsigned()
	if err != nil {
		return "", model.Wrap(model.CodeInternal, err, "encode manifest")
	}
	return cidutil.CIDv1RawSHA256(b), nil
}

// VerifyChain checks that next follows prev: next.previous is prev's digest
// and the epoch strictly increases.
func VerifyChain(prev, next *Manifest) error {
	d, err := prev.Digest()
	if err != nil {
		return err
	}
	if next.Header.Previous != d {
		return model.Errorf(model.CodeChainBroken, "previous is %s, predecessor digest is %s", next.Header.Previous, d)
	}
	if next.Header.Epoch <= prev.Header.Epoch {
		return model.Errorf(model.CodeChainBroken, "epoch %d does not follow %d", next.Header.Epoch, prev.Header.Epoch)
	}
	return nil
}

// Parse decodes a manifest, rejecting unknown fields.
func Parse(b []byte) (*Manifest, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, model.Wrap(model.CodeInvalidEncoding, err, "parse manifest")
	}
	if len(m.Routes) == 0 {
		return nil, model.Errorf(model.CodeEmptyManifest, "manifest has no routes")
	}
	return &m, nil
}

// Marshal renders the manifest for humans: indented JSON with a trailing
// newline. Digest does not depend on this layout.
func (m *Manifest) Marshal() ([]byte, error) {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func Load(path string) (*Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

func (m *Manifest) Save(path string) error {
	b, err := m.Marshal()
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
