// Package prooftree commits to an ordered set of routing leaves and proves
// membership of individual leaves.
//
// Hashing is Keccak-256 with domain separation: leaves are hashed as
// keccak256(0x00 ‖ data) and internal nodes as keccak256(0x01 ‖ left ‖ right),
// so a leaf can never be confused with an internal node.
//
// Odd-node rule: whenever a level has an odd number of nodes, the trailing
// node is paired with itself. The rule is applied identically by BuildRoot,
// BuildProof and Tree; every tool computing roots for the same entries in the
// same order therefore produces the same root.
package prooftree

import (
	"xdao.co/routeplane/cidutil"
	"xdao.co/routeplane/model"
)

const (
	LeafPrefix byte = 0x00
	NodePrefix byte = 0x01

	// MaxDepth bounds proof length. Selectors are 4 bytes, so no manifest can
	// hold more than 2^32 distinct routes.
	MaxDepth = 32
)

// LeafHash hashes raw leaf data with the leaf domain prefix.
func LeafHash(data []byte) model.Hash {
	return cidutil.Keccak256([]byte{LeafPrefix}, data)
}

// NodeHash hashes two children with the internal-node domain prefix.
func NodeHash(left, right model.Hash) model.Hash {
	return cidutil.Keccak256([]byte{NodePrefix}, left[:], right[:])
}

// Tree holds every level of a built tree, leaves first.
type Tree struct {
	levels [][]model.Hash
}

// NewFromLeaves builds a tree over raw leaf data in the given order.
func NewFromLeaves(leaves [][]byte) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, model.Errorf(model.CodeEmptyManifest, "no leaves")
	}
	if uint64(len(leaves)) > 1<<MaxDepth {
		return nil, model.Errorf(model.CodeProofMalformed, "%d leaves exceed depth %d", len(leaves), MaxDepth)
	}
	// Distinct leaves keep adjacent nodes distinct, which Verify relies on to
	// reject self-paired right children.
	seen := make(map[string]int, len(leaves))
	level := make([]model.Hash, len(leaves))
	for i, l := range leaves {
		if j, dup := seen[string(l)]; dup {
			return nil, model.Errorf(model.CodeDuplicateSelector, "duplicate leaf at %d and %d", j, i)
		}
		seen[string(l)] = i
		level[i] = LeafHash(l)
	}
	levels := [][]model.Hash{level}
	for len(level) > 1 {
		next := make([]model.Hash, (len(level)+1)/2)
		for i := range next {
			left := level[2*i]
			right := left
			if 2*i+1 < len(level) {
				right = level[2*i+1]
			}
			next[i] = NodeHash(left, right)
		}
		levels = append(levels, next)
		level = next
	}
	return &Tree{levels: levels}, nil
}

// New builds a tree over route entries. Selectors must be unique: a manifest
// that routes one selector twice is ambiguous, and rejecting duplicates also
// rules out the duplicated-trailing-leaf collision of the odd-node rule.
func New(entries []model.RouteEntry) (*Tree, error) {
	if len(entries) == 0 {
		return nil, model.Errorf(model.CodeEmptyManifest, "no route entries")
	}
	seen := make(map[model.Selector]int, len(entries))
	leaves := make([][]byte, len(entries))
	for i, e := range entries {
		if j, dup := seen[e.Selector]; dup {
			return nil, model.Errorf(model.CodeDuplicateSelector, "selector %s at entries %d and %d", e.Selector, j, i)
		}
		seen[e.Selector] = i
		leaves[i] = e.LeafBytes()
	}
	return NewFromLeaves(leaves)
}

// Root returns the 32-byte commitment.
func (t *Tree) Root() model.Hash {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// Len returns the number of leaves.
func (t *Tree) Len() int { return len(t.levels[0]) }

// Depth returns the proof length for every leaf of this tree.
func (t *Tree) Depth() int { return len(t.levels) - 1 }

// Proof returns the inclusion proof for the leaf at index.
func (t *Tree) Proof(index int) (Proof, error) {
	if index < 0 || index >= t.Len() {
		return Proof{}, model.Errorf(model.CodeIndexOutOfRange, "index %d outside [0,%d)", index, t.Len())
	}
	p := Proof{
		Siblings:  make([]model.Hash, 0, t.Depth()),
		Positions: make([]uint8, 0, t.Depth()),
	}
	idx := index
	for _, level := range t.levels[:len(t.levels)-1] {
		if idx%2 == 0 {
			sib := level[idx]
			if idx+1 < len(level) {
				sib = level[idx+1]
			}
			p.Siblings = append(p.Siblings, sib)
			p.Positions = append(p.Positions, SiblingRight)
		} else {
			p.Siblings = append(p.Siblings, level[idx-1])
			p.Positions = append(p.Positions, SiblingLeft)
		}
		idx /= 2
	}
	return p, nil
}

// BuildRoot returns the root over entries in the given order.
func BuildRoot(entries []model.RouteEntry) (model.Hash, error) {
	t, err := New(entries)
	if err != nil {
		return model.Hash{}, err
	}
	return t.Root(), nil
}

// BuildProof returns the inclusion proof for entries[index].
func BuildProof(entries []model.RouteEntry, index int) (Proof, error) {
	t, err := New(entries)
	if err != nil {
		return Proof{}, err
	}
	return t.Proof(index)
}

// BuildRootLeaves is BuildRoot for raw leaf data.
func BuildRootLeaves(leaves [][]byte) (model.Hash, error) {
	t, err := NewFromLeaves(leaves)
	if err != nil {
		return model.Hash{}, err
	}
	return t.Root(), nil
}

// BuildProofLeaves is BuildProof for raw leaf data.
func BuildProofLeaves(leaves [][]byte, index int) (Proof, error) {
	t, err := NewFromLeaves(leaves)
	if err != nil {
		return Proof{}, err
	}
	return t.Proof(index)
}
