package prooftree

import (
	"encoding/json"
	"strings"

	"xdao.co/routeplane/model"
)

// Position bits, one per level, leaf level first.
const (
	SiblingRight uint8 = 0
	SiblingLeft  uint8 = 1
)

// Proof is an inclusion proof: one sibling digest and one position bit per
// level. JSON encodes Positions as a bit string such as "0110".
type Proof struct {
	Siblings  []model.Hash
	Positions []uint8
}

type proofJSON struct {
	Siblings  []model.Hash `json:"siblings"`
	Positions string       `json:"positions"`
}

func (p Proof) MarshalJSON() ([]byte, error) {
	siblings := p.Siblings
	if siblings == nil {
		siblings = []model.Hash{}
	}
	return json.Marshal(proofJSON{Siblings: siblings, Positions: FormatPositions(p.Positions)})
}

func (p *Proof) UnmarshalJSON(b []byte) error {
	var raw proofJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	pos, err := ParsePositions(raw.Positions)
	if err != nil {
		return err
	}
	p.Siblings = raw.Siblings
	p.Positions = pos
	return nil
}

// Verify checks p for leafData against root.
func (p Proof) Verify(leafData []byte, root model.Hash) error {
	return Verify(leafData, p.Siblings, p.Positions, root)
}

// VerifyEntry checks p for a route entry against root.
func (p Proof) VerifyEntry(e model.RouteEntry, root model.Hash) error {
	return Verify(e.LeafBytes(), p.Siblings, p.Positions, root)
}

// Verify recomputes the path from leafData bottom-up, using positions to pick
// the concatenation order at each level, and compares the result to root.
//
// It fails with ProofMalformed when the proof's shape is unusable or
// ambiguous: lengths differ, the proof is deeper than MaxDepth, a position is
// not 0 or 1, or a self-paired node claims to be the right child (the odd-node
// rule only ever pairs a trailing left node with itself). It fails with
// ProofInvalid when the recomputed root differs.
func Verify(leafData []byte, siblings []model.Hash, positions []uint8, root model.Hash) error {
	if len(siblings) != len(positions) {
		return model.Errorf(model.CodeProofMalformed, "%d siblings but %d position bits", len(siblings), len(positions))
	}
	if len(siblings) > MaxDepth {
		return model.Errorf(model.CodeProofMalformed, "proof depth %d exceeds %d", len(siblings), MaxDepth)
	}
	cur := LeafHash(leafData)
	for i, sib := range siblings {
		switch positions[i] {
		case SiblingRight:
			cur = NodeHash(cur, sib)
		case SiblingLeft:
			if sib == cur {
				return model.Errorf(model.CodeProofMalformed, "level %d: self-paired node placed on the right", i)
			}
			cur = NodeHash(sib, cur)
		default:
			return model.Errorf(model.CodeProofMalformed, "level %d: position %d is not a bit", i, positions[i])
		}
	}
	if cur != root {
		return model.Errorf(model.CodeProofInvalid, "computed root %s does not match %s", cur, root)
	}
	return nil
}

// FormatPositions renders position bits as a string of '0' and '1'.
func FormatPositions(positions []uint8) string {
	var b strings.Builder
	b.Grow(len(positions))
	for _, p := range positions {
		if p == SiblingLeft {
			b.WriteByte('1')
		} else if p == SiblingRight {
			b.WriteByte('0')
		} else {
			b.WriteByte('?')
		}
	}
	return b.String()
}

// ParsePositions parses a string of '0' and '1'.
func ParsePositions(s string) ([]uint8, error) {
	if len(s) > MaxDepth {
		return nil, model.Errorf(model.CodeProofMalformed, "position string longer than %d", MaxDepth)
	}
	out := make([]uint8, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '0':
			out[i] = SiblingRight
		case '1':
			out[i] = SiblingLeft
		default:
			return nil, model.Errorf(model.CodeProofMalformed, "position %d: %q is not a bit", i, s[i])
		}
	}
	return out, nil
}
