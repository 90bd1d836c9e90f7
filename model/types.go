package model

import (
	"encoding/hex"
	"strings"
)

const (
	SelectorSize = 4
	AddressSize  = 20
	HashSize     = 32
)

// Selector identifies a callable entry point.
type Selector [SelectorSize]byte

// Address identifies a deployed code location or an actor.
type Address [AddressSize]byte

// Hash is a 32-byte digest (roots, code digests, manifest digests).
type Hash [HashSize]byte

func (s Selector) String() string { return "0x" + hex.EncodeToString(s[:]) }
func (a Address) String() string  { return "0x" + hex.EncodeToString(a[:]) }
func (h Hash) String() string     { return "0x" + hex.EncodeToString(h[:]) }

func (a Address) IsZero() bool { return a == Address{} }
func (h Hash) IsZero() bool    { return h == Hash{} }

func (s Selector) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
func (a Address) MarshalText() ([]byte, error)  { return []byte(a.String()), nil }
func (h Hash) MarshalText() ([]byte, error)     { return []byte(h.String()), nil }

func (s *Selector) UnmarshalText(b []byte) error { return decodeFixedHex(string(b), s[:], "selector") }
func (a *Address) UnmarshalText(b []byte) error  { return decodeFixedHex(string(b), a[:], "address") }
func (h *Hash) UnmarshalText(b []byte) error     { return decodeFixedHex(string(b), h[:], "hash") }

// ParseSelector parses a 0x-prefixed (or bare) 8-hex-digit selector.
func ParseSelector(s string) (Selector, error) {
	var out Selector
	err := decodeFixedHex(s, out[:], "selector")
	return out, err
}

// ParseAddress parses a 0x-prefixed (or bare) 40-hex-digit address.
func ParseAddress(s string) (Address, error) {
	var out Address
	err := decodeFixedHex(s, out[:], "address")
	return out, err
}

// ParseHash parses a 0x-prefixed (or bare) 64-hex-digit digest.
func ParseHash(s string) (Hash, error) {
	var out Hash
	err := decodeFixedHex(s, out[:], "hash")
	return out, err
}

// HashFromBytes copies b into a Hash. b must be exactly HashSize bytes.
func HashFromBytes(b []byte) (Hash, error) {
	var out Hash
	if len(b) != HashSize {
		return out, Errorf(CodeInvalidEncoding, "hash must be %d bytes, got %d", HashSize, len(b))
	}
	copy(out[:], b)
	return out, nil
}

// AddressFromBytes copies b into an Address. b must be exactly AddressSize bytes.
func AddressFromBytes(b []byte) (Address, error) {
	var out Address
	if len(b) != AddressSize {
		return out, Errorf(CodeInvalidEncoding, "address must be %d bytes, got %d", AddressSize, len(b))
	}
	copy(out[:], b)
	return out, nil
}

func decodeFixedHex(s string, dst []byte, what string) error {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != 2*len(dst) {
		return Errorf(CodeInvalidEncoding, "%s must be %d hex digits, got %d", what, 2*len(dst), len(s))
	}
	if _, err := hex.Decode(dst, []byte(s)); err != nil {
		return Wrap(CodeInvalidEncoding, err, "invalid %s hex", what)
	}
	return nil
}

// Role is a bitmask of dispatcher privileges held by one actor.
type Role uint8

const (
	RoleAdmin Role = 1 << iota
	RoleCommitter
	RoleApplier
	RoleEmergency
)

// Has reports whether r includes every bit of want.
func (r Role) Has(want Role) bool { return want != 0 && r&want == want }

func (r Role) String() string {
	if r == 0 {
		return "none"
	}
	var parts []string
	for _, n := range []struct {
		bit  Role
		name string
	}{
		{RoleAdmin, "admin"},
		{RoleCommitter, "committer"},
		{RoleApplier, "applier"},
		{RoleEmergency, "emergency"},
	} {
		if r&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// ParseRole maps a role name to its bit. Names match Role.String.
func ParseRole(name string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "admin":
		return RoleAdmin, nil
	case "committer":
		return RoleCommitter, nil
	case "applier":
		return RoleApplier, nil
	case "emergency":
		return RoleEmergency, nil
	default:
		return 0, Errorf(CodeInvalidEncoding, "unknown role %q", name)
	}
}
