package model

import (
	"encoding/json"
	"math"
	"testing"
)

func TestParse_RoundTrip(t *testing.T) {
	sel, err := ParseSelector("0xa9059cbb")
	if err != nil {
		t.Fatalf("ParseSelector: %v", err)
	}
	if sel.String() != "0xa9059cbb" {
		t.Fatalf("selector string: %s", sel)
	}

	addr, err := ParseAddress("00000000000000000000000000000000000000ff")
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	if addr[19] != 0xff || addr.IsZero() {
		t.Fatalf("unexpected address %s", addr)
	}

	if _, err := ParseHash("0x1234"); CodeOf(err) != CodeInvalidEncoding {
		t.Fatalf("short hash: got %v", err)
	}
	if _, err := ParseSelector("0xzzzzzzzz"); CodeOf(err) != CodeInvalidEncoding {
		t.Fatalf("bad hex: got %v", err)
	}
}

func TestRouteEntry_LeafBytesLayout(t *testing.T) {
	e := RouteEntry{
		Selector:       Selector{1, 2, 3, 4},
		Implementation: Address{0: 0xaa, 19: 0xbb},
		CodeHash:       Hash{0: 0xcc, 31: 0xdd},
	}
	b := e.LeafBytes()
	if len(b) != LeafSize {
		t.Fatalf("leaf size: got %d want %d", len(b), LeafSize)
	}
	if b[0] != 1 || b[3] != 4 || b[4] != 0xaa || b[23] != 0xbb || b[24] != 0xcc || b[55] != 0xdd {
		t.Fatalf("unexpected leaf layout: %x", b)
	}
}

func TestDispatcherState_JSONRoundTripAndClone(t *testing.T) {
	admin := Address{19: 1}
	st := &DispatcherState{
		ActiveEpoch: 3,
		Admin:       admin,
		Roles:       map[Address]Role{admin: RoleAdmin | RoleCommitter},
		Routes:      []Route{{Entry: RouteEntry{Selector: Selector{9}}, Epoch: 3}},
		Applied:     []Selector{{9}},
	}
	b, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var back DispatcherState
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back.Roles[admin] != RoleAdmin|RoleCommitter {
		t.Fatalf("roles lost: %v", back.Roles)
	}

	c := st.Clone()
	c.Roles[admin] = 0
	c.Routes[0].Epoch = 99
	if st.Roles[admin] == 0 || st.Routes[0].Epoch != 3 {
		t.Fatalf("Clone shares memory with original")
	}
}

func TestRole_HasAndString(t *testing.T) {
	r := RoleCommitter | RoleApplier
	if !r.Has(RoleApplier) || r.Has(RoleAdmin) || r.Has(0) {
		t.Fatalf("Has mismatch for %s", r)
	}
	if r.String() != "committer|applier" {
		t.Fatalf("String: %s", r)
	}
	if got, err := ParseRole("Emergency"); err != nil || got != RoleEmergency {
		t.Fatalf("ParseRole: %v %v", got, err)
	}
}

func TestDelayElapsed_NoWrap(t *testing.T) {
	cases := []struct {
		committedAt, delay, now uint64
		want                    bool
	}{
		{1000, 3600, 4599, false},
		{1000, 3600, 4600, true},
		{1000, 0, 1000, true},
		{1000, math.MaxUint64, 1000, false},
		{1000, math.MaxUint64, math.MaxUint64, false},
		{1000, math.MaxUint64 - 1000, math.MaxUint64, true},
		{5000, 10, 4000, false},
	}
	for _, c := range cases {
		if got := DelayElapsed(c.committedAt, c.delay, c.now); got != c.want {
			t.Fatalf("DelayElapsed(%d, %d, %d) = %v", c.committedAt, c.delay, c.now, got)
		}
	}

	st := DispatcherStatus{Pending: true, CommittedAt: 1000, ActivationDelay: math.MaxUint64, Now: 1000}
	if st.ActivatableAt() != math.MaxUint64 {
		t.Fatalf("ActivatableAt must saturate, got %d", st.ActivatableAt())
	}
	if st.Activatable() {
		t.Fatalf("wrapped delay reported activatable")
	}
	st.ActivationDelay = 60
	st.Now = 1060
	if st.ActivatableAt() != 1060 || !st.Activatable() {
		t.Fatalf("plain delay: at %d activatable %v", st.ActivatableAt(), st.Activatable())
	}
}
