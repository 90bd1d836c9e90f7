package model

import (
	"math"
	"math/bits"
	"sort"
)

// RouteEntry maps a selector to an implementation and the digest of the code
// expected at that implementation.
type RouteEntry struct {
	Selector       Selector `json:"selector" yaml:"selector"`
	Implementation Address  `json:"implementation" yaml:"implementation"`
	CodeHash       Hash     `json:"codeHash" yaml:"codeHash"`
}

// LeafSize is the length of the canonical leaf encoding of a RouteEntry.
const LeafSize = SelectorSize + AddressSize + HashSize

// LeafBytes returns the canonical leaf encoding: selector ‖ implementation ‖ codeHash.
func (e RouteEntry) LeafBytes() []byte {
	out := make([]byte, 0, LeafSize)
	out = append(out, e.Selector[:]...)
	out = append(out, e.Implementation[:]...)
	out = append(out, e.CodeHash[:]...)
	return out
}

// Route is a routing table row: the entry plus the epoch of the commitment it
// was applied under.
//
// When an entry is applied under a commitment that is not active yet and it
// replaces a live entry, the live entry is kept in Prior until activation so
// the selector keeps serving in the meantime.
type Route struct {
	Entry      RouteEntry  `json:"entry"`
	Epoch      uint64      `json:"epoch"`
	Prior      *RouteEntry `json:"prior,omitempty"`
	PriorEpoch uint64      `json:"priorEpoch,omitempty"`
}

// Chunk is the immutable record of one content-addressed deployment.
type Chunk struct {
	Address     Address `json:"address"`
	ContentHash Hash    `json:"contentHash"`
	Size        int     `json:"size"`
	CID         string  `json:"cid"`
}

// Call carries the caller identity and the value attached to a store call.
type Call struct {
	Caller Address
	Value  uint64
}

// Commitment is what a committer publishes: the manifest root, its epoch and
// the number of routes the manifest contains.
type Commitment struct {
	Root    Hash   `json:"root"`
	Epoch   uint64 `json:"epoch"`
	Entries uint32 `json:"entries"`
}

// DispatcherState is the persisted dispatcher snapshot.
//
// Routes is the arena list of the routing table; the selector index is rebuilt
// from it on load so the two can never be persisted out of step. Applied lists
// the selectors applied under the current commitment, sorted.
type DispatcherState struct {
	ActiveRoot       Hash             `json:"activeRoot"`
	ActiveEpoch      uint64           `json:"activeEpoch"`
	CommittedRoot    Hash             `json:"committedRoot"`
	CommittedEpoch   uint64           `json:"committedEpoch"`
	CommittedAt      uint64           `json:"committedAt"`
	CommittedEntries uint32           `json:"committedEntries"`
	Pending          bool             `json:"pending"`
	ActivationDelay  uint64           `json:"activationDelay"`
	Frozen           bool             `json:"frozen"`
	Paused           bool             `json:"paused"`
	Admin            Address          `json:"admin"`
	Roles            map[Address]Role `json:"roles"`
	Routes           []Route          `json:"routes"`
	Applied          []Selector       `json:"applied"`
}

// Clone returns a deep copy.
func (s *DispatcherState) Clone() *DispatcherState {
	if s == nil {
		return nil
	}
	out := *s
	out.Roles = make(map[Address]Role, len(s.Roles))
	for k, v := range s.Roles {
		out.Roles[k] = v
	}
	out.Routes = make([]Route, len(s.Routes))
	for i, r := range s.Routes {
		if r.Prior != nil {
			p := *r.Prior
			r.Prior = &p
		}
		out.Routes[i] = r
	}
	out.Applied = append([]Selector(nil), s.Applied...)
	return &out
}

// SortSelectors sorts selectors bytewise in place.
func SortSelectors(sels []Selector) {
	sort.Slice(sels, func(i, j int) bool {
		a, b := sels[i], sels[j]
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})
}

// DispatcherStatus bundles the dispatcher's read-only accessors with the
// chain time at which they were read.
type DispatcherStatus struct {
	ActiveRoot       Hash   `json:"activeRoot"`
	ActiveEpoch      uint64 `json:"activeEpoch"`
	CommittedRoot    Hash   `json:"committedRoot"`
	CommittedEpoch   uint64 `json:"committedEpoch"`
	CommittedAt      uint64 `json:"committedAt"`
	CommittedEntries uint32 `json:"committedEntries"`
	Pending          bool   `json:"pending"`
	ActivationDelay  uint64 `json:"activationDelay"`
	Frozen           bool   `json:"frozen"`
	Paused           bool   `json:"paused"`
	RouteCount       int    `json:"routeCount"`
	Applied          int    `json:"applied"`
	Now              uint64 `json:"now"`
}

// ActivatableAt is the first chain time at which the pending commitment may
// be activated, saturating at math.MaxUint64.
func (s DispatcherStatus) ActivatableAt() uint64 { return ActivatableAt(s.CommittedAt, s.ActivationDelay) }

// Activatable reports whether the pending commitment may be activated at Now.
func (s DispatcherStatus) Activatable() bool {
	return s.Pending && DelayElapsed(s.CommittedAt, s.ActivationDelay, s.Now)
}

// ActivatableAt returns committedAt+delay, saturating at math.MaxUint64.
func ActivatableAt(committedAt, delay uint64) uint64 {
	at, carry := bits.Add64(committedAt, delay, 0)
	if carry != 0 {
		return math.MaxUint64
	}
	return at
}

// DelayElapsed reports whether at least delay has passed between committedAt
// and now. It never forms committedAt+delay, so no delay can wrap around.
func DelayElapsed(committedAt, delay, now uint64) bool {
	return now >= committedAt && now-committedAt >= delay
}

// StoreInfo is the deployment store's read-only fee and limit accessor.
type StoreInfo struct {
	Identity      Address `json:"identity"`
	Fee           uint64  `json:"fee"`
	FeeRecipient  Address `json:"feeRecipient"`
	FeesEnabled   bool    `json:"feesEnabled"`
	MaxChunkSize  int     `json:"maxChunkSize"`
	MaxBatchSize  int     `json:"maxBatchSize"`
	ChunkCount    uint64  `json:"chunkCount"`
	FeesCollected uint64  `json:"feesCollected"`
}
