// Package chaintime supplies ledger time to the dispatcher.
//
// Activation gates compare against this clock only. Callers never pass their
// own wall-clock readings into a gate.
package chaintime

import (
	"math"
	"sync"
	"time"
)

// Clock reports the current ledger time in seconds.
type Clock interface {
	Now() uint64
}

// System reads the host clock as unix seconds. It stands in for block time
// when a network runs in-process.
type System struct{}

func (System) Now() uint64 { return uint64(time.Now().Unix()) }

// Manual is a settable clock for tests and simulations.
type Manual struct {
	mu  sync.Mutex
	now uint64
}

func NewManual(start uint64) *Manual { return &Manual{now: start} }

func (m *Manual) Now() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to t. Ledger time never runs backwards, so earlier
// values are ignored.
func (m *Manual) Set(t uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t > m.now {
		m.now = t
	}
}

// Advance moves the clock forward by d seconds, stopping at math.MaxUint64,
// and returns the new time.
func (m *Manual) Advance(d uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d > math.MaxUint64-m.now {
		m.now = math.MaxUint64
	} else {
		m.now += d
	}
	return m.now
}
