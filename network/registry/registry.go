// Package registry maps backend names to network openers.
//
// Backends typically register themselves in init():
//
//	registry.MustRegister(registry.Backend{ ... })
//
// The binary must import the backend package for registration to occur. The
// in-process "memory" and "badger" backends are registered by this package.
package registry

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"xdao.co/routeplane/chaintime"
	"xdao.co/routeplane/deploy"
	"xdao.co/routeplane/dispatch"
	"xdao.co/routeplane/events"
	"xdao.co/routeplane/network"
	"xdao.co/routeplane/observability"
)

// Spec carries everything a backend may need to open one network.
type Spec struct {
	ID      string
	Backend string

	// Path is the data directory of the badger backend.
	Path string

	// Target, Timeout, MaxMsgBytes and Signer configure the grpc backend.
	// Signer signs every mutating call and must belong to the acting address.
	Target      string
	Timeout     time.Duration
	MaxMsgBytes int
	Signer      ed25519.PrivateKey

	// Store and Dispatch seed in-process backends.
	Store    deploy.Config
	Dispatch dispatch.Config
	Clock    chaintime.Clock

	Logger  zerolog.Logger
	Sink    events.Sink
	Metrics *observability.Metrics
}

type Backend struct {
	Name        string
	Description string
	Usage       Usage

	// Open constructs the network described by spec. It returns an optional
	// close function.
	Open func(ctx context.Context, spec Spec) (network.Network, func() error, error)
}

var (
	mu       sync.RWMutex
	backends = map[string]Backend{}
)

// Register registers a backend.
func Register(b Backend) error {
	if b.Name == "" {
		return fmt.Errorf("registry: backend name is required")
	}
	if b.Open == nil {
		return fmt.Errorf("registry: backend %q missing Open", b.Name)
	}
	if b.Usage == 0 {
		return fmt.Errorf("registry: backend %q missing Usage", b.Name)
	}

	mu.Lock()
	defer mu.Unlock()
	if _, exists := backends[b.Name]; exists {
		return fmt.Errorf("registry: backend %q already registered", b.Name)
	}
	backends[b.Name] = b
	return nil
}

// MustRegister is like Register but panics on error.
func MustRegister(b Backend) {
	if err := Register(b); err != nil {
		panic(err)
	}
}

// List returns backends matching usage, sorted by name.
func List(usage Usage) []Backend {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Backend, 0, len(backends))
	for _, b := range backends {
		if b.Usage.allows(usage) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns backend names matching usage, sorted.
func Names(usage Usage) []string {
	bs := List(usage)
	n := make([]string, 0, len(bs))
	for _, b := range bs {
		n = append(n, b.Name)
	}
	return n
}

// Open opens spec.Backend if it exists and matches usage.
func Open(ctx context.Context, spec Spec, usage Usage) (network.Network, func() error, error) {
	mu.RLock()
	b, ok := backends[spec.Backend]
	mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("unknown backend %q", spec.Backend)
	}
	if !b.Usage.allows(usage) {
		return nil, nil, fmt.Errorf("backend %q not supported in this binary", spec.Backend)
	}
	if spec.ID == "" {
		return nil, nil, fmt.Errorf("network id is required")
	}
	return b.Open(ctx, spec)
}
