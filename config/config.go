// Package config loads orchestrator configuration from YAML or TOML.
//
// The format is chosen by file extension (.yaml, .yml or .toml). Relative
// journal, network data and signer key paths are resolved against the file's
// directory.
// Networks are opened through network/registry, so callers still need to link
// the backends they want via blank imports (e.g. network/grpcnet).
//
// Example (YAML):
//
//	operator: 0x00000000000000000000000000000000000000aa
//	parallelism: 4
//	poll_interval: 2s
//	activation_timeout: 10m
//	journal: /var/lib/routeplane/plans.db
//	networks:
//	  - id: mainnet
//	    backend: grpc
//	    target: mainnet.example:7400
//	  - id: lab
//	    backend: badger
//	    path: /var/lib/routeplane/lab
//	    identity: 0x00000000000000000000000000000000000000d1
//	    admin: 0x00000000000000000000000000000000000000aa
//	    activation_delay: 3600
package config

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"xdao.co/routeplane/deploy"
	"xdao.co/routeplane/dispatch"
	"xdao.co/routeplane/keys"
	"xdao.co/routeplane/model"
	"xdao.co/routeplane/network"
	"xdao.co/routeplane/network/registry"
)

const (
	DefaultParallelism       = 4
	DefaultPollInterval      = 2 * time.Second
	DefaultActivationTimeout = 10 * time.Minute
)

// Duration is a time.Duration read from text such as "90s" or "10m".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

type Config struct {
	Operator          model.Address   `yaml:"operator" toml:"operator"`
	Parallelism       int             `yaml:"parallelism" toml:"parallelism"`
	PollInterval      Duration        `yaml:"poll_interval" toml:"poll_interval"`
	ActivationTimeout Duration        `yaml:"activation_timeout" toml:"activation_timeout"`
	Journal           string          `yaml:"journal" toml:"journal"`
	Log               LogConfig       `yaml:"log" toml:"log"`
	Networks          []NetworkConfig `yaml:"networks" toml:"networks"`
}

type LogConfig struct {
	Format string `yaml:"format" toml:"format"`
	Level  string `yaml:"level" toml:"level"`
}

// RoleGrant assigns dispatcher roles to an address when a local network is
// created.
type RoleGrant struct {
	Address model.Address `yaml:"address" toml:"address"`
	Roles   []string      `yaml:"roles" toml:"roles"`
}

type NetworkConfig struct {
	ID      string `yaml:"id" toml:"id"`
	Backend string `yaml:"backend" toml:"backend"`

	Path        string   `yaml:"path" toml:"path"`
	Target      string   `yaml:"target" toml:"target"`
	Timeout     Duration `yaml:"timeout" toml:"timeout"`
	MaxMsgBytes int      `yaml:"max_msg_bytes" toml:"max_msg_bytes"`
	// SignerKey is a hex seed file whose key signs mutating grpc calls.
	SignerKey string `yaml:"signer_key" toml:"signer_key"`

	Identity        model.Address `yaml:"identity" toml:"identity"`
	Fee             uint64        `yaml:"fee" toml:"fee"`
	FeeRecipient    model.Address `yaml:"fee_recipient" toml:"fee_recipient"`
	MaxChunkSize    int           `yaml:"max_chunk_size" toml:"max_chunk_size"`
	MaxBatchSize    int           `yaml:"max_batch_size" toml:"max_batch_size"`
	Admin           model.Address `yaml:"admin" toml:"admin"`
	ActivationDelay uint64        `yaml:"activation_delay" toml:"activation_delay"`
	Roles           []RoleGrant   `yaml:"roles" toml:"roles"`
}

// LoadFile reads path, applies defaults and validates the result.
func LoadFile(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, errors.New("config: empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		cfg, err = ParseYAML(b)
	case ".toml":
		cfg, err = ParseTOML(b)
	default:
		return cfg, fmt.Errorf("config: unsupported extension %q (want .yaml, .yml or .toml)", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("config: %s: %w", path, err)
	}
	cfg.resolvePaths(filepath.Dir(path))
	return cfg, nil
}

// resolvePaths makes the journal and network paths relative to dir.
func (c *Config) resolvePaths(dir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	c.Journal = abs(c.Journal)
	for i := range c.Networks {
		c.Networks[i].Path = abs(c.Networks[i].Path)
		c.Networks[i].SignerKey = abs(c.Networks[i].SignerKey)
	}
}

func ParseYAML(b []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}
	cfg.applyDefaults()
	return cfg, cfg.Validate()
}

func ParseTOML(b []byte) (Config, error) {
	var cfg Config
	md, err := toml.Decode(string(b), &cfg)
	if err != nil {
		return cfg, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return cfg, fmt.Errorf("unknown keys: %v", undecoded)
	}
	cfg.applyDefaults()
	return cfg, cfg.Validate()
}

func (c *Config) applyDefaults() {
	if c.Parallelism == 0 {
		c.Parallelism = DefaultParallelism
	}
	if c.PollInterval.Duration == 0 {
		c.PollInterval.Duration = DefaultPollInterval
	}
	if c.ActivationTimeout.Duration == 0 {
		c.ActivationTimeout.Duration = DefaultActivationTimeout
	}
}

func (c Config) Validate() error {
	if c.Operator.IsZero() {
		return errors.New("config: operator address is required")
	}
	if c.Parallelism < 0 {
		return errors.New("config: parallelism must not be negative")
	}
	if len(c.Networks) == 0 {
		return errors.New("config: at least one network is required")
	}
	seen := make(map[string]struct{}, len(c.Networks))
	for i, n := range c.Networks {
		if n.ID == "" {
			return fmt.Errorf("config: networks[%d]: id is required", i)
		}
		if _, dup := seen[n.ID]; dup {
			return fmt.Errorf("config: duplicate network id %q", n.ID)
		}
		seen[n.ID] = struct{}{}
		if n.Backend == "" {
			return fmt.Errorf("config: network %s: backend is required", n.ID)
		}
		if _, err := n.roles(); err != nil {
			return fmt.Errorf("config: network %s: %w", n.ID, err)
		}
	}
	return nil
}

func (n NetworkConfig) roles() (map[model.Address]model.Role, error) {
	out := make(map[model.Address]model.Role, len(n.Roles))
	for _, g := range n.Roles {
		if g.Address.IsZero() {
			return nil, errors.New("role grant without address")
		}
		for _, name := range g.Roles {
			r, err := model.ParseRole(name)
			if err != nil {
				return nil, err
			}
			out[g.Address] |= r
		}
	}
	return out, nil
}

// Spec converts n into a registry spec.
func (n NetworkConfig) Spec() (registry.Spec, error) {
	roles, err := n.roles()
	if err != nil {
		return registry.Spec{}, err
	}
	var signer ed25519.PrivateKey
	if n.SignerKey != "" {
		seed, err := keys.ReadSeedFile(n.SignerKey)
		if err != nil {
			return registry.Spec{}, fmt.Errorf("network %s: signer key: %w", n.ID, err)
		}
		signer = ed25519.NewKeyFromSeed(seed)
	}
	return registry.Spec{
		ID:          n.ID,
		Backend:     n.Backend,
		Path:        n.Path,
		Target:      n.Target,
		Timeout:     n.Timeout.Duration,
		MaxMsgBytes: n.MaxMsgBytes,
		Signer:      signer,
		Store: deploy.Config{
			Identity:     n.Identity,
			Fee:          n.Fee,
			FeeRecipient: n.FeeRecipient,
			MaxChunkSize: n.MaxChunkSize,
			MaxBatchSize: n.MaxBatchSize,
		},
		Dispatch: dispatch.Config{
			Admin:           n.Admin,
			ActivationDelay: n.ActivationDelay,
			Roles:           roles,
		},
	}, nil
}

// Open opens every configured network in order. decorate, when non-nil, may
// adjust each spec (logger, sink, metrics, clock) before it is opened.
func (c Config) Open(ctx context.Context, usage registry.Usage, decorate func(*registry.Spec)) ([]network.Network, func() error, error) {
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}
	nets := make([]network.Network, 0, len(c.Networks))
	closers := make([]func() error, 0, len(c.Networks))
	closeAll := func() error {
		var firstErr error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}
	for _, nc := range c.Networks {
		spec, err := nc.Spec()
		if err != nil {
			_ = closeAll()
			return nil, nil, err
		}
		if decorate != nil {
			decorate(&spec)
		}
		n, closeFn, err := registry.Open(ctx, spec, usage)
		if err != nil {
			_ = closeAll()
			return nil, nil, fmt.Errorf("config: open network %s: %w", nc.ID, err)
		}
		nets = append(nets, n)
		if closeFn != nil {
			closers = append(closers, closeFn)
		}
	}
	return nets, closeAll, nil
}
