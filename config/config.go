// Package config loads the YAML configuration of a splitcache node.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

type NodeConfig struct {
	ID     string `yaml:"id"`
	Listen string `yaml:"listen"`
}

type ClusterConfig struct {
	// Members maps node IDs to the base URL of their HTTP endpoint.
	Members map[string]string `yaml:"members"`
	// Expected lists the members whose absence puts the node in degraded mode.
	// Empty means every configured member.
	Expected []string `yaml:"expected"`
	Owners   int      `yaml:"owners"`
	VNodes   int      `yaml:"vnodes"`
}

type ProbeConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
	Failures int           `yaml:"failures"`
}

type RPCConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	MaxBody int64         `yaml:"max-body"`
}

type RistrettoConfig struct {
	NumCounters int64 `yaml:"num-counters"`
	MaxCost     int64 `yaml:"max-cost"`
	BufferItems int64 `yaml:"buffer-items"`
}

type BigcacheConfig struct {
	LifeWindow         time.Duration `yaml:"life-window"`
	Shards             int           `yaml:"shards"`
	HardMaxCacheSizeMB int           `yaml:"hard-max-cache-size-mb"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type StoreConfig struct {
	Backend    string          `yaml:"backend"` // ristretto | bigcache | redis
	Namespace  string          `yaml:"namespace"`
	DefaultTTL time.Duration   `yaml:"default-ttl"`
	StagingTTL time.Duration   `yaml:"staging-ttl"`
	Ristretto  RistrettoConfig `yaml:"ristretto"`
	Bigcache   BigcacheConfig  `yaml:"bigcache"`
	Redis      RedisConfig     `yaml:"redis"`
}

type TxStoreConfig struct {
	Backend   string        `yaml:"backend"` // local | redis
	Retention time.Duration `yaml:"retention"`
	Redis     RedisConfig   `yaml:"redis"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | console
}

type Config struct {
	Node    NodeConfig    `yaml:"node"`
	Cluster ClusterConfig `yaml:"cluster"`
	Probe   ProbeConfig   `yaml:"probe"`
	RPC     RPCConfig     `yaml:"rpc"`
	Store   StoreConfig   `yaml:"store"`
	TxStore TxStoreConfig `yaml:"txstore"`
	Log     LogConfig     `yaml:"log"`
}

var ErrInvalid = errors.New("config: invalid")

var envRef = regexp.MustCompile(`\${([^}]+)}`)
var envName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ExpandEnvStrict replaces ${NAME} references, failing on any that is unset or malformed.
func ExpandEnvStrict(s string) (string, error) {
	for _, m := range envRef.FindAllStringSubmatch(s, -1) {
		name := m[1]
		if !envName.MatchString(name) {
			return "", fmt.Errorf("invalid environment reference ${%s}", name)
		}
		if _, ok := os.LookupEnv(name); !ok {
			return "", fmt.Errorf("environment variable %s is not set", name)
		}
	}
	return os.ExpandEnv(s), nil
}

// Load reads, expands, parses, defaults and validates the file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Config, error) {
	expanded, err := ExpandEnvStrict(string(raw))
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	c.Node.Listen = coalesce(c.Node.Listen, ":7070")
	c.Cluster.Owners = coalesce(c.Cluster.Owners, 2)
	c.Cluster.VNodes = coalesce(c.Cluster.VNodes, 64)
	c.Probe.Interval = coalesce(c.Probe.Interval, time.Second)
	c.Probe.Timeout = coalesce(c.Probe.Timeout, 500*time.Millisecond)
	c.Probe.Failures = coalesce(c.Probe.Failures, 2)
	c.RPC.Timeout = coalesce(c.RPC.Timeout, 2*time.Second)
	c.Store.Backend = coalesce(c.Store.Backend, "ristretto")
	c.Store.Namespace = coalesce(c.Store.Namespace, "splitcache")
	c.Store.StagingTTL = coalesce(c.Store.StagingTTL, 10*time.Minute)
	c.Store.Ristretto.NumCounters = coalesce(c.Store.Ristretto.NumCounters, 1e6)
	c.Store.Ristretto.MaxCost = coalesce(c.Store.Ristretto.MaxCost, 64<<20)
	c.Store.Ristretto.BufferItems = coalesce(c.Store.Ristretto.BufferItems, 64)
	c.Store.Bigcache.LifeWindow = coalesce(c.Store.Bigcache.LifeWindow, 10*time.Minute)
	c.TxStore.Backend = coalesce(c.TxStore.Backend, "local")
	c.TxStore.Retention = coalesce(c.TxStore.Retention, time.Hour)
	c.Log.Level = coalesce(c.Log.Level, "info")
	c.Log.Format = coalesce(c.Log.Format, "json")
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.Node.ID == "" {
		bad("node.id is required")
	}
	if len(c.Cluster.Members) == 0 {
		bad("cluster.members is empty")
	} else if _, ok := c.Cluster.Members[c.Node.ID]; c.Node.ID != "" && !ok {
		bad("node %q is not listed in cluster.members", c.Node.ID)
	}
	for id, u := range c.Cluster.Members {
		if id == "" || u == "" {
			bad("cluster.members entry %q=%q is incomplete", id, u)
		}
	}
	for _, id := range c.Cluster.Expected {
		if _, ok := c.Cluster.Members[id]; !ok {
			bad("expected member %q is not in cluster.members", id)
		}
	}
	if c.Cluster.Owners < 1 {
		bad("cluster.owners must be positive")
	}
	if c.Probe.Failures < 1 {
		bad("probe.failures must be positive")
	}

	switch c.Store.Backend {
	case "ristretto", "bigcache":
	case "redis":
		if c.Store.Redis.Addr == "" {
			bad("store.redis.addr is required for the redis backend")
		}
	default:
		bad("unknown store.backend %q", c.Store.Backend)
	}
	switch c.TxStore.Backend {
	case "local":
	case "redis":
		if c.TxStore.Redis.Addr == "" {
			bad("txstore.redis.addr is required for the redis backend")
		}
	default:
		bad("unknown txstore.backend %q", c.TxStore.Backend)
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Log.Level) {
		bad("unknown log.level %q", c.Log.Level)
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		bad("unknown log.format %q", c.Log.Format)
	}
	return errors.Join(errs...)
}

// ExpectedMembers returns cluster.expected, or every member when it is empty.
func (c *Config) ExpectedMembers() []string {
	if len(c.Cluster.Expected) > 0 {
		return slices.Clone(c.Cluster.Expected)
	}
	ids := make([]string, 0, len(c.Cluster.Members))
	for id := range c.Cluster.Members {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Peers returns every member but this node.
func (c *Config) Peers() map[string]string {
	out := make(map[string]string, len(c.Cluster.Members))
	for id, u := range c.Cluster.Members {
		if id != c.Node.ID {
			out[id] = u
		}
	}
	return out
}

func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
