// Package config loads offsync configuration from YAML or TOML files.
//
// Every file is decoded over Default(), so a file only names what it
// changes. Unknown keys are rejected. The decoded value is checked against
// an embedded CUE schema and then against the component constructors'
// own rules.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/roach88/offsync/internal/engine"
	"github.com/roach88/offsync/internal/router"
	"github.com/roach88/offsync/internal/status"
)

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

// D returns d as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config is the full offsync configuration.
type Config struct {
	APIBaseURL   string             `yaml:"api_base_url" toml:"api_base_url" json:"api_base_url"`
	StorePath    string             `yaml:"store_path" toml:"store_path" json:"store_path"`
	Sync         SyncConfig         `yaml:"sync" toml:"sync" json:"sync"`
	Routing      RoutingConfig      `yaml:"routing" toml:"routing" json:"routing"`
	Connectivity ConnectivityConfig `yaml:"connectivity" toml:"connectivity" json:"connectivity"`
	Push         PushConfig         `yaml:"push" toml:"push" json:"push"`
	Control      ControlConfig      `yaml:"control" toml:"control" json:"control"`
	Credential   CredentialConfig   `yaml:"credential" toml:"credential" json:"credential"`
}

// SyncConfig configures the replay engine.
type SyncConfig struct {
	Interval        Duration `yaml:"interval" toml:"interval" json:"interval"`
	MaxRetries      int      `yaml:"max_retries" toml:"max_retries" json:"max_retries"`
	ItemDelay       Duration `yaml:"item_delay" toml:"item_delay" json:"item_delay"`
	RetryBackoff    Duration `yaml:"retry_backoff" toml:"retry_backoff" json:"retry_backoff"`
	IdempotencyKeys bool     `yaml:"idempotency_keys" toml:"idempotency_keys" json:"idempotency_keys"`
	AuthPolicy      string   `yaml:"auth_policy" toml:"auth_policy" json:"auth_policy"`
	LeaseTTL        Duration `yaml:"lease_ttl" toml:"lease_ttl" json:"lease_ttl"`
}

// RoutingConfig configures read routing.
type RoutingConfig struct {
	ReadTimeout Duration     `yaml:"read_timeout" toml:"read_timeout" json:"read_timeout"`
	Rules       []RuleConfig `yaml:"rules" toml:"rules" json:"rules"`
}

// RuleConfig is one row of the per-resource TTL table.
type RuleConfig struct {
	Pattern  string   `yaml:"pattern" toml:"pattern" json:"pattern"`
	Strategy string   `yaml:"strategy" toml:"strategy" json:"strategy"`
	TTL      Duration `yaml:"ttl" toml:"ttl" json:"ttl"`
}

// ConnectivityConfig configures the online prober.
type ConnectivityConfig struct {
	ProbePath     string   `yaml:"probe_path" toml:"probe_path" json:"probe_path"`
	ProbeInterval Duration `yaml:"probe_interval" toml:"probe_interval" json:"probe_interval"`
	ProbeTimeout  Duration `yaml:"probe_timeout" toml:"probe_timeout" json:"probe_timeout"`
}

// PushConfig configures push delivery. Empty URLs disable the matching
// feature.
type PushConfig struct {
	SubscribeURL string   `yaml:"subscribe_url" toml:"subscribe_url" json:"subscribe_url"`
	StreamURL    string   `yaml:"stream_url" toml:"stream_url" json:"stream_url"`
	Opener       []string `yaml:"opener" toml:"opener" json:"opener"`
	AppURL       string   `yaml:"app_url" toml:"app_url" json:"app_url"`
}

// ControlConfig configures the local control API. An empty Addr disables
// it.
type ControlConfig struct {
	Addr string `yaml:"addr" toml:"addr" json:"addr"`
}

// CredentialConfig says where the current credential is read from.
// File wins over Env.
type CredentialConfig struct {
	Env  string `yaml:"env" toml:"env" json:"env"`
	File string `yaml:"file" toml:"file" json:"file"`
}

// Default returns the configuration used when a field is not set.
func Default() Config {
	return Config{
		StorePath: "offsync.db",
		Sync: SyncConfig{
			Interval:        Duration(engine.DefaultInterval),
			MaxRetries:      engine.DefaultMaxRetries,
			ItemDelay:       Duration(engine.DefaultItemDelay),
			IdempotencyKeys: true,
			AuthPolicy:      string(engine.AuthHold),
			LeaseTTL:        Duration(engine.DefaultLeaseTTL),
		},
		Routing: RoutingConfig{
			ReadTimeout: Duration(router.DefaultReadTimeout),
			Rules:       []RuleConfig{},
		},
		Connectivity: ConnectivityConfig{
			ProbePath:     "/",
			ProbeInterval: Duration(status.DefaultProbeInterval),
			ProbeTimeout:  Duration(status.DefaultProbeTimeout),
		},
		Push: PushConfig{
			Opener: []string{},
		},
		Control: ControlConfig{
			Addr: "127.0.0.1:7766",
		},
	}
}

// Load reads path, choosing the format by extension (.yaml, .yml, .toml),
// and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		cfg, err = ParseYAML(data)
	case ".toml":
		cfg, err = ParseTOML(data)
	default:
		return Config{}, fmt.Errorf("config %s: unsupported extension (want .yaml, .yml or .toml)", path)
	}
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// ParseYAML decodes and validates a YAML document.
func ParseYAML(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseTOML decodes and validates a TOML document.
func ParseTOML(data []byte) (Config, error) {
	cfg := Default()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse toml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cfg against the schema and the component rules.
func (c Config) Validate() error {
	if err := checkSchema(c); err != nil {
		return err
	}
	if c.APIBaseURL != "" {
		if _, err := c.BaseURL(); err != nil {
			return err
		}
	}
	if _, err := c.RoutingPolicy(); err != nil {
		return fmt.Errorf("routing: %w", err)
	}
	if err := c.RetryPolicy().Validate(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if _, err := engine.ParseAuthPolicy(c.Sync.AuthPolicy); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	return nil
}

// BaseURL parses APIBaseURL. Returns nil without error when unset.
func (c Config) BaseURL() (*url.URL, error) {
	if c.APIBaseURL == "" {
		return nil, nil
	}
	u, err := url.Parse(c.APIBaseURL)
	if err != nil {
		return nil, fmt.Errorf("api_base_url: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("api_base_url %q: must be an absolute URL", c.APIBaseURL)
	}
	return u, nil
}

// ProbeURL is the connectivity probe target, or "" when probing is off
// (no base URL or an empty probe_path).
func (c Config) ProbeURL() string {
	if c.Connectivity.ProbePath == "" {
		return ""
	}
	base, err := c.BaseURL()
	if err != nil || base == nil {
		return ""
	}
	ref, err := url.Parse(c.Connectivity.ProbePath)
	if err != nil {
		return base.String()
	}
	return base.ResolveReference(ref).String()
}

// RoutingPolicy builds the router policy from the rule table.
func (c Config) RoutingPolicy() (router.Policy, error) {
	rules := make([]router.Rule, 0, len(c.Routing.Rules))
	for _, r := range c.Routing.Rules {
		rules = append(rules, router.Rule{
			Pattern:  r.Pattern,
			Strategy: router.Strategy(r.Strategy),
			TTL:      r.TTL.D(),
		})
	}
	return router.NewPolicy(rules...)
}

// RetryPolicy returns the engine retry policy.
func (c Config) RetryPolicy() engine.RetryPolicy {
	return engine.RetryPolicy{
		MaxRetries: c.Sync.MaxRetries,
		Backoff:    c.Sync.RetryBackoff.D(),
	}
}
