package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/offsync/internal/engine"
	"github.com/roach88/offsync/internal/router"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 30*time.Second, cfg.Sync.Interval.D())
	assert.Equal(t, 3, cfg.Sync.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Sync.ItemDelay.D())
	assert.Zero(t, cfg.Sync.RetryBackoff)
	assert.True(t, cfg.Sync.IdempotencyKeys)
	assert.Equal(t, "hold", cfg.Sync.AuthPolicy)
	assert.Equal(t, 3*time.Second, cfg.Routing.ReadTimeout.D())
}

func TestLoad_YAML(t *testing.T) {
	cfg, err := Load("testdata/offsync.yaml")
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com/v1/", cfg.APIBaseURL)
	assert.Equal(t, "/var/lib/offsync/state.db", cfg.StorePath)
	assert.Equal(t, time.Minute, cfg.Sync.Interval.D())
	assert.Equal(t, 5, cfg.Sync.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.Sync.ItemDelay.D())
	assert.Equal(t, "drop", cfg.Sync.AuthPolicy)
	assert.True(t, cfg.Sync.IdempotencyKeys, "unset fields keep defaults")
	assert.Equal(t, "OFFSYNC_TOKEN", cfg.Credential.Env)

	assert.Equal(t, engine.RetryPolicy{MaxRetries: 5, Backoff: 2 * time.Second}, cfg.RetryPolicy())

	p, err := cfg.RoutingPolicy()
	require.NoError(t, err)
	r := p.Resolve("GET", "https://api.example.com/v1/users/7")
	assert.Equal(t, router.NetworkFirst, r.Strategy)
	assert.Equal(t, 5*time.Minute, r.TTL)
	assert.Equal(t, router.CacheFirst, p.Resolve("GET", "https://cdn.example.com/static/a.js").Strategy)
}

func TestLoad_TOML(t *testing.T) {
	cfg, err := Load("testdata/offsync.toml")
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Sync.Interval.D())
	assert.False(t, cfg.Sync.IdempotencyKeys)
	assert.Equal(t, 3, cfg.Sync.MaxRetries)
	require.Len(t, cfg.Routing.Rules, 1)
	assert.Equal(t, 10*time.Minute, cfg.Routing.Rules[0].TTL.D())
	assert.Equal(t, "wss://push.example.com/stream", cfg.Push.StreamURL)
	assert.Equal(t, []string{"xdg-open"}, cfg.Push.Opener)
	assert.Empty(t, cfg.Control.Addr)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		return p
	}

	tests := []struct {
		name string
		path string
		want string
	}{
		{"missing file", filepath.Join(dir, "nope.yaml"), "read config"},
		{"bad extension", write("c.json", `{}`), "unsupported extension"},
		{"unknown yaml key", write("a.yaml", "sync:\n  intervl: 1s\n"), "intervl"},
		{"unknown toml key", write("b.toml", "[sync]\nintervl = \"1s\"\n"), "parse toml"},
		{"bad duration", write("d.yaml", "sync:\n  interval: soon\n"), "parse yaml"},
		{"negative duration", write("e.yaml", "sync:\n  item_delay: -1s\n"), "config schema"},
		{"bad strategy", write("f.yaml", "routing:\n  rules:\n    - {pattern: /a, strategy: swr, ttl: 1s}\n"), "config schema"},
		{"zero retries", write("g.yaml", "sync:\n  max_retries: 0\n"), "config schema"},
		{"bad auth policy", write("h.toml", "[sync]\nauth_policy = \"retry\"\n"), "config schema"},
		{"relative base url", write("i.yaml", "api_base_url: /api\n"), "config schema"},
		{"cached rule without ttl", write("j.yaml", "routing:\n  rules:\n    - {pattern: /a, strategy: cache-first, ttl: 0s}\n"), "routing"},
		{"bad glob", write("k.yaml", "routing:\n  rules:\n    - {pattern: \"/a[\", strategy: network-only, ttl: 0s}\n"), "routing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseYAML_Empty(t *testing.T) {
	cfg, err := ParseYAML(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseYAML_NullRules(t *testing.T) {
	cfg, err := ParseYAML([]byte("routing:\n  rules:\n"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Routing.Rules)
}

func TestProbeURL(t *testing.T) {
	cfg := Default()
	assert.Empty(t, cfg.ProbeURL())

	cfg.APIBaseURL = "https://api.example.com/v1/"
	assert.Equal(t, "https://api.example.com/", cfg.ProbeURL())

	cfg.Connectivity.ProbePath = "health"
	assert.Equal(t, "https://api.example.com/v1/health", cfg.ProbeURL())

	cfg.Connectivity.ProbePath = ""
	assert.Empty(t, cfg.ProbeURL(), "empty probe path disables probing")
}

func TestDuration_Text(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte(" 1m30s ")))
	assert.Equal(t, 90*time.Second, d.D())
	b, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(b))
	require.Error(t, d.UnmarshalText([]byte("90")))
}
