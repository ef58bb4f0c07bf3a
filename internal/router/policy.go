package router

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"
)

// Strategy is how a read is served.
type Strategy string

const (
	// CacheFirst serves a fresh cache entry without touching the network.
	// For static and immutable assets.
	CacheFirst Strategy = "cache-first"

	// NetworkFirst tries the network with the read timeout and falls back
	// to the cache on transport failure. For API reads.
	NetworkFirst Strategy = "network-first"

	// NetworkOnly never caches.
	NetworkOnly Strategy = "network-only"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case CacheFirst, NetworkFirst, NetworkOnly:
		return true
	}
	return false
}

// Cached reports whether responses under s are written to the cache.
func (s Strategy) Cached() bool {
	return s == CacheFirst || s == NetworkFirst
}

// Rule maps a URL path pattern to a strategy and TTL.
//
// A Pattern ending in "/" matches every path with that prefix. Any other
// pattern is matched against the whole path with path.Match, so "*" does
// not cross "/".
type Rule struct {
	Pattern  string
	Strategy Strategy
	TTL      time.Duration
}

// Match reports whether the rule applies to p.
func (r Rule) Match(p string) bool {
	if strings.HasSuffix(r.Pattern, "/") {
		return strings.HasPrefix(p, r.Pattern)
	}
	ok, err := path.Match(r.Pattern, p)
	return err == nil && ok
}

// Policy is an ordered rule table. The first matching rule wins.
type Policy struct {
	rules []Rule
}

// defaultRule applies when no rule matches.
var defaultRule = Rule{Pattern: "", Strategy: NetworkOnly}

// NewPolicy validates rules and builds a Policy.
func NewPolicy(rules ...Rule) (Policy, error) {
	for i, r := range rules {
		if r.Pattern == "" {
			return Policy{}, fmt.Errorf("rule %d: empty pattern", i)
		}
		if !strings.HasSuffix(r.Pattern, "/") {
			if _, err := path.Match(r.Pattern, ""); err != nil {
				return Policy{}, fmt.Errorf("rule %d: pattern %q: %w", i, r.Pattern, err)
			}
		}
		if !r.Strategy.Valid() {
			return Policy{}, fmt.Errorf("rule %d: unknown strategy %q", i, r.Strategy)
		}
		if r.Strategy.Cached() && r.TTL <= 0 {
			return Policy{}, fmt.Errorf("rule %d: %s requires a positive ttl", i, r.Strategy)
		}
	}
	return Policy{rules: append([]Rule(nil), rules...)}, nil
}

// MustPolicy is like NewPolicy but panics on error.
// Use only in tests or with literal rule tables.
func MustPolicy(rules ...Rule) Policy {
	p, err := NewPolicy(rules...)
	if err != nil {
		panic(err)
	}
	return p
}

// Rules returns a copy of the rule table.
func (p Policy) Rules() []Rule {
	return append([]Rule(nil), p.rules...)
}

// Resolve returns the rule for a request. Writes and unmatched paths get
// the network-only default.
func (p Policy) Resolve(method, rawURL string) Rule {
	if !isRead(method) {
		return defaultRule
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return defaultRule
	}
	target := u.Path
	if target == "" {
		target = "/"
	}
	for _, r := range p.rules {
		if r.Match(target) {
			return r
		}
	}
	return defaultRule
}
