package testutil

import (
	"fmt"
	"sync"
)

// SequentialKeyGenerator generates predictable idempotency keys:
// "<prefix>-1", "<prefix>-2", ...
//
// This enables golden comparison of replayed request headers.
//
// Thread-safety: safe for concurrent use via internal mutex.
type SequentialKeyGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialKeyGenerator creates a generator. An empty prefix means "key".
func NewSequentialKeyGenerator(prefix string) *SequentialKeyGenerator {
	if prefix == "" {
		prefix = "key"
	}
	return &SequentialKeyGenerator{prefix: prefix}
}

// Generate returns the next key.
func (g *SequentialKeyGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
