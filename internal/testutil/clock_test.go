package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeClock_StartsAtEpoch(t *testing.T) {
	clock := NewFakeClock(time.Time{})
	assert.True(t, Epoch.Equal(clock.Now()))
}

func TestFakeClock_Advance(t *testing.T) {
	clock := NewFakeClock(Epoch)

	got := clock.Advance(1500 * time.Millisecond)
	assert.Equal(t, Epoch.Add(1500*time.Millisecond), got)
	assert.Equal(t, got, clock.Now())

	// Never runs backwards
	clock.Advance(-time.Hour)
	assert.Equal(t, got, clock.Now())
}

func TestFakeClock_Set(t *testing.T) {
	clock := NewFakeClock(Epoch)
	target := Epoch.Add(24 * time.Hour)

	clock.Set(target)
	assert.Equal(t, target, clock.Now())
}

func TestFakeClock_ThreadSafety(t *testing.T) {
	clock := NewFakeClock(Epoch)

	const goroutines = 50
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clock.Advance(time.Millisecond)
			_ = clock.Now()
		}()
	}
	wg.Wait()

	assert.Equal(t, Epoch.Add(goroutines*time.Millisecond), clock.Now())
}

func TestSequentialKeyGenerator(t *testing.T) {
	gen := NewSequentialKeyGenerator("idem")
	assert.Equal(t, "idem-1", gen.Generate())
	assert.Equal(t, "idem-2", gen.Generate())

	assert.Equal(t, "key-1", NewSequentialKeyGenerator("").Generate())
}
