package engine

import "sync"

// triggerSignal carries drain requests to the Run loop.
//
// The channel has a buffer of one: any number of Fire calls between two
// receives coalesce into a single pending pass. This is what turns a burst
// of triggers during a pass into exactly one follow-up pass.
type triggerSignal struct {
	mu     sync.Mutex
	closed bool
	ch     chan struct{}
}

func newTriggerSignal() *triggerSignal {
	return &triggerSignal{ch: make(chan struct{}, 1)}
}

// Fire requests a pass. Non-blocking; returns false once closed.
func (s *triggerSignal) Fire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	select {
	case s.ch <- struct{}{}:
	default:
	}
	return true
}

// Wait returns the channel to select on. It is closed by Close.
func (s *triggerSignal) Wait() <-chan struct{} {
	return s.ch
}

// Close wakes the Run loop for shutdown. Further Fire calls are dropped.
func (s *triggerSignal) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
