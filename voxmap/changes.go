package voxmap

import "sync"

// ChangeTracker records the keys whose stored value changed during the
// current detection cycle.
type ChangeTracker struct {
	mu      sync.Mutex
	armed   bool
	changed KeySet
}

// NewChangeTracker returns an armed tracker.
func NewChangeTracker() *ChangeTracker {
	return &ChangeTracker{armed: true, changed: make(KeySet)}
}

// BeginCycle discards anything recorded so far and arms recording.
func (t *ChangeTracker) BeginCycle() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.changed = make(KeySet)
	t.armed = true
}

// Disarm stops recording until the next BeginCycle.
func (t *ChangeTracker) Disarm() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.armed = false
}

// Record adds k to the active change set. No-op when disarmed.
func (t *ChangeTracker) Record(k Key) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.armed {
		return
	}
	t.changed[k] = struct{}{}
}

// Drain returns every key recorded since the cycle began and starts the
// next cycle.
func (t *ChangeTracker) Drain() KeySet {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.changed
	t.changed = make(KeySet)
	t.armed = true
	return out
}

// Pending returns how many keys are currently recorded.
func (t *ChangeTracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.changed)
}
