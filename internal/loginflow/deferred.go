package loginflow

import "sync"

// deferredURL is a single-assignment value with attached continuations.
// Subscribers registered before the value is resolved are invoked on
// resolution; subscribers registered after are invoked immediately.
// Closing the deferred drops all pending continuations, so nothing fires
// after the owning flow has been torn down.
type deferredURL struct {
	mu       sync.Mutex
	resolved bool
	closed   bool
	value    string
	waiters  []func(string)
}

// subscribe registers cb to run with the resolved value. If the value is
// already available, cb runs synchronously before subscribe returns. After
// close, subscribe is a no-op.
func (d *deferredURL) subscribe(cb func(string)) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	if d.resolved {
		value := d.value
		d.mu.Unlock()
		cb(value)
		return
	}
	d.waiters = append(d.waiters, cb)
	d.mu.Unlock()
}

// resolve sets the value and runs all pending continuations in registration
// order. Only the first resolve has any effect.
func (d *deferredURL) resolve(value string) {
	d.mu.Lock()
	if d.resolved || d.closed {
		d.mu.Unlock()
		return
	}
	d.resolved = true
	d.value = value
	waiters := d.waiters
	d.waiters = nil
	d.mu.Unlock()

	for _, cb := range waiters {
		cb(value)
	}
}

// get returns the value and whether it has been resolved.
func (d *deferredURL) get() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.value, d.resolved && !d.closed
}

// close invalidates the deferred: pending continuations are dropped and
// future subscribes do nothing.
func (d *deferredURL) close() {
	d.mu.Lock()
	d.closed = true
	d.waiters = nil
	d.mu.Unlock()
}
