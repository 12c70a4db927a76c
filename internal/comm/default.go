package comm

import "sync"

var (
	defaultMu   sync.RWMutex
	defaultComm Communicator
)

// SetDefault registers the process-wide communicator used when callers pass
// nil. Passing nil clears it.
func SetDefault(c Communicator) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultComm = c
}

// Default returns the registered communicator, or a single-rank group.
func Default() Communicator {
	defaultMu.RLock()
	c := defaultComm
	defaultMu.RUnlock()
	if c != nil {
		return c
	}
	return Self()
}

// Self returns a single-rank group.
func Self() Communicator {
	return NewLocalGroup(1)[0]
}

// Or returns c, or Default when c is nil.
func Or(c Communicator) Communicator {
	if c != nil {
		return c
	}
	return Default()
}
