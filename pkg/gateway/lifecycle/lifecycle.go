// Package lifecycle tracks whether the process is draining so handlers
// can stop accepting new calls during graceful shutdown.
package lifecycle

import "sync/atomic"

// Lifecycle is shared by the readiness endpoint and the media stream
// handler. A nil Lifecycle never drains.
type Lifecycle struct {
	draining atomic.Bool
}

// StartDraining marks the process as shutting down. New call offers are
// refused from this point on; live calls are allowed to finish.
func (l *Lifecycle) StartDraining() {
	if l == nil {
		return
	}
	l.draining.Store(true)
}

func (l *Lifecycle) Draining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}
