package handler

import (
	"sync"
	"sync/atomic"
)

// ConfigurationLock counts the events committed to a route tree. Every
// successful TryLock must be matched by exactly one Unlock.
type ConfigurationLock struct {
	mu       sync.RWMutex
	closed   bool
	wg       sync.WaitGroup
	inFlight atomic.Int64
}

// TryLock registers one more in-flight event. It fails once CloseAndWait
// was called.
func (l *ConfigurationLock) TryLock() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return false
	}
	l.wg.Add(1)
	l.inFlight.Add(1)
	return true
}

// Unlock releases one in-flight event.
func (l *ConfigurationLock) Unlock() {
	if l.inFlight.Add(-1) < 0 {
		panic("handler: configuration lock released more than acquired")
	}
	l.wg.Done()
}

// CloseAndWait refuses new locks and waits until every in-flight event is
// released.
func (l *ConfigurationLock) CloseAndWait() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.wg.Wait()
}

// InFlight returns the number of events currently holding the lock.
func (l *ConfigurationLock) InFlight() int64 {
	return l.inFlight.Load()
}
