package dispatch

import (
	"fmt"
	"sync/atomic"
)

// Default BasicStrategy settings.
const (
	DefaultMaxCapacity      = 10000
	DefaultReenableCapacity = 500
	DefaultSamplingCount    = 32
)

// Queue exposes the dispatcher state a strategy can observe.
type Queue interface {
	Depth() int
}

// Strategy is the admission control of a dispatcher. IsOpened is called
// once per Enqueue, concurrently, and must not block.
type Strategy interface {
	Initialize(q Queue)
	IsOpened() bool
}

type alwaysOpen struct{}

func (alwaysOpen) Initialize(Queue) {}
func (alwaysOpen) IsOpened() bool   { return true }

// BasicStrategy closes the queue when its depth exceeds MaxCapacity and
// opens it again when the depth falls below ReenableCapacity. The depth is
// only sampled every SamplingCount calls.
type BasicStrategy struct {
	maxCapacity      int
	reenableCapacity int
	samplingCount    uint64

	q        Queue
	calls    atomic.Uint64
	sampling atomic.Bool
	closed   atomic.Bool
	ignored  atomic.Uint64
}

// NewBasicStrategy validates the thresholds. reenableCapacity must be
// lower than maxCapacity.
func NewBasicStrategy(maxCapacity, reenableCapacity, samplingCount int) (*BasicStrategy, error) {
	if maxCapacity <= 0 {
		return nil, fmt.Errorf("max capacity must be positive, got %d", maxCapacity)
	}
	if reenableCapacity < 0 || reenableCapacity >= maxCapacity {
		return nil, fmt.Errorf("reenable capacity %d must be in [0, %d)", reenableCapacity, maxCapacity)
	}
	if samplingCount <= 0 {
		return nil, fmt.Errorf("sampling count must be positive, got %d", samplingCount)
	}
	return &BasicStrategy{
		maxCapacity:      maxCapacity,
		reenableCapacity: reenableCapacity,
		samplingCount:    uint64(samplingCount),
	}, nil
}

func (s *BasicStrategy) Initialize(q Queue) {
	s.q = q
}

func (s *BasicStrategy) IsOpened() bool {
	if s.calls.Add(1)%s.samplingCount != 0 {
		return !s.closed.Load()
	}
	if !s.sampling.CompareAndSwap(false, true) {
		s.ignored.Add(1)
		return !s.closed.Load()
	}
	defer s.sampling.Store(false)

	depth := s.q.Depth()
	if s.closed.Load() {
		if depth < s.reenableCapacity {
			s.closed.Store(false)
		}
	} else if depth > s.maxCapacity {
		s.closed.Store(true)
	}
	return !s.closed.Load()
}

// IgnoredConcurrentCalls returns how many samplings were skipped because
// another caller was already sampling.
func (s *BasicStrategy) IgnoredConcurrentCalls() uint64 {
	return s.ignored.Load()
}
