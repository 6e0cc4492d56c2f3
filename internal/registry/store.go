// Package registry tracks the monitors producing through the ingest
// endpoint.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/coffersTech/grandoutput/internal/model"
)

// Monitor is a monitor seen by the ingest endpoint.
type Monitor struct {
	ID     string `json:"id"`
	Topic  string `json:"topic"`
	Remote string `json:"remote"`
	// Depth is the number of groups open after the last entry.
	Depth         int    `json:"depth"`
	Entries       uint64 `json:"entries"`
	LastEntryTime int64  `json:"last_entry_time"`
	FirstSeenAt   int64  `json:"first_seen_at"`
	LastSeenAt    int64  `json:"last_seen_at"`
}

// Store holds the live monitors.
type Store struct {
	mu       sync.RWMutex
	monitors map[model.MonitorID]*Monitor
	now      func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		monitors: make(map[model.MonitorID]*Monitor),
		now:      time.Now,
	}
}

// Observe records an entry accepted for topic from remote.
func (s *Store) Observe(topic, remote string, e *model.Entry) {
	now := s.now().Unix()
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.monitors[e.MonitorID]
	if !ok {
		m = &Monitor{ID: e.MonitorID.String(), FirstSeenAt: now}
		s.monitors[e.MonitorID] = m
	}
	m.Topic = topic
	m.Remote = remote
	m.Entries++
	m.LastSeenAt = now
	if int64(e.Time) > m.LastEntryTime {
		m.LastEntryTime = int64(e.Time)
		m.Depth = e.Depth
		if e.Type == model.EntryOpenGroup {
			m.Depth++
		}
	}
}

// Get returns a copy of a monitor.
func (s *Store) Get(id model.MonitorID) (Monitor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.monitors[id]
	if !ok {
		return Monitor{}, false
	}
	return *m, true
}

// List returns the monitors, most recently seen first.
func (s *Store) List() []Monitor {
	s.mu.RLock()
	list := make([]Monitor, 0, len(s.monitors))
	for _, m := range s.monitors {
		list = append(list, *m)
	}
	s.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool {
		if list[i].LastSeenAt != list[j].LastSeenAt {
			return list[i].LastSeenAt > list[j].LastSeenAt
		}
		return list[i].ID < list[j].ID
	})
	return list
}

// PruneStale removes the monitors not seen for timeout.
func (s *Store) PruneStale(timeout time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().Unix()
	timeoutSec := int64(timeout.Seconds())
	count := 0
	for id, m := range s.monitors {
		if now-m.LastSeenAt > timeoutSec {
			delete(s.monitors, id)
			count++
		}
	}
	return count
}

// StartCleanupLoop prunes stale monitors every interval until ctx is done.
func (s *Store) StartCleanupLoop(ctx context.Context, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.PruneStale(timeout)
			case <-ctx.Done():
				return
			}
		}
	}()
}
