package registry

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coffersTech/grandoutput/internal/model"
)

func TestStore_Observe(t *testing.T) {
	s := NewStore()
	id := model.NewMonitorID()

	s.Observe("jobs", "10.0.0.1", &model.Entry{MonitorID: id, Type: model.EntryOpenGroup, Time: 10, Depth: 0})
	s.Observe("jobs", "10.0.0.1", &model.Entry{MonitorID: id, Type: model.EntryLine, Time: 11, Depth: 1})
	// A late entry does not move the depth back.
	s.Observe("jobs", "10.0.0.2", &model.Entry{MonitorID: id, Type: model.EntryLine, Time: 5, Depth: 0})

	m, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, id.String(), m.ID)
	assert.Equal(t, uint64(3), m.Entries)
	assert.Equal(t, 1, m.Depth)
	assert.Equal(t, int64(11), m.LastEntryTime)
	assert.Equal(t, "10.0.0.2", m.Remote)

	_, ok = s.Get(model.NewMonitorID())
	assert.False(t, ok)
}

func TestStore_Cleanup(t *testing.T) {
	s := NewStore()
	var now atomic.Int64
	now.Store(time.Now().Add(-20 * time.Minute).Unix())
	s.now = func() time.Time { return time.Unix(now.Load(), 0) }

	stale, fresh := model.NewMonitorID(), model.NewMonitorID()
	s.Observe("a", "", &model.Entry{MonitorID: stale, Type: model.EntryLine, Time: 1})
	now.Store(time.Now().Unix())
	s.Observe("b", "", &model.Entry{MonitorID: fresh, Type: model.EntryLine, Time: 1})
	require.Len(t, s.List(), 2)
	assert.Equal(t, fresh.String(), s.List()[0].ID, "most recent first")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.StartCleanupLoop(ctx, 10*time.Millisecond, 10*time.Minute)

	assert.Eventually(t, func() bool {
		_, ok := s.Get(stale)
		return !ok
	}, time.Second, 10*time.Millisecond)
	_, ok := s.Get(fresh)
	assert.True(t, ok)
}
