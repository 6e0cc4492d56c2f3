package dispatch

import (
	"bytes"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coffersTech/grandoutput/internal/model"
)

// switchStrategy is opened or closed by the test.
type switchStrategy struct {
	closed atomic.Bool
}

func (s *switchStrategy) Initialize(Queue) {}
func (s *switchStrategy) IsOpened() bool   { return !s.closed.Load() }

// recorder releases its lock from Dispatch, like the route receivers do.
type recorder struct {
	mu       sync.Mutex
	got      []int
	released atomic.Int64
	gate     chan struct{}
}

func (r *recorder) Dispatch(ev *model.Event) {
	defer r.Release()
	if r.gate != nil {
		<-r.gate
	}
	n, _ := strconv.Atoi(ev.Topic)
	r.mu.Lock()
	r.got = append(r.got, n)
	r.mu.Unlock()
}

func (r *recorder) Release() { r.released.Add(1) }

func (r *recorder) order() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.got...)
}

func event(i int) *model.Event {
	return &model.Event{Topic: strconv.Itoa(i)}
}

func TestDispatcher_FIFO(t *testing.T) {
	d, err := New(&switchStrategy{})
	require.NoError(t, err)

	const n = 1000
	rec := &recorder{}
	for i := 0; i < n; i++ {
		require.True(t, d.Enqueue(rec, event(i)))
	}
	require.NoError(t, d.Close())

	want := make([]int, n)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, rec.order())
	assert.Equal(t, int64(n), rec.released.Load())
	assert.Equal(t, uint64(n), d.Dispatched())
	assert.Zero(t, d.Dropped())
	assert.Zero(t, d.Depth())
}

func TestDispatcher_ConcurrentProducers(t *testing.T) {
	d, err := New(nil)
	require.NoError(t, err)

	rec := &recorder{}
	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				d.Enqueue(rec, event(i))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, d.Close())
	assert.Len(t, rec.order(), 1600)
	assert.Equal(t, int64(1600), rec.released.Load())
}

func TestDispatcher_ClosedStrategyDropsAndReopens(t *testing.T) {
	reg := prometheus.NewRegistry()
	strategy := &switchStrategy{}
	d, err := New(strategy, WithRegisterer(reg))
	require.NoError(t, err)

	rec := &recorder{gate: make(chan struct{})}
	for i := 0; i < 5; i++ {
		require.True(t, d.Enqueue(rec, event(i)))
	}

	strategy.closed.Store(true)
	for i := 5; i < 8; i++ {
		assert.False(t, d.Enqueue(rec, event(i)))
	}
	// Rejected events are released right away.
	assert.Equal(t, int64(3), rec.released.Load())
	assert.Equal(t, uint64(3), d.Dropped())
	assert.Equal(t, 3.0, counterValue(t, reg, "grandoutput_dispatcher_dropped_total"))

	strategy.closed.Store(false)
	require.True(t, d.Enqueue(rec, event(8)))
	require.True(t, d.Enqueue(rec, event(9)))

	close(rec.gate)
	require.NoError(t, d.Close())
	assert.Equal(t, []int{0, 1, 2, 3, 4, 8, 9}, rec.order())
	assert.Equal(t, int64(10), rec.released.Load())
	assert.Equal(t, uint64(7), d.Dispatched())
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestDispatcher_EnqueueAfterClose(t *testing.T) {
	d, err := New(nil)
	require.NoError(t, err)
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())

	rec := &recorder{}
	assert.False(t, d.Enqueue(rec, event(1)))
	assert.Equal(t, int64(1), rec.released.Load())
	assert.Empty(t, rec.order())
}

type panicReceiver struct{ released atomic.Int64 }

func (p *panicReceiver) Dispatch(*model.Event) {
	defer p.Release()
	panic("boom")
}

func (p *panicReceiver) Release() { p.released.Add(1) }

func TestDispatcher_ReceiverPanicKeepsRunning(t *testing.T) {
	var buf bytes.Buffer
	d, err := New(nil, WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	require.NoError(t, err)

	bad := &panicReceiver{}
	rec := &recorder{}
	d.Enqueue(bad, event(0))
	d.Enqueue(rec, event(1))
	require.NoError(t, d.Close())

	assert.Equal(t, int64(1), bad.released.Load())
	assert.Equal(t, []int{1}, rec.order())
	assert.Contains(t, buf.String(), "receiver panicked")
}

func TestDispatcher_LostEventsReport(t *testing.T) {
	var buf bytes.Buffer
	strategy := &switchStrategy{}
	strategy.closed.Store(true)
	d, err := New(strategy,
		WithLogger(slog.New(slog.NewTextHandler(&buf, nil))),
		WithLostEventsCooldown(time.Hour))
	require.NoError(t, err)

	rec := &recorder{}
	for i := 0; i < 3; i++ {
		d.Enqueue(rec, event(i))
	}
	// The first drop is reported immediately, the others wait for the
	// cooldown or for Close.
	assert.Contains(t, buf.String(), "count=1")
	assert.NotContains(t, buf.String(), "count=2")

	require.NoError(t, d.Close())
	assert.Contains(t, buf.String(), "count=2")
}

func TestDispatcher_MetricsRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, err := NewBasicStrategy(10, 5, 1)
	require.NoError(t, err)
	d, err := New(s, WithRegisterer(reg))
	require.NoError(t, err)
	defer d.Close()

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "grandoutput_dispatcher_dropped_total")
	assert.Contains(t, names, "grandoutput_dispatcher_ignored_concurrent_samplings_total")

	// A second dispatcher on the same registry is refused.
	_, err = New(nil, WithRegisterer(reg))
	assert.Error(t, err)
}
