package handler

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coffersTech/grandoutput/internal/action"
	"github.com/coffersTech/grandoutput/internal/dispatch"
	"github.com/coffersTech/grandoutput/internal/model"
	"github.com/coffersTech/grandoutput/internal/route"
)

// journal records handler activity across handlers, in order.
type journal struct {
	mu    sync.Mutex
	lines []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.lines = append(j.lines, fmt.Sprintf(format, args...))
}

func (j *journal) all() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.lines...)
}

type probeOptions struct {
	journal  *journal
	failInit bool
}

type probe struct {
	name string
	opts *probeOptions
}

func (p *probe) Initialize() error {
	if p.opts.failInit {
		return errors.New("init failed")
	}
	p.opts.journal.add("init %s", p.name)
	return nil
}

func (p *probe) Handle(ev *model.Event, sendToCommonSink bool) error {
	p.opts.journal.add("handle %s %s %t", p.name, ev.Topic, sendToCommonSink)
	return nil
}

func (p *probe) Close() error {
	p.opts.journal.add("close %s", p.name)
	return nil
}

func newProbeRegistry(t *testing.T, built *atomic.Int64) *Registry {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, reg.Register("probe", func(leaf *action.Leaf) (Handler, error) {
		if built != nil {
			built.Add(1)
		}
		return &probe{name: leaf.Name(), opts: leaf.Options.(*probeOptions)}, nil
	}))
	return reg
}

// manualQueue keeps events until the test drains it.
type manualQueue struct {
	mu    sync.Mutex
	items []queued
}

type queued struct {
	r  dispatch.Receiver
	ev *model.Event
}

func (q *manualQueue) Enqueue(r dispatch.Receiver, ev *model.Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, queued{r: r, ev: ev})
	return true
}

func (q *manualQueue) drain() {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()
	for _, it := range items {
		it.r.Dispatch(it.ev)
	}
}

func TestRegistry(t *testing.T) {
	reg := newProbeRegistry(t, nil)
	assert.Error(t, reg.Register("probe", func(*action.Leaf) (Handler, error) { return nil, nil }))
	assert.Error(t, reg.Register("", func(*action.Leaf) (Handler, error) { return nil, nil }))
	require.NoError(t, reg.Register("func", func(*action.Leaf) (Handler, error) {
		return Func(func(*model.Event, bool) error { return nil }), nil
	}))
	assert.Equal(t, []string{"func", "probe"}, reg.Kinds())

	_, err := reg.New(action.NewLeaf("x", "missing", nil))
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestConfigurationLock(t *testing.T) {
	var l ConfigurationLock
	require.True(t, l.TryLock())
	require.True(t, l.TryLock())
	assert.Equal(t, int64(2), l.InFlight())

	done := make(chan struct{})
	go func() {
		l.CloseAndWait()
		close(done)
	}()

	require.Eventually(t, func() bool { return !l.TryLock() }, time.Second, time.Millisecond)
	l.Unlock()
	select {
	case <-done:
		t.Fatal("CloseAndWait returned with an event in flight")
	case <-time.After(20 * time.Millisecond):
	}
	l.Unlock()
	<-done
	assert.Zero(t, l.InFlight())
	assert.Panics(t, func() { l.Unlock() })
}

func TestComposites(t *testing.T) {
	j := &journal{}
	ok := Func(func(ev *model.Event, _ bool) error {
		j.add("ok %s", ev.Topic)
		return nil
	})
	failing := Func(func(*model.Event, bool) error { return errors.New("failed") })
	panicking := Func(func(*model.Event, bool) error { panic("boom") })

	seq := &Sequence{Name: "s", Children: []Handler{failing, panicking, ok}}
	err := seq.Handle(&model.Event{Topic: "t"}, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, []string{"ok t"}, j.all())

	par := &Parallel{Name: "p", Children: []Handler{ok, ok, failing}}
	err = par.Handle(&model.Event{Topic: "u"}, false)
	assert.Error(t, err)
	assert.Len(t, j.all(), 3)
}

func TestFinalReceiver(t *testing.T) {
	j := &journal{}
	var lock ConfigurationLock
	require.True(t, lock.TryLock())

	r := &FinalReceiver{
		route: "root",
		common: Func(func(ev *model.Event, send bool) error {
			j.add("common %t", send)
			return nil
		}),
		handlers: []Handler{
			Func(func(*model.Event, bool) error { panic("boom") }),
			Func(func(ev *model.Event, send bool) error {
				j.add("route %t", send)
				return nil
			}),
		},
		lock:   &lock,
		logger: discardLogger(),
	}
	r.Dispatch(&model.Event{Topic: "t"})
	assert.Equal(t, []string{"common true", "route true"}, j.all())
	assert.Zero(t, lock.InFlight())
}

func probeConfig(j *journal, names ...string) *route.Configuration {
	cfg := route.New("root")
	for _, n := range names {
		cfg.AddAction(action.NewLeaf(n, "probe", &probeOptions{journal: j}))
	}
	return cfg
}

func TestHost_ApplyAndHandle(t *testing.T) {
	j := &journal{}
	q := &manualQueue{}
	host, err := NewHost(newProbeRegistry(t, nil), q, WithHostLogger(discardLogger()))
	require.NoError(t, err)
	assert.Nil(t, host.ObtainChannel("any"))

	require.NoError(t, host.Apply(probeConfig(j, "a", "b")))
	ch := host.ObtainChannel("any")
	require.NotNil(t, ch)
	assert.Same(t, ch, host.ObtainChannel("any"))
	require.True(t, ch.PreHandleLock())
	assert.True(t, ch.Handle(&model.Event{Topic: "any"}))
	q.drain()

	require.NoError(t, host.Close())
	assert.Equal(t, []string{
		"init a", "init b",
		"handle a any false", "handle b any false",
		"close b", "close a",
	}, j.all())
	assert.ErrorIs(t, host.Apply(probeConfig(j, "c")), ErrHostClosed)
}

func TestHost_SwapServesLockedEventsWithOldTree(t *testing.T) {
	oldJ, newJ := &journal{}, &journal{}
	q := &manualQueue{}
	host, err := NewHost(newProbeRegistry(t, nil), q, WithHostLogger(discardLogger()))
	require.NoError(t, err)
	require.NoError(t, host.Apply(probeConfig(oldJ, "old")))

	oldCh := host.ObtainChannel("t")
	require.True(t, oldCh.PreHandleLock())
	oldCh.Handle(&model.Event{Topic: "before"})

	applied := make(chan error, 1)
	go func() { applied <- host.Apply(probeConfig(newJ, "new")) }()

	// The new tree is published while the old one still waits for its
	// in-flight event.
	require.Eventually(t, func() bool { return host.ObtainChannel("t") != oldCh }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"init new"}, newJ.all())
	require.Eventually(t, func() bool {
		if oldCh.PreHandleLock() {
			oldCh.CancelPreHandleLock()
			return false
		}
		return true
	}, time.Second, time.Millisecond)
	select {
	case <-applied:
		t.Fatal("apply returned before the old tree drained")
	case <-time.After(20 * time.Millisecond):
	}

	newCh := host.ObtainChannel("t")
	require.True(t, newCh.PreHandleLock())
	newCh.Handle(&model.Event{Topic: "after"})

	q.drain()
	require.NoError(t, <-applied)
	assert.Equal(t, []string{"init old", "handle old before false", "close old"}, oldJ.all())
	assert.Equal(t, []string{"init new", "handle new after false"}, newJ.all())
	require.NoError(t, host.Close())
}

func TestHost_InvalidConfigurationKeepsPrevious(t *testing.T) {
	j := &journal{}
	host, err := NewHost(newProbeRegistry(t, nil), &manualQueue{}, WithHostLogger(discardLogger()))
	require.NoError(t, err)
	require.NoError(t, host.Apply(probeConfig(j, "a")))
	current := host.Current()

	bad := probeConfig(j, "b").UseAction("undeclared")
	assert.ErrorIs(t, host.Apply(bad), route.ErrUndeclaredAction)
	assert.Same(t, current, host.Current())

	unknownKind := route.New("root").AddAction(action.NewLeaf("x", "nope", nil))
	assert.ErrorIs(t, host.Apply(unknownKind), ErrUnknownKind)
	assert.Same(t, current, host.Current())
	assert.Equal(t, []string{"init a"}, j.all())
}

func TestHost_InitializeFailureClosesInitialized(t *testing.T) {
	j := &journal{}
	host, err := NewHost(newProbeRegistry(t, nil), &manualQueue{}, WithHostLogger(discardLogger()))
	require.NoError(t, err)

	cfg := route.New("root").
		AddAction(action.NewLeaf("a", "probe", &probeOptions{journal: j})).
		AddAction(action.NewLeaf("b", "probe", &probeOptions{journal: j, failInit: true})).
		AddAction(action.NewLeaf("c", "probe", &probeOptions{journal: j}))
	assert.Error(t, host.Apply(cfg))
	assert.Nil(t, host.Current())
	assert.Equal(t, []string{"init a", "close a"}, j.all())
}

func TestHost_SharedLeafBuiltOnce(t *testing.T) {
	j := &journal{}
	var built atomic.Int64
	host, err := NewHost(newProbeRegistry(t, &built), &manualQueue{}, WithHostLogger(discardLogger()))
	require.NoError(t, err)

	shared := action.NewLeaf("shared", "probe", &probeOptions{journal: j})
	sub := route.NewSubRoute("sub", func(topic string) bool { return topic == "sub" })
	sub.AddAction(action.NewLeaf("own", "probe", &probeOptions{journal: j}))
	cfg := route.New("root").AddAction(shared).AddSubRoute(sub)

	require.NoError(t, host.Apply(cfg))
	assert.Equal(t, int64(2), built.Load())
	assert.Equal(t, "sub", host.ObtainChannel("sub").Route().FullName)
	assert.Equal(t, "root", host.ObtainChannel("other").Route().FullName)
	require.NoError(t, host.Close())
}

type vetoObserver struct {
	veto    bool
	infos   []ApplyInfo
	results []ApplyResult
}

func (o *vetoObserver) Applying(info ApplyInfo) bool {
	o.infos = append(o.infos, info)
	return !o.veto
}

func (o *vetoObserver) Applied(res ApplyResult) {
	o.results = append(o.results, res)
}

func TestHost_Observers(t *testing.T) {
	j := &journal{}
	obs := &vetoObserver{}
	host, err := NewHost(newProbeRegistry(t, nil), &manualQueue{},
		WithHostLogger(discardLogger()), WithObserver(obs))
	require.NoError(t, err)

	require.NoError(t, host.Apply(probeConfig(j, "a")))
	first := host.Current()
	obs.veto = true
	assert.ErrorIs(t, host.Apply(probeConfig(j, "b")), ErrApplyCanceled)
	assert.Same(t, first, host.Current())

	require.Len(t, obs.infos, 2)
	assert.Nil(t, obs.infos[0].Previous)
	assert.Same(t, first, obs.infos[1].Previous)
	require.Len(t, obs.results, 2)
	assert.True(t, obs.results[0].Success())
	assert.True(t, obs.results[1].Canceled)
	assert.False(t, obs.results[1].Success())
	// The vetoed configuration never built handlers.
	assert.Equal(t, []string{"init a"}, j.all())
}
