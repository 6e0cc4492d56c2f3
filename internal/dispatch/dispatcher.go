// Package dispatch runs the asynchronous side of the pipeline: producers
// enqueue events with a receiver, and a single consumer goroutine hands
// them to their receiver in FIFO order.
//
// An admission Strategy decides whether the queue accepts new events.
// Rejected events are counted and their receiver is released immediately;
// a rate limited warning reports the number of lost events.
package dispatch

import (
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/coffersTech/grandoutput/internal/model"
)

// DefaultLostEventsCooldown is the minimal delay between two lost events
// warnings.
const DefaultLostEventsCooldown = 5 * time.Second

// Receiver handles one dispatched event. Dispatch is called at most once
// per accepted event, from the consumer goroutine. Release is called
// instead of Dispatch when the event is rejected.
type Receiver interface {
	Dispatch(ev *model.Event)
	Release()
}

// Option configures a Dispatcher.
type Option func(*dispatcher)

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(d *dispatcher) { d.logger = l }
}

// WithRegisterer registers the dispatcher metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(d *dispatcher) { d.registerer = reg }
}

// WithLostEventsCooldown sets the minimal delay between two lost events
// warnings.
func WithLostEventsCooldown(cooldown time.Duration) Option {
	return func(d *dispatcher) { d.cooldown = cooldown }
}

// Dispatcher is the handle owned by the application. If it becomes
// unreachable without Close, the consumer goroutine is stopped without
// draining the queue.
type Dispatcher struct {
	*dispatcher
	cleanup runtime.Cleanup
}

type item struct {
	r  Receiver
	ev *model.Event
}

type dispatcher struct {
	mu     sync.Mutex
	items  []item
	closed bool
	notify chan struct{}
	depth  atomic.Int64

	strategy   Strategy
	logger     *slog.Logger
	registerer prometheus.Registerer
	metrics    *metrics
	cooldown   time.Duration
	limiter    *rate.Limiter

	lost       atomic.Int64
	dropped    atomic.Uint64
	dispatched atomic.Uint64

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New starts a dispatcher. A nil strategy accepts every event.
func New(strategy Strategy, opts ...Option) (*Dispatcher, error) {
	if strategy == nil {
		strategy = alwaysOpen{}
	}
	d := &dispatcher{
		strategy: strategy,
		logger:   slog.Default(),
		cooldown: DefaultLostEventsCooldown,
		notify:   make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.limiter = rate.NewLimiter(rate.Every(d.cooldown), 1)
	m, err := newMetrics(d.registerer, strategy)
	if err != nil {
		return nil, err
	}
	d.metrics = m
	strategy.Initialize(d)

	go d.run()

	h := &Dispatcher{dispatcher: d}
	h.cleanup = runtime.AddCleanup(h, func(inner *dispatcher) { inner.forceStop() }, d)
	return h, nil
}

// Depth returns the number of queued events.
func (d *dispatcher) Depth() int {
	return int(d.depth.Load())
}

// Dispatched returns the number of events handed to their receiver.
func (d *dispatcher) Dispatched() uint64 {
	return d.dispatched.Load()
}

// Dropped returns the number of events rejected since creation.
func (d *dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Enqueue queues ev for r and reports whether it was accepted. A rejected
// event is released before Enqueue returns.
func (d *dispatcher) Enqueue(r Receiver, ev *model.Event) bool {
	opened := d.strategy.IsOpened()
	d.metrics.setOpen(opened)
	if !opened || !d.push(item{r: r, ev: ev}) {
		r.Release()
		d.reject()
		return false
	}
	return true
}

func (d *dispatcher) push(it item) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.items = append(d.items, it)
	depth := d.depth.Add(1)
	d.mu.Unlock()

	d.metrics.depth.Set(float64(depth))
	select {
	case d.notify <- struct{}{}:
	default:
	}
	return true
}

func (d *dispatcher) pop() (item, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.items) == 0 {
		return item{}, false
	}
	it := d.items[0]
	d.items[0] = item{}
	d.items = d.items[1:]
	d.depth.Add(-1)
	return it, true
}

func (d *dispatcher) reject() {
	d.dropped.Add(1)
	d.lost.Add(1)
	d.metrics.dropped.Inc()
	if d.limiter.Allow() {
		d.reportLost()
	}
}

func (d *dispatcher) reportLost() {
	if n := d.lost.Swap(0); n > 0 {
		d.logger.Warn("events lost", "count", n)
	}
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		it, ok := d.pop()
		if !ok {
			select {
			case <-d.notify:
				continue
			case <-d.stop:
				return
			}
		}
		// Sentinel pushed by Close.
		if it.r == nil {
			return
		}
		d.metrics.depth.Set(float64(d.depth.Load()))
		d.dispatch(it)
	}
}

func (d *dispatcher) dispatch(it item) {
	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("receiver panicked", "panic", p)
		}
	}()
	d.dispatched.Add(1)
	d.metrics.dispatched.Inc()
	it.r.Dispatch(it.ev)
}

func (d *dispatcher) forceStop() {
	d.stopOnce.Do(func() { close(d.stop) })
}

// Close stops accepting events, waits until every queued event is
// dispatched and reports pending lost events. Close is idempotent.
func (h *Dispatcher) Close() error {
	d := h.dispatcher
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		d.items = append(d.items, item{})
		d.depth.Add(1)
		select {
		case d.notify <- struct{}{}:
		default:
		}
	}
	d.mu.Unlock()

	<-d.done
	h.cleanup.Stop()
	d.reportLost()
	d.metrics.depth.Set(0)
	return nil
}
