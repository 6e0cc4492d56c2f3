package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/coffersTech/grandoutput/internal/action"
	"github.com/coffersTech/grandoutput/internal/route"
)

var (
	// ErrApplyCanceled is returned when an observer vetoes a configuration.
	ErrApplyCanceled = errors.New("configuration apply canceled by observer")
	// ErrHostClosed is returned by Apply after Close.
	ErrHostClosed = errors.New("route host closed")
	// ErrInstantiationPanic wraps a panic raised while building handlers.
	ErrInstantiationPanic = errors.New("handler instantiation panicked")
)

// ApplyInfo describes a configuration about to be applied.
type ApplyInfo struct {
	Configuration *route.Configuration
	Resolved      *route.Resolved
	// Previous is the tree being replaced, nil for the first apply.
	Previous *route.Resolved
}

// ApplyResult describes the outcome of Apply.
type ApplyResult struct {
	Configuration *route.Configuration
	// Resolved is nil when resolution failed.
	Resolved *route.Resolved
	Err      error
	Canceled bool
	Duration time.Duration
}

// Success reports whether the configuration became current.
func (r ApplyResult) Success() bool {
	return r.Err == nil && !r.Canceled
}

// Observer is notified around every apply. Returning false from Applying
// cancels the apply. Callbacks run with the host apply lock held and must
// not call Apply.
type Observer interface {
	Applying(info ApplyInfo) bool
	Applied(res ApplyResult)
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithCommonSink sets a handler receiving every event before the route
// handlers. The host does not manage its lifecycle.
func WithCommonSink(h Handler) HostOption {
	return func(host *Host) { host.common = h }
}

// WithHostLogger sets the logger.
func WithHostLogger(l *slog.Logger) HostOption {
	return func(host *Host) { host.logger = l }
}

// WithObserver adds an apply observer.
func WithObserver(o Observer) HostOption {
	return func(host *Host) { host.observers = append(host.observers, o) }
}

// WithHostRegisterer registers the host metrics on reg.
func WithHostRegisterer(reg prometheus.Registerer) HostOption {
	return func(host *Host) { host.registerer = reg }
}

// tree is one applied configuration: its handlers, channels and lock.
type tree struct {
	root     *route.Resolved
	lock     *ConfigurationLock
	owned    []Handler
	channels map[*route.Resolved]*Channel
	byTopic  sync.Map
}

func (t *tree) channel(topic string) *Channel {
	if c, ok := t.byTopic.Load(topic); ok {
		return c.(*Channel)
	}
	c, _ := t.byTopic.LoadOrStore(topic, t.channels[t.root.FindRoute(topic)])
	return c.(*Channel)
}

// Host owns the current route tree and replaces it on Apply.
type Host struct {
	registry   *Registry
	queue      Queue
	common     Handler
	logger     *slog.Logger
	registerer prometheus.Registerer
	applies    *prometheus.CounterVec

	mu        sync.Mutex
	closed    bool
	observers []Observer
	current   atomic.Pointer[tree]
}

// NewHost creates a host without configuration. ObtainChannel returns nil
// until the first successful Apply.
func NewHost(registry *Registry, queue Queue, opts ...HostOption) (*Host, error) {
	h := &Host{
		registry: registry,
		queue:    queue,
		logger:   slog.Default(),
		applies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grandoutput",
			Subsystem: "routes",
			Name:      "applies_total",
			Help:      "Total number of configuration applies by result",
		}, []string{"result"}),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.registerer != nil {
		inFlight := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "grandoutput",
			Subsystem: "routes",
			Name:      "in_flight_events",
			Help:      "Events holding the lock of the current configuration",
		}, func() float64 {
			if t := h.current.Load(); t != nil {
				return float64(t.lock.InFlight())
			}
			return 0
		})
		for _, c := range []prometheus.Collector{h.applies, inFlight} {
			if err := h.registerer.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return h, nil
}

// Current returns the current resolved tree, or nil.
func (h *Host) Current() *route.Resolved {
	if t := h.current.Load(); t != nil {
		return t.root
	}
	return nil
}

// ObtainChannel returns the channel of the route handling topic in the
// current tree, or nil when no configuration is applied.
func (h *Host) ObtainChannel(topic string) *Channel {
	t := h.current.Load()
	if t == nil {
		return nil
	}
	return t.channel(topic)
}

// Apply resolves cfg, builds and initializes its handlers, makes it
// current and retires the previous tree once its in-flight events are
// dispatched. On error the previous tree stays current.
//
// Apply must not be called from a handler: retiring waits for the
// dispatcher.
func (h *Host) Apply(cfg *route.Configuration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHostClosed
	}

	start := time.Now()
	res := h.apply(cfg)
	res.Duration = time.Since(start)

	switch {
	case res.Canceled:
		h.applies.WithLabelValues("canceled").Inc()
		h.logger.Info("configuration apply canceled", "route", cfg.Name)
	case res.Err != nil:
		h.applies.WithLabelValues("failed").Inc()
		h.logger.Error("configuration apply failed", "error", res.Err)
	default:
		h.applies.WithLabelValues("success").Inc()
		h.logger.Info("configuration applied", "route", cfg.Name, "duration", res.Duration)
	}
	for _, o := range h.observers {
		o.Applied(res)
	}
	return res.Err
}

func (h *Host) apply(cfg *route.Configuration) ApplyResult {
	res := ApplyResult{Configuration: cfg}
	resolved, err := route.Resolve(cfg)
	if err != nil {
		res.Err = fmt.Errorf("resolve routes: %w", err)
		return res
	}
	res.Resolved = resolved

	info := ApplyInfo{Configuration: cfg, Resolved: resolved}
	prev := h.current.Load()
	if prev != nil {
		info.Previous = prev.root
	}
	for _, o := range h.observers {
		if !o.Applying(info) {
			res.Canceled = true
			res.Err = ErrApplyCanceled
			return res
		}
	}

	t, err := h.instantiate(resolved)
	if err != nil {
		res.Err = fmt.Errorf("instantiate handlers: %w", err)
		return res
	}
	if old := h.current.Swap(t); old != nil {
		h.retire(old)
	}
	return res
}

// instantiate builds one handler per distinct action configuration and
// initializes the leaf handlers in order. On error, initialized handlers
// are closed again.
func (h *Host) instantiate(root *route.Resolved) (_ *tree, err error) {
	t := &tree{
		root:     root,
		lock:     &ConfigurationLock{},
		channels: make(map[*route.Resolved]*Channel),
	}
	initialized := 0
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrInstantiationPanic, p)
		}
		if err != nil {
			closeAll(h.logger, t.owned[:initialized])
		}
	}()

	built := make(map[action.Configuration]Handler)
	var build func(cfg action.Configuration) (Handler, error)
	build = func(cfg action.Configuration) (Handler, error) {
		if hd, ok := built[cfg]; ok {
			return hd, nil
		}
		var hd Handler
		switch c := cfg.(type) {
		case *action.Leaf:
			leafHandler, err := h.registry.New(c)
			if err != nil {
				return nil, err
			}
			t.owned = append(t.owned, leafHandler)
			hd = leafHandler
		case *action.Composite:
			children := make([]Handler, 0, len(c.Children()))
			for _, child := range c.Children() {
				ch, err := build(child)
				if err != nil {
					return nil, err
				}
				children = append(children, ch)
			}
			if c.IsParallel() {
				hd = &Parallel{Name: c.Name(), Children: children}
			} else {
				hd = &Sequence{Name: c.Name(), Children: children}
			}
		default:
			return nil, fmt.Errorf("action %q: unsupported configuration %T", cfg.Name(), cfg)
		}
		built[cfg] = hd
		return hd, nil
	}

	var errs []error
	root.Walk(func(r *route.Resolved) {
		handlers := make([]Handler, 0, len(r.Actions))
		for _, a := range r.Actions {
			hd, err := build(a)
			if err != nil {
				errs = append(errs, fmt.Errorf("route %q: %w", r.FullName, err))
				continue
			}
			handlers = append(handlers, hd)
		}
		t.channels[r] = &Channel{
			route: r,
			queue: h.queue,
			receiver: &FinalReceiver{
				route:    r.FullName,
				common:   h.common,
				handlers: handlers,
				lock:     t.lock,
				logger:   h.logger,
			},
		}
	})
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	for _, hd := range t.owned {
		if err := hd.Initialize(); err != nil {
			return nil, fmt.Errorf("initialize handler: %w", err)
		}
		initialized++
	}
	return t, nil
}

// retire waits for the events committed to t and closes its handlers.
func (h *Host) retire(t *tree) {
	t.lock.CloseAndWait()
	closeAll(h.logger, t.owned)
}

func closeAll(logger *slog.Logger, handlers []Handler) {
	for _, hd := range slices.Backward(handlers) {
		if err := hd.Close(); err != nil {
			logger.Error("closing handler", "error", err)
		}
	}
}

// Close retires the current tree. Events already committed to it are
// dispatched first, so the dispatcher must still be running.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	if t := h.current.Swap(nil); t != nil {
		h.retire(t)
	}
	return nil
}
