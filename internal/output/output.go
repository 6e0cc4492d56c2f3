// Package output wires the dispatcher and the route host into the
// GrandOutput entry point used by producers.
package output

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/coffersTech/grandoutput/internal/dispatch"
	"github.com/coffersTech/grandoutput/internal/handler"
	"github.com/coffersTech/grandoutput/internal/model"
	"github.com/coffersTech/grandoutput/internal/route"
	"github.com/coffersTech/grandoutput/internal/storage"
	"github.com/coffersTech/grandoutput/internal/textsink"
)

// ErrClosed is returned by ApplyConfiguration after Close.
var ErrClosed = errors.New("grand output closed")

type options struct {
	logger     *slog.Logger
	registerer prometheus.Registerer
	strategy   dispatch.Strategy
	cooldown   time.Duration
	common     handler.Handler
	observers  []handler.Observer
	kinds      map[string]handler.Constructor
}

// Option configures a GrandOutput.
type Option func(*options)

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRegisterer registers dispatcher and host metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithStrategy replaces the default BasicStrategy.
func WithStrategy(s dispatch.Strategy) Option {
	return func(o *options) { o.strategy = s }
}

// WithLostEventsCooldown sets the minimal interval between lost events
// reports.
func WithLostEventsCooldown(d time.Duration) Option {
	return func(o *options) { o.cooldown = d }
}

// WithCommonSink sets a handler receiving every routed event. The
// GrandOutput initializes it in New and closes it last.
func WithCommonSink(h handler.Handler) Option {
	return func(o *options) { o.common = h }
}

// WithObserver adds a configuration apply observer.
func WithObserver(obs handler.Observer) Option {
	return func(o *options) { o.observers = append(o.observers, obs) }
}

// WithKind registers an additional leaf kind.
func WithKind(kind string, ctor handler.Constructor) Option {
	return func(o *options) {
		if o.kinds == nil {
			o.kinds = make(map[string]handler.Constructor)
		}
		o.kinds[kind] = ctor
	}
}

// GrandOutput routes entries to the handlers of the current route
// configuration through one dispatcher.
type GrandOutput struct {
	logger     *slog.Logger
	registry   *handler.Registry
	dispatcher *dispatch.Dispatcher
	host       *handler.Host
	common     handler.Handler

	closed   atomic.Bool
	unrouted atomic.Uint64
}

// New starts a GrandOutput without configuration. Entries handled before
// the first successful ApplyConfiguration are discarded. The segment and
// text kinds are always registered.
func New(opts ...Option) (_ *GrandOutput, err error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.strategy == nil {
		s, err := dispatch.NewBasicStrategy(dispatch.DefaultMaxCapacity, dispatch.DefaultReenableCapacity, dispatch.DefaultSamplingCount)
		if err != nil {
			return nil, err
		}
		o.strategy = s
	}

	reg := handler.NewRegistry()
	if err := storage.RegisterSink(reg, o.logger); err != nil {
		return nil, err
	}
	if err := textsink.Register(reg); err != nil {
		return nil, err
	}
	for kind, ctor := range o.kinds {
		if err := reg.Register(kind, ctor); err != nil {
			return nil, err
		}
	}

	if o.common != nil {
		if err := o.common.Initialize(); err != nil {
			return nil, fmt.Errorf("initialize common sink: %w", err)
		}
		defer func() {
			if err != nil {
				o.common.Close()
			}
		}()
	}

	dopts := []dispatch.Option{dispatch.WithLogger(o.logger)}
	if o.registerer != nil {
		dopts = append(dopts, dispatch.WithRegisterer(o.registerer))
	}
	if o.cooldown > 0 {
		dopts = append(dopts, dispatch.WithLostEventsCooldown(o.cooldown))
	}
	d, err := dispatch.New(o.strategy, dopts...)
	if err != nil {
		return nil, fmt.Errorf("start dispatcher: %w", err)
	}

	hopts := []handler.HostOption{handler.WithHostLogger(o.logger)}
	if o.common != nil {
		hopts = append(hopts, handler.WithCommonSink(o.common))
	}
	if o.registerer != nil {
		hopts = append(hopts, handler.WithHostRegisterer(o.registerer))
	}
	for _, obs := range o.observers {
		hopts = append(hopts, handler.WithObserver(obs))
	}
	host, err := handler.NewHost(reg, d, hopts...)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("create route host: %w", err)
	}

	return &GrandOutput{
		logger:     o.logger,
		registry:   reg,
		dispatcher: d,
		host:       host,
		common:     o.common,
	}, nil
}

// ApplyConfiguration makes cfg the current route configuration. On error
// the previous configuration stays current.
func (g *GrandOutput) ApplyConfiguration(cfg *route.Configuration) error {
	if g.closed.Load() {
		return ErrClosed
	}
	return g.host.Apply(cfg)
}

// Current returns the current resolved route tree, or nil.
func (g *GrandOutput) Current() *route.Resolved {
	return g.host.Current()
}

// Kinds lists the registered leaf kinds.
func (g *GrandOutput) Kinds() []string {
	return g.registry.Kinds()
}

// Handle routes a copy of e under topic. It never blocks on handlers and
// reports whether the event was accepted by the dispatcher.
func (g *GrandOutput) Handle(topic string, e *model.Entry) bool {
	if g.closed.Load() {
		return false
	}
	ch := g.host.ObtainChannel(topic)
	for {
		if ch == nil {
			g.unrouted.Add(1)
			return false
		}
		if ch.PreHandleLock() {
			break
		}
		// The channel's configuration was replaced: the host already
		// publishes its successor.
		ch = g.host.ObtainChannel(topic)
	}
	return ch.Handle(&model.Event{Topic: topic, Entry: *e})
}

// Dispatched is the number of events delivered to handlers.
func (g *GrandOutput) Dispatched() uint64 {
	return g.dispatcher.Dispatched()
}

// Dropped is the number of events rejected by the admission strategy.
func (g *GrandOutput) Dropped() uint64 {
	return g.dispatcher.Dropped()
}

// Unrouted is the number of events handled while no configuration was
// current.
func (g *GrandOutput) Unrouted() uint64 {
	return g.unrouted.Load()
}

// Close retires the current configuration, drains the dispatcher and
// closes the common sink. Close is idempotent.
func (g *GrandOutput) Close() error {
	if !g.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	if err := g.host.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := g.dispatcher.Close(); err != nil {
		errs = append(errs, err)
	}
	if g.common != nil {
		if err := g.common.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close common sink: %w", err))
		}
	}
	return errors.Join(errs...)
}
