package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	depth      prometheus.Gauge
	open       prometheus.Gauge
	dispatched prometheus.Counter
	dropped    prometheus.Counter
}

// newMetrics creates the dispatcher metrics and registers them when reg is
// not nil.
func newMetrics(reg prometheus.Registerer, strategy Strategy) (*metrics, error) {
	m := &metrics{
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "grandoutput",
			Subsystem: "dispatcher",
			Name:      "queue_depth",
			Help:      "Number of events waiting to be dispatched",
		}),
		open: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "grandoutput",
			Subsystem: "dispatcher",
			Name:      "open",
			Help:      "1 when the admission strategy accepts events, 0 otherwise",
		}),
		dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "grandoutput",
			Subsystem: "dispatcher",
			Name:      "dispatched_total",
			Help:      "Total number of events handed to their receiver",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "grandoutput",
			Subsystem: "dispatcher",
			Name:      "dropped_total",
			Help:      "Total number of events rejected by the admission strategy or after close",
		}),
	}
	m.open.Set(1)
	if reg == nil {
		return m, nil
	}

	collectors := []prometheus.Collector{m.depth, m.open, m.dispatched, m.dropped}
	if s, ok := strategy.(interface{ IgnoredConcurrentCalls() uint64 }); ok {
		collectors = append(collectors, prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "grandoutput",
			Subsystem: "dispatcher",
			Name:      "ignored_concurrent_samplings_total",
			Help:      "Total number of depth samplings skipped because another one was running",
		}, func() float64 { return float64(s.IgnoredConcurrentCalls()) }))
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *metrics) setOpen(opened bool) {
	if opened {
		m.open.Set(1)
	} else {
		m.open.Set(0)
	}
}
