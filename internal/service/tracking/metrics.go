package tracking

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine collectors. A nil *Metrics records nothing.
type Metrics struct {
	events        *prometheus.CounterVec
	resolutions   *prometheus.CounterVec
	notifications *prometheus.CounterVec
	reg           prometheus.Registerer
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Metrics{
		events: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "visitor_relay_tracking_events_total",
				Help: "Tracking events by type and outcome.",
			},
			[]string{"type", "outcome"},
		)),
		resolutions: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "visitor_relay_thread_resolutions_total",
				Help: "Thread resolutions by outcome.",
			},
			[]string{"outcome"},
		)),
		notifications: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "visitor_relay_notifications_total",
				Help: "Platform notifications by delivery status.",
			},
			[]string{"status"},
		)),
		reg: reg,
	}
}

// watchCache exports the size of an in-memory cache.
func (m *Metrics) watchCache(name string, size func() int) {
	if m == nil {
		return
	}
	register(m.reg, prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name:        "visitor_relay_cache_entries",
			Help:        "Entries held in an in-memory cache.",
			ConstLabels: prometheus.Labels{"cache": name},
		},
		func() float64 { return float64(size()) },
	))
}

func (m *Metrics) observeEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) observeResolution(outcome string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeNotification(status string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(status).Inc()
}

// register adds c to reg, reusing the collector already registered under the
// same descriptor.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
