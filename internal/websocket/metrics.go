package websocket

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	connections prometheus.Gauge
	rooms       prometheus.Gauge
	delivered   prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &metrics{
		connections: mustRegister(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "visitor_relay_ws_connections",
			Help: "Current number of active websocket connections.",
		})),
		rooms: mustRegister(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "visitor_relay_ws_rooms",
			Help: "Current number of websocket rooms.",
		})),
		delivered: mustRegister(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "visitor_relay_ws_messages_delivered_total",
			Help: "Total websocket messages delivered to clients.",
		})),
	}
}

func mustRegister[T prometheus.Collector](reg prometheus.Registerer, c T) T {
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
