package p2p

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

var (
	metricsInitOnce sync.Once
	sharedMetrics   *networkMetrics
)

type networkMetrics struct {
	gossip *prometheus.CounterVec

	gossipCounter metric.Int64Counter
}

func newNetworkMetrics() *networkMetrics {
	metricsInitOnce.Do(func() {
		nm := &networkMetrics{
			gossip: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "bcr_p2p_gossip_messages_total",
				Help: "Count of gossip messages by direction and type.",
			}, []string{"direction", "type"}),
		}
		prometheus.MustRegister(nm.gossip)
		nm.initMeter()
		sharedMetrics = nm
	})
	return sharedMetrics
}

func (m *networkMetrics) initMeter() {
	meter := otel.GetMeterProvider().Meter("bcrnode/p2p")
	counter, err := meter.Int64Counter("bcr.p2p.gossip")
	if err != nil {
		fallback := noop.NewMeterProvider().Meter("bcrnode/p2p")
		counter, _ = fallback.Int64Counter("bcr.p2p.gossip")
	}
	m.gossipCounter = counter
}

func (m *networkMetrics) recordGossip(direction string, msgType byte) {
	if m == nil {
		return
	}
	label := MessageTypeName(msgType)
	if direction == "" {
		direction = "unknown"
	}
	m.gossip.WithLabelValues(direction, label).Inc()
	if m.gossipCounter != nil {
		m.gossipCounter.Add(
			context.Background(),
			1,
			metric.WithAttributes(
				attribute.String("direction", direction),
				attribute.String("type", label),
			),
		)
	}
}
