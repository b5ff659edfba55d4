package directory

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
	sharedMetrics   *directoryMetrics
)

type directoryMetrics struct {
	entries *prometheus.GaugeVec
	inbound *prometheus.CounterVec

	inboundCounter metric.Int64Counter
}

func newDirectoryMetrics() *directoryMetrics {
	metricsInitOnce.Do(func() {
		m := &directoryMetrics{
			entries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "bcr_directory_entries",
				Help: "Number of banknodes known to the directory.",
			}, []string{"directory"}),
			inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "bcr_directory_gossip_total",
				Help: "Inbound banknode gossip by message type and result.",
			}, []string{"type", "result"}),
		}
		prometheus.MustRegister(m.entries, m.inbound)
		meter := otel.GetMeterProvider().Meter("bcrnode/directory")
		counter, err := meter.Int64Counter("bcr.directory.gossip")
		if err != nil {
			counter, _ = noop.NewMeterProvider().Meter("bcrnode/directory").Int64Counter("bcr.directory.gossip")
		}
		m.inboundCounter = counter
		sharedMetrics = m
	})
	return sharedMetrics
}

func (m *directoryMetrics) observeSize(name string, n int) {
	if m == nil {
		return
	}
	m.entries.WithLabelValues(name).Set(float64(n))
}

func (m *directoryMetrics) recordInbound(msgType, result string) {
	if m == nil {
		return
	}
	m.inbound.WithLabelValues(msgType, result).Inc()
	if m.inboundCounter != nil {
		m.inboundCounter.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("type", msgType),
			attribute.String("result", result),
		))
	}
}
