package banknode

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
	sharedMetrics   *controllerMetrics
)

type controllerMetrics struct {
	status   *prometheus.GaugeVec
	ticks    *prometheus.CounterVec
	messages *prometheus.CounterVec

	tickCounter    metric.Int64Counter
	messageCounter metric.Int64Counter
}

func newControllerMetrics() *controllerMetrics {
	metricsInitOnce.Do(func() {
		m := &controllerMetrics{
			status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "bcr_banknode_status",
				Help: "Set to 1 for the local banknode's current capability status.",
			}, []string{"status"}),
			ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "bcr_banknode_ticks_total",
				Help: "Status management ticks by outcome.",
			}, []string{"outcome"}),
			messages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "bcr_banknode_messages_sent_total",
				Help: "Announcements and pings relayed by the local banknode.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(m.status, m.ticks, m.messages)
		m.initMeter()
		sharedMetrics = m
	})
	return sharedMetrics
}

func (m *controllerMetrics) initMeter() {
	meter := otel.GetMeterProvider().Meter("bcrnode/banknode")
	ticks, err := meter.Int64Counter("bcr.banknode.ticks")
	if err != nil {
		meter = noop.NewMeterProvider().Meter("bcrnode/banknode")
		ticks, _ = meter.Int64Counter("bcr.banknode.ticks")
	}
	messages, err := meter.Int64Counter("bcr.banknode.messages")
	if err != nil {
		meter = noop.NewMeterProvider().Meter("bcrnode/banknode")
		messages, _ = meter.Int64Counter("bcr.banknode.messages")
	}
	m.tickCounter = ticks
	m.messageCounter = messages
}

func (m *controllerMetrics) observeStatus(current Status) {
	if m == nil {
		return
	}
	for _, s := range AllStatuses() {
		value := 0.0
		if s == current {
			value = 1
		}
		m.status.WithLabelValues(s.String()).Set(value)
	}
}

func (m *controllerMetrics) recordTick(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = KindOf(err).String()
	}
	m.ticks.WithLabelValues(outcome).Inc()
	if m.tickCounter != nil {
		m.tickCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func (m *controllerMetrics) recordMessage(kind string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(kind).Inc()
	if m.messageCounter != nil {
		m.messageCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", kind)))
	}
}
