package sinks

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/itemrelay/internal/errors"
	"github.com/JakeFAU/itemrelay/internal/progress"
)

// Outcome labels used by itemrelay_items_total.
const (
	OutcomeDelivered   = "delivered"
	OutcomeUndelivered = "undelivered"
	OutcomeError       = "error"
)

// PrometheusSink exports item lifecycle metrics via Prometheus.
type PrometheusSink struct {
	items         *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	deliveryDur   *prometheus.HistogramVec
	compensations *prometheus.CounterVec
	compFailures  *prometheus.CounterVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "itemrelay_items_total",
			Help: "Items processed partitioned by spider and final outcome.",
		}, []string{"spider", "outcome"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "itemrelay_deliveries_total",
			Help: "Sink deliveries partitioned by sink and result.",
		}, []string{"sink", "result"}),
		deliveryDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "itemrelay_delivery_duration_seconds",
			Help:    "Time spent in a single sink delivery.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"sink"}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "itemrelay_compensations_total",
			Help: "Claims removed after an item reached no sink.",
		}, []string{"spider"}),
		compFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "itemrelay_compensation_failures_total",
			Help: "Claim removals that failed and left the claim in place.",
		}, []string{"spider"}),
	}
	for _, collector := range []prometheus.Collector{
		s.items,
		s.deliveries,
		s.deliveryDur,
		s.compensations,
		s.compFailures,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, errors.Wrap(err, "register progress collector")
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	spider := label(evt.Spider)
	switch evt.Stage {
	case progress.StageItemDiscarded:
		s.items.WithLabelValues(spider, evt.Reason).Inc()
	case progress.StageItemError:
		s.items.WithLabelValues(spider, OutcomeError).Inc()
	case progress.StageItemDone:
		s.items.WithLabelValues(spider, string(evt.Result)).Inc()
	case progress.StageDelivery:
		sink := label(evt.Sink)
		s.deliveries.WithLabelValues(sink, string(evt.Result)).Inc()
		if evt.Dur > 0 {
			s.deliveryDur.WithLabelValues(sink).Observe(evt.Dur.Seconds())
		}
	case progress.StageCompensated:
		s.compensations.WithLabelValues(spider).Inc()
	case progress.StageCompensateFail:
		s.compFailures.WithLabelValues(spider).Inc()
	}
}

func label(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
