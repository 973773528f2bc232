package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mediascope/mediascope/internal/progress"
)

// PrometheusSink exports pipeline progress metrics via Prometheus. It owns
// all collectors for items started/completed/running and per-step timings.
type PrometheusSink struct {
	itemsStarted   prometheus.Counter
	itemsCompleted *prometheus.CounterVec
	itemsRunning   prometheus.Gauge
	itemRuntime    *prometheus.HistogramVec

	stepDuration *prometheus.HistogramVec
	articles     prometheus.Counter

	tracker *itemTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		itemsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_items_started_total",
			Help: "Total pipeline items that have started processing.",
		}),
		itemsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_items_completed_total",
			Help: "Total pipeline items completed partitioned by result.",
		}, []string{"result"}),
		itemsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_items_running",
			Help: "Current number of items being processed.",
		}),
		itemRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeline_item_runtime_seconds",
			Help:    "Wall time per completed item.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"result"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeline_step_duration_seconds",
			Help:    "Duration of each pipeline step.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"step"}),
		articles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_articles_persisted_total",
			Help: "Total articles persisted by completed items.",
		}),
		tracker: newItemTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.itemsStarted,
		s.itemsCompleted,
		s.itemsRunning,
		s.itemRuntime,
		s.stepDuration,
		s.articles,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
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
	switch evt.Stage {
	case progress.StageItemStart:
		s.itemsStarted.Inc()
		if s.tracker.start(evt.ItemID) {
			s.itemsRunning.Inc()
		}
	case progress.StageItemStep:
		if evt.Dur > 0 {
			s.stepDuration.WithLabelValues(evt.Step).Observe(evt.Dur.Seconds())
		}
	case progress.StageItemDone:
		s.complete(evt, "success")
		if evt.Articles > 0 {
			s.articles.Add(float64(evt.Articles))
		}
	case progress.StageItemError:
		s.complete(evt, "error")
	case progress.StageItemCancelled:
		s.complete(evt, "cancelled")
	}
}

func (s *PrometheusSink) complete(evt progress.Event, result string) {
	s.itemsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.itemRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.ItemID) {
		s.itemsRunning.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type itemTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newItemTracker() *itemTracker {
	return &itemTracker{running: make(map[string]struct{})}
}

func (t *itemTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *itemTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
