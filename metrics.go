package jsaas

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	evaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jsaas_evaluations_total",
		Help: "Completed script evaluations by outcome.",
	}, []string{"outcome"})

	evaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "jsaas_evaluation_duration_seconds",
		Help:    "Wall-clock time spent per script evaluation.",
		Buckets: prometheus.DefBuckets,
	})

	evalQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jsaas_eval_queue_depth",
		Help: "Evaluation tasks waiting for a free worker.",
	})

	scriptsStored = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jsaas_scripts_stored",
		Help: "Scripts currently held by the registry.",
	})
)
