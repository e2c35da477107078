package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var factory = promauto.With(prometheus.DefaultRegisterer)

var (
	// QueueDepth is sampled on each requeue sweep.
	QueueDepth = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "checkout",
		Subsystem: "queue",
		Name:      "ready_tasks",
		Help:      "Tasks waiting to be delivered, by kind.",
	}, []string{"kind"})

	// QueueProcessedTotal counts deliveries by outcome: ok, retry or dlq.
	QueueProcessedTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkout",
		Subsystem: "queue",
		Name:      "deliveries_total",
		Help:      "Task deliveries by kind and outcome.",
	}, []string{"kind", "status"})

	QueueDLQSize = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "checkout",
		Subsystem: "queue",
		Name:      "dead_letter_tasks",
		Help:      "Dead-lettered tasks by kind.",
	}, []string{"kind"})
)
