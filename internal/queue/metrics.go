package queue

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	processedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitsync",
		Subsystem: "queue",
		Name:      "mutations_processed_total",
		Help:      "Number of queued mutations successfully replayed.",
	}, []string{"table"})

	requeuedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitsync",
		Subsystem: "queue",
		Name:      "mutations_requeued_total",
		Help:      "Number of quarantined mutations released for another attempt.",
	}, []string{"table"})

	quarantinedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitsync",
		Subsystem: "queue",
		Name:      "mutations_quarantined_total",
		Help:      "Number of mutations quarantined after exhausting retries.",
	}, []string{"table"})

	retryCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitsync",
		Subsystem: "queue",
		Name:      "retry_scheduled_total",
		Help:      "Number of times a mutation was scheduled for a future retry.",
	}, []string{"table"})

	backlogGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fitsync",
		Subsystem: "queue",
		Name:      "queued_mutations",
		Help:      "Current number of mutations waiting to be replayed.",
	})
)

func init() {
	prometheus.MustRegister(processedCounter, requeuedCounter, quarantinedCounter, retryCounter, backlogGauge)
}

func recordProcessed(m Mutation) {
	processedCounter.WithLabelValues(m.Table).Inc()
}

func recordRequeued(m Mutation) {
	requeuedCounter.WithLabelValues(m.Table).Inc()
}

func recordQuarantined(m Mutation) {
	quarantinedCounter.WithLabelValues(m.Table).Inc()
}

func recordRetry(m Mutation) {
	retryCounter.WithLabelValues(m.Table).Inc()
}

func updateBacklogGauge(entries []Mutation) {
	count := 0
	for _, m := range entries {
		if !m.Quarantined() {
			count++
		}
	}
	backlogGauge.Set(float64(count))
}
