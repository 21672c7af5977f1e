package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AssignmentsTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "taxi_dispatch", Name: "assignments_total", Help: "Trips successfully assigned to a taxi"})
	NoCapacityTotal    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "taxi_dispatch", Name: "no_capacity_total", Help: "Orders rejected because no taxi was available"})
	CompensationsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "taxi_dispatch", Name: "compensations_total", Help: "Assignments rolled back after notify failure"})
	NotifyAttempts     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "taxi_dispatch", Name: "notify_attempts_total", Help: "Outbound assignment notification attempts"})
	SweptTaxisTotal    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "taxi_dispatch", Name: "swept_taxis_total", Help: "Taxis demoted to offline by the liveness sweep"})
	TaxisRegistered    = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "taxi_dispatch", Name: "taxis_registered", Help: "Taxis registered over process lifetime"})

	AssignLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "taxi_dispatch",
		Name:      "assign_latency_seconds",
		Help:      "End-to-end assignment saga latency",
		Buckets:   prometheus.DefBuckets,
	})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "taxi_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "taxi_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
