package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all Prometheus metrics for the pipeline. One instance is
// constructed at startup and passed to each component; there is no global
// registry.
type Collector struct {
	registry *prometheus.Registry

	// HTTP
	HTTPRequests *prometheus.CounterVec

	// Intake
	EventsAccepted prometheus.Counter
	EventsRejected *prometheus.CounterVec
	EventsDeduped  prometheus.Counter

	// Graph
	NodesEvicted prometheus.Counter
	EdgesEvicted prometheus.Counter
	DecayPasses  prometheus.Counter

	// Habitus
	MiningPasses prometheus.Counter
	RulesMined   prometheus.Gauge

	// Candidates
	CandidatesCreated prometheus.Counter
	CandidatesDecided *prometheus.CounterVec
}

// NewCollector creates a metrics collector with its own registry.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		EventsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_accepted_total",
			Help:      "Events accepted by intake",
		}),
		EventsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_rejected_total",
				Help:      "Events rejected by intake, by reason",
			},
			[]string{"reason"},
		),
		EventsDeduped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_deduped_total",
			Help:      "Events deduplicated by idempotency key",
		}),
		NodesEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_nodes_evicted_total",
			Help:      "Graph nodes evicted by capacity pruning",
		}),
		EdgesEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_edges_evicted_total",
			Help:      "Graph edges evicted by pruning or node cascade",
		}),
		DecayPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_decay_passes_total",
			Help:      "Completed decay materialization passes",
		}),
		MiningPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "habitus_mining_passes_total",
			Help:      "Completed mining passes",
		}),
		RulesMined: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "habitus_rules_current",
			Help:      "Rules produced by the latest mining pass",
		}),
		CandidatesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_created_total",
			Help:      "Candidates created from mined rules",
		}),
		CandidatesDecided: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "candidates_decided_total",
				Help:      "Candidate decisions, by outcome",
			},
			[]string{"decision"},
		),
	}

	registry.MustRegister(
		c.HTTPRequests,
		c.EventsAccepted, c.EventsRejected, c.EventsDeduped,
		c.NodesEvicted, c.EdgesEvicted, c.DecayPasses,
		c.MiningPasses, c.RulesMined,
		c.CandidatesCreated, c.CandidatesDecided,
	)
	return c
}

// Handler returns the /metrics HTTP handler for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
