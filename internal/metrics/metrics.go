package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	ConnectorRequests *prometheus.CounterVec
	ConnectorFailures *prometheus.CounterVec
	ImportedModels    prometheus.Counter
	StoredCompletions prometheus.Counter
	StoredChatTurns   prometheus.Counter
	EnqueuedJobs      prometheus.Counter
	ProcessedJobs     prometheus.Counter
	FailedJobs        prometheus.Counter
	UpdatesTotal      prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

// New builds an unregistered set; tests use it to avoid the default registry.
func New() *Metrics {
	return &Metrics{
		ConnectorRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aiconnect",
			Name:      "connector_requests_total",
			Help:      "Total provider calls by connector and operation",
		}, []string{"connector", "operation"}),
		ConnectorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aiconnect",
			Name:      "connector_failures_total",
			Help:      "Total failed provider calls by connector and operation",
		}, []string{"connector", "operation"}),
		ImportedModels: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aiconnect",
			Name:      "models_imported_total",
			Help:      "Total model rows upserted by import",
		}),
		StoredCompletions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aiconnect",
			Name:      "completions_stored_total",
			Help:      "Total completion rows written",
		}),
		StoredChatTurns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aiconnect",
			Name:      "chat_turns_stored_total",
			Help:      "Total chat turns appended to chat rows",
		}),
		EnqueuedJobs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aiconnect",
			Name:      "queue_enqueued_total",
			Help:      "Total jobs enqueued to redis stream",
		}),
		ProcessedJobs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aiconnect",
			Name:      "queue_processed_total",
			Help:      "Total jobs successfully processed",
		}),
		FailedJobs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aiconnect",
			Name:      "queue_failed_total",
			Help:      "Total jobs failed during processing",
		}),
		UpdatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aiconnect",
			Name:      "telegram_updates_total",
			Help:      "Total telegram updates received",
		}),
	}
}

func Global() *Metrics {
	once.Do(func() {
		global = New()
		prometheus.MustRegister(
			global.ConnectorRequests,
			global.ConnectorFailures,
			global.ImportedModels,
			global.StoredCompletions,
			global.StoredChatTurns,
			global.EnqueuedJobs,
			global.ProcessedJobs,
			global.FailedJobs,
			global.UpdatesTotal,
		)
	})
	return global
}
