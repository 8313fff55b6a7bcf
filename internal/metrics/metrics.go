package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RelayDeliveries counts finished deliveries by payload kind and outcome.
	RelayDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anonchat_relay_deliveries_total",
		Help: "The total number of relay deliveries by kind and status",
	}, []string{"kind", "status"})

	RelayRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anonchat_relay_retries_total",
		Help: "The total number of delivery retries",
	})

	RelayPanics = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anonchat_relay_panics_total",
		Help: "The total number of recovered worker panics",
	})

	// Commands counts handled inbound commands by name and outcome.
	Commands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anonchat_commands_total",
		Help: "The total number of handled commands by command and outcome",
	}, []string{"command", "outcome"})

	SessionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anonchat_session_transitions_total",
		Help: "The total number of committed session transitions by operation",
	}, []string{"op"})

	StoreConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anonchat_store_conflicts_total",
		Help: "The total number of versioned writes rejected by a concurrent update",
	})

	StorageErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anonchat_storage_errors_total",
		Help: "The total number of storage failures by operation",
	}, []string{"op"})
)
