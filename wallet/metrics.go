package wallet

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// refreshTotal counts completed UTXO refresh cycles.
	refreshTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tidewallet_utxo_refresh_total",
		Help: "Completed UTXO refresh cycles",
	})

	// refreshDropped counts refresh triggers dropped because a refresh
	// was already in flight.
	refreshDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tidewallet_utxo_refresh_dropped_total",
		Help: "Refresh triggers dropped while a refresh was in " +
			"flight",
	})

	// refreshStale counts refresh results discarded because the wallet
	// state epoch moved while the refresh was in flight.
	refreshStale = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tidewallet_utxo_refresh_stale_total",
		Help: "Refresh results discarded as stale",
	})

	// unblindFailures counts outputs kept opaque after a failed
	// unblinding attempt.
	unblindFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tidewallet_unblind_failures_total",
		Help: "Outputs kept opaque after failed unblinding",
	})

	// explorerErrors counts per-address explorer failures folded into
	// scan summaries.
	explorerErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tidewallet_explorer_errors_total",
		Help: "Per-address explorer fetch failures",
	})
)
