package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "replmap"

// Metrics holds the collectors of a single replicated map. Collectors are
// created per map so that several maps can live in one process.
type Metrics struct {
	// Envelopes handed to the group, labeled by op.
	Broadcasts *prometheus.CounterVec

	// Envelopes that could not be sent and were dropped.
	SendFailures prometheus.Counter

	// Envelopes applied to the local store, labeled by op.
	Deliveries *prometheus.CounterVec

	// Delivered payloads that could not be decoded.
	DecodeFailures prometheus.Counter

	// State transfers, labeled by role (provider, startup, merge) and result.
	StateTransfers *prometheus.CounterVec

	// Merge resolutions, labeled by outcome (primary, resynced, failed).
	MergeResolutions *prometheus.CounterVec

	// Merge views discarded because the queue was full.
	MergesDropped prometheus.Counter

	// Current number of entries in the local store.
	StoreEntries prometheus.Gauge

	// Number of members in the current view.
	ViewMembers prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg leaves
// the collectors unregistered; they still count.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Broadcasts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "broadcasts_total",
				Help:      "Total number of envelopes broadcast to the group.",
			},
			[]string{"op"},
		),
		SendFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "send_failures_total",
				Help:      "Total number of envelopes dropped because the send failed.",
			},
		),
		Deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deliveries_total",
				Help:      "Total number of envelopes applied to the local store.",
			},
			[]string{"op"},
		),
		DecodeFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decode_failures_total",
				Help:      "Total number of delivered messages that could not be decoded.",
			},
		),
		StateTransfers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_transfers_total",
				Help:      "Total number of state transfers by role and result.",
			},
			[]string{"role", "result"},
		),
		MergeResolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "merge_resolutions_total",
				Help:      "Total number of resolved merge views by outcome.",
			},
			[]string{"outcome"},
		),
		MergesDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "merges_dropped_total",
				Help:      "Total number of merge views superseded before they were resolved.",
			},
		),
		StoreEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "store_entries",
				Help:      "Current number of entries in the local store.",
			},
		),
		ViewMembers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "view_members",
				Help:      "Number of members in the current view.",
			},
		),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Broadcasts, m.SendFailures, m.Deliveries, m.DecodeFailures,
		m.StateTransfers, m.MergeResolutions, m.MergesDropped, m.StoreEntries, m.ViewMembers,
	}
}

// Handler exposes the metrics gathered by g. Mount it with mux.Handle("/metrics", telemetry.Handler(reg)).
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
