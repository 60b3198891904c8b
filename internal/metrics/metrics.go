// Package metrics registers the pipeline's Prometheus collectors. Callers
// that want them scraped serve promhttp.Handler() on a diagnostics listener.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProgramsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "epgmergr_programs_ingested_total",
		Help: "Programs persisted per guide source.",
	}, []string{"source"})

	RecordsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "epgmergr_records_skipped_total",
		Help: "Malformed guide records skipped during ingest.",
	}, []string{"source"})

	GrabAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "epgmergr_grab_attempts_total",
		Help: "Grab attempts per source and result (success, empty, error, skipped).",
	}, []string{"source", "result"})

	GrabsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "epgmergr_grabs_in_flight",
		Help: "Channels currently being grabbed.",
	})

	ChannelsDisabled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "epgmergr_channels_auto_disabled_total",
		Help: "Channels flipped to disabled by the failure threshold.",
	})

	EnrichLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "epgmergr_enrich_lookups_total",
		Help: "External metadata lookups per result (hit, miss, error, cached).",
	}, []string{"result"})
)
