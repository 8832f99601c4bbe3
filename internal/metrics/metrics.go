// Package metrics provides Prometheus collectors for the build pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "intlbuild"

// Metrics holds all pipeline collectors.
type Metrics struct {
	// FilesScanned counts source files analyzed by the catalog manager.
	FilesScanned prometheus.Counter

	// ParseErrors counts source files whose contribution was dropped
	// because they couldn't be parsed.
	ParseErrors prometheus.Counter

	// AnalysisCache counts analysis cache lookups by result (hit, miss).
	AnalysisCache *prometheus.CounterVec

	// SaveRequests counts requests submitted to the save scheduler.
	SaveRequests prometheus.Counter

	// Saves counts executed save tasks by result (ok, error).
	Saves *prometheus.CounterVec

	// CatalogWrites counts catalog file writes by locale and result.
	CatalogWrites *prometheus.CounterVec

	// OrphansMoved counts translations moved into the orphan cache.
	OrphansMoved prometheus.Counter

	// OrphansRestored counts translations restored from the orphan cache.
	OrphansRestored prometheus.Counter

	// Precompile counts message compilations by result (hit, miss).
	Precompile *prometheus.CounterVec

	// ManifestEntries counts route entries analyzed for the manifest.
	ManifestEntries prometheus.Counter
}

// New creates all collectors and registers them with reg.
// A nil reg leaves the collectors unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FilesScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_scanned_total",
			Help:      "Total number of source files analyzed for messages",
		}),
		ParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_errors_total",
			Help:      "Total number of source files that failed to parse",
		}),
		AnalysisCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_cache_total",
			Help:      "Analysis cache lookups by result",
		}, []string{"result"}),
		SaveRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "save_requests_total",
			Help:      "Total number of catalog save requests",
		}),
		Saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saves_total",
			Help:      "Executed catalog save tasks by result",
		}, []string{"result"}),
		CatalogWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_writes_total",
			Help:      "Catalog file writes by locale and result",
		}, []string{"locale", "result"}),
		OrphansMoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphans_moved_total",
			Help:      "Translations moved into the orphan cache",
		}),
		OrphansRestored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphans_restored_total",
			Help:      "Translations restored from the orphan cache",
		}),
		Precompile: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "precompile_total",
			Help:      "Message compilations by result",
		}, []string{"result"}),
		ManifestEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "manifest_entries_total",
			Help:      "Total number of route entries analyzed for the manifest",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Collectors()...)
	}
	return m
}

// OrNew returns m, or a new unregistered set if m is nil.
func OrNew(m *Metrics) *Metrics {
	if m == nil {
		return New(nil)
	}
	return m
}

// Collectors returns all collectors of m.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.FilesScanned,
		m.ParseErrors,
		m.AnalysisCache,
		m.SaveRequests,
		m.Saves,
		m.CatalogWrites,
		m.OrphansMoved,
		m.OrphansRestored,
		m.Precompile,
		m.ManifestEntries,
	}
}
