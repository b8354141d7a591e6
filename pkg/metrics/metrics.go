package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Download metrics
	DownloadBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zb_download_bytes_total",
			Help: "Total bytes downloaded across all archives",
		},
	)

	DownloadsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "zb_downloads_in_flight",
			Help: "Number of archive downloads currently in progress",
		},
	)

	DownloadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "zb_download_duration_seconds",
			Help:    "Time taken to download a single archive in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	DownloadFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zb_download_failures_total",
			Help: "Total download failures by reason",
		},
		[]string{"reason"},
	)

	// Store / cellar metrics
	StoreSizeBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "zb_store_size_bytes",
			Help: "Total size of the content-addressed store on disk",
		},
	)

	StoreEntriesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "zb_store_entries_total",
			Help: "Number of distinct blobs materialized in the store",
		},
	)

	StoreCorruptionRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zb_store_corruption_retries_total",
			Help: "Total number of corrupted-blob re-downloads triggered during extraction",
		},
	)

	// Resolve / plan metrics
	PlanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "zb_plan_duration_seconds",
			Help:    "Time taken to resolve a dependency closure into an install plan",
			Buckets: prometheus.DefBuckets,
		},
	)

	PlanStepsTotal = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "zb_plan_steps_total",
			Help:    "Number of packages in a resolved install plan",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		},
	)

	// Install/uninstall/upgrade metrics
	InstallDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "zb_install_duration_seconds",
			Help:    "Time taken to execute an install plan end to end",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		},
	)

	PackagesInstalledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zb_packages_installed_total",
			Help: "Total number of packages successfully installed",
		},
	)

	PackagesUninstalledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zb_packages_uninstalled_total",
			Help: "Total number of packages uninstalled",
		},
	)

	UpgradeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "zb_upgrade_duration_seconds",
			Help:    "Time taken to upgrade a package in place",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		},
	)

	// GC metrics
	GCRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zb_gc_runs_total",
			Help: "Total number of garbage collection sweeps executed",
		},
	)

	GCKegsRemovedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zb_gc_kegs_removed_total",
			Help: "Total number of unreferenced store entries removed by GC",
		},
	)

	GCBytesReclaimedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zb_gc_bytes_reclaimed_total",
			Help: "Total bytes reclaimed by garbage collection",
		},
	)

	// Catalog metrics
	CatalogTxTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zb_catalog_tx_total",
			Help: "Total catalog transactions by outcome",
		},
		[]string{"outcome"},
	)

	InstalledPackagesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "zb_installed_packages_total",
			Help: "Current number of packages recorded as installed in the catalog",
		},
	)
)

func init() {
	prometheus.MustRegister(
		DownloadBytesTotal,
		DownloadsInFlight,
		DownloadDuration,
		DownloadFailuresTotal,
		StoreSizeBytes,
		StoreEntriesTotal,
		StoreCorruptionRetriesTotal,
		PlanDuration,
		PlanStepsTotal,
		InstallDuration,
		PackagesInstalledTotal,
		PackagesUninstalledTotal,
		UpgradeDuration,
		GCRunsTotal,
		GCKegsRemovedTotal,
		GCBytesReclaimedTotal,
		CatalogTxTotal,
		InstalledPackagesTotal,
	)
}

// Handler returns the Prometheus HTTP handler for a /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations and observing the elapsed
// duration into a histogram.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer starting now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
