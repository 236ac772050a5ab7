// Package metrics provides Prometheus metrics for portal-sync.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	loginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_sync_login_attempts_total",
			Help: "Total login handshakes by result",
		},
		[]string{"result"},
	)

	listingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_sync_listings_total",
			Help: "Total directory listings by status",
		},
		[]string{"status"},
	)

	filesListed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "portal_sync_files_listed_total",
			Help: "Total file records returned by directory listings",
		},
	)

	downloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_sync_downloads_total",
			Help: "Total file downloads by status",
		},
		[]string{"status"},
	)

	bytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "portal_sync_bytes_downloaded_total",
			Help: "Total bytes written to local files",
		},
	)

	watchTicksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "portal_sync_watch_ticks_total",
			Help: "Total watch loop iterations",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordLogin records the outcome of a login handshake. result is "success"
// or the failure reason.
func RecordLogin(result string) {
	loginAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordListing records a directory listing and the number of records it held.
func RecordListing(success bool, files int) {
	listingsTotal.WithLabelValues(status(success)).Inc()
	filesListed.Add(float64(files))
}

// RecordDownload records a finished or failed download and its byte count.
func RecordDownload(bytes int64, success bool) {
	bytesDownloaded.Add(float64(bytes))
	downloadsTotal.WithLabelValues(status(success)).Inc()
}

// RecordWatchTick records one watch loop iteration.
func RecordWatchTick() {
	watchTicksTotal.Inc()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
