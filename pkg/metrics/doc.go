/*
Package metrics defines the Prometheus collectors exposed by zb's install
pipeline: download throughput, plan/install/upgrade duration histograms,
store size and entry-count gauges, and garbage-collection counters.

Metrics are package-level variables registered at init against the default
Prometheus registry. Handler returns an http.Handler for mounting a
/metrics endpoint; Collector periodically samples the store and catalog
for the gauges that don't change on every write (store size, entry count,
installed package count).

	metrics.DownloadBytesTotal.Add(float64(n))

	timer := metrics.NewTimer()
	_, err := in.Execute(ctx, plan, true)
	timer.ObserveDuration(metrics.InstallDuration)
*/
package metrics
