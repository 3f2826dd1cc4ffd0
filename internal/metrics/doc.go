/*
Package metrics exports grid loading and cache activity to Prometheus.

A Collector owns a private registry with these series (names carry the
configured namespace and subsystem):

	grid_loads_total{source,status}      tree and header reads
	grid_load_duration_seconds{source}   read latency
	grid_load_bytes{source}              in-memory size of loaded trees
	cache_requests_total{cache,type}     hits and misses for the file and tree caches
	cache_evictions_total{cache}         entries dropped from either cache
	tree_cache_bytes                     memory charged to the tree cache
	cached_grid_handles                  handles held by the file cache
	unload_sweeps_total                  UnloadUnused passes
	errors_total{operation,code}         failures by pkg/errors code

Alongside the Prometheus series the collector keeps per-source averages
that GetMetrics and /debug/operations report.

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      9464,
		Path:      "/metrics",
		Namespace: "volgrid",
	})
	if err != nil {
		return err
	}
	if err := collector.Start(ctx); err != nil {
		return err
	}
	defer collector.Stop(ctx)

A nil *Collector and a disabled one are both valid and record nothing, so
components can take an optional collector without nil checks.
*/
package metrics
