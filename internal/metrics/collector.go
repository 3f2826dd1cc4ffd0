package metrics

import (
	"context"
	"encoding/json"
	stderr "errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/volgrid/volgrid/pkg/errors"
	"github.com/volgrid/volgrid/pkg/health"
)

// Cache names used as label values.
const (
	CacheFile = "file"
	CacheTree = "tree"
)

// Collector records grid loading and cache activity. A nil or disabled
// Collector accepts every call and records nothing.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry

	loadCounter    *prometheus.CounterVec
	loadDuration   *prometheus.HistogramVec
	loadSize       *prometheus.HistogramVec
	cacheRequests  *prometheus.CounterVec
	cacheEvictions *prometheus.CounterVec
	treeCacheBytes prometheus.Gauge
	cachedHandles  prometheus.Gauge
	unloadSweeps   prometheus.Counter
	errorCounter   *prometheus.CounterVec

	operations map[string]*OperationMetrics
	lastReset  time.Time
	health     *health.Tracker

	server *http.Server
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool              `yaml:"enabled"`
	Port      int               `yaml:"port"`
	Path      string            `yaml:"path"`
	Labels    map[string]string `yaml:"labels"`
	Namespace string            `yaml:"namespace"`
	Subsystem string            `yaml:"subsystem"`
}

// DefaultConfig returns the configuration NewCollector uses for nil.
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Port:      9464,
		Path:      "/metrics",
		Namespace: "volgrid",
		Labels:    make(map[string]string),
	}
}

// OperationMetrics tracks metrics for a specific operation type
type OperationMetrics struct {
	Count         int64         `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	TotalSize     int64         `json:"total_size"`
	Errors        int64         `json:"errors"`
	LastOperation time.Time     `json:"last_operation"`
	AvgDuration   time.Duration `json:"avg_duration"`
	AvgSize       float64       `json:"avg_size"`
}

// NewCollector creates a new metrics collector
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	collector := &Collector{
		config:     config,
		registry:   prometheus.NewRegistry(),
		operations: make(map[string]*OperationMetrics),
		lastReset:  time.Now(),
	}
	collector.initMetrics()

	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return collector, nil
}

func (c *Collector) enabled() bool {
	return c != nil && c.config != nil && c.config.Enabled
}

// Registry returns the Prometheus registry, or nil when disabled.
func (c *Collector) Registry() *prometheus.Registry {
	if !c.enabled() {
		return nil
	}
	return c.registry
}

// Handler serves the registry together with health and debug endpoints.
func (c *Collector) Handler() http.Handler {
	mux := http.NewServeMux()
	if !c.enabled() {
		mux.Handle("/", http.NotFoundHandler())
		return mux
	}
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", c.healthHandler)
	mux.HandleFunc("/debug/operations", c.debugOperationsHandler)
	return mux
}

// Start serves Handler on the configured port until Stop.
func (c *Collector) Start(ctx context.Context) error {
	if !c.enabled() {
		return nil
	}

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           c.Handler(),
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("Metrics server error: %v\n", err)
		}
	}()
	return nil
}

// Stop stops the metrics collection server
func (c *Collector) Stop(ctx context.Context) error {
	if c == nil || c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}

// RecordLoad records one tree or header read. source is "local", "s3",
// "resample" or similar.
func (c *Collector) RecordLoad(source string, duration time.Duration, size int64, err error) {
	if !c.enabled() {
		return
	}
	success := err == nil

	c.mu.Lock()
	metrics, exists := c.operations[source]
	if !exists {
		metrics = &OperationMetrics{}
		c.operations[source] = metrics
	}
	metrics.Count++
	metrics.TotalDuration += duration
	metrics.TotalSize += size
	if !success {
		metrics.Errors++
	}
	metrics.LastOperation = time.Now()
	metrics.AvgDuration = time.Duration(int64(metrics.TotalDuration) / metrics.Count)
	metrics.AvgSize = float64(metrics.TotalSize) / float64(metrics.Count)
	c.mu.Unlock()

	status := "success"
	if !success {
		status = "error"
	}
	c.loadCounter.With(prometheus.Labels{"source": source, "status": status}).Inc()
	c.loadDuration.With(prometheus.Labels{"source": source}).Observe(duration.Seconds())
	if size > 0 {
		c.loadSize.With(prometheus.Labels{"source": source}).Observe(float64(size))
	}
	if !success {
		c.RecordError("load_"+source, err)
	}
}

// RecordCacheHit records a lookup served from cache.
func (c *Collector) RecordCacheHit(cache string) {
	if !c.enabled() {
		return
	}
	c.cacheRequests.With(prometheus.Labels{"cache": cache, "type": "hit"}).Inc()
}

// RecordCacheMiss records a lookup that had to read or build an entry.
func (c *Collector) RecordCacheMiss(cache string) {
	if !c.enabled() {
		return
	}
	c.cacheRequests.With(prometheus.Labels{"cache": cache, "type": "miss"}).Inc()
}

// RecordEviction records n entries dropped from cache.
func (c *Collector) RecordEviction(cache string, n int) {
	if !c.enabled() || n <= 0 {
		return
	}
	c.cacheEvictions.With(prometheus.Labels{"cache": cache}).Add(float64(n))
}

// RecordUnloadSweep records one pass that dropped unused handles.
func (c *Collector) RecordUnloadSweep(evicted int) {
	if !c.enabled() {
		return
	}
	c.unloadSweeps.Inc()
	c.RecordEviction(CacheFile, evicted)
}

func (c *Collector) UpdateTreeCacheSize(bytes int64) {
	if !c.enabled() {
		return
	}
	c.treeCacheBytes.Set(float64(bytes))
}

func (c *Collector) UpdateCachedHandles(n int) {
	if !c.enabled() {
		return
	}
	c.cachedHandles.Set(float64(n))
}

// RecordError counts err under its error code.
func (c *Collector) RecordError(operation string, err error) {
	if !c.enabled() || err == nil {
		return
	}
	c.errorCounter.With(prometheus.Labels{
		"operation": operation,
		"code":      classifyError(err),
	}).Inc()
}

// GetMetrics returns a snapshot of per-source load statistics.
func (c *Collector) GetMetrics() map[string]interface{} {
	metrics := make(map[string]interface{})
	if !c.enabled() {
		return metrics
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	operations := make(map[string]OperationMetrics, len(c.operations))
	for k, v := range c.operations {
		operations[k] = *v
	}
	metrics["operations"] = operations
	metrics["last_reset"] = c.lastReset
	metrics["uptime"] = time.Since(c.lastReset)
	return metrics
}

// ResetMetrics clears the per-source statistics. Prometheus series are
// cumulative and are not reset.
func (c *Collector) ResetMetrics() {
	if !c.enabled() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.operations = make(map[string]*OperationMetrics)
	c.lastReset = time.Now()
}

func (c *Collector) initMetrics() {
	ns, sub := c.config.Namespace, c.config.Subsystem
	labels := prometheus.Labels(c.config.Labels)

	c.loadCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "grid_loads_total",
			Help:        "Total number of grid reads",
			ConstLabels: labels,
		},
		[]string{"source", "status"},
	)

	c.loadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "grid_load_duration_seconds",
			Help:        "Duration of grid reads in seconds",
			Buckets:     prometheus.ExponentialBuckets(0.0005, 2, 16), // 0.5ms to ~16s
			ConstLabels: labels,
		},
		[]string{"source"},
	)

	c.loadSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "grid_load_bytes",
			Help:        "In-memory size of loaded trees in bytes",
			Buckets:     prometheus.ExponentialBuckets(1024, 4, 12), // 1KB to ~4GB
			ConstLabels: labels,
		},
		[]string{"source"},
	)

	c.cacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "cache_requests_total",
			Help:        "Total number of cache lookups",
			ConstLabels: labels,
		},
		[]string{"cache", "type"},
	)

	c.cacheEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "cache_evictions_total",
			Help:        "Total number of cache entries evicted",
			ConstLabels: labels,
		},
		[]string{"cache"},
	)

	c.treeCacheBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   ns,
		Subsystem:   sub,
		Name:        "tree_cache_bytes",
		Help:        "Memory charged to the tree cache",
		ConstLabels: labels,
	})

	c.cachedHandles = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   ns,
		Subsystem:   sub,
		Name:        "cached_grid_handles",
		Help:        "Grid handles held by the file cache",
		ConstLabels: labels,
	})

	c.unloadSweeps = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   ns,
		Subsystem:   sub,
		Name:        "unload_sweeps_total",
		Help:        "Number of unused-handle sweeps",
		ConstLabels: labels,
	})

	c.errorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "errors_total",
			Help:        "Total number of errors by code",
			ConstLabels: labels,
		},
		[]string{"operation", "code"},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.loadCounter,
		c.loadDuration,
		c.loadSize,
		c.cacheRequests,
		c.cacheEvictions,
		c.treeCacheBytes,
		c.cachedHandles,
		c.unloadSweeps,
		c.errorCounter,
	}
	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}
	return nil
}

func classifyError(err error) string {
	var gridErr *errors.GridError
	if stderr.As(err, &gridErr) {
		return string(gridErr.Code)
	}
	if errors.IsIOError(err) {
		return "io"
	}
	return "other"
}

// SetHealth makes /health report the sources tracked by t.
func (c *Collector) SetHealth(t *health.Tracker) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.health = t
}

// healthHandler answers 503 once any source is unavailable.
func (c *Collector) healthHandler(w http.ResponseWriter, _ *http.Request) {
	c.mu.RLock()
	tracker := c.health
	c.mu.RUnlock()

	body := map[string]interface{}{
		"service": "volgrid-metrics",
		"status":  health.StateHealthy,
	}
	code := http.StatusOK
	if tracker != nil {
		overall := tracker.GetOverallHealth()
		body["status"] = overall
		body["sources"] = tracker.Components()
		if overall == health.StateUnavailable {
			code = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func (c *Collector) debugOperationsHandler(w http.ResponseWriter, _ *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain")
	writef := func(format string, args ...interface{}) { _, _ = fmt.Fprintf(w, format, args...) }

	writef("Grid Loads\n")
	writef("==========\n\n")
	writef("Uptime: %v\n\n", time.Since(c.lastReset).Round(time.Second))

	if len(c.operations) == 0 {
		writef("No loads recorded.\n")
		return
	}

	names := make([]string, 0, len(c.operations))
	for name := range c.operations {
		names = append(names, name)
	}
	sort.Strings(names)

	writef("%-12s %10s %10s %14s %14s\n", "Source", "Count", "Errors", "Avg Duration", "Avg Size")
	for _, name := range names {
		op := c.operations[name]
		writef("%-12s %10d %10d %14v %14.0f\n", name, op.Count, op.Errors, op.AvgDuration, op.AvgSize)
	}
}
