package adapter

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/volgrid/volgrid/internal/cache"
	"github.com/volgrid/volgrid/internal/config"
	"github.com/volgrid/volgrid/internal/container"
	"github.com/volgrid/volgrid/internal/filecache"
	"github.com/volgrid/volgrid/internal/grid"
	"github.com/volgrid/volgrid/internal/metrics"
	"github.com/volgrid/volgrid/internal/storage/s3"
	"github.com/volgrid/volgrid/pkg/health"
	"github.com/volgrid/volgrid/pkg/memmon"
	"github.com/volgrid/volgrid/pkg/utils"
)

// Adapter owns a grid file cache together with the services configured
// around it: object storage, metrics, source health and the memory monitor.
type Adapter struct {
	config  *config.Configuration
	logger  *utils.StructuredLogger
	cache   *filecache.Cache
	metrics *metrics.Collector
	health  *health.Tracker
	monitor *memmon.MemoryMonitor

	mu      sync.Mutex
	started bool
}

// New builds an adapter from cfg. Nothing runs in the background until
// Start.
func New(ctx context.Context, cfg *config.Configuration) (*Adapter, error) {
	if cfg == nil {
		cfg = config.NewDefault()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := cfg.Logger()
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	collector, err := metrics.NewCollector(cfg.MetricsCollector())
	if err != nil {
		return nil, fmt.Errorf("create metrics collector: %w", err)
	}

	treeBytes, err := cfg.TreeCacheBytes()
	if err != nil {
		return nil, fmt.Errorf("invalid tree cache size: %w", err)
	}

	tracker := health.NewTracker(cfg.Monitoring.Health)
	collector.SetHealth(tracker)
	router := container.Router{Local: container.LocalOpener{}}
	tracker.RegisterComponent("local")
	if cfg.Storage.S3.Enabled {
		router.Remote = s3.NewOpener(cfg.S3Backend())
		tracker.RegisterComponent("s3")
	}

	a := &Adapter{
		config:  cfg,
		logger:  logger.WithComponent("adapter"),
		metrics: collector,
		health:  tracker,
	}
	tracker.OnStateChange(func(component string, oldState, newState health.HealthState, err error) {
		fields := map[string]interface{}{
			"source": component,
			"from":   oldState.String(),
			"to":     newState.String(),
		}
		if err != nil {
			fields["error"] = err.Error()
		}
		a.logger.Warn("Grid source health changed", fields)
	})
	a.cache = filecache.New(filecache.Options{
		Opener: router,
		Trees: cache.Config{
			MaxSize:    treeBytes,
			MaxEntries: cfg.Cache.MaxEntries,
		},
		MaxSimplifyLevel: cfg.Cache.MaxSimplifyLevel,
		Logger:           logger,
		Metrics:          collector,
		Health:           tracker,
	})

	if cfg.Memory.Enabled {
		watermark, err := cfg.HighWatermarkBytes()
		if err != nil {
			return nil, fmt.Errorf("invalid high watermark: %w", err)
		}
		a.monitor = memmon.NewMemoryMonitor(memmon.MonitorConfig{
			SampleInterval: cfg.Memory.SampleInterval,
			HighWatermark:  watermark,
			AlertThreshold: memmon.DefaultMonitorConfig().AlertThreshold,
			GCPercentage:   cfg.Memory.GCPercentage,
			Logger:         logger,
		})
		a.monitor.Register("filecache", a.cache.Reclaimer())
	}

	return a, nil
}

// Start launches the metrics endpoint and the memory monitor.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return fmt.Errorf("adapter already started")
	}

	a.logger.Info("Starting volgrid", map[string]interface{}{
		"tree_cache":   a.config.Cache.TreeCacheSize,
		"s3_enabled":   a.config.Storage.S3.Enabled,
		"metrics":      a.config.Monitoring.Metrics.Enabled,
		"memory_watch": a.monitor != nil,
	})

	if err := a.metrics.Start(ctx); err != nil {
		return fmt.Errorf("start metrics: %w", err)
	}
	if a.monitor != nil {
		if err := a.monitor.Start(ctx); err != nil {
			_ = a.metrics.Stop(ctx)
			return fmt.Errorf("start memory monitor: %w", err)
		}
	}
	a.started = true
	return nil
}

// Stop shuts the background services down. Cached grids stay usable.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return nil
	}
	a.logger.Info("Stopping volgrid")

	if a.monitor != nil {
		_ = a.monitor.Stop()
	}
	err := a.metrics.Stop(ctx)
	a.started = false
	return err
}

// Running reports whether background services are started.
func (a *Adapter) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.started
}

// Close stops the adapter and releases the log file.
func (a *Adapter) Close(ctx context.Context) error {
	err := a.Stop(ctx)
	if cerr := a.logger.Close(); err == nil {
		err = cerr
	}
	return err
}

// Grid returns a grid from the cache. A negative level selects the
// configured default simplify level. Only malformed locations are reported
// as errors; read failures surface through the grid's ErrorMessage.
func (a *Adapter) Grid(location, name string, level int) (grid.GridHandle, error) {
	if err := validateGridURI(location); err != nil {
		return grid.GridHandle{}, fmt.Errorf("invalid grid location: %w", err)
	}
	if level < 0 {
		level = a.config.Cache.DefaultSimplifyLevel
	}
	return a.cache.GetGridFromFile(location, name, level), nil
}

// Grids returns every grid in the file at location.
func (a *Adapter) Grids(location string, level int) (filecache.GridsFromFile, error) {
	if err := validateGridURI(location); err != nil {
		return filecache.GridsFromFile{}, fmt.Errorf("invalid grid location: %w", err)
	}
	if level < 0 {
		level = a.config.Cache.DefaultSimplifyLevel
	}
	return a.cache.GetAllGridsFromFile(location, level), nil
}

func (a *Adapter) Cache() *filecache.Cache         { return a.cache }
func (a *Adapter) Metrics() *metrics.Collector     { return a.metrics }
func (a *Adapter) Health() *health.Tracker         { return a.health }
func (a *Adapter) Monitor() *memmon.MemoryMonitor  { return a.monitor }
func (a *Adapter) Logger() *utils.StructuredLogger { return a.logger }
func (a *Adapter) Config() *config.Configuration   { return a.config }

// validateGridURI accepts local paths, file:// URLs and s3://bucket/key.
func validateGridURI(uri string) error {
	if uri == "" {
		return fmt.Errorf("location cannot be empty")
	}
	if !strings.Contains(uri, "://") {
		return nil
	}

	parsed, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("failed to parse URI: %w", err)
	}

	switch parsed.Scheme {
	case "file":
		if parsed.Path == "" {
			return fmt.Errorf("file URI must include a path")
		}
	case "s3":
		if parsed.Host == "" {
			return fmt.Errorf("S3 URI must include bucket name")
		}
		if strings.Trim(parsed.Path, "/") == "" {
			return fmt.Errorf("S3 URI must include object key")
		}
	default:
		return fmt.Errorf("unsupported storage scheme: %s (only file:// and s3:// supported)", parsed.Scheme)
	}
	return nil
}
