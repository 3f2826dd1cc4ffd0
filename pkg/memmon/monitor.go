// Package memmon samples process memory and trims registered caches when
// the heap grows past a high watermark.
package memmon

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/volgrid/volgrid/pkg/types"
	"github.com/volgrid/volgrid/pkg/utils"
)

// MonitorConfig configures memory monitoring behavior
type MonitorConfig struct {
	// SampleInterval is how often to collect memory stats
	SampleInterval time.Duration

	// HighWatermark is the HeapAlloc, in bytes, above which reclaimers
	// run. Zero disables reclaiming.
	HighWatermark int64

	// AlertThreshold is the percentage of memory growth that triggers an alert
	AlertThreshold float64

	// MaxSamples is the number of samples to keep in history
	MaxSamples int

	// GCPercentage sets GOGC percentage (default 100, 0 = leave unchanged)
	GCPercentage int

	// Logger for monitoring events
	Logger *utils.StructuredLogger
}

// DefaultMonitorConfig returns sensible defaults
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		SampleInterval: 10 * time.Second,
		AlertThreshold: 50.0,
		MaxSamples:     100,
	}
}

// MemorySample represents a memory usage sample
type MemorySample struct {
	Timestamp     time.Time
	Alloc         uint64 // bytes allocated and still in use
	Sys           uint64 // bytes obtained from system
	NumGC         uint32 // number of completed GC cycles
	NumGoroutine  int
	HeapAlloc     uint64
	HeapInuse     uint64
	GCCPUFraction float64
}

// MemoryAlert represents a memory alert
type MemoryAlert struct {
	Timestamp   time.Time
	AlertType   AlertType
	Message     string
	CurrentMem  uint64
	BaselineMem uint64
	GrowthPct   float64
}

// AlertType represents the type of memory alert
type AlertType int

const (
	AlertTypeMemoryGrowth AlertType = iota
	AlertTypeHighWatermark
	AlertTypeGCPressure
)

// String returns the string representation of alert type
func (t AlertType) String() string {
	switch t {
	case AlertTypeMemoryGrowth:
		return "memory_growth"
	case AlertTypeHighWatermark:
		return "high_watermark"
	case AlertTypeGCPressure:
		return "gc_pressure"
	default:
		return "unknown"
	}
}

type namedReclaimer struct {
	name string
	r    types.Reclaimer
}

// MemoryMonitor samples memory and runs reclaimers under pressure.
type MemoryMonitor struct {
	config    MonitorConfig
	logger    *utils.StructuredLogger
	readStats func() MemorySample

	mu             sync.RWMutex
	samples        []MemorySample
	baselineSet    bool
	baselineSample MemorySample
	currentSample  MemorySample
	alerts         []MemoryAlert
	reclaimers     []namedReclaimer
	reclaimed      int64
	reclaimRuns    int

	stopCh chan struct{}
	wg     sync.WaitGroup
	active int32
}

// NewMemoryMonitor creates a new memory monitor
func NewMemoryMonitor(config MonitorConfig) *MemoryMonitor {
	if config.Logger == nil {
		config.Logger = utils.NewNopLogger()
	}
	if config.SampleInterval <= 0 {
		config.SampleInterval = DefaultMonitorConfig().SampleInterval
	}
	if config.MaxSamples <= 0 {
		config.MaxSamples = DefaultMonitorConfig().MaxSamples
	}
	if config.GCPercentage > 0 {
		debug.SetGCPercent(config.GCPercentage)
	}

	return &MemoryMonitor{
		config:    config,
		logger:    config.Logger.WithComponent("memmon"),
		readStats: readRuntimeStats,
		samples:   make([]MemorySample, 0, config.MaxSamples),
		stopCh:    make(chan struct{}),
	}
}

// Register adds a reclaimer. Reclaimers run in registration order, so
// register the cheapest to rebuild first.
func (mm *MemoryMonitor) Register(name string, r types.Reclaimer) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.reclaimers = append(mm.reclaimers, namedReclaimer{name: name, r: r})
}

// Start begins memory monitoring
func (mm *MemoryMonitor) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&mm.active, 0, 1) {
		return fmt.Errorf("monitor already running")
	}

	mm.logger.Info("Starting memory monitor", map[string]interface{}{
		"sample_interval": mm.config.SampleInterval,
		"high_watermark":  utils.FormatBytes(mm.config.HighWatermark),
	})

	mm.wg.Add(1)
	go mm.monitorLoop(ctx)
	return nil
}

// Stop stops memory monitoring
func (mm *MemoryMonitor) Stop() error {
	if !atomic.CompareAndSwapInt32(&mm.active, 1, 0) {
		return nil
	}
	mm.logger.Info("Stopping memory monitor")
	close(mm.stopCh)
	mm.wg.Wait()
	return nil
}

func (mm *MemoryMonitor) monitorLoop(ctx context.Context) {
	defer mm.wg.Done()

	ticker := time.NewTicker(mm.config.SampleInterval)
	defer ticker.Stop()

	mm.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-mm.stopCh:
			return
		case <-ticker.C:
			mm.Check(ctx)
		}
	}
}

// Check takes one sample and, when the heap is above the high watermark,
// runs reclaimers until it is back below or all have run. It returns the
// bytes the reclaimers reported.
func (mm *MemoryMonitor) Check(ctx context.Context) int64 {
	sample := mm.takeSample()
	mm.analyzeMemory()

	limit := mm.config.HighWatermark
	if limit <= 0 || int64(sample.HeapAlloc) <= limit {
		return 0
	}

	mm.mu.Lock()
	mm.generateAlert(AlertTypeHighWatermark, fmt.Sprintf(
		"heap %s above high watermark %s",
		utils.FormatBytes(int64(sample.HeapAlloc)), utils.FormatBytes(limit),
	), sample.HeapAlloc, uint64(limit), 0)
	reclaimers := append([]namedReclaimer(nil), mm.reclaimers...)
	mm.mu.Unlock()

	var freed int64
	for _, nr := range reclaimers {
		if ctx.Err() != nil {
			break
		}
		n := nr.r.Reclaim(ctx)
		freed += n
		mm.logger.Debug("reclaimer ran", map[string]interface{}{
			"reclaimer": nr.name,
			"freed":     utils.FormatBytes(n),
		})
		if int64(sample.HeapAlloc)-freed <= limit {
			break
		}
	}
	runtime.GC()

	after := mm.takeSample()
	mm.mu.Lock()
	mm.reclaimed += freed
	mm.reclaimRuns++
	mm.mu.Unlock()

	mm.logger.Info("Reclaimed memory", map[string]interface{}{
		"reported": utils.FormatBytes(freed),
		"before":   utils.FormatBytes(int64(sample.HeapAlloc)),
		"after":    utils.FormatBytes(int64(after.HeapAlloc)),
	})
	return freed
}

func readRuntimeStats() MemorySample {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	return MemorySample{
		Timestamp:     time.Now(),
		Alloc:         memStats.Alloc,
		Sys:           memStats.Sys,
		NumGC:         memStats.NumGC,
		NumGoroutine:  runtime.NumGoroutine(),
		HeapAlloc:     memStats.HeapAlloc,
		HeapInuse:     memStats.HeapInuse,
		GCCPUFraction: memStats.GCCPUFraction,
	}
}

func (mm *MemoryMonitor) takeSample() MemorySample {
	sample := mm.readStats()

	mm.mu.Lock()
	defer mm.mu.Unlock()

	if !mm.baselineSet {
		mm.baselineSample = sample
		mm.baselineSet = true
	}
	mm.currentSample = sample
	mm.samples = append(mm.samples, sample)
	if len(mm.samples) > mm.config.MaxSamples {
		mm.samples = mm.samples[1:]
	}
	return sample
}

func (mm *MemoryMonitor) analyzeMemory() {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	if !mm.baselineSet || len(mm.samples) < 2 {
		return
	}
	baseline := mm.baselineSample
	current := mm.currentSample

	if baseline.Alloc > 0 && mm.config.AlertThreshold > 0 {
		growthPct := (float64(current.Alloc) - float64(baseline.Alloc)) / float64(baseline.Alloc) * 100
		if growthPct > mm.config.AlertThreshold {
			mm.generateAlert(AlertTypeMemoryGrowth, fmt.Sprintf(
				"Memory usage increased by %.2f%% (from %d to %d bytes)",
				growthPct, baseline.Alloc, current.Alloc,
			), current.Alloc, baseline.Alloc, growthPct)
		}
	}

	if current.GCCPUFraction > 0.05 {
		mm.generateAlert(AlertTypeGCPressure, fmt.Sprintf(
			"GC using %.2f%% of CPU time (threshold 5%%)",
			current.GCCPUFraction*100,
		), uint64(current.GCCPUFraction*100), 5, current.GCCPUFraction*100)
	}
}

// generateAlert must be called with mm.mu held.
func (mm *MemoryMonitor) generateAlert(alertType AlertType, message string, current, baseline uint64, growthPct float64) {
	mm.alerts = append(mm.alerts, MemoryAlert{
		Timestamp:   time.Now(),
		AlertType:   alertType,
		Message:     message,
		CurrentMem:  current,
		BaselineMem: baseline,
		GrowthPct:   growthPct,
	})
	if len(mm.alerts) > mm.config.MaxSamples {
		mm.alerts = mm.alerts[1:]
	}

	mm.logger.Warn("Memory alert", map[string]interface{}{
		"type":    alertType.String(),
		"message": message,
	})
}

// MemoryStats provides memory statistics
type MemoryStats struct {
	CurrentSample       MemorySample
	BaselineSample      MemorySample
	SampleCount         int
	AlertCount          int
	GrowthSinceBaseline float64
	ReclaimRuns         int
	ReclaimedBytes      int64
}

// GetStats returns current memory statistics
func (mm *MemoryMonitor) GetStats() MemoryStats {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	stats := MemoryStats{
		CurrentSample:  mm.currentSample,
		BaselineSample: mm.baselineSample,
		SampleCount:    len(mm.samples),
		AlertCount:     len(mm.alerts),
		ReclaimRuns:    mm.reclaimRuns,
		ReclaimedBytes: mm.reclaimed,
	}
	if mm.baselineSet && mm.baselineSample.Alloc > 0 {
		stats.GrowthSinceBaseline = (float64(mm.currentSample.Alloc) - float64(mm.baselineSample.Alloc)) /
			float64(mm.baselineSample.Alloc) * 100
	}
	return stats
}

// GetAlerts returns all memory alerts
func (mm *MemoryMonitor) GetAlerts() []MemoryAlert {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return append([]MemoryAlert(nil), mm.alerts...)
}

// GetSamples returns memory sample history
func (mm *MemoryMonitor) GetSamples() []MemorySample {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return append([]MemorySample(nil), mm.samples...)
}

// ResetBaseline resets the baseline to current memory usage
func (mm *MemoryMonitor) ResetBaseline() {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.baselineSample = mm.currentSample
}

// ClearAlerts clears all alerts
func (mm *MemoryMonitor) ClearAlerts() {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.alerts = nil
}
