package memmon

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"time"
)

// Profiler writes pprof snapshots into a directory.
type Profiler struct {
	outputDir string
}

// NewProfiler creates outputDir if needed.
func NewProfiler(outputDir string) (*Profiler, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("create profile directory: %w", err)
	}
	return &Profiler{outputDir: outputDir}, nil
}

// WriteHeapProfile writes a heap profile after a GC and returns its path.
// An empty filename picks a timestamped one.
func (p *Profiler) WriteHeapProfile(filename string) (string, error) {
	if filename == "" {
		filename = fmt.Sprintf("heap_%d.prof", time.Now().UnixNano())
	}
	runtime.GC()
	return p.write(filename, func(f *os.File) error {
		return pprof.WriteHeapProfile(f)
	})
}

// WriteGoroutineProfile writes a goroutine dump and returns its path.
func (p *Profiler) WriteGoroutineProfile(filename string) (string, error) {
	if filename == "" {
		filename = fmt.Sprintf("goroutine_%d.prof", time.Now().UnixNano())
	}
	return p.write(filename, func(f *os.File) error {
		return pprof.Lookup("goroutine").WriteTo(f, 2)
	})
}

func (p *Profiler) write(filename string, fn func(*os.File) error) (path string, err error) {
	path = filepath.Join(p.outputDir, filename)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create profile: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if err := fn(f); err != nil {
		return "", fmt.Errorf("write profile %s: %w", filename, err)
	}
	return path, nil
}
