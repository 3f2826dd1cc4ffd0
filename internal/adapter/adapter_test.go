package adapter

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/volgrid/volgrid/internal/config"
	"github.com/volgrid/volgrid/internal/container"
	"github.com/volgrid/volgrid/internal/grid"
	"github.com/volgrid/volgrid/internal/voxel"
)

func TestValidateGridURI(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		uri         string
		wantErr     bool
		errContains string
	}{
		{name: "local path", uri: "/data/smoke.vgrid"},
		{name: "relative path", uri: "smoke.vgrid"},
		{name: "file URI", uri: "file:///data/smoke.vgrid"},
		{name: "s3 object", uri: "s3://renders/shots/smoke.vgrid"},
		{name: "empty", uri: "", wantErr: true, errContains: "empty"},
		{name: "s3 without bucket", uri: "s3:///smoke.vgrid", wantErr: true, errContains: "bucket name"},
		{name: "s3 without key", uri: "s3://renders", wantErr: true, errContains: "object key"},
		{name: "unsupported scheme", uri: "gcs://renders/smoke.vgrid", wantErr: true, errContains: "unsupported storage scheme"},
		{name: "http scheme", uri: "http://host/smoke.vgrid", wantErr: true, errContains: "unsupported storage scheme"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateGridURI(tt.uri)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("validateGridURI(%q) = nil, want error", tt.uri)
				}
				if !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("error %q does not contain %q", err, tt.errContains)
				}
				return
			}
			if err != nil {
				t.Errorf("validateGridURI(%q) = %v", tt.uri, err)
			}
		})
	}
}

func testConfig() *config.Configuration {
	cfg := config.NewDefault()
	cfg.Memory.SampleInterval = 10 * time.Millisecond
	cfg.Cache.DefaultSimplifyLevel = 1
	return cfg
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Cache.TreeCacheSize = "lots"
	if _, err := New(context.Background(), cfg); err == nil {
		t.Fatal("New accepted an invalid tree cache size")
	}
}

func TestNew_MemoryMonitorOptional(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Memory.Enabled = false
	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.Monitor() != nil {
		t.Error("monitor created although memory watching is disabled")
	}
}

func TestAdapter_StartStop(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a, err := New(ctx, testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := a.Start(ctx); err == nil {
		t.Error("second Start succeeded")
	}

	deadline := time.Now().Add(2 * time.Second)
	for a.Monitor().GetStats().SampleCount == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if a.Monitor().GetStats().SampleCount == 0 {
		t.Error("memory monitor took no samples")
	}

	if err := a.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Stop(ctx); err != nil {
		t.Errorf("Stop after Close: %v", err)
	}
}

func TestAdapter_Grid(t *testing.T) {
	t.Parallel()

	tree := voxel.NewTypedTree(voxel.GridTypeFloat, float32(0))
	tree.SetValue(voxel.Coord{}, 2)
	tree.SetValue(voxel.Coord{X: 1}, 4)
	w := container.NewWriter()
	if err := w.AddGrid("density", voxel.GridClassFogVolume, nil, nil, tree); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "smoke.vgrid")
	if err := w.WriteFile(path); err != nil {
		t.Fatal(err)
	}

	a, err := New(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// A negative level picks the configured default of 1.
	h, err := a.Grid(path, "density", -1)
	if err != nil {
		t.Fatalf("Grid: %v", err)
	}
	defer h.Reset()
	explicit, _ := a.Grid(path, "density", 1)
	defer explicit.Reset()
	if h.Get() != explicit.Get() {
		t.Error("default level did not resolve to level 1")
	}

	var tok grid.AccessToken
	defer tok.Reset()
	typed := grid.Typed[float32](&h).Grid(&tok)
	if v, _ := typed.Value(voxel.Coord{}); v != 3 {
		t.Errorf("level 1 value = %v, want 3", v)
	}

	all, err := a.Grids(path, 0)
	if err != nil {
		t.Fatalf("Grids: %v", err)
	}
	defer all.Reset()
	if len(all.Grids) != 1 || all.ErrorMessage != "" {
		t.Errorf("Grids = %d grids, error %q", len(all.Grids), all.ErrorMessage)
	}

	if _, err := a.Grid("gcs://bucket/x.vgrid", "density", 0); err == nil {
		t.Error("unsupported scheme accepted")
	}
}
