package command

import (
	"fmt"
	"io"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/volgrid/volgrid/internal/adapter"
	"github.com/volgrid/volgrid/internal/batch"
	"github.com/volgrid/volgrid/internal/grid"
	"github.com/volgrid/volgrid/pkg/health"
	"github.com/volgrid/volgrid/pkg/types"
	"github.com/volgrid/volgrid/pkg/utils"
)

type loadReport struct {
	Path    string                   `json:"path" yaml:"path"`
	Level   int                      `json:"level" yaml:"level"`
	Error   string                   `json:"error,omitempty" yaml:"error,omitempty"`
	Grids   []gridInfo               `json:"grids" yaml:"grids"`
	Memory  string                   `json:"memory" yaml:"memory"`
	Evicted int                      `json:"evicted" yaml:"evicted"`
	Cache   types.CacheStats         `json:"cache" yaml:"cache"`
	Sources []health.ComponentHealth `json:"sources" yaml:"sources"`
	Batch   batch.Stats              `json:"batch" yaml:"batch"`
}

// LoadCommand reads grids through the cache and reports what it cost.
func LoadCommand() *cli.Command {
	return &cli.Command{
		Name:      "load",
		Usage:     "Load grids and report voxel counts, memory and cache statistics",
		ArgsUsage: "<path> [grid]...",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "level",
				Aliases: []string{"l"},
				Usage:   "Simplify level (-1 uses the configured default)",
				Value:   -1,
			},
			&cli.IntFlag{
				Name:  "parallel",
				Usage: "Maximum grids loaded at once",
				Value: batch.DefaultConcurrency,
			},
			&cli.IntFlag{
				Name:  "repeat",
				Usage: "Load this many times to exercise the cache",
				Value: 1,
			},
			&cli.BoolFlag{
				Name:  "unload",
				Usage: "Release the grids and sweep unused cache entries afterwards",
			},
		},
		Action: load,
	}
}

func load(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("load needs a path")
	}
	a, err := getAdapter(c)
	if err != nil {
		return err
	}
	format, _ := ParseFormat(c.String("output"))
	path := c.Args().First()
	names := c.Args().Tail()
	level := c.Int("level")
	if level < 0 {
		level = a.Config().Cache.DefaultSimplifyLevel
	}

	report := loadReport{Path: path, Level: level, Grids: []gridInfo{}}
	var (
		handles []grid.GridHandle
		pinned  *batch.Pinned
	)
	// Tokens go first so the trees stay loaded while the report is built.
	release := func() {
		pinned.Release()
		for i := range handles {
			handles[i].Reset()
		}
		pinned, handles = nil, nil
	}
	defer release()

	repeat := max(c.Int("repeat"), 1)
	for i := 0; i < repeat; i++ {
		release()
		handles, report.Error, err = collect(a, path, names, level)
		if err != nil {
			return err
		}
		grids := make([]*grid.GridData, len(handles))
		for j, h := range handles {
			grids[j] = h.Get()
		}
		pinned = batch.Pin(c.Context, grids, batch.Config{MaxConcurrency: c.Int("parallel")})
		report.Grids = report.Grids[:0]
		for _, r := range pinned.Results {
			report.Grids = append(report.Grids, measure(r))
		}
		report.Batch = pinned.Stats
	}

	counter := grid.NewMemoryCounter()
	for _, h := range handles {
		h.Get().CountMemory(counter)
	}
	report.Memory = utils.FormatBytes(counter.Total())

	if c.Bool("unload") {
		release()
		report.Evicted = a.Cache().UnloadUnused()
	}
	report.Cache = a.Cache().Stats()
	report.Sources = a.Health().Components()

	return render(c.App.Writer, format, report, func(w io.Writer) {
		printLoadReport(w, report)
	})
}

// collect fetches the named grids, or every grid when names is empty. An
// unknown name is an error; an unreadable file is reported, not returned.
func collect(a *adapter.Adapter, path string, names []string, level int) ([]grid.GridHandle, string, error) {
	if len(names) == 0 {
		result, err := a.Grids(path, level)
		return result.Grids, result.ErrorMessage, err
	}
	handles := make([]grid.GridHandle, 0, len(names))
	for _, name := range names {
		h, err := a.Grid(path, name, level)
		if err != nil {
			return nil, "", err
		}
		if !h.Valid() {
			for i := range handles {
				handles[i].Reset()
			}
			return nil, "", fmt.Errorf("no grid named %q in %s", name, path)
		}
		handles = append(handles, h)
	}
	return handles, "", nil
}

// measure describes a pinned grid.
func measure(r batch.Result) gridInfo {
	g := r.Grid
	info := describe(g)
	info.LoadTime = r.Duration.Round(time.Microsecond).String()
	if r.Skipped {
		info.Error = "not loaded"
		return info
	}

	n := g.ActiveVoxelCount()
	info.ActiveVoxels = &n
	if bounds, ok := g.ActiveBounds(); ok {
		info.Bounds = &bounds
	}
	counter := grid.NewMemoryCounter()
	g.CountMemory(counter)
	info.Memory = utils.FormatBytes(counter.Total())
	info.Type = g.GridType().String()
	info.Error = r.Error
	return info
}

func printLoadReport(w io.Writer, r loadReport) {
	fmt.Fprintf(w, "%s (level %d)\n", r.Path, r.Level)
	if r.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", r.Error)
	}
	for _, g := range r.Grids {
		voxels := int64(0)
		if g.ActiveVoxels != nil {
			voxels = *g.ActiveVoxels
		}
		fmt.Fprintf(w, "  grid %-16s %-14s %10d voxels %10s  %s\n", g.Name, g.Type, voxels, g.Memory, g.LoadTime)
		if g.Error != "" {
			fmt.Fprintf(w, "    error: %s\n", g.Error)
		}
	}
	fmt.Fprintf(w, "  total memory: %s (%d grids loaded in %s)\n", r.Memory, r.Batch.Loaded,
		r.Batch.Duration.Round(time.Microsecond))
	if r.Evicted > 0 {
		fmt.Fprintf(w, "  evicted %d cached grids\n", r.Evicted)
	}
	fmt.Fprintf(w, "  cache: %d files, %d handles, hit rate %.0f%%, trees %s in %d entries\n",
		r.Cache.Files, r.Cache.Handles, r.Cache.HitRate*100,
		utils.FormatBytes(r.Cache.Trees.Size), r.Cache.Trees.Entries)
	for _, src := range r.Sources {
		fmt.Fprintf(w, "  source %s: %s", src.Name, src.State)
		if src.LastErrorMessage != "" {
			fmt.Fprintf(w, " (%s)", src.LastErrorMessage)
		}
		fmt.Fprintln(w)
	}
}
