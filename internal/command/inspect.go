package command

import (
	"fmt"
	"io"
	"sort"

	"github.com/urfave/cli/v2"

	"github.com/volgrid/volgrid/internal/grid"
	"github.com/volgrid/volgrid/internal/voxel"
)

// gridInfo is the printable description of one grid.
type gridInfo struct {
	Name         string            `json:"name" yaml:"name"`
	Type         string            `json:"type" yaml:"type"`
	Class        string            `json:"class" yaml:"class"`
	VoxelSize    [3]float64        `json:"voxel_size" yaml:"voxel_size"`
	Metadata     map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	ActiveVoxels *int64            `json:"active_voxels,omitempty" yaml:"active_voxels,omitempty"`
	Bounds       *voxel.CoordBBox  `json:"bounds,omitempty" yaml:"bounds,omitempty"`
	Memory       string            `json:"memory,omitempty" yaml:"memory,omitempty"`
	LoadTime     string            `json:"load_time,omitempty" yaml:"load_time,omitempty"`
	Error        string            `json:"error,omitempty" yaml:"error,omitempty"`
}

type fileInfo struct {
	Path  string            `json:"path" yaml:"path"`
	Meta  map[string]string `json:"meta,omitempty" yaml:"meta,omitempty"`
	Error string            `json:"error,omitempty" yaml:"error,omitempty"`
	Grids []gridInfo        `json:"grids" yaml:"grids"`
}

// describe fills the fields known without reading voxels.
func describe(g *grid.GridData) gridInfo {
	info := gridInfo{
		Name:      g.Name(),
		Class:     g.GridClass().String(),
		VoxelSize: g.Transform().VoxelSize(),
		Metadata:  g.Metadata(),
	}
	if t, ok := g.GridTypeWithoutLoad(); ok {
		info.Type = t.String()
	}
	return info
}

// InspectCommand prints the header of grid files without reading voxels.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Show file metadata and grid descriptors",
		ArgsUsage: "<path>...",
		Action:    inspect,
	}
}

func inspect(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("inspect needs at least one path")
	}
	a, err := getAdapter(c)
	if err != nil {
		return err
	}
	format, _ := ParseFormat(c.String("output"))

	var files []fileInfo
	for _, path := range c.Args().Slice() {
		result, err := a.Grids(path, 0)
		if err != nil {
			return err
		}
		info := fileInfo{Path: path, Meta: result.FileMeta, Error: result.ErrorMessage, Grids: []gridInfo{}}
		for _, h := range result.Grids {
			info.Grids = append(info.Grids, describe(h.Get()))
		}
		result.Reset()
		files = append(files, info)
	}

	return render(c.App.Writer, format, files, func(w io.Writer) {
		for _, f := range files {
			printFile(w, f)
		}
	})
}

func printFile(w io.Writer, f fileInfo) {
	fmt.Fprintf(w, "%s\n", f.Path)
	if f.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", f.Error)
		return
	}
	for _, k := range sortedKeys(f.Meta) {
		fmt.Fprintf(w, "  %s = %s\n", k, f.Meta[k])
	}
	for _, g := range f.Grids {
		fmt.Fprintf(w, "  grid %-16s %-14s %-10s voxel %.4g x %.4g x %.4g\n",
			g.Name, g.Type, g.Class, g.VoxelSize[0], g.VoxelSize[1], g.VoxelSize[2])
		for _, k := range sortedKeys(g.Metadata) {
			fmt.Fprintf(w, "    %s = %s\n", k, g.Metadata[k])
		}
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
