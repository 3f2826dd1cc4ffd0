// Package command defines the gridctl command line.
//
// It uses urfave/cli/v2. Every command runs against an adapter.Adapter built
// in the app's Before hook from the configuration file, VOLGRID_*
// environment variables and global flags, in that order of precedence
// (flags win).
package command

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/volgrid/volgrid/internal/adapter"
	"github.com/volgrid/volgrid/internal/config"
	"github.com/volgrid/volgrid/pkg/memmon"
)

// Build information, set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const adapterKey = "adapter"

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:     "gridctl",
		Usage:    "Inspect, load and generate volume grid files",
		Version:  fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildTime),
		Flags:    globalFlags(),
		Metadata: map[string]interface{}{},
		Commands: []*cli.Command{
			InspectCommand(),
			LoadCommand(),
			DemoCommand(),
			ConfigCommand(),
		},
		Before: setup,
		After:  teardown,
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "YAML configuration file",
			EnvVars: []string{"VOLGRID_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Override the configured log level (TRACE, DEBUG, INFO, WARN, ERROR)",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: text, json, yaml",
			Value:   string(FormatText),
		},
		&cli.StringFlag{
			Name:  "profile-dir",
			Usage: "Write a heap profile into this directory when the command finishes",
		},
	}
}

// loadConfig resolves the configuration for this invocation.
func loadConfig(c *cli.Context) (*config.Configuration, error) {
	cfg := config.NewDefault()
	if path := c.String("config"); path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if level := c.String("log-level"); level != "" {
		cfg.Global.LogLevel = level
	}
	return cfg, nil
}

func setup(c *cli.Context) error {
	if _, err := ParseFormat(c.String("output")); err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	a, err := adapter.New(c.Context, cfg)
	if err != nil {
		return err
	}
	if err := a.Start(c.Context); err != nil {
		return err
	}
	c.App.Metadata[adapterKey] = a
	return nil
}

func teardown(c *cli.Context) error {
	a, ok := c.App.Metadata[adapterKey].(*adapter.Adapter)
	if !ok {
		return nil
	}
	delete(c.App.Metadata, adapterKey)

	var profileErr error
	if dir := c.String("profile-dir"); dir != "" {
		profileErr = writeProfiles(c, dir)
	}
	return errors.Join(profileErr, a.Close(context.Background()))
}

func writeProfiles(c *cli.Context, dir string) error {
	profiler, err := memmon.NewProfiler(dir)
	if err != nil {
		return err
	}
	heap, err := profiler.WriteHeapProfile("")
	if err != nil {
		return err
	}
	goroutines, err := profiler.WriteGoroutineProfile("")
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.ErrWriter, "profiles written to %s and %s\n", heap, goroutines)
	return nil
}

// getAdapter returns the adapter built by setup.
func getAdapter(c *cli.Context) (*adapter.Adapter, error) {
	if a, ok := c.App.Metadata[adapterKey].(*adapter.Adapter); ok {
		return a, nil
	}
	return nil, fmt.Errorf("gridctl not initialised")
}

// PrintError prints an error message to stderr.
func PrintError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}
