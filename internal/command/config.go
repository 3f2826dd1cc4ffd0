package command

import (
	"fmt"
	"io"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v2"

	"github.com/volgrid/volgrid/internal/config"
)

// ConfigCommand groups configuration helpers.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Show, validate or generate configuration",
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Print the effective configuration",
				Action: showConfig,
			},
			{
				Name:   "validate",
				Usage:  "Check the effective configuration",
				Action: validateConfig,
			},
			{
				Name:      "init",
				Usage:     "Write the default configuration to a file",
				ArgsUsage: "<path>",
				Action:    initConfig,
			},
		},
	}
}

func showConfig(c *cli.Context) error {
	a, err := getAdapter(c)
	if err != nil {
		return err
	}
	format, _ := ParseFormat(c.String("output"))
	cfg := a.Config()
	return render(c.App.Writer, format, cfg, func(w io.Writer) {
		data, err := yaml.Marshal(cfg)
		if err != nil {
			fmt.Fprintf(w, "cannot encode configuration: %v\n", err)
			return
		}
		_, _ = w.Write(data)
	})
}

// validateConfig only reports: the configuration was already validated
// when the adapter was built.
func validateConfig(c *cli.Context) error {
	a, err := getAdapter(c)
	if err != nil {
		return err
	}
	treeBytes, _ := a.Config().TreeCacheBytes()
	fmt.Fprintf(c.App.Writer, "configuration is valid (tree cache %d bytes, simplify levels 0-%d)\n",
		treeBytes, a.Config().Cache.MaxSimplifyLevel)
	return nil
}

func initConfig(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("config init needs exactly one path")
	}
	path := c.Args().First()
	if err := config.NewDefault().SaveToFile(path); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "wrote default configuration to %s\n", path)
	return nil
}
