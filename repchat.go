package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/repchat/cmd"
)

const (
	version = "0.1.0"
)

func main() {
	app := &cli.App{
		Name:    "repchat",
		Usage:   "Customer chat with AI replies, rep handoff and sale tracking",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				Value:   "repchat.toml",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Load environment variables from `FILE` before reading config",
			},
		},
		Before: func(c *cli.Context) error {
			if path := c.String("env-file"); path != "" {
				if err := cmd.LoadEnvFile(path); err != nil {
					return fmt.Errorf("failed to load env file: %w", err)
				}
			}
			return nil
		},
		Commands: []*cli.Command{
			cmd.APICommand(),
			cmd.MergeCommand(),
			cmd.ConfigCommand(),
			cmd.TokenCommand(),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
