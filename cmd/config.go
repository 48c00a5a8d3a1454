package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/repchat/internal/config"
)

// ConfigCommand returns the config command
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Initialize a new configuration file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file path",
						Value:   "repchat.toml",
					},
				},
				Action: runConfigInit,
			},
			{
				Name:    "validate",
				Aliases: []string{"check"},
				Usage:   "Validate the configuration file and environment",
				Action:  runConfigValidate,
			},
		},
	}
}

func runConfigInit(c *cli.Context) error {
	outputPath := c.String("output")

	if err := config.InitConfig(outputPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Created configuration file at %s\n", outputPath)
	return nil
}

func runConfigValidate(c *cli.Context) error {
	cfg, err := loadValidConfig(c)
	if err != nil {
		return err
	}

	PrintConfigCheck(CheckConfig(cfg))
	fmt.Println("Configuration is valid")
	return nil
}
