package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/repchat/internal/api"
	"github.com/repchat/internal/config"
	"github.com/repchat/internal/logging"
)

// APICommand returns the CLI command for starting the API server
func APICommand() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Start the repchat API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (overrides server.port)",
			},
		},
		Action: runAPI,
	}
}

func runAPI(c *cli.Context) error {
	cfg, err := loadValidConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("port") {
		cfg.Server.Port = c.Int("port")
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Pretty)

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.close()

	if a.queue != nil {
		if err := a.queue.Start(ctx); err != nil {
			return fmt.Errorf("failed to start job queue: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.Shutdown)
			defer cancel()
			if err := a.queue.Stop(sctx); err != nil {
				log.Warn().Err(err).Msg("Job queue did not stop cleanly")
			}
		}()
	}

	go a.purgeRepCache(ctx)

	server := api.NewServer(cfg.Server.Port, a.deps())
	return server.Start(ctx, cfg.Timeouts.Shutdown)
}

// loadValidConfig loads the --config file plus environment and validates it.
func loadValidConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
