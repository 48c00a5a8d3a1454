package cmd

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/repchat/internal/api/auth"
)

// TokenCommand issues an admin bearer token signed with auth.jwt_secret.
func TokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Issue an admin bearer token",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "subject",
				Aliases:  []string{"s"},
				Usage:    "Actor name recorded in the audit log",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "role",
				Value: "admin",
			},
			&cli.DurationFlag{
				Name:  "ttl",
				Usage: "Token lifetime",
				Value: 12 * time.Hour,
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadValidConfig(c)
			if err != nil {
				return err
			}
			ts := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
			ts.AccessTokenDuration = c.Duration("ttl")

			token, expiresAt, err := ts.IssueToken(c.String("subject"), c.String("role"))
			if err != nil {
				return err
			}
			fmt.Println(token)
			fmt.Printf("# expires %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
}
