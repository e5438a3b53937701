package main

import (
	"fmt"
	"log"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"vaultkey-controlplane/pkg/config"
	"vaultkey-controlplane/pkg/db"
	"vaultkey-controlplane/pkg/hashistack/secretmanager"
)

var flagSteps = &cli.IntFlag{
	Name:  "steps",
	Value: 1,
	Usage: "Number of migrations to roll back",
}

func main() {
	app := &cli.App{
		Name:  "migrate",
		Usage: "Apply or roll back the credential store schema",
		Before: func(*cli.Context) error {
			l, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(l)
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "up",
				Usage: "Apply all pending migrations",
				Action: func(cCtx *cli.Context) error {
					m, err := open()
					if err != nil {
						return err
					}
					defer m.Close()
					return db.MigrateUp(m)
				},
			},
			{
				Name:  "down",
				Usage: "Roll back the most recent migrations",
				Flags: []cli.Flag{flagSteps},
				Action: func(cCtx *cli.Context) error {
					steps := cCtx.Int(flagSteps.Name)
					if steps <= 0 {
						return fmt.Errorf("--steps must be positive, got %d", steps)
					}
					m, err := open()
					if err != nil {
						return err
					}
					defer m.Close()
					return db.MigrateDown(m, steps)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func open() (*migrate.Migrate, error) {
	vc, err := secretmanager.ProvideVault()
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfig(config.Params{Vault: vc})
	if err != nil {
		return nil, err
	}
	if cfg.Database.Type != db.TypePostgres {
		return nil, fmt.Errorf("migrations target postgres, got DATABASE.TYPE=%q", cfg.Database.Type)
	}
	dsn, err := db.DSN(cfg)
	if err != nil {
		return nil, err
	}
	return db.NewMigrator(dsn)
}
