package migrate

import (
	"context"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/agent-datastore/internal/config"
	"github.com/chirino/agent-datastore/internal/registry/docdb"
	registrymigrate "github.com/chirino/agent-datastore/internal/registry/migrate"
	"github.com/urfave/cli/v3"

	// Backend plugins register their migrators alongside their loaders.
	_ "github.com/chirino/agent-datastore/internal/plugin/docdb/memdb"
	_ "github.com/chirino/agent-datastore/internal/plugin/docdb/mongo"
	_ "github.com/chirino/agent-datastore/internal/plugin/docdb/sqlstore"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create document database collections, tables and indexes",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "db-url",
				Sources:  cli.EnvVars(config.EnvPrefix + "DB_URL"),
				Usage:    "Database connection URL",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "db-kind",
				Sources: cli.EnvVars(config.EnvPrefix + "DB_KIND"),
				Usage:   "Document database (" + strings.Join(docdb.Names(), "|") + ")",
				Value:   "postgres",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.DefaultConfig()
			cfg.DBURL = cmd.String("db-url")
			cfg.DocDBType = cmd.String("db-kind")
			cfg.MigrateAtStart = true
			if err := cfg.ApplyEnv(); err != nil {
				return err
			}
			if _, err := docdb.Select(cfg.DocDBType); err != nil {
				return err
			}
			ctx = config.WithContext(ctx, &cfg)

			log.Info("Running migrations...", "db", cfg.DocDBType, "migrators", registrymigrate.Names())
			if err := registrymigrate.RunAll(ctx); err != nil {
				return err
			}
			log.Info("All migrations completed successfully")
			return nil
		},
	}
}
