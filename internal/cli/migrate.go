package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"quiz-learner-client/internal/config"
	"quiz-learner-client/internal/infra/postgres"
	"quiz-learner-client/internal/infra/sqlite"
)

// NewMigrateCmd prepares the schema of the configured progress store.
func NewMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the progress schema for the postgres or sqlite store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			return runMigrations(cmd.Context(), cfg)
		},
	}
}

func runMigrations(ctx context.Context, cfg config.Config) error {
	switch cfg.Store.Kind {
	case "postgres":
		return postgres.Migrate(ctx, cfg.Store.Postgres.URL)
	case "sqlite":
		path := cfg.Store.SQLite.Path
		if path == "" {
			path = defaultSQLitePath
		}
		// Open creates the schema.
		store, err := sqlite.Open(ctx, path)
		if err != nil {
			return err
		}
		log.Info().Str("path", path).Msg("sqlite schema ready")
		return store.Close()
	default:
		return fmt.Errorf("store kind %q has no schema to migrate", cfg.Store.Kind)
	}
}
