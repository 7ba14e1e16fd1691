package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/DoyleJ11/comic-readalong-backend/internal/config"
	"github.com/DoyleJ11/comic-readalong-backend/internal/logging"
	"github.com/DoyleJ11/comic-readalong-backend/internal/store"
	"github.com/DoyleJ11/comic-readalong-backend/internal/store/postgres"
	"github.com/DoyleJ11/comic-readalong-backend/internal/store/sqlite"
)

var rootCmd = &cobra.Command{
	Use:          "readalong",
	Short:        "Comic read-along backend",
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, importCmd, migrateCmd)
}

// setup loads config and builds the logger every command needs.
func setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	log, err := logging.New(cfg.IsProduction())
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("building logger: %w", err)
	}
	return cfg, log, nil
}

// openStore opens the configured store. The sqlite schema is applied on open;
// postgres only migrates when asked.
func openStore(ctx context.Context, cfg config.StoreConfig, migrate bool) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pg, err := postgres.Open(ctx, postgres.Config{
			DSN:      cfg.DatabaseURL,
			MaxConns: cfg.MaxConns,
			MinConns: cfg.MinConns,
		})
		if err != nil {
			return nil, err
		}
		if migrate {
			if err := pg.Migrate(ctx); err != nil {
				_ = pg.Close()
				return nil, fmt.Errorf("migrating: %w", err)
			}
		}
		return pg, nil
	default:
		lite, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return lite, nil
	}
}
