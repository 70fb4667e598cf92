package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/finds-group/catalog-ingest/internal/catalog"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the products table (postgres driver only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Store.Driver != "postgres" {
			return eris.Errorf("migrate requires store.driver=postgres, got %q", cfg.Store.Driver)
		}
		if err := cfg.ValidateStore(); err != nil {
			return err
		}

		store, err := catalog.NewPostgres(cmd.Context(), cfg.Store.DatabaseURL, cfg.Store.Table, cfg.Store.ChunkSize)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Migrate(cmd.Context()); err != nil {
			return err
		}
		zap.L().Info("migration applied", zap.String("table", cfg.Store.Table))
		return nil
	},
}
