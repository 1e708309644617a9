package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/omnibus_custody/model"
)

func migrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Creates or updates the database schema",
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.Database.DSN == "" {
				return errors.New("DATABASE_DSN is required")
			}
			db, err := openDB(cfg, log)
			if err != nil {
				return err
			}
			if err := model.AutoMigrate(db.WithContext(c.Context())); err != nil {
				return err
			}
			log.Info().Msg("schema migrated")
			return nil
		},
	}
}
