// Package cmd is the custody command tree.
package cmd

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/omnibus_custody/config"
	"github.com/omnibus_custody/logger"
	"github.com/omnibus_custody/repository"
)

type rootOptions struct {
	configPath string
}

func Command() *cobra.Command {
	opts := &rootOptions{}
	c := &cobra.Command{
		Use:           "custody",
		Short:         "Omnibus custody service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	c.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")

	c.AddCommand(
		serveCommand(opts),
		migrateCommand(opts),
		userCommand(opts),
	)
	return c
}

func (o *rootOptions) load() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, logger.NewWithConfig(cfg.Log), nil
}

func openDB(cfg *config.Config, log zerolog.Logger) (*gorm.DB, error) {
	return repository.Open(cfg.Database.DSN, repository.PoolConfig{
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	}, log)
}
