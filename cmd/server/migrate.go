package main

import (
	"github.com/spf13/cobra"

	"github.com/blues/tgs/internal/logger"
	"github.com/blues/tgs/internal/repository"
)

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update database tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if _, err := repository.Init(cfg.Database); err != nil {
				return err
			}
			logger.Info("Database migrated (%s)", cfg.Database.Driver)
			return nil
		},
	}
}
