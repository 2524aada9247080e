package cmd

import (
	"github.com/amirphl/segment-engine/models"
	"github.com/amirphl/segment-engine/repository"
	"github.com/spf13/cobra"
)

// NewMigrateCommand creates the migrate command
func NewMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := initializeDatabase(cfg.Database)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			if err := repository.AutoMigrate(db, models.All()...); err != nil {
				return err
			}
			cmd.Println("Migration completed")
			return nil
		},
	}
}
