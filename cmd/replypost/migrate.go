package main

import (
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := buildApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.store.Migrate(cmd.Context()); err != nil {
			return err
		}
		a.logger.Println("schema up to date")
		return nil
	},
}
