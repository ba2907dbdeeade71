package main

import (
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the tables and indexes the store needs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		settings, err := setup(cmd)
		if err != nil {
			return err
		}

		db, err := openDB(cmd.Context(), settings, true)
		if err != nil {
			return err
		}
		return db.Close()
	},
}
