package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kalambet/rdlistings/internal/storage"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Create or inspect the listings table",
}

var schemaInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the database and apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		versions, err := store.AppliedMigrations()
		if err != nil {
			return fmt.Errorf("reading migrations: %w", err)
		}
		printSuccess("Schema ready at %s (migrations %v)", cfg.Storage.DBPath, versions)
		return nil
	},
}

var schemaShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the table and index DDL",
	RunE: func(cmd *cobra.Command, args []string) error {
		ddl, err := storage.SchemaDDL()
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), ddl)
		return nil
	},
}

func init() {
	schemaCmd.AddCommand(schemaInitCmd)
	schemaCmd.AddCommand(schemaShowCmd)
}
