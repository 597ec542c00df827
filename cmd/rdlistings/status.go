package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kalambet/rdlistings/internal/storage"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server and database status",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient(cfg.Server.Port, cfg.Server.Token)
		return showStatus(cmd.Context(), cmd.OutOrStdout(), client)
	},
}

func showStatus(ctx context.Context, w io.Writer, client *apiClient) error {
	printStatus("Database", "%s", databaseStatus(ctx, cfg.Storage.DBPath))
	printStatus("Output", "%s (%s)", cfg.Output.Dir, cfg.Output.Format)

	if !client.healthy(ctx) {
		printStatus("Server", "stopped")
		return nil
	}
	printStatus("Server", "running at %s", client.baseURL)

	resp, err := client.get(ctx, "/listings/stats")
	if err != nil {
		printWarning("listing stats unavailable: %v", err)
		return nil
	}
	var stats storage.Stats
	if err := decodeJSON(resp, &stats); err != nil {
		printWarning("listing stats unavailable: %v", err)
		return nil
	}
	printStats(w, stats)
	return nil
}

// databaseStatus reports the row count of the local database without
// creating or migrating it.
func databaseStatus(ctx context.Context, path string) string {
	store, err := storage.OpenReadOnly(path)
	if err != nil {
		return fmt.Sprintf("%s (unavailable: %v)", path, err)
	}
	defer store.Close()
	n, err := store.Count(ctx)
	if err != nil {
		return fmt.Sprintf("%s (unreadable: %v)", path, err)
	}
	return fmt.Sprintf("%s (%d listings)", path, n)
}
