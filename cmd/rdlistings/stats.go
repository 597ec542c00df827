package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kalambet/rdlistings/internal/storage"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the listings database",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openReadStore()
		if err != nil {
			return err
		}
		defer store.Close()

		stats, err := store.Stats(cmd.Context())
		if err != nil {
			return err
		}
		printStats(cmd.OutOrStdout(), stats)
		return nil
	},
}

func printStats(w io.Writer, s storage.Stats) {
	fmt.Fprintf(w, "%s %d\n", colorize(colorBold, "Listings:"), s.Total)
	fmt.Fprintf(w, "%s %d\n", colorize(colorBold, "Priced with mileage:"), s.PricedWithMiles)
	fmt.Fprintf(w, "%s %d\n", colorize(colorBold, "Makes:"), s.Makes)
	if s.Total > 0 {
		fmt.Fprintf(w, "%s %d-%d\n", colorize(colorBold, "Model years:"), s.MinYear, s.MaxYear)
	}
	printCounts(w, "By source", s.BySource)
	printCounts(w, "By inventory type", s.ByInventoryType)
}
