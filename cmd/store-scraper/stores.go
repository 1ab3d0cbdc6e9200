package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/maltedev/store-scraper/internal/jobs"
	"github.com/spf13/cobra"
)

var storesCmd = &cobra.Command{
	Use:   "stores",
	Short: "List the stores and whether they are enabled in the catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newCatalogApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		return printStores(cmd.Context(), a.manager, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(storesCmd)
}

func printStores(ctx context.Context, m *jobs.Manager, out io.Writer) error {
	infos, err := m.Stores(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tID\tPROXIES\tENABLED\tORIGIN")
	for _, s := range infos {
		fmt.Fprintf(tw, "%s\t%d\t%t\t%t\t%s\n", s.Name, s.ID, s.UsesProxies, s.Enabled, s.Origin)
	}
	return tw.Flush()
}
