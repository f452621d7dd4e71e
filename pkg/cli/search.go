package cli

import (
	"fmt"
	"net/netip"

	"github.com/spf13/cobra"

	"github.com/hervehildenbrand/bgp-shortlived/pkg/report"
)

func newSearchCommand(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <ip>",
		Short: "List stored events whose prefix contains an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ip, err := netip.ParseAddr(args[0])
			if err != nil {
				return fmt.Errorf("invalid IP %q: %w", args[0], err)
			}

			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.ContainingIP(ctx, ip, limit)
			if err != nil {
				return err
			}

			resolver := a.resolver(store)
			defer resolver.Stop()

			w, err := a.writer()
			if err != nil {
				return err
			}
			rows := make([]report.Event, 0, len(records))
			for _, rec := range records {
				rows = append(rows, report.FromAnnouncement(rec, resolver.ResolveFromPath(rec.ASPath)))
			}
			return w.WriteEvents(rows)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 1000, "maximum events to return, 0 for all")
	return cmd
}
