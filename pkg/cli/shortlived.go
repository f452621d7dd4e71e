package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hervehildenbrand/bgp-shortlived/pkg/detector"
	"github.com/hervehildenbrand/bgp-shortlived/pkg/report"
	"github.com/hervehildenbrand/bgp-shortlived/pkg/reputation"
)

func newShortLivedCommand(a *app) *cobra.Command {
	var (
		start, stop string
		classify    bool
		raw         bool
	)

	cmd := &cobra.Command{
		Use:     "shortlived",
		Aliases: []string{"short-lived"},
		Short:   "Find announcements withdrawn within the detection window",
		Long: `Shortlived scans [start, stop) chunk by chunk for announcements that the
same origin withdrew again within --window, groups them by origin ASN and
prints one row per origin.

With --classify each origin is looked up in the reputation API and the
share of its prefixes covered by known-bad ranges is reported; --threshold
then hides origins at or below that share unless the origin itself is
flagged.

--limit caps the rows of each chunk query; add --global-limit to cap the
whole scan instead.`,
		Example: `  bgp-shortlived shortlived --start 1714521600 --stop 1714543200 --window 10m
  bgp-shortlived shortlived --start 2024-05-01T00:00:00Z --stop 2024-05-02T00:00:00Z --classify --threshold 0.5`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			from, to, err := parseRange(start, stop)
			if err != nil {
				return err
			}

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			w, err := a.writer()
			if err != nil {
				return err
			}

			engine := detector.NewEngine(store, a.logger)
			seq := engine.FindShortLived(ctx, detector.Options{
				Window:      a.cfg.Detect.Window,
				Start:       from,
				Stop:        to,
				ChunkSize:   a.cfg.Detect.Chunk,
				Limit:       a.cfg.Detect.Limit,
				GlobalLimit: a.cfg.Detect.GlobalLimit,
			})

			if raw {
				enc := json.NewEncoder(a.out)
				n := 0
				for h, err := range seq {
					if err != nil {
						return fmt.Errorf("after %d findings: %w", n, err)
					}
					if err := enc.Encode(h); err != nil {
						return err
					}
					n++
				}
				return nil
			}

			findings, err := detector.Collect(seq)
			if err != nil {
				return fmt.Errorf("after %d findings: %w", len(findings), err)
			}
			groups := detector.GroupByASN(findings)
			a.logger.Info("scan finished", "findings", len(findings), "origins", len(groups))

			resolver := a.resolver(store)
			defer resolver.Stop()

			rows := make([]report.Row, 0, len(groups))
			if !classify {
				for _, g := range groups {
					rows = append(rows, report.FromGroup(g, resolver.Resolve(g.Origin)))
				}
				return w.WriteRows(rows)
			}

			lookup, closeCache, err := a.lookuper(ctx)
			if err != nil {
				return err
			}
			defer closeCache()

			classifier := reputation.NewClassifier(lookup, reputation.ClassifierOptions{
				Concurrency:       a.cfg.Reputation.Concurrency,
				RequestsPerSecond: a.cfg.Reputation.RequestsPerSecond,
				Burst:             a.cfg.Reputation.Burst,
			}, a.logger)

			failed := 0
			for _, o := range classifier.ClassifyAll(ctx, groups) {
				if o.Err != nil {
					failed++
				}
				rows = append(rows, report.FromOutcome(o, resolver.Resolve(o.Group.Origin)))
			}
			if failed > 0 {
				a.logger.Warn("some reputation lookups failed", "failed", failed, "origins", len(groups))
			}
			return w.WriteRows(report.Threshold(rows, a.cfg.Detect.Threshold))
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&start, "start", "", "scan start (Unix seconds or RFC 3339)")
	flags.StringVar(&stop, "stop", "", "scan stop, exclusive (Unix seconds or RFC 3339)")
	flags.BoolVar(&classify, "classify", false, "cross-reference origins with the reputation API")
	flags.BoolVar(&raw, "raw", false, "stream ungrouped findings as JSON lines")
	flags.Duration("window", 0, "maximum announce-to-withdraw gap (default 15m)")
	flags.Duration("chunk", 0, "sub-query time span (default 1h)")
	flags.Int("limit", 0, "row cap per chunk query, 0 for none")
	flags.Bool("global-limit", false, "apply --limit to the whole scan")
	flags.Float64("threshold", 0, "with --classify, hide origins whose matched ratio is at or below this")
	bindFlags(a.v, flags, map[string]string{
		"detect.window":       "window",
		"detect.chunk":        "chunk",
		"detect.limit":        "limit",
		"detect.global_limit": "global-limit",
		"detect.threshold":    "threshold",
	})
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("stop")
	return cmd
}
