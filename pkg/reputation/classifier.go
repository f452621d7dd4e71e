package reputation

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hervehildenbrand/bgp-shortlived/pkg/models"
)

// Defaults for ClassifierOptions fields left at zero.
const (
	DefaultConcurrency       = 4
	DefaultRequestsPerSecond = 5.0
	DefaultBurst             = 5
)

// ClassifierOptions bounds the load put on the reputation API.
type ClassifierOptions struct {
	Concurrency       int
	RequestsPerSecond float64
	Burst             int
}

// Outcome is the result of classifying one group. Err is set when the
// lookup for this group failed; Verdict is then only partially filled.
type Outcome struct {
	Group   models.ASNGroup
	Verdict models.ThreatVerdict
	Err     error
}

// Classifier turns ASN groups into threat verdicts.
type Classifier struct {
	lookup      Lookuper
	limiter     *rate.Limiter
	concurrency int
	logger      *slog.Logger
}

// NewClassifier creates a classifier over lookup.
func NewClassifier(lookup Lookuper, opts ClassifierOptions, logger *slog.Logger) *Classifier {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if opts.Burst <= 0 {
		opts.Burst = DefaultBurst
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		lookup:      lookup,
		limiter:     rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		concurrency: opts.Concurrency,
		logger:      logger.With("component", "classifier"),
	}
}

// Classify looks up the group's origin once and counts the group's prefixes
// covered by the origin's known-bad ranges. An origin the API does not know
// yields a zero verdict, not an error.
func (c *Classifier) Classify(ctx context.Context, group models.ASNGroup) (models.ThreatVerdict, error) {
	verdict := models.ThreatVerdict{Origin: group.Origin, Total: len(group.Findings)}

	if err := c.limiter.Wait(ctx); err != nil {
		return verdict, fmt.Errorf("AS%d: %v: %w", group.Origin, err, models.ErrReputationLookup)
	}
	report, err := c.lookup.LookupASN(ctx, group.Origin)
	if err != nil {
		return verdict, fmt.Errorf("classify: %w", err)
	}

	verdict.OriginFlagged = report.Flagged
	ranges := NewRangeSet(report.Ranges)
	if ranges.Len() == 0 {
		return verdict, nil
	}
	for _, f := range group.Findings {
		if ranges.Contains(f.Prefix) {
			verdict.Matched++
		}
	}
	return verdict, nil
}

// ClassifyAll classifies every group with bounded concurrency. A failed
// lookup is recorded in that group's Outcome and does not stop the others.
// Outcomes are returned in group order.
func (c *Classifier) ClassifyAll(ctx context.Context, groups []models.ASNGroup) []Outcome {
	outcomes := make([]Outcome, len(groups))

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, group := range groups {
		g.Go(func() error {
			verdict, err := c.Classify(ctx, group)
			if err != nil {
				c.logger.Warn("reputation lookup failed", "asn", group.Origin, "error", err)
			}
			outcomes[i] = Outcome{Group: group, Verdict: verdict, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}
