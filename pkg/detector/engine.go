package detector

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/hervehildenbrand/bgp-shortlived/pkg/metrics"
	"github.com/hervehildenbrand/bgp-shortlived/pkg/models"
)

// Defaults for Options fields left at zero.
const (
	DefaultWindow    = 15 * time.Minute
	DefaultChunkSize = time.Hour
)

// Querier runs the windowed self-join for one sub-range.
type Querier interface {
	ShortLived(ctx context.Context, q models.WindowQuery) ([]models.PotentialHijack, error)
}

// Range is a half-open time range [Start, Stop) in Unix seconds.
type Range struct {
	Start float64
	Stop  float64
}

// Chunks splits [start, stop) into consecutive ranges of length size. The last
// range is cut at stop, so the ranges cover [start, stop) exactly once.
func Chunks(start, stop, size float64) []Range {
	if size <= 0 || !(start < stop) {
		return nil
	}
	var out []Range
	for lo := start; lo < stop; {
		hi := lo + size
		if hi > stop || hi <= lo {
			hi = stop
		}
		out = append(out, Range{Start: lo, Stop: hi})
		lo = hi
	}
	return out
}

// Options configures one detection scan.
type Options struct {
	Window    time.Duration
	Start     time.Time
	Stop      time.Time
	ChunkSize time.Duration

	// Limit caps the rows of each sub-query; zero means no cap. With
	// GlobalLimit set it caps the whole scan instead.
	Limit       int
	GlobalLimit bool
}

func (o Options) withDefaults() Options {
	if o.Window == 0 {
		o.Window = DefaultWindow
	}
	if o.ChunkSize == 0 {
		o.ChunkSize = DefaultChunkSize
	}
	return o
}

func (o Options) validate() error {
	switch {
	case o.Window <= 0:
		return fmt.Errorf("window must be positive, got %s", o.Window)
	case o.ChunkSize <= 0:
		return fmt.Errorf("chunk size must be positive, got %s", o.ChunkSize)
	case o.Limit < 0:
		return fmt.Errorf("limit must not be negative, got %d", o.Limit)
	case !o.Stop.After(o.Start):
		return fmt.Errorf("stop %s is not after start %s", o.Stop.UTC(), o.Start.UTC())
	}
	return nil
}

// Engine scans the event store for short-lived announcements, one chunk at a
// time.
type Engine struct {
	store  Querier
	logger *slog.Logger
}

// NewEngine creates an engine over store.
func NewEngine(store Querier, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, logger: logger.With("component", "detector")}
}

// FindShortLived returns a lazy sequence of potential hijacks over
// [opts.Start, opts.Stop).
//
// Sub-queries run sequentially and each chunk's rows are yielded before the
// next chunk is queried. Breaking out of the loop stops further queries. A
// query error is yielded once and ends the sequence.
func (e *Engine) FindShortLived(ctx context.Context, opts Options) iter.Seq2[models.PotentialHijack, error] {
	opts = opts.withDefaults()
	return func(yield func(models.PotentialHijack, error) bool) {
		var zero models.PotentialHijack
		if err := opts.validate(); err != nil {
			yield(zero, err)
			return
		}

		window := opts.Window.Seconds()
		chunks := Chunks(unixSeconds(opts.Start), unixSeconds(opts.Stop), opts.ChunkSize.Seconds())
		remaining := opts.Limit

		for i, r := range chunks {
			if err := ctx.Err(); err != nil {
				yield(zero, err)
				return
			}

			limit := opts.Limit
			if opts.GlobalLimit && opts.Limit > 0 {
				if remaining <= 0 {
					return
				}
				limit = remaining
			}

			started := time.Now()
			rows, err := e.store.ShortLived(ctx, models.WindowQuery{
				Window: window,
				Start:  r.Start,
				Stop:   r.Stop,
				Limit:  limit,
			})
			metrics.ObserveChunk(time.Since(started), len(rows))
			if err != nil {
				if !errors.Is(err, models.ErrStoreQuery) && ctx.Err() == nil {
					err = fmt.Errorf("%v: %w", err, models.ErrStoreQuery)
				}
				yield(zero, fmt.Errorf("chunk %d/%d [%.0f, %.0f): %w", i+1, len(chunks), r.Start, r.Stop, err))
				return
			}

			e.logger.Debug("chunk scanned",
				"chunk", i+1,
				"chunks", len(chunks),
				"chunk_start", r.Start,
				"findings", len(rows),
				"elapsed", time.Since(started).Round(time.Millisecond))

			for _, h := range rows {
				if !yield(h, nil) {
					return
				}
			}
			remaining -= len(rows)
		}
	}
}

// Collect drains seq. It returns the findings seen before the first error.
func Collect(seq iter.Seq2[models.PotentialHijack, error]) ([]models.PotentialHijack, error) {
	var out []models.PotentialHijack
	for h, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, h)
	}
	return out, nil
}

func unixSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}
