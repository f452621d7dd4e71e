package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hervehildenbrand/bgp-shortlived/pkg/codec"
	"github.com/hervehildenbrand/bgp-shortlived/pkg/metrics"
	"github.com/hervehildenbrand/bgp-shortlived/pkg/models"
)

// Defaults for Config fields left at zero.
const (
	DefaultBatchSize   = 12
	DefaultChannelSize = 4
)

// Broker resolves a time range to an ordered list of update-file references.
type Broker interface {
	Files(ctx context.Context, start, end time.Time) ([]string, error)
}

// RouteParser turns one update-file reference into route events.
type RouteParser interface {
	Parse(ctx context.Context, ref string) ([]models.RouteEvent, error)
}

// Config tunes a Pipeline.
type Config struct {
	BatchSize   int
	Workers     int
	ChannelSize int
	Delimiter   rune
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.ChannelSize <= 0 {
		c.ChannelSize = DefaultChannelSize
	}
	if c.Delimiter == 0 {
		c.Delimiter = codec.DefaultDelimiter
	}
	return c
}

// SkippedFile is a reference the parser could not read.
type SkippedFile struct {
	Ref string `json:"ref"`
	Err string `json:"error"`
}

// Report summarizes one ingestion run.
type Report struct {
	Files    int           `json:"files"`
	Batches  int           `json:"batches"`
	Events   int           `json:"events"`
	Rejected int           `json:"rejected_events"`
	Skipped  []SkippedFile `json:"skipped,omitempty"`
	Load     LoadStats     `json:"load"`
}

// Pipeline parses update files in parallel and streams encoded batches to a
// Loader over a bounded channel.
type Pipeline struct {
	broker  Broker
	parser  RouteParser
	sink    Sink
	encoder *codec.Encoder
	cfg     Config
	logger  *slog.Logger
}

// NewPipeline creates a pipeline. Zero Config fields take defaults.
func NewPipeline(broker Broker, parser RouteParser, sink Sink, cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Pipeline{
		broker:  broker,
		parser:  parser,
		sink:    sink,
		encoder: codec.NewEncoder(cfg.Delimiter),
		cfg:     cfg,
		logger:  logger.With("component", "ingest"),
	}
}

// Run ingests every update file the broker lists for [start, end).
func (p *Pipeline) Run(ctx context.Context, start, end time.Time) (Report, error) {
	if !end.After(start) {
		return Report{}, fmt.Errorf("empty time range %s - %s", start.UTC(), end.UTC())
	}
	refs, err := p.broker.Files(ctx, start, end)
	if err != nil {
		return Report{}, fmt.Errorf("resolve update files: %w", err)
	}
	p.logger.Info("resolved update files", "files", len(refs), "start", start.UTC(), "end", end.UTC())
	return p.Load(ctx, refs)
}

// Load ingests the given references.
//
// The producer blocks when the channel is full. On cancellation the producer
// stops between batches, the loader commits what was already flushed and Load
// returns the context error.
func (p *Pipeline) Load(ctx context.Context, refs []string) (Report, error) {
	frames := make(chan Frame, p.cfg.ChannelSize)
	loaderDone := make(chan struct{})

	var (
		stats   LoadStats
		loadErr error
	)
	loader := NewLoader(p.sink, p.cfg.Delimiter, p.logger)
	go func() {
		defer close(loaderDone)
		stats, loadErr = loader.Consume(frames)
	}()

	report := Report{Files: len(refs)}
	prodErr := p.produce(ctx, refs, frames, loaderDone, &report)
	close(frames)
	<-loaderDone
	report.Load = stats

	p.logger.Info("ingestion finished",
		"files", report.Files,
		"skipped", len(report.Skipped),
		"events", report.Events,
		"rejected", report.Rejected,
		"records", stats.Records,
		"batches_committed", stats.BatchesCommitted,
		"batches_failed", stats.BatchesFailed)

	switch {
	case errors.Is(prodErr, models.ErrChannelDisconnected) && loadErr != nil:
		return report, fmt.Errorf("%w: %w", prodErr, loadErr)
	case prodErr != nil:
		return report, prodErr
	case loadErr != nil:
		return report, loadErr
	case stats.BatchesFailed > 0:
		return report, fmt.Errorf("%d of %d batches failed: %w",
			stats.BatchesFailed, report.Batches, models.ErrSessionFailed)
	}
	return report, nil
}

func (p *Pipeline) produce(ctx context.Context, refs []string, frames chan<- Frame, done <-chan struct{}, report *Report) error {
	for i, batch := range batches(refs, p.cfg.BatchSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		started := time.Now()

		data, err := p.processBatch(ctx, batch, report)
		if err != nil {
			return err
		}
		if len(data) > 0 {
			if err := send(ctx, frames, done, DataFrame(i, data)); err != nil {
				return err
			}
		}
		if err := send(ctx, frames, done, EndOfBatch(i)); err != nil {
			return err
		}
		report.Batches++
		p.logger.Info("batch sent", "batch", i, "files", len(batch), "bytes", len(data),
			"elapsed", time.Since(started).Round(time.Millisecond))
	}
	return send(ctx, frames, done, EndOfStream())
}

type fileResult struct {
	buf      bytes.Buffer
	events   int
	rejected int
	err      error
}

// processBatch parses the batch with bounded parallelism and joins the encoded
// output in reference order. A parse error skips only its reference; a panic is
// fatal.
func (p *Pipeline) processBatch(ctx context.Context, batch []string, report *Report) ([]byte, error) {
	results := make([]fileResult, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for j, ref := range batch {
		res := &results[j]
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("parse %s: panic: %v: %w", ref, r, models.ErrParseFailure)
				}
			}()
			p.encodeFile(gctx, ref, res)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	for j := range results {
		res := &results[j]
		if res.err != nil {
			report.Skipped = append(report.Skipped, SkippedFile{Ref: batch[j], Err: res.err.Error()})
			continue
		}
		report.Events += res.events
		report.Rejected += res.rejected
		out.Write(res.buf.Bytes())
	}
	return out.Bytes(), nil
}

func (p *Pipeline) encodeFile(ctx context.Context, ref string, res *fileResult) {
	events, err := p.parser.Parse(ctx, ref)
	if err != nil {
		res.err = err
		metrics.ObserveFile(metrics.OutcomeSkipped)
		p.logger.Warn("skipping update file", "url", ref, "error", err)
		return
	}
	metrics.ObserveFile(metrics.OutcomeParsed)

	for _, ev := range events {
		if err := p.encoder.Append(&res.buf, ev); err != nil {
			res.rejected++
			p.logger.Debug("rejected event", "url", ref, "error", err)
			continue
		}
		res.events++
	}
	if res.rejected > 0 {
		p.logger.Warn("rejected malformed events", "url", ref, "rejected", res.rejected)
	}
	metrics.AddEvents(metrics.OutcomeEncoded, res.events)
	metrics.AddEvents(metrics.OutcomeRejected, res.rejected)
}

// send delivers f unless the loader has exited or ctx is done.
func send(ctx context.Context, frames chan<- Frame, done <-chan struct{}, f Frame) error {
	select {
	case <-done:
		return fmt.Errorf("sending %s frame: %w", f.Kind, models.ErrChannelDisconnected)
	default:
	}
	select {
	case frames <- f:
		return nil
	case <-done:
		return fmt.Errorf("sending %s frame: %w", f.Kind, models.ErrChannelDisconnected)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func batches(refs []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(refs); start += size {
		end := min(start+size, len(refs))
		out = append(out, refs[start:end])
	}
	return out
}
