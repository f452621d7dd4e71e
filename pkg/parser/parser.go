// Package parser fetches BGP update files and decodes them into route events.
//
// Two formats are understood: MRT BGP4MP update dumps (the RouteViews / RIS
// archive format) and RIS Live message captures, one JSON message per line.
// Files ending in .gz or .bz2 are decompressed first.
package parser

import (
	"compress/bzip2"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/hervehildenbrand/bgp-shortlived/pkg/metrics"
	"github.com/hervehildenbrand/bgp-shortlived/pkg/models"
)

const (
	defaultTimeout = 5 * time.Minute
	maxRecordSize  = 1 << 20
)

// Parser reads update files from HTTP(S) URLs or local paths.
type Parser struct {
	client *http.Client
	logger *slog.Logger
}

// New creates a parser. A nil client gets a default with a generous timeout,
// since update files can be tens of megabytes.
func New(client *http.Client, logger *slog.Logger) *Parser {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{client: client, logger: logger.With("component", "parser")}
}

// Parse returns every announce and withdraw element in the file at ref.
func (p *Parser) Parse(ctx context.Context, ref string) ([]models.RouteEvent, error) {
	started := time.Now()

	rc, err := p.open(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("open %s: %v: %w", ref, err, models.ErrParseFailure)
	}
	defer rc.Close()

	name := strings.ToLower(path.Base(ref))
	r, err := decompress(rc, name)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %v: %w", ref, err, models.ErrParseFailure)
	}
	name = strings.TrimSuffix(strings.TrimSuffix(name, ".gz"), ".bz2")

	var (
		events []models.RouteEvent
		skip   skipped
		format = metrics.FormatMRT
	)
	if strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".jsonl") {
		format = metrics.FormatRIS
		events, skip, err = readRIS(r)
	} else {
		events, skip, err = readMRT(r)
	}
	metrics.AddSkippedRecords(format, skip.count)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %v: %w", ref, err, models.ErrParseFailure)
	}
	if skip.count > 0 {
		p.logger.Warn("skipped undecodable records", "url", ref, "format", format,
			"skipped", skip.count, "events", len(events), "error", skip.first)
	}

	p.logger.Debug("parsed update file", "url", ref, "events", len(events),
		"elapsed", time.Since(started).Round(time.Millisecond))
	return events, nil
}

func (p *Parser) open(ctx context.Context, ref string) (io.ReadCloser, error) {
	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		return os.Open(strings.TrimPrefix(ref, "file://"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return resp.Body, nil
}

func decompress(r io.Reader, name string) (io.Reader, error) {
	switch {
	case strings.HasSuffix(name, ".gz"):
		return gzip.NewReader(r)
	case strings.HasSuffix(name, ".bz2"):
		return bzip2.NewReader(r), nil
	}
	return r, nil
}
