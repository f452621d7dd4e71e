// Package report renders short-lived findings for operators.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/mattn/go-isatty"

	"github.com/hervehildenbrand/bgp-shortlived/pkg/detector"
	"github.com/hervehildenbrand/bgp-shortlived/pkg/models"
	"github.com/hervehildenbrand/bgp-shortlived/pkg/reputation"
)

// Row summarizes one origin's findings.
type Row struct {
	Origin        uint32   `json:"origin"`
	Country       string   `json:"country,omitempty"`
	Findings      int      `json:"findings"`
	Prefixes      []string `json:"prefixes"`
	Matched       int      `json:"matched"`
	Ratio         float64  `json:"ratio"`
	OriginFlagged bool     `json:"origin_flagged"`
	Tier1         bool     `json:"tier1"`
	Scrubbing     bool     `json:"scrubbing"`
	Error         string   `json:"error,omitempty"`

	classified bool
}

// Classified reports whether the row carries a reputation verdict.
func (r Row) Classified() bool { return r.classified }

// FromGroup builds an unclassified row.
func FromGroup(g models.ASNGroup, country string) Row {
	row := Row{
		Origin:    g.Origin,
		Country:   country,
		Findings:  len(g.Findings),
		Tier1:     detector.IsTier1(g.Origin),
		Scrubbing: detector.IsScrubbing(g.Origin),
	}
	seen := make(map[string]bool, len(g.Findings))
	for _, p := range g.Prefixes() {
		s := p.String()
		if !seen[s] {
			seen[s] = true
			row.Prefixes = append(row.Prefixes, s)
		}
	}
	return row
}

// FromOutcome builds a row carrying the reputation verdict or its error.
func FromOutcome(o reputation.Outcome, country string) Row {
	row := FromGroup(o.Group, country)
	row.classified = true
	if o.Err != nil {
		row.Error = o.Err.Error()
		return row
	}
	row.Matched = o.Verdict.Matched
	row.Ratio = o.Verdict.Ratio()
	row.OriginFlagged = o.Verdict.OriginFlagged
	return row
}

// Threshold keeps rows whose matched ratio exceeds cutoff or whose origin is
// flagged. Rows with a lookup error are always kept so failures
// stay visible. A zero cutoff keeps everything.
func Threshold(rows []Row, cutoff float64) []Row {
	if cutoff <= 0 {
		return rows
	}
	var out []Row
	for _, r := range rows {
		if r.Error != "" || r.OriginFlagged || r.Ratio > cutoff {
			out = append(out, r)
		}
	}
	return out
}

// Format selects how rows are written.
type Format int

const (
	FormatAuto Format = iota
	FormatTable
	FormatJSON
)

// ParseFormat maps "auto", "table" and "json" to a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "auto":
		return FormatAuto, nil
	case "table":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	}
	return FormatAuto, fmt.Errorf("unknown output format %q", s)
}

// Writer renders rows as an aligned table or JSON lines.
type Writer struct {
	w    io.Writer
	json bool
}

// NewWriter creates a writer. FormatAuto picks a table when w is a terminal
// and JSON lines otherwise.
func NewWriter(w io.Writer, format Format) *Writer {
	asJSON := format == FormatJSON
	if format == FormatAuto {
		asJSON = true
		if f, ok := w.(*os.File); ok {
			asJSON = !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd())
		}
	}
	return &Writer{w: w, json: asJSON}
}

// JSON reports whether the writer emits JSON lines.
func (w *Writer) JSON() bool { return w.json }

// WriteRows writes one record per row.
func (w *Writer) WriteRows(rows []Row) error {
	if w.json {
		enc := json.NewEncoder(w.w)
		for _, r := range rows {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	}

	classified := false
	for _, r := range rows {
		classified = classified || r.classified
	}

	tw := tabwriter.NewWriter(w.w, 0, 4, 2, ' ', 0)
	if classified {
		fmt.Fprintln(tw, "ORIGIN\tCOUNTRY\tFINDINGS\tMATCHED\tRATIO\tFLAGGED\tNOTES")
	} else {
		fmt.Fprintln(tw, "ORIGIN\tCOUNTRY\tFINDINGS\tPREFIXES\tNOTES")
	}
	for _, r := range rows {
		country := r.Country
		if country == "" {
			country = "-"
		}
		if classified {
			ratio, flagged := "-", "-"
			if r.Error == "" {
				ratio = strconv.FormatFloat(r.Ratio, 'f', 2, 64)
				flagged = strconv.FormatBool(r.OriginFlagged)
			}
			fmt.Fprintf(tw, "AS%d\t%s\t%d\t%d\t%s\t%s\t%s\n",
				r.Origin, country, r.Findings, r.Matched, ratio, flagged, notes(r))
		} else {
			fmt.Fprintf(tw, "AS%d\t%s\t%d\t%s\t%s\n",
				r.Origin, country, r.Findings, summarizePrefixes(r.Prefixes), notes(r))
		}
	}
	return tw.Flush()
}

// WriteJSON writes v as one JSON line, or indented on a table writer.
func (w *Writer) WriteJSON(v any) error {
	enc := json.NewEncoder(w.w)
	if !w.json {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

func notes(r Row) string {
	var s string
	add := func(n string) {
		if s != "" {
			s += ", "
		}
		s += n
	}
	if r.Tier1 {
		add("tier1")
	}
	if r.Scrubbing {
		add("scrubbing")
	}
	if r.Error != "" {
		add("error: " + r.Error)
	}
	if s == "" {
		return "-"
	}
	return s
}

func summarizePrefixes(prefixes []string) string {
	switch len(prefixes) {
	case 0:
		return "-"
	case 1:
		return prefixes[0]
	}
	return fmt.Sprintf("%s (+%d more)", prefixes[0], len(prefixes)-1)
}
