package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/hervehildenbrand/bgp-shortlived/pkg/detector"
	"github.com/hervehildenbrand/bgp-shortlived/pkg/models"
)

// Event is one stored announcement or withdraw, annotated for display.
type Event struct {
	ID         string         `json:"id"`
	Origin     uint32         `json:"origin"`
	Withdraw   bool           `json:"withdraw"`
	Time       time.Time      `json:"time"`
	Prefix     string         `json:"prefix"`
	ASPath     string         `json:"as_path,omitempty"`
	PathOrigin uint32         `json:"path_origin,omitempty"`
	Country    string         `json:"country,omitempty"`
	Scrubbing  bool           `json:"scrubbing"`
	Leak       *detector.Leak `json:"leak,omitempty"`
}

// FromAnnouncement annotates a stored record. country is the first known
// country along its path.
func FromAnnouncement(rec models.PersistedAnnouncement, country string) Event {
	ev := Event{
		ID:         rec.ID,
		Origin:     rec.Origin,
		Withdraw:   rec.Withdraw,
		Time:       unixTime(rec.Timestamp),
		Prefix:     rec.Prefix.String(),
		ASPath:     formatPath(rec.ASPath),
		PathOrigin: detector.PathOrigin(rec.ASPath),
		Country:    country,
		Scrubbing:  detector.HasScrubbingCenter(rec.ASPath),
	}
	if leak, ok := detector.FindLeak(rec.ASPath); ok {
		ev.Leak = &leak
	}
	return ev
}

// WriteEvents writes one record per event.
func (w *Writer) WriteEvents(events []Event) error {
	if w.json {
		enc := json.NewEncoder(w.w)
		for _, e := range events {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil
	}

	tw := tabwriter.NewWriter(w.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tTYPE\tPEER\tPREFIX\tAS PATH\tCOUNTRY\tNOTES")
	for _, e := range events {
		kind := "A"
		if e.Withdraw {
			kind = "W"
		}
		var notes []string
		if e.Scrubbing {
			notes = append(notes, "scrubbing")
		}
		if e.Leak != nil {
			notes = append(notes, fmt.Sprintf("leak via AS%d (AS%d -> AS%d)", e.Leak.LeakingASN, e.Leak.UpstreamTier1, e.Leak.DownstreamTier1))
		}
		fmt.Fprintf(tw, "%s\t%s\tAS%d\t%s\t%s\t%s\t%s\n",
			e.Time.Format(time.RFC3339), kind, e.Origin, e.Prefix,
			orDash(e.ASPath), orDash(e.Country), orDash(strings.Join(notes, ", ")))
	}
	return tw.Flush()
}

// formatPath renders a path the way looking glasses do: sequences as
// space-separated ASNs, sets in braces.
func formatPath(path []models.ASPathSegment) string {
	var parts []string
	for _, seg := range path {
		asns := make([]string, len(seg.ASNs))
		for i, a := range seg.ASNs {
			asns[i] = fmt.Sprint(a)
		}
		switch {
		case seg.Sequence && seg.Confederated:
			parts = append(parts, "("+strings.Join(asns, " ")+")")
		case seg.Sequence:
			parts = append(parts, asns...)
		case seg.Confederated:
			parts = append(parts, "["+strings.Join(asns, " ")+"]")
		default:
			parts = append(parts, "{"+strings.Join(asns, ",")+"}")
		}
	}
	return strings.Join(parts, " ")
}

func unixTime(ts float64) time.Time {
	sec := int64(ts)
	return time.Unix(sec, int64((ts-float64(sec))*1e9)).UTC()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
