package detector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/netip"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/hervehildenbrand/bgp-shortlived/pkg/models"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type event struct {
	origin   uint32
	prefix   netip.Prefix
	ts       float64
	withdraw bool
}

// memQuerier evaluates the windowed self-join over an in-memory event list.
type memQuerier struct {
	events  []event
	queries []models.WindowQuery
	failAt  int // 1-based query number that fails; 0 never fails
}

func (m *memQuerier) ShortLived(_ context.Context, q models.WindowQuery) ([]models.PotentialHijack, error) {
	m.queries = append(m.queries, q)
	if m.failAt == len(m.queries) {
		return nil, fmt.Errorf("relation \"announcement\" does not exist: %w", models.ErrStoreQuery)
	}

	var out []models.PotentialHijack
	for _, a := range m.events {
		if a.withdraw || a.ts < q.Start || a.ts >= q.Stop {
			continue
		}
		best := math.Inf(1)
		for _, w := range m.events {
			if !w.withdraw || w.origin != a.origin || w.prefix != a.prefix {
				continue
			}
			if w.ts > a.ts && w.ts-a.ts <= q.Window && w.ts < q.Stop+q.Window && w.ts < best {
				best = w.ts
			}
		}
		if !math.IsInf(best, 1) {
			out = append(out, models.PotentialHijack{Origin: a.origin, Prefix: a.prefix, AnnTime: a.ts, WdTime: best})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AnnTime < out[j].AnnTime })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

var pfx = netip.MustParsePrefix("1.2.3.0/24")

func ann(origin uint32, ts float64) event { return event{origin: origin, prefix: pfx, ts: ts} }
func wd(origin uint32, ts float64) event {
	return event{origin: origin, prefix: pfx, ts: ts, withdraw: true}
}

func scan(t *testing.T, q Querier, opts Options) []models.PotentialHijack {
	t.Helper()
	got, err := Collect(NewEngine(q, quietLogger).FindShortLived(context.Background(), opts))
	if err != nil {
		t.Fatalf("FindShortLived() error = %v", err)
	}
	return got
}

func TestFindShortLived_Scenarios(t *testing.T) {
	tests := []struct {
		name   string
		events []event
		start  int64
		stop   int64
		chunk  time.Duration
		want   []models.PotentialHijack
	}{
		{
			name:   "withdraw inside window",
			events: []event{ann(65000, 100), wd(65000, 200)},
			start:  0, stop: 1000, chunk: time.Hour,
			want: []models.PotentialHijack{{Origin: 65000, Prefix: pfx, AnnTime: 100, WdTime: 200}},
		},
		{
			name:   "withdraw outside window",
			events: []event{ann(65000, 100), wd(65000, 1200)},
			start:  0, stop: 2000, chunk: time.Hour,
			want: nil,
		},
		{
			name:   "pair spans chunk boundary",
			events: []event{ann(65000, 990), wd(65000, 1010)},
			start:  0, stop: 2000, chunk: 1000 * time.Second,
			want: []models.PotentialHijack{{Origin: 65000, Prefix: pfx, AnnTime: 990, WdTime: 1010}},
		},
		{
			name:   "earliest withdraw wins",
			events: []event{ann(65000, 100), wd(65000, 500), wd(65000, 300), wd(65000, 100)},
			start:  0, stop: 1000, chunk: time.Hour,
			want: []models.PotentialHijack{{Origin: 65000, Prefix: pfx, AnnTime: 100, WdTime: 300}},
		},
		{
			name:   "different origin does not pair",
			events: []event{ann(65000, 100), wd(65001, 200)},
			start:  0, stop: 1000, chunk: time.Hour,
			want: nil,
		},
		{
			name:   "withdraw exactly at window edge",
			events: []event{ann(65000, 100), wd(65000, 1000)},
			start:  0, stop: 1000, chunk: time.Hour,
			want: []models.PotentialHijack{{Origin: 65000, Prefix: pfx, AnnTime: 100, WdTime: 1000}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &memQuerier{events: tt.events}
			got := scan(t, q, Options{
				Window:    900 * time.Second,
				Start:     time.Unix(tt.start, 0),
				Stop:      time.Unix(tt.stop, 0),
				ChunkSize: tt.chunk,
			})
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("FindShortLived() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestFindShortLived_ChunkBoundaryCompleteness(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	prefixes := []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.0.2.0/24"),
		netip.MustParsePrefix("2001:db8::/32"),
	}

	var events []event
	for i := 0; i < 400; i++ {
		events = append(events, event{
			origin:   uint32(65000 + rng.Intn(3)),
			prefix:   prefixes[rng.Intn(len(prefixes))],
			ts:       float64(rng.Intn(5000)) + float64(rng.Intn(4))/4,
			withdraw: rng.Intn(2) == 0,
		})
	}

	const window = 120.0
	start, stop := time.Unix(0, 0), time.Unix(5000, 0)

	want := bruteForce(events, 0, 5000, window)
	whole := scan(t, &memQuerier{events: events}, Options{
		Window: window * time.Second, Start: start, Stop: stop, ChunkSize: 5000 * time.Second,
	})
	if !sameSet(whole, want) {
		t.Fatalf("single chunk scan differs from brute force: got %d, want %d", len(whole), len(want))
	}

	for _, size := range []int64{1, 7, 60, 119, 120, 121, 333, 1000, 4999, 10000} {
		t.Run(fmt.Sprintf("chunk=%d", size), func(t *testing.T) {
			got := scan(t, &memQuerier{events: events}, Options{
				Window: window * time.Second, Start: start, Stop: stop, ChunkSize: time.Duration(size) * time.Second,
			})
			if !sameSet(got, want) {
				t.Errorf("chunk size %d: got %d findings, want %d", size, len(got), len(want))
			}
		})
	}
}

// bruteForce applies the pairing rule directly: every announce in
// [start, stop) pairs with its earliest withdraw in (t, t+window].
func bruteForce(events []event, start, stop, window float64) []models.PotentialHijack {
	var out []models.PotentialHijack
	for _, a := range events {
		if a.withdraw || a.ts < start || a.ts >= stop {
			continue
		}
		found := false
		var best float64
		for _, w := range events {
			if w.withdraw && w.origin == a.origin && w.prefix == a.prefix && w.ts > a.ts && w.ts <= a.ts+window {
				if !found || w.ts < best {
					best, found = w.ts, true
				}
			}
		}
		if found {
			out = append(out, models.PotentialHijack{Origin: a.origin, Prefix: a.prefix, AnnTime: a.ts, WdTime: best})
		}
	}
	return out
}

func sameSet(a, b []models.PotentialHijack) bool {
	if len(a) != len(b) {
		return false
	}
	count := make(map[models.PotentialHijack]int)
	for _, h := range a {
		count[h]++
	}
	for _, h := range b {
		count[h]--
		if count[h] < 0 {
			return false
		}
	}
	return true
}

func TestFindShortLived_LimitModes(t *testing.T) {
	// Two findings in each of three 100s chunks.
	var events []event
	for c := 0; c < 3; c++ {
		base := float64(c * 100)
		events = append(events,
			event{origin: 1, prefix: pfx, ts: base + 10},
			event{origin: 1, prefix: pfx, ts: base + 11, withdraw: true},
			event{origin: 2, prefix: pfx, ts: base + 20},
			event{origin: 2, prefix: pfx, ts: base + 21, withdraw: true},
		)
	}
	opts := Options{
		Window:    5 * time.Second,
		Start:     time.Unix(0, 0),
		Stop:      time.Unix(300, 0),
		ChunkSize: 100 * time.Second,
		Limit:     1,
	}

	perChunk := scan(t, &memQuerier{events: events}, opts)
	if len(perChunk) != 3 {
		t.Errorf("per-chunk limit returned %d findings, want 3", len(perChunk))
	}

	opts.Limit = 3
	opts.GlobalLimit = true
	q := &memQuerier{events: events}
	global := scan(t, q, opts)
	if len(global) != 3 {
		t.Errorf("global limit returned %d findings, want 3", len(global))
	}
	if len(q.queries) != 2 {
		t.Errorf("global limit issued %d queries, want 2", len(q.queries))
	}
	if q.queries[1].Limit != 1 {
		t.Errorf("second query limit = %d, want the 1 row left", q.queries[1].Limit)
	}
}

func TestFindShortLived_ErrorAbortsSequence(t *testing.T) {
	q := &memQuerier{
		events: []event{ann(1, 10), wd(1, 11), ann(1, 150), wd(1, 151), ann(1, 250), wd(1, 251)},
		failAt: 2,
	}
	seq := NewEngine(q, quietLogger).FindShortLived(context.Background(), Options{
		Window: time.Minute, Start: time.Unix(0, 0), Stop: time.Unix(300, 0), ChunkSize: 100 * time.Second,
	})

	got, err := Collect(seq)
	if !errors.Is(err, models.ErrStoreQuery) {
		t.Fatalf("Collect() error = %v, want ErrStoreQuery", err)
	}
	if len(got) != 1 || got[0].AnnTime != 10 {
		t.Errorf("findings before error = %+v, want first chunk only", got)
	}
	if len(q.queries) != 2 {
		t.Errorf("issued %d queries, want 2", len(q.queries))
	}
}

func TestFindShortLived_BreakStopsQueries(t *testing.T) {
	q := &memQuerier{events: []event{ann(1, 10), wd(1, 11), ann(1, 150), wd(1, 151)}}
	seq := NewEngine(q, quietLogger).FindShortLived(context.Background(), Options{
		Window: time.Minute, Start: time.Unix(0, 0), Stop: time.Unix(1000, 0), ChunkSize: 100 * time.Second,
	})

	for _, err := range seq {
		if err != nil {
			t.Fatalf("unexpected error %v", err)
		}
		break
	}
	if len(q.queries) != 1 {
		t.Errorf("issued %d queries after break, want 1", len(q.queries))
	}
}

func TestFindShortLived_InvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"empty range", Options{Start: time.Unix(10, 0), Stop: time.Unix(10, 0)}},
		{"negative window", Options{Window: -time.Second, Start: time.Unix(0, 0), Stop: time.Unix(10, 0)}},
		{"negative limit", Options{Limit: -1, Start: time.Unix(0, 0), Stop: time.Unix(10, 0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &memQuerier{}
			_, err := Collect(NewEngine(q, quietLogger).FindShortLived(context.Background(), tt.opts))
			if err == nil {
				t.Error("FindShortLived() succeeded, want error")
			}
			if len(q.queries) != 0 {
				t.Errorf("issued %d queries for invalid options", len(q.queries))
			}
		})
	}
}

func TestFindShortLived_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	q := &memQuerier{}
	_, err := Collect(NewEngine(q, quietLogger).FindShortLived(ctx, Options{Start: time.Unix(0, 0), Stop: time.Unix(10, 0)}))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestChunks(t *testing.T) {
	tests := []struct {
		name              string
		start, stop, size float64
		want              []Range
	}{
		{"exact", 0, 2000, 1000, []Range{{0, 1000}, {1000, 2000}}},
		{"short tail", 0, 2001, 1000, []Range{{0, 1000}, {1000, 2000}, {2000, 2001}}},
		{"single second", 5, 6, 1000, []Range{{5, 6}}},
		{"empty", 10, 10, 1, nil},
		{"reversed", 10, 0, 1, nil},
		{"zero size", 0, 10, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Chunks(tt.start, tt.stop, tt.size); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Chunks(%v, %v, %v) = %v, want %v", tt.start, tt.stop, tt.size, got, tt.want)
			}
		})
	}
}
