package codec

import (
	"bytes"
	"errors"
	"io"
	"net/netip"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/hervehildenbrand/bgp-shortlived/pkg/models"
)

func fixedEncoder(delim rune, ids ...string) *Encoder {
	i := 0
	return &Encoder{delim: delim, newID: func() string {
		id := ids[i%len(ids)]
		i++
		return id
	}}
}

func TestEncode_Format(t *testing.T) {
	enc := fixedEncoder(',', "id-1")
	ev := models.RouteEvent{
		Origin:    65000,
		Prefix:    netip.MustParsePrefix("1.2.3.0/24"),
		Timestamp: 100,
		Direction: models.Announce,
		ASPath: []models.ASPathSegment{
			{Sequence: true, ASNs: []uint32{174, 65000}},
		},
	}

	got, err := enc.Encode(ev)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	want := `id-1,65000,0,100,1.2.3.0/24,"{""(t,f,\""{174,65000}\"")""}"` + "\n"
	if string(got) != want {
		t.Errorf("Encode() =\n\t%s\nwant\n\t%s", got, want)
	}
}

func TestEncode_Withdraw(t *testing.T) {
	enc := fixedEncoder(',', "id-2")
	ev := models.RouteEvent{
		Origin:    65000,
		Prefix:    netip.MustParsePrefix("2001:db8::/32"),
		Timestamp: 200.5,
		Direction: models.Withdraw,
	}

	got, err := enc.Encode(ev)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	want := "id-2,65000,1,200.5,2001:db8::/32,{}\n"
	if string(got) != want {
		t.Errorf("Encode() = %q, want %q", got, want)
	}
}

func TestEncode_AnnounceWithoutASPath(t *testing.T) {
	enc := NewEncoder(DefaultDelimiter)
	ev := models.RouteEvent{
		Origin:    65000,
		Prefix:    netip.MustParsePrefix("1.2.3.0/24"),
		Timestamp: 100,
		Direction: models.Announce,
	}

	var buf bytes.Buffer
	err := enc.Append(&buf, ev)
	if !errors.Is(err, models.ErrEncodingFailure) {
		t.Fatalf("Append() error = %v, want ErrEncodingFailure", err)
	}
	if buf.Len() != 0 {
		t.Errorf("buffer written on failure: %q", buf.String())
	}
}

func TestEncode_InvalidPrefix(t *testing.T) {
	enc := NewEncoder(DefaultDelimiter)
	_, err := enc.Encode(models.RouteEvent{Origin: 1, Direction: models.Withdraw})
	if !errors.Is(err, models.ErrEncodingFailure) {
		t.Fatalf("Encode() error = %v, want ErrEncodingFailure", err)
	}
}

func TestEncode_MasksHostBits(t *testing.T) {
	enc := fixedEncoder(',', "id")
	got, err := enc.Encode(models.RouteEvent{
		Origin:    1,
		Prefix:    netip.MustParsePrefix("10.1.2.3/8"),
		Direction: models.Withdraw,
	})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !strings.Contains(string(got), ",10.0.0.0/8,") {
		t.Errorf("Encode() = %q, want masked prefix", got)
	}
}

func TestRoundTrip(t *testing.T) {
	events := []models.RouteEvent{
		{
			Origin:    65000,
			Prefix:    netip.MustParsePrefix("1.2.3.0/24"),
			Timestamp: 1692223200.25,
			Direction: models.Announce,
			ASPath: []models.ASPathSegment{
				{Sequence: true, ASNs: []uint32{6939, 3356}},
				{Sequence: false, ASNs: []uint32{64512, 64513}},
				{Sequence: true, Confederated: true, ASNs: []uint32{65001}},
				{Sequence: false, Confederated: true, ASNs: []uint32{4200000000}},
			},
		},
		{
			Origin:    4200000001,
			Prefix:    netip.MustParsePrefix("2001:db8:1::/48"),
			Timestamp: 1692223210,
			Direction: models.Withdraw,
			ASPath:    []models.ASPathSegment{},
		},
	}

	for _, delim := range []rune{',', '|', '\t', ';'} {
		t.Run(string(delim), func(t *testing.T) {
			enc := fixedEncoder(delim, "a", "b")
			var buf bytes.Buffer
			for _, ev := range events {
				if err := enc.Append(&buf, ev); err != nil {
					t.Fatalf("Append() error = %v", err)
				}
			}

			dec := NewDecoder(&buf, delim)
			for i, ev := range events {
				rec, err := dec.Read()
				if err != nil {
					t.Fatalf("Read() #%d error = %v", i, err)
				}
				if rec.Origin != ev.Origin || rec.Timestamp != ev.Timestamp || rec.Prefix != ev.Prefix {
					t.Errorf("record %d = %+v, want fields of %+v", i, rec, ev)
				}
				if rec.Direction() != ev.Direction {
					t.Errorf("record %d direction = %v, want %v", i, rec.Direction(), ev.Direction)
				}
				if len(ev.ASPath) == 0 {
					if len(rec.ASPath) != 0 {
						t.Errorf("record %d AS path = %+v, want empty", i, rec.ASPath)
					}
				} else if !reflect.DeepEqual(rec.ASPath, ev.ASPath) {
					t.Errorf("record %d AS path = %+v, want %+v", i, rec.ASPath, ev.ASPath)
				}
			}
			if _, err := dec.Read(); !errors.Is(err, io.EOF) {
				t.Errorf("final Read() error = %v, want io.EOF", err)
			}
		})
	}
}

func TestRoundTrip_TimestampPrecision(t *testing.T) {
	for _, ts := range []float64{1692223200.1234567, 100.0000001, 0.0000001, 1e15, 0} {
		t.Run(strconv.FormatFloat(ts, 'g', -1, 64), func(t *testing.T) {
			ev := models.RouteEvent{
				Origin:    65000,
				Prefix:    netip.MustParsePrefix("1.2.3.0/24"),
				Timestamp: ts,
				Direction: models.Withdraw,
			}
			line, err := fixedEncoder(',', "a").Encode(ev)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if bytes.ContainsAny(line, "eE") {
				t.Errorf("Encode() = %q, want no exponent", line)
			}

			rec, err := NewDecoder(bytes.NewReader(line), ',').Read()
			if err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			if rec.Timestamp != ts {
				t.Errorf("timestamp %v round-tripped to %v", ts, rec.Timestamp)
			}
		})
	}
}

func TestDecoder_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"too few fields", "id,1,0,100.0,1.2.3.0/24\n"},
		{"bad origin", "id,x,0,100.0,1.2.3.0/24,{}\n"},
		{"bad direction", "id,1,2,100.0,1.2.3.0/24,{}\n"},
		{"bad timestamp", "id,1,0,soon,1.2.3.0/24,{}\n"},
		{"bad prefix", "id,1,0,100.0,1.2.3.0,{}\n"},
		{"bad as path", "id,1,0,100.0,1.2.3.0/24,\"{(t,f)}\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDecoder(strings.NewReader(tt.input), ',').Read()
			if !errors.Is(err, models.ErrEncodingFailure) {
				t.Errorf("Read() error = %v, want ErrEncodingFailure", err)
			}
		})
	}
}

func TestValidDelimiter(t *testing.T) {
	for _, r := range []rune{',', '|', '\t', ';'} {
		if !ValidDelimiter(r) {
			t.Errorf("ValidDelimiter(%q) = false", r)
		}
	}
	for _, r := range []rune{0, '"', '\n', '\r', '\\', utf8.RuneError} {
		if ValidDelimiter(r) {
			t.Errorf("ValidDelimiter(%q) = true", r)
		}
	}
}
