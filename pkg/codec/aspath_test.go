package codec

import (
	"reflect"
	"testing"

	"github.com/hervehildenbrand/bgp-shortlived/pkg/models"
)

func TestFormatASPath(t *testing.T) {
	tests := []struct {
		name string
		segs []models.ASPathSegment
		want string
	}{
		{"empty", nil, `{}`},
		{
			"single sequence",
			[]models.ASPathSegment{{Sequence: true, ASNs: []uint32{13335}}},
			`{"(t,f,\"{13335}\")"}`,
		},
		{
			"sequence and set",
			[]models.ASPathSegment{
				{Sequence: true, ASNs: []uint32{174, 3356}},
				{Sequence: false, ASNs: []uint32{7018, 13335}},
			},
			`{"(t,f,\"{174,3356}\")","(f,f,\"{7018,13335}\")"}`,
		},
		{
			"confederations",
			[]models.ASPathSegment{
				{Sequence: true, Confederated: true, ASNs: []uint32{65001}},
				{Sequence: false, Confederated: true, ASNs: []uint32{65002, 65003}},
			},
			`{"(t,t,\"{65001}\")","(f,t,\"{65002,65003}\")"}`,
		},
		{
			"empty segment",
			[]models.ASPathSegment{{Sequence: true, ASNs: nil}},
			`{"(t,f,\"{}\")"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatASPath(tt.segs); got != tt.want {
				t.Errorf("FormatASPath() = %s, want %s", got, tt.want)
			}
		})
	}
}

// Every comma separating array elements or composite fields must sit outside
// quotes, and every comma inside an ASN list must sit inside them.
func TestFormatASPath_EscapingRules(t *testing.T) {
	segs := []models.ASPathSegment{
		{Sequence: true, ASNs: []uint32{1, 2, 3}},
		{Sequence: false, ASNs: []uint32{4, 5}},
	}
	lit := FormatASPath(segs)

	elems, err := splitQuoted(lit[1 : len(lit)-1])
	if err != nil {
		t.Fatalf("splitQuoted(array) error = %v", err)
	}
	if len(elems) != len(segs) {
		t.Fatalf("array split into %d elements, want %d", len(elems), len(segs))
	}
	for i, el := range elems {
		if !el.quoted {
			t.Errorf("element %d not quoted: %s", i, el.text)
		}
		fields, err := splitQuoted(el.text[1 : len(el.text)-1])
		if err != nil {
			t.Fatalf("splitQuoted(composite %d) error = %v", i, err)
		}
		if len(fields) != 3 {
			t.Fatalf("composite %d split into %d fields, want 3", i, len(fields))
		}
		if !fields[2].quoted {
			t.Errorf("composite %d ASN list not quoted: %s", i, fields[2].text)
		}
	}
}

func TestParseASPath(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []models.ASPathSegment
	}{
		{"empty", `{}`, []models.ASPathSegment{}},
		{
			"postgres output",
			`{"(t,f,\"{174,3356}\")","(f,f,\"{7018}\")"}`,
			[]models.ASPathSegment{
				{Sequence: true, ASNs: []uint32{174, 3356}},
				{Sequence: false, ASNs: []uint32{7018}},
			},
		},
		{
			"long booleans and spaces",
			` {"(true,false,\"{1, 2}\")"} `,
			[]models.ASPathSegment{{Sequence: true, ASNs: []uint32{1, 2}}},
		},
		{
			"unquoted single asn list",
			`{"(f,t,{9})"}`,
			[]models.ASPathSegment{{Sequence: false, Confederated: true, ASNs: []uint32{9}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseASPath(tt.input)
			if err != nil {
				t.Fatalf("ParseASPath(%s) error = %v", tt.input, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseASPath(%s) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseASPath_Malformed(t *testing.T) {
	inputs := []string{
		``,
		`(t,f,"{1}")`,
		`{NULL}`,
		`{"(t,f,\"{1}\")"`,
		`{"(t,f,\"{1}\")`,
		`{"(t,f)"}`,
		`{"(x,f,\"{1}\")"}`,
		`{"(t,f,\"{one}\")"}`,
		`{"(t,f,\"{4294967296}\")"}`,
		`{"(t,f,\"{1}\")\`,
	}
	for _, in := range inputs {
		if segs, err := ParseASPath(in); err == nil {
			t.Errorf("ParseASPath(%q) = %+v, want error", in, segs)
		}
	}
}

func TestASPathRoundTrip(t *testing.T) {
	segs := []models.ASPathSegment{
		{Sequence: true, ASNs: []uint32{6939, 3356, 13335}},
		{Sequence: false, Confederated: false, ASNs: []uint32{64496, 64497}},
		{Sequence: true, Confederated: true, ASNs: []uint32{65000}},
		{Sequence: false, Confederated: true, ASNs: []uint32{4294967295}},
	}
	got, err := ParseASPath(FormatASPath(segs))
	if err != nil {
		t.Fatalf("ParseASPath() error = %v", err)
	}
	if !reflect.DeepEqual(got, segs) {
		t.Errorf("round trip = %+v, want %+v", got, segs)
	}
}
