package codec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hervehildenbrand/bgp-shortlived/pkg/models"
)

// FormatASPath renders segments as a PostgreSQL as_path_segment[] literal:
//
//	{"(t,f,\"{174,3356}\")","(f,f,\"{64512,64513}\")"}
//
// Each element is a (seq, confed, as_path) composite. The bigint[] field holds
// commas, so it is quoted inside the composite, and the composite is quoted
// inside the array with backslash-escaped inner quotes.
func FormatASPath(segs []models.ASPathSegment) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, seg := range segs {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(escapeElement(formatSegment(seg)))
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String()
}

func formatSegment(seg models.ASPathSegment) string {
	var b strings.Builder
	b.WriteByte('(')
	b.WriteString(pgBool(seg.Sequence))
	b.WriteByte(',')
	b.WriteString(pgBool(seg.Confederated))
	b.WriteString(`,"{`)
	for i, asn := range seg.ASNs {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatUint(uint64(asn), 10))
	}
	b.WriteString(`}")`)
	return b.String()
}

func escapeElement(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

func pgBool(v bool) string {
	if v {
		return "t"
	}
	return "f"
}

// ParseASPath parses an as_path_segment[] literal as produced by FormatASPath
// or by PostgreSQL's text output for the column.
func ParseASPath(s string) ([]models.ASPathSegment, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '{' || s[len(s)-1] != '}' {
		return nil, fmt.Errorf("as path %q: not an array literal", s)
	}
	elems, err := splitQuoted(s[1 : len(s)-1])
	if err != nil {
		return nil, fmt.Errorf("as path %q: %w", s, err)
	}

	segs := make([]models.ASPathSegment, 0, len(elems))
	for _, el := range elems {
		if !el.quoted && strings.EqualFold(el.text, "NULL") {
			return nil, fmt.Errorf("as path %q: null segment", s)
		}
		seg, err := parseSegment(el.text)
		if err != nil {
			return nil, fmt.Errorf("as path %q: %w", s, err)
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

func parseSegment(s string) (models.ASPathSegment, error) {
	if len(s) < 2 || s[0] != '(' || s[len(s)-1] != ')' {
		return models.ASPathSegment{}, fmt.Errorf("segment %q: not a composite literal", s)
	}
	fields, err := splitQuoted(s[1 : len(s)-1])
	if err != nil {
		return models.ASPathSegment{}, fmt.Errorf("segment %q: %w", s, err)
	}
	if len(fields) != 3 {
		return models.ASPathSegment{}, fmt.Errorf("segment %q: want 3 fields, got %d", s, len(fields))
	}

	seq, err := parseBool(fields[0].text)
	if err != nil {
		return models.ASPathSegment{}, err
	}
	confed, err := parseBool(fields[1].text)
	if err != nil {
		return models.ASPathSegment{}, err
	}
	asns, err := parseASNArray(fields[2].text)
	if err != nil {
		return models.ASPathSegment{}, err
	}
	return models.ASPathSegment{Sequence: seq, Confederated: confed, ASNs: asns}, nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "t", "true":
		return true, nil
	case "f", "false":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}

func parseASNArray(s string) ([]uint32, error) {
	if len(s) < 2 || s[0] != '{' || s[len(s)-1] != '}' {
		return nil, fmt.Errorf("asn list %q: not an array literal", s)
	}
	inner := s[1 : len(s)-1]
	if inner == "" {
		return []uint32{}, nil
	}
	parts := strings.Split(inner, ",")
	out := make([]uint32, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("asn list %q: %w", s, err)
		}
		out[i] = uint32(v)
	}
	return out, nil
}

type token struct {
	text   string
	quoted bool
}

// splitQuoted splits a comma separated array/composite body. Quoted items may
// contain commas; backslash escapes the next byte and "" inside quotes is a
// literal quote (composite output). Braces outside quotes nest.
func splitQuoted(s string) ([]token, error) {
	if s == "" {
		return nil, nil
	}
	var (
		out    []token
		cur    strings.Builder
		quoted bool
		inQ    bool
		depth  int
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\':
			if i+1 >= len(s) {
				return nil, fmt.Errorf("dangling escape")
			}
			i++
			cur.WriteByte(s[i])
		case inQ && c == '"':
			if i+1 < len(s) && s[i+1] == '"' {
				cur.WriteByte('"')
				i++
				continue
			}
			inQ = false
		case inQ:
			cur.WriteByte(c)
		case c == '"':
			inQ, quoted = true, true
		case c == '{':
			depth++
			cur.WriteByte(c)
		case c == '}':
			depth--
			cur.WriteByte(c)
		case c == ',' && depth == 0:
			out = append(out, token{text: cur.String(), quoted: quoted})
			cur.Reset()
			quoted = false
		default:
			cur.WriteByte(c)
		}
	}
	if inQ {
		return nil, fmt.Errorf("unterminated quote")
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced braces")
	}
	out = append(out, token{text: cur.String(), quoted: quoted})
	return out, nil
}
