// Package codec converts route events to the delimited text records streamed to
// the event store's bulk loader, and parses them back.
//
// A record is one CSV line (RFC 4180 quoting, same rules as PostgreSQL
// COPY ... CSV) with the fields
//
//	id, origin, withdraw(0|1), timestamp, prefix, as_path
//
// The as_path field is an as_path_segment[] literal. A non-empty path contains
// quotes, so the CSV layer always quotes it and doubles the inner quotes.
package codec

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"strconv"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hervehildenbrand/bgp-shortlived/pkg/models"
)

// DefaultDelimiter separates record fields.
const DefaultDelimiter = ','

const recordFields = 6

// ValidDelimiter reports whether r can separate record fields.
func ValidDelimiter(r rune) bool {
	return r != 0 && r != '"' && r != '\r' && r != '\n' && r != '\\' &&
		r != utf8.RuneError && utf8.ValidRune(r)
}

// Encoder renders RouteEvents as records.
type Encoder struct {
	delim rune
	newID func() string
}

// NewEncoder returns an encoder using delim and random UUID ids.
func NewEncoder(delim rune) *Encoder {
	return &Encoder{delim: delim, newID: uuid.NewString}
}

// Encode returns one newline terminated record.
func (e *Encoder) Encode(ev models.RouteEvent) ([]byte, error) {
	var buf bytes.Buffer
	if err := e.Append(&buf, ev); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Append writes one record to buf. On error buf is left unchanged.
func (e *Encoder) Append(buf *bytes.Buffer, ev models.RouteEvent) error {
	if !ValidDelimiter(e.delim) {
		return fmt.Errorf("invalid delimiter %q: %w", e.delim, models.ErrEncodingFailure)
	}
	if !ev.Prefix.IsValid() {
		return fmt.Errorf("event from AS%d: invalid prefix: %w", ev.Origin, models.ErrEncodingFailure)
	}
	if ev.Announcing() && len(ev.ASPath) == 0 {
		return fmt.Errorf("announce of %s from AS%d without AS path: %w", ev.Prefix, ev.Origin, models.ErrEncodingFailure)
	}

	withdraw := "0"
	if !ev.Announcing() {
		withdraw = "1"
	}
	fields := []string{
		e.newID(),
		strconv.FormatUint(uint64(ev.Origin), 10),
		withdraw,
		strconv.FormatFloat(ev.Timestamp, 'f', -1, 64),
		ev.Prefix.Masked().String(),
		FormatASPath(ev.ASPath),
	}

	var line bytes.Buffer
	w := csv.NewWriter(&line)
	w.Comma = e.delim
	if err := w.Write(fields); err != nil {
		return fmt.Errorf("write record: %v: %w", err, models.ErrEncodingFailure)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush record: %v: %w", err, models.ErrEncodingFailure)
	}
	buf.Write(line.Bytes())
	return nil
}

// Decoder reads records back into PersistedAnnouncements.
type Decoder struct {
	r *csv.Reader
}

// NewDecoder reads records from r.
func NewDecoder(r io.Reader, delim rune) *Decoder {
	cr := csv.NewReader(r)
	cr.Comma = delim
	cr.FieldsPerRecord = recordFields
	cr.ReuseRecord = true
	return &Decoder{r: cr}
}

// Read returns the next record, or io.EOF.
func (d *Decoder) Read() (models.PersistedAnnouncement, error) {
	fields, err := d.r.Read()
	if errors.Is(err, io.EOF) {
		return models.PersistedAnnouncement{}, io.EOF
	}
	if err != nil {
		return models.PersistedAnnouncement{}, fmt.Errorf("read record: %v: %w", err, models.ErrEncodingFailure)
	}
	return decodeFields(fields)
}

func decodeFields(f []string) (models.PersistedAnnouncement, error) {
	var rec models.PersistedAnnouncement
	rec.ID = f[0]

	origin, err := strconv.ParseUint(f[1], 10, 32)
	if err != nil {
		return rec, fmt.Errorf("record %s: origin: %v: %w", f[0], err, models.ErrEncodingFailure)
	}
	rec.Origin = uint32(origin)

	switch f[2] {
	case "0":
	case "1":
		rec.Withdraw = true
	default:
		return rec, fmt.Errorf("record %s: direction %q: %w", f[0], f[2], models.ErrEncodingFailure)
	}

	if rec.Timestamp, err = strconv.ParseFloat(f[3], 64); err != nil {
		return rec, fmt.Errorf("record %s: timestamp: %v: %w", f[0], err, models.ErrEncodingFailure)
	}
	if rec.Prefix, err = netip.ParsePrefix(f[4]); err != nil {
		return rec, fmt.Errorf("record %s: prefix: %v: %w", f[0], err, models.ErrEncodingFailure)
	}
	if rec.ASPath, err = ParseASPath(f[5]); err != nil {
		return rec, fmt.Errorf("record %s: %v: %w", f[0], err, models.ErrEncodingFailure)
	}
	return rec, nil
}
