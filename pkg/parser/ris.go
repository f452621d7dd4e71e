package parser

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/netip"
	"strconv"

	"github.com/hervehildenbrand/bgp-shortlived/pkg/models"
)

// RISMessage is the top-level RIS Live message envelope.
type RISMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// RISUpdateData is the BGP update payload of a ris_message.
type RISUpdateData struct {
	Timestamp     float64           `json:"timestamp"`
	PeerASN       json.RawMessage   `json:"peer_asn"` // Can be string or number
	Path          json.RawMessage   `json:"path"`
	Announcements []RISAnnouncement `json:"announcements"`
	Withdrawals   []string          `json:"withdrawals"`
}

// RISAnnouncement represents announced prefixes sharing a next hop.
type RISAnnouncement struct {
	Prefixes []string `json:"prefixes"`
}

// readRIS decodes one RIS message per line. Lines that fail to decode are
// counted in the returned skipped; a file where no line decodes is an error.
func readRIS(r io.Reader) ([]models.RouteEvent, skipped, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordSize)

	var (
		events  []models.RouteEvent
		skip    skipped
		decoded int
		line    int
	)
	for scanner.Scan() {
		line++
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 {
			continue
		}
		evs, err := ParseRISMessage(data)
		if err != nil {
			skip.add(fmt.Errorf("line %d: %w", line, err))
			continue
		}
		decoded++
		events = append(events, evs...)
	}
	if err := scanner.Err(); err != nil {
		return events, skip, err
	}
	if decoded == 0 && skip.count > 0 {
		return nil, skip, fmt.Errorf("none of %d lines decoded: %w", skip.count, skip.first)
	}
	return events, skip, nil
}

// ParseRISMessage converts one RIS Live message into route events.
// Messages other than ris_message (errors, rrc_list, pongs) yield nothing.
func ParseRISMessage(data []byte) ([]models.RouteEvent, error) {
	var msg RISMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}

	if msg.Type != "ris_message" {
		return nil, nil
	}

	var update RISUpdateData
	if err := json.Unmarshal(msg.Data, &update); err != nil {
		return nil, fmt.Errorf("unmarshal update data: %w", err)
	}

	peerASN := parseASN(update.PeerASN)
	path, err := parseASPath(update.Path)
	if err != nil {
		return nil, fmt.Errorf("parse AS path: %w", err)
	}

	var events []models.RouteEvent
	for _, ann := range update.Announcements {
		for _, s := range ann.Prefixes {
			pfx, err := netip.ParsePrefix(s)
			if err != nil {
				return nil, fmt.Errorf("announced prefix: %w", err)
			}
			events = append(events, models.RouteEvent{
				Origin:    peerASN,
				Prefix:    pfx.Masked(),
				Timestamp: update.Timestamp,
				Direction: models.Announce,
				ASPath:    path,
			})
		}
	}
	for _, s := range update.Withdrawals {
		pfx, err := netip.ParsePrefix(s)
		if err != nil {
			return nil, fmt.Errorf("withdrawn prefix: %w", err)
		}
		events = append(events, models.RouteEvent{
			Origin:    peerASN,
			Prefix:    pfx.Masked(),
			Timestamp: update.Timestamp,
			Direction: models.Withdraw,
		})
	}
	return events, nil
}

// parseASN parses an ASN that can be either a string or number.
func parseASN(data json.RawMessage) uint32 {
	if len(data) == 0 {
		return 0
	}

	var num uint32
	if err := json.Unmarshal(data, &num); err == nil {
		return num
	}

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		val, _ := strconv.ParseUint(str, 10, 32)
		return uint32(val)
	}

	return 0
}

// parseASPath turns a RIS path into segments. Plain numbers form AS_SEQUENCE
// runs and nested arrays are AS_SETs: [174, 3356, [7018, 13335]] is
// {seq 174 3356}{set 7018 13335}.
func parseASPath(data json.RawMessage) ([]models.ASPathSegment, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return nil, fmt.Errorf("cannot parse path: %w", err)
	}

	var (
		segs []models.ASPathSegment
		seq  []uint32
	)
	flush := func() {
		if len(seq) > 0 {
			segs = append(segs, models.ASPathSegment{Sequence: true, ASNs: seq})
			seq = nil
		}
	}
	for _, elem := range elems {
		var num uint32
		if err := json.Unmarshal(elem, &num); err == nil {
			seq = append(seq, num)
			continue
		}

		var set []uint32
		if err := json.Unmarshal(elem, &set); err != nil {
			return nil, fmt.Errorf("path element %s: %w", elem, err)
		}
		flush()
		segs = append(segs, models.ASPathSegment{ASNs: set})
	}
	flush()
	return segs, nil
}
