package parser

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net/netip"

	"github.com/osrg/gobgp/v3/pkg/packet/bgp"
	"github.com/osrg/gobgp/v3/pkg/packet/mrt"

	"github.com/hervehildenbrand/bgp-shortlived/pkg/models"
)

// skipped counts records a file could not decode. The first error is kept
// for the log line.
type skipped struct {
	count int
	first error
}

func (s *skipped) add(err error) {
	s.count++
	if s.first == nil {
		s.first = err
	}
}

// readMRT decodes an MRT stream. Records other than BGP4MP UPDATE messages
// (state changes, keepalives, table dumps) are ignored; records that fail to
// decode are counted in the returned skipped.
func readMRT(r io.Reader) ([]models.RouteEvent, skipped, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordSize)
	scanner.Split(mrt.SplitMrt)

	var (
		events  []models.RouteEvent
		skip    skipped
		decoded int
	)
	for scanner.Scan() {
		data := scanner.Bytes()

		h := &mrt.MRTHeader{}
		if err := h.DecodeFromBytes(data[:mrt.MRT_COMMON_HEADER_LEN]); err != nil {
			return events, skip, fmt.Errorf("mrt header: %w", err)
		}
		body := data[mrt.MRT_COMMON_HEADER_LEN:]
		ts := float64(h.Timestamp)

		// BGP4MP_ET carries a microsecond field ahead of the BGP4MP body.
		if h.Type == mrt.BGP4MP_ET {
			if len(body) < 4 {
				skip.add(fmt.Errorf("bgp4mp_et record too short: %d bytes", len(body)))
				continue
			}
			ts += float64(binary.BigEndian.Uint32(body[:4])) / 1e6
			body = body[4:]
			h.Type = mrt.BGP4MP
			h.Len -= 4
		}

		msg, err := mrt.ParseMRTBody(h, body)
		if err != nil {
			skip.add(err)
			continue
		}
		decoded++

		bm, ok := msg.Body.(*mrt.BGP4MPMessage)
		if !ok || bm.BGPMessage == nil || bm.BGP4MPHeader == nil {
			continue
		}
		update, ok := bm.BGPMessage.Body.(*bgp.BGPUpdate)
		if !ok {
			continue
		}
		events = append(events, eventsFromUpdate(bm.PeerAS, ts, update)...)
	}
	if err := scanner.Err(); err != nil {
		return events, skip, fmt.Errorf("mrt stream: %w", err)
	}
	if decoded == 0 && skip.count > 0 {
		return nil, skip, fmt.Errorf("none of %d records decoded: %w", skip.count, skip.first)
	}
	return events, skip, nil
}

// eventsFromUpdate emits one event per announced or withdrawn prefix. All
// events of one UPDATE share the peer ASN, timestamp and AS path.
func eventsFromUpdate(peerAS uint32, ts float64, u *bgp.BGPUpdate) []models.RouteEvent {
	var (
		path      []models.ASPathSegment
		as4       []models.ASPathSegment
		announced []netip.Prefix
		withdrawn []netip.Prefix
	)

	for _, p := range u.WithdrawnRoutes {
		if pfx, ok := toPrefix(p); ok {
			withdrawn = append(withdrawn, pfx)
		}
	}
	for _, p := range u.NLRI {
		if pfx, ok := toPrefix(p); ok {
			announced = append(announced, pfx)
		}
	}

	for _, attr := range u.PathAttributes {
		switch a := attr.(type) {
		case *bgp.PathAttributeAsPath:
			path = segmentsFromParams(a.Value)
		case *bgp.PathAttributeAs4Path:
			params := make([]bgp.AsPathParamInterface, len(a.Value))
			for i, p := range a.Value {
				params[i] = p
			}
			as4 = segmentsFromParams(params)
		case *bgp.PathAttributeMpReachNLRI:
			for _, p := range a.Value {
				if pfx, ok := toPrefix(p); ok {
					announced = append(announced, pfx)
				}
			}
		case *bgp.PathAttributeMpUnreachNLRI:
			for _, p := range a.Value {
				if pfx, ok := toPrefix(p); ok {
					withdrawn = append(withdrawn, pfx)
				}
			}
		}
	}

	if as4 != nil {
		path = mergeAS4Path(path, as4)
	}

	events := make([]models.RouteEvent, 0, len(announced)+len(withdrawn))
	for _, pfx := range announced {
		events = append(events, models.RouteEvent{
			Origin:    peerAS,
			Prefix:    pfx,
			Timestamp: ts,
			Direction: models.Announce,
			ASPath:    path,
		})
	}
	for _, pfx := range withdrawn {
		events = append(events, models.RouteEvent{
			Origin:    peerAS,
			Prefix:    pfx,
			Timestamp: ts,
			Direction: models.Withdraw,
		})
	}
	return events
}

func segmentsFromParams(params []bgp.AsPathParamInterface) []models.ASPathSegment {
	segs := make([]models.ASPathSegment, 0, len(params))
	for _, param := range params {
		var typ uint8
		switch p := param.(type) {
		case *bgp.As4PathParam:
			typ = p.Type
		case *bgp.AsPathParam:
			typ = p.Type
		default:
			continue
		}
		seg := models.ASPathSegment{ASNs: param.GetAS()}
		switch typ {
		case bgp.BGP_ASPATH_ATTR_TYPE_SEQ:
			seg.Sequence = true
		case bgp.BGP_ASPATH_ATTR_TYPE_SET:
		case bgp.BGP_ASPATH_ATTR_TYPE_CONFED_SEQ:
			seg.Sequence, seg.Confederated = true, true
		case bgp.BGP_ASPATH_ATTR_TYPE_CONFED_SET:
			seg.Confederated = true
		default:
			continue
		}
		segs = append(segs, seg)
	}
	return segs
}

// pathLength counts a path the way RFC 4271 does for route selection: one
// per sequence member, one per set, nothing for confederation segments.
func pathLength(path []models.ASPathSegment) int {
	n := 0
	for _, seg := range path {
		switch {
		case seg.Confederated:
		case seg.Sequence:
			n += len(seg.ASNs)
		default:
			n++
		}
	}
	return n
}

// mergeAS4Path reconstructs the 4-byte path of an update received from a
// 2-byte speaker (RFC 6793 section 4.2.3): the leading AS_PATH entries the
// AS4_PATH does not cover are kept, the rest is replaced by AS4_PATH. An
// AS4_PATH longer than AS_PATH is ignored.
func mergeAS4Path(path, as4 []models.ASPathSegment) []models.ASPathSegment {
	tail := make([]models.ASPathSegment, 0, len(as4))
	for _, seg := range as4 {
		if !seg.Confederated {
			tail = append(tail, seg)
		}
	}
	n, m := pathLength(path), pathLength(tail)
	if m == 0 || m > n {
		return path
	}

	keep := n - m
	merged := make([]models.ASPathSegment, 0, len(path)+len(tail))
	for _, seg := range path {
		if keep == 0 {
			break
		}
		switch {
		case seg.Confederated:
			merged = append(merged, seg)
		case !seg.Sequence:
			merged = append(merged, seg)
			keep--
		case len(seg.ASNs) <= keep:
			merged = append(merged, seg)
			keep -= len(seg.ASNs)
		default:
			merged = append(merged, models.ASPathSegment{
				Sequence: true,
				ASNs:     append([]uint32(nil), seg.ASNs[:keep]...),
			})
			keep = 0
		}
	}

	for _, seg := range tail {
		last := len(merged) - 1
		if last >= 0 && seg.Sequence && merged[last].Sequence && !merged[last].Confederated {
			merged[last].ASNs = append(append([]uint32(nil), merged[last].ASNs...), seg.ASNs...)
			continue
		}
		merged = append(merged, seg)
	}
	return merged
}

// toPrefix converts unicast IPv4/IPv6 NLRI. Other families are ignored.
func toPrefix(p bgp.AddrPrefixInterface) (netip.Prefix, bool) {
	var (
		raw    []byte
		length uint8
		v4     bool
	)
	switch v := p.(type) {
	case *bgp.IPAddrPrefix:
		raw, length, v4 = v.Prefix, v.Length, true
	case *bgp.IPv6AddrPrefix:
		raw, length = v.Prefix, v.Length
	default:
		return netip.Prefix{}, false
	}

	addr, ok := netip.AddrFromSlice(raw)
	if !ok {
		return netip.Prefix{}, false
	}
	if v4 {
		addr = addr.Unmap()
	}
	pfx := netip.PrefixFrom(addr, int(length)).Masked()
	return pfx, pfx.IsValid()
}
