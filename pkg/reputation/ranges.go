package reputation

import (
	"net"
	"net/netip"

	"github.com/mikioh/ipaddr"
)

// RangeSet matches prefixes against known-bad ranges.
type RangeSet struct {
	ranges []*ipaddr.Prefix
}

// NewRangeSet parses CIDR strings. Unparseable entries are dropped.
func NewRangeSet(cidrs []string) *RangeSet {
	s := &RangeSet{}
	for _, c := range cidrs {
		if p, err := parseCIDR(c); err == nil {
			s.ranges = append(s.ranges, p)
		}
	}
	return s
}

// Len returns the number of ranges in the set.
func (s *RangeSet) Len() int { return len(s.ranges) }

// Contains reports whether a range equals prefix or covers it.
func (s *RangeSet) Contains(prefix netip.Prefix) bool {
	if !prefix.IsValid() {
		return false
	}
	q := toIPAddr(prefix)
	for _, r := range s.ranges {
		if r.Equal(q) || r.Contains(q) {
			return true
		}
	}
	return false
}

func toIPAddr(p netip.Prefix) *ipaddr.Prefix {
	p = p.Masked()
	addr := p.Addr().Unmap()
	bits := p.Bits()
	if p.Addr().Is4In6() {
		bits -= 96
		if bits < 0 {
			bits = 0
		}
	}
	return ipaddr.NewPrefix(&net.IPNet{
		IP:   net.IP(addr.AsSlice()),
		Mask: net.CIDRMask(bits, addr.BitLen()),
	})
}
