package detector

import "github.com/hervehildenbrand/bgp-shortlived/pkg/models"

// Leak is a Tier1 -> SmallAS -> Tier1 pattern found in an AS path.
type Leak struct {
	LeakingASN      uint32 `json:"leaking_asn"`
	UpstreamTier1   uint32 `json:"upstream_tier1"`
	DownstreamTier1 uint32 `json:"downstream_tier1"`
}

// FindLeak looks for a small AS providing transit between two Tier-1s in the
// sequence segments of path. AS_SETs break the pattern since their order is
// meaningless.
func FindLeak(path []models.ASPathSegment) (Leak, bool) {
	for _, seg := range path {
		if !seg.Sequence {
			continue
		}
		asns := seg.ASNs
		for i := 0; i+2 < len(asns); i++ {
			asn1, asn2, asn3 := asns[i], asns[i+1], asns[i+2]

			// asn2 is a small AS providing transit between two Tier-1s,
			// unless it is a scrubbing center.
			if IsTier1(asn1) && IsTier1(asn3) && !IsTier1(asn2) && !IsScrubbing(asn2) {
				return Leak{LeakingASN: asn2, UpstreamTier1: asn1, DownstreamTier1: asn3}, true
			}
		}
	}
	return Leak{}, false
}

// PathOrigin returns the last ASN of the path, the AS that originated the
// route. It returns 0 for an empty path or one ending in an AS_SET.
func PathOrigin(path []models.ASPathSegment) uint32 {
	if len(path) == 0 {
		return 0
	}
	last := path[len(path)-1]
	if !last.Sequence || len(last.ASNs) == 0 {
		return 0
	}
	return last.ASNs[len(last.ASNs)-1]
}
