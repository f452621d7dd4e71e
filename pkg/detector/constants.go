// Package detector finds short-lived announcements in the event store and
// groups them by origin.
package detector

import "github.com/hervehildenbrand/bgp-shortlived/pkg/models"

// Tier1ASNs contains the ASNs of known Tier-1 transit providers.
// A short-lived announcement from a Tier-1 origin is usually an operator
// error rather than a hijack; a small AS between two Tier-1s is a leak.
var Tier1ASNs = map[uint32]string{
	174:   "Cogent Communications",
	209:   "Lumen (CenturyLink)",
	286:   "KPN",
	701:   "Verizon",
	1239:  "Sprint",
	1299:  "Telia",
	1828:  "Unitas Global",
	2914:  "NTT America",
	3257:  "GTT",
	3320:  "Deutsche Telekom",
	3356:  "Lumen (Level3)",
	3491:  "PCCW Global",
	5511:  "Orange",
	6453:  "Tata Communications",
	6461:  "Zayo",
	6762:  "Telecom Italia Sparkle",
	6830:  "Liberty Global",
	6939:  "Hurricane Electric",
	7018:  "AT&T",
	12956: "Telefonica",
}

// ScrubbingASNs contains ASNs of known DDoS mitigation/scrubbing centers.
// On-demand mitigation announces and withdraws customer prefixes quickly,
// which looks exactly like a short-lived hijack.
var ScrubbingASNs = map[uint32]string{
	// Radware
	198949: "Radware Ltd",
	48851:  "Radware Ltd - Europe",
	25773:  "Radware Inc - US",
	15823:  "Radware Ltd - Israel",
	// Akamai / Prolexic
	32787: "Akamai Prolexic",
	20940: "Akamai Technologies",
	16625: "Akamai Technologies",
	21342: "Akamai Technologies",
	35994: "Akamai Technologies",
	23454: "Akamai Technologies",
	// Cloudflare
	13335:  "Cloudflare Inc",
	209242: "Cloudflare Inc",
	394536: "Cloudflare Inc",
	395747: "Cloudflare Inc",
	// Imperva / Incapsula
	19551: "Incapsula Inc",
	62571: "Imperva Inc",
	// Vercara / Neustar
	19905:  "UltraDDoS Protect",
	12008:  "Vercara UltraDNS",
	397213: "Vercara LLC",
	// DDoS-Guard
	57724: "DDoS-Guard LTD",
	49612: "DDoS-Guard LTD",
	// Qrator Labs
	197068: "Qrator Labs",
	// Voxility
	3223: "Voxility LLP",
	// Link11
	34309: "Link11 GmbH",
	// Sucuri
	30148: "Sucuri",
	// StackPath
	20446: "StackPath ABC LLC",
	33438: "StackPath / Datum",
	// Path Network
	397031: "Path Network Inc",
	// Cloud providers with DDoS protection
	16509:  "Amazon AWS Shield",
	14618:  "Amazon",
	8075:   "Microsoft Azure DDoS",
	396982: "Google Cloud Armor",
	15169:  "Google",
}

// IsTier1 checks if an ASN is a known Tier-1 provider.
func IsTier1(asn uint32) bool {
	_, ok := Tier1ASNs[asn]
	return ok
}

// IsScrubbing checks if an ASN is a known scrubbing/DDoS mitigation center.
func IsScrubbing(asn uint32) bool {
	_, ok := ScrubbingASNs[asn]
	return ok
}

// HasScrubbingCenter checks if any ASN in the path is a scrubbing center.
func HasScrubbingCenter(path []models.ASPathSegment) bool {
	for _, seg := range path {
		for _, asn := range seg.ASNs {
			if IsScrubbing(asn) {
				return true
			}
		}
	}
	return false
}
