package models

import "net/netip"

// PotentialHijack is an announcement withdrawn again inside the detection window.
// WdTime is the earliest qualifying withdraw for the announcement.
type PotentialHijack struct {
	Origin  uint32       `json:"origin"`
	Prefix  netip.Prefix `json:"prefix"`
	AnnTime float64      `json:"ann_time"`
	WdTime  float64      `json:"wd_time"`
}

// WindowQuery parameterizes one windowed self-join over [Start, Stop).
// Limit <= 0 means no row cap.
type WindowQuery struct {
	Window float64
	Start  float64
	Stop   float64
	Limit  int
}

// Duration returns the announce-to-withdraw gap in seconds.
func (h PotentialHijack) Duration() float64 {
	return h.WdTime - h.AnnTime
}

// ASNGroup holds the findings sharing one origin, in discovery order.
type ASNGroup struct {
	Origin   uint32
	Findings []PotentialHijack
}

// Prefixes returns the group's prefixes in finding order.
func (g ASNGroup) Prefixes() []netip.Prefix {
	out := make([]netip.Prefix, len(g.Findings))
	for i, f := range g.Findings {
		out[i] = f.Prefix
	}
	return out
}

// ThreatVerdict is the reputation cross-reference result for one ASNGroup.
type ThreatVerdict struct {
	Origin        uint32 `json:"origin"`
	Total         int    `json:"total"`
	Matched       int    `json:"matched"`
	OriginFlagged bool   `json:"origin_flagged"`
}

// Ratio returns Matched/Total, or 0 for an empty group.
func (v ThreatVerdict) Ratio() float64 {
	if v.Total == 0 {
		return 0
	}
	return float64(v.Matched) / float64(v.Total)
}
