// Package models defines data structures for BGP route events and short-lived findings.
package models

import (
	"net/netip"
)

// Direction of a route event.
type Direction uint8

const (
	Announce Direction = iota
	Withdraw
)

func (d Direction) String() string {
	if d == Withdraw {
		return "withdraw"
	}
	return "announce"
}

// ASPathSegment is one AS_PATH segment (RFC 4271 / RFC 5065).
type ASPathSegment struct {
	Sequence     bool // false = AS_SET
	Confederated bool
	ASNs         []uint32
}

// RouteEvent is one parsed announce/withdraw element from an update file.
type RouteEvent struct {
	Origin    uint32 // ASN of the peer that reported the route
	Prefix    netip.Prefix
	Timestamp float64 // Unix seconds, fractional
	Direction Direction
	ASPath    []ASPathSegment
}

// Announcing reports whether the event announces a route.
func (e RouteEvent) Announcing() bool {
	return e.Direction == Announce
}

// PersistedAnnouncement is one row of the announcement table.
// Rows are append-only; (Origin, Prefix, Timestamp, Withdraw) never change once written.
type PersistedAnnouncement struct {
	ID        string
	Origin    uint32
	Withdraw  bool
	Timestamp float64
	Prefix    netip.Prefix
	ASPath    []ASPathSegment
}

// Direction returns the event direction encoded by the Withdraw flag.
func (a PersistedAnnouncement) Direction() Direction {
	if a.Withdraw {
		return Withdraw
	}
	return Announce
}
