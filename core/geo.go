package core

import (
	"math"

	"github.com/golang/geo/s2"
)

/*------------------------------------------------------------------
 *
 * Purpose:	Geographic routing helper, spec §4.11: greedy-geographic
 *		next hop, GPSR perimeter fallback when no neighbor makes
 *		progress, and geocast flood-within-radius delivery.
 *		Grounded on original_source/georouting/georouting.h.
 *		Latitude/longitude are carried as original_source does,
 *		fixed-point degrees * 10^7, so the wire format needs no
 *		floating point. Great-circle distance is computed through
 *		s2.LatLng's spherical distance rather than a hand-rolled
 *		Haversine; initial bearing has no s2 equivalent and stays
 *		hand-rolled trig (see bearing() below).
 *
 *------------------------------------------------------------------*/

const (
	GeoMaxNodes         = 32
	GeoLocationTimeout  = 600_000
	GeoUpdateInterval   = 60_000
	GeoDefaultRadius    = 1000 // meters
	earthRadiusMeters   = 6_371_000.0
)

// GeoCoord is a fixed-point (lat, lon) * 10^7, matching the wire format.
type GeoCoord struct {
	LatE7 int32
	LonE7 int32
}

func (c GeoCoord) toRadians() (lat, lon float64) {
	lat = float64(c.LatE7) / 1e7 * math.Pi / 180
	lon = float64(c.LonE7) / 1e7 * math.Pi / 180
	return
}

func (c GeoCoord) toLatLng() s2.LatLng {
	return s2.LatLngFromDegrees(float64(c.LatE7)/1e7, float64(c.LonE7)/1e7)
}

// HaversineMeters computes the great-circle distance between two
// fixed-point coordinates, via s2's spherical LatLng distance (an
// angular great-circle distance, the same quantity Haversine computes)
// scaled by Earth's mean radius.
func HaversineMeters(a, b GeoCoord) float64 {
	return float64(a.toLatLng().Distance(b.toLatLng())) * earthRadiusMeters
}

// NodeLocation is one neighbor's last-known position (spec §4.11).
type NodeLocation struct {
	Address   Address
	Position  GeoCoord
	AltitudeM int16
	HeadingDeg uint16
	SpeedCMS  uint16
	Timestamp Millis
	RSSI      int16
	valid     bool
}

// GeoStats mirrors original_source's GeoStats counters.
type GeoStats struct {
	LocationUpdates   uint32
	GreedyForwards    uint32
	PerimeterForwards uint32
	GeocastSent       uint32
	GeocastReceived   uint32
	GeocastDelivered  uint32
	NoRouteDrops      uint32
}

// GeoRouting tracks neighbor positions and computes geographic next hops.
type GeoRouting struct {
	self     Address
	nodes    [GeoMaxNodes]NodeLocation
	position GeoCoord
	havePos  bool
	velocity GeoCoord // crude per-second delta for PredictPosition
	lastFix  Millis
	stats    GeoStats
	log      *Logger
}

// NewGeoRouting constructs an empty location table.
func NewGeoRouting(self Address, log *Logger) *GeoRouting {
	return &GeoRouting{self: self, log: log}
}

// SetPosition records this node's own GPS fix.
func (g *GeoRouting) SetPosition(pos GeoCoord, now Millis) {
	if g.havePos {
		elapsedS := float64(Since(now, g.lastFix)) / 1000.0
		if elapsedS > 0 {
			g.velocity = GeoCoord{
				LatE7: int32(float64(pos.LatE7-g.position.LatE7) / elapsedS),
				LonE7: int32(float64(pos.LonE7-g.position.LonE7) / elapsedS),
			}
		}
	}
	g.position = pos
	g.havePos = true
	g.lastFix = now
}

// Position returns the node's last known fix.
func (g *GeoRouting) Position() (GeoCoord, bool) { return g.position, g.havePos }

// PredictPosition dead-reckons this node's position forward by
// elapsedMS from the last GPS fix, using the simple constant-velocity
// model original_source's georouting.h design notes call out as a
// GPS-denied fallback but never implement.
func (g *GeoRouting) PredictPosition(elapsedMS uint32) (GeoCoord, bool) {
	if !g.havePos {
		return GeoCoord{}, false
	}
	seconds := float64(elapsedMS) / 1000.0
	return GeoCoord{
		LatE7: g.position.LatE7 + int32(float64(g.velocity.LatE7)*seconds),
		LonE7: g.position.LonE7 + int32(float64(g.velocity.LonE7)*seconds),
	}, true
}

func (g *GeoRouting) findOrAllocate(addr Address) *NodeLocation {
	for i := range g.nodes {
		if g.nodes[i].valid && g.nodes[i].Address == addr {
			return &g.nodes[i]
		}
	}
	for i := range g.nodes {
		if !g.nodes[i].valid {
			return &g.nodes[i]
		}
	}
	oldest := &g.nodes[0]
	for i := range g.nodes {
		if g.nodes[i].Timestamp < oldest.Timestamp {
			oldest = &g.nodes[i]
		}
	}
	return oldest
}

// HandleLocationBeacon records a neighbor's advertised position.
func (g *GeoRouting) HandleLocationBeacon(addr Address, pos GeoCoord, alt int16, heading, speed uint16, rssi int16, now Millis) {
	n := g.findOrAllocate(addr)
	*n = NodeLocation{
		Address:    addr,
		Position:   pos,
		AltitudeM:  alt,
		HeadingDeg: heading,
		SpeedCMS:   speed,
		Timestamp:  now,
		RSSI:       rssi,
		valid:      true,
	}
	g.stats.LocationUpdates++
}

// ExpireStale drops locations older than GeoLocationTimeout.
func (g *GeoRouting) ExpireStale(now Millis) {
	for i := range g.nodes {
		if g.nodes[i].valid && uint32(Since(now, g.nodes[i].Timestamp)) > GeoLocationTimeout {
			g.nodes[i] = NodeLocation{}
		}
	}
}

// GreedyNextHop implements GPSR's greedy-forwarding rule: pick the
// known neighbor whose position is closest to dest, provided that
// neighbor is strictly closer to dest than we are. Returns ok=false
// when no neighbor makes progress (spec §4.11 falls back to perimeter
// mode in that case).
func (g *GeoRouting) GreedyNextHop(dest GeoCoord) (Address, bool) {
	if !g.havePos {
		return AddressNone, false
	}
	ourDist := HaversineMeters(g.position, dest)

	var best *NodeLocation
	bestDist := ourDist
	for i := range g.nodes {
		n := &g.nodes[i]
		if !n.valid {
			continue
		}
		d := HaversineMeters(n.Position, dest)
		if d < bestDist {
			bestDist = d
			best = n
		}
	}
	if best == nil {
		return AddressNone, false
	}
	g.stats.GreedyForwards++
	return best.Address, true
}

// bearing returns the initial compass bearing in radians from a to b.
func bearing(a, b GeoCoord) float64 {
	lat1, lon1 := a.toRadians()
	lat2, lon2 := b.toRadians()
	y := math.Sin(lon2-lon1) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(lon2-lon1)
	return math.Atan2(y, x)
}

// PerimeterNextHop implements GPSR's right-hand-rule perimeter mode: of
// the neighbors whose bearing from us is clockwise-nearest to the
// direct bearing toward dest, pick that one. Used when GreedyNextHop
// reports no progress (a routing void).
func (g *GeoRouting) PerimeterNextHop(dest GeoCoord) (Address, bool) {
	if !g.havePos {
		return AddressNone, false
	}
	target := bearing(g.position, dest)

	var best *NodeLocation
	bestDelta := math.Pi * 3 // larger than any real angular delta
	for i := range g.nodes {
		n := &g.nodes[i]
		if !n.valid {
			continue
		}
		b := bearing(g.position, n.Position)
		delta := b - target
		for delta < 0 {
			delta += 2 * math.Pi
		}
		if delta < bestDelta {
			bestDelta = delta
			best = n
		}
	}
	if best == nil {
		return AddressNone, false
	}
	g.stats.PerimeterForwards++
	return best.Address, true
}

// NextHop picks greedy forwarding when it makes progress, falling back
// to perimeter mode otherwise (spec §4.11's GPSR mode selection).
func (g *GeoRouting) NextHop(dest GeoCoord) (Address, bool) {
	if hop, ok := g.GreedyNextHop(dest); ok {
		return hop, true
	}
	if hop, ok := g.PerimeterNextHop(dest); ok {
		return hop, true
	}
	g.stats.NoRouteDrops++
	return AddressNone, false
}

// GeocastRegion names a circular delivery area.
type GeocastRegion struct {
	Center GeoCoord
	RadiusM uint32
}

// InRegion reports whether pos falls within region.
func (r GeocastRegion) InRegion(pos GeoCoord) bool {
	return HaversineMeters(r.Center, pos) <= float64(r.RadiusM)
}

// ShouldRebroadcastGeocast implements flood-within-2r (spec §4.11/§8):
// a geocast is rebroadcast by any node within twice the delivery radius
// of the region's center, so the flood naturally tapers off at the
// region's edge instead of propagating across the whole mesh.
func (g *GeoRouting) ShouldRebroadcastGeocast(region GeocastRegion) bool {
	if !g.havePos {
		return false
	}
	return HaversineMeters(g.position, region.Center) <= float64(2*region.RadiusM)
}

// DeliversLocally reports whether our own position falls inside region,
// i.e. whether a geocast addressed to it should be delivered to the
// local application as well as rebroadcast.
func (g *GeoRouting) DeliversLocally(region GeocastRegion) bool {
	if !g.havePos {
		return false
	}
	delivers := region.InRegion(g.position)
	if delivers {
		g.stats.GeocastDelivered++
	}
	return delivers
}

// Stats returns a snapshot of the geo routing counters.
func (g *GeoRouting) Stats() GeoStats { return g.stats }

// All returns every currently-tracked neighbor location.
func (g *GeoRouting) All() []NodeLocation {
	out := make([]NodeLocation, 0, len(g.nodes))
	for _, n := range g.nodes {
		if n.valid {
			out = append(out, n)
		}
	}
	return out
}
