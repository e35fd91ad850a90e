package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Roughly downtown San Francisco and Oakland, ~13km apart.
var (
	sanFrancisco = GeoCoord{LatE7: 377749000, LonE7: -1224194000}
	oakland      = GeoCoord{LatE7: 378044000, LonE7: -1222712000}
)

func Test_HaversineMeters_known_distance(t *testing.T) {
	d := HaversineMeters(sanFrancisco, oakland)
	assert.InDelta(t, 13_000, d, 2_000)
}

func Test_HaversineMeters_zero_for_identical_points(t *testing.T) {
	assert.Equal(t, 0.0, HaversineMeters(sanFrancisco, sanFrancisco))
}

func Test_GreedyNextHop_picks_closer_neighbor(t *testing.T) {
	g := NewGeoRouting(Address(1), nil)
	g.SetPosition(sanFrancisco, Millis(0))
	g.HandleLocationBeacon(Address(2), oakland, 0, 0, 0, -60, Millis(0))

	hop, ok := g.GreedyNextHop(oakland)
	assert.True(t, ok)
	assert.Equal(t, Address(2), hop)
}

func Test_GreedyNextHop_fails_when_no_neighbor_makes_progress(t *testing.T) {
	g := NewGeoRouting(Address(1), nil)
	g.SetPosition(oakland, Millis(0)) // already at the destination
	g.HandleLocationBeacon(Address(2), sanFrancisco, 0, 0, 0, -60, Millis(0))

	_, ok := g.GreedyNextHop(oakland)
	assert.False(t, ok)
}

func Test_NextHop_falls_back_to_perimeter_mode(t *testing.T) {
	g := NewGeoRouting(Address(1), nil)
	g.SetPosition(oakland, Millis(0))
	g.HandleLocationBeacon(Address(2), sanFrancisco, 0, 0, 0, -60, Millis(0))

	hop, ok := g.NextHop(oakland)
	assert.True(t, ok, "perimeter mode should still find a hop when greedy forwarding stalls")
	assert.Equal(t, Address(2), hop)
	assert.Equal(t, uint32(1), g.Stats().PerimeterForwards)
}

func Test_GeoRouting_ExpireStale_drops_old_locations(t *testing.T) {
	g := NewGeoRouting(Address(1), nil)
	g.HandleLocationBeacon(Address(2), oakland, 0, 0, 0, -60, Millis(0))

	g.ExpireStale(Millis(GeoLocationTimeout + 1))
	assert.Len(t, g.All(), 0)
}

func Test_GeocastRegion_InRegion(t *testing.T) {
	region := GeocastRegion{Center: sanFrancisco, RadiusM: 5000}
	assert.True(t, region.InRegion(sanFrancisco))
	assert.False(t, region.InRegion(oakland))
}

func Test_ShouldRebroadcastGeocast_tapers_at_2x_radius(t *testing.T) {
	g := NewGeoRouting(Address(1), nil)
	g.SetPosition(oakland, Millis(0))

	near := GeocastRegion{Center: sanFrancisco, RadiusM: 20_000}
	assert.True(t, g.ShouldRebroadcastGeocast(near))

	far := GeocastRegion{Center: sanFrancisco, RadiusM: 100}
	assert.False(t, g.ShouldRebroadcastGeocast(far))
}
