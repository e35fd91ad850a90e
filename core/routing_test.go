package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouting(self Address) (*RoutingCore, *NeighborTable) {
	neighbors := NewNeighborTable(8, 10_000, nil)
	routing := NewRoutingCore(self, neighbors, 8, 10_000, newTestRNG(), nil)
	return routing, neighbors
}

func Test_RoutingCore_NextHop_prefers_direct_neighbor(t *testing.T) {
	routing, neighbors := newTestRouting(Address(1))
	neighbors.Touch(Address(2), -50, 5, Millis(0))

	hop, ok := routing.NextHop(Address(2), Millis(0))
	assert.True(t, ok)
	assert.Equal(t, Address(2), hop)
}

func Test_RoutingCore_NextHop_triggers_discovery_on_miss(t *testing.T) {
	routing, _ := newTestRouting(Address(1))

	var requested Address
	var requestID uint32
	routing.SendRouteRequest = func(dest Address, reqID uint32, ttl uint8) {
		requested = dest
		requestID = reqID
	}

	_, ok := routing.NextHop(Address(9), Millis(0))
	assert.False(t, ok)
	assert.Equal(t, Address(9), requested)
	assert.Equal(t, uint32(1), requestID)
}

// Three-hop discovery: A requests a route to C through B, B replies, and
// the reverse/forward routes both install correctly end to end.
func Test_RoutingCore_three_hop_route_discovery(t *testing.T) {
	a, _ := newTestRouting(Address(1))
	b, _ := newTestRouting(Address(2))
	c, _ := newTestRouting(Address(3))

	// A broadcasts ROUTE_REQ for C; B (one hop from A) hears it.
	forward, newHop, newTTL := b.HandleRouteRequest(Address(1), Address(1), Address(3), 42, 0, MaxTTLInitial, Millis(0))
	require.True(t, forward, "B is not the target, so it rebroadcasts")
	assert.Equal(t, uint8(1), newHop)
	assert.Equal(t, uint8(MaxTTLInitial-1), newTTL)

	// C hears B's rebroadcast and is the target: it replies instead of forwarding.
	var repliedTo Address
	c.SendRouteReply = func(nextHop, originator Address, requestID uint32, hopCount uint8) {
		repliedTo = nextHop
	}
	forward, _, _ = c.HandleRouteRequest(Address(2), Address(1), Address(3), 42, newHop, newTTL, Millis(10))
	assert.False(t, forward)
	assert.Equal(t, Address(2), repliedTo)

	// B receives C's ROUTE_REP and must forward it on toward A.
	nextHop, hopCount, shouldForward := b.HandleRouteReply(Address(3), Address(1), Address(3), 0, Millis(20))
	require.True(t, shouldForward)
	assert.Equal(t, Address(1), nextHop)
	assert.Equal(t, uint8(1), hopCount)

	// A receives the reply relayed by B and installs a route to C via B.
	_, _, shouldForward = a.HandleRouteReply(Address(2), Address(1), Address(3), hopCount, Millis(30))
	assert.False(t, shouldForward, "A is the originator; nothing further to forward")

	hop, ok := a.NextHop(Address(3), Millis(30))
	assert.True(t, ok)
	assert.Equal(t, Address(2), hop)
}

func Test_RoutingCore_HandleRouteRequest_dedupes_by_originator_and_request_id(t *testing.T) {
	b, _ := newTestRouting(Address(2))
	forward1, _, _ := b.HandleRouteRequest(Address(1), Address(1), Address(3), 7, 0, MaxTTLInitial, Millis(0))
	forward2, _, _ := b.HandleRouteRequest(Address(1), Address(1), Address(3), 7, 0, MaxTTLInitial, Millis(10))

	assert.True(t, forward1)
	assert.False(t, forward2, "a request already seen must not be processed again")
}

func Test_RoutingCore_HandleRouteRequest_stops_at_zero_ttl(t *testing.T) {
	b, _ := newTestRouting(Address(2))
	forward, _, _ := b.HandleRouteRequest(Address(1), Address(1), Address(3), 7, 0, 0, Millis(0))
	assert.False(t, forward)
}

func Test_RoutingCore_PassiveLearn_installs_one_hop_route(t *testing.T) {
	routing, _ := newTestRouting(Address(1))
	routing.PassiveLearn(Address(5), Address(5), 0, Millis(0))

	hop, ok := routing.NextHop(Address(5), Millis(0))
	assert.True(t, ok)
	assert.Equal(t, Address(5), hop)
}

func Test_RoutingCore_PassiveLearn_ignores_multi_hop_reception(t *testing.T) {
	routing, _ := newTestRouting(Address(1))
	routing.PassiveLearn(Address(5), Address(6), 2, Millis(0))

	assert.Nil(t, routing.findRoute(Address(5)))
}

func Test_RoutingCore_InvalidateRoute_drops_entry(t *testing.T) {
	routing, _ := newTestRouting(Address(1))
	routing.installRoute(Address(5), Address(6), 2, 1.0, Millis(0))
	routing.InvalidateRoute(Address(5))

	assert.Nil(t, routing.findRoute(Address(5)))
}

func Test_RoutingCore_ExpireStale_drops_unused_routes(t *testing.T) {
	routing, _ := newTestRouting(Address(1))
	routing.installRoute(Address(5), Address(6), 2, 1.0, Millis(0))

	routing.ExpireStale(Millis(10_001))
	assert.Nil(t, routing.findRoute(Address(5)))
}

func Test_RoutingCore_evicts_LRU_route_when_table_full(t *testing.T) {
	routing, _ := newTestRouting(Address(1))
	cap := len(routing.routes)
	for i := 0; i < cap; i++ {
		routing.installRoute(Address(uint32(i)+10), Address(uint32(i)+10), 1, 1.0, Millis(uint32(i)))
	}
	// Oldest (Address(10), LastUsed=0) should be evicted for a new route.
	routing.installRoute(Address(999), Address(999), 1, 1.0, Millis(1000))

	assert.Nil(t, routing.findRoute(Address(10)))
	assert.NotNil(t, routing.findRoute(Address(999)))
}
