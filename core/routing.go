package core

/*------------------------------------------------------------------
 *
 * Purpose:	Per-destination next-hop table and AODV-style on-demand
 *		discovery, per spec §3/§4.5.
 *
 * Description:	next_hop(dest) consults the neighbor table first (a
 *		direct neighbor answers directly), then the route table.
 *		A miss triggers a ROUTE_REQ broadcast. Passive learning
 *		installs a one-hop route from any direct, zero-hop
 *		reception whose source was previously unknown.
 *
 *------------------------------------------------------------------*/

// RouteEntry is one destination's next-hop record (spec §3).
type RouteEntry struct {
	Destination Address
	NextHop     Address
	HopCount    uint8
	Quality     float64
	LastUsed    Millis
	valid       bool
}

const rreqWindowSize = 16

type rreqSeen struct {
	originator Address
	requestID  uint32
	valid      bool
}

// RoutingCore owns the route table and drives AODV-style discovery.
type RoutingCore struct {
	routes  []RouteEntry
	seen    [rreqWindowSize]rreqSeen
	seenIdx int

	self         Address
	neighbors    *NeighborTable
	routeTimeout uint32
	nextReqID    uint32
	rng          RandomSource
	log          *Logger

	// SendRouteRequest/SendRouteReply are supplied by the node so
	// routing stays decoupled from the MAC/packet layers; they
	// build and queue the wire frame themselves.
	SendRouteRequest func(dest Address, requestID uint32, ttl uint8)
	SendRouteReply   func(nextHop, originator Address, requestID uint32, hopCount uint8)
}

// NewRoutingCore allocates a route table with the given capacity.
func NewRoutingCore(self Address, neighbors *NeighborTable, capacity int, routeTimeoutMS uint32, rng RandomSource, log *Logger) *RoutingCore {
	return &RoutingCore{
		routes:       make([]RouteEntry, capacity),
		self:         self,
		neighbors:    neighbors,
		routeTimeout: routeTimeoutMS,
		rng:          rng,
		log:          log,
	}
}

func (r *RoutingCore) findRoute(dest Address) *RouteEntry {
	for i := range r.routes {
		if r.routes[i].valid && r.routes[i].Destination == dest {
			return &r.routes[i]
		}
	}
	return nil
}

// NextHop implements spec §4.5's lookup: direct neighbor short-circuits,
// otherwise consult the table; on a full miss, kick off discovery and
// report no route.
func (r *RoutingCore) NextHop(dest Address, now Millis) (Address, bool) {
	if r.neighbors.IsDirect(dest) {
		return dest, true
	}
	if rt := r.findRoute(dest); rt != nil {
		rt.LastUsed = now
		return rt.NextHop, true
	}
	r.StartDiscovery(dest)
	return AddressNone, false
}

// StartDiscovery broadcasts a ROUTE_REQ for dest.
func (r *RoutingCore) StartDiscovery(dest Address) {
	if r.SendRouteRequest == nil {
		return
	}
	r.nextReqID++
	r.log.Debug("starting discovery", "dest", dest, "request_id", r.nextReqID)
	r.SendRouteRequest(dest, r.nextReqID, MaxTTLInitial)
}

// MaxTTLInitial is the default hop budget for freshly-originated frames.
const MaxTTLInitial = 8

func (r *RoutingCore) installRoute(dest, nextHop Address, hopCount uint8, quality float64, now Millis) {
	if rt := r.findRoute(dest); rt != nil {
		rt.NextHop = nextHop
		rt.HopCount = hopCount
		rt.Quality = quality
		rt.LastUsed = now
		return
	}
	slot := r.findFreeOrEvictLRU(now)
	slot.Destination = dest
	slot.NextHop = nextHop
	slot.HopCount = hopCount
	slot.Quality = quality
	slot.LastUsed = now
	slot.valid = true
	r.log.Debug("route installed", "dest", dest, "next_hop", nextHop, "hops", hopCount)
}

func (r *RoutingCore) findFreeOrEvictLRU(now Millis) *RouteEntry {
	for i := range r.routes {
		if !r.routes[i].valid {
			return &r.routes[i]
		}
	}
	oldest := &r.routes[0]
	for i := range r.routes {
		if Since(now, r.routes[i].LastUsed) > Since(now, oldest.LastUsed) {
			oldest = &r.routes[i]
		}
	}
	r.log.Warn("route table full, evicting LRU", "dest", oldest.Destination)
	return oldest
}

// InvalidateRoute drops the route to dest (ROUTE_ERR handling).
func (r *RoutingCore) InvalidateRoute(dest Address) {
	if rt := r.findRoute(dest); rt != nil {
		rt.valid = false
	}
}

// dedupeRREQ reports whether (originator, requestID) was already seen
// within the sliding window, recording it if not.
func (r *RoutingCore) dedupeRREQ(originator Address, requestID uint32) bool {
	for _, s := range r.seen {
		if s.valid && s.originator == originator && s.requestID == requestID {
			return true
		}
	}
	r.seen[r.seenIdx] = rreqSeen{originator: originator, requestID: requestID, valid: true}
	r.seenIdx = (r.seenIdx + 1) % rreqWindowSize
	return false
}

// HandleRouteRequest implements the receiver side of AODV discovery
// (spec §4.5): dedupe, install a reverse route toward the originator,
// and either reply (if we are the target) or rebroadcast with TTL-1.
func (r *RoutingCore) HandleRouteRequest(heardFrom, originator, target Address, requestID uint32, hopCount, ttl uint8, now Millis) (forward bool, newHopCount, newTTL uint8) {
	if r.dedupeRREQ(originator, requestID) {
		return false, 0, 0
	}

	r.installRoute(originator, heardFrom, hopCount+1, 1.0, now)

	if target == r.self {
		if r.SendRouteReply != nil {
			r.SendRouteReply(heardFrom, originator, requestID, 0)
		}
		return false, 0, 0
	}

	if ttl == 0 {
		return false, 0, 0
	}
	return true, hopCount + 1, ttl - 1
}

// HandleRouteReply installs the forward route along the path the
// reply took, incrementing the carried hop count.
func (r *RoutingCore) HandleRouteReply(heardFrom, originator, dest Address, hopCount uint8, now Millis) (forwardToNextHop Address, newHopCount uint8, shouldForward bool) {
	r.installRoute(dest, heardFrom, hopCount+1, 1.0, now)

	if rt := r.findRoute(originator); rt != nil && originator != r.self {
		return rt.NextHop, hopCount + 1, true
	}
	return AddressNone, hopCount + 1, false
}

// PassiveLearn installs a one-hop route for a direct, zero-hop
// reception from a previously-unknown source (spec §4.5).
func (r *RoutingCore) PassiveLearn(source, heardFrom Address, hopCount uint8, now Millis) {
	if hopCount != 0 || source != heardFrom {
		return
	}
	if r.findRoute(source) != nil {
		return
	}
	r.installRoute(source, heardFrom, 1, 1.0, now)
}

// ExpireStale drops routes unused for longer than RouteTimeout.
func (r *RoutingCore) ExpireStale(now Millis) {
	for i := range r.routes {
		rt := &r.routes[i]
		if rt.valid && uint32(Since(now, rt.LastUsed)) > r.routeTimeout {
			r.log.Debug("route expired", "dest", rt.Destination)
			*rt = RouteEntry{}
		}
	}
}

// All returns every currently-valid route entry.
func (r *RoutingCore) All() []RouteEntry {
	out := make([]RouteEntry, 0, len(r.routes))
	for _, rt := range r.routes {
		if rt.valid {
			out = append(out, rt)
		}
	}
	return out
}
