package core

/*------------------------------------------------------------------
 *
 * Purpose:	Wires every subsystem to a single radio and dispatches
 *		decoded frames to the right one, per spec §5: "the radio
 *		adapter surfaces received frames to the packet codec,
 *		which dispatches by type into the MAC, routing, secure
 *		link, group channel, DTN queue, emergency handler, or
 *		geographic helper." A host integration drives a Node through
 *		two entry points: Node.Tick and the OnFrame of its MAC.
 *
 * Description:	Node itself never touches the radio directly; MAC does,
 *		via the transmit callback it's given here. Everything
 *		else hands a ready-to-send payload up to Node through a
 *		capability field (SendControl, SendGroupFrame, ...), and
 *		Node turns that into an encoded frame for the MAC queue.
 *		LINK payloads already carry their own sub-type byte
 *		(LinkControlType, see link.go); GROUP payloads need none
 *		since only the normal message has core semantics (spec
 *		§4.8); DTN/EMERGENCY/GEO each get a one-byte discriminator
 *		defined in this file, the same pattern link.go set.
 *
 *------------------------------------------------------------------*/

// Node is the single-threaded coordinator a host integration drives
// with Tick(now) and MAC.OnFrame(frame, rssi, snr).
type Node struct {
	self Address
	cfg  Config
	rng  RandomSource
	log  *Logger

	radio Radio

	MAC       *MAC
	Neighbors *NeighborTable
	Routing   *RoutingCore
	Reliab    *ReliabilityShim
	Dedupe    *BroadcastDedupe
	Link      *SecureLink
	Group     *GroupChannel
	DTN       *DTNQueue
	Emergency *Emergency
	Geo       *GeoRouting
	Names     *NameDirectory
	History   *MessageHistory
	Persist   *PersistenceView

	nextPacketID uint16
	lastNow      Millis

	// OnMessage delivers a fully reassembled, decrypted application
	// message addressed to us, from any transport (plain DATA, a
	// secure link, or a DTN bundle).
	OnMessage func(source Address, data []byte)
}

// NewNode builds a Node and wires every subsystem's outbound
// capability field back into the Node's own outgoing-frame path.
func NewNode(self Address, radio Radio, rng RandomSource, cfg Config, store Store, now Millis) *Node {
	n := &Node{
		self:  self,
		cfg:   cfg,
		rng:   rng,
		radio: radio,
		log:   NewLogger("NODE"),
		lastNow: now,
	}

	n.Neighbors = NewNeighborTable(cfg.MaxNeighbors, cfg.RouteTimeoutMS, NewLogger("NEIGH"))
	n.Routing = NewRoutingCore(self, n.Neighbors, cfg.MaxRoutes, cfg.RouteTimeoutMS, rng, NewLogger("ROUTE"))
	n.Reliab = NewReliabilityShim(cfg.MaxPendingAcks, cfg.AckTimeoutMS, cfg.MaxRetries, NewLogger("ACK"))
	n.Dedupe = NewBroadcastDedupe(cfg.RouteTimeoutMS)
	n.Link = NewSecureLink(self, cfg.MaxLinks, rng, NewLogger("LINK"))
	n.Link.ForwardSecrecyDefault = cfg.ForwardSecrecy
	n.Group = NewGroupChannel(self, NewLogger("GROUP"))
	n.DTN = NewDTNQueue(self, cfg.MaxBundles, rng, NewLogger("DTN"))
	n.DTN.EpidemicEnabled = cfg.EpidemicMode
	n.Emergency = NewEmergency(NewLogger("SOS"))
	n.Geo = NewGeoRouting(self, NewLogger("GEO"))
	n.Names = NewNameDirectory(NewLogger("NAME"))
	n.History = NewMessageHistory()

	n.Persist = NewPersistenceView("names", store)
	if saved, ok := n.Persist.Load("directory"); ok {
		n.Names.Restore(saved)
	}

	n.MAC = NewMAC(self, radio, rng, NewLogger("MAC"), now)

	n.wireCallbacks()
	return n
}

func (n *Node) wireCallbacks() {
	n.MAC.Deliver = n.handleFrame

	n.Routing.SendRouteRequest = func(dest Address, requestID uint32, ttl uint8) {
		n.sendRouting(TypeRouteReq, AddressBroadcast, requestID, n.self, dest, 0, ttl)
	}
	n.Routing.SendRouteReply = func(nextHop, originator Address, requestID uint32, hopCount uint8) {
		// Only the target itself ever originates a reply (HandleRouteRequest
		// guards on target == self), so the target address here is us.
		n.sendRouting(TypeRouteRep, nextHop, requestID, originator, n.self, hopCount, MaxTTLInitial)
	}

	n.Reliab.Retransmit = func(frame []byte, destination Address) {
		n.MAC.Enqueue(frame)
	}
	n.Reliab.OnFailure = func(packetID uint16, destination Address) {
		n.log.Warn("delivery failed after max retries", "packet_id", packetID, "dest", destination)
	}

	n.Link.SendControl = func(peer Address, kind LinkControlType, payload []byte) {
		body := make([]byte, 0, 1+len(payload))
		body = append(body, byte(kind))
		body = append(body, payload...)
		n.sendUnicast(TypeLink, peer, body, false)
	}
	n.Link.OnData = func(peer Address, linkID [LinkIDSize]byte, data []byte) {
		n.History.Record(peer, false, string(data), n.lastNow)
		if n.OnMessage != nil {
			n.OnMessage(peer, data)
		}
	}

	n.Group.SendGroupFrame = func(dest Address, payload []byte) {
		n.sendUnicast(TypeGroup, dest, payload, false)
	}
	n.Group.OnMessage = func(group GroupID, sender Address, data []byte) {
		if n.OnMessage != nil {
			n.OnMessage(sender, data)
		}
	}

	n.DTN.SendFragment = func(nextHop Address, bundleID uint32, fragmentIdx uint8, header Bundle, payload []byte) {
		body := encodeDTNFragment(bundleID, header.Source, header.Destination, fragmentIdx, header.TotalFragments, header.Priority, header.Flags, header.MaxHops, payload)
		n.sendUnicast(TypeDTN, nextHop, body, false)
	}
	n.DTN.IsReachable = func(dest Address) bool { return n.Neighbors.IsDirect(dest) }
	n.DTN.OnDelivered = func(bundleID uint32, payload []byte) {
		if n.OnMessage != nil {
			n.OnMessage(AddressNone, payload)
		}
	}
	n.DTN.OnCustodyAccepted = func(bundleID uint32, prevHop Address) {
		n.sendUnicast(TypeDTN, prevHop, encodeDTNCustodyAck(bundleID, n.self), false)
	}
	n.DTN.OnNeedForward = func(bundleID uint32, destination Address) {
		if nextHop, ok := n.Routing.NextHop(destination, n.lastNow); ok {
			n.DTN.Forward(bundleID, nextHop, n.lastNow)
		}
	}

	n.Emergency.BroadcastSOS = func(msg SOSMessage) {
		body := encodeSOS(msg)
		n.sendUnicast(TypeEmergency, AddressBroadcast, body, true)
	}
}

// sendUnicast builds and queues a DATA-family wire frame, optionally
// asking for an ACK via the reliability shim, broadcasting when dest
// is AddressBroadcast.
func (n *Node) sendUnicast(ptype PacketType, dest Address, payload []byte, ackReq bool) {
	nextHop := dest
	if dest != AddressBroadcast {
		if hop, ok := n.Routing.NextHop(dest, n.lastNow); ok {
			nextHop = hop
		} else {
			return // no route yet; discovery already kicked off
		}
	}

	n.nextPacketID++
	var flags Flags
	if dest == AddressBroadcast {
		flags |= FlagBroadcast
	}
	if ackReq && dest != AddressBroadcast {
		flags |= FlagAckReq
	}

	h := Header{
		Version:       ProtocolVersion,
		Type:          ptype,
		TTL:           MaxTTLInitial,
		Flags:         flags,
		PacketID:      n.nextPacketID,
		Source:        n.self,
		Destination:   dest,
		NextHop:       nextHop,
		HopCount:      0,
		PayloadLength: uint16(len(payload)),
	}
	buf := make([]byte, EncodedLen(len(payload)))
	Encode(buf, &h, payload)

	if ackReq && dest != AddressBroadcast {
		retrans := append([]byte(nil), buf...)
		retrans[2] |= byte(FlagRetrans)
		n.Reliab.Queue(h.PacketID, dest, retrans, n.lastNow)
	}
	n.MAC.Enqueue(buf)
}

// sendRouting frames a ROUTE_REQ/ROUTE_REP control packet. Both share a
// layout: requestID(4) + originator(4) + target(4) + hopCount(1) carried
// as the payload, with TTL in the header driving rebroadcast. target
// rides along explicitly rather than being inferred from header fields,
// since a relayed REP's Header.Source is the relay, not the node the
// discovery was actually for.
func (n *Node) sendRouting(ptype PacketType, nextHop Address, requestID uint32, originator, target Address, hopCount, ttl uint8) {
	payload := make([]byte, 13)
	putUint32LE(payload[0:4], requestID)
	putUint32LE(payload[4:8], uint32(originator))
	putUint32LE(payload[8:12], uint32(target))
	payload[12] = hopCount

	n.nextPacketID++
	dest := nextHop
	flags := Flags(0)
	if ptype == TypeRouteReq {
		dest = AddressBroadcast
		flags |= FlagBroadcast
	}
	h := Header{
		Version:       ProtocolVersion,
		Type:          ptype,
		TTL:           ttl,
		Flags:         flags,
		PacketID:      n.nextPacketID,
		Source:        n.self,
		Destination:   dest,
		NextHop:       nextHop,
		PayloadLength: uint16(len(payload)),
	}
	buf := make([]byte, EncodedLen(len(payload)))
	Encode(buf, &h, payload)
	n.MAC.Enqueue(buf)
}

// Tick drives every subsystem's time-based behavior once per host
// scheduling period.
func (n *Node) Tick(now Millis) {
	n.lastNow = now
	n.MAC.Tick(now)
	n.Neighbors.ExpireStale(now)
	n.Routing.ExpireStale(now)
	n.Reliab.Tick(now)
	n.Link.Tick(now)
	n.DTN.Tick(now)
	n.Emergency.Tick(now)
	n.Geo.ExpireStale(now)
}

// handleFrame is MAC's Deliver callback: a frame the radio heard, passed
// on unfiltered by the MAC; undecodable frames are dropped here.
func (n *Node) handleFrame(frame []byte, rssi int16, snr int8) {
	now := n.lastNow

	h, payload, err := Decode(frame)
	if err != nil {
		n.log.Debug("dropping undecodable frame", "err", err)
		return
	}

	wasDirect := n.Neighbors.IsDirect(h.Source)
	n.Neighbors.Touch(h.Source, rssi, snr, now)
	if !wasDirect {
		n.DTN.OnPeerDiscovered(h.Source, now)
	}
	n.Routing.PassiveLearn(h.Source, h.Source, h.HopCount, now)

	if h.IsBroadcast() {
		if n.Dedupe.Seen(h.Source, h.PacketID, now) {
			return
		}
		n.Dedupe.Remember(h.Source, h.PacketID, now)
	}

	mine := h.Destination == n.self || h.IsBroadcast()
	// ROUTE_REQ/ROUTE_REP already relay themselves hop-by-hop through
	// RoutingCore's own forward/shouldForward results; running them
	// through the generic relay path too would double-send them.
	forward := h.Destination != n.self && !h.IsBroadcast() && h.Type != TypeRouteReq && h.Type != TypeRouteRep

	switch h.Type {
	case TypeData:
		if mine {
			n.History.Record(h.Source, false, string(payload), now)
			if n.OnMessage != nil {
				n.OnMessage(h.Source, payload)
			}
			if h.NeedsAck() {
				n.sendAck(h.Source, h.PacketID)
			}
		}
	case TypeAck:
		if mine && len(payload) >= 2 {
			packetID := uint16(payload[0]) | uint16(payload[1])<<8
			n.Reliab.OnAck(packetID)
		}
	case TypeRouteReq:
		n.handleRouteReq(h, payload, now)
	case TypeRouteRep:
		n.handleRouteRep(h, payload, now)
	case TypeTimeSync:
		if len(payload) >= 5 {
			stratum := payload[0]
			clockMS := int32(uint32(payload[1]) | uint32(payload[2])<<8 | uint32(payload[3])<<16 | uint32(payload[4])<<24)
			n.MAC.NoteTimeSync(h.Source, stratum, clockMS, now)
		}
	case TypeLink:
		n.handleLink(h, payload, now)
	case TypeGroup:
		if mine {
			n.Group.HandleMessage(payload, now)
		}
	case TypeDTN:
		if mine {
			n.handleDTN(h, payload, now)
		}
	case TypeEmergency:
		n.handleEmergency(h, payload, rssi, snr, now)
	case TypeGeo:
		n.handleGeo(h, payload, rssi, now)
	case TypeHello, TypeTelemetry, TypeBeacon:
		// passively learned above; nothing further to do for these.
	}

	if forward && h.TTL > 0 {
		n.forwardFrame(h, payload)
	}
}

func (n *Node) sendAck(dest Address, packetID uint16) {
	payload := []byte{byte(packetID), byte(packetID >> 8)}
	n.sendUnicast(TypeAck, dest, payload, false)
}

func (n *Node) handleRouteReq(h Header, payload []byte, now Millis) {
	if len(payload) < 13 {
		return
	}
	requestID := uint32(payload[0]) | uint32(payload[1])<<8 | uint32(payload[2])<<16 | uint32(payload[3])<<24
	originator := Address(uint32(payload[4]) | uint32(payload[5])<<8 | uint32(payload[6])<<16 | uint32(payload[7])<<24)
	target := Address(uint32(payload[8]) | uint32(payload[9])<<8 | uint32(payload[10])<<16 | uint32(payload[11])<<24)
	hopCount := payload[12]

	forward, newHop, newTTL := n.Routing.HandleRouteRequest(h.Source, originator, target, requestID, hopCount, h.TTL, now)
	if forward {
		n.sendRouting(TypeRouteReq, AddressBroadcast, requestID, originator, target, newHop, newTTL)
	}
}

func (n *Node) handleRouteRep(h Header, payload []byte, now Millis) {
	if len(payload) < 13 {
		return
	}
	requestID := uint32(payload[0]) | uint32(payload[1])<<8 | uint32(payload[2])<<16 | uint32(payload[3])<<24
	originator := Address(uint32(payload[4]) | uint32(payload[5])<<8 | uint32(payload[6])<<16 | uint32(payload[7])<<24)
	target := Address(uint32(payload[8]) | uint32(payload[9])<<8 | uint32(payload[10])<<16 | uint32(payload[11])<<24)
	hopCount := payload[12]

	nextHop, newHop, shouldForward := n.Routing.HandleRouteReply(h.Source, originator, target, hopCount, now)
	if shouldForward {
		n.sendRouting(TypeRouteRep, nextHop, requestID, originator, target, newHop, MaxTTLInitial)
	}
}

func (n *Node) handleLink(h Header, payload []byte, now Millis) {
	if len(payload) < 1+LinkIDSize {
		return
	}
	kind := LinkControlType(payload[0])
	body := payload[1:]
	var linkID [LinkIDSize]byte
	copy(linkID[:], body[:LinkIDSize])
	rest := body[LinkIDSize:]

	switch kind {
	case LinkMsgRequest:
		if len(rest) < 32 {
			return
		}
		var peerPub [32]byte
		copy(peerPub[:], rest[:32])
		n.Link.HandleRequest(h.Source, linkID, peerPub, now)
	case LinkMsgAccept:
		if len(rest) < 32+16 {
			return
		}
		var peerPub [32]byte
		copy(peerPub[:], rest[:32])
		n.Link.HandleAccept(h.Source, linkID, peerPub, rest[32:48], now)
	case LinkMsgReject:
		n.Link.HandleReject(h.Source, linkID)
	case LinkMsgData:
		if len(rest) < 4+2+1 {
			return
		}
		seq := uint32(rest[0]) | uint32(rest[1])<<8 | uint32(rest[2])<<16 | uint32(rest[3])<<24
		ctLen := int(uint16(rest[4]) | uint16(rest[5])<<8)
		flags := rest[6]
		if len(rest) < 7+ctLen {
			return
		}
		n.Link.HandleData(h.Source, linkID, seq, flags, rest[7:7+ctLen], now)
	case LinkMsgKeepalive:
		n.Link.HandleKeepalive(linkID, now)
	case LinkMsgClose:
		n.Link.HandleClose(h.Source, linkID)
	}
}

// DTN sub-type byte, distinguishing a reassembly fragment from a
// custody-transfer acknowledgment (spec §4.9's custody chain).
type dtnMsgType uint8

const (
	dtnMsgFragment dtnMsgType = iota
	dtnMsgCustodyAck
)

func encodeDTNFragment(bundleID uint32, source, destination Address, fragmentIdx, totalFragments uint8, priority BundlePriority, flags BundleFlag, maxHops uint8, payload []byte) []byte {
	out := make([]byte, 0, 1+4+4+4+1+1+1+1+1+len(payload))
	out = append(out, byte(dtnMsgFragment))
	b4 := make([]byte, 4)
	putUint32LE(b4, bundleID)
	out = append(out, b4...)
	putUint32LE(b4, uint32(source))
	out = append(out, b4...)
	putUint32LE(b4, uint32(destination))
	out = append(out, b4...)
	out = append(out, fragmentIdx, totalFragments, byte(priority), byte(flags), maxHops)
	out = append(out, payload...)
	return out
}

func encodeDTNCustodyAck(bundleID uint32, newCustodian Address) []byte {
	out := make([]byte, 9)
	out[0] = byte(dtnMsgCustodyAck)
	putUint32LE(out[1:5], bundleID)
	putUint32LE(out[5:9], uint32(newCustodian))
	return out
}

func (n *Node) handleDTN(h Header, payload []byte, now Millis) {
	if len(payload) < 1 {
		return
	}
	switch dtnMsgType(payload[0]) {
	case dtnMsgFragment:
		if len(payload) < 1+4+4+4+5 {
			return
		}
		body := payload[1:]
		bundleID := uint32(body[0]) | uint32(body[1])<<8 | uint32(body[2])<<16 | uint32(body[3])<<24
		source := Address(uint32(body[4]) | uint32(body[5])<<8 | uint32(body[6])<<16 | uint32(body[7])<<24)
		destination := Address(uint32(body[8]) | uint32(body[9])<<8 | uint32(body[10])<<16 | uint32(body[11])<<24)
		fragIdx, totalFrags, priority, flags, maxHops := body[12], body[13], BundlePriority(body[14]), BundleFlag(body[15]), body[16]
		n.DTN.HandleFragment(bundleID, source, destination, fragIdx, totalFrags, priority, flags, maxHops, body[17:], h.Source, now)
	case dtnMsgCustodyAck:
		if len(payload) < 9 {
			return
		}
		bundleID := uint32(payload[1]) | uint32(payload[2])<<8 | uint32(payload[3])<<16 | uint32(payload[4])<<24
		custodian := Address(uint32(payload[5]) | uint32(payload[6])<<8 | uint32(payload[7])<<16 | uint32(payload[8])<<24)
		n.DTN.AcceptCustody(bundleID, custodian)
	}
}

// Emergency sub-type byte, distinguishing an SOS beacon from an
// acknowledgment of someone else's SOS (spec §4.10).
type emergencyMsgType uint8

const (
	emergencyMsgSOS emergencyMsgType = iota
	emergencyMsgAck
)

func encodeSOS(msg SOSMessage) []byte {
	text := []byte(msg.Message)
	if len(text) > 255 {
		text = text[:255]
	}
	out := make([]byte, 0, 1+1+1+4+4+4+1+4+1+len(text))
	out = append(out, byte(emergencyMsgSOS), byte(msg.Type), byte(msg.Flags))
	b4 := make([]byte, 4)
	putUint32LE(b4, uint32(msg.Position.LatE7))
	out = append(out, b4...)
	putUint32LE(b4, uint32(msg.Position.LonE7))
	out = append(out, b4...)
	putUint32LE(b4, uint32(msg.AltitudeCM))
	out = append(out, b4...)
	out = append(out, msg.Battery)
	putUint32LE(b4, uint32(msg.Timestamp))
	out = append(out, b4...)
	out = append(out, byte(len(text)))
	out = append(out, text...)
	return out
}

func decodeSOS(payload []byte) (SOSMessage, bool) {
	if len(payload) < 2+3*4+1+4+1 {
		return SOSMessage{}, false
	}
	msg := SOSMessage{
		Type:  EmergencyType(payload[1]),
		Flags: SOSFlag(payload[2]),
	}
	msg.Position.LatE7 = int32(uint32(payload[3]) | uint32(payload[4])<<8 | uint32(payload[5])<<16 | uint32(payload[6])<<24)
	msg.Position.LonE7 = int32(uint32(payload[7]) | uint32(payload[8])<<8 | uint32(payload[9])<<16 | uint32(payload[10])<<24)
	msg.AltitudeCM = int32(uint32(payload[11]) | uint32(payload[12])<<8 | uint32(payload[13])<<16 | uint32(payload[14])<<24)
	msg.Battery = payload[15]
	msg.Timestamp = Millis(uint32(payload[16]) | uint32(payload[17])<<8 | uint32(payload[18])<<16 | uint32(payload[19])<<24)
	textLen := int(payload[20])
	if len(payload) < 21+textLen {
		return SOSMessage{}, false
	}
	msg.Message = string(payload[21 : 21+textLen])
	return msg, true
}

func (n *Node) handleEmergency(h Header, payload []byte, rssi int16, snr int8, now Millis) {
	if len(payload) < 1 {
		return
	}
	switch emergencyMsgType(payload[0]) {
	case emergencyMsgSOS:
		msg, ok := decodeSOS(payload)
		if !ok {
			return
		}
		n.Emergency.HandleReceivedSOS(h.Source, msg, rssi, snr, now)
	case emergencyMsgAck:
		n.Emergency.AcknowledgeSOS(h.Source)
	}
}

// Geo sub-type byte, distinguishing a location beacon from a geocast
// envelope (spec §4.11).
type geoMsgType uint8

const (
	geoMsgLocation geoMsgType = iota
	geoMsgGeocast
)

func encodeLocationBeacon(pos GeoCoord, altM int16, headingDeg, speedCMS uint16) []byte {
	out := make([]byte, 1+4+4+2+2+2)
	out[0] = byte(geoMsgLocation)
	putUint32LE(out[1:5], uint32(pos.LatE7))
	putUint32LE(out[5:9], uint32(pos.LonE7))
	putUint16LE(out[9:11], uint16(altM))
	putUint16LE(out[11:13], headingDeg)
	putUint16LE(out[13:15], speedCMS)
	return out
}

func encodeGeocast(region GeocastRegion, payload []byte) []byte {
	out := make([]byte, 0, 1+4+4+4+2+len(payload))
	out = append(out, byte(geoMsgGeocast))
	b4 := make([]byte, 4)
	putUint32LE(b4, uint32(region.Center.LatE7))
	out = append(out, b4...)
	putUint32LE(b4, uint32(region.Center.LonE7))
	out = append(out, b4...)
	putUint32LE(b4, region.RadiusM)
	out = append(out, b4...)
	lenBytes := make([]byte, 2)
	putUint16LE(lenBytes, uint16(len(payload)))
	out = append(out, lenBytes...)
	out = append(out, payload...)
	return out
}

func (n *Node) handleGeo(h Header, payload []byte, rssi int16, now Millis) {
	if len(payload) < 1 {
		return
	}
	switch geoMsgType(payload[0]) {
	case geoMsgLocation:
		if len(payload) < 1+4+4+2+2+2 {
			return
		}
		body := payload[1:]
		lat := int32(uint32(body[0]) | uint32(body[1])<<8 | uint32(body[2])<<16 | uint32(body[3])<<24)
		lon := int32(uint32(body[4]) | uint32(body[5])<<8 | uint32(body[6])<<16 | uint32(body[7])<<24)
		altM := int16(uint16(body[8]) | uint16(body[9])<<8)
		heading := uint16(body[10]) | uint16(body[11])<<8
		speed := uint16(body[12]) | uint16(body[13])<<8
		n.Geo.HandleLocationBeacon(h.Source, GeoCoord{LatE7: lat, LonE7: lon}, altM, heading, speed, rssi, now)
	case geoMsgGeocast:
		if len(payload) < 1+4+4+4+2 {
			return
		}
		body := payload[1:]
		lat := int32(uint32(body[0]) | uint32(body[1])<<8 | uint32(body[2])<<16 | uint32(body[3])<<24)
		lon := int32(uint32(body[4]) | uint32(body[5])<<8 | uint32(body[6])<<16 | uint32(body[7])<<24)
		radius := uint32(body[8]) | uint32(body[9])<<8 | uint32(body[10])<<16 | uint32(body[11])<<24
		dataLen := int(uint16(body[12]) | uint16(body[13])<<8)
		if len(body) < 14+dataLen {
			return
		}
		region := GeocastRegion{Center: GeoCoord{LatE7: lat, LonE7: lon}, RadiusM: radius}
		data := body[14 : 14+dataLen]

		if n.Geo.DeliversLocally(region) && n.OnMessage != nil {
			n.OnMessage(h.Source, data)
		}
		if n.Geo.ShouldRebroadcastGeocast(region) && h.TTL > 0 {
			n.forwardFrame(h, payload)
		}
	}
}

// SendGeocast floods payload to every node within region, rebroadcast
// by any node within twice the radius (spec §4.11).
func (n *Node) SendGeocast(region GeocastRegion, payload []byte) {
	body := encodeGeocast(region, payload)
	n.sendUnicast(TypeGeo, AddressBroadcast, body, false)
	n.Geo.stats.GeocastSent++
}

// SendLocationBeacon broadcasts this node's current fix, if any.
func (n *Node) SendLocationBeacon(headingDeg, speedCMS uint16) {
	pos, ok := n.Geo.Position()
	if !ok {
		return
	}
	body := encodeLocationBeacon(pos, 0, headingDeg, speedCMS)
	n.sendUnicast(TypeGeo, AddressBroadcast, body, false)
}

// forwardFrame decrements TTL/increments hop count and re-queues a
// frame this node is relaying rather than originating.
func (n *Node) forwardFrame(h Header, payload []byte) {
	h.TTL--
	h.HopCount++
	if nextHop, ok := n.Routing.NextHop(h.Destination, n.lastNow); ok || h.IsBroadcast() {
		if !h.IsBroadcast() {
			h.NextHop = nextHop
		} else {
			h.NextHop = AddressBroadcast
		}
		buf := make([]byte, EncodedLen(len(payload)))
		Encode(buf, &h, payload)
		n.MAC.Enqueue(buf)
	}
}

// SendMessage is the application-facing entry point: send data to
// dest, requesting acknowledgment if ackReq is set (spec §4.6).
func (n *Node) SendMessage(dest Address, data []byte, ackReq bool, now Millis) {
	n.History.Record(dest, true, string(data), now)
	n.sendUnicast(TypeData, dest, data, ackReq)
}

// SetName binds name to address and persists the directory, so the
// binding survives a restart (spec §4.12).
func (n *Node) SetName(name string, address Address) {
	n.Names.SetName(name, address)
	if err := n.Persist.Save("directory", n.Names.Snapshot()); err != nil {
		n.log.Warn("failed to persist name directory", "err", err)
	}
}

// SendDTNMessage queues data for delay-tolerant delivery to dest,
// resolving an initial next hop (a direct neighbor, or whatever the
// routing table already knows) and handing the bundle to the DTN queue
// to fragment and forward (spec §4.9). Returns false only if the bundle
// table is full. When no next hop is known yet it still returns the
// bundle ID and true; the bundle waits in the queue until
// OnPeerDiscovered forwards it once dest is heard directly.
func (n *Node) SendDTNMessage(dest Address, data []byte, priority BundlePriority, ttlMS uint32, custody bool, now Millis) (uint32, bool) {
	var flags BundleFlag
	if custody {
		flags |= BundleFlagCustody
	}
	id, ok := n.DTN.CreateBundle(dest, data, priority, ttlMS, flags, now)
	if !ok {
		return 0, false
	}
	if nextHop, ok := n.Routing.NextHop(dest, now); ok {
		n.DTN.Forward(id, nextHop, now)
	}
	return id, true
}

// SendGroupMessage encrypts data for a joined group and broadcasts it
// over the mesh (spec §4.8).
func (n *Node) SendGroupMessage(id GroupID, data []byte, now Millis) bool {
	frame, ok := n.Group.EncryptMessage(id, data, now)
	if !ok {
		return false
	}
	n.Group.SendGroupFrame(AddressBroadcast, frame)
	return true
}

// RequestSecureLink begins a handshake to peer over the secure link
// subsystem (spec §4.7).
func (n *Node) RequestSecureLink(peer Address, now Millis) ([LinkIDSize]byte, bool) {
	return n.Link.RequestLink(peer, now)
}

// SendSecureMessage encrypts data over an active secure link to peer.
func (n *Node) SendSecureMessage(peer Address, data []byte, now Millis) bool {
	slot := n.Link.findByPeer(peer)
	if slot == nil {
		return false
	}
	return n.Link.SendData(slot.ID, data, now)
}

// SendEmergencyAck acknowledges another node's SOS broadcast.
func (n *Node) SendEmergencyAck(source Address) {
	n.sendUnicast(TypeEmergency, source, []byte{byte(emergencyMsgAck)}, false)
}
