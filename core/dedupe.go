package core

/*------------------------------------------------------------------
 *
 * Purpose:	Rebroadcast-loop suppression: each broadcast frame is
 *		re-sent at most once per (source, packet_id), per spec
 *		§4.5/§8. Adapted from the teacher's dedupe.go, which
 *		keeps a fixed ring of recently-transmitted checksums
 *		with a time-to-live; here the "checksum" is the natural
 *		(source, packet_id) key the wire format already carries,
 *		so no hashing is needed.
 *
 *------------------------------------------------------------------*/

const broadcastHistorySize = 25

type broadcastRecord struct {
	source   Address
	packetID uint16
	seenAt   Millis
	valid    bool
}

// BroadcastDedupe tracks recently-forwarded broadcasts so a mesh of
// overlapping listeners rebroadcasts each one exactly once.
type BroadcastDedupe struct {
	history  [broadcastHistorySize]broadcastRecord
	next     int
	ttlMS    uint32
}

// NewBroadcastDedupe builds a dedupe window retaining entries for ttlMS.
func NewBroadcastDedupe(ttlMS uint32) *BroadcastDedupe {
	return &BroadcastDedupe{ttlMS: ttlMS}
}

// Seen reports whether (source, packetID) was already recorded within
// the TTL window.
func (d *BroadcastDedupe) Seen(source Address, packetID uint16, now Millis) bool {
	for _, h := range d.history {
		if !h.valid || h.source != source || h.packetID != packetID {
			continue
		}
		if uint32(Since(now, h.seenAt)) > d.ttlMS {
			continue
		}
		return true
	}
	return false
}

// Remember records (source, packetID) as forwarded at now.
func (d *BroadcastDedupe) Remember(source Address, packetID uint16, now Millis) {
	d.history[d.next] = broadcastRecord{source: source, packetID: packetID, seenAt: now, valid: true}
	d.next = (d.next + 1) % broadcastHistorySize
}
