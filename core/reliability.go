package core

/*------------------------------------------------------------------
 *
 * Purpose:	At-most-MAX_RETRIES retransmission of ACK-requested
 *		unicast DATA frames, per spec §4.6/§8.
 *
 *------------------------------------------------------------------*/

// PendingAck is one ACK_REQ unicast awaiting confirmation (spec §3).
type PendingAck struct {
	PacketID      uint16
	Destination   Address
	RetryCount    int
	NextAttemptAt Millis
	CachedFrame   []byte
	valid         bool
}

// ReliabilityShim owns the pending-ACK table.
type ReliabilityShim struct {
	pending     []PendingAck
	ackTimeout  uint32
	maxRetries  int
	log         *Logger

	// Retransmit is called with the cached frame (RETRANS flag
	// already set by the caller of Queue) when a deadline fires.
	Retransmit func(frame []byte, destination Address)
	// OnFailure is called once after MaxRetries elapsed attempts
	// with no ACK.
	OnFailure func(packetID uint16, destination Address)
}

// NewReliabilityShim allocates a pending-ACK table of the given capacity.
func NewReliabilityShim(capacity int, ackTimeoutMS uint32, maxRetries int, log *Logger) *ReliabilityShim {
	return &ReliabilityShim{
		pending:    make([]PendingAck, capacity),
		ackTimeout: ackTimeoutMS,
		maxRetries: maxRetries,
		log:        log,
	}
}

// Queue caches frame for retransmission if packetID goes unacknowledged.
// Returns false (a spec §7 Capacity error) if the table is full.
func (r *ReliabilityShim) Queue(packetID uint16, destination Address, frame []byte, now Millis) bool {
	for i := range r.pending {
		if !r.pending[i].valid {
			buf := make([]byte, len(frame))
			copy(buf, frame)
			r.pending[i] = PendingAck{
				PacketID:      packetID,
				Destination:   destination,
				RetryCount:    0,
				NextAttemptAt: now.Add(r.ackTimeout),
				CachedFrame:   buf,
				valid:         true,
			}
			return true
		}
	}
	r.log.Warn("pending-ack table full", "packet_id", packetID)
	return false
}

// OnAck frees the pending-ACK slot for packetID, returning true if one
// was found (spec §8 ACK correctness: the slot is freed on receipt).
func (r *ReliabilityShim) OnAck(packetID uint16) bool {
	for i := range r.pending {
		if r.pending[i].valid && r.pending[i].PacketID == packetID {
			r.pending[i] = PendingAck{}
			return true
		}
	}
	return false
}

// Tick retransmits or fails any pending ACK whose deadline has passed.
func (r *ReliabilityShim) Tick(now Millis) {
	for i := range r.pending {
		p := &r.pending[i]
		if !p.valid || !Before(now, p.NextAttemptAt) {
			continue
		}

		if p.RetryCount >= r.maxRetries {
			r.log.Warn("giving up after max retries", "packet_id", p.PacketID, "dest", p.Destination)
			if r.OnFailure != nil {
				r.OnFailure(p.PacketID, p.Destination)
			}
			*p = PendingAck{}
			continue
		}

		p.RetryCount++
		p.NextAttemptAt = now.Add(r.ackTimeout)
		if r.Retransmit != nil {
			r.Retransmit(p.CachedFrame, p.Destination)
		}
	}
}

// Pending returns a snapshot of the in-flight table, for status views.
func (r *ReliabilityShim) Pending() []PendingAck {
	out := make([]PendingAck, 0, len(r.pending))
	for _, p := range r.pending {
		if p.valid {
			out = append(out, p)
		}
	}
	return out
}
