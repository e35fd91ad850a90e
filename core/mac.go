package core

/*------------------------------------------------------------------
 *
 * Purpose:	Hybrid TDMA+CSMA-CA channel access, per spec §4.3.
 *		Grounded on original_source/mac/mac_hybrid.cpp's slot/
 *		frame bookkeeping and time-source election, reworked
 *		into the core's deadline-under-tick model (spec §5) in
 *		place of the original's free-running millis() globals.
 *
 *------------------------------------------------------------------*/

const (
	SlotsPerFrame     = 10
	SlotDurationMS    = 200
	FrameDurationMS   = SlotsPerFrame * SlotDurationMS
	CSMAMinBackoffMS  = 20
	CSMAMaxBackoffMS  = 200
	CSMAMaxRetries    = 5
)

// SlotType classifies a single TDMA slot.
type SlotType int

const (
	SlotFree SlotType = iota
	SlotReserved
	SlotPeer
	SlotBeacon
	SlotContention
)

type slotState struct {
	kind    SlotType
	owner   Address
	lastTX  Millis
	claimed bool
}

// TimeSourceType ranks where a node's clock discipline comes from.
// Lower is better, mirroring original_source's stratum convention
// (0 = externally disciplined).
type TimeSourceType uint8

const (
	TimeSourceCrystal TimeSourceType = 15
	TimeSourceSynced  TimeSourceType = 14
)

// macState is the MAC's own small state machine for the current slot.
type macState int

const (
	macIdle macState = iota
	macBackoff
	macTransmitting
)

// MAC implements the hybrid TDMA/CSMA-CA channel access layer.
type MAC struct {
	self  Address
	radio Radio
	rng   RandomSource
	log   *Logger

	slots [SlotsPerFrame]slotState

	frameNumber uint32
	currentSlot int
	slotStartAt Millis

	stratum      uint8
	clockOffset  int32 // ms, applied to locally observed time
	lastSyncAt   Millis
	haveSynced   bool

	state          macState
	backoffWindow  uint32
	backoffUntil   Millis
	retryCount     int

	queue [][]byte

	// Deliver hands a decoded (header, payload) pair up to the
	// dispatcher; the MAC itself only moves bytes.
	Deliver func(frame []byte, rssi int16, snr int8)
}

// NewMAC constructs a MAC bound to self's address and claims the slot
// spec §4.3 assigns it: (address mod 9) + 1.
func NewMAC(self Address, radio Radio, rng RandomSource, log *Logger, now Millis) *MAC {
	m := &MAC{
		self:          self,
		radio:         radio,
		rng:           rng,
		log:           log,
		stratum:       uint8(TimeSourceCrystal),
		backoffWindow: CSMAMinBackoffMS,
	}
	m.frameNumber = uint32(now) / FrameDurationMS
	m.currentSlot = int(uint32(now)%FrameDurationMS) / SlotDurationMS
	m.slotStartAt = Millis((uint32(now) / SlotDurationMS) * SlotDurationMS)

	m.slots[0] = slotState{kind: SlotBeacon, claimed: true}
	preferred := int(self%  (SlotsPerFrame-1)) + 1
	m.claimSlot(preferred, self)
	return m
}

func (m *MAC) claimSlot(idx int, owner Address) {
	s := &m.slots[idx]
	if !s.claimed || s.owner > owner {
		// Lower-addressed claimant wins a conflict (spec §4.3).
		s.kind = SlotReserved
		s.owner = owner
		s.claimed = true
	}
}

// OwnSlot reports the slot index this node claimed for itself.
func (m *MAC) OwnSlot() int {
	for i, s := range m.slots {
		if s.claimed && s.owner == m.self && s.kind == SlotReserved {
			return i
		}
	}
	return -1
}

// Enqueue schedules frame for transmission.
func (m *MAC) Enqueue(frame []byte) {
	cp := make([]byte, len(frame))
	copy(cp, frame)
	m.queue = append(m.queue, cp)
}

// QueueLen reports how many frames are waiting to go out.
func (m *MAC) QueueLen() int { return len(m.queue) }

// OnFrame is the radio's push-model receive callback. It forwards the
// raw bytes to Deliver unchanged and keeps no slot-ownership bookkeeping
// for the sender (passive learning is left to routing/neighbor layers).
func (m *MAC) OnFrame(frame []byte, rssi int16, snr int8) {
	if m.Deliver != nil {
		m.Deliver(frame, rssi, snr)
	}
}

// NoteTimeSync applies spec §4.3's stratum/offset update rule: accept
// a peer's stamp only when its stratum (after +1 for the hop) is
// strictly lower, or equal with a numerically lower sender address.
func (m *MAC) NoteTimeSync(senderAddr Address, senderStratum uint8, senderClockMS int32, now Millis) {
	candidateStratum := senderStratum + 1
	if candidateStratum > 15 {
		candidateStratum = 15
	}

	accept := candidateStratum < m.stratum ||
		(candidateStratum == m.stratum && senderAddr < m.self)

	if candidateStratum < m.stratum {
		m.stratum = candidateStratum
	}

	if accept {
		m.clockOffset = senderClockMS - int32(now)
		m.lastSyncAt = now
		m.haveSynced = true
	}
}

// TimeQuality degrades linearly with age since the last accepted sync
// (spec §4.3), from 100 at sync time to 0 after five minutes.
func (m *MAC) TimeQuality(now Millis) uint8 {
	if !m.haveSynced {
		return 0
	}
	age := uint32(Since(now, m.lastSyncAt))
	const fullDecayMS = 5 * 60_000
	if age >= fullDecayMS {
		return 0
	}
	return uint8(100 - (uint64(age)*100)/fullDecayMS)
}

// Stratum reports this node's current stratum.
func (m *MAC) Stratum() uint8 { return m.stratum }

// advanceSlot recomputes frame/slot indices from now and forfeits any
// owned slot silent for two full frames.
func (m *MAC) advanceSlot(now Millis) {
	newFrame := uint32(now) / FrameDurationMS
	newSlot := int(uint32(now)%FrameDurationMS) / SlotDurationMS

	if newFrame != m.frameNumber {
		m.frameNumber = newFrame
		m.forfeitSilentSlots(now)
	}
	if newSlot != m.currentSlot {
		m.currentSlot = newSlot
		m.slotStartAt = now
	}
}

func (m *MAC) forfeitSilentSlots(now Millis) {
	for i := range m.slots {
		s := &m.slots[i]
		if s.claimed && s.kind == SlotReserved && s.owner == m.self {
			continue // we never forfeit our own slot from silence bookkeeping alone
		}
		if s.claimed && s.kind == SlotReserved {
			if uint32(Since(now, s.lastTX)) > 2*FrameDurationMS {
				m.log.Debug("slot forfeited, silent two frames", "slot", i, "owner", s.owner)
				*s = slotState{}
			}
		}
	}
}

// Tick drives the MAC's slot/backoff state machine. It is the MAC's
// share of the core's single tick(now_ms) entry point (spec §5).
func (m *MAC) Tick(now Millis) {
	m.advanceSlot(now)

	if len(m.queue) == 0 {
		return
	}

	own := m.OwnSlot()
	if own >= 0 && m.currentSlot == own {
		m.transmitNext(now)
		return
	}

	if m.slots[m.currentSlot].kind == SlotReserved || m.slots[m.currentSlot].kind == SlotBeacon {
		// Not our reserved slot, not the contention slot either
		// (beacon slot 0 is contention too per spec §4.3).
		if m.slots[m.currentSlot].kind != SlotBeacon {
			return
		}
	}

	m.runCSMA(now)
}

func (m *MAC) runCSMA(now Millis) {
	switch m.state {
	case macIdle:
		jitter := make([]byte, 2)
		m.rng.RandomBytes(jitter)
		span := CSMAMaxBackoffMS - CSMAMinBackoffMS
		backoff := CSMAMinBackoffMS
		if span > 0 {
			backoff += int(uint16(jitter[0])|uint16(jitter[1])<<8) % (span + 1)
		}
		if uint32(backoff) > m.backoffWindow {
			backoff = int(m.backoffWindow)
		}
		m.backoffUntil = now.Add(uint32(backoff))
		m.state = macBackoff

	case macBackoff:
		if !Before(now, m.backoffUntil) {
			return
		}
		if m.transmitNext(now) {
			m.state = macIdle
			m.backoffWindow = CSMAMinBackoffMS
			m.retryCount = 0
			return
		}
		// Collision/busy: exponential backoff growth up to a hard cap.
		m.retryCount++
		if m.retryCount >= CSMAMaxRetries {
			m.log.Warn("csma retries exhausted this frame")
			m.state = macIdle
			m.retryCount = 0
			m.backoffWindow = CSMAMinBackoffMS
			return
		}
		m.backoffWindow *= 2
		if m.backoffWindow > CSMAMaxBackoffMS {
			m.backoffWindow = CSMAMaxBackoffMS
		}
		m.state = macIdle
	}
}

func (m *MAC) transmitNext(now Millis) bool {
	if len(m.queue) == 0 {
		return true
	}
	frame := m.queue[0]
	res := m.radio.Send(frame)
	if res == Busy {
		return false
	}
	m.queue = m.queue[1:]
	if own := m.OwnSlot(); own >= 0 {
		m.slots[own].lastTX = now
	}
	return true
}
