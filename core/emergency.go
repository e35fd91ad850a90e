package core

/*------------------------------------------------------------------
 *
 * Purpose:	Emergency SOS broadcaster, spec §4.10. Grounded on
 *		original_source/emergency/emergency.{h,cpp}: periodic
 *		SOS beacon, an auto-cancel
 *		timer, and a bounded list of other nodes' active SOS
 *		reports for situational awareness.
 *
 *------------------------------------------------------------------*/

const (
	SOSBroadcastInterval = 10_000
	SOSMaxDuration        = 3_600_000
	MaxReceivedSOS        = 8
)

// EmergencyType classifies the nature of a distress call.
type EmergencyType uint8

const (
	EmergencyNone     EmergencyType = 0
	EmergencyGeneral  EmergencyType = 1
	EmergencyMedical  EmergencyType = 2
	EmergencyFire     EmergencyType = 3
	EmergencyRescue   EmergencyType = 4
	EmergencySecurity EmergencyType = 5
	EmergencyTest     EmergencyType = 0xFF
)

// SOSFlag carries status bits alongside the emergency type.
type SOSFlag uint8

const (
	SOSFlagGPSValid    SOSFlag = 0x01
	SOSFlagBatteryLow  SOSFlag = 0x02
	SOSFlagMedical     SOSFlag = 0x04
	SOSFlagFire        SOSFlag = 0x08
	SOSFlagRescue      SOSFlag = 0x10
	SOSFlagAcknowledged SOSFlag = 0x80
)

// SOSMessage is the payload carried by an emergency broadcast.
type SOSMessage struct {
	Type      EmergencyType
	Flags     SOSFlag
	Position  GeoCoord
	AltitudeCM int32
	Battery   uint8
	Timestamp Millis
	Message   string
}

// ReceivedSOS tracks one other node's active distress call.
type ReceivedSOS struct {
	Source       Address
	Message      SOSMessage
	RSSI         int16
	SNR          int8
	ReceivedAt   Millis
	Acknowledged bool
	valid        bool
}

// EmergencyStats mirrors original_source's EmergencyStats counters.
type EmergencyStats struct {
	SOSActivations uint32
	SOSBroadcasts  uint32
	SOSReceived    uint32
	SOSAcknowledged uint32
}

// Emergency drives this node's own SOS state and tracks others' SOS
// broadcasts heard over the mesh.
type Emergency struct {
	active       bool
	currentType  EmergencyType
	startedAt    Millis
	lastBroadcast Millis
	message      SOSMessage

	position GeoCoord
	havePos  bool
	battery  uint8

	// OriginalSF/OriginalTxPower hold the radio settings the caller
	// passed to ActivateSOS; the core itself never changes them.
	OriginalSF      SpreadingFactor
	OriginalTxPower uint8

	received [MaxReceivedSOS]ReceivedSOS
	stats    EmergencyStats
	log      *Logger

	BroadcastSOS func(msg SOSMessage)
}

// NewEmergency constructs an idle emergency subsystem.
func NewEmergency(log *Logger) *Emergency {
	return &Emergency{log: log}
}

// SetGPS records the position to include in outgoing SOS broadcasts.
func (e *Emergency) SetGPS(pos GeoCoord) {
	e.position = pos
	e.havePos = true
}

// SetBattery records the battery percentage to include in SOS broadcasts.
func (e *Emergency) SetBattery(level uint8) { e.battery = level }

// ActivateSOS enters emergency mode; the first broadcast goes out on the
// next Tick. It records currentSF/currentTxPower in OriginalSF/
// OriginalTxPower. It does not change the radio's spreading factor or
// TX power: SOS frames go out at whatever settings the radio already has.
func (e *Emergency) ActivateSOS(kind EmergencyType, message string, currentSF SpreadingFactor, currentTxPower uint8, now Millis) bool {
	if e.active {
		return false
	}
	e.active = true
	e.currentType = kind
	e.startedAt = now
	e.lastBroadcast = now - SOSBroadcastInterval
	e.OriginalSF = currentSF
	e.OriginalTxPower = currentTxPower

	var flags SOSFlag
	if e.havePos {
		flags |= SOSFlagGPSValid
	}
	switch kind {
	case EmergencyMedical:
		flags |= SOSFlagMedical
	case EmergencyFire:
		flags |= SOSFlagFire
	case EmergencyRescue:
		flags |= SOSFlagRescue
	}
	if e.battery > 0 && e.battery < 15 {
		flags |= SOSFlagBatteryLow
	}

	e.message = SOSMessage{
		Type:      kind,
		Flags:     flags,
		Position:  e.position,
		Battery:   e.battery,
		Timestamp: now,
		Message:   message,
	}
	e.stats.SOSActivations++
	e.log.Warn("SOS activated", "type", kind)
	return true
}

// CancelSOS exits emergency mode, either by explicit request or by the
// one-hour auto-cancel of Tick.
func (e *Emergency) CancelSOS() {
	if !e.active {
		return
	}
	e.active = false
	e.currentType = EmergencyNone
	e.log.Warn("SOS cancelled")
}

// IsActive reports whether this node currently has an SOS in progress.
func (e *Emergency) IsActive() bool { return e.active }

// Tick broadcasts the SOS beacon on SOSBroadcastInterval and auto-cancels
// after SOSMaxDuration (spec §4.10).
func (e *Emergency) Tick(now Millis) {
	if !e.active {
		return
	}
	if uint32(Since(now, e.startedAt)) > SOSMaxDuration {
		e.log.Warn("SOS auto-cancelled after max duration")
		e.CancelSOS()
		return
	}
	if uint32(Since(now, e.lastBroadcast)) < SOSBroadcastInterval {
		return
	}
	e.message.Position = e.position
	e.message.Timestamp = now
	if e.BroadcastSOS != nil {
		e.BroadcastSOS(e.message)
	}
	e.lastBroadcast = now
	e.stats.SOSBroadcasts++
}

func (e *Emergency) findReceived(source Address) *ReceivedSOS {
	for i := range e.received {
		if e.received[i].valid && e.received[i].Source == source {
			return &e.received[i]
		}
	}
	return nil
}

func (e *Emergency) findEmptyOrOldest() *ReceivedSOS {
	for i := range e.received {
		if !e.received[i].valid {
			return &e.received[i]
		}
	}
	oldest := &e.received[0]
	for i := range e.received {
		if e.received[i].ReceivedAt < oldest.ReceivedAt {
			oldest = &e.received[i]
		}
	}
	return oldest
}

// HandleReceivedSOS records another node's distress broadcast.
func (e *Emergency) HandleReceivedSOS(source Address, msg SOSMessage, rssi int16, snr int8, now Millis) {
	slot := e.findReceived(source)
	if slot == nil {
		slot = e.findEmptyOrOldest()
	}
	*slot = ReceivedSOS{
		Source:     source,
		Message:    msg,
		RSSI:       rssi,
		SNR:        snr,
		ReceivedAt: now,
		valid:      true,
	}
	e.stats.SOSReceived++
}

// AcknowledgeSOS marks a received SOS as acknowledged by this node.
func (e *Emergency) AcknowledgeSOS(source Address) bool {
	slot := e.findReceived(source)
	if slot == nil {
		return false
	}
	slot.Acknowledged = true
	e.stats.SOSAcknowledged++
	return true
}

// ActiveSOSCount reports how many distinct distress calls (including
// our own, if active) are currently tracked.
func (e *Emergency) ActiveSOSCount() int {
	n := 0
	if e.active {
		n++
	}
	for _, r := range e.received {
		if r.valid {
			n++
		}
	}
	return n
}

// ReceivedList returns a snapshot of every tracked SOS report.
func (e *Emergency) ReceivedList() []ReceivedSOS {
	out := make([]ReceivedSOS, 0, len(e.received))
	for _, r := range e.received {
		if r.valid {
			out = append(out, r)
		}
	}
	return out
}

// Stats returns a snapshot of the emergency subsystem's counters.
func (e *Emergency) Stats() EmergencyStats { return e.stats }
