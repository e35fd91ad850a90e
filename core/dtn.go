package core

import "sort"

/*------------------------------------------------------------------
 *
 * Purpose:	Delay-tolerant store-and-forward bundle queue, spec
 *		§4.9. Grounded on original_source/dtn/dtn.h: fixed bundle
 *		table, priority-ordered forwarding, custody transfer,
 *		and 200-byte/8-fragment reassembly.
 *
 *------------------------------------------------------------------*/

const (
	DTNMaxBundles     = 16
	DTNMaxBundleSize  = 512
	DTNDefaultTTLMS   = 86_400_000
	DTNFragmentSize   = 200
	DTNMaxFragments   = 8
	DTNCustodyTimeout = 60_000
)

// BundlePriority orders forwarding within the bundle queue, highest first.
type BundlePriority uint8

const (
	BundleBulk BundlePriority = iota
	BundleNormal
	BundleExpedited
	BundleEmergency
)

// BundleFlag marks delivery requirements carried with a bundle.
type BundleFlag uint8

const (
	BundleFlagFragment BundleFlag = 0x01
	BundleFlagCustody  BundleFlag = 0x02
	BundleFlagPriority BundleFlag = 0x04
	BundleFlagReportDeliv BundleFlag = 0x08
	BundleFlagEpidemic BundleFlag = 0x10
)

// BundleStatus tracks a bundle's lifecycle.
type BundleStatus int

const (
	BundlePending BundleStatus = iota
	BundleInTransit
	BundleCustodyWait
	BundleDelivered
	BundleExpired
	BundleFailed
)

// Bundle is one DTN payload in flight, with its reassembly bookkeeping.
type Bundle struct {
	ID           uint32
	Source       Address
	Destination  Address
	Custodian    Address
	CreatedAt    Millis
	TTLMs        uint32
	Priority     BundlePriority
	Flags        BundleFlag
	HopCount     uint8
	MaxHops      uint8
	Payload      []byte

	ReceivedAt          Millis
	LastForwardAttempt  Millis
	ForwardCount        uint8
	FragmentsReceived    uint8
	FragmentMask         uint8
	TotalFragments       uint8
	fragmentBuf          [DTNMaxFragments][]byte
	Status               BundleStatus
	valid                bool
}

// DTNStats mirrors original_source's DTNStats counters.
type DTNStats struct {
	BundlesCreated     uint32
	BundlesReceived    uint32
	BundlesForwarded   uint32
	BundlesDelivered   uint32
	BundlesExpired     uint32
	CustodyTransfers   uint32
	FragmentsSent      uint32
	FragmentsReceived  uint32
}

// DTNQueue owns the bundle table and drives forwarding/expiry.
type DTNQueue struct {
	self    Address
	bundles []Bundle
	nextID  uint32
	stats   DTNStats
	rng     RandomSource
	log     *Logger

	EpidemicEnabled bool

	// SendFragment delivers one wire-ready fragment toward nextHop.
	SendFragment func(nextHop Address, bundleID uint32, fragmentIdx uint8, header Bundle, payload []byte)
	IsReachable  func(dest Address) bool

	OnDelivered func(bundleID uint32, payload []byte)
	OnStatus    func(bundleID uint32, status BundleStatus)

	// OnCustodyAccepted fires once a custody-flagged bundle finishes
	// reassembly here, so the node can send a CUSTODY_ACK back to
	// whoever handed it to us (spec §4.9's custody chain).
	OnCustodyAccepted func(bundleID uint32, prevHop Address)

	// OnNeedForward fires when a fully-reassembled bundle is not
	// addressed to us: we've become its custodian and the node must
	// resolve a next hop and call Forward to keep it moving.
	OnNeedForward func(bundleID uint32, destination Address)
}

// NewDTNQueue allocates a bundle table of the given capacity.
func NewDTNQueue(self Address, capacity int, rng RandomSource, log *Logger) *DTNQueue {
	return &DTNQueue{
		self:    self,
		bundles: make([]Bundle, capacity),
		rng:     rng,
		log:     log,
	}
}

func (d *DTNQueue) findEmptySlot() *Bundle {
	for i := range d.bundles {
		if !d.bundles[i].valid {
			return &d.bundles[i]
		}
	}
	return nil
}

func (d *DTNQueue) findByID(id uint32) *Bundle {
	for i := range d.bundles {
		if d.bundles[i].valid && d.bundles[i].ID == id {
			return &d.bundles[i]
		}
	}
	return nil
}

// CreateBundle queues a new bundle for destination, evicting the lowest
// priority pending bundle if the table is full (spec §4.9 Capacity).
func (d *DTNQueue) CreateBundle(destination Address, payload []byte, priority BundlePriority, ttlMS uint32, flags BundleFlag, now Millis) (uint32, bool) {
	if ttlMS == 0 {
		ttlMS = DTNDefaultTTLMS
	}
	slot := d.findEmptySlot()
	if slot == nil {
		slot = d.evictLowestPriority(priority)
		if slot == nil {
			d.log.Warn("bundle queue full, nothing evictable", "dest", destination)
			return 0, false
		}
	}

	d.nextID++
	id := d.nextID

	buf := make([]byte, len(payload))
	copy(buf, payload)

	*slot = Bundle{
		ID:          id,
		Source:      d.self,
		Destination: destination,
		Custodian:   d.self,
		CreatedAt:   now,
		TTLMs:       ttlMS,
		Priority:    priority,
		Flags:       flags,
		MaxHops:     MaxTTLInitial,
		Payload:     buf,
		ReceivedAt:  now,
		Status:      BundlePending,
		valid:       true,
	}
	d.stats.BundlesCreated++
	return id, true
}

func (d *DTNQueue) evictLowestPriority(incoming BundlePriority) *Bundle {
	var worst *Bundle
	for i := range d.bundles {
		b := &d.bundles[i]
		if !b.valid || b.Status == BundleCustodyWait {
			continue
		}
		if worst == nil || b.Priority < worst.Priority {
			worst = b
		}
	}
	if worst != nil && worst.Priority < incoming {
		d.log.Debug("evicting lower-priority bundle", "id", worst.ID)
		return worst
	}
	return nil
}

// Pending returns every bundle awaiting forwarding, ordered highest
// priority first then oldest first (spec §4.9's forwarding order).
func (d *DTNQueue) Pending() []Bundle {
	out := make([]Bundle, 0, len(d.bundles))
	for _, b := range d.bundles {
		if b.valid && (b.Status == BundlePending || b.Status == BundleInTransit) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt < out[j].CreatedAt
	})
	return out
}

// Forward attempts to move one pending bundle on toward its destination
// (or custodian chain for DTN-hop relays), fragmenting if it exceeds one
// frame's usable payload. nextHop is supplied by the routing layer.
func (d *DTNQueue) Forward(bundleID uint32, nextHop Address, now Millis) bool {
	b := d.findByID(bundleID)
	if b == nil {
		return false
	}
	b.LastForwardAttempt = now
	b.Status = BundleInTransit

	if len(b.Payload) <= DTNFragmentSize {
		header := *b
		header.TotalFragments = 1
		if d.SendFragment != nil {
			d.SendFragment(nextHop, b.ID, 0, header, b.Payload)
		}
		d.stats.BundlesForwarded++
		b.ForwardCount++
		if b.Flags&BundleFlagCustody != 0 {
			b.Status = BundleCustodyWait
		}
		return true
	}

	fragments := (len(b.Payload) + DTNFragmentSize - 1) / DTNFragmentSize
	if fragments > DTNMaxFragments {
		d.log.Warn("bundle too large to fragment", "id", b.ID, "fragments", fragments)
		b.Status = BundleFailed
		return false
	}
	for i := 0; i < fragments; i++ {
		start := i * DTNFragmentSize
		end := start + DTNFragmentSize
		if end > len(b.Payload) {
			end = len(b.Payload)
		}
		header := *b
		header.Flags |= BundleFlagFragment
		header.TotalFragments = uint8(fragments)
		if d.SendFragment != nil {
			d.SendFragment(nextHop, b.ID, uint8(i), header, b.Payload[start:end])
		}
		d.stats.FragmentsSent++
	}
	d.stats.BundlesForwarded++
	b.ForwardCount++
	if b.Flags&BundleFlagCustody != 0 {
		b.Status = BundleCustodyWait
	}
	return true
}

// HandleFragment reassembles an incoming bundle fragment. prevHop is the
// node that handed us this fragment (the packet layer's immediate
// sender), needed to ack custody back along the path it arrived on.
// When the last fragment arrives, the completed bundle is either
// delivered locally, or - if we are not its destination - entered into
// the queue as our own custody and handed to OnNeedForward to continue
// relaying.
func (d *DTNQueue) HandleFragment(bundleID uint32, source, destination Address, fragmentIdx, totalFragments uint8, priority BundlePriority, flags BundleFlag, maxHops uint8, payload []byte, prevHop Address, now Millis) {
	d.stats.BundlesReceived++
	d.stats.FragmentsReceived++

	b := d.findByID(bundleID)
	if b == nil {
		b = d.findEmptySlot()
		if b == nil {
			d.log.Warn("bundle table full, dropping fragment", "id", bundleID)
			return
		}
		*b = Bundle{
			ID:             bundleID,
			Source:         source,
			Destination:    destination,
			Custodian:      d.self,
			CreatedAt:      now,
			TTLMs:          DTNDefaultTTLMS,
			Priority:       priority,
			Flags:          flags,
			MaxHops:        maxHops,
			TotalFragments: totalFragments,
			ReceivedAt:     now,
			Status:         BundlePending,
			valid:          true,
		}
	}

	if fragmentIdx >= DTNMaxFragments {
		return
	}
	if b.fragmentBuf[fragmentIdx] == nil {
		buf := make([]byte, len(payload))
		copy(buf, payload)
		b.fragmentBuf[fragmentIdx] = buf
		b.FragmentsReceived++
		b.FragmentMask |= 1 << fragmentIdx
	}

	if totalFragments == 0 || b.FragmentsReceived < totalFragments {
		return
	}

	full := make([]byte, 0, DTNMaxBundleSize)
	for i := uint8(0); i < totalFragments; i++ {
		if b.fragmentBuf[i] == nil {
			return // still missing one
		}
		full = append(full, b.fragmentBuf[i]...)
	}
	b.Payload = full
	b.Custodian = d.self

	if b.Destination == d.self {
		b.Status = BundleDelivered
		d.stats.BundlesDelivered++
		if d.OnDelivered != nil {
			d.OnDelivered(b.ID, b.Payload)
		}
		if d.OnStatus != nil {
			d.OnStatus(b.ID, BundleDelivered)
		}
	} else {
		// We're an intermediate relay: the bundle is now ours to
		// forward on toward its real destination.
		b.Status = BundlePending
		if d.OnNeedForward != nil {
			d.OnNeedForward(b.ID, b.Destination)
		}
	}

	if b.Flags&BundleFlagCustody != 0 && d.OnCustodyAccepted != nil {
		d.OnCustodyAccepted(b.ID, prevHop)
	}
}

// AcceptCustody finalizes custody transfer for a bundle once a
// CUSTODY_ACK is received, freeing our copy.
func (d *DTNQueue) AcceptCustody(bundleID uint32, newCustodian Address) {
	b := d.findByID(bundleID)
	if b == nil {
		return
	}
	d.stats.CustodyTransfers++
	*b = Bundle{}
}

// OnPeerDiscovered forwards, right away, every pending bundle whose
// destination is the newly-reachable peer. Bundles for other
// destinations are not considered.
func (d *DTNQueue) OnPeerDiscovered(peer Address, now Millis) {
	for i := range d.bundles {
		b := &d.bundles[i]
		if b.valid && b.Status == BundlePending && b.Destination == peer {
			d.Forward(b.ID, peer, now)
		}
	}
}

// Tick expires bundles whose TTL has elapsed and returns to Pending any
// bundle whose custody wait has timed out; it sends nothing itself.
func (d *DTNQueue) Tick(now Millis) {
	for i := range d.bundles {
		b := &d.bundles[i]
		if !b.valid {
			continue
		}
		if uint32(Since(now, b.CreatedAt)) > b.TTLMs {
			d.log.Debug("bundle expired", "id", b.ID)
			b.Status = BundleExpired
			d.stats.BundlesExpired++
			if d.OnStatus != nil {
				d.OnStatus(b.ID, BundleExpired)
			}
			*b = Bundle{}
			continue
		}
		if b.Status == BundleCustodyWait && uint32(Since(now, b.LastForwardAttempt)) > DTNCustodyTimeout {
			b.Status = BundlePending
		}
	}
}

// Stats returns a snapshot of the DTN queue's counters.
func (d *DTNQueue) Stats() DTNStats { return d.stats }

// TotalBundles reports how many bundle slots are currently occupied.
func (d *DTNQueue) TotalBundles() int {
	n := 0
	for _, b := range d.bundles {
		if b.valid {
			n++
		}
	}
	return n
}
