package core

/*------------------------------------------------------------------
 *
 * Purpose:	Neighbor table: directly-heard peers with signal
 *		history, per spec §3/§4.4.
 *
 * Description:	A fixed-capacity table, one entry per address heard
 *		directly. Created on first reception, refreshed on
 *		every reception, expired after ROUTE_TIMEOUT of silence.
 *		Mirrors the teacher's mheard.go in purpose (a list of
 *		stations heard) but without its linked-list/mutex
 *		machinery — spec §5 rules out locks, and a fixed array
 *		with linear scan suits the small neighbor counts a
 *		narrow-band mesh actually sees.
 *
 *------------------------------------------------------------------*/

const rssiHistorySize = 8

// NeighborEntry is one directly-heard peer (spec §3).
type NeighborEntry struct {
	Address      Address
	rssiHistory  [rssiHistorySize]int16
	snrHistory   [rssiHistorySize]int8
	historyNext  uint8
	historyCount uint8
	PacketsHeard uint32
	PacketsGood  uint32 // denominator-compatible counter for success ratio
	LastSeen     Millis
	valid        bool
}

// LastRSSI returns the most recently recorded RSSI sample, or 0 if none.
func (n *NeighborEntry) LastRSSI() int16 {
	if n.historyCount == 0 {
		return 0
	}
	idx := (n.historyNext + rssiHistorySize - 1) % rssiHistorySize
	return n.rssiHistory[idx]
}

// LastSNR returns the most recently recorded SNR sample, or 0 if none.
func (n *NeighborEntry) LastSNR() int8 {
	if n.historyCount == 0 {
		return 0
	}
	idx := (n.historyNext + rssiHistorySize - 1) % rssiHistorySize
	return n.snrHistory[idx]
}

// MeanRSSI averages the ring buffer's current contents.
func (n *NeighborEntry) MeanRSSI() float64 {
	if n.historyCount == 0 {
		return 0
	}
	var sum int32
	for i := uint8(0); i < n.historyCount; i++ {
		sum += int32(n.rssiHistory[i])
	}
	return float64(sum) / float64(n.historyCount)
}

// MeanSNR averages the ring buffer's current contents.
func (n *NeighborEntry) MeanSNR() float64 {
	if n.historyCount == 0 {
		return 0
	}
	var sum int32
	for i := uint8(0); i < n.historyCount; i++ {
		sum += int32(n.snrHistory[i])
	}
	return float64(sum) / float64(n.historyCount)
}

// LinkQuality is the success ratio over the current window.
func (n *NeighborEntry) LinkQuality() float64 {
	if n.PacketsHeard == 0 {
		return 0
	}
	return float64(n.PacketsGood) / float64(n.PacketsHeard)
}

func (n *NeighborEntry) record(rssi int16, snr int8) {
	n.rssiHistory[n.historyNext] = rssi
	n.snrHistory[n.historyNext] = snr
	n.historyNext = (n.historyNext + 1) % rssiHistorySize
	if n.historyCount < rssiHistorySize {
		n.historyCount++
	}
}

// NeighborTable is the fixed-capacity set of directly-heard peers.
type NeighborTable struct {
	entries      []NeighborEntry
	routeTimeout uint32
	log          *Logger
}

// NewNeighborTable allocates a table with the given capacity.
func NewNeighborTable(capacity int, routeTimeoutMS uint32, log *Logger) *NeighborTable {
	return &NeighborTable{
		entries:      make([]NeighborEntry, capacity),
		routeTimeout: routeTimeoutMS,
		log:          log,
	}
}

func (t *NeighborTable) find(addr Address) *NeighborEntry {
	for i := range t.entries {
		if t.entries[i].valid && t.entries[i].Address == addr {
			return &t.entries[i]
		}
	}
	return nil
}

// Touch records a reception from addr, creating the entry if new and
// evicting the least-recently-seen entry if the table is full.
func (t *NeighborTable) Touch(addr Address, rssi int16, snr int8, now Millis) *NeighborEntry {
	if e := t.find(addr); e != nil {
		e.record(rssi, snr)
		e.PacketsHeard++
		e.PacketsGood++
		e.LastSeen = now
		return e
	}

	slot := t.findFreeOrEvict(now)
	slot.Address = addr
	slot.valid = true
	slot.historyNext = 0
	slot.historyCount = 0
	slot.PacketsHeard = 0
	slot.PacketsGood = 0
	slot.record(rssi, snr)
	slot.PacketsHeard = 1
	slot.PacketsGood = 1
	slot.LastSeen = now
	t.log.Debug("neighbor heard", "addr", addr, "rssi", rssi, "snr", snr)
	return slot
}

func (t *NeighborTable) findFreeOrEvict(now Millis) *NeighborEntry {
	for i := range t.entries {
		if !t.entries[i].valid {
			return &t.entries[i]
		}
	}
	// Capacity error (spec §7): evict the oldest-seen entry.
	oldest := &t.entries[0]
	for i := range t.entries {
		if Since(now, t.entries[i].LastSeen) > Since(now, oldest.LastSeen) {
			oldest = &t.entries[i]
		}
	}
	t.log.Warn("neighbor table full, evicting oldest", "addr", oldest.Address)
	return oldest
}

// Get returns the entry for addr, if currently valid.
func (t *NeighborTable) Get(addr Address) (*NeighborEntry, bool) {
	e := t.find(addr)
	if e == nil {
		return nil, false
	}
	return e, true
}

// IsDirect reports whether addr is a currently-known direct neighbor.
func (t *NeighborTable) IsDirect(addr Address) bool {
	return t.find(addr) != nil
}

// ExpireStale drops neighbors silent for longer than RouteTimeout.
func (t *NeighborTable) ExpireStale(now Millis) {
	for i := range t.entries {
		e := &t.entries[i]
		if e.valid && uint32(Since(now, e.LastSeen)) > t.routeTimeout {
			t.log.Debug("neighbor expired", "addr", e.Address)
			*e = NeighborEntry{}
		}
	}
}

// All returns every currently-valid neighbor entry.
func (t *NeighborTable) All() []NeighborEntry {
	out := make([]NeighborEntry, 0, len(t.entries))
	for _, e := range t.entries {
		if e.valid {
			out = append(out, e)
		}
	}
	return out
}
