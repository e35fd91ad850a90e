package core

import "strings"

/*------------------------------------------------------------------
 *
 * Purpose:	Name⇄address directory, bounded message history, and the
 *		thin save/load view over the host's Store, per spec
 *		§4.12. None of these interpret how the host actually
 *		persists bytes; they only shape what gets offered to it.
 *
 *------------------------------------------------------------------*/

const (
	MaxNames      = 64
	MaxNameLength = 16
	HistorySize   = 32
)

type nameEntry struct {
	name    string
	address Address
	valid   bool
}

// NameDirectory maps human-readable names to addresses, bounded to
// MaxNames entries.
type NameDirectory struct {
	entries [MaxNames]nameEntry
	log     *Logger
}

// NewNameDirectory constructs an empty directory.
func NewNameDirectory(log *Logger) *NameDirectory {
	return &NameDirectory{log: log}
}

// SetName binds name to address: an address already bound is renamed in
// place; otherwise the oldest entry is evicted if the directory is full.
// name longer than MaxNameLength is truncated.
func (d *NameDirectory) SetName(name string, address Address) {
	if len(name) > MaxNameLength {
		name = name[:MaxNameLength]
	}
	for i := range d.entries {
		if d.entries[i].valid && d.entries[i].address == address {
			d.entries[i].name = name
			return
		}
	}
	for i := range d.entries {
		if !d.entries[i].valid {
			d.entries[i] = nameEntry{name: name, address: address, valid: true}
			return
		}
	}
	d.log.Debug("name directory full, evicting oldest", "name", name)
	copy(d.entries[:], d.entries[1:])
	d.entries[len(d.entries)-1] = nameEntry{name: name, address: address, valid: true}
}

// GetName returns the bound name for address, or the canonical
// "0xXXXXXXXX" fallback of spec §4.12 when no name is bound.
func (d *NameDirectory) GetName(address Address) string {
	for _, e := range d.entries {
		if e.valid && e.address == address {
			return e.name
		}
	}
	return address.String()
}

// Snapshot encodes every bound name for persistence: a run of
// len-prefixed name strings each followed by a little-endian address.
func (d *NameDirectory) Snapshot() []byte {
	out := make([]byte, 0, MaxNames*(1+MaxNameLength+4))
	for _, e := range d.entries {
		if !e.valid {
			continue
		}
		out = append(out, byte(len(e.name)))
		out = append(out, e.name...)
		b4 := make([]byte, 4)
		putUint32LE(b4, uint32(e.address))
		out = append(out, b4...)
	}
	return out
}

// Restore replaces the directory's contents from a Snapshot blob,
// stopping silently at the first malformed record rather than failing
// loudly - a corrupt save file keeps the records decoded before the
// damage, not a crash.
func (d *NameDirectory) Restore(data []byte) {
	d.entries = [MaxNames]nameEntry{}
	for len(data) > 0 {
		n := int(data[0])
		if len(data) < 1+n+4 {
			return
		}
		name := string(data[1 : 1+n])
		addr := Address(uint32(data[1+n]) | uint32(data[2+n])<<8 | uint32(data[3+n])<<16 | uint32(data[4+n])<<24)
		d.SetName(name, addr)
		data = data[1+n+4:]
	}
}

// ResolveName returns the address bound to name, if any.
func (d *NameDirectory) ResolveName(name string) (Address, bool) {
	for _, e := range d.entries {
		if e.valid && e.name == name {
			return e.address, true
		}
	}
	return AddressNone, false
}

// HistoryEntry is one logged message (spec §4.12).
type HistoryEntry struct {
	Peer      Address
	Outbound  bool
	Text      string
	Timestamp Millis
}

// MessageHistory is a fixed-capacity circular log of recent messages.
type MessageHistory struct {
	entries [HistorySize]HistoryEntry
	count   int
	next    int
}

// NewMessageHistory constructs an empty history log.
func NewMessageHistory() *MessageHistory { return &MessageHistory{} }

// Record appends a message, overwriting the oldest entry once full.
func (h *MessageHistory) Record(peer Address, outbound bool, text string, now Millis) {
	h.entries[h.next] = HistoryEntry{Peer: peer, Outbound: outbound, Text: text, Timestamp: now}
	h.next = (h.next + 1) % HistorySize
	if h.count < HistorySize {
		h.count++
	}
}

// FromNewest returns the index-th most recent entry (0 = newest),
// ok=false if index is out of range.
func (h *MessageHistory) FromNewest(index int) (HistoryEntry, bool) {
	if index < 0 || index >= h.count {
		return HistoryEntry{}, false
	}
	pos := (h.next - 1 - index + HistorySize) % HistorySize
	return h.entries[pos], true
}

// Filter returns every logged entry matching peer (AddressNone to
// match any peer) and containing substr (empty to match any text),
// newest first.
func (h *MessageHistory) Filter(peer Address, substr string) []HistoryEntry {
	out := make([]HistoryEntry, 0, h.count)
	for i := 0; i < h.count; i++ {
		e, _ := h.FromNewest(i)
		if peer != AddressNone && e.Peer != peer {
			continue
		}
		if substr != "" && !strings.Contains(e.Text, substr) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Len reports how many entries are currently logged.
func (h *MessageHistory) Len() int { return h.count }

// PersistenceView is a thin, subsystem-scoped wrapper over a Store,
// matching spec §4.12's save(namespace, key, bytes)/load(namespace, key)
// shape without the core ever inspecting what the host does with bytes.
type PersistenceView struct {
	namespace string
	store     Store
}

// NewPersistenceView scopes store to namespace (e.g. "routes", "groups").
func NewPersistenceView(namespace string, store Store) *PersistenceView {
	if store == nil {
		store = NopStore{}
	}
	return &PersistenceView{namespace: namespace, store: store}
}

// Save persists bytes under key within this view's namespace.
func (p *PersistenceView) Save(key string, data []byte) error {
	return p.store.Save(p.namespace, key, data)
}

// Load retrieves bytes previously saved under key, ok=false if absent.
func (p *PersistenceView) Load(key string) ([]byte, bool) {
	return p.store.Load(p.namespace, key)
}
