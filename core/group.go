package core

/*------------------------------------------------------------------
 *
 * Purpose:	Pre-shared-key encrypted group channel, per spec §4.8.
 *		Grounded on original_source/groups/groups.h: per-group
 *		PSK, a strictly-increasing sequence watermark for replay
 *		protection, and a group_id derived from name+key so two
 *		nodes that independently join the same named group with
 *		the same key agree on the id without negotiation.
 *
 *------------------------------------------------------------------*/

const (
	MaxGroups       = 8
	GroupKeySize    = 32
	GroupNameMax    = 16
	GroupNonceSize  = 12
)

// GroupFlag marks membership properties of a joined group.
type GroupFlag uint8

const (
	GroupFlagAdmin    GroupFlag = 0x01
	GroupFlagReadOnly GroupFlag = 0x02
	GroupFlagHidden   GroupFlag = 0x04
)

// GroupID uniquely names a group, derived from its name and key.
type GroupID uint32

// Group is one joined PSK channel.
type Group struct {
	ID           GroupID
	Name         string
	Key          [GroupKeySize]byte
	Flags        GroupFlag
	TxSequence   uint32
	RxSequence   uint32
	LastActivity Millis
	MemberCount  uint8
	valid        bool
}

// GroupStats mirrors original_source's GroupStats counters.
type GroupStats struct {
	MessagesSent      uint32
	MessagesReceived  uint32
	MessagesDecrypted uint32
	DecryptionFailed  uint32
	ReplayRejected    uint32
}

// GroupChannel owns the set of groups this node has joined.
type GroupChannel struct {
	self   Address
	groups [MaxGroups]Group
	stats  GroupStats
	log    *Logger

	SendGroupFrame func(dest Address, payload []byte)
	OnMessage      func(group GroupID, sender Address, data []byte)
	OnEvent        func(group GroupID, event string)
}

// NewGroupChannel constructs an empty group table.
func NewGroupChannel(self Address, log *Logger) *GroupChannel {
	return &GroupChannel{self: self, log: log}
}

// DeriveGroupID hashes name and key together with BLAKE2b and takes the
// first four bytes as a little-endian uint32, per spec §4.8.
func DeriveGroupID(name string, key [GroupKeySize]byte) GroupID {
	digest := Blake2bSum(4, []byte(name), key[:])
	return GroupID(uint32(digest[0]) | uint32(digest[1])<<8 | uint32(digest[2])<<16 | uint32(digest[3])<<24)
}

func (g *GroupChannel) findByID(id GroupID) *Group {
	for i := range g.groups {
		if g.groups[i].valid && g.groups[i].ID == id {
			return &g.groups[i]
		}
	}
	return nil
}

func (g *GroupChannel) findByName(name string) *Group {
	for i := range g.groups {
		if g.groups[i].valid && g.groups[i].Name == name {
			return &g.groups[i]
		}
	}
	return nil
}

func (g *GroupChannel) findEmptySlot() *Group {
	for i := range g.groups {
		if !g.groups[i].valid {
			return &g.groups[i]
		}
	}
	return nil
}

// Join adds membership in a group identified by name and PSK, returning
// the derived GroupID. Fails (ok=false) if MaxGroups is already full.
func (g *GroupChannel) Join(name string, key [GroupKeySize]byte, flags GroupFlag, now Millis) (GroupID, bool) {
	if existing := g.findByName(name); existing != nil {
		return existing.ID, true
	}
	slot := g.findEmptySlot()
	if slot == nil {
		g.log.Warn("group table full", "name", name)
		return 0, false
	}
	id := DeriveGroupID(name, key)
	*slot = Group{
		ID:           id,
		Name:         name,
		Key:          key,
		Flags:        flags,
		LastActivity: now,
		valid:        true,
	}
	return id, true
}

// Leave removes membership in a group.
func (g *GroupChannel) Leave(id GroupID) {
	if slot := g.findByID(id); slot != nil {
		Wipe(slot.Key[:])
		*slot = Group{}
	}
}

// groupAAD is the unencrypted header that both authenticates and binds
// each group message to its group, sequence and sender, per spec §4.8.
func groupAAD(id GroupID, seq uint32, sender Address) []byte {
	b := make([]byte, 12)
	putUint32LE(b[0:4], uint32(id))
	putUint32LE(b[4:8], seq)
	putUint32LE(b[8:12], uint32(sender))
	return b
}

func groupNonce(id GroupID, seq uint32) []byte {
	n := make([]byte, GroupNonceSize)
	putUint32LE(n[0:4], uint32(id))
	putUint32LE(n[4:8], seq)
	return n
}

// EncryptMessage seals data for a joined group, returning the wire
// payload: header fields followed by ciphertext+tag. The caller's
// SendGroupFrame delivers this broadcast to the MAC layer.
func (g *GroupChannel) EncryptMessage(id GroupID, data []byte, now Millis) ([]byte, bool) {
	slot := g.findByID(id)
	if slot == nil {
		return nil, false
	}
	slot.TxSequence++
	seq := slot.TxSequence

	aad := groupAAD(id, seq, g.self)
	ct, err := AEADSeal(slot.Key, groupNonce(id, seq), aad, data)
	if err != nil {
		g.log.Warn("group encrypt failed", "group", id)
		return nil, false
	}

	out := make([]byte, 0, len(aad)+len(ct))
	out = append(out, aad...)
	out = append(out, ct...)

	slot.LastActivity = now
	g.stats.MessagesSent++
	return out, true
}

// HandleMessage decrypts an incoming group frame, enforcing the strict
// replay watermark of spec §4.8/§8: sequence must strictly exceed the
// highest one accepted so far.
func (g *GroupChannel) HandleMessage(frame []byte, now Millis) {
	if len(frame) < 12 {
		return
	}
	id := GroupID(uint32(frame[0]) | uint32(frame[1])<<8 | uint32(frame[2])<<16 | uint32(frame[3])<<24)
	seq := uint32(frame[4]) | uint32(frame[5])<<8 | uint32(frame[6])<<16 | uint32(frame[7])<<24
	sender := Address(uint32(frame[8]) | uint32(frame[9])<<8 | uint32(frame[10])<<16 | uint32(frame[11])<<24)
	ct := frame[12:]

	g.stats.MessagesReceived++

	slot := g.findByID(id)
	if slot == nil {
		return
	}
	if sender == g.self {
		return
	}
	if seq <= slot.RxSequence && slot.RxSequence > 0 {
		g.stats.ReplayRejected++
		g.log.Debug("group replay rejected", "group", id, "seq", seq)
		return
	}

	pt, err := AEADOpen(slot.Key, groupNonce(id, seq), frame[0:12], ct)
	if err != nil {
		g.stats.DecryptionFailed++
		g.log.Warn("group decrypt failed", "group", id, "from", sender)
		return
	}

	slot.RxSequence = seq
	slot.LastActivity = now
	g.stats.MessagesDecrypted++

	if g.OnMessage != nil {
		g.OnMessage(id, sender, pt)
	}
}

// Stats returns a snapshot of the group channel's counters.
func (g *GroupChannel) Stats() GroupStats { return g.stats }

// All returns every joined group.
func (g *GroupChannel) All() []Group {
	out := make([]Group, 0, len(g.groups))
	for _, gr := range g.groups {
		if gr.valid {
			out = append(out, gr)
		}
	}
	return out
}
