package core

import "bytes"

/*------------------------------------------------------------------
 *
 * Purpose:	Point-to-point secure link: X25519 ephemeral handshake,
 *		BLAKE2b-derived directional keys, XChaCha20-Poly1305 data
 *		frames, optional Double Ratchet forward secrecy. Grounded
 *		on original_source/link/link.cpp's LinkManager, generalized
 *		from its fixed LINK_REQUEST/ACCEPT/REJECT/DATA/KEEPALIVE/
 *		CLOSE wire messages to Go method calls the node's packet
 *		dispatcher feeds from decoded payloads (spec §4.7).
 *
 *------------------------------------------------------------------*/

const (
	LinkIDSize           = 8
	LinkHandshakeTimeout = 5_000
	LinkMaxHandshakeTry  = 3
	LinkIdleTimeout      = 300_000
	LinkKeepaliveEvery   = 60_000
)

// LinkState is a secure link's position in its handshake/liveness
// state machine (spec §4.7).
type LinkState int

const (
	LinkClosed LinkState = iota
	LinkPending
	LinkHandshake
	LinkActive
	LinkStale
)

func (s LinkState) String() string {
	switch s {
	case LinkClosed:
		return "closed"
	case LinkPending:
		return "pending"
	case LinkHandshake:
		return "handshake"
	case LinkActive:
		return "active"
	case LinkStale:
		return "stale"
	default:
		return "unknown"
	}
}

// Link is one secure association with a peer.
type Link struct {
	ID    [LinkIDSize]byte
	Peer  Address
	State LinkState

	Initiator bool

	localPrivate  [32]byte
	localPublic   [32]byte
	peerPublic    [32]byte
	sharedSecret  [32]byte
	txKey         [32]byte
	rxKey         [32]byte

	txSequence  uint32
	rxSequence  uint32
	hasReceived bool

	ratchet        *RatchetState
	ratchetEnabled bool

	createdAt        Millis
	lastActivity     Millis
	lastKeepaliveAt  Millis
	handshakeRetries int

	PacketsOut, PacketsIn uint32
	BytesOut, BytesIn     uint32
}

// SecureLink owns a fixed-capacity table of Link associations and
// drives their handshake and AEAD framing.
type SecureLink struct {
	self  Address
	links []Link
	rng   RandomSource
	log   *Logger

	AutoAccept            bool
	ForwardSecrecyDefault bool

	// SendControl/SendData hand a wire-ready payload to the node's
	// packet layer; SecureLink never touches Header fields itself.
	SendControl func(peer Address, kind LinkControlType, payload []byte)

	OnEstablished func(peer Address, linkID [LinkIDSize]byte)
	OnClosed      func(peer Address, linkID [LinkIDSize]byte)
	OnData        func(peer Address, linkID [LinkIDSize]byte, data []byte)
}

// LinkControlType distinguishes the secure-link control messages
// carried inside LINK-typed packets (spec §4.7).
type LinkControlType uint8

const (
	LinkMsgRequest LinkControlType = iota
	LinkMsgAccept
	LinkMsgReject
	LinkMsgData
	LinkMsgKeepalive
	LinkMsgClose
)

// NewSecureLink allocates a link table of the given capacity.
func NewSecureLink(self Address, capacity int, rng RandomSource, log *Logger) *SecureLink {
	return &SecureLink{
		self:                  self,
		links:                 make([]Link, capacity),
		rng:                   rng,
		log:                   log,
		AutoAccept:            true,
		ForwardSecrecyDefault: true,
	}
}

func (s *SecureLink) findByPeer(peer Address) *Link {
	for i := range s.links {
		if s.links[i].State != LinkClosed && s.links[i].Peer == peer {
			return &s.links[i]
		}
	}
	return nil
}

func (s *SecureLink) findByID(id [LinkIDSize]byte) *Link {
	for i := range s.links {
		if s.links[i].State != LinkClosed && s.links[i].ID == id {
			return &s.links[i]
		}
	}
	return nil
}

func (s *SecureLink) findFreeSlot() *Link {
	for i := range s.links {
		if s.links[i].State == LinkClosed {
			return &s.links[i]
		}
	}
	return nil
}

func (s *SecureLink) randomID() [LinkIDSize]byte {
	var id [LinkIDSize]byte
	buf := make([]byte, LinkIDSize)
	s.rng.RandomBytes(buf)
	copy(id[:], buf)
	return id
}

func (s *SecureLink) randomScalar() [32]byte {
	var k [32]byte
	buf := make([]byte, 32)
	s.rng.RandomBytes(buf)
	copy(k[:], buf)
	return k
}

// RequestLink begins a handshake to peer, returning the new link's ID.
// Returns ok=false when the table is full (spec §7 Capacity error).
func (s *SecureLink) RequestLink(peer Address, now Millis) (id [LinkIDSize]byte, ok bool) {
	if existing := s.findByPeer(peer); existing != nil && existing.State == LinkActive {
		return existing.ID, true
	}

	slot := s.findFreeSlot()
	if slot == nil {
		s.log.Warn("link table full", "peer", peer)
		return id, false
	}

	*slot = Link{
		Peer:         peer,
		State:        LinkPending,
		Initiator:    true,
		createdAt:    now,
		lastActivity: now,
		localPrivate: s.randomScalar(),
		ID:           s.randomID(),
	}
	slot.localPublic = X25519PublicKey(slot.localPrivate)

	if s.SendControl != nil {
		payload := make([]byte, 0, LinkIDSize+32)
		payload = append(payload, slot.ID[:]...)
		payload = append(payload, slot.localPublic[:]...)
		s.SendControl(peer, LinkMsgRequest, payload)
	}
	return slot.ID, true
}

func (s *SecureLink) deriveKeys(l *Link) {
	l.sharedSecret = X25519Shared(l.localPrivate, l.peerPublic)

	role := byte(0x01)
	if !l.Initiator {
		role = 0x02
	}
	l.txKey = sha2bKey(l.sharedSecret, l.ID, role)
	l.rxKey = sha2bKey(l.sharedSecret, l.ID, role^0x03)
}

func sha2bKey(secret [32]byte, linkID [LinkIDSize]byte, role byte) [32]byte {
	input := make([]byte, 0, 32+LinkIDSize+1)
	input = append(input, secret[:]...)
	input = append(input, linkID[:]...)
	input = append(input, role)
	var out [32]byte
	copy(out[:], Blake2bSum(32, input))
	return out
}

// HandleRequest processes an incoming LINK_REQUEST.
func (s *SecureLink) HandleRequest(from Address, linkID [LinkIDSize]byte, peerPublic [32]byte, now Millis) {
	if !s.AutoAccept {
		if s.SendControl != nil {
			s.SendControl(from, LinkMsgReject, linkID[:])
		}
		return
	}

	slot := s.findByID(linkID)
	if slot == nil {
		slot = s.findFreeSlot()
	}
	if slot == nil {
		s.log.Warn("link table full, rejecting", "peer", from)
		if s.SendControl != nil {
			s.SendControl(from, LinkMsgReject, linkID[:])
		}
		return
	}

	*slot = Link{
		ID:           linkID,
		Peer:         from,
		Initiator:    false,
		createdAt:    now,
		lastActivity: now,
		peerPublic:   peerPublic,
		localPrivate: s.randomScalar(),
	}
	slot.localPublic = X25519PublicKey(slot.localPrivate)
	s.deriveKeys(slot)

	proof := Blake2bSum(16, slot.sharedSecret[:])

	if s.ForwardSecrecyDefault {
		slot.ratchet = NewRatchetBob(slot.sharedSecret, slot.localPrivate, slot.localPublic, s.rng)
		slot.ratchetEnabled = true
	}
	slot.State = LinkActive

	if s.SendControl != nil {
		payload := make([]byte, 0, LinkIDSize+32+16)
		payload = append(payload, slot.ID[:]...)
		payload = append(payload, slot.localPublic[:]...)
		payload = append(payload, proof...)
		s.SendControl(from, LinkMsgAccept, payload)
	}

	if s.OnEstablished != nil {
		s.OnEstablished(from, slot.ID)
	}
}

// HandleAccept processes an incoming LINK_ACCEPT for a link we initiated.
func (s *SecureLink) HandleAccept(from Address, linkID [LinkIDSize]byte, peerPublic [32]byte, proof []byte, now Millis) {
	slot := s.findByID(linkID)
	if slot == nil || slot.State != LinkPending {
		s.log.Debug("accept for unknown/non-pending link", "peer", from)
		return
	}

	slot.peerPublic = peerPublic
	s.deriveKeys(slot)

	expected := Blake2bSum(16, slot.sharedSecret[:])
	if !bytes.Equal(expected, proof) {
		s.log.Warn("link proof verification failed", "peer", from)
		*slot = Link{}
		return
	}

	if s.ForwardSecrecyDefault {
		slot.ratchet = NewRatchetAlice(slot.sharedSecret, slot.peerPublic, s.rng)
		slot.ratchetEnabled = true
	}

	slot.State = LinkActive
	slot.lastActivity = now

	if s.OnEstablished != nil {
		s.OnEstablished(from, slot.ID)
	}
}

// HandleReject tears down a link we requested and the peer declined.
func (s *SecureLink) HandleReject(from Address, linkID [LinkIDSize]byte) {
	slot := s.findByID(linkID)
	if slot == nil {
		return
	}
	id := slot.ID
	*slot = Link{}
	if s.OnClosed != nil {
		s.OnClosed(from, id)
	}
}

// SendData encrypts and ships data over an active link. The caller's
// SendControl callback receives the framed ciphertext for the node to
// wrap in a LINK-type wire packet.
func (s *SecureLink) SendData(linkID [LinkIDSize]byte, data []byte, now Millis) bool {
	slot := s.findByID(linkID)
	if slot == nil || slot.State != LinkActive {
		return false
	}

	seq := slot.txSequence
	slot.txSequence++

	var ct []byte
	var err error
	ratchetUsed := slot.ratchetEnabled

	if slot.ratchetEnabled {
		ct, err = slot.ratchet.Encrypt(data)
	} else {
		nonce := make([]byte, 24)
		putUint32LE(nonce, seq)
		nonce[4] = 0x01
		ct, err = AEADSealXChaCha(slot.txKey, nonce, seqAAD(seq, ratchetUsed), data)
	}
	if err != nil {
		s.log.Warn("link encrypt failed", "peer", slot.Peer)
		return false
	}

	flags := byte(0)
	if ratchetUsed {
		flags = 0x80
	}
	frame := make([]byte, 0, LinkIDSize+4+2+1+len(ct))
	frame = append(frame, slot.ID[:]...)
	seqBytes := make([]byte, 4)
	putUint32LE(seqBytes, seq)
	frame = append(frame, seqBytes...)
	lenBytes := make([]byte, 2)
	putUint16LE(lenBytes, uint16(len(ct)))
	frame = append(frame, lenBytes...)
	frame = append(frame, flags)
	frame = append(frame, ct...)

	if s.SendControl != nil {
		s.SendControl(slot.Peer, LinkMsgData, frame)
	}
	slot.PacketsOut++
	slot.BytesOut += uint32(len(data))
	slot.lastActivity = now
	return true
}

func seqAAD(seq uint32, ratchet bool) []byte {
	b := make([]byte, 5)
	putUint32LE(b, seq)
	if ratchet {
		b[4] = 1
	}
	return b
}

func putUint32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putUint16LE(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

// HandleData decrypts an incoming LINK_DATA frame and delivers it via
// OnData. Enforces the non-ratchet replay check of spec §4.7/§8: a
// sequence number no greater than the last one accepted is rejected.
func (s *SecureLink) HandleData(from Address, linkID [LinkIDSize]byte, seq uint32, flags byte, ciphertext []byte, now Millis) {
	slot := s.findByID(linkID)
	if slot == nil || slot.State != LinkActive {
		return
	}

	ratchetFlag := flags&0x80 != 0

	var plaintext []byte
	var err error

	if ratchetFlag && slot.ratchetEnabled {
		plaintext, err = slot.ratchet.Decrypt(ciphertext)
		if err != nil {
			s.log.Warn("ratchet decrypt failed", "peer", from)
			return
		}
	} else {
		if slot.hasReceived && seq <= slot.rxSequence {
			s.log.Debug("duplicate or old link packet", "peer", from, "seq", seq)
			return
		}
		nonce := make([]byte, 24)
		putUint32LE(nonce, seq)
		nonce[4] = 0x01
		plaintext, err = AEADOpenXChaCha(slot.rxKey, nonce, seqAAD(seq, ratchetFlag), ciphertext)
		if err != nil {
			s.log.Warn("link decrypt failed", "peer", from)
			return
		}
	}

	slot.rxSequence = seq
	slot.hasReceived = true
	slot.lastActivity = now
	slot.PacketsIn++
	slot.BytesIn += uint32(len(plaintext))

	if s.OnData != nil {
		s.OnData(from, slot.ID, plaintext)
	}
}

// HandleKeepalive refreshes a link's liveness deadline.
func (s *SecureLink) HandleKeepalive(linkID [LinkIDSize]byte, now Millis) {
	if slot := s.findByID(linkID); slot != nil {
		slot.lastActivity = now
	}
}

// HandleClose tears down a link the peer closed.
func (s *SecureLink) HandleClose(from Address, linkID [LinkIDSize]byte) {
	slot := s.findByID(linkID)
	if slot == nil {
		return
	}
	s.wipe(slot)
	if s.OnClosed != nil {
		s.OnClosed(from, linkID)
	}
	*slot = Link{}
}

// CloseLink tears down our own end of a link, notifying the peer.
func (s *SecureLink) CloseLink(peer Address) {
	slot := s.findByPeer(peer)
	if slot == nil {
		return
	}
	if slot.State == LinkActive && s.SendControl != nil {
		s.SendControl(peer, LinkMsgClose, slot.ID[:])
	}
	id := slot.ID
	s.wipe(slot)
	if s.OnClosed != nil {
		s.OnClosed(peer, id)
	}
	*slot = Link{}
}

func (s *SecureLink) wipe(l *Link) {
	Wipe(l.localPrivate[:])
	Wipe(l.sharedSecret[:])
	Wipe(l.txKey[:])
	Wipe(l.rxKey[:])
	if l.ratchet != nil {
		l.ratchet.Wipe()
	}
}

// HasActiveLink reports whether peer has a live secure link.
func (s *SecureLink) HasActiveLink(peer Address) bool {
	slot := s.findByPeer(peer)
	return slot != nil && slot.State == LinkActive
}

// HasForwardSecrecy reports whether the link to peer is ratchet-enabled.
func (s *SecureLink) HasForwardSecrecy(peer Address) bool {
	slot := s.findByPeer(peer)
	return slot != nil && slot.ratchetEnabled
}

// ActiveCount reports how many links are currently active.
func (s *SecureLink) ActiveCount() int {
	n := 0
	for i := range s.links {
		if s.links[i].State == LinkActive {
			n++
		}
	}
	return n
}

// All returns a snapshot of every non-closed link, for status views.
func (s *SecureLink) All() []Link {
	out := make([]Link, 0, len(s.links))
	for _, l := range s.links {
		if l.State != LinkClosed {
			out = append(out, l)
		}
	}
	return out
}

// Tick drives handshake retry/timeout and keepalive transmission
// (spec §4.7), mirroring original_source's checkTimeouts/sendKeepalives.
func (s *SecureLink) Tick(now Millis) {
	for i := range s.links {
		l := &s.links[i]
		switch l.State {
		case LinkPending:
			if uint32(Since(now, l.createdAt)) > LinkHandshakeTimeout {
				l.handshakeRetries++
				if l.handshakeRetries >= LinkMaxHandshakeTry {
					s.log.Warn("link handshake timed out", "peer", l.Peer)
					s.wipe(l)
					if s.OnClosed != nil {
						s.OnClosed(l.Peer, l.ID)
					}
					*l = Link{}
				} else {
					l.createdAt = now
					if s.SendControl != nil {
						payload := make([]byte, 0, LinkIDSize+32)
						payload = append(payload, l.ID[:]...)
						payload = append(payload, l.localPublic[:]...)
						s.SendControl(l.Peer, LinkMsgRequest, payload)
					}
				}
			}

		case LinkActive:
			if uint32(Since(now, l.lastActivity)) > LinkIdleTimeout {
				s.log.Debug("link idle timeout", "peer", l.Peer)
				peer, id := l.Peer, l.ID
				s.wipe(l)
				*l = Link{}
				if s.OnClosed != nil {
					s.OnClosed(peer, id)
				}
				continue
			}
			if uint32(Since(now, l.lastKeepaliveAt)) > LinkKeepaliveEvery {
				if s.SendControl != nil {
					s.SendControl(l.Peer, LinkMsgKeepalive, l.ID[:])
				}
				l.lastKeepaliveAt = now
			}
		}
	}
}
