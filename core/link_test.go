package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// deliverLinkControl mimics Node's handleLink dispatch without a Node,
// so link tests can wire two SecureLink instances directly to each other.
func deliverLinkControl(dst *SecureLink, from Address, kind LinkControlType, payload []byte, now Millis) {
	var id [LinkIDSize]byte
	copy(id[:], payload[:LinkIDSize])
	rest := payload[LinkIDSize:]

	switch kind {
	case LinkMsgRequest:
		var pub [32]byte
		copy(pub[:], rest[:32])
		dst.HandleRequest(from, id, pub, now)
	case LinkMsgAccept:
		var pub [32]byte
		copy(pub[:], rest[:32])
		dst.HandleAccept(from, id, pub, rest[32:48], now)
	case LinkMsgReject:
		dst.HandleReject(from, id)
	case LinkMsgData:
		seq := uint32(rest[0]) | uint32(rest[1])<<8 | uint32(rest[2])<<16 | uint32(rest[3])<<24
		ctLen := int(uint16(rest[4]) | uint16(rest[5])<<8)
		flags := rest[6]
		dst.HandleData(from, id, seq, flags, rest[7:7+ctLen], now)
	case LinkMsgKeepalive:
		dst.HandleKeepalive(id, now)
	case LinkMsgClose:
		dst.HandleClose(from, id)
	}
}

func newLinkPair(forwardSecrecy bool) (alice, bob *SecureLink) {
	alice = NewSecureLink(Address(1), 4, newTestRNG(), nil)
	bob = NewSecureLink(Address(2), 4, newTestRNG(), nil)
	alice.ForwardSecrecyDefault = forwardSecrecy
	bob.ForwardSecrecyDefault = forwardSecrecy

	alice.SendControl = func(peer Address, kind LinkControlType, payload []byte) {
		deliverLinkControl(bob, alice.self, kind, payload, Millis(0))
	}
	bob.SendControl = func(peer Address, kind LinkControlType, payload []byte) {
		deliverLinkControl(alice, bob.self, kind, payload, Millis(0))
	}
	return alice, bob
}

// Scenario #1: handshake establishes an active link on both ends.
func Test_SecureLink_handshake_establishes_both_sides(t *testing.T) {
	alice, bob := newLinkPair(true)

	var aliceEstablished, bobEstablished bool
	alice.OnEstablished = func(Address, [LinkIDSize]byte) { aliceEstablished = true }
	bob.OnEstablished = func(Address, [LinkIDSize]byte) { bobEstablished = true }

	_, ok := alice.RequestLink(Address(2), Millis(0))
	require.True(t, ok)

	assert.True(t, aliceEstablished)
	assert.True(t, bobEstablished)
	assert.True(t, alice.HasActiveLink(Address(2)))
	assert.True(t, bob.HasActiveLink(Address(1)))
	assert.True(t, alice.HasForwardSecrecy(Address(2)))
	assert.True(t, bob.HasForwardSecrecy(Address(1)))
}

func Test_SecureLink_RequestLink_reuses_existing_active_link(t *testing.T) {
	alice, _ := newLinkPair(true)
	id1, ok := alice.RequestLink(Address(2), Millis(0))
	require.True(t, ok)

	id2, ok := alice.RequestLink(Address(2), Millis(1000))
	require.True(t, ok)
	assert.Equal(t, id1, id2)
}

func Test_SecureLink_RequestLink_fails_when_table_full(t *testing.T) {
	a := NewSecureLink(Address(1), 1, newTestRNG(), nil)
	_, ok := a.RequestLink(Address(2), Millis(0))
	require.True(t, ok)

	_, ok = a.RequestLink(Address(3), Millis(0))
	assert.False(t, ok)
}

func Test_SecureLink_SendData_round_trip_without_ratchet(t *testing.T) {
	alice, bob := newLinkPair(false)
	id, ok := alice.RequestLink(Address(2), Millis(0))
	require.True(t, ok)

	var delivered []byte
	bob.OnData = func(peer Address, linkID [LinkIDSize]byte, data []byte) { delivered = data }

	require.True(t, alice.SendData(id, []byte("plain nonce-sequence frame"), Millis(0)))
	assert.Equal(t, "plain nonce-sequence frame", string(delivered))
}

func Test_SecureLink_SendData_round_trip_with_ratchet(t *testing.T) {
	alice, bob := newLinkPair(true)
	id, ok := alice.RequestLink(Address(2), Millis(0))
	require.True(t, ok)

	var delivered []byte
	bob.OnData = func(peer Address, linkID [LinkIDSize]byte, data []byte) { delivered = data }

	require.True(t, alice.SendData(id, []byte("ratcheted frame"), Millis(0)))
	assert.Equal(t, "ratcheted frame", string(delivered))
}

// Regression test for the seq==0-as-sentinel replay bug: sequence zero is
// a legitimate first frame, not a marker for "nothing received yet", so a
// replay of it must still be rejected.
func Test_SecureLink_HandleData_rejects_replayed_first_sequence(t *testing.T) {
	alice, bob := newLinkPair(false)
	id, ok := alice.RequestLink(Address(2), Millis(0))
	require.True(t, ok)

	var capturedSeq uint32
	var capturedFlags byte
	var captured []byte
	alice.SendControl = func(peer Address, kind LinkControlType, payload []byte) {
		if kind == LinkMsgData {
			rest := payload[LinkIDSize:]
			capturedSeq = uint32(rest[0]) | uint32(rest[1])<<8 | uint32(rest[2])<<16 | uint32(rest[3])<<24
			ctLen := int(uint16(rest[4]) | uint16(rest[5])<<8)
			capturedFlags = rest[6]
			captured = append([]byte(nil), rest[7:7+ctLen]...)
		}
		deliverLinkControl(bob, alice.self, kind, payload, Millis(0))
	}

	var delivered [][]byte
	bob.OnData = func(peer Address, linkID [LinkIDSize]byte, data []byte) {
		delivered = append(delivered, append([]byte(nil), data...))
	}

	require.True(t, alice.SendData(id, []byte("seq zero"), Millis(0)))
	require.Len(t, delivered, 1)
	require.Equal(t, uint32(0), capturedSeq, "first data frame must carry sequence zero")

	bob.HandleData(Address(1), id, capturedSeq, capturedFlags, captured, Millis(100))
	assert.Len(t, delivered, 1, "replaying sequence zero must not be accepted a second time")
}

func Test_SecureLink_HandleData_rejects_out_of_order_replay(t *testing.T) {
	alice, bob := newLinkPair(false)
	id, ok := alice.RequestLink(Address(2), Millis(0))
	require.True(t, ok)

	var frames [][]byte
	var seqs []uint32
	var flagsSeen []byte
	alice.SendControl = func(peer Address, kind LinkControlType, payload []byte) {
		if kind == LinkMsgData {
			rest := payload[LinkIDSize:]
			seq := uint32(rest[0]) | uint32(rest[1])<<8 | uint32(rest[2])<<16 | uint32(rest[3])<<24
			ctLen := int(uint16(rest[4]) | uint16(rest[5])<<8)
			seqs = append(seqs, seq)
			flagsSeen = append(flagsSeen, rest[6])
			frames = append(frames, append([]byte(nil), rest[7:7+ctLen]...))
		}
		deliverLinkControl(bob, alice.self, kind, payload, Millis(0))
	}

	delivered := 0
	bob.OnData = func(Address, [LinkIDSize]byte, []byte) { delivered++ }

	require.True(t, alice.SendData(id, []byte("first"), Millis(0)))
	require.True(t, alice.SendData(id, []byte("second"), Millis(1)))
	require.Equal(t, 2, delivered)

	// Replay the older of the two frames after the newer one already landed.
	bob.HandleData(Address(1), id, seqs[0], flagsSeen[0], frames[0], Millis(2))
	assert.Equal(t, 2, delivered, "a stale sequence must not be re-accepted once a newer one arrived")
}

func Test_SecureLink_HandleReject_tears_down_pending_link(t *testing.T) {
	alice := NewSecureLink(Address(1), 4, newTestRNG(), nil)
	var closed bool
	alice.OnClosed = func(Address, [LinkIDSize]byte) { closed = true }

	id, ok := alice.RequestLink(Address(2), Millis(0))
	require.True(t, ok)

	alice.HandleReject(Address(2), id)
	assert.True(t, closed)
	assert.False(t, alice.HasActiveLink(Address(2)))
}

func Test_SecureLink_CloseLink_notifies_peer(t *testing.T) {
	alice, bob := newLinkPair(true)
	_, ok := alice.RequestLink(Address(2), Millis(0))
	require.True(t, ok)
	require.True(t, bob.HasActiveLink(Address(1)))

	var bobClosed bool
	bob.OnClosed = func(Address, [LinkIDSize]byte) { bobClosed = true }

	alice.CloseLink(Address(2))
	assert.False(t, alice.HasActiveLink(Address(2)))
	assert.True(t, bobClosed)
	assert.False(t, bob.HasActiveLink(Address(1)))
}

func Test_SecureLink_Tick_expires_stalled_handshake(t *testing.T) {
	alice := NewSecureLink(Address(1), 4, newTestRNG(), nil)
	var closed bool
	alice.OnClosed = func(Address, [LinkIDSize]byte) { closed = true }

	_, ok := alice.RequestLink(Address(2), Millis(0))
	require.True(t, ok)

	retries := 0
	alice.SendControl = func(Address, LinkControlType, []byte) { retries++ }

	now := Millis(0)
	for i := 0; i < LinkMaxHandshakeTry; i++ {
		now = Millis(uint32(now) + LinkHandshakeTimeout + 1)
		alice.Tick(now)
	}

	assert.True(t, closed, "handshake should give up after LinkMaxHandshakeTry retries")
	assert.Equal(t, LinkMaxHandshakeTry-1, retries, "each retry but the last resends the request")
}
