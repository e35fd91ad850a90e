package core

import "encoding/binary"

/*------------------------------------------------------------------
 *
 * Purpose:	Bit-exact 21-byte header codec for over-the-air frames,
 *		per spec §3/§4.1.
 *
 * Description:	Fields are little-endian and packed with no padding,
 *		exactly as laid out in the wire format table. Encode and
 *		Decode work on caller-provided buffers and never
 *		allocate beyond the slice Decode must copy the payload
 *		into.
 *
 *------------------------------------------------------------------*/

// PacketType is the 4-bit frame type carried in the header.
type PacketType uint8

const (
	TypeData PacketType = iota + 1
	TypeAck
	TypeRouteReq
	TypeRouteRep
	TypeRouteErr
	TypeHello
	TypeTelemetry
	TypeBeacon
	TypeTimeSync
	// TypeLink, TypeGroup, TypeDTN, TypeEmergency and TypeGeo are
	// category types; for LINK, DTN, EMERGENCY and GEO the leading
	// byte of the payload carries the sub-type (LinkControlType, or
	// node.go's DTN, emergency or geo message type; GROUP payloads
	// carry no sub-type byte) so the 4-bit wire type
	// field never has to grow past these five per-component slots.
	TypeLink
	TypeGroup
	TypeDTN
	TypeEmergency
	TypeGeo
	typeMax // sentinel, keep last
)

// Flags are the 8-bit header control flags.
type Flags uint8

const (
	FlagAckReq Flags = 1 << iota
	FlagEncrypted
	FlagBroadcast
	FlagRetrans
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

const (
	// HeaderSize is the fixed on-air header length in bytes: the
	// version/type nibble-pair, ttl, flags, packet_id, source,
	// destination, next_hop, hop_count, seq_number, and
	// payload_length fields of spec §3 pack to 21 bytes, one more
	// than the section's prose figure of "20-byte header" — the
	// field table (and the original firmware's own packed
	// PacketHeader struct, which totals the same 21 bytes) is
	// authoritative here, so HeaderSize follows the table.
	HeaderSize = 21
	// MaxPayload is the largest payload a header can describe.
	MaxPayload = 255
)

// Header is the 21-byte fixed packet header of spec §3, held
// in-memory with natural Go widths but serialized to the exact wire
// widths by Encode/Decode.
type Header struct {
	Version       uint8 // 4 bits on wire
	Type          PacketType // 4 bits on wire
	TTL           uint8
	Flags         Flags
	PacketID      uint16
	Source        Address
	Destination   Address
	NextHop       Address
	HopCount      uint8
	SeqNumber     uint8
	PayloadLength uint16
}

// ProtocolVersion is the only version this implementation speaks.
const ProtocolVersion uint8 = 1

// IsBroadcast reports whether the header targets every node.
func (h *Header) IsBroadcast() bool { return h.Destination.IsBroadcast() }

// NeedsAck reports whether the sender asked for acknowledgment.
func (h *Header) NeedsAck() bool { return h.Flags.Has(FlagAckReq) }

// IsEncrypted reports whether the payload is an encrypted sub-frame.
func (h *Header) IsEncrypted() bool { return h.Flags.Has(FlagEncrypted) }

// Encode serializes header and payload into buf, which must be at
// least HeaderSize+len(payload) bytes. It panics (programmer error,
// spec §7) if payload_length does not match len(payload) — this is a
// locally-assembled frame and such a mismatch can only be a bug.
func Encode(buf []byte, h *Header, payload []byte) int {
	if int(h.PayloadLength) != len(payload) {
		panic("core: header.PayloadLength does not match len(payload)")
	}
	if len(payload) > MaxPayload {
		panic("core: payload exceeds MaxPayload")
	}

	buf[0] = (h.Version & 0x0F) | (uint8(h.Type)<<4)&0xF0
	buf[1] = h.TTL
	buf[2] = uint8(h.Flags)
	binary.LittleEndian.PutUint16(buf[3:5], h.PacketID)
	binary.LittleEndian.PutUint32(buf[5:9], uint32(h.Source))
	binary.LittleEndian.PutUint32(buf[9:13], uint32(h.Destination))
	binary.LittleEndian.PutUint32(buf[13:17], uint32(h.NextHop))
	buf[17] = h.HopCount
	buf[18] = h.SeqNumber
	binary.LittleEndian.PutUint16(buf[19:21], h.PayloadLength)

	n := copy(buf[HeaderSize:], payload)
	return HeaderSize + n
}

// Decode parses a header and payload slice out of data. The returned
// payload aliases data; callers that need to retain it across a
// buffer reuse must copy it themselves.
func Decode(data []byte) (Header, []byte, error) {
	var h Header
	if len(data) < HeaderSize {
		return h, nil, newErr(KindInput, ErrTooShort)
	}

	h.Version = data[0] & 0x0F
	h.Type = PacketType((data[0] >> 4) & 0x0F)
	h.TTL = data[1]
	h.Flags = Flags(data[2])
	h.PacketID = binary.LittleEndian.Uint16(data[3:5])
	h.Source = Address(binary.LittleEndian.Uint32(data[5:9]))
	h.Destination = Address(binary.LittleEndian.Uint32(data[9:13]))
	h.NextHop = Address(binary.LittleEndian.Uint32(data[13:17]))
	h.HopCount = data[17]
	h.SeqNumber = data[18]
	h.PayloadLength = binary.LittleEndian.Uint16(data[19:21])

	if h.Version != ProtocolVersion {
		return h, nil, newErr(KindInput, ErrUnsupportedVersion)
	}
	if h.Type == 0 || h.Type >= typeMax {
		return h, nil, newErr(KindInput, ErrUnknownType)
	}
	if h.PayloadLength > MaxPayload {
		return h, nil, newErr(KindInput, ErrPayloadLengthMismatch)
	}
	if len(data) < HeaderSize+int(h.PayloadLength) {
		return h, nil, newErr(KindInput, ErrPayloadLengthMismatch)
	}

	payload := data[HeaderSize : HeaderSize+int(h.PayloadLength)]
	return h, payload, nil
}

// EncodedLen returns the total on-air size for a header with the
// given payload length.
func EncodedLen(payloadLen int) int { return HeaderSize + payloadLen }
