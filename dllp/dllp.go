// Package dllp encodes and decodes Data Link Layer Packets.
//
// DLLPs are fixed 8-byte control messages: a 4-bit type in the upper
// nibble of byte 0, a type-specific payload in bytes 1-5, and a
// big-endian CRC-16 in bytes 6-7. They are stateless value types,
// constructed and immediately serialized. DLLPs are never retried: a
// receiver simply discards any DLLP whose CRC does not match and
// relies on a later ACK/NAK to make progress.
package dllp

import (
	"encoding/binary"
	"errors"

	"github.com/database64128/pcielink-go/lcrc"
	"github.com/database64128/pcielink-go/slicehelper"
)

// Length is the wire size of every DLLP.
const Length = 8

// Type is the 4-bit DLLP type. All defined types keep the top two
// bits of byte 0 clear, which is how the framing layer tells a DLLP
// from a sequence-tagged TLP by its first byte.
type Type uint8

const (
	TypeAck      Type = 0b0000
	TypeNak      Type = 0b0001
	TypePM       Type = 0b0010
	TypeUpdateFC Type = 0b0011
)

// String implements [fmt.Stringer.String].
func (t Type) String() string {
	switch t {
	case TypeAck:
		return "Ack"
	case TypeNak:
		return "Nak"
	case TypePM:
		return "PM"
	case TypeUpdateFC:
		return "UpdateFC"
	default:
		return "Unknown"
	}
}

// FCKind selects the credit class advertised by an UpdateFC DLLP.
type FCKind uint8

const (
	FCPosted FCKind = iota
	FCNonPosted
	FCCompletion
)

// String implements [fmt.Stringer.String].
func (k FCKind) String() string {
	switch k {
	case FCPosted:
		return "P"
	case FCNonPosted:
		return "NP"
	case FCCompletion:
		return "Cpl"
	default:
		return "Unknown"
	}
}

var (
	ErrLength      = errors.New("dllp: not 8 bytes")
	ErrCRCMismatch = errors.New("dllp: CRC-16 mismatch")
	ErrType        = errors.New("dllp: unknown type")
)

// DLLP is a decoded Data Link Layer Packet. Seq is meaningful for
// Ack and Nak, the FC fields for UpdateFC.
type DLLP struct {
	Type   Type
	Seq    uint16 // 12-bit sequence number
	FCKind FCKind
	HdrFC  uint8  // header credits
	DataFC uint16 // 12-bit data credits
}

// Ack returns an ACK DLLP acknowledging every TLP through seq.
func Ack(seq uint16) DLLP {
	return DLLP{Type: TypeAck, Seq: seq & 0x0FFF}
}

// Nak returns a NAK DLLP. Seq is the last correctly received
// sequence number; replay begins at seq+1.
func Nak(seq uint16) DLLP {
	return DLLP{Type: TypeNak, Seq: seq & 0x0FFF}
}

// UpdateFC returns a flow-control update DLLP advertising the given
// cumulative credit counts.
func UpdateFC(kind FCKind, hdrFC uint8, dataFC uint16) DLLP {
	return DLLP{Type: TypeUpdateFC, FCKind: kind, HdrFC: hdrFC, DataFC: dataFC & 0x0FFF}
}

// PM returns a power-management DLLP.
func PM() DLLP {
	return DLLP{Type: TypePM}
}

// AppendEncode appends the 8-byte wire form of d to dst and returns
// the extended slice.
func (d DLLP) AppendEncode(dst []byte) []byte {
	dst, b := slicehelper.Extend(dst, Length)
	b[0] = byte(d.Type) << 4
	b[1], b[2], b[3], b[4], b[5] = 0, 0, 0, 0, 0
	switch d.Type {
	case TypeAck, TypeNak:
		b[1] = byte(d.Seq)
		b[2] = byte(d.Seq >> 8 & 0x0F)
	case TypeUpdateFC:
		b[1] = byte(d.FCKind)
		b[2] = d.HdrFC
		b[3] = byte(d.DataFC)
		b[4] = byte(d.DataFC >> 8 & 0x0F)
	}
	binary.BigEndian.PutUint16(b[6:], lcrc.Sum16(b[:6]))
	return dst
}

// Encode returns the 8-byte wire form of d.
func (d DLLP) Encode() [Length]byte {
	var b [Length]byte
	d.AppendEncode(b[:0])
	return b
}

// Decode parses an 8-byte DLLP, recomputing the CRC-16 over the
// first 6 bytes and comparing it to the trailing 2.
func Decode(b []byte) (DLLP, error) {
	if len(b) != Length {
		return DLLP{}, ErrLength
	}
	if lcrc.Sum16(b[:6]) != binary.BigEndian.Uint16(b[6:]) {
		return DLLP{}, ErrCRCMismatch
	}
	d := DLLP{Type: Type(b[0] >> 4)}
	switch d.Type {
	case TypeAck, TypeNak:
		d.Seq = uint16(b[2]&0x0F)<<8 | uint16(b[1])
	case TypeUpdateFC:
		d.FCKind = FCKind(b[1])
		d.HdrFC = b[2]
		d.DataFC = uint16(b[4]&0x0F)<<8 | uint16(b[3])
	case TypePM:
	default:
		return DLLP{}, ErrType
	}
	return d, nil
}
