// Package lcrc implements the two CRC algorithms of the PCIe Data
// Link Layer: the 32-bit LCRC protecting TLPs and the 16-bit CRC
// protecting DLLPs.
//
// LCRC-32 is the standard reflected CRC-32 (polynomial 0x04C11DB7,
// initial value 0xFFFFFFFF, final XOR 0xFFFFFFFF), applied to the
// 12-bit sequence number followed by the payload.
//
// The DLLP CRC-16 uses polynomial 0x100B with initial value 0xFFFF
// and final XOR 0xFFFF, applied to the first 6 bytes of a DLLP.
package lcrc

import "hash/crc32"

const (
	// DLLPDataLength is the number of DLLP bytes covered by the CRC-16.
	DLLPDataLength = 6

	crc16Polynomial = 0x100B
	crc16Initial    = 0xFFFF
)

// Sum32 returns the LCRC of a TLP payload tagged with the given
// 12-bit sequence number. The sequence number is folded in as two
// big-endian bytes with the upper nibble reserved as zero.
func Sum32(seq uint16, payload []byte) uint32 {
	seqb := [2]byte{byte(seq >> 8 & 0x0F), byte(seq)}
	crc := crc32.Update(0, crc32.IEEETable, seqb[:])
	return crc32.Update(crc, crc32.IEEETable, payload)
}

// Check32 reports whether received is the correct LCRC for the given
// sequence number and payload.
func Check32(seq uint16, payload []byte, received uint32) bool {
	return Sum32(seq, payload) == received
}

// Sum16 returns the DLLP CRC-16 of data, which must be exactly 6
// bytes (the DLLP type and payload fields).
func Sum16(data []byte) uint16 {
	if len(data) != DLLPDataLength {
		panic("lcrc: DLLP data must be 6 bytes")
	}
	crc := uint16(crc16Initial)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for range 8 {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ crc16Polynomial
			} else {
				crc <<= 1
			}
		}
	}
	return ^crc
}
