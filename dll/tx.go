package dll

import (
	"errors"

	"github.com/database64128/pcielink-go/lcrc"
	"github.com/database64128/pcielink-go/slicehelper"
)

// TLP wire form: a 2-byte header carrying the 12-bit sequence number,
// the payload, and the 4-byte big-endian LCRC. The header's first
// byte sets bit 6 so a TLP's first byte never has its top two bits
// clear, keeping it distinguishable from a DLLP.
const (
	tlpSeqMarker = 0x40
	tlpOverhead  = 6
)

// ErrPayloadTooLarge is returned by [Engine.Submit] when a payload
// exceeds the configured maximum payload size.
var ErrPayloadTooLarge = errors.New("dll: payload exceeds maximum payload size")

// ErrLinkDown is returned by [Engine.Submit] after the retry limit
// has been exhausted and the link declared failed.
var ErrLinkDown = errors.New("dll: link down")

func appendTLP(dst []byte, seq uint16, payload []byte) []byte {
	dst, b := slicehelper.Extend(dst, tlpOverhead+len(payload))
	b[0] = tlpSeqMarker | byte(seq>>8&0x0F)
	b[1] = byte(seq)
	copy(b[2:], payload)
	crc := lcrc.Sum32(seq, payload)
	b[len(b)-4] = byte(crc >> 24)
	b[len(b)-3] = byte(crc >> 16)
	b[len(b)-2] = byte(crc >> 8)
	b[len(b)-1] = byte(crc)
	return dst
}

// parseTLP splits a received TLP into sequence number and payload and
// verifies the LCRC. ok is false when the packet is too short or the
// LCRC does not match.
func parseTLP(b []byte) (seq uint16, payload []byte, ok bool) {
	if len(b) < tlpOverhead {
		return 0, nil, false
	}
	seq = uint16(b[0]&0x0F)<<8 | uint16(b[1])
	payload = b[2 : len(b)-4]
	crc := uint32(b[len(b)-4])<<24 |
		uint32(b[len(b)-3])<<16 |
		uint32(b[len(b)-2])<<8 |
		uint32(b[len(b)-1])
	if !lcrc.Check32(seq, payload, crc) {
		return 0, nil, false
	}
	return seq, payload, true
}

// Submit accepts a payload for reliable transmission: it stamps the
// next sequence number, appends the LCRC, and buffers the wire form
// for retransmission until acknowledged. [ErrBufferFull] means the
// peer has not acknowledged enough earlier TLPs; the caller retries
// on a later tick.
func (e *Engine) Submit(payload []byte) error {
	if e.fatal {
		return ErrLinkDown
	}
	if len(payload) > e.maxPayloadSize {
		return ErrPayloadTooLarge
	}
	if e.retry.IsFull() {
		return ErrBufferFull
	}
	seq := e.seq.AllocateTX()
	pkt := appendTLP(nil, seq, payload)
	if err := e.retry.Push(seq, pkt); err != nil {
		// Unreachable: fullness is checked before allocation.
		return err
	}
	e.txQueue = append(e.txQueue, pkt)
	return nil
}

// NextTx returns the next packet to hand to the framer, or nil when
// nothing is pending. DLLPs go first, then retransmissions, then new
// TLPs.
func (e *Engine) NextTx() []byte {
	if len(e.dllpQueue) > 0 {
		pkt := e.dllpQueue[0]
		e.dllpQueue[0] = nil
		e.dllpQueue = e.dllpQueue[1:]
		return pkt
	}
	if len(e.replayQueue) > 0 {
		pkt := e.replayQueue[0]
		e.replayQueue[0] = nil
		e.replayQueue = e.replayQueue[1:]
		return pkt
	}
	if len(e.txQueue) > 0 {
		pkt := e.txQueue[0]
		e.txQueue[0] = nil
		e.txQueue = e.txQueue[1:]
		return pkt
	}
	return nil
}

// HasPendingTx reports whether any packet is waiting for the framer.
func (e *Engine) HasPendingTx() bool {
	return len(e.dllpQueue) > 0 || len(e.replayQueue) > 0 || len(e.txQueue) > 0
}
