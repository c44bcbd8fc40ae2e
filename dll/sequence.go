// Package dll implements the data link layer: sequence numbering and
// LCRC protection of TLPs, ACK/NAK-driven retransmission from a retry
// buffer, and flow control credit accounting, all exchanged over DLLPs.
package dll

// Sequence numbers occupy 12 bits and wrap modulo 4096. Distances are
// computed modulo 4096; a received number less than half the space
// behind the expected one is a duplicate, anything else out of order.
const (
	SeqModulo = 4096
	SeqMax    = SeqModulo - 1

	seqWindow = SeqModulo / 2
)

// RxVerdict classifies a received TLP sequence number against the
// expected one.
type RxVerdict uint8

const (
	// RxInOrder is the expected number: accept and deliver.
	RxInOrder RxVerdict = iota

	// RxDuplicate is a number already accepted: re-acknowledge
	// without delivering.
	RxDuplicate

	// RxOutOfOrder is a number ahead of the expected one: reject and
	// request retransmission.
	RxOutOfOrder
)

// String implements [fmt.Stringer.String].
func (v RxVerdict) String() string {
	switch v {
	case RxInOrder:
		return "in-order"
	case RxDuplicate:
		return "duplicate"
	case RxOutOfOrder:
		return "out-of-order"
	default:
		return "Unknown"
	}
}

// SequenceSpace tracks both directions of the 12-bit sequence space:
// the next number to assign on TX, the oldest unacknowledged number,
// and the next number expected on RX.
type SequenceSpace struct {
	nextTx uint16
	ackTx  uint16
	expRx  uint16
}

// NextTX returns the number the next transmitted TLP will carry.
func (s *SequenceSpace) NextTX() uint16 {
	return s.nextTx
}

// AllocateTX assigns and returns the next TX sequence number.
func (s *SequenceSpace) AllocateTX() uint16 {
	seq := s.nextTx
	s.nextTx = (s.nextTx + 1) % SeqModulo
	return seq
}

// HasOutstanding reports whether any transmitted TLP is still
// unacknowledged.
func (s *SequenceSpace) HasOutstanding() bool {
	return s.ackTx != s.nextTx
}

// OnAck advances the acknowledged edge past seq. An acknowledgment
// covers every outstanding number up to and including seq; one that
// names no outstanding number is stale and ignored.
func (s *SequenceSpace) OnAck(seq uint16) {
	seq %= SeqModulo
	if !s.HasOutstanding() {
		return
	}
	outstanding := (s.nextTx + SeqModulo - s.ackTx) % SeqModulo
	dist := (seq + SeqModulo - s.ackTx) % SeqModulo
	if dist >= outstanding {
		return
	}
	s.ackTx = (seq + 1) % SeqModulo
}

// OnRx classifies a received sequence number and, when it is the
// expected one, advances the expectation.
func (s *SequenceSpace) OnRx(seq uint16) RxVerdict {
	seq %= SeqModulo
	if seq == s.expRx {
		s.expRx = (s.expRx + 1) % SeqModulo
		return RxInOrder
	}
	if (s.expRx+SeqModulo-seq-1)%SeqModulo < seqWindow {
		return RxDuplicate
	}
	return RxOutOfOrder
}

// LastGoodRx returns the most recent in-order received sequence
// number, the number a NAK reports.
func (s *SequenceSpace) LastGoodRx() uint16 {
	return (s.expRx + SeqMax) % SeqModulo
}
