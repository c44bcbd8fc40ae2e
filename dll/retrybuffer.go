package dll

import "errors"

// ErrBufferFull is returned when the retry buffer cannot accept
// another TLP until the peer acknowledges earlier ones.
var ErrBufferFull = errors.New("dll: retry buffer full")

// RetryEntry is one buffered TLP awaiting acknowledgment. Packet is
// the full wire form, ready to retransmit as framed.
type RetryEntry struct {
	Seq    uint16
	Packet []byte
}

// RetryBuffer holds transmitted TLPs in sequence order until they are
// acknowledged. It is a fixed-capacity ring: entries enter at the
// tail on transmission and leave from the head on acknowledgment.
type RetryBuffer struct {
	entries []RetryEntry
	head    int
	count   int
}

// NewRetryBuffer returns a retry buffer holding up to depth TLPs.
func NewRetryBuffer(depth int) *RetryBuffer {
	return &RetryBuffer{entries: make([]RetryEntry, depth)}
}

// Len returns the number of buffered TLPs.
func (b *RetryBuffer) Len() int {
	return b.count
}

// IsEmpty reports whether no TLPs are buffered.
func (b *RetryBuffer) IsEmpty() bool {
	return b.count == 0
}

// IsFull reports whether the buffer cannot accept another TLP.
func (b *RetryBuffer) IsFull() bool {
	return b.count == len(b.entries)
}

// Push buffers a transmitted TLP. Callers push in sequence order.
func (b *RetryBuffer) Push(seq uint16, packet []byte) error {
	if b.IsFull() {
		return ErrBufferFull
	}
	b.entries[(b.head+b.count)%len(b.entries)] = RetryEntry{Seq: seq, Packet: packet}
	b.count++
	return nil
}

// ReleaseThrough drops every buffered TLP with sequence number up to
// and including seq, cumulatively.
func (b *RetryBuffer) ReleaseThrough(seq uint16) {
	seq %= SeqModulo
	for b.count > 0 {
		e := &b.entries[b.head]
		if (seq+SeqModulo-e.Seq)%SeqModulo >= seqWindow {
			break
		}
		*e = RetryEntry{}
		b.head = (b.head + 1) % len(b.entries)
		b.count--
	}
}

// ReplayFrom returns the buffered TLPs that follow seq, oldest first.
// The returned entries alias the buffer and must be retransmitted
// before further acknowledgments release them.
func (b *RetryBuffer) ReplayFrom(seq uint16) []RetryEntry {
	seq %= SeqModulo
	replay := make([]RetryEntry, 0, b.count)
	for i := range b.count {
		e := b.entries[(b.head+i)%len(b.entries)]
		if (seq+SeqModulo-e.Seq)%SeqModulo < seqWindow {
			// Covered by the acknowledgment carried in the NAK.
			continue
		}
		replay = append(replay, e)
	}
	return replay
}
