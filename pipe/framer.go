package pipe

import "errors"

// DefaultSkpInterval is the default number of symbols between SKP
// ordered sets.
const DefaultSkpInterval = 1180

// DefaultFramerQueueCapacity is the default number of packets a
// framer queues ahead of transmission.
const DefaultFramerQueueCapacity = 16

// ErrQueueFull is returned by [Framer.Queue] when the packet queue is
// at capacity. The DLL's retry buffer is the real backpressure
// boundary; a correctly sized framer queue never fills.
var ErrQueueFull = errors.New("pipe: framer packet queue full")

type framerState uint8

const (
	frIdle framerState = iota
	frData
	frEnd
	frSet
)

// Framer serializes packets into the TX symbol stream, one symbol per
// tick. A packet is framed as STP (TLP) or SDP (DLLP), its payload
// bytes, and END. While idle, the framer emits the SKP ordered set
// whenever the configured interval has elapsed, or repeats the
// requested training set while one is asserted, or emits idle data
// symbols otherwise. SKP and training sets are never inserted inside
// a packet.
type Framer struct {
	skpInterval int
	ts          TS
	training    TSKind

	queue    []queuedPacket
	queueCap int

	state    framerState
	cur      queuedPacket
	idx      int
	set      [TSLength]Symbol
	setLen   int
	setIdx   int
	sinceSkp int
}

type queuedPacket struct {
	kind PacketKind
	b    []byte
}

// NewFramer returns a framer emitting SKP sets every skpInterval
// symbols (0 selects the default) and deriving training sets from ts.
func NewFramer(skpInterval int, ts TS) *Framer {
	if skpInterval == 0 {
		skpInterval = DefaultSkpInterval
	}
	return &Framer{
		skpInterval: skpInterval,
		ts:          ts,
		queueCap:    DefaultFramerQueueCapacity,
	}
}

// Reset drops all queued and in-flight packets and restarts the SKP
// interval. The training request is preserved.
func (f *Framer) Reset() {
	f.queue = nil
	f.state = frIdle
	f.cur = queuedPacket{}
	f.sinceSkp = 0
}

// SetTraining asserts or clears the training set request. While the
// request is asserted, the framer repeats the requested set whenever
// it is not mid-packet.
func (f *Framer) SetTraining(kind TSKind) {
	f.training = kind
}

// Queue enqueues a packet for transmission. The kind is derived from
// the first byte: top two bits clear means DLLP, anything else TLP.
func (f *Framer) Queue(b []byte) error {
	if len(f.queue) >= f.queueCap {
		return ErrQueueFull
	}
	kind := PacketTLP
	if len(b) > 0 {
		kind = Classify(b[0])
	}
	f.queue = append(f.queue, queuedPacket{kind: kind, b: b})
	return nil
}

// Free returns the number of packets that can still be queued.
func (f *Framer) Free() int {
	return f.queueCap - len(f.queue)
}

// Idle reports whether the framer has nothing queued or in flight.
func (f *Framer) Idle() bool {
	return f.state == frIdle && len(f.queue) == 0
}

// Next produces the TX symbol for the current tick.
func (f *Framer) Next() Symbol {
	s := f.next()
	f.sinceSkp++
	return s
}

func (f *Framer) next() Symbol {
	switch f.state {
	case frSet:
		s := f.set[f.setIdx]
		f.setIdx++
		if f.setIdx == f.setLen {
			f.state = frIdle
		}
		return s
	case frData:
		s := D(f.cur.b[f.idx])
		f.idx++
		if f.idx == len(f.cur.b) {
			f.state = frEnd
		}
		return s
	case frEnd:
		f.state = frIdle
		f.cur = queuedPacket{}
		return K(KEnd)
	}

	// Idle: SKP insertion is due first, then training, then packets.
	if f.sinceSkp >= f.skpInterval {
		f.sinceSkp = 0
		skp := SkpSet()
		copy(f.set[:], skp[:])
		f.setLen = SkpSetLength
		f.setIdx = 1
		f.state = frSet
		return skp[0]
	}
	if f.training != TSNone {
		f.set = f.ts.Encode(f.training)
		f.setLen = TSLength
		f.setIdx = 1
		f.state = frSet
		return f.set[0]
	}
	if len(f.queue) > 0 {
		f.cur = f.queue[0]
		f.queue[0] = queuedPacket{}
		f.queue = f.queue[1:]
		f.idx = 0
		if len(f.cur.b) == 0 {
			f.state = frEnd
		} else {
			f.state = frData
		}
		if f.cur.kind == PacketDLLP {
			return K(KSdp)
		}
		return K(KStp)
	}
	return D(0)
}
