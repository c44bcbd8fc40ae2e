package pipe

// DefaultMaxPacketLen is the default cap on an accumulating RX
// packet. A run of data symbols longer than this without an END
// cannot be a well-formed packet and is dropped.
const DefaultMaxPacketLen = 4096

type deframerState uint8

const (
	dfIdle deframerState = iota
	dfData
	dfCom
	dfSkp
	dfTS
)

// RxEvent reports what one pushed symbol completed: at most one
// packet, and/or ordered-set detection flags for the LTSSM.
type RxEvent struct {
	// Packet is a completed packet, nil if none completed this tick.
	Packet []byte

	// Kind tags Packet; valid only when Packet is non-nil.
	Kind PacketKind

	// TS1Detected and TS2Detected report a fully received training
	// set. TS carries its decoded fields.
	TS1Detected bool
	TS2Detected bool
	TS          TS

	// SkpDetected reports a fully received SKP ordered set.
	SkpDetected bool
}

// Deframer reassembles packets and recognizes ordered sets in the RX
// symbol stream. SKP sets are consumed silently, training sets are
// reported via detection flags without being forwarded as packets,
// and unrecognized control symbols are ignored. A START symbol
// received mid-packet aborts the packet in progress and begins the
// new one; EDB aborts without output.
type Deframer struct {
	maxPacketLen int

	state        deframerState
	kind         PacketKind
	buf          []byte
	skpRemaining int
	tsRaw        [TSLength]byte
	tsIdx        int
}

// NewDeframer returns a deframer with the given packet length cap
// (0 selects the default).
func NewDeframer(maxPacketLen int) *Deframer {
	if maxPacketLen == 0 {
		maxPacketLen = DefaultMaxPacketLen
	}
	return &Deframer{maxPacketLen: maxPacketLen}
}

// Reset drops any partially accumulated packet or ordered set.
func (d *Deframer) Reset() {
	d.state = dfIdle
	d.buf = nil
}

// Push consumes one RX symbol and reports anything it completed.
func (d *Deframer) Push(s Symbol) (ev RxEvent) {
	d.push(s, &ev)
	return ev
}

func (d *Deframer) push(s Symbol, ev *RxEvent) {
	switch d.state {
	case dfIdle:
		d.pushIdle(s)
	case dfData:
		d.pushData(s, ev)
	case dfCom:
		// The symbol after COM decides the ordered set: SKP starts a
		// SKP set, a data symbol starts a training set candidate.
		switch {
		case s.Ctrl && s.Data == KSkp:
			d.skpRemaining = SkpSetLength - 2
			d.state = dfSkp
		case !s.Ctrl:
			d.tsRaw[0] = KCom
			d.tsRaw[1] = s.Data
			d.tsIdx = 2
			d.state = dfTS
		default:
			d.state = dfIdle
			d.pushIdle(s)
		}
	case dfSkp:
		if s.Ctrl && s.Data == KSkp {
			d.skpRemaining--
			if d.skpRemaining == 0 {
				ev.SkpDetected = true
				d.state = dfIdle
			}
			return
		}
		d.state = dfIdle
		d.pushIdle(s)
	case dfTS:
		if s.Ctrl {
			// A control symbol cannot appear inside a training set;
			// abandon the candidate and reprocess.
			d.state = dfIdle
			d.pushIdle(s)
			return
		}
		d.tsRaw[d.tsIdx] = s.Data
		d.tsIdx++
		if d.tsIdx == TSLength {
			d.state = dfIdle
			d.finishTS(ev)
		}
	}
}

func (d *Deframer) pushIdle(s Symbol) {
	if !s.Ctrl {
		// Idle data symbols carry no packet framing.
		return
	}
	switch s.Data {
	case KStp:
		d.kind = PacketTLP
		d.buf = d.buf[:0]
		d.state = dfData
	case KSdp:
		d.kind = PacketDLLP
		d.buf = d.buf[:0]
		d.state = dfData
	case KCom:
		d.state = dfCom
	}
	// Any other control symbol is ignored; error classification is
	// the physical layer's concern.
}

func (d *Deframer) pushData(s Symbol, ev *RxEvent) {
	if !s.Ctrl {
		if len(d.buf) >= d.maxPacketLen {
			// Oversized with no END in sight: drop the packet.
			d.state = dfIdle
			d.buf = d.buf[:0]
			return
		}
		d.buf = append(d.buf, s.Data)
		return
	}
	switch s.Data {
	case KEnd:
		pkt := make([]byte, len(d.buf))
		copy(pkt, d.buf)
		ev.Packet = pkt
		ev.Kind = d.kind
		d.buf = d.buf[:0]
		d.state = dfIdle
	case KEdb:
		// Nullified packet: discard without output.
		d.buf = d.buf[:0]
		d.state = dfIdle
	case KStp, KSdp:
		// New START before END: abort the packet in progress and
		// begin the new one.
		d.state = dfIdle
		d.pushIdle(s)
	}
	// Other control symbols mid-packet are ignored.
}

func (d *Deframer) finishTS(ev *RxEvent) {
	id := d.tsRaw[tsIdentifierOffset]
	for _, b := range d.tsRaw[tsIdentifierOffset:] {
		if b != id {
			return
		}
	}
	switch id {
	case TS1Identifier:
		ev.TS1Detected = true
	case TS2Identifier:
		ev.TS2Detected = true
	default:
		return
	}
	ev.TS = TS{
		LinkNumber: d.tsRaw[1],
		LaneNumber: d.tsRaw[2],
		NFTS:       d.tsRaw[3],
		Rate:       d.tsRaw[4],
	}
}
