package dll

import (
	"github.com/database64128/pcielink-go/dllp"
	"github.com/database64128/pcielink-go/pipe"
	"go.uber.org/zap"
)

// OnRxPacket consumes one packet handed up by the deframer.
func (e *Engine) OnRxPacket(kind pipe.PacketKind, packet []byte) {
	switch kind {
	case pipe.PacketTLP:
		e.onRxTLP(packet)
	case pipe.PacketDLLP:
		e.onRxDLLP(packet)
	}
}

func (e *Engine) onRxTLP(packet []byte) {
	seq, payload, ok := parseTLP(packet)
	if !ok {
		e.logger.Debug("Dropping TLP with bad LCRC or length",
			zap.Int("packetLength", len(packet)),
		)
		e.scheduleNak()
		return
	}

	switch e.seq.OnRx(seq) {
	case RxInOrder:
		e.nakScheduled = false
		e.nakHeldBack = 0
		e.scheduleAck(seq)
		e.accountFC(len(payload))
		if e.deliver != nil {
			e.deliver(payload)
		}
	case RxDuplicate:
		// Already delivered once: acknowledge again, do not deliver.
		e.scheduleAck(seq)
	case RxOutOfOrder:
		e.logger.Debug("Received out-of-order TLP",
			zap.Uint16("seq", seq),
			zap.Uint16("lastGoodRx", e.seq.LastGoodRx()),
		)
		e.scheduleNak()
	}
}

func (e *Engine) onRxDLLP(packet []byte) {
	d, err := dllp.Decode(packet)
	if err != nil {
		e.logger.Debug("Dropping malformed DLLP", zap.Error(err))
		return
	}

	switch d.Type {
	case dllp.TypeAck:
		e.seq.OnAck(d.Seq)
		e.retry.ReleaseThrough(d.Seq)
		e.replays = 0
	case dllp.TypeNak:
		e.onNak(d.Seq)
	case dllp.TypeUpdateFC:
		e.logger.Debug("Received flow control update",
			zap.Stringer("fcKind", d.FCKind),
			zap.Uint8("hdrFC", d.HdrFC),
			zap.Uint16("dataFC", d.DataFC),
		)
	case dllp.TypePM:
		e.logger.Debug("Received power management DLLP")
	}
}

// onNak acknowledges through seq and replays everything after it. The
// replay counter resets on forward progress; hitting the limit
// declares the link failed.
func (e *Engine) onNak(seq uint16) {
	e.replays++
	if e.replays > e.maxRetries {
		e.logger.Warn("Retry limit exhausted, declaring link failed",
			zap.Uint16("seq", seq),
			zap.Int("maxRetries", e.maxRetries),
		)
		e.fatal = true
		return
	}

	e.seq.OnAck(seq)
	e.retry.ReleaseThrough(seq)

	entries := e.retry.ReplayFrom(seq)
	for _, entry := range entries {
		e.replayQueue = append(e.replayQueue, entry.Packet)
	}
	e.logger.Debug("Replaying after NAK",
		zap.Uint16("seq", seq),
		zap.Int("replayCount", len(entries)),
		zap.Int("replays", e.replays),
	)
}

func (e *Engine) scheduleAck(seq uint16) {
	e.queueDLLP(dllp.Ack(seq))
}

// nakResendInterval is the number of bad or out-of-order receptions
// tolerated after a NAK before another one is sent. Each TLP already
// in flight behind a corrupted one arrives out of order, and a NAK
// per arrival would burn through the peer's retry budget on a single
// wire error.
const nakResendInterval = 8

func (e *Engine) scheduleNak() {
	if e.nakScheduled && e.nakHeldBack < nakResendInterval {
		e.nakHeldBack++
		return
	}
	e.nakScheduled = true
	e.nakHeldBack = 0
	e.queueDLLP(dllp.Nak(e.seq.LastGoodRx()))
}

func (e *Engine) queueDLLP(d dllp.DLLP) {
	e.dllpQueue = append(e.dllpQueue, d.AppendEncode(nil))
}

// accountFC credits one delivered TLP: one header credit and one data
// credit per started 16-byte block, and emits an UpdateFC DLLP every
// fcUpdateInterval deliveries.
func (e *Engine) accountFC(payloadLen int) {
	e.fcHdr++
	e.fcData = (e.fcData + uint16((payloadLen+15)/16)) & 0x0FFF
	e.sinceFCSent++
	if e.sinceFCSent >= e.fcUpdateInterval {
		e.sinceFCSent = 0
		e.queueDLLP(dllp.UpdateFC(dllp.FCPosted, e.fcHdr, e.fcData))
	}
}
