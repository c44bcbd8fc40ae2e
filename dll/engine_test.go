package dll

import (
	"bytes"
	"testing"

	"github.com/database64128/pcielink-go/dllp"
	"github.com/database64128/pcielink-go/pipe"
	"go.uber.org/zap"
)

func newTestEngine(t *testing.T, c Config, delivered *[][]byte) *Engine {
	t.Helper()
	e, err := c.NewEngine(zap.NewNop(), func(payload []byte) {
		*delivered = append(*delivered, payload)
	})
	if err != nil {
		t.Fatal(err)
	}
	return e
}

// drainAll pops every pending TX packet.
func drainAll(e *Engine) [][]byte {
	var pkts [][]byte
	for {
		pkt := e.NextTx()
		if pkt == nil {
			return pkts
		}
		pkts = append(pkts, pkt)
	}
}

func TestEngineSubmitProducesValidTLP(t *testing.T) {
	var delivered [][]byte
	e := newTestEngine(t, Config{}, &delivered)

	payload := []byte{0x01, 0x23, 0x45, 0x67, 0x89, 0xAB, 0xCD, 0xEF}
	if err := e.Submit(payload); err != nil {
		t.Fatal(err)
	}
	pkt := e.NextTx()
	if pkt == nil {
		t.Fatal("NextTx() = nil after Submit")
	}
	if got := pipe.Classify(pkt[0]); got != pipe.PacketTLP {
		t.Errorf("Classify(first byte %#02x) = %v, want TLP", pkt[0], got)
	}
	seq, got, ok := parseTLP(pkt)
	if !ok {
		t.Fatal("parseTLP rejected a freshly built TLP")
	}
	if seq != 0 {
		t.Errorf("seq = %d, want 0", seq)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload = %x, want %x", got, payload)
	}
}

func TestEngineDeliveryAndAck(t *testing.T) {
	var deliveredA, deliveredB [][]byte
	a := newTestEngine(t, Config{}, &deliveredA)
	b := newTestEngine(t, Config{}, &deliveredB)

	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	if err := a.Submit(payload); err != nil {
		t.Fatal(err)
	}
	pkt := a.NextTx()
	b.OnRxPacket(pipe.PacketTLP, pkt)

	if len(deliveredB) != 1 || !bytes.Equal(deliveredB[0], payload) {
		t.Fatalf("delivered = %x, want [%x]", deliveredB, payload)
	}

	ackPkt := b.NextTx()
	d, err := dllp.Decode(ackPkt)
	if err != nil {
		t.Fatal(err)
	}
	if d.Type != dllp.TypeAck || d.Seq != 0 {
		t.Errorf("DLLP = %+v, want Ack seq 0", d)
	}

	a.OnRxPacket(pipe.PacketDLLP, ackPkt)
	if !a.retry.IsEmpty() {
		t.Error("retry buffer not released by ACK")
	}
}

func TestEngineDuplicateDeliveredOnce(t *testing.T) {
	var deliveredA, deliveredB [][]byte
	a := newTestEngine(t, Config{}, &deliveredA)
	b := newTestEngine(t, Config{}, &deliveredB)

	if err := a.Submit([]byte{0x11, 0x22}); err != nil {
		t.Fatal(err)
	}
	pkt := a.NextTx()

	b.OnRxPacket(pipe.PacketTLP, pkt)
	b.OnRxPacket(pipe.PacketTLP, pkt)

	if len(deliveredB) != 1 {
		t.Errorf("delivered %d times, want 1", len(deliveredB))
	}

	// Both receptions are acknowledged.
	acks := drainAll(b)
	if len(acks) != 2 {
		t.Fatalf("got %d DLLPs, want 2 ACKs", len(acks))
	}
	for i, pkt := range acks {
		d, err := dllp.Decode(pkt)
		if err != nil {
			t.Fatal(err)
		}
		if d.Type != dllp.TypeAck || d.Seq != 0 {
			t.Errorf("DLLP %d = %+v, want Ack seq 0", i, d)
		}
	}
}

func TestEngineCorruptedTLPNaked(t *testing.T) {
	var deliveredA, deliveredB [][]byte
	a := newTestEngine(t, Config{}, &deliveredA)
	b := newTestEngine(t, Config{}, &deliveredB)

	if err := a.Submit([]byte{0x33, 0x44}); err != nil {
		t.Fatal(err)
	}
	pkt := a.NextTx()
	corrupted := make([]byte, len(pkt))
	copy(corrupted, pkt)
	corrupted[3] ^= 0x01

	b.OnRxPacket(pipe.PacketTLP, corrupted)
	if len(deliveredB) != 0 {
		t.Errorf("corrupted TLP delivered %d times, want 0", len(deliveredB))
	}

	d, err := dllp.Decode(b.NextTx())
	if err != nil {
		t.Fatal(err)
	}
	if d.Type != dllp.TypeNak {
		t.Fatalf("DLLP type = %v, want Nak", d.Type)
	}
	if want := uint16(SeqMax); d.Seq != want {
		t.Errorf("NAK seq = %d, want %d", d.Seq, want)
	}
}

func TestEngineNakThrottled(t *testing.T) {
	var deliveredA, deliveredB [][]byte
	a := newTestEngine(t, Config{}, &deliveredA)
	b := newTestEngine(t, Config{}, &deliveredB)

	// TLPs 0..3 in flight; 0 is corrupted, 1..3 arrive out of order.
	var pkts [][]byte
	for i := range 4 {
		if err := a.Submit([]byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
		pkts = append(pkts, a.NextTx())
	}
	corrupted := make([]byte, len(pkts[0]))
	copy(corrupted, pkts[0])
	corrupted[2] ^= 0x80
	b.OnRxPacket(pipe.PacketTLP, corrupted)
	for _, pkt := range pkts[1:] {
		b.OnRxPacket(pipe.PacketTLP, pkt)
	}

	var naks int
	for _, pkt := range drainAll(b) {
		d, err := dllp.Decode(pkt)
		if err != nil {
			t.Fatal(err)
		}
		if d.Type == dllp.TypeNak {
			naks++
		}
	}
	if naks != 1 {
		t.Errorf("got %d NAKs for one wire error, want 1", naks)
	}

	// The replayed in-order TLP clears the throttle.
	b.OnRxPacket(pipe.PacketTLP, pkts[0])
	if len(deliveredB) != 1 {
		t.Fatalf("delivered %d payloads, want 1", len(deliveredB))
	}
	b.OnRxPacket(pipe.PacketTLP, pkts[2])
	if got := len(drainAll(b)); got != 2 {
		t.Errorf("got %d DLLPs after replay, want ACK and fresh NAK", got)
	}
}

func TestEngineNakTriggersReplay(t *testing.T) {
	var delivered [][]byte
	a := newTestEngine(t, Config{}, &delivered)

	for i := range 3 {
		if err := a.Submit([]byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
	}
	drainAll(a)

	// Peer received seq 0 and rejected seq 1.
	nak := dllp.Nak(0).AppendEncode(nil)
	a.OnRxPacket(pipe.PacketDLLP, nak)

	replays := drainAll(a)
	if len(replays) != 2 {
		t.Fatalf("got %d replayed packets, want 2", len(replays))
	}
	for i, pkt := range replays {
		seq, payload, ok := parseTLP(pkt)
		if !ok {
			t.Fatalf("replay %d failed to parse", i)
		}
		if want := uint16(i + 1); seq != want {
			t.Errorf("replay %d seq = %d, want %d", i, seq, want)
		}
		if want := []byte{byte(i + 1)}; !bytes.Equal(payload, want) {
			t.Errorf("replay %d payload = %x, want %x", i, payload, want)
		}
	}
}

func TestEngineRetryExhaustion(t *testing.T) {
	var delivered [][]byte
	a := newTestEngine(t, Config{MaxRetries: 2}, &delivered)

	if err := a.Submit([]byte{0x55}); err != nil {
		t.Fatal(err)
	}
	drainAll(a)

	nak := dllp.Nak(SeqMax).AppendEncode(nil)
	for i := range 2 {
		a.OnRxPacket(pipe.PacketDLLP, nak)
		if a.LinkFatal() {
			t.Fatalf("LinkFatal() = true after %d NAKs, want false", i+1)
		}
		drainAll(a)
	}
	a.OnRxPacket(pipe.PacketDLLP, nak)
	if !a.LinkFatal() {
		t.Fatal("LinkFatal() = false after exceeding MaxRetries")
	}
	if err := a.Submit([]byte{0x66}); err != ErrLinkDown {
		t.Errorf("Submit on failed link = %v, want ErrLinkDown", err)
	}

	a.Reset()
	if a.LinkFatal() {
		t.Error("LinkFatal() = true after Reset")
	}
	if err := a.Submit([]byte{0x77}); err != nil {
		t.Errorf("Submit after Reset = %v", err)
	}
}

func TestEngineAckResetsReplayCount(t *testing.T) {
	var delivered [][]byte
	a := newTestEngine(t, Config{MaxRetries: 1}, &delivered)

	nak := dllp.Nak(SeqMax).AppendEncode(nil)
	ack := dllp.Ack(0).AppendEncode(nil)
	for range 3 {
		if err := a.Submit([]byte{0x01}); err != nil {
			t.Fatal(err)
		}
		drainAll(a)
		a.OnRxPacket(pipe.PacketDLLP, nak)
		drainAll(a)
		a.OnRxPacket(pipe.PacketDLLP, ack)
		ack = dllp.Ack(a.seq.nextTx - 1).AppendEncode(nil)
	}
	if a.LinkFatal() {
		t.Error("LinkFatal() = true despite forward progress between NAKs")
	}
}

func TestEngineSubmitBackpressure(t *testing.T) {
	var delivered [][]byte
	a := newTestEngine(t, Config{RetryBufferDepth: 2}, &delivered)

	if err := a.Submit([]byte{0x01}); err != nil {
		t.Fatal(err)
	}
	if err := a.Submit([]byte{0x02}); err != nil {
		t.Fatal(err)
	}
	if err := a.Submit([]byte{0x03}); err != ErrBufferFull {
		t.Errorf("Submit(full) = %v, want ErrBufferFull", err)
	}

	a.OnRxPacket(pipe.PacketDLLP, dllp.Ack(0).AppendEncode(nil))
	if err := a.Submit([]byte{0x03}); err != nil {
		t.Errorf("Submit after ACK = %v", err)
	}
}

func TestEngineSubmitPayloadTooLarge(t *testing.T) {
	var delivered [][]byte
	a := newTestEngine(t, Config{MaxPayloadSize: 4}, &delivered)
	if err := a.Submit(make([]byte, 5)); err != ErrPayloadTooLarge {
		t.Errorf("Submit(oversized) = %v, want ErrPayloadTooLarge", err)
	}
	if err := a.Submit(make([]byte, 4)); err != nil {
		t.Errorf("Submit(max) = %v", err)
	}
}

func TestEngineDLLPsPrecedeTLPs(t *testing.T) {
	var deliveredA, deliveredB [][]byte
	a := newTestEngine(t, Config{}, &deliveredA)
	b := newTestEngine(t, Config{}, &deliveredB)

	if err := a.Submit([]byte{0x01}); err != nil {
		t.Fatal(err)
	}
	tlp := a.NextTx()

	// b now owes an ACK and has a TLP of its own queued.
	if err := b.Submit([]byte{0x02}); err != nil {
		t.Fatal(err)
	}
	b.OnRxPacket(pipe.PacketTLP, tlp)

	first := b.NextTx()
	if got := pipe.Classify(first[0]); got != pipe.PacketDLLP {
		t.Errorf("first TX packet is %v, want DLLP ahead of queued TLP", got)
	}
}

func TestEngineFlowControlUpdates(t *testing.T) {
	var deliveredA, deliveredB [][]byte
	a := newTestEngine(t, Config{}, &deliveredA)
	b := newTestEngine(t, Config{FCUpdateInterval: 2}, &deliveredB)

	for range 2 {
		if err := a.Submit(make([]byte, 17)); err != nil {
			t.Fatal(err)
		}
		b.OnRxPacket(pipe.PacketTLP, a.NextTx())
	}

	var update *dllp.DLLP
	for _, pkt := range drainAll(b) {
		d, err := dllp.Decode(pkt)
		if err != nil {
			t.Fatal(err)
		}
		if d.Type == dllp.TypeUpdateFC {
			update = &d
		}
	}
	if update == nil {
		t.Fatal("no UpdateFC DLLP after FCUpdateInterval deliveries")
	}
	if update.HdrFC != 2 {
		t.Errorf("HdrFC = %d, want 2", update.HdrFC)
	}
	// 17 bytes round up to 2 data credits each.
	if update.DataFC != 4 {
		t.Errorf("DataFC = %d, want 4", update.DataFC)
	}
}
