package pipe

import (
	"bytes"
	"testing"
)

// pushAll feeds syms to d and returns the merged events.
func pushAll(t *testing.T, d *Deframer, syms []Symbol) (packets [][]byte, kinds []PacketKind, ev RxEvent) {
	t.Helper()
	for _, s := range syms {
		e := d.Push(s)
		if e.Packet != nil {
			packets = append(packets, e.Packet)
			kinds = append(kinds, e.Kind)
		}
		if e.TS1Detected {
			ev.TS1Detected = true
			ev.TS = e.TS
		}
		if e.TS2Detected {
			ev.TS2Detected = true
			ev.TS = e.TS
		}
		if e.SkpDetected {
			ev.SkpDetected = true
		}
	}
	return
}

func tlpFrame(payload []byte) []Symbol {
	syms := []Symbol{K(KStp)}
	for _, b := range payload {
		syms = append(syms, D(b))
	}
	return append(syms, K(KEnd))
}

func TestDeframerTLP(t *testing.T) {
	d := NewDeframer(0)
	payload := []byte{0xEF, 0xCD, 0xAB, 0x89, 0x67, 0x45, 0x23, 0x01}
	packets, kinds, _ := pushAll(t, d, tlpFrame(payload))
	if len(packets) != 1 {
		t.Fatalf("got %d packets, want 1", len(packets))
	}
	if !bytes.Equal(packets[0], payload) {
		t.Errorf("packet = %x, want %x", packets[0], payload)
	}
	if kinds[0] != PacketTLP {
		t.Errorf("kind = %v, want TLP", kinds[0])
	}
}

func TestDeframerDLLP(t *testing.T) {
	d := NewDeframer(0)
	payload := []byte{0x00, 0x2A, 0x00, 0x00, 0x00, 0x00, 0x12, 0x34}
	syms := []Symbol{K(KSdp)}
	for _, b := range payload {
		syms = append(syms, D(b))
	}
	syms = append(syms, K(KEnd))
	packets, kinds, _ := pushAll(t, d, syms)
	if len(packets) != 1 {
		t.Fatalf("got %d packets, want 1", len(packets))
	}
	if kinds[0] != PacketDLLP {
		t.Errorf("kind = %v, want DLLP", kinds[0])
	}
}

func TestDeframerIgnoresIdle(t *testing.T) {
	d := NewDeframer(0)
	syms := []Symbol{D(0), D(0), D(0xFF), D(0)}
	packets, _, ev := pushAll(t, d, syms)
	if len(packets) != 0 || ev.TS1Detected || ev.TS2Detected || ev.SkpDetected {
		t.Errorf("idle data produced output: packets=%d ev=%+v", len(packets), ev)
	}
}

func TestDeframerSkpTransparent(t *testing.T) {
	d := NewDeframer(0)
	skp := SkpSet()
	var syms []Symbol
	syms = append(syms, tlpFrame([]byte{0xAA, 0xBB})...)
	syms = append(syms, skp[:]...)
	syms = append(syms, tlpFrame([]byte{0xCC, 0xDD})...)
	packets, _, ev := pushAll(t, d, syms)
	if len(packets) != 2 {
		t.Fatalf("got %d packets, want 2", len(packets))
	}
	if !bytes.Equal(packets[0], []byte{0xAA, 0xBB}) || !bytes.Equal(packets[1], []byte{0xCC, 0xDD}) {
		t.Errorf("packets = %x, %x", packets[0], packets[1])
	}
	if !ev.SkpDetected {
		t.Error("SKP set not detected")
	}
}

func TestDeframerTS1Detection(t *testing.T) {
	d := NewDeframer(0)
	ts := TS{LinkNumber: 1, LaneNumber: 0, NFTS: 128, Rate: 3}
	set := ts.Encode(TS1)
	_, _, ev := pushAll(t, d, set[:])
	if !ev.TS1Detected {
		t.Fatal("TS1 not detected")
	}
	if ev.TS2Detected {
		t.Error("TS2 falsely detected")
	}
	if ev.TS != ts {
		t.Errorf("decoded TS = %+v, want %+v", ev.TS, ts)
	}
}

func TestDeframerTS2Detection(t *testing.T) {
	d := NewDeframer(0)
	ts := TS{LinkNumber: 1, NFTS: 128, Rate: 1}
	set := ts.Encode(TS2)
	_, _, ev := pushAll(t, d, set[:])
	if !ev.TS2Detected {
		t.Fatal("TS2 not detected")
	}
	if ev.TS1Detected {
		t.Error("TS1 falsely detected")
	}
}

func TestDeframerMixedIdentifiersRejected(t *testing.T) {
	d := NewDeframer(0)
	set := TS{}.Encode(TS1)
	set[TSLength-1] = D(TS2Identifier)
	_, _, ev := pushAll(t, d, set[:])
	if ev.TS1Detected || ev.TS2Detected {
		t.Error("malformed training set detected")
	}
}

func TestDeframerStartAbortsPacket(t *testing.T) {
	d := NewDeframer(0)
	syms := []Symbol{K(KStp), D(0xAA), D(0xBB)}
	syms = append(syms, tlpFrame([]byte{0xCC, 0xDD})...)
	packets, _, _ := pushAll(t, d, syms)
	if len(packets) != 1 {
		t.Fatalf("got %d packets, want 1", len(packets))
	}
	if !bytes.Equal(packets[0], []byte{0xCC, 0xDD}) {
		t.Errorf("packet = %x, want ccdd", packets[0])
	}
}

func TestDeframerEdbDiscards(t *testing.T) {
	d := NewDeframer(0)
	syms := []Symbol{K(KStp), D(0xAA), D(0xBB), K(KEdb)}
	packets, _, _ := pushAll(t, d, syms)
	if len(packets) != 0 {
		t.Errorf("got %d packets from nullified packet, want 0", len(packets))
	}
}

func TestDeframerUnknownControlIgnored(t *testing.T) {
	d := NewDeframer(0)
	syms := []Symbol{K(KStp), D(0xAA), K(KPad), D(0xBB), K(KEnd)}
	packets, _, _ := pushAll(t, d, syms)
	if len(packets) != 1 {
		t.Fatalf("got %d packets, want 1", len(packets))
	}
	if want := []byte{0xAA, 0xBB}; !bytes.Equal(packets[0], want) {
		t.Errorf("packet = %x, want %x", packets[0], want)
	}
}

func TestDeframerOversizedDropped(t *testing.T) {
	d := NewDeframer(4)
	syms := []Symbol{K(KStp)}
	for range 8 {
		syms = append(syms, D(0x55))
	}
	syms = append(syms, K(KEnd))
	packets, _, _ := pushAll(t, d, syms)
	if len(packets) != 0 {
		t.Errorf("got %d packets from oversized run, want 0", len(packets))
	}
}

func TestDeframerResetDropsPartial(t *testing.T) {
	d := NewDeframer(0)
	d.Push(K(KStp))
	d.Push(D(0xAA))
	d.Reset()
	packets, _, _ := pushAll(t, d, []Symbol{D(0xBB), K(KEnd)})
	if len(packets) != 0 {
		t.Errorf("got %d packets after reset, want 0", len(packets))
	}
}
