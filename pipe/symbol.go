// Package pipe implements the symbol framing layer of the PIPE
// interface: conversion between packets and the byte-oriented symbol
// stream exchanged with the physical layer, including K-character
// delimiters and SKP/TS1/TS2 ordered sets.
package pipe

// Symbol is one 8b/10b-era code: a data byte plus the control
// (K-character) flag. Symbols are pure streaming units and are never
// persisted.
type Symbol struct {
	Data byte
	Ctrl bool
}

// K-characters used by Gen1/Gen2 framing.
const (
	KCom byte = 0xBC // K28.5 comma, leads every ordered set
	KSkp byte = 0x1C // K28.0 skip, clock compensation
	KPad byte = 0xF7 // K23.7 pad
	KStp byte = 0xFB // K27.7 start of TLP
	KSdp byte = 0x5C // K28.2 start of DLLP
	KEnd byte = 0xFD // K29.7 end of packet
	KEdb byte = 0xFE // K30.7 end of nullified packet
)

// D returns a data symbol carrying b.
func D(b byte) Symbol { return Symbol{Data: b} }

// K returns a control symbol carrying b.
func K(b byte) Symbol { return Symbol{Data: b, Ctrl: true} }

// PacketKind tags a framed packet as TLP or DLLP, from the START
// symbol that framed it.
type PacketKind uint8

const (
	PacketTLP PacketKind = iota
	PacketDLLP
)

// String implements [fmt.Stringer.String].
func (k PacketKind) String() string {
	switch k {
	case PacketTLP:
		return "TLP"
	case PacketDLLP:
		return "DLLP"
	default:
		return "Unknown"
	}
}

// Classify returns the packet kind implied by a packet's first byte:
// DLLP if the top two bits are clear, TLP otherwise.
func Classify(firstByte byte) PacketKind {
	if firstByte&0xC0 == 0 {
		return PacketDLLP
	}
	return PacketTLP
}
