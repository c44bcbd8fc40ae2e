package pipe

// Ordered sets are fixed-length symbol sequences led by a COM control
// symbol: the 4-symbol SKP set for clock compensation, and the
// 16-symbol TS1/TS2 training sets exchanged during link training.
const (
	// SkpSetLength is the length of the SKP ordered set.
	SkpSetLength = 4

	// TSLength is the length of a TS1/TS2 ordered set.
	TSLength = 16

	// TS1Identifier is the TS1 identifier symbol (D10.2).
	TS1Identifier byte = 0x4A

	// TS2Identifier is the TS2 identifier symbol (D5.2).
	TS2Identifier byte = 0x45

	// Identifier symbols fill symbols 6..15 of a training set.
	tsIdentifierOffset = 6
)

// SkpSet returns the SKP ordered set: COM followed by three SKP
// symbols.
func SkpSet() [SkpSetLength]Symbol {
	return [SkpSetLength]Symbol{K(KCom), K(KSkp), K(KSkp), K(KSkp)}
}

// TSKind distinguishes the training set variants a framer can be
// asked to emit.
type TSKind uint8

const (
	TSNone TSKind = iota
	TS1
	TS2
)

// String implements [fmt.Stringer.String].
func (k TSKind) String() string {
	switch k {
	case TSNone:
		return "none"
	case TS1:
		return "TS1"
	case TS2:
		return "TS2"
	default:
		return "Unknown"
	}
}

func (k TSKind) identifier() byte {
	switch k {
	case TS1:
		return TS1Identifier
	case TS2:
		return TS2Identifier
	default:
		panic("pipe: no identifier for TSKind " + k.String())
	}
}

// TS holds the parameterized fields of a training set. Templates are
// constant; instances are derived at encode time.
type TS struct {
	// LinkNumber is the link number advertised during training.
	LinkNumber uint8

	// LaneNumber is the lane number advertised during training.
	LaneNumber uint8

	// NFTS is the fast training sequence count.
	NFTS uint8

	// Rate is the supported rate bitmask: bit 0 Gen1, bit 1 Gen2.
	Rate uint8
}

// Encode derives the 16-symbol training set of the given kind:
// COM, the parameter fields, a zero training-control symbol, and ten
// identifier symbols.
func (t TS) Encode(kind TSKind) [TSLength]Symbol {
	var set [TSLength]Symbol
	set[0] = K(KCom)
	set[1] = D(t.LinkNumber)
	set[2] = D(t.LaneNumber)
	set[3] = D(t.NFTS)
	set[4] = D(t.Rate)
	set[5] = D(0)
	id := kind.identifier()
	for i := tsIdentifierOffset; i < TSLength; i++ {
		set[i] = D(id)
	}
	return set
}
