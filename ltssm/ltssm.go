// Package ltssm implements the Link Training and Status State
// Machine: the tick-driven controller that brings a link from
// electrical idle through training to the L0 operational state, and
// back through Recovery when the link degrades.
package ltssm

// State is an LTSSM state.
type State uint8

const (
	// Detect waits for a receiver: the link partner deasserting
	// electrical idle.
	Detect State = iota

	// Polling transmits TS1 sets and waits for TS1 from the partner.
	Polling

	// Configuration transmits TS2 sets and waits for TS2.
	Configuration

	// L0 is the operational state: TLPs and DLLPs flow.
	L0

	// Recovery retrains an established link without a full detect
	// cycle.
	Recovery
)

// String implements [fmt.Stringer.String].
func (s State) String() string {
	switch s {
	case Detect:
		return "Detect"
	case Polling:
		return "Polling"
	case Configuration:
		return "Configuration"
	case L0:
		return "L0"
	case Recovery:
		return "Recovery"
	default:
		return "Unknown"
	}
}

// Powerdown is the PIPE powerdown signal value.
type Powerdown uint8

const (
	// P0 is the normal operational power state.
	P0 Powerdown = iota

	// P1 is the low-power state driven while no receiver is
	// detected.
	P1
)

// Rate selects the signaling rate.
type Rate uint8

const (
	Gen1 Rate = iota
	Gen2
)

// String implements [fmt.Stringer.String].
func (r Rate) String() string {
	switch r {
	case Gen1:
		return "2.5GT/s"
	case Gen2:
		return "5GT/s"
	default:
		return "Unknown"
	}
}
