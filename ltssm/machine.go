package ltssm

import (
	"go.uber.org/zap"

	"github.com/database64128/pcielink-go/pipe"
)

// Inputs are the per-tick observations the LTSSM steps on.
type Inputs struct {
	// TS1Detected and TS2Detected report training sets completed by
	// the deframer this tick.
	TS1Detected bool
	TS2Detected bool

	// RxElectricalIdle is the receiver electrical idle indication.
	RxElectricalIdle bool

	// LinkError requests retraining: the data link layer has
	// exhausted its retry budget.
	LinkError bool
}

// Outputs are the controls the LTSSM drives after each step.
type Outputs struct {
	// Training is the set the framer should repeat, TSNone in L0.
	Training pipe.TSKind

	// TxElectricalIdle holds the transmitter in electrical idle.
	TxElectricalIdle bool

	// Powerdown is the PIPE powerdown signal.
	Powerdown Powerdown

	// Rate is the negotiated signaling rate.
	Rate Rate
}

// LTSSM is the link training state machine. One instance per link;
// not safe for concurrent use.
type LTSSM struct {
	logger *zap.Logger
	state  State
	rate   Rate
}

// NewLTSSM returns an LTSSM in the Detect state.
func NewLTSSM(logger *zap.Logger) *LTSSM {
	return &LTSSM{logger: logger}
}

// State returns the current state.
func (m *LTSSM) State() State {
	return m.state
}

// LinkUp reports whether the link is in the operational state.
func (m *LTSSM) LinkUp() bool {
	return m.state == L0
}

// LinkSpeed returns the negotiated rate.
func (m *LTSSM) LinkSpeed() Rate {
	return m.rate
}

// LinkWidth returns the number of lanes.
func (m *LTSSM) LinkWidth() int {
	return 1
}

// Step advances the machine one tick and returns the controls to
// drive until the next tick.
func (m *LTSSM) Step(in Inputs) Outputs {
	next := m.state

	switch m.state {
	case Detect:
		if !in.RxElectricalIdle {
			next = Polling
		}
	case Polling:
		if in.TS1Detected {
			next = Configuration
		}
	case Configuration:
		if in.TS2Detected {
			next = L0
		}
	case L0:
		// TS1 in L0 means the partner has entered Recovery; follow it
		// so both ends retrain together.
		if in.LinkError || in.RxElectricalIdle || in.TS1Detected {
			next = Recovery
		}
	case Recovery:
		// Rejoin the normal training path: TS1 handshake here, TS2
		// handshake in Configuration. A stale TS1 set still in flight
		// when one end reaches L0 is impossible this way, since the
		// partner stops sending TS1 before its first TS2.
		if in.TS1Detected {
			next = Configuration
		}
	}

	if next != m.state {
		m.logger.Debug("LTSSM transition",
			zap.Stringer("from", m.state),
			zap.Stringer("to", next),
		)
		m.state = next
	}

	return m.outputs()
}

// Reset returns the machine to Detect.
func (m *LTSSM) Reset() {
	if m.state != Detect {
		m.logger.Debug("LTSSM transition",
			zap.Stringer("from", m.state),
			zap.Stringer("to", Detect),
		)
	}
	m.state = Detect
}

func (m *LTSSM) outputs() Outputs {
	out := Outputs{Rate: m.rate}
	switch m.state {
	case Detect:
		out.TxElectricalIdle = true
		out.Powerdown = P1
	case Polling:
		out.Training = pipe.TS1
	case Configuration:
		out.Training = pipe.TS2
	case Recovery:
		out.Training = pipe.TS1
	}
	return out
}
