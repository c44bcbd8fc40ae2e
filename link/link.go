// Package link assembles the full protocol stack behind a PIPE-style
// pin interface: the LTSSM drives training, the framer and deframer
// translate between packets and symbols, and the DLL engine provides
// reliable TLP delivery on top.
package link

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/database64128/pcielink-go/dll"
	"github.com/database64128/pcielink-go/ltssm"
	"github.com/database64128/pcielink-go/pipe"
)

// PhyInput is the per-tick RX side of the PIPE interface.
type PhyInput struct {
	// RxData and RxDataK are the received symbol.
	RxData  byte
	RxDataK bool

	// RxValid qualifies the received symbol.
	RxValid bool

	// RxElectricalIdle reports the receive line in electrical idle.
	RxElectricalIdle bool
}

// PhyOutput is the per-tick TX side of the PIPE interface.
type PhyOutput struct {
	// TxData and TxDataK are the transmitted symbol, meaningful only
	// while TxElectricalIdle is false.
	TxData  byte
	TxDataK bool

	// TxElectricalIdle holds the transmit line in electrical idle.
	TxElectricalIdle bool

	// Powerdown is the PIPE powerdown signal.
	Powerdown ltssm.Powerdown

	// Rate is the signaling rate to drive.
	Rate ltssm.Rate
}

// Config configures a link.
type Config struct {
	// Name is the link's name in logs.
	Name string `json:"name"`

	// SkpInterval is the number of TX symbols between SKP ordered
	// sets. 0 selects the default.
	SkpInterval int `json:"skpInterval"`

	// DLL configures the data link layer.
	DLL dll.Config `json:"dll"`
}

// CheckAndApplyDefaults validates the configuration and fills in
// default values.
func (c *Config) CheckAndApplyDefaults() error {
	if c.Name == "" {
		return fmt.Errorf("missing link name")
	}
	if c.SkpInterval < 0 {
		return fmt.Errorf("negative skpInterval: %d", c.SkpInterval)
	}
	return c.DLL.CheckAndApplyDefaults()
}

// NewLink creates a link from the configuration. Delivered payloads
// are passed to deliver in arrival order.
func (c *Config) NewLink(logger *zap.Logger, deliver func(payload []byte)) (*Link, error) {
	if err := c.CheckAndApplyDefaults(); err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("link", c.Name))
	engine, err := c.DLL.NewEngine(logger, deliver)
	if err != nil {
		return nil, err
	}
	return &Link{
		name:     c.Name,
		logger:   logger,
		engine:   engine,
		framer:   pipe.NewFramer(c.SkpInterval, pipe.TS{LinkNumber: 1, NFTS: 128, Rate: 0b01}),
		deframer: pipe.NewDeframer(0),
		machine:  ltssm.NewLTSSM(logger),
	}, nil
}

// Link is one end of a lane: a DLL engine, a framer/deframer pair,
// and an LTSSM, advanced together one symbol per tick. Not safe for
// concurrent use.
type Link struct {
	name     string
	logger   *zap.Logger
	engine   *dll.Engine
	framer   *pipe.Framer
	deframer *pipe.Deframer
	machine  *ltssm.LTSSM
}

// String returns the link's name.
func (l *Link) String() string {
	return l.name
}

// Submit accepts a payload for reliable transmission to the link
// partner. [dll.ErrBufferFull] means the caller should retry on a
// later tick.
func (l *Link) Submit(payload []byte) error {
	return l.engine.Submit(payload)
}

// LinkUp reports whether the link has trained up to L0.
func (l *Link) LinkUp() bool {
	return l.machine.LinkUp()
}

// State returns the LTSSM state.
func (l *Link) State() ltssm.State {
	return l.machine.State()
}

// Tick advances the link one symbol time: it consumes the RX symbol,
// steps the LTSSM, and produces the TX symbol.
func (l *Link) Tick(in PhyInput) PhyOutput {
	var ev pipe.RxEvent
	if in.RxValid && !in.RxElectricalIdle {
		ev = l.deframer.Push(pipe.Symbol{Data: in.RxData, Ctrl: in.RxDataK})
	}
	if ev.Packet != nil {
		l.engine.OnRxPacket(ev.Kind, ev.Packet)
	}

	wasUp := l.machine.LinkUp()
	out := l.machine.Step(ltssm.Inputs{
		TS1Detected:      ev.TS1Detected,
		TS2Detected:      ev.TS2Detected,
		RxElectricalIdle: in.RxElectricalIdle,
		LinkError:        l.engine.LinkFatal(),
	})
	if wasUp && !l.machine.LinkUp() {
		// Retraining: both ends restart the sequence space together.
		l.logger.Info("Link down, retraining",
			zap.Stringer("state", l.machine.State()),
		)
		l.engine.Reset()
		l.framer.Reset()
		l.deframer.Reset()
	}

	l.framer.SetTraining(out.Training)
	if l.machine.LinkUp() {
		for l.framer.Free() > 0 {
			pkt := l.engine.NextTx()
			if pkt == nil {
				break
			}
			if err := l.framer.Queue(pkt); err != nil {
				// Unreachable: Free was checked.
				break
			}
		}
	}

	if out.TxElectricalIdle {
		return PhyOutput{
			TxElectricalIdle: true,
			Powerdown:        out.Powerdown,
			Rate:             out.Rate,
		}
	}
	sym := l.framer.Next()
	return PhyOutput{
		TxData:    sym.Data,
		TxDataK:   sym.Ctrl,
		Powerdown: out.Powerdown,
		Rate:      out.Rate,
	}
}
