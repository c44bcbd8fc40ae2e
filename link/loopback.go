package link

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/database64128/pcielink-go/jsonhelper"
)

// Loopback defaults applied by [LoopbackConfig.NewLoopback].
const (
	DefaultLoopbackTicks        = 1 << 20
	DefaultLoopbackPayloadCount = 256
	DefaultLoopbackPayloadSize  = 64
)

// LoopbackConfig configures a loopback service: two links wired
// output-to-input with a one-tick delay, exchanging generated
// payloads in both directions and verifying in-order delivery.
type LoopbackConfig struct {
	// Name is the service's name in logs.
	Name string `json:"name"`

	// Ticks bounds the simulation length. 0 selects the default.
	Ticks int `json:"ticks"`

	// PayloadCount is the number of payloads each end submits.
	PayloadCount int `json:"payloadCount"`

	// PayloadSize is the size of each generated payload.
	PayloadSize int `json:"payloadSize"`

	// BitErrorEvery corrupts every n-th data symbol on the A-to-B
	// wire. 0 disables error injection.
	BitErrorEvery int `json:"bitErrorEvery"`

	// TickInterval paces the simulation in wall-clock time. 0 runs
	// as fast as possible.
	TickInterval jsonhelper.Duration `json:"tickInterval"`

	// Link configures both ends.
	Link Config `json:"link"`
}

// NewLoopback creates a loopback service from the configuration.
func (c *LoopbackConfig) NewLoopback(logger *zap.Logger) (*Loopback, error) {
	if c.Name == "" {
		return nil, fmt.Errorf("missing loopback name")
	}
	if c.Ticks == 0 {
		c.Ticks = DefaultLoopbackTicks
	}
	if c.PayloadCount == 0 {
		c.PayloadCount = DefaultLoopbackPayloadCount
	}
	if c.PayloadSize == 0 {
		c.PayloadSize = DefaultLoopbackPayloadSize
	}

	logger = logger.With(zap.String("loopback", c.Name))
	lb := &Loopback{
		config: *c,
		logger: logger,
	}

	acfg, bcfg := c.Link, c.Link
	acfg.Name, bcfg.Name = "A", "B"
	var err error
	if lb.a.link, err = acfg.NewLink(logger, lb.a.onDeliver); err != nil {
		return nil, err
	}
	if lb.b.link, err = bcfg.NewLink(logger, lb.b.onDeliver); err != nil {
		return nil, err
	}
	lb.a.logger, lb.b.logger = logger, logger
	return lb, nil
}

// endpoint is one end of the loopback with its submission and
// verification state.
type endpoint struct {
	logger *zap.Logger
	link   *Link

	out       PhyOutput
	submitted int
	expected  [][]byte
	delivered int
	mismatch  bool
}

// onDeliver checks one delivered payload against the submission order
// of the opposite end. The opposite end appends to expected before
// the payload can possibly arrive, so the FIFO is never early-empty.
func (ep *endpoint) onDeliver(payload []byte) {
	if len(ep.expected) == 0 {
		ep.logger.Error("Delivered payload with nothing outstanding",
			zap.Stringer("link", ep.link),
		)
		ep.mismatch = true
		return
	}
	want := ep.expected[0]
	ep.expected[0] = nil
	ep.expected = ep.expected[1:]
	ep.delivered++
	if !bytes.Equal(payload, want) {
		ep.logger.Error("Delivered payload does not match submission",
			zap.Stringer("link", ep.link),
			zap.Int("index", ep.delivered-1),
		)
		ep.mismatch = true
	}
}

// Loopback wires two links back to back and drives them tick by
// tick, submitting random payloads at both ends and verifying that
// each end delivers the other's submissions in order.
type Loopback struct {
	config LoopbackConfig
	logger *zap.Logger

	a endpoint
	b endpoint

	cancel context.CancelFunc
	done   chan struct{}
}

// String implements [Service.String].
func (lb *Loopback) String() string {
	return lb.config.Name
}

// Start implements [Service.Start].
func (lb *Loopback) Start(ctx context.Context) error {
	ctx, lb.cancel = context.WithCancel(ctx)
	lb.done = make(chan struct{})
	go func() {
		defer close(lb.done)
		lb.run(ctx)
	}()
	lb.logger.Info("Started loopback",
		zap.Int("payloadCount", lb.config.PayloadCount),
		zap.Int("payloadSize", lb.config.PayloadSize),
		zap.Int("bitErrorEvery", lb.config.BitErrorEvery),
	)
	return nil
}

// Stop implements [Service.Stop].
func (lb *Loopback) Stop() error {
	lb.cancel()
	<-lb.done
	return nil
}

// Run drives the loopback to completion on the calling goroutine and
// reports the result.
func (lb *Loopback) Run(ctx context.Context) error {
	lb.run(ctx)
	switch {
	case lb.a.mismatch || lb.b.mismatch:
		return fmt.Errorf("payload mismatch after %d/%d deliveries", lb.a.delivered+lb.b.delivered, 2*lb.config.PayloadCount)
	case !lb.finished():
		return fmt.Errorf("delivered %d+%d of %d payloads each way within %d ticks",
			lb.a.delivered, lb.b.delivered, lb.config.PayloadCount, lb.config.Ticks)
	default:
		return nil
	}
}

func (lb *Loopback) finished() bool {
	return lb.a.delivered == lb.config.PayloadCount && lb.b.delivered == lb.config.PayloadCount
}

func (lb *Loopback) run(ctx context.Context) {
	rng := rand.New(rand.NewChaCha8([32]byte{}))
	interval := time.Duration(lb.config.TickInterval)
	var dataSymbols int

	for tick := 0; tick < lb.config.Ticks; tick++ {
		if ctx.Err() != nil {
			return
		}
		if interval > 0 {
			time.Sleep(interval)
		}

		lb.pump(rng, &lb.a, &lb.b)
		lb.pump(rng, &lb.b, &lb.a)

		aIn := phyInputFrom(lb.b.out)
		bIn := phyInputFrom(lb.a.out)
		if n := lb.config.BitErrorEvery; n > 0 && bIn.RxValid && !bIn.RxDataK {
			dataSymbols++
			if dataSymbols%n == 0 {
				bIn.RxData ^= 0x08
			}
		}

		lb.a.out = lb.a.link.Tick(aIn)
		lb.b.out = lb.b.link.Tick(bIn)

		if lb.finished() {
			lb.logger.Info("Loopback complete",
				zap.Int("ticks", tick+1),
				zap.Int("payloadCount", lb.config.PayloadCount),
			)
			return
		}
	}

	lb.logger.Warn("Loopback tick budget exhausted",
		zap.Int("ticks", lb.config.Ticks),
		zap.Int("deliveredA", lb.a.delivered),
		zap.Int("deliveredB", lb.b.delivered),
	)
}

// pump submits the next generated payload from src, destined for dst,
// whenever the link is up and the retry buffer has room.
func (lb *Loopback) pump(rng *rand.Rand, src, dst *endpoint) {
	if src.submitted >= lb.config.PayloadCount || !src.link.LinkUp() {
		return
	}
	payload := make([]byte, lb.config.PayloadSize)
	for i := range payload {
		payload[i] = byte(rng.Uint32())
	}
	if err := src.link.Submit(payload); err != nil {
		// Retry buffer backpressure; try again next tick.
		return
	}
	src.submitted++
	dst.expected = append(dst.expected, payload)
}

// phyInputFrom derives one end's RX pins from the other end's TX pins
// of the previous tick. A powered partner terminates the receive
// line, so electrical idle stays deasserted for the whole run.
func phyInputFrom(out PhyOutput) PhyInput {
	return PhyInput{
		RxData:           out.TxData,
		RxDataK:          out.TxDataK,
		RxValid:          !out.TxElectricalIdle,
		RxElectricalIdle: false,
	}
}
