package dll

import (
	"fmt"

	"go.uber.org/zap"
)

// Defaults applied by [Config.CheckAndApplyDefaults].
const (
	DefaultRetryBufferDepth = 64
	DefaultMaxRetries       = 16
	DefaultFCUpdateInterval = 32
	DefaultMaxPayloadSize   = 256
)

// Config configures a DLL engine.
type Config struct {
	// RetryBufferDepth is the number of unacknowledged TLPs the
	// engine holds for retransmission.
	RetryBufferDepth int `json:"retryBufferDepth"`

	// MaxRetries is the number of NAK-triggered replays tolerated
	// before the link is declared failed.
	MaxRetries int `json:"maxRetries"`

	// FCUpdateInterval is the number of delivered TLPs between
	// UpdateFC DLLPs.
	FCUpdateInterval int `json:"fcUpdateInterval"`

	// MaxPayloadSize is the largest payload Submit accepts.
	MaxPayloadSize int `json:"maxPayloadSize"`
}

// CheckAndApplyDefaults validates the configuration and fills in
// default values.
func (c *Config) CheckAndApplyDefaults() error {
	switch {
	case c.RetryBufferDepth == 0:
		c.RetryBufferDepth = DefaultRetryBufferDepth
	case c.RetryBufferDepth < 0:
		return fmt.Errorf("negative retryBufferDepth: %d", c.RetryBufferDepth)
	}

	switch {
	case c.MaxRetries == 0:
		c.MaxRetries = DefaultMaxRetries
	case c.MaxRetries < 0:
		return fmt.Errorf("negative maxRetries: %d", c.MaxRetries)
	}

	switch {
	case c.FCUpdateInterval == 0:
		c.FCUpdateInterval = DefaultFCUpdateInterval
	case c.FCUpdateInterval < 0:
		return fmt.Errorf("negative fcUpdateInterval: %d", c.FCUpdateInterval)
	}

	switch {
	case c.MaxPayloadSize == 0:
		c.MaxPayloadSize = DefaultMaxPayloadSize
	case c.MaxPayloadSize < 0:
		return fmt.Errorf("negative maxPayloadSize: %d", c.MaxPayloadSize)
	}

	return nil
}

// NewEngine creates a DLL engine from the configuration. Delivered
// payloads are passed to deliver in arrival order; the slice is owned
// by the callee.
func (c *Config) NewEngine(logger *zap.Logger, deliver func(payload []byte)) (*Engine, error) {
	if err := c.CheckAndApplyDefaults(); err != nil {
		return nil, err
	}
	return &Engine{
		logger:           logger,
		deliver:          deliver,
		retry:            NewRetryBuffer(c.RetryBufferDepth),
		maxRetries:       c.MaxRetries,
		fcUpdateInterval: c.FCUpdateInterval,
		maxPayloadSize:   c.MaxPayloadSize,
	}, nil
}

// Engine drives one direction pair of the data link layer: it stamps
// and protects outgoing TLPs, verifies and orders incoming ones, and
// generates and consumes the ACK/NAK and UpdateFC DLLPs that keep the
// two ends in agreement. The engine is tick-driven and not safe for
// concurrent use.
type Engine struct {
	logger  *zap.Logger
	deliver func(payload []byte)

	seq   SequenceSpace
	retry *RetryBuffer

	maxRetries       int
	fcUpdateInterval int
	maxPayloadSize   int

	txQueue     [][]byte
	replayQueue [][]byte
	dllpQueue   [][]byte

	replays      int
	fatal        bool
	nakScheduled bool
	nakHeldBack  int

	fcHdr       uint8
	fcData      uint16
	sinceFCSent int
}

// LinkFatal reports whether the retry limit has been exhausted. The
// link layer above resolves this through retraining and [Engine.Reset].
func (e *Engine) LinkFatal() bool {
	return e.fatal
}

// Reset returns the engine to its initial state, dropping all queued
// and buffered packets. Both ends reset together when the link
// retrains.
func (e *Engine) Reset() {
	e.seq = SequenceSpace{}
	e.retry = NewRetryBuffer(len(e.retry.entries))
	e.txQueue = nil
	e.replayQueue = nil
	e.dllpQueue = nil
	e.replays = 0
	e.fatal = false
	e.nakScheduled = false
	e.nakHeldBack = 0
	e.fcHdr = 0
	e.fcData = 0
	e.sinceFCSent = 0
}
