package hdtp

import (
	"unicode/utf8"

	"github.com/bft-labs/sensorship/pkg/log"
)

// State is the position of the decoder within a frame.
type State int

const (
	StateSearchingForFlag State = iota
	StateReceivingLength
	StateReceivingPayload
	StateReceivingFcs
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateSearchingForFlag:
		return "SearchingForFlag"
	case StateReceivingLength:
		return "ReceivingLength"
	case StateReceivingPayload:
		return "ReceivingPayload"
	case StateReceivingFcs:
		return "ReceivingFcs"
	default:
		return "Unknown"
	}
}

// Status is the retrieval gate: what a caller of Message may expect.
type Status int

const (
	StatusWaitingForNextFrame Status = iota
	StatusReceiveInProgress
	StatusFrameReady
	StatusFrameError
	StatusChecksumError
)

// String returns a human-readable representation of the status.
func (s Status) String() string {
	switch s {
	case StatusWaitingForNextFrame:
		return "WaitingForNextFrame"
	case StatusReceiveInProgress:
		return "ReceiveInProgress"
	case StatusFrameReady:
		return "FrameReady"
	case StatusFrameError:
		return "FrameError"
	case StatusChecksumError:
		return "ChecksumError"
	default:
		return "Unknown"
	}
}

// Decoder reassembles frames from a byte stream. It is not safe for
// concurrent use.
type Decoder struct {
	state  State
	status Status

	length  int
	payload [MaxPayload]byte
	n       int

	fcs      uint16
	fcsBytes int

	lastErr error
	logger  log.Logger
}

// NewDecoder returns a decoder searching for the first start marker.
// A nil logger discards diagnostics.
func NewDecoder(logger log.Logger) *Decoder {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Decoder{logger: logger}
}

// State returns the current parser position.
func (d *Decoder) State() State { return d.state }

// Status returns the current retrieval gate.
func (d *Decoder) Status() Status { return d.status }

// Err returns the reason the most recent frame was rejected, or nil.
func (d *Decoder) Err() error { return d.lastErr }

// Input advances the decoder by one byte and returns the resulting status.
func (d *Decoder) Input(b byte) Status {
	switch d.state {
	case StateSearchingForFlag:
		if b != Flag {
			return d.status
		}
		d.length = 0
		d.n = 0
		d.fcs = 0
		d.fcsBytes = 0
		d.lastErr = nil
		d.state = StateReceivingLength
		d.status = StatusReceiveInProgress

	case StateReceivingLength:
		if b == 0 {
			d.lastErr = ErrFrameLength
			d.logger.Debug("frame rejected", log.String("reason", "zero length"))
			d.state = StateSearchingForFlag
			d.status = StatusFrameError
			return d.status
		}
		d.length = int(b)
		d.state = StateReceivingPayload

	case StateReceivingPayload:
		d.payload[d.n] = b
		d.n++
		if d.n == d.length {
			d.state = StateReceivingFcs
		}

	case StateReceivingFcs:
		d.fcs = d.fcs<<8 | uint16(b)
		d.fcsBytes++
		if d.fcsBytes < 2 {
			return d.status
		}
		d.state = StateSearchingForFlag
		computed := Checksum(d.payload[:d.n])
		if computed != d.fcs {
			d.lastErr = &ChecksumError{Received: d.fcs, Computed: computed}
			d.logger.Warn("frame checksum mismatch",
				log.Hex16("received", d.fcs),
				log.Hex16("computed", computed),
				log.Int("length", d.n),
			)
			d.status = StatusChecksumError
			return d.status
		}
		d.status = StatusFrameReady
	}
	return d.status
}

// Message hands out the payload of a validated frame. It succeeds at most
// once per frame; every other call returns ErrNoFrame. A payload that is
// not UTF-8 is consumed and reported as ErrInvalidText.
func (d *Decoder) Message() (string, error) {
	if d.status != StatusFrameReady {
		return "", ErrNoFrame
	}
	d.status = StatusWaitingForNextFrame
	p := d.payload[:d.n]
	if !utf8.Valid(p) {
		return "", ErrInvalidText
	}
	return string(p), nil
}
