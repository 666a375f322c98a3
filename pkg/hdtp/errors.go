package hdtp

import (
	"errors"
	"fmt"
)

var (
	// ErrNoFrame is returned by Message when no validated frame is waiting.
	ErrNoFrame = errors.New("hdtp: no frame ready")

	// ErrFrameLength is returned for a zero declared length or an oversized payload.
	ErrFrameLength = errors.New("hdtp: invalid frame length")

	// ErrInvalidText is returned when a validated payload is not UTF-8 text.
	ErrInvalidText = errors.New("hdtp: payload is not valid UTF-8")
)

// ChecksumError describes a frame whose trailing check value did not match.
type ChecksumError struct {
	Received uint16
	Computed uint16
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("hdtp: checksum mismatch: received 0x%04X, computed 0x%04X", e.Received, e.Computed)
}
