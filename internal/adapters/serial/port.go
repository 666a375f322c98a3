// Package serial opens the sensor's serial link.
package serial

import (
	"errors"
	"fmt"
	"time"

	"go.bug.st/serial"

	"github.com/bft-labs/sensorship/internal/ports"
)

// Line settings of the sensor link: 115200 baud, 8N1, no flow control.
const (
	DefaultBaudRate    = 115200
	DefaultReadTimeout = 5 * time.Second
)

// Config describes the serial device.
type Config struct {
	Device      string
	BaudRate    int
	ReadTimeout time.Duration
}

// Port is a ports.ByteSource on a serial device. A read that times out
// returns (0, nil).
type Port struct {
	port   serial.Port
	device string
}

// Open opens and configures the device.
func Open(cfg Config) (*Port, error) {
	if cfg.Device == "" {
		return nil, errors.New("serial: device is required")
	}
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}

	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(cfg.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", cfg.Device, err)
	}
	if err := p.SetReadTimeout(cfg.ReadTimeout); err != nil {
		p.Close()
		return nil, fmt.Errorf("serial: set timeout on %s: %w", cfg.Device, err)
	}
	return &Port{port: p, device: cfg.Device}, nil
}

// Read reads whatever bytes are available, waiting at most the read timeout.
func (p *Port) Read(b []byte) (int, error) {
	n, err := p.port.Read(b)
	if err != nil {
		return n, fmt.Errorf("serial: read %s: %w", p.device, err)
	}
	return n, nil
}

// Close closes the device.
func (p *Port) Close() error {
	return p.port.Close()
}

var _ ports.ByteSource = (*Port)(nil)
