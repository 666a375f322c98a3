// Package lora receives sensor frames through a Semtech SX127x LoRa modem
// attached over SPI. Each received packet carries raw link bytes, which
// are handed on unchanged for frame decoding.
package lora

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/bft-labs/sensorship/internal/ports"
)

// SX127x registers (LoRa mode).
const (
	regFifo           = 0x00
	regOpMode         = 0x01
	regFrfMsb         = 0x06
	regFrfMid         = 0x07
	regFrfLsb         = 0x08
	regLna            = 0x0C
	regFifoAddrPtr    = 0x0D
	regFifoTxBaseAddr = 0x0E
	regFifoRxBaseAddr = 0x0F
	regFifoRxCurrent  = 0x10
	regIrqFlags       = 0x12
	regRxNbBytes      = 0x13
	regModemConfig1   = 0x1D
	regModemConfig2   = 0x1E
	regModemConfig3   = 0x26
	regSyncWord       = 0x39
	regVersion        = 0x42
)

const (
	modeLongRange    = 0x80
	modeSleep        = 0x00
	modeStandby      = 0x01
	modeRxContinuous = 0x05

	irqRxDone          = 0x40
	irqPayloadCrcError = 0x20

	chipVersion = 0x12
	fxosc       = 32_000_000

	writeBit = 0x80
)

// Defaults for a 868 MHz link at SF7/BW125/CR4-5.
const (
	DefaultFrequencyHz     = 868_100_000
	DefaultSpreadingFactor = 7
	DefaultSyncWord        = 0x12
	DefaultSPISpeedHz      = 1_000_000
	DefaultPollInterval    = 10 * time.Millisecond
	DefaultReadTimeout     = 5 * time.Second
)

var errClosed = errors.New("lora: radio closed")

// Config describes the modem wiring and channel.
type Config struct {
	// SPIPort is the periph port name, e.g. "/dev/spidev0.0". Empty picks the first port.
	SPIPort         string
	// ResetPin is the GPIO wired to the modem's reset line. Empty skips the reset pulse.
	ResetPin        string
	SPISpeedHz      int64
	FrequencyHz     int64
	SpreadingFactor int
	SyncWord        byte
	PollInterval    time.Duration
	ReadTimeout     time.Duration
}

func (c *Config) setDefaults() {
	if c.SPISpeedHz <= 0 {
		c.SPISpeedHz = DefaultSPISpeedHz
	}
	if c.FrequencyHz <= 0 {
		c.FrequencyHz = DefaultFrequencyHz
	}
	if c.SpreadingFactor < 6 || c.SpreadingFactor > 12 {
		c.SpreadingFactor = DefaultSpreadingFactor
	}
	if c.SyncWord == 0 {
		c.SyncWord = DefaultSyncWord
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
}

// txer is the part of spi.Conn the driver needs.
type txer interface {
	Tx(w, r []byte) error
}

// Radio is a ports.ByteSource yielding the payload of each received packet.
type Radio struct {
	cfg    Config
	conn   txer
	port   spi.PortCloser
	logger ports.Logger

	mu      sync.Mutex
	closed  bool
	pending []byte
}

// Open initializes the host drivers, connects to the modem and puts it in
// continuous receive mode.
func Open(cfg Config, logger ports.Logger) (*Radio, error) {
	cfg.setDefaults()

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("lora: host init: %w", err)
	}
	port, err := spireg.Open(cfg.SPIPort)
	if err != nil {
		return nil, fmt.Errorf("lora: open spi %q: %w", cfg.SPIPort, err)
	}
	conn, err := port.Connect(physic.Frequency(cfg.SPISpeedHz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("lora: connect spi: %w", err)
	}

	if cfg.ResetPin != "" {
		if err := pulseReset(cfg.ResetPin); err != nil {
			port.Close()
			return nil, err
		}
	}

	r := newRadio(cfg, conn, logger)
	r.port = port
	if err := r.init(); err != nil {
		port.Close()
		return nil, err
	}
	logger.Info("lora modem ready",
		ports.Int64("frequency_hz", cfg.FrequencyHz),
		ports.Int("spreading_factor", cfg.SpreadingFactor))
	return r, nil
}

func newRadio(cfg Config, conn txer, logger ports.Logger) *Radio {
	cfg.setDefaults()
	return &Radio{cfg: cfg, conn: conn, logger: logger}
}

func pulseReset(name string) error {
	pin := gpioreg.ByName(name)
	if pin == nil {
		return fmt.Errorf("lora: unknown reset pin %q", name)
	}
	if err := pin.Out(gpio.Low); err != nil {
		return fmt.Errorf("lora: reset low: %w", err)
	}
	time.Sleep(time.Millisecond)
	if err := pin.Out(gpio.High); err != nil {
		return fmt.Errorf("lora: reset high: %w", err)
	}
	time.Sleep(5 * time.Millisecond)
	return nil
}

func (r *Radio) init() error {
	v, err := r.readReg(regVersion)
	if err != nil {
		return err
	}
	if v != chipVersion {
		return fmt.Errorf("lora: unexpected chip version 0x%02X", v)
	}

	frf := (uint64(r.cfg.FrequencyHz) << 19) / fxosc
	steps := []struct{ reg, val byte }{
		{regOpMode, modeLongRange | modeSleep},
		{regFrfMsb, byte(frf >> 16)},
		{regFrfMid, byte(frf >> 8)},
		{regFrfLsb, byte(frf)},
		{regFifoTxBaseAddr, 0},
		{regFifoRxBaseAddr, 0},
		{regLna, 0x23},
		// BW 125 kHz, CR 4/5, explicit header.
		{regModemConfig1, 0x72},
		// Spreading factor with payload CRC on.
		{regModemConfig2, byte(r.cfg.SpreadingFactor)<<4 | 0x04},
		{regModemConfig3, 0x04},
		{regSyncWord, r.cfg.SyncWord},
		{regOpMode, modeLongRange | modeStandby},
		{regIrqFlags, 0xFF},
		{regOpMode, modeLongRange | modeRxContinuous},
	}
	for _, s := range steps {
		if err := r.writeReg(s.reg, s.val); err != nil {
			return err
		}
	}
	return nil
}

// Read returns bytes of the next received packet, waiting at most the read
// timeout. Packets that fail the modem's CRC are discarded.
func (r *Radio) Read(p []byte) (int, error) {
	deadline := time.Now().Add(r.cfg.ReadTimeout)
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return 0, errClosed
		}
		if len(r.pending) > 0 {
			n := copy(p, r.pending)
			r.pending = r.pending[n:]
			r.mu.Unlock()
			return n, nil
		}
		packet, err := r.receive()
		if err != nil {
			r.mu.Unlock()
			return 0, err
		}
		r.pending = packet
		r.mu.Unlock()

		if packet != nil {
			continue
		}
		if time.Now().After(deadline) {
			return 0, nil
		}
		time.Sleep(r.cfg.PollInterval)
	}
}

// receive drains one packet from the FIFO if the modem flagged RxDone.
// It returns nil when nothing is waiting.
func (r *Radio) receive() ([]byte, error) {
	flags, err := r.readReg(regIrqFlags)
	if err != nil {
		return nil, err
	}
	if flags&irqRxDone == 0 {
		return nil, nil
	}
	defer r.writeReg(regIrqFlags, 0xFF)

	if flags&irqPayloadCrcError != 0 {
		r.logger.Warn("lora packet failed modem crc")
		return nil, nil
	}

	size, err := r.readReg(regRxNbBytes)
	if err != nil {
		return nil, err
	}
	addr, err := r.readReg(regFifoRxCurrent)
	if err != nil {
		return nil, err
	}
	if err := r.writeReg(regFifoAddrPtr, addr); err != nil {
		return nil, err
	}

	w := make([]byte, int(size)+1)
	rd := make([]byte, len(w))
	w[0] = regFifo
	if err := r.conn.Tx(w, rd); err != nil {
		return nil, fmt.Errorf("lora: read fifo: %w", err)
	}
	return rd[1:], nil
}

func (r *Radio) readReg(reg byte) (byte, error) {
	w := []byte{reg &^ writeBit, 0}
	rd := make([]byte, 2)
	if err := r.conn.Tx(w, rd); err != nil {
		return 0, fmt.Errorf("lora: read reg 0x%02X: %w", reg, err)
	}
	return rd[1], nil
}

func (r *Radio) writeReg(reg, val byte) error {
	w := []byte{reg | writeBit, val}
	if err := r.conn.Tx(w, make([]byte, 2)); err != nil {
		return fmt.Errorf("lora: write reg 0x%02X: %w", reg, err)
	}
	return nil
}

// Close puts the modem to sleep and releases the SPI port.
func (r *Radio) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.writeReg(regOpMode, modeLongRange|modeSleep)
	if r.port != nil {
		if cerr := r.port.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

var _ ports.ByteSource = (*Radio)(nil)
