package lora

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/sensorship/pkg/log"
)

// fakeModem emulates the SX127x register file behind SPI.
type fakeModem struct {
	mu     sync.Mutex
	regs   [0x80]byte
	fifo   [256]byte
	writes []byte
}

func newFakeModem() *fakeModem {
	m := &fakeModem{}
	m.regs[regVersion] = chipVersion
	return m
}

func (m *fakeModem) Tx(w, r []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	reg := w[0] &^ writeBit
	if w[0]&writeBit != 0 {
		m.writes = append(m.writes, reg)
		if reg == regIrqFlags {
			m.regs[reg] &^= w[1]
			return nil
		}
		m.regs[reg] = w[1]
		return nil
	}
	if reg == regFifo {
		ptr := m.regs[regFifoAddrPtr]
		for i := 1; i < len(w); i++ {
			r[i] = m.fifo[ptr]
			ptr++
		}
		m.regs[regFifoAddrPtr] = ptr
		return nil
	}
	r[1] = m.regs[reg]
	return nil
}

func (m *fakeModem) deliver(packet []byte, flags byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	const base = 0x20
	copy(m.fifo[base:], packet)
	m.regs[regFifoRxCurrent] = base
	m.regs[regRxNbBytes] = byte(len(packet))
	m.regs[regIrqFlags] = flags
}

func (m *fakeModem) reg(r byte) byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.regs[r]
}

func newTestRadio(t *testing.T, m *fakeModem) *Radio {
	t.Helper()
	r := newRadio(Config{
		PollInterval: time.Millisecond,
		ReadTimeout:  30 * time.Millisecond,
	}, m, log.NewNoopLogger())
	require.NoError(t, r.init())
	return r
}

func TestRadio_InitConfiguresReceiver(t *testing.T) {
	m := newFakeModem()
	newTestRadio(t, m)

	assert.Equal(t, byte(modeLongRange|modeRxContinuous), m.reg(regOpMode))
	assert.Equal(t, byte(DefaultSyncWord), m.reg(regSyncWord))
	assert.Equal(t, byte(DefaultSpreadingFactor<<4|0x04), m.reg(regModemConfig2))

	// 868.1 MHz
	assert.Equal(t, byte(0xD9), m.reg(regFrfMsb))
	assert.Equal(t, byte(0x06), m.reg(regFrfMid))
	assert.Equal(t, byte(0x66), m.reg(regFrfLsb))
}

func TestRadio_InitRejectsUnknownChip(t *testing.T) {
	m := newFakeModem()
	m.regs[regVersion] = 0x22

	r := newRadio(Config{}, m, log.NewNoopLogger())
	err := r.init()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0x22")
}

func TestRadio_ReadReturnsPacket(t *testing.T) {
	m := newFakeModem()
	r := newTestRadio(t, m)

	packet := []byte{0x7E, 0x04, '0', '1', '2', '3', 0xBB, 0xBB}
	m.deliver(packet, irqRxDone)

	buf := make([]byte, 64)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, packet, buf[:n])
	assert.Zero(t, m.reg(regIrqFlags))
}

func TestRadio_ReadSplitsAcrossSmallBuffers(t *testing.T) {
	m := newFakeModem()
	r := newTestRadio(t, m)
	m.deliver([]byte("abcdef"), irqRxDone)

	buf := make([]byte, 4)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(buf[:n]))

	n, err = r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ef", string(buf[:n]))
}

func TestRadio_ReadDropsCrcFailures(t *testing.T) {
	m := newFakeModem()
	r := newTestRadio(t, m)
	m.deliver([]byte("garbage"), irqRxDone|irqPayloadCrcError)

	n, err := r.Read(make([]byte, 64))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, m.reg(regIrqFlags))
}

func TestRadio_ReadTimesOutEmpty(t *testing.T) {
	r := newTestRadio(t, newFakeModem())

	start := time.Now()
	n, err := r.Read(make([]byte, 8))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestRadio_Close(t *testing.T) {
	m := newFakeModem()
	r := newTestRadio(t, m)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.Equal(t, byte(modeLongRange|modeSleep), m.reg(regOpMode))

	_, err := r.Read(make([]byte, 8))
	assert.ErrorIs(t, err, errClosed)
}
