package gateway

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/bft-labs/sensorship/internal/app"
	"github.com/bft-labs/sensorship/internal/domain"
	"github.com/bft-labs/sensorship/pkg/template"
)

// BrokerKind selects the broker session implementation.
type BrokerKind string

const (
	BrokerMQTT BrokerKind = "mqtt"
	BrokerNATS BrokerKind = "nats"
)

// InterfaceKind selects where sensor readings come from.
type InterfaceKind string

const (
	InterfaceSerialPort InterfaceKind = "serial_port"
	InterfaceTextFile   InterfaceKind = "text_file"
	InterfaceLoRa       InterfaceKind = "lora"
)

// DefaultDatabaseName is the queue file created under DatabaseDir.
const DefaultDatabaseName = "sensorship.db"

// Config holds the configuration for a Gateway.
// Call SetDefaults before Validate; New does both.
type Config struct {
	// Broker session.
	Broker       BrokerKind
	ServerURL    string
	ClientID     string
	Username     string
	Password     string
	KeepAlive    time.Duration
	CleanSession bool
	CAFile       string
	CertFile     string
	KeyFile      string

	// Topics. SubTopic and LogTopic are optional.
	PubTopic string
	SubTopic string
	LogTopic string
	QoS      int

	// Template renders each reading into the published payload. Example is
	// rendered once at startup to prove the template produces JSON.
	Template string
	Example  string

	// Durable queue location.
	DatabaseDir  string
	DatabaseName string

	// Sensor interface.
	Interface    InterfaceKind
	Device       string
	BaudRate     int
	PollInterval time.Duration
	LoRa         LoRaConfig

	// Pipeline tuning.
	InputCapacity  int
	PublishTimeout time.Duration
	ReplayDelay    time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// LoRaConfig describes an SX127x modem on SPI. Zero fields take the
// driver defaults (868.1 MHz, SF7, sync word 0x12).
type LoRaConfig struct {
	SPIPort         string
	ResetPin        string
	FrequencyHz     int64
	SpreadingFactor int
	SyncWord        byte
}

// SetDefaults fills zero fields with default values.
func (c *Config) SetDefaults() {
	if c.Broker == "" {
		c.Broker = BrokerMQTT
	}
	if c.Interface == "" {
		c.Interface = InterfaceSerialPort
	}
	if c.DatabaseName == "" {
		c.DatabaseName = DefaultDatabaseName
	}
	if c.InputCapacity <= 0 {
		c.InputCapacity = app.DefaultInputCapacity
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = app.DefaultPublishTimeout
	}
	if c.ReplayDelay <= 0 {
		c.ReplayDelay = app.DefaultReplayDelay
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = app.DefaultBackoffInitial
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = app.DefaultBackoffMax
	}
}

// Validate reports the first configuration error found.
func (c *Config) Validate() error {
	switch c.Broker {
	case BrokerMQTT, BrokerNATS:
	default:
		return invalid("unknown broker %q", c.Broker)
	}
	if c.ServerURL == "" {
		return invalid("server address is required")
	}
	if c.PubTopic == "" {
		return invalid("publish topic is required")
	}
	if c.QoS < 0 || c.QoS > 2 {
		return invalid("qos must be 0, 1 or 2, got %d", c.QoS)
	}
	if c.KeepAlive < 0 {
		return invalid("keep-alive must not be negative")
	}
	if c.PublishTimeout <= 0 {
		return invalid("publish timeout must be positive")
	}
	if c.DatabaseDir == "" {
		return invalid("database path is required")
	}

	switch c.Interface {
	case InterfaceSerialPort, InterfaceTextFile:
		if c.Device == "" {
			return invalid("%s interface needs a device or file name", c.Interface)
		}
	case InterfaceLoRa:
	default:
		return invalid("unknown interface type %q", c.Interface)
	}

	if c.Template == "" {
		return invalid("message template is required")
	}
	if c.Example != "" {
		if err := template.New(c.Template).Validate(c.Example); err != nil {
			return fmt.Errorf("%w: template does not render its example: %v", domain.ErrInvalidConfig, err)
		}
	}
	return nil
}

// DatabasePath is the queue file path.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DatabaseDir, c.DatabaseName)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{domain.ErrInvalidConfig}, args...)...)
}
