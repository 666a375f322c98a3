package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/bft-labs/sensorship/pkg/gateway"
)

// FileConfig is the TOML configuration file. Durations are strings
// ("250ms", "5s") except the client keep-alive, which is whole seconds.
type FileConfig struct {
	Log      LogSection      `toml:"log"`
	Server   ServerSection   `toml:"server"`
	TLS      TLSSection      `toml:"tls"`
	Client   ClientSection   `toml:"client"`
	Topic    TopicSection    `toml:"topic"`
	Msg      MsgSection      `toml:"msg"`
	Database DatabaseSection `toml:"database"`
	DataIf   DataIfSection   `toml:"data_if"`
	Replay   ReplaySection   `toml:"replay"`
	Metrics  MetricsSection  `toml:"metrics"`
}

// LogSection configures the log sink. Size is in bytes.
type LogSection struct {
	FilePath string `toml:"file_path"`
	Level    string `toml:"level"`
	Count    int    `toml:"count"`
	Size     int64  `toml:"size"`
}

type ServerSection struct {
	Kind    string `toml:"kind"`
	Address string `toml:"address"`
}

// TLSSection names the PEM files. KeyStore holds both the client
// certificate and its key and is used when CertFile/KeyFile are unset.
type TLSSection struct {
	CAFile   string `toml:"cafile"`
	KeyStore string `toml:"key_store"`
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`
}

type ClientSection struct {
	ID           string `toml:"id"`
	KeepAlive    int    `toml:"keep_alive"`
	Username     string `toml:"username"`
	Password     string `toml:"password"`
	CleanSession *bool  `toml:"clean_session"`
}

type TopicSection struct {
	SubTopic    string `toml:"sub_topic"`
	PubTopic    string `toml:"pub_topic"`
	PubLogTopic string `toml:"pub_log_topic"`
	QoS         *int   `toml:"qos"`
}

type MsgSection struct {
	Example  string `toml:"example"`
	Template string `toml:"template"`
}

type DatabaseSection struct {
	Path string `toml:"path"`
	Name string `toml:"name"`
}

type DataIfSection struct {
	IfName       string      `toml:"if_name"`
	IfType       string      `toml:"if_type"`
	BaudRate     int         `toml:"baud_rate"`
	PollInterval string      `toml:"poll_interval"`
	LoRa         LoRaSection `toml:"lora"`
}

type LoRaSection struct {
	SPIPort         string `toml:"spi_port"`
	ResetPin        string `toml:"reset_pin"`
	Frequency       int64  `toml:"frequency"`
	SpreadingFactor int    `toml:"spreading_factor"`
	SyncWord        int    `toml:"sync_word"`
}

type ReplaySection struct {
	Delay          string `toml:"delay"`
	PublishTimeout string `toml:"publish_timeout"`
	InputCapacity  int    `toml:"input_capacity"`
}

type MetricsSection struct {
	Enabled *bool  `toml:"enabled"`
	Address string `toml:"address"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.sensorship/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".sensorship", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)
	g := &cfg.Gateway

	s.setString("log-file", fc.Log.FilePath, &cfg.Log.FilePath)
	s.setString("log-level", fc.Log.Level, &cfg.Log.Level)
	s.setInt("log-max-backups", fc.Log.Count, &cfg.Log.MaxBackups)
	if fc.Log.Size > 0 {
		s.setInt("log-max-size", int((fc.Log.Size+(1<<20)-1)>>20), &cfg.Log.MaxSizeMB)
	}

	var broker string
	s.setString("broker", fc.Server.Kind, &broker)
	if broker != "" {
		g.Broker = gateway.BrokerKind(broker)
	}
	s.setString("server", fc.Server.Address, &g.ServerURL)

	s.setString("cafile", fc.TLS.CAFile, &g.CAFile)
	s.setString("cert-file", fc.TLS.KeyStore, &g.CertFile)
	s.setString("key-file", fc.TLS.KeyStore, &g.KeyFile)
	s.setString("cert-file", fc.TLS.CertFile, &g.CertFile)
	s.setString("key-file", fc.TLS.KeyFile, &g.KeyFile)

	s.setString("client-id", fc.Client.ID, &g.ClientID)
	s.setSeconds("keep-alive", fc.Client.KeepAlive, &g.KeepAlive)
	s.setString("username", fc.Client.Username, &g.Username)
	s.setString("password", fc.Client.Password, &g.Password)
	s.setBool("clean-session", fc.Client.CleanSession, &g.CleanSession)

	s.setString("sub-topic", fc.Topic.SubTopic, &g.SubTopic)
	s.setString("pub-topic", fc.Topic.PubTopic, &g.PubTopic)
	s.setString("log-topic", fc.Topic.PubLogTopic, &g.LogTopic)
	s.setIntPtr("qos", fc.Topic.QoS, &g.QoS)

	s.setString("template", fc.Msg.Template, &g.Template)
	s.setString("example", fc.Msg.Example, &g.Example)

	s.setString("db-path", fc.Database.Path, &g.DatabaseDir)
	s.setString("db-name", fc.Database.Name, &g.DatabaseName)

	var iface string
	s.setString("if-type", fc.DataIf.IfType, &iface)
	if iface != "" {
		g.Interface = gateway.InterfaceKind(iface)
	}
	s.setString("if-name", fc.DataIf.IfName, &g.Device)
	s.setInt("baud-rate", fc.DataIf.BaudRate, &g.BaudRate)
	if err := s.setDuration("poll-interval", fc.DataIf.PollInterval, &g.PollInterval); err != nil {
		return err
	}

	s.setString("lora-spi", fc.DataIf.LoRa.SPIPort, &g.LoRa.SPIPort)
	s.setString("lora-reset-pin", fc.DataIf.LoRa.ResetPin, &g.LoRa.ResetPin)
	s.setInt64("lora-frequency", fc.DataIf.LoRa.Frequency, &g.LoRa.FrequencyHz)
	s.setInt("lora-sf", fc.DataIf.LoRa.SpreadingFactor, &g.LoRa.SpreadingFactor)
	if sw := fc.DataIf.LoRa.SyncWord; sw > 0 && !changed["lora-sync-word"] {
		if sw > 0xFF {
			return fmt.Errorf("parse lora-sync-word: %d does not fit in a byte", sw)
		}
		g.LoRa.SyncWord = byte(sw)
	}

	if err := s.setDuration("replay-delay", fc.Replay.Delay, &g.ReplayDelay); err != nil {
		return err
	}
	if err := s.setDuration("publish-timeout", fc.Replay.PublishTimeout, &g.PublishTimeout); err != nil {
		return err
	}
	s.setInt("input-capacity", fc.Replay.InputCapacity, &g.InputCapacity)

	s.setBool("metrics", fc.Metrics.Enabled, &cfg.Metrics.Enabled)
	s.setString("metrics-addr", fc.Metrics.Address, &cfg.Metrics.Addr)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
