package cliconfig

import (
	"os"

	"github.com/bft-labs/sensorship/pkg/gateway"
)

// ApplyEnvConfig applies configuration from environment variables (SENSORSHIP_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)
	g := &cfg.Gateway

	s.setString("log-file", os.Getenv("SENSORSHIP_LOG_FILE"), &cfg.Log.FilePath)
	s.setString("log-level", os.Getenv("SENSORSHIP_LOG_LEVEL"), &cfg.Log.Level)

	var broker string
	s.setString("broker", os.Getenv("SENSORSHIP_BROKER"), &broker)
	if broker != "" {
		g.Broker = gateway.BrokerKind(broker)
	}
	s.setString("server", os.Getenv("SENSORSHIP_SERVER"), &g.ServerURL)
	s.setString("client-id", os.Getenv("SENSORSHIP_CLIENT_ID"), &g.ClientID)
	s.setString("username", os.Getenv("SENSORSHIP_USERNAME"), &g.Username)
	s.setString("password", os.Getenv("SENSORSHIP_PASSWORD"), &g.Password)
	s.setString("cafile", os.Getenv("SENSORSHIP_CAFILE"), &g.CAFile)
	s.setString("cert-file", os.Getenv("SENSORSHIP_CERT_FILE"), &g.CertFile)
	s.setString("key-file", os.Getenv("SENSORSHIP_KEY_FILE"), &g.KeyFile)
	if err := s.setDuration("keep-alive", os.Getenv("SENSORSHIP_KEEP_ALIVE"), &g.KeepAlive); err != nil {
		return err
	}
	s.setBoolFromString("clean-session", os.Getenv("SENSORSHIP_CLEAN_SESSION"), &g.CleanSession)

	s.setString("pub-topic", os.Getenv("SENSORSHIP_PUB_TOPIC"), &g.PubTopic)
	s.setString("sub-topic", os.Getenv("SENSORSHIP_SUB_TOPIC"), &g.SubTopic)
	s.setString("log-topic", os.Getenv("SENSORSHIP_LOG_TOPIC"), &g.LogTopic)
	if err := s.setIntFromString("qos", os.Getenv("SENSORSHIP_QOS"), &g.QoS); err != nil {
		return err
	}

	s.setString("template", os.Getenv("SENSORSHIP_TEMPLATE"), &g.Template)
	s.setString("example", os.Getenv("SENSORSHIP_EXAMPLE"), &g.Example)
	s.setString("db-path", os.Getenv("SENSORSHIP_DB_PATH"), &g.DatabaseDir)
	s.setString("db-name", os.Getenv("SENSORSHIP_DB_NAME"), &g.DatabaseName)

	var iface string
	s.setString("if-type", os.Getenv("SENSORSHIP_IF_TYPE"), &iface)
	if iface != "" {
		g.Interface = gateway.InterfaceKind(iface)
	}
	s.setString("if-name", os.Getenv("SENSORSHIP_IF_NAME"), &g.Device)
	if err := s.setIntFromString("baud-rate", os.Getenv("SENSORSHIP_BAUD_RATE"), &g.BaudRate); err != nil {
		return err
	}
	if err := s.setDuration("poll-interval", os.Getenv("SENSORSHIP_POLL_INTERVAL"), &g.PollInterval); err != nil {
		return err
	}

	if err := s.setDuration("replay-delay", os.Getenv("SENSORSHIP_REPLAY_DELAY"), &g.ReplayDelay); err != nil {
		return err
	}
	if err := s.setDuration("publish-timeout", os.Getenv("SENSORSHIP_PUBLISH_TIMEOUT"), &g.PublishTimeout); err != nil {
		return err
	}

	s.setBoolFromString("metrics", os.Getenv("SENSORSHIP_METRICS"), &cfg.Metrics.Enabled)
	s.setString("metrics-addr", os.Getenv("SENSORSHIP_METRICS_ADDR"), &cfg.Metrics.Addr)

	return nil
}
