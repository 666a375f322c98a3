// Package mqtt is the MQTT broker session. It publishes sensor payloads,
// reports session transitions and keeps the request-topic subscription
// alive across reconnects.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/bft-labs/sensorship/internal/domain"
	"github.com/bft-labs/sensorship/internal/ports"
)

// Defaults applied by New when a Config field is left zero.
const (
	DefaultKeepAlive            = 60 * time.Second
	DefaultConnectTimeout       = 5 * time.Second
	DefaultMaxReconnectInterval = 10 * time.Second
	DefaultPublishTimeout       = 5 * time.Second

	eventBuffer = 8
	timeLayout  = "2006-01-02 15:04:05"
)

var errNotConnected = errors.New("mqtt: not connected")

// TLSConfig points at the PEM files used for an ssl:// or tls:// server.
type TLSConfig struct {
	CAFile   string
	CertFile string
	// KeyFile may be empty when CertFile holds both certificate and key.
	KeyFile  string
}

// Enabled reports whether any TLS material is configured.
func (t TLSConfig) Enabled() bool {
	return t.CAFile != "" || t.CertFile != ""
}

// Config holds the session settings.
type Config struct {
	Server               string
	ClientID             string
	Username             string
	Password             string
	KeepAlive            time.Duration
	CleanSession         bool
	QoS                  byte
	SubTopic             string
	LogTopic             string
	ConnectTimeout       time.Duration
	MaxReconnectInterval time.Duration
	PublishTimeout       time.Duration
	TLS                  TLSConfig
}

func (c *Config) setDefaults() {
	if c.ClientID == "" {
		c.ClientID = uuid.NewString()
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = DefaultKeepAlive
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.MaxReconnectInterval <= 0 {
		c.MaxReconnectInterval = DefaultMaxReconnectInterval
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = DefaultPublishTimeout
	}
}

// Client implements ports.Broker on top of the paho client.
type Client struct {
	cfg    Config
	client paho.Client
	logger ports.Logger
	now    func() time.Time

	mu     sync.Mutex
	events chan domain.Connectivity
	closed bool
}

// New builds a client. It does not connect.
func New(cfg Config, logger ports.Logger) (*Client, error) {
	cfg.setDefaults()
	if cfg.Server == "" {
		return nil, fmt.Errorf("%w: mqtt server is required", domain.ErrInvalidConfig)
	}

	c := newClient(cfg, logger)
	opts, err := c.options()
	if err != nil {
		return nil, err
	}
	c.client = paho.NewClient(opts)
	return c, nil
}

func newClient(cfg Config, logger ports.Logger) *Client {
	return &Client{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		events: make(chan domain.Connectivity, eventBuffer),
	}
}

func (c *Client) options() (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().
		AddBroker(c.cfg.Server).
		SetClientID(c.cfg.ClientID).
		SetKeepAlive(c.cfg.KeepAlive).
		SetCleanSession(c.cfg.CleanSession).
		SetConnectTimeout(c.cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(c.cfg.MaxReconnectInterval).
		SetConnectRetry(true).
		SetConnectRetryInterval(c.cfg.MaxReconnectInterval).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost).
		SetReconnectingHandler(func(paho.Client, *paho.ClientOptions) {
			c.logger.Debug("mqtt reconnecting", ports.String("server", c.cfg.Server))
		})
	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}
	if c.cfg.TLS.Enabled() {
		tlsCfg, err := buildTLS(c.cfg.TLS)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	return opts, nil
}

func buildTLS(t TLSConfig) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if t.CAFile != "" {
		pem, err := os.ReadFile(t.CAFile)
		if err != nil {
			return nil, fmt.Errorf("mqtt: read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("mqtt: no certificates in %s", t.CAFile)
		}
		cfg.RootCAs = pool
	}
	if t.CertFile != "" {
		keyFile := t.KeyFile
		if keyFile == "" {
			keyFile = t.CertFile
		}
		cert, err := tls.LoadX509KeyPair(t.CertFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("mqtt: load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

// Connect starts the session. The first connection and every later one are
// retried in the background and reported through Events.
func (c *Client) Connect(ctx context.Context) error {
	c.logger.Info("connecting to mqtt broker",
		ports.String("server", c.cfg.Server),
		ports.String("client_id", c.cfg.ClientID))

	token := c.client.Connect()
	go func() {
		select {
		case <-token.Done():
			if err := token.Error(); err != nil {
				c.logger.Error("mqtt connect failed", ports.Err(err))
			}
		case <-ctx.Done():
		}
	}()
	return nil
}

func (c *Client) onConnect(client paho.Client) {
	c.logger.Info("connected to mqtt broker", ports.String("server", c.cfg.Server))
	c.emit(domain.Connected)

	if c.cfg.SubTopic == "" {
		return
	}
	token := client.Subscribe(c.cfg.SubTopic, c.cfg.QoS, c.onMessage)
	go func() {
		if !token.WaitTimeout(c.cfg.ConnectTimeout) {
			c.logger.Warn("mqtt subscribe timed out", ports.String("topic", c.cfg.SubTopic))
			return
		}
		if err := token.Error(); err != nil {
			c.logger.Error("mqtt subscribe failed",
				ports.String("topic", c.cfg.SubTopic), ports.Err(err))
			return
		}
		c.logger.Debug("mqtt subscribed",
			ports.String("topic", c.cfg.SubTopic), ports.Int("qos", int(c.cfg.QoS)))
	}()
}

func (c *Client) onConnectionLost(_ paho.Client, err error) {
	c.logger.Warn("mqtt connection lost", ports.Err(err))
	c.emit(domain.Disconnected)
}

func (c *Client) onMessage(_ paho.Client, msg paho.Message) {
	c.logger.Debug("mqtt message received",
		ports.String("topic", msg.Topic()),
		ports.String("payload", string(msg.Payload())))
}

// emit queues a transition. When the buffer is full the oldest entry is
// dropped so the newest state always gets through.
func (c *Client) emit(link domain.Connectivity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	for {
		select {
		case c.events <- link:
			return
		default:
		}
		select {
		case <-c.events:
		default:
		}
	}
}

// Events implements ports.ConnectivityMonitor.
func (c *Client) Events() <-chan domain.Connectivity {
	return c.events
}

// Publish sends payload and waits for the broker to acknowledge it.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if !c.client.IsConnectionOpen() {
		return errNotConnected
	}

	if err := c.wait(ctx, c.client.Publish(topic, c.cfg.QoS, false, payload)); err != nil {
		return fmt.Errorf("mqtt: publish %s: %w", topic, err)
	}

	if c.cfg.LogTopic != "" {
		c.publishStatus()
	}
	return nil
}

// publishStatus reports the publish time on the log topic. Failures are
// only logged.
func (c *Client) publishStatus() {
	line := statusLine(c.now())
	token := c.client.Publish(c.cfg.LogTopic, c.cfg.QoS, false, line)
	go func() {
		if !token.WaitTimeout(c.cfg.PublishTimeout) {
			c.logger.Warn("mqtt status publish timed out", ports.String("topic", c.cfg.LogTopic))
			return
		}
		if err := token.Error(); err != nil {
			c.logger.Warn("mqtt status publish failed",
				ports.String("topic", c.cfg.LogTopic), ports.Err(err))
		}
	}()
}

func (c *Client) wait(ctx context.Context, token paho.Token) error {
	timer := time.NewTimer(c.cfg.PublishTimeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return domain.ErrPublishTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disconnects and closes the event channel.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.events)
	c.mu.Unlock()

	c.client.Disconnect(250)
	return nil
}

func statusLine(t time.Time) []byte {
	return []byte(fmt.Sprintf(`{"LOGS": "[%s]"}`, t.Format(timeLayout)))
}

var _ ports.Broker = (*Client)(nil)
