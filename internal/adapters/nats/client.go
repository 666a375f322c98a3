// Package nats is the NATS broker session, an alternative to MQTT for
// gateways that sit on a NATS backbone.
package nats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/bft-labs/sensorship/internal/domain"
	"github.com/bft-labs/sensorship/internal/ports"
)

const (
	DefaultReconnectWait  = 2 * time.Second
	DefaultConnectTimeout = 5 * time.Second
	DefaultPublishTimeout = 5 * time.Second

	eventBuffer = 8
)

var errNotConnected = errors.New("nats: not connected")

// Config holds the session settings.
type Config struct {
	URL            string
	Name           string
	Username       string
	Password       string
	Token          string
	SubTopic       string
	CAFile         string
	CertFile       string
	KeyFile        string
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.Name == "" {
		c.Name = "sensorship-" + uuid.NewString()
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = DefaultReconnectWait
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = DefaultPublishTimeout
	}
}

// conn is the part of *nats.Conn the client uses.
type conn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
	IsConnected() bool
	Close()
}

// Client implements ports.Broker on a NATS connection that reconnects forever.
type Client struct {
	cfg    Config
	logger ports.Logger
	dial   func(url string, opts ...nats.Option) (conn, error)

	mu     sync.Mutex
	conn   conn
	events chan domain.Connectivity
	closed bool
}

// New builds a client. It does not connect.
func New(cfg Config, logger ports.Logger) (*Client, error) {
	cfg.setDefaults()
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: nats url is required", domain.ErrInvalidConfig)
	}
	return &Client{
		cfg:    cfg,
		logger: logger,
		dial: func(url string, opts ...nats.Option) (conn, error) {
			nc, err := nats.Connect(url, opts...)
			if err != nil {
				return nil, err
			}
			return nc, nil
		},
		events: make(chan domain.Connectivity, eventBuffer),
	}, nil
}

func (c *Client) options() []nats.Option {
	opts := []nats.Option{
		nats.Name(c.cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(c.cfg.ReconnectWait),
		nats.Timeout(c.cfg.ConnectTimeout),
		nats.RetryOnFailedConnect(true),
		nats.ConnectHandler(c.handleConnect),
		nats.ReconnectHandler(c.handleConnect),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ClosedHandler(c.handleClosed),
	}
	if c.cfg.Username != "" {
		opts = append(opts, nats.UserInfo(c.cfg.Username, c.cfg.Password))
	}
	if c.cfg.Token != "" {
		opts = append(opts, nats.Token(c.cfg.Token))
	}
	if c.cfg.CAFile != "" {
		opts = append(opts, nats.RootCAs(c.cfg.CAFile))
	}
	if c.cfg.CertFile != "" {
		key := c.cfg.KeyFile
		if key == "" {
			key = c.cfg.CertFile
		}
		opts = append(opts, nats.ClientCert(c.cfg.CertFile, key))
	}
	return opts
}

// Connect dials the server. A server that is not reachable yet is retried
// in the background.
func (c *Client) Connect(_ context.Context) error {
	c.logger.Info("connecting to nats", ports.String("url", c.cfg.URL), ports.String("name", c.cfg.Name))

	nc, err := c.dial(c.cfg.URL, c.options()...)
	if err != nil {
		return fmt.Errorf("nats: connect %s: %w", c.cfg.URL, err)
	}

	c.mu.Lock()
	c.conn = nc
	c.mu.Unlock()

	if c.cfg.SubTopic != "" {
		if _, err := nc.Subscribe(c.cfg.SubTopic, c.handleMessage); err != nil {
			c.logger.Error("nats subscribe failed", ports.String("subject", c.cfg.SubTopic), ports.Err(err))
		}
	}
	return nil
}

func (c *Client) handleConnect(nc *nats.Conn) {
	c.logger.Info("connected to nats", ports.String("server", nc.ConnectedUrl()))
	c.emit(domain.Connected)
}

func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	if err != nil {
		c.logger.Warn("nats disconnected", ports.Err(err))
	}
	c.emit(domain.Disconnected)
}

func (c *Client) handleClosed(*nats.Conn) {
	c.logger.Info("nats connection closed")
}

func (c *Client) handleMessage(msg *nats.Msg) {
	c.logger.Debug("nats message received",
		ports.String("subject", msg.Subject),
		ports.String("payload", string(msg.Data)))
}

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

// Publish sends payload and flushes so the server has it before returning.
func (c *Client) Publish(ctx context.Context, subject string, payload []byte) error {
	c.mu.Lock()
	nc := c.conn
	c.mu.Unlock()
	if nc == nil || !nc.IsConnected() {
		return errNotConnected
	}

	if err := nc.Publish(subject, payload); err != nil {
		return fmt.Errorf("nats: publish %s: %w", subject, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.PublishTimeout)
	defer cancel()
	if err := nc.FlushWithContext(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.ErrPublishTimeout
		}
		return fmt.Errorf("nats: flush: %w", err)
	}
	return nil
}

// Close closes the connection and the event channel.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.events)
	nc := c.conn
	c.mu.Unlock()

	if nc != nil {
		nc.Close()
	}
	return nil
}

var _ ports.Broker = (*Client)(nil)
