package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bft-labs/sensorship/internal/adapters/lora"
	mqttAdapter "github.com/bft-labs/sensorship/internal/adapters/mqtt"
	natsAdapter "github.com/bft-labs/sensorship/internal/adapters/nats"
	"github.com/bft-labs/sensorship/internal/adapters/serial"
	"github.com/bft-labs/sensorship/internal/adapters/sqlite"
	"github.com/bft-labs/sensorship/internal/adapters/textfile"
	"github.com/bft-labs/sensorship/internal/app"
	"github.com/bft-labs/sensorship/internal/domain"
	"github.com/bft-labs/sensorship/internal/metrics"
	"github.com/bft-labs/sensorship/internal/ports"
	"github.com/bft-labs/sensorship/pkg/template"
)

// Gateway forwards sensor readings to a message broker and buffers them on
// disk while the broker is unreachable. Use New to create one, then Start.
type Gateway struct {
	config    Config
	opts      options
	lifecycle *app.Lifecycle
	logger    ports.Logger
	emitter   *emitter
	registry  *prometheus.Registry
	template  *template.Template
	plugins   []Plugin

	mu     sync.Mutex
	cancel context.CancelFunc
	active []Plugin
}

// New creates a Gateway in StateStopped. It validates the configuration
// but does not touch the sensor, the broker or the database.
func New(cfg Config, opts ...Option) (*Gateway, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := validateModuleVersions(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	registry := o.registry
	if registry == nil {
		registry = metrics.NewRegistry()
	}
	collector, err := metrics.NewCollector(registry)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	em := &emitter{handler: o.eventHandler, metrics: collector, now: time.Now}

	return &Gateway{
		config:    cfg,
		opts:      o,
		lifecycle: app.NewLifecycle(o.logger, em),
		logger:    o.logger,
		emitter:   em,
		registry:  registry,
		template:  template.New(cfg.Template, template.WithLogger(o.logger)),
		plugins:   o.plugins,
	}, nil
}

// Start opens the sensor, the queue and the broker session and runs the
// pipeline in the background. The context bounds the whole run.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.lifecycle.CanStart() {
		return domain.ErrAlreadyRunning
	}
	if err := g.lifecycle.TransitionTo(app.StateStarting, "Start() called"); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.lifecycle.SetCancel(cancel)

	pluginCfg := PluginConfig{
		ConfigPath: g.opts.configPath,
		Logger:     g.logger,
		Gatherer:   g.registry,
		Status:     g.Status,
	}
	g.shutdownPlugins()
	for _, p := range g.plugins {
		if err := p.Initialize(runCtx, pluginCfg); err != nil {
			g.logger.Error("plugin initialization failed",
				ports.String("plugin", p.Name()),
				ports.Err(err))
			g.abortStart(cancel, fmt.Errorf("plugin %s: %w", p.Name(), err))
			return err
		}
		g.active = append(g.active, p)
		g.logger.Info("plugin initialized", ports.String("plugin", p.Name()))
	}

	agent, err := g.buildAgent(runCtx)
	if err != nil {
		g.logger.Error("gateway start failed", ports.Err(err))
		g.abortStart(cancel, err)
		return err
	}

	if err := g.lifecycle.TransitionTo(app.StateRunning, "pipeline starting"); err != nil {
		return err
	}

	g.lifecycle.Go(func() error { return agent.Run(runCtx) })

	return nil
}

func (g *Gateway) abortStart(cancel context.CancelFunc, cause error) {
	cancel()
	g.shutdownPlugins()
	_ = g.lifecycle.Crash(cause)
}

// buildAgent opens the adapters selected by the configuration.
func (g *Gateway) buildAgent(ctx context.Context) (*app.Agent, error) {
	queue := g.opts.queue
	if queue == nil {
		q, err := sqlite.Open(g.config.DatabasePath())
		if err != nil {
			return nil, err
		}
		queue = q
	}

	broker := g.opts.broker
	if broker == nil {
		b, err := newBroker(g.config, g.logger)
		if err != nil {
			queue.Close()
			return nil, err
		}
		broker = b
	}

	opener := g.opts.opener
	if opener == nil {
		opener = g.sourceOpener()
	}
	source, err := opener(ctx)
	if err != nil {
		queue.Close()
		broker.Close()
		return nil, fmt.Errorf("open %s interface: %w", g.config.Interface, err)
	}

	agentCfg := app.AgentConfig{
		Topic:          g.config.PubTopic,
		InputCapacity:  g.config.InputCapacity,
		PublishTimeout: g.config.PublishTimeout,
		ReplayDelay:    g.config.ReplayDelay,
		BackoffInitial: g.config.BackoffInitial,
		BackoffMax:     g.config.BackoffMax,
	}
	return app.NewAgent(agentCfg, source, opener, g.template, broker, queue, g.logger, g.emitter), nil
}

func newBroker(cfg Config, logger ports.Logger) (ports.Broker, error) {
	if cfg.Broker == BrokerNATS {
		c, err := natsAdapter.New(natsAdapter.Config{
			URL:            cfg.ServerURL,
			Name:           cfg.ClientID,
			Username:       cfg.Username,
			Password:       cfg.Password,
			SubTopic:       cfg.SubTopic,
			CAFile:         cfg.CAFile,
			CertFile:       cfg.CertFile,
			KeyFile:        cfg.KeyFile,
			PublishTimeout: cfg.PublishTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	}

	c, err := mqttAdapter.New(mqttAdapter.Config{
		Server:         cfg.ServerURL,
		ClientID:       cfg.ClientID,
		Username:       cfg.Username,
		Password:       cfg.Password,
		KeepAlive:      cfg.KeepAlive,
		CleanSession:   cfg.CleanSession,
		QoS:            byte(cfg.QoS),
		SubTopic:       cfg.SubTopic,
		LogTopic:       cfg.LogTopic,
		PublishTimeout: cfg.PublishTimeout,
		TLS: mqttAdapter.TLSConfig{
			CAFile:   cfg.CAFile,
			CertFile: cfg.CertFile,
			KeyFile:  cfg.KeyFile,
		},
	}, logger)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// sourceOpener opens the configured sensor interface. Frame-based links are
// wrapped in a decoder; the text file already yields whole readings.
func (g *Gateway) sourceOpener() ports.SourceOpener {
	cfg := g.config
	return func(context.Context) (ports.MessageSource, error) {
		switch cfg.Interface {
		case InterfaceSerialPort:
			port, err := serial.Open(serial.Config{Device: cfg.Device, BaudRate: cfg.BaudRate})
			if err != nil {
				return nil, err
			}
			return app.NewFrameSource(port, g.logger, g.emitter), nil
		case InterfaceLoRa:
			radio, err := lora.Open(lora.Config{
				SPIPort:         cfg.LoRa.SPIPort,
				ResetPin:        cfg.LoRa.ResetPin,
				FrequencyHz:     cfg.LoRa.FrequencyHz,
				SpreadingFactor: cfg.LoRa.SpreadingFactor,
				SyncWord:        cfg.LoRa.SyncWord,
			}, g.logger)
			if err != nil {
				return nil, err
			}
			return app.NewFrameSource(radio, g.logger, g.emitter), nil
		case InterfaceTextFile:
			src, err := textfile.Open(textfile.Config{Path: cfg.Device, PollInterval: cfg.PollInterval}, g.logger)
			if err != nil {
				return nil, err
			}
			return src, nil
		default:
			return nil, fmt.Errorf("%w: unknown interface type %q", domain.ErrInvalidConfig, cfg.Interface)
		}
	}
}

// Stop cancels the pipeline and waits for it to persist what it still holds.
// Returns ErrShutdownTimeout if that takes longer than 30 seconds.
// After a crash it only shuts down the plugins and returns ErrNotRunning.
func (g *Gateway) Stop() error {
	g.mu.Lock()

	if !g.lifecycle.CanStop() {
		if g.lifecycle.State() == app.StateCrashed {
			g.shutdownPlugins()
		}
		g.mu.Unlock()
		return domain.ErrNotRunning
	}
	if err := g.lifecycle.TransitionTo(app.StateStopping, "Stop() called"); err != nil {
		g.mu.Unlock()
		return err
	}
	if g.cancel != nil {
		g.cancel()
	}
	g.mu.Unlock()

	err := g.lifecycle.WaitWithTimeout(app.ShutdownTimeout)

	g.mu.Lock()
	g.shutdownPlugins()
	g.mu.Unlock()

	if err != nil {
		_ = g.lifecycle.Crash(err)
	} else {
		_ = g.lifecycle.TransitionTo(app.StateStopped, "graceful shutdown")
	}
	return err
}

// shutdownPlugins stops initialized plugins in reverse order. Callers hold g.mu.
func (g *Gateway) shutdownPlugins() {
	ctx := context.Background()
	for i := len(g.active) - 1; i >= 0; i-- {
		p := g.active[i]
		if err := p.Shutdown(ctx); err != nil {
			g.logger.Error("plugin shutdown failed",
				ports.String("plugin", p.Name()),
				ports.Err(err))
		} else {
			g.logger.Info("plugin shutdown complete", ports.String("plugin", p.Name()))
		}
	}
	g.active = g.active[:0]
}

// Status returns the current lifecycle state.
// Safe to call concurrently from any goroutine.
func (g *Gateway) Status() State {
	return convertState(g.lifecycle.State())
}

// Err returns why the pipeline last crashed, or nil. It is reset by Start.
func (g *Gateway) Err() error {
	return g.lifecycle.Err()
}

// Gatherer exposes the gateway metrics.
func (g *Gateway) Gatherer() prometheus.Gatherer {
	return g.registry
}

// emitter fans pipeline and lifecycle events out to the metrics collector
// and the user's EventHandler.
type emitter struct {
	handler EventHandler
	metrics *metrics.Collector
	now     func() time.Time
}

func (e *emitter) OnStateChange(previous, current app.State, reason string) {
	e.metrics.OnStateChange(previous, current, reason)
	e.handler.OnStateChange(StateChangeEvent{
		Previous: convertState(previous),
		Current:  convertState(current),
		Reason:   reason,
	})
}

func (e *emitter) OnFrameDecoded()               { e.metrics.OnFrameDecoded() }
func (e *emitter) OnFrameRejected(reason string) { e.metrics.OnFrameRejected(reason) }
func (e *emitter) OnMessageDropped(reason string) {
	e.metrics.OnMessageDropped(reason)
}

func (e *emitter) OnPublish(origin string, err error) {
	e.metrics.OnPublish(origin, err)
	e.handler.OnPublish(PublishEvent{Replayed: origin == app.OriginReplay, Err: err, At: e.now()})
}

func (e *emitter) OnBuffered()            { e.metrics.OnBuffered() }
func (e *emitter) OnRecordDeleted()       { e.metrics.OnRecordDeleted() }
func (e *emitter) OnStoreError(op string) { e.metrics.OnStoreError(op) }
func (e *emitter) OnReplayPass(n int)     { e.metrics.OnReplayPass(n) }
func (e *emitter) OnReplayed()            { e.metrics.OnReplayed() }

func (e *emitter) OnConnectivity(link domain.Connectivity) {
	e.metrics.OnConnectivity(link)
	e.handler.OnConnectivity(ConnectivityEvent{Connected: link == domain.Connected, At: e.now()})
}

func convertState(s app.State) State {
	switch s {
	case app.StateStopped:
		return StateStopped
	case app.StateStarting:
		return StateStarting
	case app.StateRunning:
		return StateRunning
	case app.StateStopping:
		return StateStopping
	case app.StateCrashed:
		return StateCrashed
	default:
		return StateStopped
	}
}

var (
	_ app.PipelineEmitter = (*emitter)(nil)
	_ app.StateEmitter    = (*emitter)(nil)
)
