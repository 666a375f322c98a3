package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bft-labs/sensorship/internal/ports"
)

// DefaultInputCapacity is the size of the data manager's input queue.
const DefaultInputCapacity = 1024

// AgentConfig contains configuration for the gateway pipeline.
type AgentConfig struct {
	Topic          string
	InputCapacity  int
	PublishTimeout time.Duration
	ReplayDelay    time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// Agent wires the sensor, the data manager, the replayer and the store
// worker together and runs them until the context is canceled.
type Agent struct {
	config   AgentConfig
	broker   ports.Broker
	queue    ports.Queue
	store    *StoreWorker
	manager  *DataManager
	replayer *Replayer
	ingest   *Ingest
	logger   ports.Logger
}

// NewAgent creates a new agent with the given dependencies. source must
// already be open; reopen replaces it after a failure.
func NewAgent(
	config AgentConfig,
	source ports.MessageSource,
	reopen ports.SourceOpener,
	format Formatter,
	broker ports.Broker,
	queue ports.Queue,
	logger ports.Logger,
	emitter PipelineEmitter,
) *Agent {
	if config.InputCapacity <= 0 {
		config.InputCapacity = DefaultInputCapacity
	}
	if emitter == nil {
		emitter = NopPipelineEmitter{}
	}

	store := NewStoreWorker(queue, logger)
	path := NewPublishPath(broker, config.PublishTimeout)
	manager := NewDataManager(config.Topic, config.InputCapacity, path, store, logger, emitter)
	replayer := NewReplayer(store, manager.Input(), manager.ReplayTriggers(), config.ReplayDelay, logger, emitter)
	ingest := NewIngest(source, reopen, format, manager.Input(), logger, emitter)
	if config.BackoffInitial > 0 {
		ingest.WithBackoff(config.BackoffInitial, config.BackoffMax)
	}

	return &Agent{
		config:   config,
		broker:   broker,
		queue:    queue,
		store:    store,
		manager:  manager,
		replayer: replayer,
		ingest:   ingest,
		logger:   logger,
	}
}

// Run executes the pipeline. It returns when ctx is canceled or a worker
// fails. The store outlives the other workers so data still queued at
// shutdown is persisted.
func (a *Agent) Run(ctx context.Context) error {
	storeCtx, stopStore := context.WithCancel(context.WithoutCancel(ctx))
	storeDone := make(chan struct{})
	go func() {
		defer close(storeDone)
		_ = a.store.Run(storeCtx)
	}()
	defer func() {
		stopStore()
		<-storeDone
		if err := a.queue.Close(); err != nil {
			a.logger.Warn("close store", ports.Err(err))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.manager.Run(gctx) })
	g.Go(func() error { return a.manager.WatchConnectivity(gctx, a.broker.Events()) })
	g.Go(func() error { return a.replayer.Run(gctx) })
	g.Go(func() error { return a.ingest.Run(gctx) })

	if err := a.broker.Connect(gctx); err != nil {
		a.logger.Error("broker connect failed", ports.Err(err))
		g.Go(func() error { return fmt.Errorf("connect broker: %w", err) })
	}

	err := g.Wait()
	// Ingest may have queued a reading after the manager drained.
	a.manager.drain(ctx)
	if cerr := a.broker.Close(); cerr != nil {
		a.logger.Warn("close broker", ports.Err(cerr))
	}
	return err
}
