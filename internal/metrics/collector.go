// Package metrics exports gateway pipeline counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/bft-labs/sensorship/internal/app"
	"github.com/bft-labs/sensorship/internal/domain"
)

const namespace = "sensorship"

// Collector counts pipeline events. It implements app.PipelineEmitter and
// app.StateEmitter.
type Collector struct {
	framesDecoded   prometheus.Counter
	framesRejected  *prometheus.CounterVec // reason
	messagesDropped *prometheus.CounterVec // reason
	publishes       *prometheus.CounterVec // origin, outcome
	buffered        prometheus.Counter
	deleted         prometheus.Counter
	storeErrors     *prometheus.CounterVec // op
	replayPasses    prometheus.Counter
	replayBacklog   prometheus.Gauge
	replayed        prometheus.Counter
	brokerUp        prometheus.Gauge
	state           *prometheus.GaugeVec // state
}

// NewRegistry returns a registry preloaded with the Go runtime and process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// NewCollector creates the gateway metrics and registers them with reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		framesDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "decoded_total",
			Help:      "Frames that passed length, checksum and text checks.",
		}),
		framesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "rejected_total",
			Help:      "Frames discarded by the decoder.",
		}, []string{"reason"}),
		messagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "dropped_total",
			Help:      "Messages discarded before reaching the broker or the store.",
		}, []string{"reason"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "publishes_total",
			Help:      "Publish attempts by origin and outcome.",
		}, []string{"origin", "outcome"}),
		buffered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "buffered_total",
			Help:      "Messages written to the durable queue.",
		}),
		deleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "deleted_total",
			Help:      "Records removed from the durable queue after delivery.",
		}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "errors_total",
			Help:      "Failed durable queue operations.",
		}, []string{"op"}),
		replayPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replay",
			Name:      "passes_total",
			Help:      "Replay passes started.",
		}),
		replayBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "replay",
			Name:      "backlog_records",
			Help:      "Records found in the queue at the start of the latest pass.",
		}),
		replayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replay",
			Name:      "records_total",
			Help:      "Records handed back to the data manager by the replayer.",
		}),
		brokerUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "connected",
			Help:      "1 while the broker session is up.",
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lifecycle_state",
			Help:      "1 for the gateway's current lifecycle state.",
		}, []string{"state"}),
	}

	for _, col := range []prometheus.Collector{
		c.framesDecoded, c.framesRejected, c.messagesDropped, c.publishes,
		c.buffered, c.deleted, c.storeErrors, c.replayPasses, c.replayBacklog,
		c.replayed, c.brokerUp, c.state,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) OnFrameDecoded()               { c.framesDecoded.Inc() }
func (c *Collector) OnFrameRejected(reason string) { c.framesRejected.WithLabelValues(reason).Inc() }
func (c *Collector) OnMessageDropped(reason string) {
	c.messagesDropped.WithLabelValues(reason).Inc()
}

func (c *Collector) OnPublish(origin string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.publishes.WithLabelValues(origin, outcome).Inc()
}

func (c *Collector) OnBuffered()            { c.buffered.Inc() }
func (c *Collector) OnRecordDeleted()       { c.deleted.Inc() }
func (c *Collector) OnStoreError(op string) { c.storeErrors.WithLabelValues(op).Inc() }

func (c *Collector) OnConnectivity(link domain.Connectivity) {
	if link == domain.Connected {
		c.brokerUp.Set(1)
		return
	}
	c.brokerUp.Set(0)
}

func (c *Collector) OnReplayPass(records int) {
	c.replayPasses.Inc()
	c.replayBacklog.Set(float64(records))
}

func (c *Collector) OnReplayed() { c.replayed.Inc() }

// OnStateChange tracks the lifecycle state as a one-hot gauge.
func (c *Collector) OnStateChange(previous, current app.State, _ string) {
	c.state.WithLabelValues(previous.String()).Set(0)
	c.state.WithLabelValues(current.String()).Set(1)
}

var (
	_ app.PipelineEmitter = (*Collector)(nil)
	_ app.StateEmitter    = (*Collector)(nil)
)
