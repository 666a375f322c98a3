package app

import "github.com/bft-labs/sensorship/internal/domain"

// Origin labels used when reporting publish outcomes.
const (
	OriginLive   = "live"
	OriginReplay = "replay"
)

// Reasons a frame or message is discarded before reaching the broker.
const (
	ReasonChecksum    = "checksum"
	ReasonLength      = "length"
	ReasonText        = "text"
	ReasonFormat      = "format"
	ReasonQueueFull   = "queue_full"
	ReasonStaleReplay = "stale_replay"
	ReasonOffline     = "replay_offline"
)

// Store operation labels.
const (
	OpInsert = "insert"
	OpList   = "list"
	OpDelete = "delete"
)

// PipelineEmitter is notified as data moves through the gateway.
// Calls are made synchronously from pipeline goroutines and must not block.
type PipelineEmitter interface {
	OnFrameDecoded()
	OnFrameRejected(reason string)
	OnMessageDropped(reason string)
	OnPublish(origin string, err error)
	OnBuffered()
	OnRecordDeleted()
	OnStoreError(op string)
	OnConnectivity(link domain.Connectivity)
	OnReplayPass(records int)
	OnReplayed()
}

// NopPipelineEmitter ignores every event.
type NopPipelineEmitter struct{}

func (NopPipelineEmitter) OnFrameDecoded()                    {}
func (NopPipelineEmitter) OnFrameRejected(string)             {}
func (NopPipelineEmitter) OnMessageDropped(string)            {}
func (NopPipelineEmitter) OnPublish(string, error)            {}
func (NopPipelineEmitter) OnBuffered()                        {}
func (NopPipelineEmitter) OnRecordDeleted()                   {}
func (NopPipelineEmitter) OnStoreError(string)                {}
func (NopPipelineEmitter) OnConnectivity(domain.Connectivity) {}
func (NopPipelineEmitter) OnReplayPass(int)                   {}
func (NopPipelineEmitter) OnReplayed()                        {}
