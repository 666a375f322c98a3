package app

import (
	"context"

	"github.com/bft-labs/sensorship/internal/ports"
	"github.com/bft-labs/sensorship/pkg/hdtp"
)

const readBufferSize = 512

// FrameSource turns a raw sensor link into a stream of validated readings.
type FrameSource struct {
	link    ports.ByteSource
	decoder *hdtp.Decoder
	buf     []byte
	pending []byte
	logger  ports.Logger
	emitter PipelineEmitter
}

// NewFrameSource decodes frames arriving on link.
func NewFrameSource(link ports.ByteSource, logger ports.Logger, emitter PipelineEmitter) *FrameSource {
	if emitter == nil {
		emitter = NopPipelineEmitter{}
	}
	return &FrameSource{
		link:    link,
		decoder: hdtp.NewDecoder(logger),
		buf:     make([]byte, readBufferSize),
		logger:  logger,
		emitter: emitter,
	}
}

// Next returns the next valid reading. Rejected frames are counted and skipped.
func (f *FrameSource) Next(ctx context.Context) (string, error) {
	for {
		for len(f.pending) > 0 {
			b := f.pending[0]
			f.pending = f.pending[1:]

			prev := f.decoder.Status()
			st := f.decoder.Input(b)
			if st == prev {
				continue
			}
			switch st {
			case hdtp.StatusFrameReady:
				msg, err := f.decoder.Message()
				if err != nil {
					f.logger.Warn("discarding frame", ports.Err(err))
					f.emitter.OnFrameRejected(ReasonText)
					continue
				}
				f.emitter.OnFrameDecoded()
				return msg, nil
			case hdtp.StatusFrameError:
				f.emitter.OnFrameRejected(ReasonLength)
			case hdtp.StatusChecksumError:
				f.emitter.OnFrameRejected(ReasonChecksum)
			}
		}

		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, err := f.link.Read(f.buf)
		if err != nil {
			return "", err
		}
		f.pending = f.buf[:n]
	}
}

// Close closes the underlying link.
func (f *FrameSource) Close() error {
	return f.link.Close()
}

var _ ports.MessageSource = (*FrameSource)(nil)
