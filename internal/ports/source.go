package ports

import "context"

// ByteSource is a raw byte stream from the sensor link.
// Read may return (0, nil) when the link's read timeout elapses.
type ByteSource interface {
	Read(p []byte) (int, error)
	Close() error
}

// MessageSource yields whole sensor readings.
type MessageSource interface {
	// Next blocks until a reading is available, the context is done, or
	// the source fails.
	Next(ctx context.Context) (string, error)

	// Close releases the underlying device or file.
	Close() error
}

// SourceOpener opens (or reopens) the configured sensor source.
type SourceOpener func(ctx context.Context) (MessageSource, error)
