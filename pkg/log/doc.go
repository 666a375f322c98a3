// Package log provides a logging abstraction for sensorship components.
//
// This package defines a Logger interface that can be implemented by
// any logging library. Default implementations are provided for zerolog
// and a no-op logger for testing.
//
// # Usage
//
// Build the process logger from a sink configuration:
//
//	logger, closer, err := log.NewSink(log.SinkConfig{
//	    FilePath: "/var/log/sensorship/gateway.log",
//	    Level:    "info",
//	})
//
// Or wrap an existing zerolog logger:
//
//	logger := log.NewZerologAdapterWithLogger(zerolog.New(os.Stderr))
//
// Or use the no-op logger for testing:
//
//	logger := log.NewNoopLogger()
//
// # Version
//
// Current version: 1.1.0
// Minimum compatible version: 1.0.0
package log
