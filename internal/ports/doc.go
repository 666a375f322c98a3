// Package ports defines the interfaces (ports) that connect the application
// layer to infrastructure adapters.
//
// In Clean Architecture / Hexagonal Architecture, ports are the boundaries
// between the application core and the outside world. They define what the
// application needs from external systems without specifying how those needs
// are fulfilled.
//
// # Port Interfaces
//
//   - [ByteSource]: Raw bytes from the sensor link (serial port, radio modem)
//   - [MessageSource]: Whole sensor readings (framed links, polled text file)
//   - [Publisher]: Hands a payload to the message broker
//   - [ConnectivityMonitor]: Reports broker session transitions
//   - [Queue]: Durable ordered buffer for undelivered messages
//   - [Logger]: Structured logging abstraction
//
// # Usage
//
// The application layer (internal/app) depends only on these interfaces.
// Infrastructure adapters (internal/adapters) implement these interfaces
// with concrete implementations (SQLite, MQTT, NATS, serial, etc.).
package ports
