// Package domain contains the core domain entities and value objects for sensorship.
//
// This package represents the innermost layer of the Clean Architecture. It has
// no dependencies on infrastructure concerns (broker, serial link, database,
// logging) and contains only pure business logic.
//
// # Entities
//
//   - [Datum]: one unit of work for the data manager (a message or a connectivity notice)
//   - [Record]: a buffered message held in the persistent queue
//   - [Connectivity]: the broker session state as last reported
package domain
