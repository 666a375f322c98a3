package gateway

import "github.com/bft-labs/sensorship/internal/domain"

// Errors returned by the Gateway API. Check them with errors.Is.
var (
	ErrAlreadyRunning    = domain.ErrAlreadyRunning
	ErrNotRunning        = domain.ErrNotRunning
	ErrShutdownTimeout   = domain.ErrShutdownTimeout
	ErrInvalidConfig     = domain.ErrInvalidConfig
	ErrBrokerUnreachable = domain.ErrBrokerUnreachable
	ErrPublishTimeout    = domain.ErrPublishTimeout
)
