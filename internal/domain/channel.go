package domain

import "context"

// Channel is the interface for user-facing transports (Discord, terminal).
// Start blocks until ctx is cancelled or the transport shuts down. An adapter
// publishes exactly one InboundMessage per external event (after any
// allow-list filtering) and delivers every OutboundMessage addressed to it.
type Channel interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
}
