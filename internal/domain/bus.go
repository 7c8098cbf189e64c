package domain

import "context"

// MessageBus routes messages between channel adapters and the dispatcher.
// Both queues are FIFO and unbounded: publishing never blocks the producer,
// consuming blocks until an item arrives or ctx is cancelled.
type MessageBus interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, error)
	PublishOutbound(msg OutboundMessage)
	ConsumeOutbound(ctx context.Context) (OutboundMessage, error)
}
