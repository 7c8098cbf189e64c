package bus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jasoncorneliog/caveclaw/internal/domain"
)

// InMemoryBus is the in-process message bus: two independent unbounded FIFO
// queues connecting channel adapters to the dispatcher and back. Publishing
// never blocks; consuming blocks until an item is available.
type InMemoryBus struct {
	inbound  queue[domain.InboundMessage]
	outbound queue[domain.OutboundMessage]
	logger   *slog.Logger
}

// New creates an empty bus.
func New(logger *slog.Logger) *InMemoryBus {
	return &InMemoryBus{
		inbound:  newQueue[domain.InboundMessage](),
		outbound: newQueue[domain.OutboundMessage](),
		logger:   logger,
	}
}

func (b *InMemoryBus) PublishInbound(msg domain.InboundMessage) {
	b.inbound.push(msg)
	b.logger.Debug("inbound published", "channel", msg.Channel, "chat_id", msg.ChatID)
}

func (b *InMemoryBus) ConsumeInbound(ctx context.Context) (domain.InboundMessage, error) {
	return b.inbound.pop(ctx)
}

func (b *InMemoryBus) PublishOutbound(msg domain.OutboundMessage) {
	b.outbound.push(msg)
	b.logger.Debug("outbound published", "channel", msg.Channel, "chat_id", msg.ChatID)
}

func (b *InMemoryBus) ConsumeOutbound(ctx context.Context) (domain.OutboundMessage, error) {
	return b.outbound.pop(ctx)
}

// queue is an unbounded FIFO. The wake channel holds at most one pending
// signal; a push that races with a consumer's emptiness check leaves the
// signal buffered, so the consumer never sleeps past an available item.
type queue[T any] struct {
	mu    *sync.Mutex
	items *[]T
	wake  chan struct{}
}

func newQueue[T any]() queue[T] {
	return queue[T]{
		mu:    &sync.Mutex{},
		items: &[]T{},
		wake:  make(chan struct{}, 1),
	}
}

func (q queue[T]) push(v T) {
	q.mu.Lock()
	*q.items = append(*q.items, v)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q queue[T]) pop(ctx context.Context) (T, error) {
	for {
		q.mu.Lock()
		if len(*q.items) > 0 {
			v := (*q.items)[0]
			*q.items = (*q.items)[1:]
			q.mu.Unlock()
			return v, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-q.wake:
		}
	}
}
