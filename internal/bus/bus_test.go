package bus

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/jasoncorneliog/caveclaw/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestInboundRoundTrip(t *testing.T) {
	b := New(testLogger())
	msg := domain.InboundMessage{Channel: "test", SenderID: "u", ChatID: "s", Content: "hello"}
	b.PublishInbound(msg)

	got, err := b.ConsumeInbound(context.Background())
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if !reflect.DeepEqual(got, msg) {
		t.Errorf("got %+v, want %+v", got, msg)
	}
}

func TestOutboundRoundTrip(t *testing.T) {
	b := New(testLogger())
	msg := domain.OutboundMessage{Channel: "test", ChatID: "s", Content: "reply"}
	b.PublishOutbound(msg)

	got, err := b.ConsumeOutbound(context.Background())
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if got != msg {
		t.Errorf("got %+v, want %+v", got, msg)
	}
}

func TestInboundFIFOOrder(t *testing.T) {
	b := New(testLogger())
	const n = 100
	for i := 0; i < n; i++ {
		b.PublishInbound(domain.InboundMessage{Channel: "test", ChatID: "s", Content: fmt.Sprintf("%d", i)})
	}
	for i := 0; i < n; i++ {
		got, err := b.ConsumeInbound(context.Background())
		if err != nil {
			t.Fatalf("consume %d: %v", i, err)
		}
		if want := fmt.Sprintf("%d", i); got.Content != want {
			t.Fatalf("message %d: got %q, want %q", i, got.Content, want)
		}
	}
}

func TestQueuesIndependent(t *testing.T) {
	b := New(testLogger())
	b.PublishOutbound(domain.OutboundMessage{Channel: "test", ChatID: "s", Content: "out"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := b.ConsumeInbound(ctx); err == nil {
		t.Error("inbound consume returned an item from the outbound queue")
	}

	got, err := b.ConsumeOutbound(context.Background())
	if err != nil {
		t.Fatalf("consume outbound: %v", err)
	}
	if got.Content != "out" {
		t.Errorf("got %q, want %q", got.Content, "out")
	}
}

func TestConsumeBlocksUntilPublish(t *testing.T) {
	b := New(testLogger())

	done := make(chan domain.InboundMessage, 1)
	go func() {
		msg, err := b.ConsumeInbound(context.Background())
		if err != nil {
			t.Errorf("consume: %v", err)
		}
		done <- msg
	}()

	select {
	case <-done:
		t.Fatal("consume returned before publish")
	case <-time.After(20 * time.Millisecond):
	}

	b.PublishInbound(domain.InboundMessage{Channel: "test", Content: "late"})

	select {
	case msg := <-done:
		if msg.Content != "late" {
			t.Errorf("got %q, want %q", msg.Content, "late")
		}
	case <-time.After(time.Second):
		t.Fatal("consume did not wake after publish")
	}
}

func TestConsumeCancelled(t *testing.T) {
	b := New(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.ConsumeInbound(ctx); err != context.Canceled {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestConcurrentProducers(t *testing.T) {
	b := New(testLogger())
	const producers, perProducer = 8, 50

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				b.PublishInbound(domain.InboundMessage{
					SenderID: fmt.Sprintf("p%d", p),
					Content:  fmt.Sprintf("%d", i),
				})
			}
		}(p)
	}
	wg.Wait()

	// Per-producer order must be preserved; interleaving across producers is free.
	next := make(map[string]int)
	for i := 0; i < producers*perProducer; i++ {
		got, err := b.ConsumeInbound(context.Background())
		if err != nil {
			t.Fatalf("consume %d: %v", i, err)
		}
		if want := fmt.Sprintf("%d", next[got.SenderID]); got.Content != want {
			t.Fatalf("producer %s: got %q, want %q", got.SenderID, got.Content, want)
		}
		next[got.SenderID]++
	}
}
