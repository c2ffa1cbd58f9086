package notifier

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alphaworks/marketplace-messaging/internal/model"
)

func event(conversationID, body string) model.MessageEvent {
	return model.NewMessageEvent(model.Message{
		ID:             "m-" + body,
		ConversationID: conversationID,
		Body:           body,
	})
}

func TestMemoryChannelIsolation(t *testing.T) {
	n := NewMemory()
	ctx := context.Background()

	var mu sync.Mutex
	var a, b []model.MessageEvent
	if err := n.Subscribe("c1", "conn1", func(ev model.MessageEvent) {
		mu.Lock()
		a = append(a, ev)
		mu.Unlock()
	}); err != nil {
		t.Fatal(err)
	}
	if err := n.Subscribe("c2", "conn2", func(ev model.MessageEvent) {
		mu.Lock()
		b = append(b, ev)
		mu.Unlock()
	}); err != nil {
		t.Fatal(err)
	}

	if err := n.Publish(ctx, event("c1", "one")); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(a) != 1 || a[0].Message.Body != "one" {
		t.Fatalf("c1 subscriber got %+v", a)
	}
	if len(b) != 0 {
		t.Fatalf("c2 subscriber must receive nothing, got %+v", b)
	}
}

func TestMemoryUnsubscribeStopsDelivery(t *testing.T) {
	n := NewMemory()
	ctx := context.Background()

	var count atomic.Int64
	if err := n.Subscribe("c1", "conn1", func(model.MessageEvent) {
		count.Add(1)
	}); err != nil {
		t.Fatal(err)
	}

	if err := n.Publish(ctx, event("c1", "one")); err != nil {
		t.Fatal(err)
	}
	n.Unsubscribe("c1", "conn1")
	if err := n.Publish(ctx, event("c1", "two")); err != nil {
		t.Fatal(err)
	}

	if got := count.Load(); got != 1 {
		t.Fatalf("got %d deliveries, want 1", got)
	}

	// Unknown keys are a no-op.
	n.Unsubscribe("c1", "conn1")
	n.Unsubscribe("nope", "conn1")
}

func TestMemoryResubscribeReplacesHandler(t *testing.T) {
	n := NewMemory()
	ctx := context.Background()

	var first, second atomic.Int64
	if err := n.Subscribe("c1", "conn1", func(model.MessageEvent) { first.Add(1) }); err != nil {
		t.Fatal(err)
	}
	if err := n.Subscribe("c1", "conn1", func(model.MessageEvent) { second.Add(1) }); err != nil {
		t.Fatal(err)
	}

	if err := n.Publish(ctx, event("c1", "one")); err != nil {
		t.Fatal(err)
	}
	if first.Load() != 0 || second.Load() != 1 {
		t.Fatalf("replaced handler still firing: first=%d second=%d", first.Load(), second.Load())
	}
}

func TestMemoryConcurrentPublishAndChurn(t *testing.T) {
	n := NewMemory()
	ctx := context.Background()

	var delivered atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			connID := "conn" + string(rune('a'+i))
			for j := 0; j < 100; j++ {
				_ = n.Subscribe("c1", connID, func(model.MessageEvent) {
					delivered.Add(1)
				})
				n.Unsubscribe("c1", connID)
			}
		}(i)
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if err := n.Publish(ctx, event("c1", "x")); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}

	wg.Wait()
}
