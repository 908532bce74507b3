package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/vsariola/kantele/engine"
	"go.uber.org/zap"
)

func TestMemoryBusDeliversInOrder(t *testing.T) {
	bus := NewMemoryBus(16)
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan int64, 16)
	if err := bus.Subscribe(ctx, func(ctx context.Context, n engine.Notification) error {
		got <- n.Block
		return nil
	}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	for i := int64(0); i < 5; i++ {
		if err := bus.Publish(ctx, engine.Notification{Kind: engine.NoteScoreApplied, Block: i}); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}
	for i := int64(0); i < 5; i++ {
		b, ok := engine.TimeoutReceive(got, time.Second)
		if !ok {
			t.Fatalf("notification %d not delivered", i)
		}
		if b != i {
			t.Fatalf("expected block %d, got %d", i, b)
		}
	}
}

func TestMemoryBusSubscriptionEnds(t *testing.T) {
	bus := NewMemoryBus(1)
	ctx, cancel := context.WithCancel(context.Background())
	if err := bus.Subscribe(ctx, func(context.Context, engine.Notification) error { return nil }); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if bus.Subscribers() != 1 {
		t.Fatalf("expected one subscriber, got %d", bus.Subscribers())
	}
	cancel()
	deadline := time.Now().Add(time.Second)
	for bus.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscription did not end after cancel")
		}
		time.Sleep(time.Millisecond)
	}
	bus.Close()
	if err := bus.Publish(context.Background(), engine.Notification{}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestForwardStopsWhenChannelCloses(t *testing.T) {
	bus := NewMemoryBus(8)
	defer bus.Close()
	got := make(chan engine.Notification, 8)
	if err := bus.Subscribe(context.Background(), func(_ context.Context, n engine.Notification) error {
		got <- n
		return nil
	}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	c := make(chan engine.Notification, 2)
	c <- engine.Notification{Kind: engine.NoteCompileApplied}
	c <- engine.Notification{Kind: engine.NoteFinished}
	close(c)
	Forward(context.Background(), c, bus, zap.NewNop())
	for _, want := range []engine.NotificationKind{engine.NoteCompileApplied, engine.NoteFinished} {
		n, ok := engine.TimeoutReceive(got, time.Second)
		if !ok || n.Kind != want {
			t.Fatalf("expected %v, got %v (ok=%v)", want, n.Kind, ok)
		}
	}
}

func TestStreamMessageRoundTrip(t *testing.T) {
	n := engine.Notification{Kind: engine.NoteEventDropped, Update: uuid.New(), Instrument: "7", Block: 12, Message: "unknown instrument"}
	values, err := encode(n)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if values["kind"] != "event-dropped" {
		t.Errorf("unexpected kind field %v", values["kind"])
	}
	back, err := decode(redis.XMessage{ID: "1-0", Values: values})
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if back.Kind != n.Kind || back.Update != n.Update || back.Instrument != n.Instrument || back.Block != n.Block {
		t.Errorf("expected %+v, got %+v", n, back)
	}
	if _, err := decode(redis.XMessage{ID: "2-0", Values: map[string]interface{}{}}); err == nil {
		t.Errorf("expected a message without data to fail")
	}
}

func TestStreamsBusPublishFailsWithoutServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	defer client.Close()
	bus := NewStreamsBus(client, "kantele:test", 100, "test", "test-1", zap.NewNop())
	if err := bus.Publish(context.Background(), engine.Notification{Kind: engine.NoteFinished}); err == nil {
		t.Errorf("expected publish to fail without a server")
	}
}
