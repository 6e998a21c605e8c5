package sync

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/huykn/sdn-path-cache/types"
)

func setupRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func subscribed(t *testing.T, client *redis.Client, channel, instanceID string) *PubSubSynchronizer {
	t.Helper()
	s := NewPubSubSynchronizer(client, channel, instanceID)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Subscribe(ctx); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewPubSubSynchronizer(t *testing.T) {
	client := setupRedisClient(t)

	s := NewPubSubSynchronizer(client, "test-channel", "ctrl-1")
	if s.channel != "test-channel" {
		t.Fatalf("Expected channel 'test-channel', got %s", s.channel)
	}
	if s.instanceID != "ctrl-1" {
		t.Fatalf("Expected instanceID 'ctrl-1', got %s", s.instanceID)
	}
}

func TestPubSubSynchronizerPublishAndReceive(t *testing.T) {
	client := setupRedisClient(t)

	sync1 := subscribed(t, client, "test-channel", "ctrl-1")
	sync2 := subscribed(t, client, "test-channel", "ctrl-2")

	received := make(chan InvalidationEvent, 1)
	sync2.OnInvalidate(func(event InvalidationEvent) {
		received <- event
	})

	event := InvalidationEvent{Key: "*", Sender: "ctrl-1", Action: types.Clear}
	if err := sync1.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case got := <-received:
		if got != event {
			t.Fatalf("Expected %+v, got %+v", event, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for event")
	}
}

func TestPubSubSynchronizerIgnoreOwnEvents(t *testing.T) {
	client := setupRedisClient(t)

	s := subscribed(t, client, "test-channel", "ctrl-1")

	received := make(chan InvalidationEvent, 1)
	s.OnInvalidate(func(event InvalidationEvent) {
		received <- event
	})

	event := InvalidationEvent{Key: "k", Sender: "ctrl-1", Action: types.Invalidate}
	if err := s.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case <-received:
		t.Fatal("Should not receive own events")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestPubSubSynchronizerMultipleCallbacks(t *testing.T) {
	client := setupRedisClient(t)

	sync1 := subscribed(t, client, "test-channel", "ctrl-1")
	sync2 := subscribed(t, client, "test-channel", "ctrl-2")

	received1 := make(chan InvalidationEvent, 1)
	received2 := make(chan InvalidationEvent, 1)
	sync2.OnInvalidate(func(event InvalidationEvent) { received1 <- event })
	sync2.OnInvalidate(func(event InvalidationEvent) { received2 <- event })

	event := InvalidationEvent{Key: "k", Sender: "ctrl-1", Action: types.Invalidate}
	if err := sync1.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	timeout := time.After(2 * time.Second)
	count := 0
	for count < 2 {
		select {
		case <-received1:
			count++
		case <-received2:
			count++
		case <-timeout:
			t.Fatalf("Expected 2 callbacks, got %d", count)
		}
	}
}

func TestPubSubSynchronizerIgnoresGarbage(t *testing.T) {
	client := setupRedisClient(t)

	s := subscribed(t, client, "test-channel", "ctrl-2")
	received := make(chan InvalidationEvent, 2)
	s.OnInvalidate(func(event InvalidationEvent) { received <- event })

	ctx := context.Background()
	if err := client.Publish(ctx, "test-channel", "not json").Err(); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	event := InvalidationEvent{Key: "*", Sender: "ctrl-1", Action: types.Clear}
	if err := s.Publish(ctx, event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case got := <-received:
		if got.Action != types.Clear {
			t.Fatalf("Expected clear event, got %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Listener stopped after a malformed payload")
	}
}

func TestPubSubSynchronizerClose(t *testing.T) {
	client := setupRedisClient(t)

	s := NewPubSubSynchronizer(client, "test-channel", "ctrl-1")
	if err := s.Subscribe(context.Background()); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Second close failed: %v", err)
	}
}

func TestPubSubSynchronizerCloseWithoutSubscribe(t *testing.T) {
	client := setupRedisClient(t)

	s := NewPubSubSynchronizer(client, "test-channel", "ctrl-1")
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}
