package memory

import (
	"context"
	"testing"
	"time"
)

func TestSignalBusPublishSubscribe(t *testing.T) {
	bus := NewSignalBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, "index.events")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := bus.Publish(ctx, "index.events", []byte(`{"op":"indexed"}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-ch:
		if string(got) != `{"op":"indexed"}` {
			t.Errorf("received %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}

	// Other channels do not leak in.
	if err := bus.Publish(ctx, "other.channel", []byte("x")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case got := <-ch:
		t.Errorf("unexpected cross-channel delivery: %q", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSignalBusSubscriptionEndsWithContext(t *testing.T) {
	bus := NewSignalBus()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := bus.Subscribe(ctx, "c")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	cancel()

	select {
	case _, open := <-ch:
		if open {
			t.Error("received a value, want closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context cancel")
	}
}

func TestSignalBusStreamCursor(t *testing.T) {
	bus := NewSignalBus()
	ctx := context.Background()

	for _, payload := range []string{"a", "b", "c"} {
		if err := bus.StreamAppend(ctx, "s", []byte(payload)); err != nil {
			t.Fatalf("StreamAppend: %v", err)
		}
	}

	msgs, err := bus.StreamRead(ctx, "s", "0", 10)
	if err != nil {
		t.Fatalf("StreamRead: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("read %d messages from the start, want 3", len(msgs))
	}

	// Resume from the second message's ID.
	tail, err := bus.StreamRead(ctx, "s", msgs[1].ID, 10)
	if err != nil {
		t.Fatalf("StreamRead: %v", err)
	}
	if len(tail) != 1 || string(tail[0].Payload) != "c" {
		t.Errorf("tail = %+v, want just %q", tail, "c")
	}

	// Count caps the batch.
	capped, err := bus.StreamRead(ctx, "s", "0", 2)
	if err != nil {
		t.Fatalf("StreamRead: %v", err)
	}
	if len(capped) != 2 {
		t.Errorf("read %d messages with count 2, want 2", len(capped))
	}
}

func TestSignalBusStreamsIndependent(t *testing.T) {
	bus := NewSignalBus()
	ctx := context.Background()

	bus.StreamAppend(ctx, "s1", []byte("x"))
	msgs, err := bus.StreamRead(ctx, "s2", "0", 10)
	if err != nil {
		t.Fatalf("StreamRead: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("read %d messages from an untouched stream, want 0", len(msgs))
	}
}
