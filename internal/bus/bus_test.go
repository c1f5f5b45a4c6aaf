package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe("message.", 8)
	defer unsub()

	b.Publish(New(KindMessageUpsert, "payload"))

	select {
	case evt := <-ch:
		if evt.Kind != KindMessageUpsert {
			t.Errorf("kind = %q, want %q", evt.Kind, KindMessageUpsert)
		}
		if evt.Payload != "payload" {
			t.Errorf("payload = %v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe("chat.", 8)
	defer unsub()

	b.Publish(New(KindMessageUpsert, nil))
	b.Publish(New(KindChatUpdated, nil))

	select {
	case evt := <-ch:
		if evt.Kind != KindChatUpdated {
			t.Errorf("kind = %q, want %q", evt.Kind, KindChatUpdated)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for chat event")
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected second event: %q", evt.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmptyNamespaceReceivesAll(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe("", 8)
	defer unsub()

	b.Publish(New(KindChatUpdated, nil))
	b.Publish(New(KindRTMessage, nil))

	for i := 0; i < 2; i++ {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe("message.", 8)
	unsub()

	b.Publish(New(KindMessageUpsert, nil))

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %q", evt.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe("message.", 1)
	defer unsub()

	// Second publish must not block even though nobody is reading.
	done := make(chan struct{})
	go func() {
		b.Publish(New(KindMessageUpsert, 1))
		b.Publish(New(KindMessageUpsert, 2))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	evt := <-ch
	if evt.Payload != 1 {
		t.Errorf("payload = %v, want 1", evt.Payload)
	}
}
