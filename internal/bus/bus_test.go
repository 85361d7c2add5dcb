package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindLoggedOut, Timestamp: time.Now(), Payload: "test"})

	select {
	case evt := <-ch:
		if evt.Kind != KindLoggedOut {
			t.Errorf("got kind %q, want %s", evt.Kind, KindLoggedOut)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(NotifyPrefix, 10)
	defer unsub()

	b.Emit(KindStateChanged, nil)
	b.Notify(Notification{Kind: NotifyQueued, Title: "queued"})

	select {
	case evt := <-ch:
		if evt.Kind != NotifyQueued {
			t.Errorf("got kind %q, want %s", evt.Kind, NotifyQueued)
		}
		n, ok := evt.Payload.(Notification)
		if !ok || n.Title != "queued" {
			t.Errorf("payload = %#v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("session.", 10)
	unsub()

	b.Publish(Event{Kind: KindLoggedOut})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	var dropped []string
	b.OnDrop(func(kind string) { dropped = append(dropped, kind) })
	ch, unsub := b.Subscribe("test.", 1)
	defer unsub()

	b.Publish(Event{Kind: "test.one"})
	b.Publish(Event{Kind: "test.two"})

	if len(dropped) != 1 || dropped[0] != "test.two" {
		t.Errorf("dropped = %v, want [test.two]", dropped)
	}

	evt := <-ch
	if evt.Kind != "test.one" {
		t.Errorf("got %q, want test.one", evt.Kind)
	}
	if evt.Timestamp.IsZero() {
		t.Error("Publish should stamp a zero timestamp")
	}
}

func TestNilBus(t *testing.T) {
	var b *Bus
	b.Emit(KindStateChanged, nil)
	b.Notify(Notification{Kind: NotifyQueued})
}
