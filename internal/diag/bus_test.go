package diag

import "testing"

func TestPublishSubscribe(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(4)
	defer unsub()

	b.Publish(Event{Subsystem: "jitter", StreamID: "s1", TsMs: 1})

	select {
	case e := <-ch:
		if e.Subsystem != "jitter" {
			t.Fatalf("unexpected event: %+v", e)
		}
	default:
		t.Fatal("expected buffered event")
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Subsystem: "a"})
	b.Publish(Event{Subsystem: "b"}) // dropped, consumer hasn't drained

	e := <-ch
	if e.Subsystem != "a" {
		t.Fatalf("expected first event to survive, got %+v", e)
	}
	select {
	case extra := <-ch:
		t.Fatalf("expected no second event, got %+v", extra)
	default:
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	b := NewBus()
	_, unsub := b.Subscribe(1)
	unsub()
	unsub() // must not panic on double-close
	if b.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", b.SubscriberCount())
	}
}
