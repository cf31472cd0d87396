package eventbus

import "testing"

func TestPublishFanout(t *testing.T) {
	t.Parallel()

	b := New()
	a, unsubA := b.Subscribe(2)
	c, unsubC := b.Subscribe(2)
	defer unsubC()

	b.Publish(Event{Type: ReminderFired, Data: "Guild Boss"})

	for _, ch := range []<-chan Event{a, c} {
		e := <-ch
		if e.Type != ReminderFired || e.Time.IsZero() {
			t.Fatalf("unexpected event %+v", e)
		}
	}

	unsubA()
	unsubA()
	if _, ok := <-a; ok {
		t.Fatalf("channel should be closed after unsubscribe")
	}
	// Must not panic after unsubscribe.
	b.Publish(Event{Type: ReminderSkipped})
	if e := <-c; e.Type != ReminderSkipped {
		t.Fatalf("remaining subscriber got %+v", e)
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()
	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	if e := <-ch; e.Type != "a" {
		t.Fatalf("first event should win, got %q", e.Type)
	}
	select {
	case e := <-ch:
		t.Fatalf("expected drop, got %q", e.Type)
	default:
	}
}
