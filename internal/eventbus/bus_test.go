package eventbus

import "testing"

func TestSubscribeFiltersByType(t *testing.T) {
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	pubs, unsubPubs := b.Subscribe(4, "relay.published")
	defer unsubPubs()

	b.Publish(Event{Type: "relay.connected"})
	b.Publish(Event{Type: "relay.published", Data: 3})

	if got := len(all); got != 2 {
		t.Fatalf("all subscriber got %d events, want 2", got)
	}
	if got := len(pubs); got != 1 {
		t.Fatalf("filtered subscriber got %d events, want 1", got)
	}
	e := <-pubs
	if e.Data != 3 || e.Time.IsZero() {
		t.Fatalf("event = %+v", e)
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	for i := 0; i < 5; i++ {
		b.Publish(Event{Type: "x"})
	}
	if got := b.Dropped(); got != 4 {
		t.Fatalf("Dropped() = %d, want 4", got)
	}
	unsub()
	unsub()
	b.Publish(Event{Type: "x"})
}
