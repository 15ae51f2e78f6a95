package subscriber

import (
	"strings"
	"testing"

	"shopnotify/internal/envelope"
)

func frame(channel, event, id string) envelope.Frame {
	return envelope.Frame{Event: event, Channel: channel, Data: &envelope.Notification{ID: id, Title: "t", Message: "m"}}
}

func TestDispatchMatchesChannelAndEvent(t *testing.T) {
	r := NewRegistry()
	var a, b, other int
	r.Add("customer-1", envelope.EventNotification, func(envelope.Notification) { a++ })
	r.Add("customer-1", envelope.EventNotification, func(envelope.Notification) { b++ })
	r.Add("customer-1", "status", func(envelope.Notification) { other++ })
	r.Add("customer-2", envelope.EventNotification, func(envelope.Notification) { other++ })

	if n := r.Dispatch(frame("customer-1", envelope.EventNotification, "x")); n != 2 {
		t.Fatalf("Dispatch = %d, want 2", n)
	}
	if a != 1 || b != 1 || other != 0 {
		t.Fatalf("a=%d b=%d other=%d, want 1 1 0", a, b, other)
	}
	if n := r.Dispatch(frame("customer-10", envelope.EventNotification, "x")); n != 0 {
		t.Fatalf("prefix channel matched %d handlers", n)
	}
}

func TestDispatchWithoutData(t *testing.T) {
	r := NewRegistry()
	var got envelope.Notification
	called := false
	r.Add("broadcast", envelope.EventSubscribed, func(n envelope.Notification) { got, called = n, true })
	r.Dispatch(envelope.Frame{Event: envelope.EventSubscribed, Channel: "broadcast"})
	if !called || got.ID != "" {
		t.Fatalf("called=%v got=%+v", called, got)
	}
}

func TestRemoveAndRemoveChannel(t *testing.T) {
	r := NewRegistry()
	s1 := r.Add("staff-1", "notification", func(envelope.Notification) {})
	r.Add("staff-1", "notification", func(envelope.Notification) {})
	r.Add("broadcast", "notification", func(envelope.Notification) {})

	if !r.Remove(s1) {
		t.Fatal("Remove = false")
	}
	if r.Remove(s1) {
		t.Fatal("second Remove = true")
	}
	if got := r.Count("staff-1"); got != 1 {
		t.Fatalf("Count = %d, want 1", got)
	}
	if got := strings.Join(r.Channels(), ","); got != "broadcast,staff-1" {
		t.Fatalf("Channels = %q", got)
	}
	if n := r.RemoveChannel("staff-1"); n != 1 {
		t.Fatalf("RemoveChannel = %d, want 1", n)
	}
	if n := r.RemoveChannel("staff-1"); n != 0 {
		t.Fatalf("second RemoveChannel = %d, want 0", n)
	}
	if n := r.RemoveChannel("never"); n != 0 {
		t.Fatalf("RemoveChannel(never) = %d", n)
	}
	if n := r.Dispatch(frame("staff-1", "notification", "x")); n != 0 {
		t.Fatalf("Dispatch after unsubscribe = %d", n)
	}
}

func TestHandlerMayUnsubscribeItself(t *testing.T) {
	r := NewRegistry()
	var sub *Subscription
	calls := 0
	sub = r.Add("broadcast", "notification", func(envelope.Notification) {
		calls++
		r.Remove(sub)
	})
	r.Dispatch(frame("broadcast", "notification", "1"))
	r.Dispatch(frame("broadcast", "notification", "2"))
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestHandlersGetIndependentCopies(t *testing.T) {
	r := NewRegistry()
	r.Add("broadcast", "notification", func(n envelope.Notification) { _ = n.Extra.Set("seen", true) })
	var second envelope.Notification
	r.Add("broadcast", "notification", func(n envelope.Notification) { second = n })

	f := frame("broadcast", "notification", "1")
	r.Dispatch(f)
	if _, ok := second.Extra.Get("seen"); ok {
		t.Fatal("handler mutation leaked into another handler")
	}
	if f.Data.Extra.Len() != 0 {
		t.Fatal("handler mutation leaked into the frame")
	}
}
