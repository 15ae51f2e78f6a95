package subscriber

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"shopnotify/internal/envelope"
	"shopnotify/internal/feed"
	"shopnotify/internal/relay"
	logx "shopnotify/pkg/logx"
)

func startRelay(t *testing.T) (*relay.Hub, string) {
	t.Helper()
	hub := relay.NewHub(relay.Config{}, logx.Nop(), nil, nil)
	ts := httptest.NewServer(relay.NewServer(hub, relay.ServerConfig{}, logx.Nop()).Handler())
	t.Cleanup(func() {
		_ = hub.Close(2 * time.Second)
		ts.Close()
	})
	return hub, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dialRunning(t *testing.T, url string) (*Client, <-chan error) {
	t.Helper()
	c, err := Dial(context.Background(), Config{URL: url}, logx.Nop())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = c.Close()
	})
	return c, done
}

// subscribeAcked registers an ack handler before the real handler so the
// test knows the relay has the subscription.
func subscribeAcked(t *testing.T, c *Client, channel string, h Handler) *Subscription {
	t.Helper()
	acked := make(chan struct{}, 1)
	ack, err := c.Subscribe(channel, envelope.EventSubscribed, func(envelope.Notification) {
		select {
		case acked <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Subscribe ack: %v", err)
	}
	sub, err := c.Subscribe(channel, envelope.EventNotification, h)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	select {
	case <-acked:
	case <-time.After(2 * time.Second):
		t.Fatalf("no ack for %s", channel)
	}
	_ = c.Remove(ack)
	return sub
}

type collector struct {
	mu  sync.Mutex
	ids []string
	ch  chan struct{}
}

func newCollector() *collector { return &collector{ch: make(chan struct{}, 64)} }

func (c *collector) handle(n envelope.Notification) {
	c.mu.Lock()
	c.ids = append(c.ids, n.ID)
	c.mu.Unlock()
	c.ch <- struct{}{}
}

func (c *collector) wait(t *testing.T, n int) []string {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("got %d of %d notifications", i, n)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ids...)
}

func publish(t *testing.T, hub *relay.Hub, channel, id string) {
	t.Helper()
	n := envelope.Notification{ID: id, Title: "t", Message: "m"}
	if _, err := hub.Publish(envelope.NotificationFrame(channel, n), relay.SourceHTTP); err != nil {
		t.Fatal(err)
	}
}

func TestClientDispatchesByChannel(t *testing.T) {
	hub, url := startRelay(t)
	c, _ := dialRunning(t, url)

	a, b := newCollector(), newCollector()
	subscribeAcked(t, c, "customer-1", a.handle)
	subscribeAcked(t, c, "broadcast", b.handle)
	if _, err := c.Subscribe("broadcast", envelope.EventNotification, b.handle); err != nil {
		t.Fatal(err)
	}

	publish(t, hub, "customer-2", "skip")
	publish(t, hub, "customer-1", "c1")
	publish(t, hub, "broadcast", "all")

	if got := a.wait(t, 1); len(got) != 1 || got[0] != "c1" {
		t.Fatalf("customer handler got %v", got)
	}
	// Two handlers on broadcast, one physical subscription.
	if got := b.wait(t, 2); len(got) != 2 || got[0] != "all" || got[1] != "all" {
		t.Fatalf("broadcast handlers got %v", got)
	}
	if n := hub.Stats().Channels["broadcast"]; n != 1 {
		t.Fatalf("relay broadcast subscribers = %d, want 1", n)
	}
}

func TestClientUnsubscribe(t *testing.T) {
	hub, url := startRelay(t)
	c, _ := dialRunning(t, url)

	col := newCollector()
	subscribeAcked(t, c, "staff-4", col.handle)
	if err := c.Unsubscribe("staff-4"); err != nil {
		t.Fatal(err)
	}
	if err := c.Unsubscribe("staff-4"); err != nil {
		t.Fatalf("second Unsubscribe: %v", err)
	}
	if err := c.Unsubscribe("customer-never"); err != nil {
		t.Fatalf("Unsubscribe(never): %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.Stats().Channels["staff-4"] != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := hub.Stats().Channels["staff-4"]; n != 0 {
		t.Fatalf("relay still has %d staff-4 subscribers", n)
	}
	if len(c.Channels()) != 0 {
		t.Fatalf("Channels = %v", c.Channels())
	}
}

func TestClientRejectsInvalidChannel(t *testing.T) {
	_, url := startRelay(t)
	c, _ := dialRunning(t, url)
	if _, err := c.Subscribe("orders", envelope.EventNotification, func(envelope.Notification) {}); err == nil {
		t.Fatal("expected invalid channel error")
	}
}

func TestRunReturnsOnRelayClose(t *testing.T) {
	hub, url := startRelay(t)
	_, done := dialRunning(t, url)
	_ = hub.Close(2 * time.Second)
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after the relay closed")
	}
}

func TestFeedWiringDedupes(t *testing.T) {
	hub, url := startRelay(t)
	c, _ := dialRunning(t, url)

	f := feed.New(context.Background(), feed.Config{}, nil, logx.Nop())
	added := make(chan bool, 8)
	b := NewBinding(c, envelope.EventNotification, func(n envelope.Notification) { added <- f.Add(n) })

	// Ack first so the relay has the subscription before publishing.
	acked := make(chan struct{}, 1)
	ack, _ := c.Subscribe("customer-7", envelope.EventSubscribed, func(envelope.Notification) { acked <- struct{}{} })
	if err := b.Bind("customer-7"); err != nil {
		t.Fatal(err)
	}
	<-acked
	_ = c.Remove(ack)

	publish(t, hub, "customer-7", "ord-1")
	publish(t, hub, "customer-7", "ord-1")
	publish(t, hub, "customer-7", "ord-2")

	var results []bool
	for i := 0; i < 3; i++ {
		select {
		case ok := <-added:
			results = append(results, ok)
		case <-time.After(2 * time.Second):
			t.Fatalf("got %d of 3 deliveries", i)
		}
	}
	if !results[0] || results[1] || !results[2] {
		t.Fatalf("Add results = %v, want [true false true]", results)
	}
	items := f.Items()
	if len(items) != 2 || items[0].ID != "ord-2" || items[1].ID != "ord-1" {
		t.Fatalf("feed = %+v", items)
	}
	if f.UnreadCount() != 2 {
		t.Fatalf("UnreadCount = %d, want 2", f.UnreadCount())
	}
}
