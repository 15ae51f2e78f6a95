package relay

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"shopnotify/internal/bridge"
	"shopnotify/internal/envelope"
	"shopnotify/internal/eventbus"
	logx "shopnotify/pkg/logx"
)

var (
	ErrHubClosed       = errors.New("relay hub closed")
	ErrTooManyChannels = errors.New("too many channels on connection")
)

// Hub routes frames to connections by exact channel name.
type Hub struct {
	cfg     Config
	log     logx.Logger
	bus     eventbus.Bus
	metrics *Metrics
	origin  string

	mu       sync.RWMutex
	conns    map[*conn]struct{}
	channels map[string]map[*conn]struct{}
	outbound chan bridge.Message
	closed   bool

	wg sync.WaitGroup

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Origin      string         `json:"origin"`
	Connections int            `json:"connections"`
	Channels    map[string]int `json:"channels"`
	Published   uint64         `json:"published"`
	Delivered   uint64         `json:"delivered"`
	Dropped     uint64         `json:"dropped"`
}

// NewHub builds an empty hub. bus and metrics may be nil.
func NewHub(cfg Config, log logx.Logger, bus eventbus.Bus, metrics *Metrics) *Hub {
	if log.IsZero() {
		log = logx.Nop()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Hub{
		cfg:      cfg.withDefaults(),
		log:      log,
		bus:      bus,
		metrics:  metrics,
		origin:   uuid.NewString(),
		conns:    map[*conn]struct{}{},
		channels: map[string]map[*conn]struct{}{},
	}
}

// Origin identifies this hub instance on the bridge.
func (h *Hub) Origin() string { return h.origin }

func (h *Hub) Metrics() *Metrics { return h.metrics }

// Publish queues f to every connection subscribed to f.Channel and returns
// how many connections accepted it. Frames that do not fit a connection's
// queue are dropped for that connection.
func (h *Hub) Publish(f envelope.Frame, source string) (int, error) {
	if _, err := envelope.ParseChannel(f.Channel); err != nil {
		return 0, err
	}
	if f.Event == "" {
		f.Event = envelope.EventNotification
	}
	out := envelope.Frame{Event: f.Event, Channel: f.Channel, Data: f.Data}
	b, err := envelope.Encode(out)
	if err != nil {
		return 0, err
	}

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return 0, ErrHubClosed
	}
	set := h.channels[f.Channel]
	targets := make([]*conn, 0, len(set))
	for c := range set {
		targets = append(targets, c)
	}
	outbound := h.outbound
	h.mu.RUnlock()

	delivered, dropped := 0, 0
	for _, c := range targets {
		if c.enqueue(b) {
			delivered++
			continue
		}
		dropped++
		h.drop(f.Channel, c.id, "queue_full")
	}

	if outbound != nil && source != SourceBridge {
		select {
		case outbound <- bridge.Message{Origin: h.origin, Frame: out}:
		default:
			h.drop(f.Channel, "", "bridge_full")
		}
	}

	h.published.Add(1)
	h.delivered.Add(uint64(delivered))
	h.metrics.published.WithLabelValues(source).Inc()
	h.metrics.delivered.Add(float64(delivered))

	id := ""
	if f.Data != nil {
		id = envelope.DedupKey(*f.Data)
	}
	h.emit(EventPublished, PublishedEvent{
		Channel:        f.Channel,
		Event:          f.Event,
		NotificationID: id,
		Source:         source,
		Delivered:      delivered,
		Dropped:        dropped,
	})
	h.log.Debug("published",
		logx.String("channel", f.Channel),
		logx.String("source", source),
		logx.Int("delivered", delivered),
		logx.Int("dropped", dropped),
	)
	return delivered, nil
}

func (h *Hub) drop(channel, connID, reason string) {
	h.dropped.Add(1)
	h.metrics.dropped.WithLabelValues(reason).Inc()
	h.emit(EventDropped, DroppedEvent{Channel: channel, ConnID: connID, Reason: reason})
}

func (h *Hub) emit(typ string, data any) {
	if h.bus == nil {
		return
	}
	h.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

// Serve attaches an upgraded socket to the hub and starts its pumps. It
// returns immediately.
func (h *Hub) Serve(ws *websocket.Conn, remote string) error {
	c := newConn(h, ws, remote)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = ws.Close()
		return ErrHubClosed
	}
	h.conns[c] = struct{}{}
	h.wg.Add(2)
	h.mu.Unlock()

	h.metrics.connections.Inc()
	h.emit(EventConnected, ConnEvent{ConnID: c.id, Remote: remote})
	h.log.Debug("connection opened", logx.String("conn", c.id), logx.String("remote", remote))

	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		c.readPump()
	}()
	return nil
}

func (h *Hub) subscribe(c *conn, channel string) error {
	if _, err := envelope.ParseChannel(channel); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; !ok {
		return ErrHubClosed
	}
	if _, ok := c.channels[channel]; ok {
		return nil
	}
	if len(c.channels) >= h.cfg.MaxChannels {
		return fmt.Errorf("%w (max %d)", ErrTooManyChannels, h.cfg.MaxChannels)
	}
	set := h.channels[channel]
	if set == nil {
		set = map[*conn]struct{}{}
		h.channels[channel] = set
	}
	set[c] = struct{}{}
	c.channels[channel] = struct{}{}
	h.metrics.subscriptions.Inc()
	return nil
}

// unsubscribe is idempotent.
func (h *Hub) unsubscribe(c *conn, channel string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.unsubscribeLocked(c, channel)
}

func (h *Hub) unsubscribeLocked(c *conn, channel string) bool {
	if _, ok := c.channels[channel]; !ok {
		return false
	}
	delete(c.channels, channel)
	if set := h.channels[channel]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(h.channels, channel)
		}
	}
	h.metrics.subscriptions.Dec()
	return true
}

func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	if _, ok := h.conns[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, c)
	for ch := range c.channels {
		h.unsubscribeLocked(c, ch)
	}
	h.mu.Unlock()

	h.metrics.connections.Dec()
	h.emit(EventDisconnected, ConnEvent{ConnID: c.id, Remote: c.remote})
	h.log.Debug("connection closed", logx.String("conn", c.id))
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	st := Stats{
		Origin:      h.origin,
		Connections: len(h.conns),
		Channels:    make(map[string]int, len(h.channels)),
	}
	for ch, set := range h.channels {
		st.Channels[ch] = len(set)
	}
	h.mu.RUnlock()
	st.Published = h.published.Load()
	st.Delivered = h.delivered.Load()
	st.Dropped = h.dropped.Load()
	return st
}

// Close disconnects every connection and waits (up to timeout) for their
// pumps to exit. Later publishes fail with ErrHubClosed.
func (h *Hub) Close(timeout time.Duration) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.close()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("relay hub: timeout waiting for connections to close")
	}
}
