package relay

import "time"

const (
	DefaultClientBuffer    = 64
	DefaultWriteTimeout    = 10 * time.Second
	DefaultPongTimeout     = 60 * time.Second
	DefaultMaxMessageBytes = 64 << 10
	DefaultMaxChannels     = 32
	DefaultBridgeBuffer    = 256
)

// Sources recorded on published frames.
const (
	SourceSocket = "ws"
	SourceHTTP   = "http"
	SourceBridge = "bridge"
)

// Bus event types published by the hub.
const (
	EventConnected    = "relay.connected"
	EventDisconnected = "relay.disconnected"
	EventPublished    = "relay.published"
	EventDropped      = "relay.dropped"
)

type Config struct {
	// ClientBuffer is the per-connection send queue length.
	ClientBuffer int
	WriteTimeout time.Duration
	PongTimeout  time.Duration
	// PingPeriod must be shorter than PongTimeout. 0 means 9/10 of it.
	PingPeriod      time.Duration
	MaxMessageBytes int64
	// MaxChannels caps subscriptions per connection.
	MaxChannels int
	// AllowClientPublish lets socket clients publish. HTTP publishes are
	// always accepted.
	AllowClientPublish bool
}

func (c Config) withDefaults() Config {
	if c.ClientBuffer <= 0 {
		c.ClientBuffer = DefaultClientBuffer
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = DefaultPongTimeout
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongTimeout {
		c.PingPeriod = c.PongTimeout * 9 / 10
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if c.MaxChannels <= 0 {
		c.MaxChannels = DefaultMaxChannels
	}
	return c
}

// PublishedEvent is the Data of EventPublished.
type PublishedEvent struct {
	Channel        string
	Event          string
	NotificationID string
	Source         string
	Delivered      int
	Dropped        int
}

// DroppedEvent is the Data of EventDropped.
type DroppedEvent struct {
	Channel string
	ConnID  string
	Reason  string
}

// ConnEvent is the Data of EventConnected and EventDisconnected.
type ConnEvent struct {
	ConnID string
	Remote string
}
