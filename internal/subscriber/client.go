package subscriber

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"shopnotify/internal/envelope"
	logx "shopnotify/pkg/logx"
)

var ErrClosed = errors.New("subscriber: closed")

type Config struct {
	URL          string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

// Client is one physical relay connection shared by many subscriptions.
type Client struct {
	cfg Config
	log logx.Logger
	reg *Registry
	ws  *websocket.Conn

	// mu serializes subscription transitions with their control writes.
	mu     sync.Mutex
	closed bool
}

// Dial connects to the relay. A dial that outlives DialTimeout (default 5s)
// fails.
func Dial(ctx context.Context, cfg Config, log logx.Logger) (*Client, error) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	dctx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	ws, _, err := websocket.DefaultDialer.DialContext(dctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("subscriber dial %s: %w", cfg.URL, err)
	}
	return &Client{cfg: cfg, log: log, reg: NewRegistry(), ws: ws}, nil
}

// Subscribe registers h for (channel, event). The relay is asked to
// subscribe only when channel had no handlers yet.
func (c *Client) Subscribe(channel, event string, h Handler) (*Subscription, error) {
	if _, err := envelope.ParseChannel(channel); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	first := c.reg.Count(channel) == 0
	sub := c.reg.Add(channel, event, h)
	if first {
		if err := c.control(envelope.ActionSubscribe, channel); err != nil {
			c.reg.Remove(sub)
			return nil, err
		}
		c.log.Debug("subscribed", logx.String("channel", channel))
	}
	return sub, nil
}

// Remove drops one handler and unsubscribes the channel if it was the last.
func (c *Client) Remove(sub *Subscription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.reg.Remove(sub) {
		return nil
	}
	if c.reg.Count(sub.channel) > 0 || c.closed {
		return nil
	}
	return c.control(envelope.ActionUnsubscribe, sub.channel)
}

// Unsubscribe drops every handler on channel. It is safe to call for a
// channel that was never subscribed.
func (c *Client) Unsubscribe(channel string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reg.RemoveChannel(channel) == 0 || c.closed {
		return nil
	}
	c.log.Debug("unsubscribed", logx.String("channel", channel))
	return c.control(envelope.ActionUnsubscribe, channel)
}

func (c *Client) Channels() []string { return c.reg.Channels() }

// control must be called with mu held.
func (c *Client) control(action envelope.Action, channel string) error {
	b, err := envelope.Encode(envelope.Frame{Action: action, Channel: channel})
	if err != nil {
		return err
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
		return fmt.Errorf("subscriber %s %s: %w", action, channel, err)
	}
	return nil
}

// Run reads frames and dispatches them until ctx is done or the connection
// fails. It returns nil on ctx cancellation or a clean close.
func (c *Client) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	for {
		_, b, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || c.isClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("subscriber read: %w", err)
		}
		f, err := envelope.Decode(b)
		if err != nil {
			c.log.Warn("dropping malformed frame", logx.Err(err))
			continue
		}
		if f.Event == envelope.EventError {
			c.log.Warn("relay error", logx.String("channel", f.Channel), logx.String("error", f.Error))
		}
		c.reg.Dispatch(f)
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = c.ws.Close()
	return nil
}
