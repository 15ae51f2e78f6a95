package relay

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"shopnotify/internal/envelope"
	logx "shopnotify/pkg/logx"
)

// conn is one client socket. readPump and writePump are its only readers
// and writers; everything else talks to it through send.
type conn struct {
	id     string
	remote string
	hub    *Hub
	ws     *websocket.Conn
	send   chan []byte
	log    logx.Logger

	// guarded by hub.mu
	channels map[string]struct{}

	closeOnce sync.Once
	done      chan struct{}
}

func newConn(h *Hub, ws *websocket.Conn, remote string) *conn {
	id := uuid.NewString()
	return &conn{
		id:       id,
		remote:   remote,
		hub:      h,
		ws:       ws,
		send:     make(chan []byte, h.cfg.ClientBuffer),
		log:      h.log.With(logx.String("conn", id)),
		channels: map[string]struct{}{},
		done:     make(chan struct{}),
	}
}

// enqueue never blocks. send is never closed, so this is safe after close.
func (c *conn) enqueue(b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *conn) reply(f envelope.Frame) {
	b, err := envelope.Encode(f)
	if err != nil {
		c.log.Warn("encode reply failed", logx.Err(err))
		return
	}
	if !c.enqueue(b) {
		c.hub.drop(f.Channel, c.id, "queue_full")
	}
}

func (c *conn) replyError(channel string, err error) {
	c.reply(envelope.Frame{Event: envelope.EventError, Channel: channel, Error: err.Error()})
}

func (c *conn) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.close()
	}()

	cfg := c.hub.cfg
	c.ws.SetReadLimit(cfg.MaxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	})

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Debug("read failed", logx.Err(err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
		c.handle(msg)
	}
}

var (
	errPublishDisabled = errors.New("publish not allowed on this connection")
	errMissingData     = errors.New("publish without data")
	errUnknownAction   = errors.New("unknown action")
)

func (c *conn) handle(msg []byte) {
	f, err := envelope.Decode(msg)
	if err != nil {
		c.replyError("", err)
		return
	}
	switch f.Action {
	case envelope.ActionSubscribe:
		if err := c.hub.subscribe(c, f.Channel); err != nil {
			c.replyError(f.Channel, err)
			return
		}
		c.reply(envelope.Frame{Event: envelope.EventSubscribed, Channel: f.Channel})
	case envelope.ActionUnsubscribe:
		c.hub.unsubscribe(c, f.Channel)
	case envelope.ActionPublish:
		if !c.hub.cfg.AllowClientPublish {
			c.replyError(f.Channel, errPublishDisabled)
			return
		}
		if f.Data == nil {
			c.replyError(f.Channel, errMissingData)
			return
		}
		if _, err := c.hub.Publish(f, SourceSocket); err != nil {
			c.replyError(f.Channel, err)
		}
	default:
		c.replyError(f.Channel, errUnknownAction)
	}
}

func (c *conn) writePump() {
	cfg := c.hub.cfg
	ticker := time.NewTicker(cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case b := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				c.log.Debug("write failed", logx.Err(err))
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}
	}
}
