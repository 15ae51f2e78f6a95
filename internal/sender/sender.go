// Package sender publishes notifications to the relay over one shared
// WebSocket connection.
//
// A Sender is constructed once and passed to whoever emits business events.
// It never retries, queues or reconnects: Send reports false when the
// connection is not open, and the caller decides whether that matters.
package sender

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"shopnotify/internal/envelope"
	logx "shopnotify/pkg/logx"
)

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultWriteTimeout   = 10 * time.Second
)

var (
	ErrNotOpen        = errors.New("sender: connection not open")
	ErrClosed         = errors.New("sender: closed")
	ErrConnectTimeout = errors.New("connection timeout")
	ErrConnect        = errors.New("connection error")
)

type Config struct {
	// URL is the relay socket, e.g. ws://127.0.0.1:8080/ws.
	URL            string
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
}

type state uint8

const (
	stateIdle state = iota
	stateConnecting
	stateOpen
	stateClosed
)

// Sender is safe for concurrent use.
type Sender struct {
	cfg Config
	log logx.Logger
	now func() time.Time // stamps notifications; never drives socket deadlines

	mu    sync.Mutex
	ws    *websocket.Conn
	state state
}

func New(cfg Config, log logx.Logger) *Sender {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sender{cfg: cfg, log: log, now: time.Now}
}

// Connect dials the relay once. A dial that does not complete within the
// connect timeout fails with ErrConnectTimeout; other failures wrap
// ErrConnect. Connecting an open sender is a no-op.
func (s *Sender) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case stateOpen:
		s.mu.Unlock()
		return nil
	case stateConnecting:
		s.mu.Unlock()
		return errors.New("sender: connect already in progress")
	case stateClosed:
		s.mu.Unlock()
		return ErrClosed
	}
	s.state = stateConnecting
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		s.mu.Lock()
		s.state = stateIdle
		s.mu.Unlock()
		if isTimeout(ctx, err) {
			err = fmt.Errorf("%w: %s after %s", ErrConnectTimeout, s.cfg.URL, s.cfg.ConnectTimeout)
		} else {
			err = fmt.Errorf("%w: %v", ErrConnect, err)
		}
		s.log.Warn("relay connect failed", logx.String("url", s.cfg.URL), logx.Err(err))
		return err
	}

	s.mu.Lock()
	if s.state != stateConnecting {
		// Closed while dialing.
		s.mu.Unlock()
		_ = ws.Close()
		return ErrClosed
	}
	s.ws = ws
	s.state = stateOpen
	s.mu.Unlock()

	s.log.Info("relay connected", logx.String("url", s.cfg.URL))
	go s.readLoop(ws)
	return nil
}

// readLoop drains relay replies and notices remote close. There is no
// reconnect: once the socket dies, Send returns false.
func (s *Sender) readLoop(ws *websocket.Conn) {
	for {
		_, b, err := ws.ReadMessage()
		if err != nil {
			s.mu.Lock()
			wasOpen := s.ws == ws && s.state == stateOpen
			if s.ws == ws {
				s.ws = nil
				s.state = stateClosed
			}
			s.mu.Unlock()
			_ = ws.Close()
			if wasOpen {
				s.log.Warn("relay connection lost", logx.Err(err))
			}
			return
		}
		if f, err := envelope.Decode(b); err == nil && f.Event == envelope.EventError {
			s.log.Warn("relay rejected frame", logx.String("channel", f.Channel), logx.String("error", f.Error))
		}
	}
}

func (s *Sender) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateOpen
}

// Send builds a notification for target and writes it to the relay. It
// returns true only if the connection was open and the write succeeded.
func (s *Sender) Send(target envelope.Target, title, message string, opts ...Option) bool {
	f, err := s.build(target, title, message, opts)
	if err != nil {
		s.log.Warn("notification not sent", logx.String("channel", target.Channel()), logx.Err(err))
		return false
	}
	if err := s.write(f); err != nil {
		s.log.Warn("notification not sent", logx.String("channel", f.Channel), logx.Err(err))
		return false
	}
	s.log.Debug("notification sent", logx.String("channel", f.Channel), logx.String("id", f.Data.ID))
	return true
}

func (s *Sender) build(target envelope.Target, title, message string, opts []Option) (envelope.Frame, error) {
	if err := target.Validate(); err != nil {
		return envelope.Frame{}, err
	}
	var o sendOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	n := envelope.New(title, message, o.typ, s.now())
	if o.id != "" {
		n.ID = o.id
	}
	for _, kv := range o.extra {
		if err := n.Extra.Set(kv.key, kv.value); err != nil {
			return envelope.Frame{}, err
		}
	}
	return envelope.NotificationFrame(target.Channel(), n), nil
}

func (s *Sender) write(f envelope.Frame) error {
	b, err := envelope.Encode(f)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateOpen || s.ws == nil {
		return ErrNotOpen
	}
	_ = s.ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return s.ws.WriteMessage(websocket.TextMessage, b)
}

// Close sends a close frame and releases the socket. The sender cannot be
// reconnected afterwards.
func (s *Sender) Close() error {
	s.mu.Lock()
	ws := s.ws
	s.ws = nil
	s.state = stateClosed
	s.mu.Unlock()
	if ws == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = ws.Close()
	return nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
