package sender

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"shopnotify/internal/envelope"
	"shopnotify/internal/relay"
	logx "shopnotify/pkg/logx"
)

func startRelay(t *testing.T) (*relay.Hub, string) {
	t.Helper()
	hub := relay.NewHub(relay.Config{AllowClientPublish: true}, logx.Nop(), nil, nil)
	ts := httptest.NewServer(relay.NewServer(hub, relay.ServerConfig{}, logx.Nop()).Handler())
	t.Cleanup(func() {
		_ = hub.Close(2 * time.Second)
		ts.Close()
	})
	return hub, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func listen(t *testing.T, url, channel string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	if err := ws.WriteJSON(envelope.Frame{Action: envelope.ActionSubscribe, Channel: channel}); err != nil {
		t.Fatal(err)
	}
	if f := next(t, ws); f.Event != envelope.EventSubscribed {
		t.Fatalf("ack = %+v", f)
	}
	return ws
}

func next(t *testing.T, ws *websocket.Conn) envelope.Frame {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, b, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	f, err := envelope.Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestSendBeforeConnect(t *testing.T) {
	s := New(Config{URL: "ws://127.0.0.1:1/ws"}, logx.Nop())
	if s.IsOpen() {
		t.Fatal("new sender reports open")
	}
	if s.Send(envelope.Customer("42"), "Booked", "ok") {
		t.Fatal("Send before Connect = true, want false")
	}
}

func TestConnectAndSend(t *testing.T) {
	_, url := startRelay(t)
	sub := listen(t, url, "customer-42")

	s := New(Config{URL: url}, logx.Nop())
	s.now = func() time.Time { return time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC) }
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Close()

	ok := s.Send(envelope.Customer("42"), "Booking confirmed", "See you Monday",
		WithType(envelope.TypeSuccess),
		WithExtra("orderId", 15),
		WithExtra("status", "confirmed"),
	)
	if !ok {
		t.Fatal("Send = false, want true")
	}

	f := next(t, sub)
	if f.Channel != "customer-42" || f.Event != envelope.EventNotification {
		t.Fatalf("frame = %+v", f)
	}
	n := f.Data
	if n.ID == "" || n.Title != "Booking confirmed" || n.Type != envelope.TypeSuccess || n.Read {
		t.Fatalf("data = %+v", n)
	}
	if n.Timestamp != "2024-05-01T08:30:00.000Z" {
		t.Fatalf("timestamp = %q", n.Timestamp)
	}
	if got := strings.Join(n.Extra.Keys(), ","); got != "orderId,status" {
		t.Fatalf("extra keys = %q", got)
	}

	// A pinned clock stamps payloads only; the socket stays usable.
	if !s.Send(envelope.Customer("42"), "Reminder", "Bring the bike at 9") || !s.IsOpen() {
		t.Fatal("second Send failed on an open connection")
	}
	if f := next(t, sub); f.Data == nil || f.Data.Title != "Reminder" {
		t.Fatalf("second frame = %+v", f)
	}
}

func TestSendDefaultsAndOverrides(t *testing.T) {
	_, url := startRelay(t)
	sub := listen(t, url, "broadcast")

	s := New(Config{URL: url}, logx.Nop())
	if err := s.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if !s.Send(envelope.Broadcast, "Holiday", "Closed Friday", WithType("urgent"), WithID("hol-1")) {
		t.Fatal("Send = false")
	}
	f := next(t, sub)
	if f.Data.ID != "hol-1" || f.Data.Type != envelope.TypeInfo {
		t.Fatalf("data = %+v", f.Data)
	}
}

func TestSendRejectsBadInput(t *testing.T) {
	_, url := startRelay(t)
	s := New(Config{URL: url}, logx.Nop())
	if err := s.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if s.Send(envelope.Customer(""), "t", "m") {
		t.Fatal("Send to empty customer = true")
	}
	if s.Send(envelope.Target{}, "t", "m") {
		t.Fatal("Send to zero target = true")
	}
	if s.Send(envelope.Broadcast, "t", "m", WithExtra("title", "clash")) {
		t.Fatal("Send with reserved extra key = true")
	}
	if !s.IsOpen() {
		t.Fatal("rejected input should not close the connection")
	}
}

func TestConnectTimeout(t *testing.T) {
	// Accept TCP but never answer the handshake.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			defer c.Close()
		}
	}()

	s := New(Config{URL: "ws://" + ln.Addr().String() + "/ws", ConnectTimeout: 100 * time.Millisecond}, logx.Nop())
	err = s.Connect(context.Background())
	if !errors.Is(err, ErrConnectTimeout) {
		t.Fatalf("Connect = %v, want ErrConnectTimeout", err)
	}
	if s.IsOpen() {
		t.Fatal("sender open after timeout")
	}
}

func TestConnectError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	s := New(Config{URL: "ws://" + addr + "/ws"}, logx.Nop())
	if err := s.Connect(context.Background()); !errors.Is(err, ErrConnect) {
		t.Fatalf("Connect = %v, want ErrConnect", err)
	}
}

func TestRemoteCloseFlipsState(t *testing.T) {
	hub, url := startRelay(t)
	s := New(Config{URL: url}, logx.Nop())
	if err := s.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !s.IsOpen() {
		t.Fatal("IsOpen = false after Connect")
	}

	_ = hub.Close(2 * time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for s.IsOpen() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.IsOpen() {
		t.Fatal("sender still open after relay closed")
	}
	if s.Send(envelope.Broadcast, "t", "m") {
		t.Fatal("Send after remote close = true")
	}
	if err := s.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("reconnect = %v, want ErrClosed", err)
	}
}

func TestSendAfterClose(t *testing.T) {
	_, url := startRelay(t)
	s := New(Config{URL: url}, logx.Nop())
	if err := s.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if s.Send(envelope.Broadcast, "t", "m") {
		t.Fatal("Send after Close = true")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
