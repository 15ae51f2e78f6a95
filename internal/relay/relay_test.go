package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"shopnotify/internal/bridge"
	"shopnotify/internal/envelope"
	"shopnotify/internal/eventbus"
	"shopnotify/internal/storage"
	logx "shopnotify/pkg/logx"
)

func newTestServer(t *testing.T, hcfg Config, scfg ServerConfig) (*Hub, *Server, *httptest.Server) {
	t.Helper()
	hub := NewHub(hcfg, logx.Nop(), eventbus.New(), nil)
	srv := NewServer(hub, scfg, logx.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		_ = hub.Close(2 * time.Second)
		ts.Close()
	})
	return hub, srv, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) (envelope.Frame, []byte) {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, b, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	f, err := envelope.Decode(b)
	if err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
	return f, b
}

func subscribe(t *testing.T, ws *websocket.Conn, channel string) {
	t.Helper()
	if err := ws.WriteJSON(envelope.Frame{Action: envelope.ActionSubscribe, Channel: channel}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	f, _ := readFrame(t, ws)
	if f.Event != envelope.EventSubscribed || f.Channel != channel {
		t.Fatalf("ack = %+v, want subscribed %s", f, channel)
	}
}

func postNotify(t *testing.T, ts *httptest.Server, body string, token string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/notify", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestFanOutByChannel(t *testing.T) {
	_, _, ts := newTestServer(t, Config{}, ServerConfig{})

	a := dial(t, ts)
	b := dial(t, ts)
	c := dial(t, ts)
	subscribe(t, a, "customer-1")
	subscribe(t, b, "staff-1")
	subscribe(t, c, "customer-1")
	subscribe(t, c, "broadcast")

	status, resp := postNotify(t, ts, `{"customer_id":"1","title":"Booked","message":"Your booking is confirmed","extra":{"orderId":15}}`, "")
	if status != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (%v)", status, resp)
	}
	if resp["delivered"].(float64) != 2 {
		t.Fatalf("delivered = %v, want 2", resp["delivered"])
	}

	for _, ws := range []*websocket.Conn{a, c} {
		f, raw := readFrame(t, ws)
		if f.Channel != "customer-1" || f.Event != envelope.EventNotification || f.Data == nil {
			t.Fatalf("frame = %+v", f)
		}
		if f.Data.Title != "Booked" || f.Data.ID == "" || f.Data.Timestamp == "" {
			t.Fatalf("data = %+v", f.Data)
		}
		if v, ok := f.Data.Extra.Get("orderId"); !ok || string(v) != "15" {
			t.Fatalf("extra orderId = %s, %v", v, ok)
		}
		if bytes.Contains(raw, []byte(`"action"`)) {
			t.Fatalf("relayed frame carries an action: %s", raw)
		}
	}

	// b must not have seen the customer frame: its next frame is the staff one.
	if status, _ := postNotify(t, ts, `{"staff_id":"1","title":"Assigned","message":"Order 15"}`, ""); status != http.StatusAccepted {
		t.Fatalf("staff status = %d", status)
	}
	f, _ := readFrame(t, b)
	if f.Channel != "staff-1" || f.Data.Title != "Assigned" {
		t.Fatalf("b got %+v, want staff frame", f)
	}
}

func TestSocketPublishWithoutAction(t *testing.T) {
	_, _, ts := newTestServer(t, Config{AllowClientPublish: true}, ServerConfig{})

	sub := dial(t, ts)
	subscribe(t, sub, "broadcast")

	pub := dial(t, ts)
	raw := `{"event":"notification","channel":"broadcast","data":{"id":7,"title":"Closed","message":"Shop closes early","type":"warning","timestamp":"2024-05-01T08:00:00.000Z","read":false}}`
	if err := pub.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}
	f, _ := readFrame(t, sub)
	if f.Data == nil || f.Data.ID != "7" || f.Data.Type != envelope.TypeWarning {
		t.Fatalf("frame = %+v", f)
	}
}

func TestSocketPublishDisabled(t *testing.T) {
	_, _, ts := newTestServer(t, Config{}, ServerConfig{})
	ws := dial(t, ts)
	if err := ws.WriteJSON(envelope.NotificationFrame("broadcast", envelope.Notification{Title: "x", Message: "y"})); err != nil {
		t.Fatal(err)
	}
	f, _ := readFrame(t, ws)
	if f.Event != envelope.EventError || f.Error == "" {
		t.Fatalf("frame = %+v, want error frame", f)
	}
}

func TestSubscribeInvalidChannel(t *testing.T) {
	_, _, ts := newTestServer(t, Config{}, ServerConfig{})
	ws := dial(t, ts)
	if err := ws.WriteJSON(envelope.Frame{Action: envelope.ActionSubscribe, Channel: "orders"}); err != nil {
		t.Fatal(err)
	}
	f, _ := readFrame(t, ws)
	if f.Event != envelope.EventError || f.Channel != "orders" {
		t.Fatalf("frame = %+v, want error for orders", f)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub, _, ts := newTestServer(t, Config{}, ServerConfig{})
	ws := dial(t, ts)
	subscribe(t, ws, "customer-9")
	subscribe(t, ws, "broadcast")
	if err := ws.WriteJSON(envelope.Frame{Action: envelope.ActionUnsubscribe, Channel: "customer-9"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return hub.Stats().Channels["customer-9"] == 0 })

	if _, err := hub.Publish(envelope.NotificationFrame("customer-9", envelope.Notification{ID: "a", Title: "t", Message: "m"}), SourceHTTP); err != nil {
		t.Fatal(err)
	}
	if _, err := hub.Publish(envelope.NotificationFrame("broadcast", envelope.Notification{ID: "b", Title: "t", Message: "m"}), SourceHTTP); err != nil {
		t.Fatal(err)
	}
	f, _ := readFrame(t, ws)
	if f.Channel != "broadcast" || f.Data.ID != "b" {
		t.Fatalf("frame = %+v, want broadcast b", f)
	}
}

func TestDisconnectCleansRegistry(t *testing.T) {
	hub, _, ts := newTestServer(t, Config{}, ServerConfig{})
	ws := dial(t, ts)
	subscribe(t, ws, "staff-3")
	if st := hub.Stats(); st.Connections != 1 || st.Channels["staff-3"] != 1 {
		t.Fatalf("stats = %+v", st)
	}
	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = ws.Close()
	waitFor(t, func() bool {
		st := hub.Stats()
		return st.Connections == 0 && len(st.Channels) == 0
	})
}

func TestNotifyValidation(t *testing.T) {
	_, _, ts := newTestServer(t, Config{}, ServerConfig{})
	cases := []struct {
		name string
		body string
	}{
		{"missing title", `{"broadcast":true,"message":"m"}`},
		{"no audience", `{"title":"t","message":"m"}`},
		{"two audiences", `{"customer_id":"1","staff_id":"2","title":"t","message":"m"}`},
		{"bad type", `{"broadcast":true,"title":"t","message":"m","type":"urgent"}`},
		{"bad channel", `{"channel":"orders-1","title":"t","message":"m"}`},
		{"reserved extra", `{"broadcast":true,"title":"t","message":"m","extra":{"id":"x"}}`},
		{"unknown field", `{"broadcast":true,"title":"t","message":"m","priority":1}`},
		{"not json", `nope`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, resp := postNotify(t, ts, tc.body, "")
			if status != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400 (%v)", status, resp)
			}
			if resp["error"] == "" {
				t.Fatal("missing error message")
			}
		})
	}
}

func TestNotifyTokenAndRateLimit(t *testing.T) {
	_, srv, ts := newTestServer(t, Config{}, ServerConfig{NotifyToken: "s3cret"})
	body := `{"broadcast":true,"title":"t","message":"m"}`

	if status, _ := postNotify(t, ts, body, ""); status != http.StatusUnauthorized {
		t.Fatalf("no token status = %d, want 401", status)
	}
	if status, _ := postNotify(t, ts, body, "wrong"); status != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d, want 401", status)
	}
	if status, _ := postNotify(t, ts, body, "s3cret"); status != http.StatusAccepted {
		t.Fatalf("token status = %d, want 202", status)
	}

	srv.Apply(ServerConfig{NotifyRate: 0.001, NotifyBurst: 1})
	if status, _ := postNotify(t, ts, body, ""); status != http.StatusAccepted {
		t.Fatalf("first status = %d, want 202", status)
	}
	if status, _ := postNotify(t, ts, body, ""); status != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", status)
	}
}

func TestNotifyKeepsSuppliedID(t *testing.T) {
	_, srv, ts := newTestServer(t, Config{}, ServerConfig{})
	srv.now = func() time.Time { return time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC) }
	status, resp := postNotify(t, ts, `{"channel":"staff-2","id":"ord-15","title":"t","message":"m","type":"success"}`, "")
	if status != http.StatusAccepted {
		t.Fatalf("status = %d", status)
	}
	if resp["id"] != "ord-15" || resp["channel"] != "staff-2" || resp["timestamp"] != "2024-05-01T08:00:00.000Z" {
		t.Fatalf("resp = %v", resp)
	}
}

func TestQueueFullDrops(t *testing.T) {
	bus := eventbus.New()
	drops, unsubscribe := bus.Subscribe(8, EventDropped)
	defer unsubscribe()

	hub := NewHub(Config{ClientBuffer: 1}, logx.Nop(), bus, nil)
	c := newConn(hub, nil, "test")
	hub.conns[c] = struct{}{}
	if err := hub.subscribe(c, "customer-1"); err != nil {
		t.Fatal(err)
	}

	f := envelope.NotificationFrame("customer-1", envelope.Notification{ID: "1", Title: "t", Message: "m"})
	if n, _ := hub.Publish(f, SourceHTTP); n != 1 {
		t.Fatalf("first publish delivered %d, want 1", n)
	}
	if n, _ := hub.Publish(f, SourceHTTP); n != 0 {
		t.Fatalf("second publish delivered %d, want 0", n)
	}
	if st := hub.Stats(); st.Dropped != 1 || st.Delivered != 1 || st.Published != 2 {
		t.Fatalf("stats = %+v", st)
	}
	select {
	case ev := <-drops:
		d := ev.Data.(DroppedEvent)
		if d.Channel != "customer-1" || d.Reason != "queue_full" {
			t.Fatalf("drop event = %+v", d)
		}
	case <-time.After(time.Second):
		t.Fatal("no relay.dropped event")
	}
}

func TestPublishAfterClose(t *testing.T) {
	hub := NewHub(Config{}, logx.Nop(), nil, nil)
	if err := hub.Close(time.Second); err != nil {
		t.Fatal(err)
	}
	_, err := hub.Publish(envelope.NotificationFrame("broadcast", envelope.Notification{Title: "t"}), SourceHTTP)
	if !errors.Is(err, ErrHubClosed) {
		t.Fatalf("err = %v, want ErrHubClosed", err)
	}
}

func TestBridgeDeliversForeignFrames(t *testing.T) {
	shared := bridge.NewLocal()
	defer shared.Close()

	h1 := NewHub(Config{}, logx.Nop(), nil, nil)
	h2 := NewHub(Config{}, logx.Nop(), nil, nil)
	c1 := newConn(h1, nil, "one")
	c2 := newConn(h2, nil, "two")
	h1.conns[c1] = struct{}{}
	h2.conns[c2] = struct{}{}
	_ = h1.subscribe(c1, "broadcast")
	_ = h2.subscribe(c2, "broadcast")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h1.RunBridge(ctx, shared) }()
	go func() { _ = h2.RunBridge(ctx, shared) }()
	waitFor(t, func() bool { return h1.bridgeReady() && h2.bridgeReady() })

	f := envelope.NotificationFrame("broadcast", envelope.Notification{ID: "x", Title: "t", Message: "m"})
	published := 0
	deadline := time.Now().Add(3 * time.Second)
	for len(c2.send) == 0 && time.Now().Before(deadline) {
		if _, err := h1.Publish(f, SourceHTTP); err != nil {
			t.Fatal(err)
		}
		published++
		time.Sleep(20 * time.Millisecond)
	}
	if len(c2.send) == 0 {
		t.Fatal("second hub never received the bridged frame")
	}
	time.Sleep(50 * time.Millisecond)
	if got := len(c1.send); got != published {
		t.Fatalf("origin hub queued %d frames, want %d (no echo)", got, published)
	}
	if st := h2.Stats(); st.Published == 0 {
		t.Fatalf("h2 stats = %+v", st)
	}
}

func TestRecordAudit(t *testing.T) {
	bus := eventbus.New()
	store := storage.NewMemory()
	hub := NewHub(Config{}, logx.Nop(), bus, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RecordAudit(ctx, bus, store, logx.Nop()) }()
	// Give the recorder time to subscribe.
	time.Sleep(20 * time.Millisecond)

	n := envelope.Notification{ID: "ord-1", Title: "t", Message: "m"}
	if _, err := hub.Publish(envelope.NotificationFrame("customer-5", n), SourceHTTP); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(store.Audit()) == 1 })
	e := store.Audit()[0]
	if e.Channel != "customer-5" || e.NotificationID != "ord-1" || e.Source != SourceHTTP || e.Delivered != 0 {
		t.Fatalf("audit = %+v", e)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("RecordAudit = %v", err)
	}
}

func TestStatsAndMetricsEndpoints(t *testing.T) {
	hub, _, ts := newTestServer(t, Config{}, ServerConfig{})
	_, _ = hub.Publish(envelope.NotificationFrame("broadcast", envelope.Notification{ID: "1", Title: "t", Message: "m"}), SourceHTTP)

	resp, err := http.Get(ts.URL + "/stats")
	if err != nil {
		t.Fatal(err)
	}
	var st Stats
	_ = json.NewDecoder(resp.Body).Decode(&st)
	resp.Body.Close()
	if st.Published != 1 || st.Origin != hub.Origin() {
		t.Fatalf("stats = %+v", st)
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `shopnotify_relay_published_total{source="http"} 1`) {
		t.Fatalf("metrics missing published counter:\n%s", body)
	}

	resp, err = http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d", resp.StatusCode)
	}
}

func TestOriginCheck(t *testing.T) {
	_, _, ts := newTestServer(t, Config{}, ServerConfig{AllowedOrigins: []string{"https://shop.example"}})
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	h := http.Header{}
	h.Set("Origin", "https://evil.example")
	if _, resp, err := websocket.DefaultDialer.Dial(url, h); err == nil {
		t.Fatal("expected origin rejection")
	} else if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("resp = %v, err = %v", resp, err)
	}

	h.Set("Origin", "https://shop.example")
	ws, _, err := websocket.DefaultDialer.Dial(url, h)
	if err != nil {
		t.Fatalf("allowed origin: %v", err)
	}
	_ = ws.Close()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
