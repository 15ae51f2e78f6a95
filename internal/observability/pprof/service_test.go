package pprof

import (
	"context"
	"net/http"
	"runtime"
	"testing"
	"time"

	logx "shopnotify/pkg/logx"
)

func waitAddr(t *testing.T, s *Service) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if a := s.Addr(); a != "" {
			return a
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("pprof did not start")
	return ""
}

func get(t *testing.T, url, token string) int {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, url, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestReconfigureEnableDisable(t *testing.T) {
	prevMutex := runtime.SetMutexProfileFraction(-1)
	t.Cleanup(func() {
		_ = runtime.SetMutexProfileFraction(prevMutex)
		runtime.SetBlockProfileRate(0)
	})

	s := New(Config{}, logx.Nop())
	ctx := context.Background()
	t.Cleanup(func() { s.Stop(ctx) })

	s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0", Token: "tok", BlockProfileRate: 1})
	addr := waitAddr(t, s)

	if code := get(t, "http://"+addr+"/debug/pprof/", ""); code != http.StatusUnauthorized {
		t.Fatalf("no token = %d, want 401", code)
	}
	if code := get(t, "http://"+addr+"/debug/pprof/", "tok"); code != http.StatusOK {
		t.Fatalf("index = %d, want 200", code)
	}
	if code := get(t, "http://"+addr+"/healthz?token=tok", ""); code != http.StatusOK {
		t.Fatalf("healthz = %d, want 200", code)
	}

	s.Reconfigure(ctx, Config{Enabled: false})
	if s.Addr() != "" {
		t.Fatal("addr still set after disable")
	}
}

func TestRefusesInsecureBind(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, logx.Nop())
	if err := s.serveOnce(context.Background()); err == nil {
		t.Fatal("expected refusal for a public bind without token")
	}
	if s.Addr() != "" {
		t.Fatal("refused server reported an address")
	}
}

func TestNormalizePrefix(t *testing.T) {
	t.Parallel()
	cases := map[string]string{"": "/debug", "ops": "/ops", "/ops/": "/ops"}
	for in, want := range cases {
		if got := normalizePrefix(in); got != want {
			t.Fatalf("normalizePrefix(%q) = %q, want %q", in, got, want)
		}
	}
	if !isLoopbackAddr("127.0.0.1:6060") || isLoopbackAddr(":6060") || isLoopbackAddr("10.0.0.1:6060") {
		t.Fatal("isLoopbackAddr mismatch")
	}
}
