package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	logx "shopnotify/pkg/logx"
)

type ServerConfig struct {
	Addr string
	// AllowedOrigins applies to CORS and the WebSocket origin check. Empty
	// or "*" allows any origin.
	AllowedOrigins []string
	// NotifyToken, when set, is required as a bearer token on POST /notify.
	NotifyToken string
	// NotifyRate is requests per second across all callers; 0 disables
	// limiting.
	NotifyRate   float64
	NotifyBurst  int
	MaxBodyBytes int64

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
}

// Server is the HTTP surface of a hub.
type Server struct {
	hub      *Hub
	log      logx.Logger
	validate *validator.Validate
	upgrader websocket.Upgrader
	now      func() time.Time

	mu      sync.RWMutex
	cfg     ServerConfig
	limiter *rate.Limiter
}

func NewServer(hub *Hub, cfg ServerConfig, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{
		hub:      hub,
		log:      log,
		validate: newValidator(),
		now:      time.Now,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	s.Apply(cfg)
	return s
}

// Apply updates the settings that are safe to change live: token, rate
// limit, body limit and allowed websocket origins. Addr and timeouts only
// take effect on the next Serve.
func (s *Server) Apply(cfg ServerConfig) {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	var lim *rate.Limiter
	if cfg.NotifyRate > 0 {
		burst := cfg.NotifyBurst
		if burst <= 0 {
			burst = int(cfg.NotifyRate)
			if burst < 1 {
				burst = 1
			}
		}
		lim = rate.NewLimiter(rate.Limit(cfg.NotifyRate), burst)
	}
	s.mu.Lock()
	s.cfg = cfg
	s.limiter = lim
	s.mu.Unlock()
}

func (s *Server) config() (ServerConfig, *rate.Limiter) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg, s.limiter
}

func (s *Server) Handler() http.Handler {
	cfg, _ := s.config()
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.hub.metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/ws", s.handleWS)
	r.With(s.requireToken, s.rateLimit).Post("/notify", s.handleNotify)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.hub.Stats())
	})
	r.Method(http.MethodGet, "/metrics", s.hub.metrics.Handler())
	return r
}

// Serve runs the HTTP server on ln until ctx is done, then shuts it down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	cfg, _ := s.config()
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("relay listening", logx.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	// Hijacked websocket connections are not tracked by Shutdown; the hub
	// closes them separately.
	err := srv.Shutdown(sctx)
	<-errCh
	return err
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.log.Debug("websocket upgrade failed", logx.Err(err))
		return
	}
	if err := s.hub.Serve(ws, r.RemoteAddr); err != nil {
		s.log.Debug("websocket rejected", logx.Err(err))
	}
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	cfg, _ := s.config()
	body := http.MaxBytesReader(w, r.Body, cfg.MaxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()

	var req NotifyRequest
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}

	f, err := req.frame(s.validate, s.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	delivered, err := s.hub.Publish(f, SourceHTTP)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ErrHubClosed) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusAccepted, NotifyResponse{
		ID:        f.Data.ID,
		Channel:   f.Channel,
		Timestamp: f.Data.Timestamp,
		Delivered: delivered,
	})
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cfg, _ := s.config()
		tok := strings.TrimSpace(cfg.NotifyToken)
		if tok == "" {
			next.ServeHTTP(w, r)
			return
		}
		const p = "Bearer "
		ah := r.Header.Get("Authorization")
		if strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, http.StatusUnauthorized, errors.New("unauthorized"))
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, lim := s.config()
		if lim != nil && !lim.Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, errors.New("rate limited"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	cfg, _ := s.config()
	if len(cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range cfg.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
