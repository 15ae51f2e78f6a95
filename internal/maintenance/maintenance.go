// Package maintenance runs the relay's periodic housekeeping on a cron
// schedule: pruning old audit entries and logging a hub stats line.
package maintenance

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"shopnotify/internal/relay"
	logx "shopnotify/pkg/logx"
)

const (
	DefaultSchedule       = "@hourly"
	DefaultAuditRetention = 168 * time.Hour
)

type Config struct {
	Enabled        bool
	Schedule       string
	Timezone       string
	AuditRetention time.Duration
}

// Pruner is the part of storage.Store maintenance needs.
type Pruner interface {
	PruneAudit(ctx context.Context, cutoff time.Time) (int, error)
}

type Service struct {
	log   logx.Logger
	store Pruner
	stats func() relay.Stats
	now   func() time.Time

	parser cron.Parser

	mu  sync.Mutex
	cfg Config
	c   *cron.Cron
}

// New builds the service. store and stats may be nil; the matching job
// step is then skipped.
func New(cfg Config, store Pruner, stats func() relay.Stats, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:    log,
		store:  store,
		stats:  stats,
		now:    time.Now,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		cfg:    cfg,
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Start schedules the job. It is idempotent and a no-op when disabled.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || !s.cfg.Enabled {
		return nil
	}
	return s.startLocked(ctx)
}

func (s *Service) startLocked(ctx context.Context) error {
	cfg := s.cfg
	spec := strings.TrimSpace(cfg.Schedule)
	if spec == "" {
		spec = DefaultSchedule
	}
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return err
		}
		loc = l
	}

	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(spec, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			s.log.Warn("maintenance run failed", logx.Err(err))
		}
	}); err != nil {
		return err
	}
	c.Start()
	s.c = c
	s.log.Info("maintenance scheduled", logx.String("schedule", spec), logx.String("tz", loc.String()))
	return nil
}

// Stop unschedules the job and waits (bounded by ctx) for a running one.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// Apply swaps the config live, rescheduling when schedule, timezone or the
// enabled flag changed.
func (s *Service) Apply(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.c != nil
	s.mu.Unlock()

	resched := prev.Enabled != cfg.Enabled ||
		strings.TrimSpace(prev.Schedule) != strings.TrimSpace(cfg.Schedule) ||
		strings.TrimSpace(prev.Timezone) != strings.TrimSpace(cfg.Timezone)
	if !resched {
		return nil
	}
	if running {
		s.Stop(ctx)
	}
	return s.Start(ctx)
}

// RunOnce prunes audit entries older than the retention and logs hub stats.
func (s *Service) RunOnce(ctx context.Context) (int, error) {
	s.mu.Lock()
	retention := s.cfg.AuditRetention
	s.mu.Unlock()
	if retention <= 0 {
		retention = DefaultAuditRetention
	}

	pruned := 0
	if s.store != nil {
		n, err := s.store.PruneAudit(ctx, s.now().Add(-retention))
		if err != nil {
			return 0, err
		}
		pruned = n
	}

	fields := []logx.Field{logx.Int("audit_pruned", pruned), logx.Duration("retention", retention)}
	if s.stats != nil {
		st := s.stats()
		fields = append(fields,
			logx.Int("connections", st.Connections),
			logx.Int("channels", len(st.Channels)),
			logx.Uint64("published", st.Published),
			logx.Uint64("delivered", st.Delivered),
			logx.Uint64("dropped", st.Dropped),
		)
	}
	s.log.Info("maintenance", fields...)
	return pruned, nil
}
