package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "shopnotify/pkg/logx"
)

// Validate checks everything that can be checked without touching the
// network or the filesystem. It reports all problems at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	r := cfg.Relay
	if addr := strings.TrimSpace(r.Addr); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			add(fmt.Errorf("relay.addr: %w", err))
		}
	}
	for _, f := range []struct{ path, raw string }{
		{"relay.write_timeout", r.WriteTimeout},
		{"relay.pong_timeout", r.PongTimeout},
		{"relay.ping_period", r.PingPeriod},
		{"relay.shutdown_timeout", r.ShutdownTimeout},
		{"pprof.read_timeout", cfg.Pprof.ReadTimeout},
		{"pprof.write_timeout", cfg.Pprof.WriteTimeout},
		{"pprof.idle_timeout", cfg.Pprof.IdleTimeout},
	} {
		_, err := ParseDurationField(f.path, f.raw)
		add(err)
	}
	if r.ClientBuffer < 0 || r.MaxChannels < 0 || r.MaxMessageBytes < 0 {
		add(errors.New("relay: client_buffer, max_channels and max_message_bytes must be >= 0"))
	}
	if r.Notify.RatePerSec < 0 || r.Notify.Burst < 0 {
		add(errors.New("relay.notify: rate_per_sec and burst must be >= 0"))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Format)) {
	case "", "console", "json":
	default:
		add(fmt.Errorf("logging.format: unknown format %q", cfg.Logging.Format))
	}
	if _, ok := logx.ParseLevel(cfg.Logging.Level); !ok {
		add(fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		add(errors.New("logging.file.path is required when logging.file.enabled"))
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "memory", "mem":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				add(fmt.Errorf("storage.path is required for driver %q", s.Driver))
			}
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		_, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout)
		add(err)
		_, err = ParseDurationField("storage.audit_retention", s.AuditRetention)
		add(err)
	}

	if m := cfg.Maintenance; m.MaintenanceEnabled() {
		if spec := strings.TrimSpace(m.Schedule); spec != "" {
			if _, err := cron.ParseStandard(spec); err != nil {
				add(fmt.Errorf("maintenance.schedule: %w", err))
			}
		}
		if tz := strings.TrimSpace(m.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				add(fmt.Errorf("maintenance.timezone: %w", err))
			}
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Bridge.Driver)) {
	case "", "none", "redis", "nats", "local":
	default:
		add(fmt.Errorf("bridge.driver: unknown driver %q", cfg.Bridge.Driver))
	}
	if cfg.Bridge.MaxRestarts < 0 {
		add(errors.New("bridge.max_restarts: must be >= 0"))
	}

	return errors.Join(errs...)
}
