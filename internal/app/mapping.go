package app

import (
	"strings"
	"time"

	"shopnotify/internal/bridge"
	"shopnotify/internal/config"
	"shopnotify/internal/maintenance"
	"shopnotify/internal/observability/pprof"
	"shopnotify/internal/relay"
	rtsup "shopnotify/internal/runtime/supervisor"
	"shopnotify/internal/storage"
	logx "shopnotify/pkg/logx"
)

const defaultAddr = ":8080"

func mapLogging(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Format:  l.Format,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled: l.File.Enabled,
			Path:    l.File.Path,
		},
	}
}

func mapHub(cfg *config.Config) (relay.Config, error) {
	r := cfg.Relay
	write, err := config.ParseDurationOrDefault("relay.write_timeout", r.WriteTimeout, relay.DefaultWriteTimeout)
	if err != nil {
		return relay.Config{}, err
	}
	pong, err := config.ParseDurationOrDefault("relay.pong_timeout", r.PongTimeout, relay.DefaultPongTimeout)
	if err != nil {
		return relay.Config{}, err
	}
	ping, err := config.ParseDurationField("relay.ping_period", r.PingPeriod)
	if err != nil {
		return relay.Config{}, err
	}
	return relay.Config{
		ClientBuffer:       r.ClientBuffer,
		WriteTimeout:       write,
		PongTimeout:        pong,
		PingPeriod:         ping,
		MaxMessageBytes:    r.MaxMessageBytes,
		MaxChannels:        r.MaxChannels,
		AllowClientPublish: r.ClientPublish(),
	}, nil
}

func mapServer(cfg *config.Config) (relay.ServerConfig, error) {
	r := cfg.Relay
	shutdown, err := config.ParseDurationOrDefault("relay.shutdown_timeout", r.ShutdownTimeout, 5*time.Second)
	if err != nil {
		return relay.ServerConfig{}, err
	}
	addr := strings.TrimSpace(r.Addr)
	if addr == "" {
		addr = defaultAddr
	}
	return relay.ServerConfig{
		Addr:            addr,
		AllowedOrigins:  r.AllowedOrigins,
		NotifyToken:     strings.TrimSpace(r.Notify.Token),
		NotifyRate:      r.Notify.RatePerSec,
		NotifyBurst:     r.Notify.Burst,
		MaxBodyBytes:    r.Notify.MaxBodyBytes,
		IdleTimeout:     2 * time.Minute,
		ShutdownTimeout: shutdown,
	}, nil
}

// mapStorage returns enabled=false when no storage section is configured.
func mapStorage(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path), BusyTimeout: busy}, true, nil
}

func mapMaintenance(cfg *config.Config) (maintenance.Config, error) {
	m := cfg.Maintenance
	var retention string
	if cfg.Storage != nil {
		retention = cfg.Storage.AuditRetention
	}
	ret, err := config.ParseDurationOrDefault("storage.audit_retention", retention, maintenance.DefaultAuditRetention)
	if err != nil {
		return maintenance.Config{}, err
	}
	return maintenance.Config{
		Enabled:        m.MaintenanceEnabled(),
		Schedule:       m.Schedule,
		Timezone:       m.Timezone,
		AuditRetention: ret,
	}, nil
}

func mapBridge(cfg *config.Config) bridge.Config {
	b := cfg.Bridge
	return bridge.Config{
		Driver: strings.ToLower(strings.TrimSpace(b.Driver)),
		URL:    strings.TrimSpace(b.URL),
		Topic:  strings.TrimSpace(b.Topic),
	}
}

func bridgeRestartOptions(cfg *config.Config) []rtsup.RestartOption {
	opts := []rtsup.RestartOption{rtsup.WithRestartBackoff(time.Second, 30*time.Second)}
	if n := cfg.Bridge.MaxRestarts; n > 0 {
		opts = append(opts, rtsup.WithMaxRestarts(n))
	}
	return opts
}

func mapPprof(cfg *config.Config) (pprof.Config, error) {
	p := cfg.Pprof
	read, err := config.ParseDurationOrDefault("pprof.read_timeout", p.ReadTimeout, 5*time.Second)
	if err != nil {
		return pprof.Config{}, err
	}
	write, err := config.ParseDurationOrDefault("pprof.write_timeout", p.WriteTimeout, 30*time.Second)
	if err != nil {
		return pprof.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("pprof.idle_timeout", p.IdleTimeout, 60*time.Second)
	if err != nil {
		return pprof.Config{}, err
	}
	addr := strings.TrimSpace(p.Addr)
	if addr == "" {
		addr = "127.0.0.1:6060"
	}
	return pprof.Config{
		Enabled:              p.Enabled,
		Addr:                 addr,
		Prefix:               p.Prefix,
		Token:                strings.TrimSpace(p.Token),
		AllowInsecure:        p.AllowInsecure,
		ReadTimeout:          read,
		WriteTimeout:         write,
		IdleTimeout:          idle,
		MutexProfileFraction: p.MutexProfileFraction,
		BlockProfileRate:     p.BlockProfileRate,
		MemProfileRate:       p.MemProfileRate,
	}, nil
}

// validateMapping rejects configs the config package accepts but the
// components cannot be built from.
func validateMapping(cfg *config.Config) error {
	if _, err := mapHub(cfg); err != nil {
		return err
	}
	if _, err := mapServer(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorage(cfg); err != nil {
		return err
	}
	if _, err := mapMaintenance(cfg); err != nil {
		return err
	}
	_, err := mapPprof(cfg)
	return err
}
