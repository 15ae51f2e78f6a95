package config

import (
	"reflect"
	"strings"

	logx "shopnotify/pkg/logx"
)

// SummarizeConfigChange returns the changed sections and safe structured
// attrs for logging. Secrets (tokens, bridge URLs) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	o, n := oldCfg.Relay, newCfg.Relay
	if o.Addr != n.Addr ||
		!reflect.DeepEqual(o.AllowedOrigins, n.AllowedOrigins) ||
		o.ClientBuffer != n.ClientBuffer ||
		o.WriteTimeout != n.WriteTimeout ||
		o.PongTimeout != n.PongTimeout ||
		o.PingPeriod != n.PingPeriod ||
		o.MaxMessageBytes != n.MaxMessageBytes ||
		o.MaxChannels != n.MaxChannels ||
		o.ClientPublish() != n.ClientPublish() ||
		o.ShutdownTimeout != n.ShutdownTimeout {
		changed = append(changed, "relay")
		attrs = append(attrs,
			logx.String("relay.addr", n.Addr),
			logx.Int("relay.origins", len(n.AllowedOrigins)),
			logx.Bool("relay.client_publish", n.ClientPublish()),
		)
	}
	if o.Notify.RatePerSec != n.Notify.RatePerSec ||
		o.Notify.Burst != n.Notify.Burst ||
		o.Notify.MaxBodyBytes != n.Notify.MaxBodyBytes ||
		strings.TrimSpace(o.Notify.Token) != strings.TrimSpace(n.Notify.Token) {
		changed = append(changed, "relay.notify")
		attrs = append(attrs,
			logx.Any("notify.rate_per_sec", n.Notify.RatePerSec),
			logx.Int("notify.burst", n.Notify.Burst),
			logx.Bool("notify.token_set", strings.TrimSpace(n.Notify.Token) != ""),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.String("logging.format", newCfg.Logging.Format),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	ost, nst := storageOf(oldCfg), storageOf(newCfg)
	if ost != nst {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nst.Driver),
			logx.String("storage.audit_retention", nst.AuditRetention),
		)
	}

	om, nm := oldCfg.Maintenance, newCfg.Maintenance
	if om.MaintenanceEnabled() != nm.MaintenanceEnabled() ||
		strings.TrimSpace(om.Schedule) != strings.TrimSpace(nm.Schedule) ||
		strings.TrimSpace(om.Timezone) != strings.TrimSpace(nm.Timezone) {
		changed = append(changed, "maintenance")
		attrs = append(attrs,
			logx.Bool("maintenance.enabled", nm.MaintenanceEnabled()),
			logx.String("maintenance.schedule", nm.Schedule),
		)
	}

	if oldCfg.Bridge != newCfg.Bridge {
		changed = append(changed, "bridge")
		attrs = append(attrs, logx.String("bridge.driver", newCfg.Bridge.Driver))
	}

	op, np := oldCfg.Pprof, newCfg.Pprof
	if op != np {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", np.Enabled),
			logx.String("pprof.addr", strings.TrimSpace(np.Addr)),
			logx.Bool("pprof.token_set", strings.TrimSpace(np.Token) != ""),
		)
	}
	return changed, attrs
}

// RestartRequired lists changed settings that only take effect after a
// process restart.
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	o, n := oldCfg.Relay, newCfg.Relay
	if o.Addr != n.Addr {
		out = append(out, "relay.addr")
	}
	if o.ClientBuffer != n.ClientBuffer || o.WriteTimeout != n.WriteTimeout ||
		o.PongTimeout != n.PongTimeout || o.PingPeriod != n.PingPeriod ||
		o.MaxMessageBytes != n.MaxMessageBytes || o.MaxChannels != n.MaxChannels ||
		o.ClientPublish() != n.ClientPublish() {
		out = append(out, "relay.connection")
	}
	if !reflect.DeepEqual(o.AllowedOrigins, n.AllowedOrigins) {
		out = append(out, "relay.allowed_origins")
	}
	ost, nst := storageOf(oldCfg), storageOf(newCfg)
	if ost.Driver != nst.Driver || ost.Path != nst.Path || ost.BusyTimeout != nst.BusyTimeout {
		out = append(out, "storage")
	}
	if oldCfg.Bridge != newCfg.Bridge {
		out = append(out, "bridge")
	}
	return out
}

func storageOf(cfg *Config) StorageConfig {
	if cfg == nil || cfg.Storage == nil {
		return StorageConfig{}
	}
	return *cfg.Storage
}
