package config

// Config is the relay process configuration (JSON or YAML).
//
// All durations are Go duration strings ("500ms", "10s", "168h").
type Config struct {
	Relay       RelayConfig       `json:"relay"`
	Logging     LoggingConfig     `json:"logging"`
	Storage     *StorageConfig    `json:"storage,omitempty"`
	Maintenance MaintenanceConfig `json:"maintenance"`
	Bridge      BridgeConfig      `json:"bridge"`
	Pprof       PprofConfig       `json:"pprof,omitempty"`
}

// RelayConfig controls the hub and its HTTP surface.
//
// Defaults (when fields are omitted/zero):
//   - addr: ":8080"
//   - client_buffer: 64
//   - write_timeout: "10s", pong_timeout: "60s", ping_period: 9/10 of pong_timeout
//   - max_message_bytes: 65536
//   - max_channels: 32
//   - allow_client_publish: true
type RelayConfig struct {
	Addr           string   `json:"addr"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`

	ClientBuffer    int    `json:"client_buffer,omitempty"`
	WriteTimeout    string `json:"write_timeout,omitempty"`
	PongTimeout     string `json:"pong_timeout,omitempty"`
	PingPeriod      string `json:"ping_period,omitempty"`
	MaxMessageBytes int64  `json:"max_message_bytes,omitempty"`
	MaxChannels     int    `json:"max_channels,omitempty"`

	// AllowClientPublish is a pointer so an omitted key keeps the default
	// (true) while an explicit false turns socket publishing off.
	AllowClientPublish *bool `json:"allow_client_publish,omitempty"`

	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`

	Notify NotifyConfig `json:"notify"`
}

// NotifyConfig controls POST /notify. Changes apply live.
type NotifyConfig struct {
	Token        string  `json:"token,omitempty"` // bearer token (do not log)
	RatePerSec   float64 `json:"rate_per_sec,omitempty"`
	Burst        int     `json:"burst,omitempty"`
	MaxBodyBytes int64   `json:"max_body_bytes,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Format  string      `json:"format,omitempty"` // "console" (default) or "json"
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the audit log and feed snapshots.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./shopnotify.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	// AuditRetention is how long audit entries are kept. Default "168h".
	AuditRetention string `json:"audit_retention,omitempty"`
}

// MaintenanceConfig schedules audit pruning and the periodic stats line.
type MaintenanceConfig struct {
	// Enabled defaults to true when omitted.
	Enabled *bool `json:"enabled,omitempty"`
	// Schedule is a standard cron spec or descriptor. Default "@hourly".
	Schedule string `json:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// BridgeConfig links several relay instances.
//
// Example:
//
//	"bridge": { "driver": "redis", "url": "redis://127.0.0.1:6379/0" }
type BridgeConfig struct {
	Driver string `json:"driver,omitempty"` // "", "none", "redis", "nats"
	URL    string `json:"url,omitempty"`
	Topic  string `json:"topic,omitempty"`
	// MaxRestarts stops the relay once the bridge failed this many times in
	// a row. 0 retries forever.
	MaxRestarts int `json:"max_restarts,omitempty"`
}

// PprofConfig controls the optional pprof HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
	MemProfileRate       int `json:"mem_profile_rate,omitempty"`
}

// MaintenanceEnabled applies the omitted-means-true default.
func (c MaintenanceConfig) MaintenanceEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// ClientPublish applies the omitted-means-true default.
func (c RelayConfig) ClientPublish() bool {
	return c.AllowClientPublish == nil || *c.AllowClientPublish
}
