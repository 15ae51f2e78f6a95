package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (json snapshots + jsonl audit)
//   - "sqlite": SQLite database file
//   - "memory": process-local, nothing survives a restart
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records one relay publish.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At             time.Time `json:"at"`
	Channel        string    `json:"channel"`
	Event          string    `json:"event"`
	NotificationID string    `json:"notification_id,omitempty"`
	Source         string    `json:"source"`
	Delivered      int       `json:"delivered"`
	Dropped        int       `json:"dropped,omitempty"`
}
