package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "shopnotify/pkg/logx"
)

// Store is the persistence API used by the relay and the feed.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	// PruneAudit deletes audit entries recorded before cutoff and returns how
	// many were removed.
	PruneAudit(ctx context.Context, cutoff time.Time) (int, error)

	LoadFeed(ctx context.Context, key string) (data []byte, ok bool, err error)
	SaveFeed(ctx context.Context, key string, data []byte) error
	DeleteFeed(ctx context.Context, key string) error

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory", "mem":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
