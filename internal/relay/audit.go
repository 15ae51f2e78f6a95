package relay

import (
	"context"
	"time"

	"shopnotify/internal/eventbus"
	"shopnotify/internal/storage"
	logx "shopnotify/pkg/logx"
)

// AuditSink is the part of storage.Store the audit recorder needs.
type AuditSink interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

// RecordAudit appends one audit entry per published frame until ctx is
// done. It is best-effort: a full bus subscription or a failed write loses
// the entry and is logged.
func RecordAudit(ctx context.Context, bus eventbus.Bus, sink AuditSink, log logx.Logger) error {
	if log.IsZero() {
		log = logx.Nop()
	}
	ch, unsubscribe := bus.Subscribe(256, EventPublished)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			p, ok := ev.Data.(PublishedEvent)
			if !ok {
				continue
			}
			entry := storage.AuditEntry{
				At:             ev.Time,
				Channel:        p.Channel,
				Event:          p.Event,
				NotificationID: p.NotificationID,
				Source:         p.Source,
				Delivered:      p.Delivered,
				Dropped:        p.Dropped,
			}
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := sink.AppendAudit(wctx, entry)
			cancel()
			if err != nil {
				log.Warn("audit write failed", logx.String("channel", p.Channel), logx.Err(err))
			}
		}
	}
}
