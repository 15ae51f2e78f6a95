package feed

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"sync"
	"time"

	"shopnotify/internal/envelope"
	logx "shopnotify/pkg/logx"
)

const (
	DefaultMaxItems     = 20
	DefaultSeenCapacity = 100
	DefaultSnapshotKey  = "notifications"
)

// Snapshots persists the feed as one JSON array under a fixed key.
type Snapshots interface {
	LoadFeed(ctx context.Context, key string) (data []byte, ok bool, err error)
	SaveFeed(ctx context.Context, key string, data []byte) error
	DeleteFeed(ctx context.Context, key string) error
}

type Config struct {
	MaxItems     int
	SeenCapacity int
	SnapshotKey  string
	// IOTimeout bounds each snapshot read/write. 0 means 5s.
	IOTimeout time.Duration
}

// Feed is safe for concurrent use.
type Feed struct {
	mu    sync.Mutex
	cfg   Config
	log   logx.Logger
	store Snapshots

	items []envelope.Notification // newest first
	seen  *SeenSet
	seq   uint64 // bumped on every mutation

	// pmu orders snapshot writes and listener calls; written is the last
	// committed seq.
	pmu     sync.Mutex
	written uint64

	listeners []func([]envelope.Notification)
}

// New builds a feed and restores the persisted snapshot (if any).
// store may be nil, in which case nothing is persisted.
func New(ctx context.Context, cfg Config, store Snapshots, log logx.Logger) *Feed {
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = DefaultMaxItems
	}
	if cfg.SeenCapacity <= 0 {
		cfg.SeenCapacity = DefaultSeenCapacity
	}
	if strings.TrimSpace(cfg.SnapshotKey) == "" {
		cfg.SnapshotKey = DefaultSnapshotKey
	}
	if cfg.IOTimeout <= 0 {
		cfg.IOTimeout = 5 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	f := &Feed{
		cfg:   cfg,
		log:   log,
		store: store,
		seen:  NewSeenSet(cfg.SeenCapacity),
	}
	f.restore(ctx)
	return f
}

func (f *Feed) restore(ctx context.Context) {
	if f.store == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	lctx, cancel := context.WithTimeout(ctx, f.cfg.IOTimeout)
	defer cancel()

	data, ok, err := f.store.LoadFeed(lctx, f.cfg.SnapshotKey)
	if err != nil {
		f.log.Warn("feed snapshot load failed; starting empty", logx.String("key", f.cfg.SnapshotKey), logx.Err(err))
		return
	}
	if !ok || len(data) == 0 {
		return
	}
	var items []envelope.Notification
	if err := json.Unmarshal(data, &items); err != nil {
		f.log.Warn("feed snapshot corrupt; starting empty", logx.String("key", f.cfg.SnapshotKey), logx.Err(err))
		return
	}
	if len(items) > f.cfg.MaxItems {
		items = items[:f.cfg.MaxItems]
	}
	// Oldest first so the seen-set keeps the newest keys if it overflows.
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].ID == "" {
			items[i].ID = envelope.DedupKey(items[i])
		}
		f.seen.Add(items[i].ID)
	}
	f.items = items
	f.log.Debug("feed restored", logx.Int("items", len(items)))
}

// Add applies one inbound notification. It returns false when the
// notification was a duplicate and nothing changed.
func (f *Feed) Add(n envelope.Notification) bool {
	key := envelope.DedupKey(n)

	f.mu.Lock()
	if !f.seen.Add(key) {
		f.mu.Unlock()
		f.log.Trace("duplicate notification suppressed", logx.String("key", key))
		return false
	}
	n = n.Clone()
	n.ID = key
	f.items = append(f.items, envelope.Notification{})
	copy(f.items[1:], f.items)
	f.items[0] = n
	if len(f.items) > f.cfg.MaxItems {
		for i := f.cfg.MaxItems; i < len(f.items); i++ {
			f.items[i] = envelope.Notification{}
		}
		f.items = f.items[:f.cfg.MaxItems]
	}
	seq, snap := f.bumpLocked()
	f.mu.Unlock()

	f.commit(seq, snap)
	return true
}

// MarkAsRead sets read=true on the entry with id. It reports whether an entry
// was found.
func (f *Feed) MarkAsRead(id string) bool {
	f.mu.Lock()
	idx := f.indexLocked(id)
	if idx < 0 {
		f.mu.Unlock()
		return false
	}
	if f.items[idx].Read {
		f.mu.Unlock()
		return true
	}
	f.items[idx].Read = true
	seq, snap := f.bumpLocked()
	f.mu.Unlock()

	f.commit(seq, snap)
	return true
}

func (f *Feed) MarkAllAsRead() {
	f.mu.Lock()
	changed := false
	for i := range f.items {
		if !f.items[i].Read {
			f.items[i].Read = true
			changed = true
		}
	}
	if !changed {
		f.mu.Unlock()
		return
	}
	seq, snap := f.bumpLocked()
	f.mu.Unlock()

	f.commit(seq, snap)
}

// Remove deletes one entry. The seen-set is left alone, so a redelivery of
// the same notification stays suppressed.
func (f *Feed) Remove(id string) bool {
	f.mu.Lock()
	idx := f.indexLocked(id)
	if idx < 0 {
		f.mu.Unlock()
		return false
	}
	f.items = append(f.items[:idx], f.items[idx+1:]...)
	seq, snap := f.bumpLocked()
	f.mu.Unlock()

	f.commit(seq, snap)
	return true
}

// Clear empties the feed and erases the persisted snapshot. The seen-set is
// kept so a replay burst right after clearing is still deduplicated.
func (f *Feed) Clear() {
	f.mu.Lock()
	f.items = nil
	f.seq++
	seq := f.seq
	f.mu.Unlock()

	f.pmu.Lock()
	if seq > f.written {
		f.written = seq
		if f.store != nil {
			ctx, cancel := context.WithTimeout(context.Background(), f.cfg.IOTimeout)
			if err := f.store.DeleteFeed(ctx, f.cfg.SnapshotKey); err != nil {
				f.log.Warn("feed snapshot delete failed", logx.String("key", f.cfg.SnapshotKey), logx.Err(err))
			}
			cancel()
		}
		f.notify([]envelope.Notification{})
	}
	f.pmu.Unlock()
}

// Items returns a copy of the feed, newest first.
func (f *Feed) Items() []envelope.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

// UnreadCount is derived on every call.
func (f *Feed) UnreadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, it := range f.items {
		if !it.Read {
			n++
		}
	}
	return n
}

// Seen reports whether key has been observed (and not yet evicted).
func (f *Feed) Seen(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen.Contains(key)
}

// OnChange registers fn to receive a copy of the feed after every mutation.
// Calls arrive in mutation order on the mutating goroutine, outside the feed
// lock. fn must not mutate the feed.
func (f *Feed) OnChange(fn func([]envelope.Notification)) {
	if fn == nil {
		return
	}
	f.mu.Lock()
	f.listeners = append(f.listeners, fn)
	f.mu.Unlock()
}

func (f *Feed) indexLocked(id string) int {
	id = strings.TrimSpace(id)
	if id == "" {
		return -1
	}
	for i := range f.items {
		if f.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (f *Feed) snapshotLocked() []envelope.Notification {
	out := make([]envelope.Notification, len(f.items))
	for i, it := range f.items {
		out[i] = it.Clone()
	}
	return out
}

func (f *Feed) bumpLocked() (uint64, []envelope.Notification) {
	f.seq++
	return f.seq, f.snapshotLocked()
}

// commit persists and announces the snapshot unless a newer one already
// went out. A stale snapshot is dropped on both paths.
func (f *Feed) commit(seq uint64, items []envelope.Notification) {
	f.pmu.Lock()
	defer f.pmu.Unlock()
	if seq <= f.written {
		return
	}
	f.written = seq
	f.persist(items)
	f.notify(items)
}

func (f *Feed) persist(items []envelope.Notification) {
	if f.store == nil {
		return
	}
	if items == nil {
		items = []envelope.Notification{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		f.log.Warn("feed snapshot encode failed", logx.Err(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), f.cfg.IOTimeout)
	defer cancel()
	if err := f.store.SaveFeed(ctx, f.cfg.SnapshotKey, data); err != nil {
		f.log.Warn("feed snapshot save failed; keeping in-memory feed", logx.String("key", f.cfg.SnapshotKey), logx.Err(err))
	}
}

func (f *Feed) notify(items []envelope.Notification) {
	f.mu.Lock()
	ls := slices.Clone(f.listeners)
	f.mu.Unlock()
	for _, fn := range ls {
		fn(items)
	}
}
