package bridge

import (
	"context"
	"sync"
)

// Local is an in-process bridge. Every Subscribe call receives every
// published message, which lets several hubs in one process share traffic.
type Local struct {
	mu     sync.RWMutex
	subs   map[int]chan Message
	next   int
	closed bool
}

func NewLocal() *Local { return &Local{subs: map[int]chan Message{}} }

func (l *Local) Name() string { return "local" }

func (l *Local) Publish(_ context.Context, m Message) error {
	// Round-trip through the wire encoding so local and remote bridges
	// deliver identical values.
	b, err := encode(m)
	if err != nil {
		return err
	}
	m, err = decode(b)
	if err != nil {
		return err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	for _, ch := range l.subs {
		select {
		case ch <- m:
		default:
		}
	}
	return nil
}

func (l *Local) Subscribe(ctx context.Context, fn func(Message)) error {
	ch := make(chan Message, 256)
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	id := l.next
	l.next++
	l.subs[id] = ch
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-ch:
			fn(m)
		}
	}
}

func (l *Local) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}
