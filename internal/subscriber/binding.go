package subscriber

import "sync"

// Subscriber is what a Binding needs from a Client.
type Subscriber interface {
	Subscribe(channel, event string, h Handler) (*Subscription, error)
	Remove(sub *Subscription) error
}

// Binding keeps exactly one subscription alive for a changing channel.
type Binding struct {
	src     Subscriber
	event   string
	handler Handler

	mu  sync.Mutex
	sub *Subscription
}

func NewBinding(src Subscriber, event string, h Handler) *Binding {
	return &Binding{src: src, event: event, handler: h}
}

// Bind switches to channel. The previous subscription is removed first, so
// a frame is never dispatched twice across a rebind. Binding the current
// channel again is a no-op.
func (b *Binding) Bind(channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub != nil && b.sub.channel == channel {
		return nil
	}
	if err := b.unbindLocked(); err != nil {
		return err
	}
	sub, err := b.src.Subscribe(channel, b.event, b.handler)
	if err != nil {
		return err
	}
	b.sub = sub
	return nil
}

// Channel returns the bound channel, or "".
func (b *Binding) Channel() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub == nil {
		return ""
	}
	return b.sub.channel
}

func (b *Binding) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unbindLocked()
}

func (b *Binding) unbindLocked() error {
	if b.sub == nil {
		return nil
	}
	sub := b.sub
	b.sub = nil
	return b.src.Remove(sub)
}
