package subscriber

import (
	"sort"
	"sync"

	"shopnotify/internal/envelope"
)

// Handler receives the data of a matching frame. Frames without data (acks)
// deliver a zero Notification.
type Handler func(envelope.Notification)

// Subscription is one registered handler.
type Subscription struct {
	id      uint64
	channel string
	event   string
	handler Handler
}

func (s *Subscription) Channel() string { return s.channel }
func (s *Subscription) Event() string   { return s.event }

// Registry is safe for concurrent use. Handlers run outside its lock, so a
// handler may add or remove subscriptions.
type Registry struct {
	mu   sync.RWMutex
	next uint64
	subs map[string][]*Subscription
}

func NewRegistry() *Registry {
	return &Registry{subs: map[string][]*Subscription{}}
}

func (r *Registry) Add(channel, event string, h Handler) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	s := &Subscription{id: r.next, channel: channel, event: event, handler: h}
	r.subs[channel] = append(r.subs[channel], s)
	return s
}

// Remove drops one subscription. It reports false if it was not registered.
func (r *Registry) Remove(s *Subscription) bool {
	if s == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.subs[s.channel]
	for i, cur := range list {
		if cur.id != s.id {
			continue
		}
		list = append(list[:i:i], list[i+1:]...)
		if len(list) == 0 {
			delete(r.subs, s.channel)
		} else {
			r.subs[s.channel] = list
		}
		return true
	}
	return false
}

// RemoveChannel drops every handler on channel and returns how many there
// were. Removing an unknown channel is a no-op.
func (r *Registry) RemoveChannel(channel string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.subs[channel])
	delete(r.subs, channel)
	return n
}

func (r *Registry) Count(channel string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[channel])
}

// Channels lists channels with at least one handler, sorted.
func (r *Registry) Channels() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.subs))
	for ch := range r.subs {
		out = append(out, ch)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Dispatch calls every handler registered for exactly f's channel and
// event, once each, and returns how many ran.
func (r *Registry) Dispatch(f envelope.Frame) int {
	r.mu.RLock()
	var targets []Handler
	for _, s := range r.subs[f.Channel] {
		if s.event == f.Event && s.handler != nil {
			targets = append(targets, s.handler)
		}
	}
	r.mu.RUnlock()

	var n envelope.Notification
	if f.Data != nil {
		n = *f.Data
	}
	for _, h := range targets {
		h(n.Clone())
	}
	return len(targets)
}
