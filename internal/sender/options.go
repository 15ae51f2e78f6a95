package sender

import "shopnotify/internal/envelope"

// Option customizes one Send call.
type Option func(*sendOptions)

type sendOptions struct {
	typ   envelope.Type
	id    string
	extra []extraKV
}

type extraKV struct {
	key   string
	value any
}

// WithType sets the notification type. Unknown values become info.
func WithType(t envelope.Type) Option { return func(o *sendOptions) { o.typ = t } }

// WithID overrides the generated id, e.g. to make retries by the caller
// dedupe on the receiving side.
func WithID(id string) Option { return func(o *sendOptions) { o.id = id } }

// WithExtra attaches a business field (orderId, status...). Fields keep
// the order they were added in.
func WithExtra(key string, value any) Option {
	return func(o *sendOptions) { o.extra = append(o.extra, extraKV{key: key, value: value}) }
}
