package envelope

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtraField is one opaque key/value pair carried alongside a notification.
type ExtraField struct {
	Key   string
	Value json.RawMessage
}

// Extra is an ordered mapping of keys to JSON values. The zero value is empty
// and ready to use.
type Extra struct {
	fields []ExtraField
}

// reserved keys are the fixed notification fields; extras cannot shadow them.
var reserved = map[string]struct{}{
	"id": {}, "title": {}, "message": {}, "type": {}, "timestamp": {}, "read": {},
}

// Set stores v (marshaled to JSON) under key, replacing an existing value in
// place or appending a new key at the end.
func (e *Extra) Set(key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("extra %q: %w", key, err)
	}
	return e.SetRaw(key, b)
}

// SetRaw stores an already-encoded JSON value under key.
func (e *Extra) SetRaw(key string, raw json.RawMessage) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("extra: empty key")
	}
	if _, ok := reserved[key]; ok {
		return fmt.Errorf("extra: %q is a reserved field", key)
	}
	if !json.Valid(raw) {
		return fmt.Errorf("extra %q: invalid JSON value", key)
	}
	e.put(key, append(json.RawMessage(nil), raw...))
	return nil
}

func (e *Extra) put(key string, raw json.RawMessage) {
	for i := range e.fields {
		if e.fields[i].Key == key {
			e.fields[i].Value = raw
			return
		}
	}
	e.fields = append(e.fields, ExtraField{Key: key, Value: raw})
}

func (e Extra) Get(key string) (json.RawMessage, bool) {
	for _, f := range e.fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// GetString returns the value under key when it is a JSON string.
func (e Extra) GetString(key string) (string, bool) {
	raw, ok := e.Get(key)
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func (e *Extra) Delete(key string) {
	for i := range e.fields {
		if e.fields[i].Key == key {
			e.fields = append(e.fields[:i], e.fields[i+1:]...)
			return
		}
	}
}

func (e Extra) Len() int { return len(e.fields) }

func (e Extra) Keys() []string {
	out := make([]string, 0, len(e.fields))
	for _, f := range e.fields {
		out = append(out, f.Key)
	}
	return out
}

// Fields returns a copy of the pairs in insertion order.
func (e Extra) Fields() []ExtraField {
	return e.Clone().fields
}

func (e Extra) Clone() Extra {
	if len(e.fields) == 0 {
		return Extra{}
	}
	out := make([]ExtraField, len(e.fields))
	for i, f := range e.fields {
		out[i] = ExtraField{Key: f.Key, Value: append(json.RawMessage(nil), f.Value...)}
	}
	return Extra{fields: out}
}

// ParseExtra decodes a JSON object into an Extra, keeping key order.
// A missing or null object yields an empty Extra.
func ParseExtra(raw json.RawMessage) (Extra, error) {
	if len(raw) == 0 || isNull(raw) {
		return Extra{}, nil
	}
	var n Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return Extra{}, fmt.Errorf("extra: %w", err)
	}
	var out Extra
	if n.ID != "" || n.Title != "" || n.Message != "" || n.Type != "" || n.Timestamp != "" || n.Read {
		return Extra{}, fmt.Errorf("extra: reserved keys are not allowed")
	}
	out.fields = n.Extra.fields
	return out, nil
}
