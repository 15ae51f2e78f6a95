package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"shopnotify/internal/envelope"
)

type audience struct {
	customer  string
	staff     string
	broadcast bool
}

var errAudience = errors.New("exactly one of --customer, --staff or --broadcast is required")

// target resolves the single audience of a send.
func (a audience) target() (envelope.Target, error) {
	n := 0
	var t envelope.Target
	if strings.TrimSpace(a.customer) != "" {
		n++
		t = envelope.Customer(a.customer)
	}
	if strings.TrimSpace(a.staff) != "" {
		n++
		t = envelope.Staff(a.staff)
	}
	if a.broadcast {
		n++
		t = envelope.Broadcast
	}
	if n != 1 {
		return envelope.Target{}, errAudience
	}
	if err := t.Validate(); err != nil {
		return envelope.Target{}, err
	}
	return t, nil
}

// channels lists what a listener subscribes to: the identity channel (if
// any) and broadcast when asked.
func (a audience) channels() ([]string, error) {
	var out []string
	if strings.TrimSpace(a.customer) != "" && strings.TrimSpace(a.staff) != "" {
		return nil, errors.New("--customer and --staff are mutually exclusive")
	}
	for _, t := range []envelope.Target{envelope.Customer(a.customer), envelope.Staff(a.staff)} {
		if t.ID() == "" {
			continue
		}
		if err := t.Validate(); err != nil {
			return nil, err
		}
		out = append(out, t.Channel())
	}
	if a.broadcast {
		out = append(out, envelope.Broadcast.Channel())
	}
	if len(out) == 0 {
		return nil, errors.New("nothing to listen to: pass --customer, --staff or --broadcast")
	}
	return out, nil
}

type extraPair struct {
	key   string
	value any
}

// parseExtra turns k=v flags into ordered extra fields. Values that parse
// as JSON (numbers, booleans, objects) keep their type; anything else is
// a string.
func parseExtra(kvs []string) ([]extraPair, error) {
	out := make([]extraPair, 0, len(kvs))
	var probe envelope.Extra
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("--extra %q: want key=value", kv)
		}
		var val any = v
		var raw json.RawMessage
		if json.Unmarshal([]byte(v), &raw) == nil && !isJSONString(raw) {
			val = raw
		}
		if err := probe.Set(k, val); err != nil {
			return nil, fmt.Errorf("--extra %q: %w", kv, err)
		}
		out = append(out, extraPair{key: k, value: val})
	}
	return out, nil
}

func isJSONString(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return strings.HasPrefix(s, `"`)
}
