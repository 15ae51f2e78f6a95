package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Type is advisory presentation metadata.
type Type string

const (
	TypeInfo    Type = "info"
	TypeSuccess Type = "success"
	TypeWarning Type = "warning"
	TypeError   Type = "error"
)

func (t Type) Valid() bool {
	switch t {
	case TypeInfo, TypeSuccess, TypeWarning, TypeError:
		return true
	}
	return false
}

// OrDefault maps empty or unknown types to info.
func (t Type) OrDefault() Type {
	if t.Valid() {
		return t
	}
	return TypeInfo
}

// TimestampLayout matches the ISO-8601 form browsers emit (millisecond
// precision, UTC, trailing Z).
const TimestampLayout = "2006-01-02T15:04:05.000Z"

func Stamp(t time.Time) string { return t.UTC().Format(TimestampLayout) }

// Notification is the data body of an envelope.
type Notification struct {
	ID        string
	Title     string
	Message   string
	Type      Type
	Timestamp string
	Read      bool
	Extra     Extra
}

// Clone returns a deep copy (Extra values are not shared).
func (n Notification) Clone() Notification {
	n.Extra = n.Extra.Clone()
	return n
}

// DedupKey identifies a notification on the receiving side: the explicit id
// when present, otherwise title|message|timestamp.
func DedupKey(n Notification) string {
	if id := strings.TrimSpace(n.ID); id != "" {
		return id
	}
	return n.Title + "|" + n.Message + "|" + n.Timestamp
}

func (n Notification) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	first := true
	write := func(key string, v any) error {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		writeRaw(&b, &first, key, raw)
		return nil
	}
	if n.ID != "" {
		if err := write("id", n.ID); err != nil {
			return nil, err
		}
	}
	if err := write("title", n.Title); err != nil {
		return nil, err
	}
	if err := write("message", n.Message); err != nil {
		return nil, err
	}
	if n.Type != "" {
		if err := write("type", string(n.Type)); err != nil {
			return nil, err
		}
	}
	if n.Timestamp != "" {
		if err := write("timestamp", n.Timestamp); err != nil {
			return nil, err
		}
	}
	if err := write("read", n.Read); err != nil {
		return nil, err
	}
	for _, f := range n.Extra.fields {
		if len(f.Value) == 0 {
			continue
		}
		writeRaw(&b, &first, f.Key, f.Value)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

func writeRaw(b *bytes.Buffer, first *bool, key string, raw []byte) {
	if !*first {
		b.WriteByte(',')
	}
	*first = false
	k, _ := json.Marshal(key)
	b.Write(k)
	b.WriteByte(':')
	b.Write(raw)
}

// UnmarshalJSON decodes the fixed fields and keeps every other key in Extra
// in document order. A numeric id is kept by its decimal text.
func (n *Notification) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("notification: expected object, got %v", tok)
	}

	var out Notification
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("notification: expected key, got %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("notification %q: %w", key, err)
		}
		switch key {
		case "id":
			id, err := decodeID(raw)
			if err != nil {
				return err
			}
			out.ID = id
		case "title":
			if err := decodeString(raw, &out.Title); err != nil {
				return fmt.Errorf("notification title: %w", err)
			}
		case "message":
			if err := decodeString(raw, &out.Message); err != nil {
				return fmt.Errorf("notification message: %w", err)
			}
		case "timestamp":
			if err := decodeString(raw, &out.Timestamp); err != nil {
				return fmt.Errorf("notification timestamp: %w", err)
			}
		case "type":
			var s string
			if err := decodeString(raw, &s); err != nil {
				return fmt.Errorf("notification type: %w", err)
			}
			out.Type = Type(s)
		case "read":
			if isNull(raw) {
				continue
			}
			if err := json.Unmarshal(raw, &out.Read); err != nil {
				return fmt.Errorf("notification read: %w", err)
			}
		default:
			out.Extra.put(key, raw)
		}
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*n = out
	return nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func decodeString(raw json.RawMessage, dst *string) error {
	if isNull(raw) {
		*dst = ""
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func decodeID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || isNull(raw) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("notification id: %w", err)
		}
		return s, nil
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err != nil {
		return "", fmt.Errorf("notification id: must be a string or number")
	}
	return num.String(), nil
}
