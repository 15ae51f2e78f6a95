// Package bridge carries relay frames between relay instances so a
// subscriber connected to one instance receives frames published on
// another. Every message is tagged with the publishing instance's origin id;
// receivers skip their own messages.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"shopnotify/internal/envelope"
	logx "shopnotify/pkg/logx"
)

const DefaultTopic = "shopnotify.relay"

var ErrClosed = errors.New("bridge closed")

// Message is one frame on the bridge.
type Message struct {
	Origin string         `json:"origin"`
	Frame  envelope.Frame `json:"frame"`
}

// Bridge publishes and consumes relay messages.
type Bridge interface {
	Name() string
	Publish(ctx context.Context, m Message) error
	// Subscribe delivers messages to fn until ctx is done or the
	// underlying subscription fails.
	Subscribe(ctx context.Context, fn func(Message)) error
	Close() error
}

type Config struct {
	// Driver is "", "none", "redis", "nats" or "local".
	Driver string
	URL    string
	Topic  string
}

// Open returns (nil, nil) when the bridge is disabled.
func Open(cfg Config, log logx.Logger) (Bridge, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		topic = DefaultTopic
	}
	switch d := strings.ToLower(strings.TrimSpace(cfg.Driver)); d {
	case "", "none":
		return nil, nil
	case "redis":
		return openRedis(cfg.URL, topic, log)
	case "nats":
		return openNATS(cfg.URL, topic, log)
	case "local":
		return NewLocal(), nil
	default:
		return nil, fmt.Errorf("unknown bridge driver: %s", d)
	}
}

func encode(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("bridge encode: %w", err)
	}
	return b, nil
}

func decode(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("bridge decode: %w", err)
	}
	if m.Origin == "" {
		return Message{}, errors.New("bridge decode: missing origin")
	}
	return m, nil
}
