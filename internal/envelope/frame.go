package envelope

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Action is set by clients on control frames.
type Action string

const (
	ActionSubscribe   Action = "subscribe"
	ActionUnsubscribe Action = "unsubscribe"
	ActionPublish     Action = "publish"
)

// Event names used on the relay socket.
const (
	EventNotification = "notification"
	// EventSubscribed acknowledges a subscribe control frame.
	EventSubscribed = "subscribed"
	// EventError reports a rejected control frame back to its sender.
	EventError = "error"
)

// Frame is the unit written to and read from a relay connection.
type Frame struct {
	Action  Action        `json:"action,omitempty"`
	Event   string        `json:"event,omitempty"`
	Channel string        `json:"channel"`
	Data    *Notification `json:"data,omitempty"`
	// Error is only set on EventError frames.
	Error string `json:"error,omitempty"`
}

// NotificationFrame wraps n for delivery on channel.
func NotificationFrame(channel string, n Notification) Frame {
	return Frame{Event: EventNotification, Channel: channel, Data: &n}
}

// Encode marshals f for the wire.
func Encode(f Frame) ([]byte, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return b, nil
}

// Decode parses one frame. A frame without an action but with data is a
// publish, so senders that only speak the plain envelope shape still work.
func Decode(b []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	f.Channel = strings.TrimSpace(f.Channel)
	if f.Action == "" && f.Data != nil {
		f.Action = ActionPublish
	}
	if f.Action == ActionPublish && f.Event == "" {
		f.Event = EventNotification
	}
	return f, nil
}
