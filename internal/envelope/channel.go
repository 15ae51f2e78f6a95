package envelope

import (
	"errors"
	"fmt"
	"strings"
)

// BroadcastChannel is the channel every client may listen on.
const BroadcastChannel = "broadcast"

const (
	customerPrefix = "customer-"
	staffPrefix    = "staff-"
)

var ErrInvalidChannel = errors.New("invalid channel")

type targetKind uint8

const (
	kindNone targetKind = iota
	kindCustomer
	kindStaff
	kindBroadcast
)

// Target selects the audience of a notification.
type Target struct {
	kind targetKind
	id   string
}

// Broadcast targets every client listening on the broadcast channel.
var Broadcast = Target{kind: kindBroadcast}

func Customer(id string) Target { return Target{kind: kindCustomer, id: strings.TrimSpace(id)} }
func Staff(id string) Target    { return Target{kind: kindStaff, id: strings.TrimSpace(id)} }

func (t Target) IsZero() bool { return t.kind == kindNone }

// ID returns the customer or staff id; empty for broadcast.
func (t Target) ID() string { return t.id }

// Channel derives the routing channel name. It is pure formatting.
func (t Target) Channel() string {
	switch t.kind {
	case kindCustomer:
		return customerPrefix + t.id
	case kindStaff:
		return staffPrefix + t.id
	case kindBroadcast:
		return BroadcastChannel
	default:
		return ""
	}
}

func (t Target) String() string { return t.Channel() }

// Validate reports whether the target maps to a routable channel.
func (t Target) Validate() error {
	switch t.kind {
	case kindBroadcast:
		return nil
	case kindCustomer, kindStaff:
		if t.id == "" || strings.ContainsAny(t.id, " \t\r\n") {
			return fmt.Errorf("%w: %q", ErrInvalidChannel, t.Channel())
		}
		return nil
	default:
		return fmt.Errorf("%w: empty target", ErrInvalidChannel)
	}
}

// ParseChannel maps a channel name back to its Target.
func ParseChannel(name string) (Target, error) {
	name = strings.TrimSpace(name)
	var t Target
	switch {
	case name == BroadcastChannel:
		t = Broadcast
	case strings.HasPrefix(name, customerPrefix):
		t = Target{kind: kindCustomer, id: strings.TrimPrefix(name, customerPrefix)}
	case strings.HasPrefix(name, staffPrefix):
		t = Target{kind: kindStaff, id: strings.TrimPrefix(name, staffPrefix)}
	default:
		return Target{}, fmt.Errorf("%w: %q", ErrInvalidChannel, name)
	}
	if err := t.Validate(); err != nil {
		return Target{}, err
	}
	return t, nil
}
