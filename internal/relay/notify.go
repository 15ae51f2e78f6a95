package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"shopnotify/internal/envelope"
)

// NotifyRequest is the body of POST /notify. Exactly one of Channel,
// CustomerID, StaffID or Broadcast selects the audience.
type NotifyRequest struct {
	Channel    string          `json:"channel" validate:"omitempty,max=128"`
	CustomerID string          `json:"customer_id" validate:"omitempty,max=64,excludesall= "`
	StaffID    string          `json:"staff_id" validate:"omitempty,max=64,excludesall= "`
	Broadcast  bool            `json:"broadcast"`
	ID         string          `json:"id" validate:"omitempty,max=128"`
	Title      string          `json:"title" validate:"required,max=200"`
	Message    string          `json:"message" validate:"required,max=2000"`
	Type       string          `json:"type" validate:"omitempty,oneof=info success warning error"`
	Event      string          `json:"event" validate:"omitempty,max=64"`
	Extra      json.RawMessage `json:"extra,omitempty"`
}

type NotifyResponse struct {
	ID        string `json:"id"`
	Channel   string `json:"channel"`
	Timestamp string `json:"timestamp"`
	Delivered int    `json:"delivered"`
}

var errAudience = errors.New("exactly one of channel, customer_id, staff_id or broadcast is required")

func (r NotifyRequest) channel() (string, error) {
	var picked []string
	if s := strings.TrimSpace(r.Channel); s != "" {
		picked = append(picked, s)
	}
	if s := strings.TrimSpace(r.CustomerID); s != "" {
		picked = append(picked, envelope.Customer(s).Channel())
	}
	if s := strings.TrimSpace(r.StaffID); s != "" {
		picked = append(picked, envelope.Staff(s).Channel())
	}
	if r.Broadcast {
		picked = append(picked, envelope.Broadcast.Channel())
	}
	if len(picked) != 1 {
		return "", errAudience
	}
	if _, err := envelope.ParseChannel(picked[0]); err != nil {
		return "", err
	}
	return picked[0], nil
}

// frame validates r and builds the outbound frame the same way the sender
// does: fresh id unless one was supplied, send-time timestamp.
func (r NotifyRequest) frame(v *validator.Validate, now time.Time) (envelope.Frame, error) {
	if err := v.Struct(r); err != nil {
		return envelope.Frame{}, describeValidation(err)
	}
	ch, err := r.channel()
	if err != nil {
		return envelope.Frame{}, err
	}
	extra, err := envelope.ParseExtra(r.Extra)
	if err != nil {
		return envelope.Frame{}, err
	}
	n := envelope.New(r.Title, r.Message, envelope.Type(r.Type), now)
	if id := strings.TrimSpace(r.ID); id != "" {
		n.ID = id
	}
	n.Extra = extra
	f := envelope.NotificationFrame(ch, n)
	if r.Event != "" {
		f.Event = r.Event
	}
	return f, nil
}

func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("invalid request: %s", strings.Join(parts, ", "))
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}
