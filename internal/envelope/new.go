package envelope

import (
	"time"

	"github.com/google/uuid"
)

// New builds an outbound notification with a fresh id and a send-time
// timestamp. An empty or unknown typ becomes info.
func New(title, message string, typ Type, now time.Time) Notification {
	if now.IsZero() {
		now = time.Now()
	}
	return Notification{
		ID:        uuid.NewString(),
		Title:     title,
		Message:   message,
		Type:      typ.OrDefault(),
		Timestamp: Stamp(now),
	}
}
