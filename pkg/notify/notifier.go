package notify

import (
	"context"
	"time"

	"tramitex/pkg/domain"
)

// Notification describes a routing handoff to announce to the new
// responsible. Delivery is best-effort: the workflow never retries and
// never fails a transition over it.
type Notification struct {
	ID           string          `json:"id"`
	Recipient    domain.Profile  `json:"recipient"`
	Document     domain.Document `json:"document"`
	Actor        domain.Profile  `json:"actor"`
	Observations string          `json:"observations,omitempty"`
	SentAt       time.Time       `json:"sentAt"`
}

// Notifier delivers routing notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}
