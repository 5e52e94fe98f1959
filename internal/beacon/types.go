// Package beacon implements email open tracking: unguessable beacon tokens
// embedded in outbound email HTML, a draft/active beacon lifecycle, bot
// classification of pixel fetches, and transactionally maintained open
// counters.
package beacon

import (
	"time"

	"github.com/google/uuid"
)

// Beacon states. A beacon starts as draft when the email is composed and
// becomes active exactly once, when the email is confirmed sent. There is no
// transition out of active.
const (
	StateDraft  = "draft"
	StateActive = "active"
)

// Activation carries the fields that only exist once a beacon has been
// activated. A nil Activation means the beacon is still draft, so an
// activated-without-timestamp state cannot be represented.
type Activation struct {
	MessageID   string    `json:"message_id"`
	ActivatedAt time.Time `json:"activated_at"`
}

// Beacon is the tracking record for one outbound email.
type Beacon struct {
	ID             uuid.UUID   `json:"id"`
	Token          string      `json:"token"`
	Activation     *Activation `json:"activation,omitempty"`
	TotalOpens     int64       `json:"total_opens"`
	RecipientOpens int64       `json:"recipient_opens"`
	FirstOpenedAt  *time.Time  `json:"first_opened_at,omitempty"`
	LastOpenedAt   *time.Time  `json:"last_opened_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Active reports whether the beacon may receive opens.
func (b *Beacon) Active() bool { return b.Activation != nil }

// State returns the lifecycle state name as stored.
func (b *Beacon) State() string {
	if b.Active() {
		return StateActive
	}
	return StateDraft
}

// OpenEvent is one recorded fetch of the tracking pixel. Events are
// append-only; classification is fixed at record time and never recomputed.
type OpenEvent struct {
	ID                     uuid.UUID `json:"id"`
	BeaconID               uuid.UUID `json:"beacon_id"`
	OpenedAt               time.Time `json:"opened_at"`
	SecondsSinceActivation int64     `json:"seconds_since_activation"`
	UserAgent              string    `json:"user_agent,omitempty"`
	SourceIP               string    `json:"source_ip,omitempty"`
	IsBot                  bool      `json:"is_bot"`
	CountedAsRecipient     bool      `json:"counted_as_recipient"`
}

// RecordedOpen describes the outcome of a successfully recorded open.
type RecordedOpen struct {
	EventID            uuid.UUID
	IsBot              bool
	CountedAsRecipient bool
}

// TrackingStats is the aggregate view over all active beacons, consumed by
// the dashboard collaborator.
type TrackingStats struct {
	TotalTracked     int64   `json:"total_tracked"`
	EmailsOpened     int64   `json:"emails_opened"`
	OpenRate         float64 `json:"open_rate"`
	AvgOpensPerEmail float64 `json:"avg_opens_per_email"`
}
