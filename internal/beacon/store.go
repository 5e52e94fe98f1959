package beacon

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store provides database operations for beacons and open events. All
// mutations that touch counters run inside a transaction with a row lock on
// the beacon, so concurrent pixel requests can never lose an increment or
// race the first-open determination.
type Store struct {
	db *sql.DB
}

// NewStore creates a new tracking store over the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateBeacon inserts a new draft beacon with a fresh token and zeroed
// counters, returning the token. A unique-constraint violation here means a
// generator collision, which at 128 bits is effectively impossible; it is
// surfaced as an error rather than retried.
func (s *Store) CreateBeacon(ctx context.Context) (string, error) {
	token := NewToken()
	query := `INSERT INTO tracking_beacons (id, beacon_token, state, created_at)
		VALUES ($1, $2, 'draft', NOW())`

	if _, err := s.db.ExecContext(ctx, query, uuid.New(), token); err != nil {
		return "", fmt.Errorf("create beacon: %w", err)
	}
	return token, nil
}

// Activate transitions a draft beacon to active, stamping the activation
// time and linking the sent message. The guard is a single conditional
// update: only a row still in draft is touched, so concurrent or repeated
// activation attempts are idempotent and activated_at is written exactly
// once. Returns false when no eligible row was found (unknown token or
// already active) - an expected outcome, not an error.
func (s *Store) Activate(ctx context.Context, token, messageID string) (bool, error) {
	query := `UPDATE tracking_beacons
		SET state = 'active', activated_at = NOW(), message_id = $2
		WHERE beacon_token = $1 AND state = 'draft'`

	res, err := s.db.ExecContext(ctx, query, token, messageID)
	if err != nil {
		return false, fmt.Errorf("activate beacon: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("activate beacon: %w", err)
	}
	return n == 1, nil
}

const beaconColumns = `id, beacon_token, state, message_id, activated_at,
	total_open_count, recipient_open_count, first_opened_at, last_opened_at, created_at`

// FindByToken retrieves a beacon by its token. Returns (nil, nil) when the
// token is unknown.
func (s *Store) FindByToken(ctx context.Context, token string) (*Beacon, error) {
	query := `SELECT ` + beaconColumns + ` FROM tracking_beacons WHERE beacon_token = $1`
	return s.scanBeacon(s.db.QueryRowContext(ctx, query, token))
}

// FindByMessageID retrieves the beacon linked to a sent message. Returns
// (nil, nil) when no beacon was activated for that message.
func (s *Store) FindByMessageID(ctx context.Context, messageID string) (*Beacon, error) {
	query := `SELECT ` + beaconColumns + ` FROM tracking_beacons WHERE message_id = $1`
	return s.scanBeacon(s.db.QueryRowContext(ctx, query, messageID))
}

func (s *Store) scanBeacon(row *sql.Row) (*Beacon, error) {
	var (
		b           Beacon
		state       string
		messageID   sql.NullString
		activatedAt sql.NullTime
	)
	err := row.Scan(&b.ID, &b.Token, &state, &messageID, &activatedAt,
		&b.TotalOpens, &b.RecipientOpens, &b.FirstOpenedAt, &b.LastOpenedAt, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if state == StateActive && activatedAt.Valid {
		b.Activation = &Activation{MessageID: messageID.String, ActivatedAt: activatedAt.Time}
	}
	return &b, nil
}

// RecordOpen durably records one pixel fetch and updates the parent
// beacon's counters as a single atomic unit. The beacon row is locked for
// the duration of the read-increment-write, which makes the first-open
// check race-free: the very first open of any beacon is the sender's own
// BCC delivery fetch and must never count as a recipient open.
//
// Returns (nil, nil) without writing anything when the beacon is unknown or
// not active.
func (s *Store) RecordOpen(ctx context.Context, token string, openedAt time.Time,
	secondsSinceActivation int64, userAgent, sourceIP string, isBot bool) (*RecordedOpen, error) {

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("record open: begin: %w", err)
	}
	defer tx.Rollback()

	var (
		beaconID   uuid.UUID
		state      string
		totalOpens int64
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, state, total_open_count FROM tracking_beacons WHERE beacon_token = $1 FOR UPDATE`,
		token).Scan(&beaconID, &state, &totalOpens)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("record open: lock beacon: %w", err)
	}
	if state != StateActive {
		return nil, nil
	}

	// First-open suppression: the sender's own delivery-confirmation fetch
	// always arrives before the real recipient.
	counted := !isBot && totalOpens > 0

	eventID := uuid.New()
	_, err = tx.ExecContext(ctx, `INSERT INTO tracking_open_events
		(id, beacon_id, opened_at, seconds_since_activation, user_agent, source_ip, is_bot, counted_as_recipient)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8)`,
		eventID, beaconID, openedAt, secondsSinceActivation, userAgent, sourceIP, isBot, counted)
	if err != nil {
		return nil, fmt.Errorf("record open: insert event: %w", err)
	}

	_, err = tx.ExecContext(ctx, `UPDATE tracking_beacons SET
		total_open_count = total_open_count + 1,
		recipient_open_count = recipient_open_count + CASE WHEN $2 THEN 1 ELSE 0 END,
		first_opened_at = COALESCE(first_opened_at, $3),
		last_opened_at = $3
		WHERE id = $1`,
		beaconID, counted, openedAt)
	if err != nil {
		return nil, fmt.Errorf("record open: update counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("record open: commit: %w", err)
	}
	return &RecordedOpen{EventID: eventID, IsBot: isBot, CountedAsRecipient: counted}, nil
}

// OpenEvents returns the most recent open events for a beacon, newest
// first.
func (s *Store) OpenEvents(ctx context.Context, token string, limit int) ([]OpenEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT e.id, e.beacon_id, e.opened_at, e.seconds_since_activation,
		COALESCE(e.user_agent, ''), COALESCE(e.source_ip, ''), e.is_bot, e.counted_as_recipient
		FROM tracking_open_events e
		JOIN tracking_beacons b ON b.id = e.beacon_id
		WHERE b.beacon_token = $1
		ORDER BY e.opened_at DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, token, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []OpenEvent
	for rows.Next() {
		var e OpenEvent
		err := rows.Scan(&e.ID, &e.BeaconID, &e.OpenedAt, &e.SecondsSinceActivation,
			&e.UserAgent, &e.SourceIP, &e.IsBot, &e.CountedAsRecipient)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Stats aggregates open metrics across all active beacons. Reads here need
// no special isolation: the dashboard tolerates slightly stale counters.
func (s *Store) Stats(ctx context.Context) (*TrackingStats, error) {
	query := `SELECT COUNT(*),
		COUNT(*) FILTER (WHERE recipient_open_count > 0),
		COALESCE(SUM(total_open_count), 0)
		FROM tracking_beacons WHERE state = 'active'`

	var (
		stats      TrackingStats
		totalOpens int64
	)
	err := s.db.QueryRowContext(ctx, query).Scan(&stats.TotalTracked, &stats.EmailsOpened, &totalOpens)
	if err != nil {
		return nil, fmt.Errorf("tracking stats: %w", err)
	}
	if stats.TotalTracked > 0 {
		stats.OpenRate = float64(stats.EmailsOpened) / float64(stats.TotalTracked) * 100
		stats.AvgOpensPerEmail = float64(totalOpens) / float64(stats.TotalTracked)
	}
	return &stats, nil
}
