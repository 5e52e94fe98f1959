package beacon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/open-tracker/internal/pkg/logger"
)

// TrackingStore is the persistence surface the lifecycle service depends
// on. *Store implements it; tests substitute doubles.
type TrackingStore interface {
	CreateBeacon(ctx context.Context) (string, error)
	Activate(ctx context.Context, token, messageID string) (bool, error)
	FindByToken(ctx context.Context, token string) (*Beacon, error)
	FindByMessageID(ctx context.Context, messageID string) (*Beacon, error)
	RecordOpen(ctx context.Context, token string, openedAt time.Time,
		secondsSinceActivation int64, userAgent, sourceIP string, isBot bool) (*RecordedOpen, error)
	OpenEvents(ctx context.Context, token string, limit int) ([]OpenEvent, error)
	Stats(ctx context.Context) (*TrackingStats, error)
}

// OpenOutcome reports what happened to one pixel request. Skipped outcomes
// (unknown token, draft beacon) are not errors; the pixel is served either
// way.
type OpenOutcome struct {
	Recorded bool
	Open     *RecordedOpen
}

// Service is the beacon lifecycle: create while composing, activate on
// confirmed send, record opens while active.
type Service struct {
	store      TrackingStore
	classifier *Classifier
	baseURL    string
}

// NewService builds the lifecycle service. baseURL is the public base under
// which the pixel route is reachable from recipients' mail clients.
func NewService(store TrackingStore, classifier *Classifier, baseURL string) *Service {
	return &Service{
		store:      store,
		classifier: classifier,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// Create makes a new draft beacon and returns its token for embedding.
// Storage failures propagate: the caller must not send an email carrying a
// dead beacon.
func (s *Service) Create(ctx context.Context) (string, error) {
	token, err := s.store.CreateBeacon(ctx)
	if err != nil {
		logger.Error("beacon create failed", "error", err)
		return "", err
	}
	logger.Debug("beacon created", "beacon", token)
	return token, nil
}

// Activate marks the beacon's email as sent, starting the open-tracking
// clock. Idempotent: only the first call transitions the beacon; later
// calls return false, which callers treat as "already activated", not a
// failure.
func (s *Service) Activate(ctx context.Context, token, messageID string) (bool, error) {
	if !ValidToken(token) {
		return false, nil
	}
	activated, err := s.store.Activate(ctx, token, messageID)
	if err != nil {
		logger.Error("beacon activation failed", "beacon", token, "message_id", messageID, "error", err)
		return false, err
	}
	if activated {
		logger.Info("beacon activated", "beacon", token, "message_id", messageID)
	} else {
		logger.Debug("beacon activation skipped", "beacon", token)
	}
	return activated, nil
}

// RecordOpen resolves the beacon, computes elapsed time since activation,
// classifies the event, and records it. Unknown, draft, or malformed
// beacons yield a skipped outcome with no error.
func (s *Service) RecordOpen(ctx context.Context, token string, openedAt time.Time, userAgent, sourceIP string) (*OpenOutcome, error) {
	if !ValidToken(token) {
		return &OpenOutcome{}, nil
	}

	b, err := s.store.FindByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if b == nil || !b.Active() {
		return &OpenOutcome{}, nil
	}

	// Floor at zero: clock skew between the activating host and this one
	// must not produce negative elapsed time.
	seconds := int64(openedAt.Sub(b.Activation.ActivatedAt) / time.Second)
	if seconds < 0 {
		seconds = 0
	}

	isBot := s.classifier.Classify(seconds, userAgent)

	open, err := s.store.RecordOpen(ctx, token, openedAt, seconds, userAgent, sourceIP, isBot)
	if err != nil {
		return nil, err
	}
	if open == nil {
		// Lost the race with a concurrent state change; nothing written.
		return &OpenOutcome{}, nil
	}
	return &OpenOutcome{Recorded: true, Open: open}, nil
}

// Beacon returns the current beacon record, or nil when unknown.
func (s *Service) Beacon(ctx context.Context, token string) (*Beacon, error) {
	if !ValidToken(token) {
		return nil, nil
	}
	return s.store.FindByToken(ctx, token)
}

// OpenEvents returns recent open history for a beacon, newest first.
func (s *Service) OpenEvents(ctx context.Context, token string, limit int) ([]OpenEvent, error) {
	if !ValidToken(token) {
		return nil, nil
	}
	return s.store.OpenEvents(ctx, token, limit)
}

// Stats returns the aggregate open metrics across active beacons.
func (s *Service) Stats(ctx context.Context) (*TrackingStats, error) {
	return s.store.Stats(ctx)
}

// PixelURL builds the tracking image URL for a beacon. The query parameter
// is literally named "cache": mail-client prefetchers treat it as a
// cache-buster, which keeps every open re-fetching the image.
func (s *Service) PixelURL(token string) string {
	return fmt.Sprintf("%s/img/spacer.gif?cache=%s", s.baseURL, token)
}

// PixelHTML returns the <img> fragment the email-composition collaborator
// embeds in outbound HTML: 1x1, hidden, no alt text.
func (s *Service) PixelHTML(token string) string {
	return fmt.Sprintf(`<img src="%s" width="1" height="1" style="display:none" />`, s.PixelURL(token))
}

// InjectPixel inserts the tracking fragment into an email body, just before
// </body> when present, appended otherwise.
func (s *Service) InjectPixel(html, token string) string {
	pixel := s.PixelHTML(token)
	if strings.Contains(html, "</body>") {
		return strings.Replace(html, "</body>", pixel+"</body>", 1)
	}
	return html + pixel
}
