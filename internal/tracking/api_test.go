package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/open-tracker/internal/beacon"
)

// memStore is a minimal beacon.TrackingStore for routing tests.
type memStore struct {
	beacons     map[string]*beacon.Beacon
	events      map[string][]beacon.OpenEvent
	activateErr error
}

func newMemStore() *memStore {
	return &memStore{
		beacons: make(map[string]*beacon.Beacon),
		events:  make(map[string][]beacon.OpenEvent),
	}
}

func (m *memStore) CreateBeacon(ctx context.Context) (string, error) {
	token := beacon.NewToken()
	m.beacons[token] = &beacon.Beacon{ID: uuid.New(), Token: token, CreatedAt: time.Now()}
	return token, nil
}

func (m *memStore) Activate(ctx context.Context, token, messageID string) (bool, error) {
	if m.activateErr != nil {
		return false, m.activateErr
	}
	b, ok := m.beacons[token]
	if !ok || b.Active() {
		return false, nil
	}
	b.Activation = &beacon.Activation{MessageID: messageID, ActivatedAt: time.Now()}
	return true, nil
}

func (m *memStore) FindByToken(ctx context.Context, token string) (*beacon.Beacon, error) {
	return m.beacons[token], nil
}

func (m *memStore) FindByMessageID(ctx context.Context, messageID string) (*beacon.Beacon, error) {
	for _, b := range m.beacons {
		if b.Active() && b.Activation.MessageID == messageID {
			return b, nil
		}
	}
	return nil, nil
}

func (m *memStore) RecordOpen(ctx context.Context, token string, openedAt time.Time,
	seconds int64, userAgent, sourceIP string, isBot bool) (*beacon.RecordedOpen, error) {
	b, ok := m.beacons[token]
	if !ok || !b.Active() {
		return nil, nil
	}
	counted := !isBot && b.TotalOpens > 0
	b.TotalOpens++
	if counted {
		b.RecipientOpens++
	}
	m.events[token] = append(m.events[token], beacon.OpenEvent{
		ID: uuid.New(), BeaconID: b.ID, OpenedAt: openedAt,
		SecondsSinceActivation: seconds, UserAgent: userAgent, SourceIP: sourceIP,
		IsBot: isBot, CountedAsRecipient: counted,
	})
	return &beacon.RecordedOpen{EventID: uuid.New(), IsBot: isBot, CountedAsRecipient: counted}, nil
}

func (m *memStore) OpenEvents(ctx context.Context, token string, limit int) ([]beacon.OpenEvent, error) {
	return m.events[token], nil
}

func (m *memStore) Stats(ctx context.Context) (*beacon.TrackingStats, error) {
	stats := &beacon.TrackingStats{}
	for _, b := range m.beacons {
		if b.Active() {
			stats.TotalTracked++
			if b.RecipientOpens > 0 {
				stats.EmailsOpened++
			}
		}
	}
	if stats.TotalTracked > 0 {
		stats.OpenRate = float64(stats.EmailsOpened) / float64(stats.TotalTracked) * 100
	}
	return stats, nil
}

func newTestRouter(store beacon.TrackingStore) http.Handler {
	svc := beacon.NewService(store, beacon.NewClassifier(30), "https://t.example.com")
	return Routes(NewHandler(svc, time.Second), NewAPIHandler(svc, svc))
}

func TestCreateAndActivateBeaconRoutes(t *testing.T) {
	store := newMemStore()
	router := newTestRouter(store)

	// Create
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/tracking/beacons", nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", rec.Code)
	}
	var created map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("create response: %v", err)
	}
	token := created["token"]
	if !beacon.ValidToken(token) {
		t.Fatalf("created token %q is not valid", token)
	}
	if !strings.Contains(created["pixel_html"], token) {
		t.Error("pixel_html should embed the token")
	}

	// Activate
	body := strings.NewReader(`{"message_id":"m123"}`)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/tracking/beacons/"+token+"/activate", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("activate status = %d, want 200", rec.Code)
	}
	var activated map[string]bool
	json.Unmarshal(rec.Body.Bytes(), &activated)
	if !activated["activated"] {
		t.Error("first activation should report activated=true")
	}

	// Re-activate: expected non-fatal outcome, still 200
	body = strings.NewReader(`{"message_id":"m456"}`)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/tracking/beacons/"+token+"/activate", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("re-activate status = %d, want 200", rec.Code)
	}
	json.Unmarshal(rec.Body.Bytes(), &activated)
	if activated["activated"] {
		t.Error("re-activation should report activated=false")
	}
}

func TestActivateValidation(t *testing.T) {
	store := newMemStore()
	router := newTestRouter(store)
	token, _ := store.CreateBeacon(context.Background())

	// Missing message_id
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost,
		"/api/tracking/beacons/"+token+"/activate", strings.NewReader(`{}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing message_id status = %d, want 400", rec.Code)
	}

	// Storage failure propagates: the email must not go out with a dead beacon.
	store.activateErr = errors.New("pq: connection refused")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost,
		"/api/tracking/beacons/"+token+"/activate", strings.NewReader(`{"message_id":"m1"}`)))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("storage failure status = %d, want 500", rec.Code)
	}
}

func TestGetBeaconRoute(t *testing.T) {
	store := newMemStore()
	router := newTestRouter(store)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/tracking/beacons/"+beacon.NewToken(), nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown beacon status = %d, want 404", rec.Code)
	}

	token, _ := store.CreateBeacon(context.Background())
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tracking/beacons/"+token, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get beacon status = %d, want 200", rec.Code)
	}
	var b beacon.Beacon
	if err := json.Unmarshal(rec.Body.Bytes(), &b); err != nil {
		t.Fatalf("get beacon response: %v", err)
	}
	if b.Token != token {
		t.Errorf("token = %q, want %q", b.Token, token)
	}
}

func TestOpenEventsRouteEmpty(t *testing.T) {
	store := newMemStore()
	router := newTestRouter(store)
	token, _ := store.CreateBeacon(context.Background())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/tracking/beacons/"+token+"/events", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("events status = %d, want 200", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("empty history should serialize as [], got %s", rec.Body.String())
	}
}

func TestStatsRoute(t *testing.T) {
	store := newMemStore()
	router := newTestRouter(store)

	token, _ := store.CreateBeacon(context.Background())
	store.Activate(context.Background(), token, "m1")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tracking/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d, want 200", rec.Code)
	}
	var stats beacon.TrackingStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("stats response: %v", err)
	}
	if stats.TotalTracked != 1 {
		t.Errorf("TotalTracked = %d, want 1", stats.TotalTracked)
	}
}

func TestPixelRouteThroughRouter(t *testing.T) {
	store := newMemStore()
	router := newTestRouter(store)

	token, _ := store.CreateBeacon(context.Background())
	store.Activate(context.Background(), token, "m1")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/img/spacer.gif?cache="+token, nil))
	assertPixelResponse(t, rec)

	if store.beacons[token].TotalOpens != 1 {
		t.Errorf("total opens = %d, want 1", store.beacons[token].TotalOpens)
	}
}

func TestHealthRoute(t *testing.T) {
	router := newTestRouter(newMemStore())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rec.Code)
	}
}
