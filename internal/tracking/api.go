package tracking

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/open-tracker/internal/beacon"
	"github.com/ignite/open-tracker/internal/pkg/httputil"
)

// StatsReader is the aggregate-stats source for the dashboard route.
// Satisfied by *beacon.Store directly or by the statscache wrapper.
type StatsReader interface {
	Stats(ctx context.Context) (*beacon.TrackingStats, error)
}

// APIHandler serves the collaborator-facing routes: beacon creation and
// activation for the email-composition side, stats and event history for
// dashboards.
type APIHandler struct {
	svc   *beacon.Service
	stats StatsReader
}

// NewAPIHandler creates the API handler. stats may differ from svc when a
// cache sits in front of the store.
func NewAPIHandler(svc *beacon.Service, stats StatsReader) *APIHandler {
	return &APIHandler{svc: svc, stats: stats}
}

// HandleCreateBeacon creates a draft beacon and returns its token plus the
// embed fragment for the outbound email body.
func (a *APIHandler) HandleCreateBeacon(w http.ResponseWriter, r *http.Request) {
	token, err := a.svc.Create(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.Created(w, map[string]string{
		"token":      token,
		"pixel_url":  a.svc.PixelURL(token),
		"pixel_html": a.svc.PixelHTML(token),
	})
}

type activateRequest struct {
	MessageID string `json:"message_id"`
}

// HandleActivateBeacon transitions a beacon to active once the email is
// confirmed sent. "Already activated" responds 200 with activated=false;
// only storage failures become errors, since the caller may be about to
// send an email carrying a dead beacon.
func (a *APIHandler) HandleActivateBeacon(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	var req activateRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.MessageID == "" {
		httputil.BadRequest(w, "message_id is required")
		return
	}

	activated, err := a.svc.Activate(r.Context(), token, req.MessageID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]bool{"activated": activated})
}

// HandleGetBeacon returns the current beacon record with its counters.
func (a *APIHandler) HandleGetBeacon(w http.ResponseWriter, r *http.Request) {
	b, err := a.svc.Beacon(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if b == nil {
		httputil.NotFound(w, "beacon not found")
		return
	}
	httputil.OK(w, b)
}

// HandleOpenEvents returns recent open history for a beacon, newest first.
func (a *APIHandler) HandleOpenEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	events, err := a.svc.OpenEvents(r.Context(), chi.URLParam(r, "token"), limit)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if events == nil {
		events = []beacon.OpenEvent{}
	}
	httputil.OK(w, events)
}

// HandleStats returns the aggregate open metrics for the dashboard.
func (a *APIHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.stats.Stats(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, stats)
}

// HandleHealth is the liveness probe.
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
