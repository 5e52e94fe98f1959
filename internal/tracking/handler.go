// Package tracking is the HTTP surface of the open-tracking service: the
// public pixel endpoint fetched by recipients' mail clients, and the
// internal API consumed by the email-composition and dashboard
// collaborators.
package tracking

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ignite/open-tracker/internal/beacon"
	"github.com/ignite/open-tracker/internal/pkg/logger"
)

// pixelGIF is the canonical 43-byte 1x1 transparent GIF. Every response
// from the pixel endpoint carries exactly this body, whatever happened
// internally: a broken image in an email tips off the tracking intent.
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, // GIF89a
	0x01, 0x00, 0x01, 0x00, 0x80, 0x00, 0x00, // 1x1, GCT of 2
	0x00, 0x00, 0x00, 0xff, 0xff, 0xff, // black, white
	0x21, 0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, // GCE: index 0 transparent
	0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, // image descriptor
	0x02, 0x02, 0x44, 0x01, 0x00, // 1 clear pixel
	0x3b, // trailer
}

// OpenRecorder records one pixel fetch against a beacon. Implemented by
// *beacon.Service.
type OpenRecorder interface {
	RecordOpen(ctx context.Context, token string, openedAt time.Time, userAgent, sourceIP string) (*beacon.OpenOutcome, error)
}

// Handler serves the tracking pixel. It must stay fast: mail clients apply
// their own image-fetch timeouts and may never retry, so store work is
// bounded by recordTimeout and every failure mode still returns the image.
type Handler struct {
	recorder      OpenRecorder
	recordTimeout time.Duration
}

// NewHandler creates the pixel handler. recordTimeout bounds classification
// plus the store write per request.
func NewHandler(recorder OpenRecorder, recordTimeout time.Duration) *Handler {
	if recordTimeout <= 0 {
		recordTimeout = 2 * time.Second
	}
	return &Handler{recorder: recorder, recordTimeout: recordTimeout}
}

// HandleOpen processes GET /img/spacer.gif?cache={token}. The response is
// always HTTP 200 with the GIF and no-cache headers; malformed tokens,
// unknown or draft beacons, storage failures, and panics all end the same
// way from the mail client's point of view.
func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	defer h.servePixel(w)
	defer func() {
		if p := recover(); p != nil {
			logger.Error("pixel handler panic", "panic", fmt.Sprintf("%v", p))
		}
	}()

	token := r.URL.Query().Get("cache")
	if !beacon.ValidToken(token) {
		logger.Debug("pixel request with malformed token")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.recordTimeout)
	defer cancel()

	outcome, err := h.recorder.RecordOpen(ctx, token, time.Now().UTC(), r.UserAgent(), clientIP(r))
	if err != nil {
		logger.Error("open recording failed", "beacon", token, "error", err)
		return
	}
	if !outcome.Recorded {
		logger.Debug("open ignored", "beacon", token)
		return
	}
	logger.Info("open recorded", "beacon", token,
		"bot", outcome.Open.IsBot, "counted", outcome.Open.CountedAsRecipient, "source", clientIP(r))
}

func (h *Handler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(pixelGIF)))
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}

// clientIP extracts a best-effort origin address: first X-Forwarded-For
// hop, then X-Real-Ip, then the connection address. Whatever wins must
// parse as an IP or we record nothing.
func clientIP(r *http.Request) string {
	candidate := ""
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		candidate = xff
		if idx := strings.Index(xff, ","); idx > 0 {
			candidate = xff[:idx]
		}
		candidate = strings.TrimSpace(candidate)
	} else if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		candidate = strings.TrimSpace(xri)
	} else {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		candidate = host
	}
	if net.ParseIP(candidate) == nil {
		return ""
	}
	return candidate
}
