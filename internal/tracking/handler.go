package tracking

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ignite/engagex/internal/domain"
	"github.com/ignite/engagex/internal/metrics"
	"github.com/ignite/engagex/internal/pkg/logger"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

const unsubscribedPage = `<!DOCTYPE html><html><body style="font-family:Arial,sans-serif;text-align:center;padding:50px;">
<h1>You have been unsubscribed</h1>
<p>You will no longer receive these emails.</p>
</body></html>`

// Handler serves the public tracking endpoints. Only links carrying a valid
// signature produce events.
type Handler struct {
	links *Links
	sink  Sink
	now   func() time.Time
	log   *logger.Logger
}

// NewHandler creates the tracking endpoints.
func NewHandler(links *Links, sink Sink) *Handler {
	return &Handler{
		links: links,
		sink:  sink,
		now:   time.Now,
		log:   logger.With("component", "tracking"),
	}
}

// Routes mounts the tracking endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/track/open/{data}/{sig}", h.HandleOpen)
	r.Get("/track/click/{data}/{sig}", h.HandleClick)
	r.Get("/track/unsubscribe/{data}/{sig}", h.HandleUnsubscribe)
	// RFC 8058 one-click unsubscribe
	r.Post("/track/unsubscribe/{data}/{sig}", h.HandleUnsubscribe)
}

func (h *Handler) decode(r *http.Request) (Target, error) {
	return h.links.Decode(chi.URLParam(r, "data"), chi.URLParam(r, "sig"))
}

// HandleOpen records an open and always serves the pixel.
func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	if t, err := h.decode(r); err == nil {
		h.publish(r, domain.EventOpen, t)
	} else {
		metrics.TrackingEvents.WithLabelValues("link", string(domain.EventOpen), "invalid").Inc()
	}
	servePixel(w)
}

// HandleClick records a click and redirects to the signed target. Unsigned
// targets are refused so the endpoint cannot serve as an open redirect.
func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	t, err := h.decode(r)
	if err != nil || t.URL == "" || !(strings.HasPrefix(t.URL, "http://") || strings.HasPrefix(t.URL, "https://")) {
		metrics.TrackingEvents.WithLabelValues("link", string(domain.EventClick), "invalid").Inc()
		http.Error(w, "bad link", http.StatusBadRequest)
		return
	}
	h.publish(r, domain.EventClick, t)
	http.Redirect(w, r, t.URL, http.StatusFound)
}

// HandleUnsubscribe records an unsubscribe and confirms it to the reader.
func (h *Handler) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	t, err := h.decode(r)
	if err != nil || t.URL != "" {
		metrics.TrackingEvents.WithLabelValues("link", string(domain.EventUnsubscribe), "invalid").Inc()
		http.Error(w, "bad link", http.StatusBadRequest)
		return
	}
	if err := h.publish(r, domain.EventUnsubscribe, t); err != nil {
		http.Error(w, "unsubscribe failed, please try again", http.StatusServiceUnavailable)
		return
	}
	if r.Method == http.MethodPost {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(unsubscribedPage))
}

func (h *Handler) publish(r *http.Request, typ domain.EventType, t Target) error {
	evt := Event{
		ID:          uuid.NewString(),
		Type:        typ,
		OrgID:       t.OrgID,
		CampaignID:  t.CampaignID,
		RecipientID: t.RecipientID,
		URL:         t.URL,
		IPAddress:   realIP(r),
		UserAgent:   r.UserAgent(),
		Timestamp:   h.now().UTC(),
	}
	// the reader's connection closing must not drop the event
	ctx := context.WithoutCancel(r.Context())
	if err := h.sink.Publish(ctx, evt); err != nil {
		metrics.TrackingEvents.WithLabelValues("link", string(typ), "error").Inc()
		h.log.Error("tracking event not recorded", "type", typ, "campaign_id", t.CampaignID, "recipient_id", t.RecipientID, "error", err)
		return err
	}
	metrics.TrackingEvents.WithLabelValues("link", string(typ), "accepted").Inc()
	h.log.Debug("tracking event", "type", typ, "campaign_id", t.CampaignID, "recipient_id", t.RecipientID)
	return nil
}

func servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
