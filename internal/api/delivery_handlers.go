package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/engagex/internal/domain"
	"github.com/ignite/engagex/internal/pkg/httputil"
	"github.com/ignite/engagex/internal/service/delivery"
)

func queryInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	return n
}

//	GET /api/campaigns/{id}/stats
func (h *handlers) campaignStats(w http.ResponseWriter, r *http.Request) {
	agg, err := h.engine.Aggregates(r.Context(), orgID(r), pathID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, agg)
}

// listRecipients pages with ?after=<last id> (keyset) or ?offset=.
//
//	GET /api/campaigns/{id}/recipients?status=&after=&limit=&offset=
func (h *handlers) listRecipients(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := h.engine.Recipients(r.Context(), orgID(r), pathID(r), delivery.RecipientFilter{
		Status:  domain.RecipientStatus(q.Get("status")),
		AfterID: q.Get("after"),
		Limit:   queryInt(r, "limit"),
		Offset:  queryInt(r, "offset"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []domain.CampaignRecipient{}
	}
	resp := map[string]any{"recipients": list}
	if n := len(list); n > 0 {
		resp["next_after"] = list[n-1].ID
	}
	httputil.OK(w, resp)
}

//	GET /api/campaigns/{id}/events?type=&limit=&offset=
func (h *handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	list, err := h.engine.Events(r.Context(), orgID(r), pathID(r), delivery.EventFilter{
		Type:   domain.EventType(r.URL.Query().Get("type")),
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []domain.AnalyticsEvent{}
	}
	httputil.OK(w, map[string]any{"events": list})
}

// recordEvent applies a delivery or engagement event to one recipient of
// the campaign. Replays and stale events answer 200 with the outcome.
//
//	POST /api/campaigns/{id}/recipients/{rid}/events
func (h *handlers) recordEvent(w http.ResponseWriter, r *http.Request) {
	var in delivery.EventInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	org, campaignID, rid := orgID(r), pathID(r), chi.URLParam(r, "rid")

	if _, err := h.engine.Recipient(r.Context(), org, campaignID, rid); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.engine.ApplyEvent(r.Context(), org, rid, in)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, res)
}
