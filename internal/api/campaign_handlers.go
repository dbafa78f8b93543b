package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ignite/engagex/internal/domain"
	"github.com/ignite/engagex/internal/pkg/httputil"
	"github.com/ignite/engagex/internal/queue"
	"github.com/ignite/engagex/internal/service/campaign"
	"github.com/ignite/engagex/internal/service/delivery"
)

type scheduleRequest struct {
	ScheduledAt time.Time `json:"scheduled_at"`
}

type sendRequest struct {
	// nil keeps the campaign's stored audience; an empty list means every
	// subscribed contact
	ContactGroupIDs []string `json:"contactGroupIds"`
}

//	POST /api/campaigns
func (h *handlers) createCampaign(w http.ResponseWriter, r *http.Request) {
	var in campaign.CreateInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	c, err := h.campaigns.Create(r.Context(), orgID(r), userID(r), in)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.Created(w, c)
}

//	GET /api/campaigns?status=&search=&page=&limit=
func (h *handlers) listCampaigns(w http.ResponseWriter, r *http.Request) {
	p := readPage(r)
	list, total, err := h.campaigns.List(r.Context(), orgID(r), campaign.ListFilter{
		Status: r.URL.Query().Get("status"),
		Search: strings.TrimSpace(r.URL.Query().Get("search")),
		Limit:  p.Limit,
		Offset: p.Offset,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []domain.Campaign{}
	}
	httputil.OK(w, pageOf(list, p, total))
}

// getCampaign returns the campaign with its counters recomputed from the
// recipient rows.
//
//	GET /api/campaigns/{id}
func (h *handlers) getCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Get(r.Context(), orgID(r), pathID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	agg, err := h.engine.Aggregates(r.Context(), c.OrganizationID, c.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	c.Stats = agg
	httputil.OK(w, c)
}

//	PUT /api/campaigns/{id}
func (h *handlers) updateCampaign(w http.ResponseWriter, r *http.Request) {
	var u campaign.UpdateFields
	if !httputil.Decode(w, r, &u) {
		return
	}
	if err := h.campaigns.Update(r.Context(), orgID(r), pathID(r), u); err != nil {
		writeError(w, err)
		return
	}
	c, err := h.campaigns.Get(r.Context(), orgID(r), pathID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, c)
}

//	DELETE /api/campaigns/{id}
func (h *handlers) deleteCampaign(w http.ResponseWriter, r *http.Request) {
	if err := h.campaigns.Delete(r.Context(), orgID(r), pathID(r)); err != nil {
		writeError(w, err)
		return
	}
	httputil.NoContent(w)
}

//	POST /api/campaigns/{id}/duplicate
func (h *handlers) duplicateCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Duplicate(r.Context(), orgID(r), pathID(r), userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.Created(w, c)
}

//	POST /api/campaigns/{id}/schedule
func (h *handlers) scheduleCampaign(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.ScheduledAt.IsZero() {
		httputil.ErrorCode(w, http.StatusBadRequest, "validation_failed", "scheduled_at is required")
		return
	}
	c, err := h.campaigns.Schedule(r.Context(), orgID(r), pathID(r), req.ScheduledAt)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, c)
}

// sendCampaign dispatches immediately and answers {sent, total}. With
// ?async=true the dispatch is queued for the workers instead.
//
//	POST /api/campaigns/{id}/send
func (h *handlers) sendCampaign(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	org, id := orgID(r), pathID(r)

	if r.URL.Query().Get("async") == "true" && h.jobs != nil {
		if _, err := h.campaigns.Get(r.Context(), org, id); err != nil {
			writeError(w, err)
			return
		}
		job := queue.Job{Kind: queue.KindDispatch, OrgID: org, CampaignID: id, GroupIDs: req.ContactGroupIDs}
		if err := h.jobs.Enqueue(r.Context(), job); err != nil {
			httputil.InternalError(w, err)
			return
		}
		httputil.Accepted(w, map[string]any{"queued": true, "campaign_id": id})
		return
	}

	res, err := h.withCampaignLock(r.Context(), id, func(ctx context.Context) (delivery.DispatchResult, error) {
		return h.engine.Dispatch(ctx, org, id, req.ContactGroupIDs)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, res)
}

//	POST /api/campaigns/{id}/pause
func (h *handlers) pauseCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Pause(r.Context(), orgID(r), pathID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, c)
}

//	POST /api/campaigns/{id}/resume
func (h *handlers) resumeCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Resume(r.Context(), orgID(r), pathID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, c)
}

// retryCampaign is the operator action for a failed campaign.
//
//	POST /api/campaigns/{id}/retry
func (h *handlers) retryCampaign(w http.ResponseWriter, r *http.Request) {
	org, id := orgID(r), pathID(r)
	res, err := h.withCampaignLock(r.Context(), id, func(ctx context.Context) (delivery.DispatchResult, error) {
		return h.engine.Retry(ctx, org, id)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, res)
}

// withCampaignLock runs fn while holding the campaign's dispatch lock, the
// same lock the dispatch workers take.
func (h *handlers) withCampaignLock(ctx context.Context, campaignID string, fn func(context.Context) (delivery.DispatchResult, error)) (delivery.DispatchResult, error) {
	if h.locks == nil {
		return fn(ctx)
	}
	lock := h.locks.Campaign(campaignID)
	held, err := lock.Acquire(ctx)
	if err != nil {
		return delivery.DispatchResult{}, fmt.Errorf("acquire dispatch lock: %w", err)
	}
	if !held {
		return delivery.DispatchResult{}, errBusy
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("dispatch lock release", "campaign_id", campaignID, "error", err)
		}
	}()
	return fn(ctx)
}
