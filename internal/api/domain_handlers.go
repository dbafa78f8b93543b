package api

import (
	"net/http"

	"github.com/ignite/engagex/internal/domain"
	"github.com/ignite/engagex/internal/pkg/httputil"
	"github.com/ignite/engagex/internal/trust"
)

type registerDomainRequest struct {
	Domain string `json:"domain"`
}

type verifyDomainResponse struct {
	Domain       *domain.SendingDomain    `json:"domain"`
	Verification trust.VerificationResult `json:"verification"`
}

//	POST /api/domains
func (h *handlers) registerDomain(w http.ResponseWriter, r *http.Request) {
	var req registerDomainRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	d, err := h.domains.Register(r.Context(), orgID(r), req.Domain)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.Created(w, d)
}

//	GET /api/domains
func (h *handlers) listDomains(w http.ResponseWriter, r *http.Request) {
	list, err := h.domains.List(r.Context(), orgID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []domain.SendingDomain{}
	}
	httputil.OK(w, map[string]any{"domains": list})
}

//	GET /api/domains/{id}
func (h *handlers) getDomain(w http.ResponseWriter, r *http.Request) {
	d, err := h.domains.Get(r.Context(), orgID(r), pathID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, d)
}

// verifyDomain runs the DNS checks synchronously. Lookup failures are part
// of the result, never an error response.
//
//	POST /api/domains/{id}/verify
func (h *handlers) verifyDomain(w http.ResponseWriter, r *http.Request) {
	d, res, err := h.domains.Verify(r.Context(), orgID(r), pathID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, verifyDomainResponse{Domain: d, Verification: res})
}

//	POST /api/domains/{id}/records
func (h *handlers) regenerateRecords(w http.ResponseWriter, r *http.Request) {
	d, err := h.domains.Regenerate(r.Context(), orgID(r), pathID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, d)
}

//	POST /api/domains/{id}/publish
func (h *handlers) publishRecords(w http.ResponseWriter, r *http.Request) {
	changeID, err := h.domains.Publish(r.Context(), orgID(r), pathID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.Accepted(w, map[string]string{"change_id": changeID})
}

//	DELETE /api/domains/{id}
func (h *handlers) deleteDomain(w http.ResponseWriter, r *http.Request) {
	if err := h.domains.Delete(r.Context(), orgID(r), pathID(r)); err != nil {
		writeError(w, err)
		return
	}
	httputil.NoContent(w)
}
