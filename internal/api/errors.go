package api

import (
	"errors"
	"net/http"

	"github.com/ignite/engagex/internal/pkg/httputil"
	"github.com/ignite/engagex/internal/service/campaign"
	"github.com/ignite/engagex/internal/service/delivery"
	"github.com/ignite/engagex/internal/service/sending"
	"github.com/ignite/engagex/internal/service/sendingdomain"
	"github.com/ignite/engagex/internal/trust"
)

// errBusy reports a campaign whose dispatch is already running elsewhere.
var errBusy = errors.New("campaign is already being dispatched")

type errorMapping struct {
	err    error
	status int
	code   string
}

// Checked in order; the first match wins. Messages of 4xx errors are
// client-facing; anything unmatched is logged and answered with a generic 500.
var errorMappings = []errorMapping{
	{campaign.ErrNotFound, http.StatusNotFound, "campaign_not_found"},
	{sendingdomain.ErrNotFound, http.StatusNotFound, "domain_not_found"},
	{delivery.ErrRecipientNotFound, http.StatusNotFound, "recipient_not_found"},
	{campaign.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{campaign.ErrNotEditable, http.StatusConflict, "not_editable"},
	{sendingdomain.ErrDuplicate, http.StatusConflict, "domain_exists"},
	{sendingdomain.ErrDomainInUse, http.StatusConflict, "domain_in_use"},
	{errBusy, http.StatusConflict, "dispatch_in_progress"},
	{campaign.ErrSenderNotVerified, http.StatusUnprocessableEntity, "sender_not_verified"},
	{campaign.ErrNoSenderDomain, http.StatusUnprocessableEntity, "no_sender_domain"},
	{campaign.ErrSenderMismatch, http.StatusUnprocessableEntity, "sender_mismatch"},
	{campaign.ErrValidation, http.StatusBadRequest, "validation_failed"},
	{sendingdomain.ErrInvalidDomain, http.StatusBadRequest, "invalid_domain"},
	{trust.ErrOutsideZone, http.StatusUnprocessableEntity, "outside_hosted_zone"},
	{sendingdomain.ErrPublishingDisabled, http.StatusNotImplemented, "publishing_disabled"},
	{sending.ErrProviderUnavailable, http.StatusBadGateway, "provider_unavailable"},
}

// writeError maps service errors to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			msg := err.Error()
			if m.status >= http.StatusInternalServerError {
				log.Error("upstream failure", "error", err)
				msg = "email provider unavailable, campaign marked failed"
			}
			httputil.ErrorCode(w, m.status, m.code, msg)
			return
		}
	}
	httputil.InternalError(w, err)
}
