package delivery

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/engagex/internal/domain"
	"github.com/ignite/engagex/internal/metrics"
)

const maxUpdateAttempts = 3

var eventNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("engagex/analytics-event"))

// EventInput is a delivery or engagement event reported for one recipient.
type EventInput struct {
	Type       domain.EventType  `json:"type"`
	OccurredAt time.Time         `json:"occurred_at"`
	MessageID  string            `json:"message_id,omitempty"`
	IPAddress  string            `json:"ip_address,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	URL        string            `json:"url,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`

	// IdempotencyKey identifies the event at its source. Replays carrying
	// the same key are logged once.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// ApplyResult reports what an event did to its recipient.
type ApplyResult struct {
	Recipient *domain.CampaignRecipient `json:"recipient"`
	Outcome   string                    `json:"outcome"`
	Applied   bool                      `json:"applied"`
}

// ApplyEvent moves the recipient through the state machine and appends the
// event to the analytics log. Re-applying a reached or earlier status is a
// no-op, so provider replays and out-of-order arrivals are safe. Updates to
// one recipient are serialized in-process and guarded by a version check
// across processes.
func (e *Engine) ApplyEvent(ctx context.Context, orgID, recipientID string, in EventInput) (*ApplyResult, error) {
	target, ok := in.Type.RecipientStatus()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, in.Type)
	}
	at := in.OccurredAt
	if at.IsZero() {
		at = e.now()
	}

	var outcome domain.TransitionOutcome
	r, err := e.updateRecipient(ctx, orgID, recipientID, func(r *domain.CampaignRecipient) (bool, error) {
		o, err := r.Apply(target, at)
		if err != nil {
			return false, err
		}
		outcome = o
		if o != domain.TransitionApplied {
			return false, nil
		}
		if in.MessageID != "" && r.MessageID == "" {
			r.MessageID = in.MessageID
		}
		r.UpdatedAt = e.now().UTC()
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RecipientTransitions.WithLabelValues(string(target), outcome.String()).Inc()

	ev := &domain.AnalyticsEvent{
		ID:             eventID(orgID, recipientID, in, at),
		OrganizationID: orgID,
		CampaignID:     r.CampaignID,
		RecipientID:    r.ID,
		ContactID:      r.ContactID,
		EventType:      in.Type,
		MessageID:      in.MessageID,
		IPAddress:      in.IPAddress,
		UserAgent:      in.UserAgent,
		URL:            in.URL,
		Metadata:       in.Metadata,
		OccurredAt:     at.UTC(),
		CreatedAt:      e.now().UTC(),
	}
	if ev.MessageID == "" {
		ev.MessageID = r.MessageID
	}
	if _, err := e.events.Append(ctx, ev); err != nil {
		return nil, fmt.Errorf("append analytics event: %w", err)
	}

	// Repeated on duplicates too, so a failed earlier attempt is completed.
	if r.Status == domain.RecipientUnsubscribed && outcome != domain.TransitionIgnored {
		if err := e.contacts.Unsubscribe(ctx, orgID, r.ContactID); err != nil {
			return nil, fmt.Errorf("unsubscribe contact: %w", err)
		}
	}

	if outcome == domain.TransitionApplied {
		e.log.Debug("recipient transition", "recipient_id", r.ID, "status", string(target))
	}
	return &ApplyResult{
		Recipient: r,
		Outcome:   outcome.String(),
		Applied:   outcome == domain.TransitionApplied,
	}, nil
}

// ApplyProviderEvent applies an event that only names the provider message id.
func (e *Engine) ApplyProviderEvent(ctx context.Context, in EventInput) (*ApplyResult, error) {
	if in.MessageID == "" {
		return nil, fmt.Errorf("%w: provider event without message id", ErrRecipientNotFound)
	}
	r, err := e.recipients.FindByMessageID(ctx, in.MessageID)
	if err != nil {
		return nil, err
	}
	return e.ApplyEvent(ctx, r.OrganizationID, r.ID, in)
}

// updateRecipient runs mutate on a fresh copy of the recipient and writes it
// back with a version check, retrying on conflict. mutate returns false when
// there is nothing to write.
func (e *Engine) updateRecipient(ctx context.Context, orgID, id string, mutate func(*domain.CampaignRecipient) (bool, error)) (*domain.CampaignRecipient, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		r, err := e.recipients.Get(ctx, orgID, id)
		if err != nil {
			return nil, err
		}
		changed, err := mutate(r)
		if err != nil {
			return nil, err
		}
		if !changed {
			return r, nil
		}
		err = e.recipients.Update(ctx, r)
		if errors.Is(err, ErrVersionConflict) {
			e.log.Debug("recipient version conflict", "recipient_id", id, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("update recipient: %w", err)
		}
		return r, nil
	}
	return nil, ErrVersionConflict
}

// eventID derives a stable id so a replayed event is stored once.
func eventID(orgID, recipientID string, in EventInput, at time.Time) string {
	key := in.IdempotencyKey
	if key == "" {
		key = recipientID + "|" + string(in.Type) + "|" + strconv.FormatInt(at.UnixNano(), 10) + "|" + in.URL
	}
	return uuid.NewSHA1(eventNamespace, []byte(orgID+"|"+key)).String()
}
