package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ignite/engagex/internal/domain"
	"github.com/ignite/engagex/internal/metrics"
	"github.com/ignite/engagex/internal/pkg/logger"
	"github.com/ignite/engagex/internal/service/campaign"
	"github.com/ignite/engagex/internal/service/sending"
)

const (
	DefaultBatchSize = 50
	DefaultWorkers   = 8
)

// DispatchResult is the outcome of a dispatch: how many recipients have
// been sent and how many the campaign has in total.
type DispatchResult struct {
	Sent  int `json:"sent"`
	Total int `json:"total"`
}

// Deps are the collaborators the engine cannot run without.
type Deps struct {
	Campaigns     campaign.Repository
	Recipients    RecipientRepository
	Contacts      ContactSource
	Organizations OrganizationSource
	Domains       campaign.DomainLookup
	Events        EventStore
	Sender        sending.Sender
}

// Engine runs fan-out, dispatch and event application.
type Engine struct {
	campaigns  campaign.Repository
	recipients RecipientRepository
	contacts   ContactSource
	orgs       OrganizationSource
	domains    campaign.DomainLookup
	events     EventStore
	sender     sending.Sender

	renderer  *Renderer
	links     LinkBuilder
	locks     *keyedMutex
	batchSize int
	workers   int
	now       func() time.Time
	log       *logger.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithBatchSize sets how many pending recipients are loaded per batch.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithWorkers bounds concurrent sends within a batch.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithLinks enables tracked links and the unsubscribeUrl variable.
func WithLinks(l LinkBuilder) Option {
	return func(e *Engine) { e.links = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine builds an Engine from its dependencies.
func NewEngine(d Deps, opts ...Option) *Engine {
	e := &Engine{
		campaigns:  d.Campaigns,
		recipients: d.Recipients,
		contacts:   d.Contacts,
		orgs:       d.Organizations,
		domains:    d.Domains,
		events:     d.Events,
		sender:     d.Sender,
		renderer:   NewRenderer(),
		locks:      newKeyedMutex(),
		batchSize:  DefaultBatchSize,
		workers:    DefaultWorkers,
		now:        time.Now,
		log:        logger.With("component", "delivery"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Dispatch starts the campaign (if it has not started yet) and sends every
// pending recipient. A campaign already in sending just continues, which
// makes Dispatch safe to run again after a redelivered job.
func (e *Engine) Dispatch(ctx context.Context, orgID, campaignID string, groupIDs []string) (DispatchResult, error) {
	if _, err := e.Start(ctx, orgID, campaignID, groupIDs); err != nil {
		return DispatchResult{}, err
	}
	return e.Deliver(ctx, orgID, campaignID)
}

// Start validates the sender, fans the campaign out to its audience and
// moves it from draft or scheduled to sending. groupIDs overrides the
// campaign's stored audience when non-nil. Fan-out never creates a second
// row for a contact, so Start may be repeated.
func (e *Engine) Start(ctx context.Context, orgID, campaignID string, groupIDs []string) (*domain.Campaign, error) {
	c, err := e.campaigns.Get(ctx, orgID, campaignID)
	if err != nil {
		return nil, err
	}
	switch c.Status {
	case domain.CampaignSending:
		return c, nil
	case domain.CampaignDraft, domain.CampaignScheduled:
	default:
		return nil, fmt.Errorf("%w: cannot send a %s campaign", campaign.ErrInvalidTransition, c.Status)
	}

	if _, err := campaign.ResolveSender(ctx, e.domains, c); err != nil {
		return nil, err
	}
	if _, err := e.renderer.Prepare(c); err != nil {
		return nil, err
	}

	if groupIDs == nil {
		groupIDs = c.ContactGroupIDs
	}
	contacts, err := e.contacts.ResolveAudience(ctx, orgID, groupIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve audience: %w", err)
	}
	created, err := e.recipients.InsertMissing(ctx, orgID, campaignID, contacts)
	if err != nil {
		return nil, fmt.Errorf("fan out recipients: %w", err)
	}

	err = e.campaigns.Transition(ctx, orgID, campaignID, campaign.StatusChange{
		From: []domain.CampaignStatus{domain.CampaignDraft, domain.CampaignScheduled},
		To:   domain.CampaignSending,
		At:   e.now(),
	})
	if errors.Is(err, campaign.ErrInvalidTransition) {
		// Lost a race with another starter; fine as long as it got to sending.
		cur, gerr := e.campaigns.Get(ctx, orgID, campaignID)
		if gerr != nil {
			return nil, gerr
		}
		if cur.Status != domain.CampaignSending {
			return nil, err
		}
		return cur, nil
	}
	if err != nil {
		return nil, err
	}

	c.Status = domain.CampaignSending
	e.log.Info("campaign started", "org_id", orgID, "campaign_id", campaignID,
		"audience", len(contacts), "created", created)
	return c, nil
}

// Deliver sends every pending recipient of a campaign that is in sending,
// batch by batch. The campaign status is re-read before each batch so a
// pause stops the next batch while the current one finishes. A rejected
// recipient stays pending with the error recorded and the batch goes on.
// An unavailable provider aborts the batch and fails the campaign.
func (e *Engine) Deliver(ctx context.Context, orgID, campaignID string) (DispatchResult, error) {
	c, err := e.campaigns.Get(ctx, orgID, campaignID)
	if err != nil {
		return DispatchResult{}, err
	}
	switch c.Status {
	case domain.CampaignSending:
	case domain.CampaignSent, domain.CampaignPaused:
		return e.result(ctx, orgID, campaignID)
	default:
		return DispatchResult{}, fmt.Errorf("%w: campaign is %s", campaign.ErrInvalidTransition, c.Status)
	}

	org, err := e.orgs.Get(ctx, orgID)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("load organization: %w", err)
	}
	content, err := e.renderer.Prepare(c)
	if err != nil {
		e.fail(ctx, orgID, campaignID, err)
		return DispatchResult{}, err
	}

	cursor := ""
	for batchNo := 0; ; batchNo++ {
		if err := ctx.Err(); err != nil {
			return DispatchResult{}, err
		}
		if batchNo > 0 {
			cur, err := e.campaigns.Get(ctx, orgID, campaignID)
			if err != nil {
				return DispatchResult{}, err
			}
			if cur.Status != domain.CampaignSending {
				e.log.Info("dispatch halted", "campaign_id", campaignID, "status", string(cur.Status))
				return e.result(ctx, orgID, campaignID)
			}
		}

		batch, err := e.recipients.ListByCampaign(ctx, orgID, campaignID, RecipientFilter{
			Status:  domain.RecipientPending,
			AfterID: cursor,
			Limit:   e.batchSize,
		})
		if err != nil {
			return DispatchResult{}, fmt.Errorf("load pending recipients: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		cursor = batch[len(batch)-1].ID

		if err := e.sendBatch(ctx, c, org, content, batch); err != nil {
			if errors.Is(err, sending.ErrProviderUnavailable) {
				e.fail(ctx, orgID, campaignID, err)
			}
			return DispatchResult{}, err
		}
	}

	err = e.campaigns.Transition(ctx, orgID, campaignID, campaign.StatusChange{
		From: []domain.CampaignStatus{domain.CampaignSending},
		To:   domain.CampaignSent,
		At:   e.now(),
	})
	if err != nil && !errors.Is(err, campaign.ErrInvalidTransition) {
		return DispatchResult{}, err
	}

	if _, err := e.RefreshStats(ctx, orgID, campaignID); err != nil {
		e.log.Warn("stats refresh after dispatch failed", "campaign_id", campaignID, "error", err)
	}
	res, err := e.result(ctx, orgID, campaignID)
	if err == nil {
		e.log.Info("campaign dispatched", "campaign_id", campaignID, "sent", res.Sent, "total", res.Total)
	}
	return res, err
}

// Retry is the operator action for a failed campaign: it moves the
// campaign back to sending and delivers only the recipients still pending.
func (e *Engine) Retry(ctx context.Context, orgID, campaignID string) (DispatchResult, error) {
	c, err := e.campaigns.Get(ctx, orgID, campaignID)
	if err != nil {
		return DispatchResult{}, err
	}
	if c.Status != domain.CampaignFailed {
		return DispatchResult{}, fmt.Errorf("%w: only failed campaigns can be retried, campaign is %s",
			campaign.ErrInvalidTransition, c.Status)
	}
	if _, err := campaign.ResolveSender(ctx, e.domains, c); err != nil {
		return DispatchResult{}, err
	}

	cleared := ""
	err = e.campaigns.Transition(ctx, orgID, campaignID, campaign.StatusChange{
		From:      []domain.CampaignStatus{domain.CampaignFailed},
		To:        domain.CampaignSending,
		At:        e.now(),
		LastError: &cleared,
	})
	if err != nil {
		return DispatchResult{}, err
	}
	e.log.Info("campaign retry", "org_id", orgID, "campaign_id", campaignID)
	return e.Deliver(ctx, orgID, campaignID)
}

func (e *Engine) sendBatch(ctx context.Context, c *domain.Campaign, org *domain.Organization, content *Content, batch []domain.CampaignRecipient) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range batch {
		r := &batch[i]
		g.Go(func() error {
			return e.sendOne(gctx, c, org, content, r)
		})
	}
	return g.Wait()
}

func (e *Engine) sendOne(ctx context.Context, c *domain.Campaign, org *domain.Organization, content *Content, r *domain.CampaignRecipient) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// Once started, a send and its bookkeeping run to completion even if the
	// batch is aborted meanwhile; cancellation only stops new sends.
	bg := context.WithoutCancel(ctx)

	vars := Vars{
		FirstName:        r.FirstName,
		LastName:         r.LastName,
		Email:            r.Email,
		OrganizationName: org.Name,
	}
	if e.links != nil {
		vars.UnsubscribeURL = e.links.UnsubscribeURL(r.OrganizationID, r.CampaignID, r.ID)
	}
	subject, html, text, err := content.Render(vars)
	if err != nil {
		metrics.DispatchOutcomes.WithLabelValues("render_error").Inc()
		return e.recordFailure(bg, r, err.Error())
	}
	if e.links != nil && html != "" {
		html = e.links.Instrument(html, r.OrganizationID, r.CampaignID, r.ID)
	}

	msg := &domain.EmailMessage{
		ID:          r.ID,
		CampaignID:  r.CampaignID,
		RecipientID: r.ID,
		Email:       r.Email,
		FromName:    c.FromName,
		FromEmail:   c.FromEmail,
		ReplyTo:     c.ReplyTo,
		Subject:     subject,
		HTMLContent: html,
		TextContent: text,
	}
	if vars.UnsubscribeURL != "" {
		msg.Headers = map[string]string{
			"List-Unsubscribe":      "<" + vars.UnsubscribeURL + ">",
			"List-Unsubscribe-Post": "List-Unsubscribe=One-Click",
		}
	}

	res, err := e.sender.Send(bg, msg)
	if err != nil {
		if errors.Is(err, sending.ErrProviderUnavailable) {
			metrics.DispatchOutcomes.WithLabelValues("unavailable").Inc()
			return err
		}
		metrics.DispatchOutcomes.WithLabelValues("rejected").Inc()
		e.log.Warn("recipient rejected", "campaign_id", r.CampaignID, "recipient_id", r.ID,
			"email", r.Email, "error", err)
		return e.recordFailure(bg, r, err.Error())
	}

	metrics.DispatchOutcomes.WithLabelValues("sent").Inc()
	sentAt := res.SentAt
	if sentAt.IsZero() {
		sentAt = e.now()
	}
	_, err = e.ApplyEvent(bg, r.OrganizationID, r.ID, EventInput{
		Type:           domain.EventSend,
		OccurredAt:     sentAt,
		MessageID:      res.MessageID,
		IdempotencyKey: "send:" + r.ID,
	})
	return err
}

func (e *Engine) recordFailure(ctx context.Context, r *domain.CampaignRecipient, reason string) error {
	_, err := e.updateRecipient(ctx, r.OrganizationID, r.ID, func(cur *domain.CampaignRecipient) (bool, error) {
		if !cur.RecordFailure(reason) {
			return false, nil
		}
		cur.UpdatedAt = e.now().UTC()
		return true, nil
	})
	return err
}

func (e *Engine) fail(ctx context.Context, orgID, campaignID string, cause error) {
	reason := cause.Error()
	err := e.campaigns.Transition(context.WithoutCancel(ctx), orgID, campaignID, campaign.StatusChange{
		From:      []domain.CampaignStatus{domain.CampaignSending},
		To:        domain.CampaignFailed,
		At:        e.now(),
		LastError: &reason,
	})
	if err != nil {
		e.log.Error("marking campaign failed", "campaign_id", campaignID, "error", err)
		return
	}
	e.log.Warn("campaign failed", "campaign_id", campaignID, "reason", reason)
}

func (e *Engine) result(ctx context.Context, orgID, campaignID string) (DispatchResult, error) {
	a, err := e.recipients.Tally(ctx, orgID, campaignID)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("tally recipients: %w", err)
	}
	return DispatchResult{Sent: a.Sent, Total: a.Recipients}, nil
}
