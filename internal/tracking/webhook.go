package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ignite/engagex/internal/domain"
	"github.com/ignite/engagex/internal/metrics"
	"github.com/ignite/engagex/internal/pkg/httpretry"
	"github.com/ignite/engagex/internal/pkg/logger"
	"github.com/ignite/engagex/internal/service/delivery"
)

// SNSMessage is the AWS SNS HTTP delivery envelope.
type SNSMessage struct {
	Type         string `json:"Type"`
	MessageID    string `json:"MessageId"`
	TopicArn     string `json:"TopicArn"`
	Message      string `json:"Message"`
	Timestamp    string `json:"Timestamp"`
	SubscribeURL string `json:"SubscribeURL"`
}

// sesNotification covers both SES event publishing (eventType) and the
// older feedback notifications (notificationType).
type sesNotification struct {
	EventType        string `json:"eventType"`
	NotificationType string `json:"notificationType"`
	Mail             struct {
		MessageID string `json:"messageId"`
		Timestamp string `json:"timestamp"`
	} `json:"mail"`
	Bounce *struct {
		BounceType string `json:"bounceType"`
		Timestamp  string `json:"timestamp"`
	} `json:"bounce"`
	Complaint *struct {
		Timestamp string `json:"timestamp"`
	} `json:"complaint"`
	Delivery *struct {
		Timestamp string `json:"timestamp"`
	} `json:"delivery"`
	Open *struct {
		Timestamp string `json:"timestamp"`
		IPAddress string `json:"ipAddress"`
		UserAgent string `json:"userAgent"`
	} `json:"open"`
	Click *struct {
		Timestamp string `json:"timestamp"`
		IPAddress string `json:"ipAddress"`
		UserAgent string `json:"userAgent"`
		Link      string `json:"link"`
	} `json:"click"`
}

// SESWebhook receives SES notifications delivered over SNS and applies them
// to the recipient that owns the provider message id.
type SESWebhook struct {
	events EventApplier
	client httpretry.HTTPDoer
	log    *logger.Logger
}

// NewSESWebhook creates the webhook. client confirms SNS subscriptions; nil
// uses a retrying default client.
func NewSESWebhook(events EventApplier, client httpretry.HTTPDoer) *SESWebhook {
	if client == nil {
		client = httpretry.NewRetryClient(&http.Client{Timeout: 10 * time.Second}, 3)
	}
	return &SESWebhook{events: events, client: client, log: logger.With("component", "ses-webhook")}
}

// ServeHTTP answers 200 for everything it understood or chose to ignore, so
// SNS does not retry; only failures worth a retry get a 5xx.
func (h *SESWebhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 256<<10))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	var msg SNSMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	switch msg.Type {
	case "SubscriptionConfirmation":
		if err := h.confirm(r.Context(), msg.SubscribeURL); err != nil {
			h.log.Error("[SESWebhook] subscription confirmation failed", "topic", msg.TopicArn, "error", err)
			http.Error(w, "confirmation failed", http.StatusBadGateway)
			return
		}
		h.log.Info("[SESWebhook] subscription confirmed", "topic", msg.TopicArn)
	case "Notification":
		if err := h.notification(r.Context(), msg); err != nil {
			http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
	default:
		h.log.Debug("[SESWebhook] ignored message", "type", msg.Type)
	}
	w.WriteHeader(http.StatusOK)
}

func (h *SESWebhook) confirm(ctx context.Context, subscribeURL string) error {
	u, err := url.Parse(subscribeURL)
	if err != nil || u.Scheme != "https" || !strings.HasSuffix(u.Hostname(), ".amazonaws.com") {
		return fmt.Errorf("refusing subscribe url %q", subscribeURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("subscribe url returned %d", resp.StatusCode)
	}
	return nil
}

func (h *SESWebhook) notification(ctx context.Context, msg SNSMessage) error {
	var n sesNotification
	if err := json.Unmarshal([]byte(msg.Message), &n); err != nil {
		h.log.Warn("[SESWebhook] unparseable notification", "sns_message_id", msg.MessageID, "error", err)
		return nil
	}
	in, ok := n.input()
	if !ok {
		metrics.TrackingEvents.WithLabelValues("ses", n.kind(), "ignored").Inc()
		return nil
	}
	in.IdempotencyKey = "sns:" + msg.MessageID

	res, err := h.events.ApplyProviderEvent(ctx, in)
	switch {
	case err == nil:
		metrics.TrackingEvents.WithLabelValues("ses", string(in.Type), res.Outcome).Inc()
		return nil
	case isPermanent(err):
		metrics.TrackingEvents.WithLabelValues("ses", string(in.Type), "dropped").Inc()
		if errors.Is(err, delivery.ErrRecipientNotFound) {
			h.log.Debug("[SESWebhook] no recipient for message", "message_id", in.MessageID)
		} else {
			h.log.Warn("[SESWebhook] event dropped", "message_id", in.MessageID, "error", err)
		}
		return nil
	default:
		metrics.TrackingEvents.WithLabelValues("ses", string(in.Type), "error").Inc()
		h.log.Error("[SESWebhook] apply failed", "message_id", in.MessageID, "error", err)
		return err
	}
}

func (n *sesNotification) kind() string {
	if n.EventType != "" {
		return n.EventType
	}
	return n.NotificationType
}

// input maps the notification onto a recipient event. Transient bounces,
// sends, rejects and rendering failures carry no recipient transition.
func (n *sesNotification) input() (delivery.EventInput, bool) {
	in := delivery.EventInput{MessageID: n.Mail.MessageID}
	var ts string
	switch n.kind() {
	case "Delivery":
		in.Type = domain.EventDelivered
		if n.Delivery != nil {
			ts = n.Delivery.Timestamp
		}
	case "Bounce":
		if n.Bounce == nil || n.Bounce.BounceType != "Permanent" {
			return in, false
		}
		in.Type = domain.EventBounce
		ts = n.Bounce.Timestamp
		in.Metadata = map[string]string{"bounce_type": n.Bounce.BounceType}
	case "Complaint":
		in.Type = domain.EventSpamReport
		if n.Complaint != nil {
			ts = n.Complaint.Timestamp
		}
	case "Open":
		in.Type = domain.EventOpen
		if n.Open != nil {
			ts, in.IPAddress, in.UserAgent = n.Open.Timestamp, n.Open.IPAddress, n.Open.UserAgent
		}
	case "Click":
		in.Type = domain.EventClick
		if n.Click != nil {
			ts, in.IPAddress, in.UserAgent, in.URL = n.Click.Timestamp, n.Click.IPAddress, n.Click.UserAgent, n.Click.Link
		}
	default:
		return in, false
	}
	if in.MessageID == "" {
		return in, false
	}
	if t, err := time.Parse(time.RFC3339, ts); err == nil {
		in.OccurredAt = t
	}
	return in, true
}
