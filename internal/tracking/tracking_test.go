package tracking

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/engagex/internal/domain"
	"github.com/ignite/engagex/internal/service/delivery"
)

type applied struct {
	orgID, recipientID string
	in                 delivery.EventInput
}

type fakeApplier struct {
	mu    sync.Mutex
	calls []applied
	err   error
}

func (f *fakeApplier) ApplyEvent(_ context.Context, orgID, recipientID string, in delivery.EventInput) (*delivery.ApplyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, applied{orgID, recipientID, in})
	if f.err != nil {
		return nil, f.err
	}
	return &delivery.ApplyResult{Applied: true, Outcome: "applied"}, nil
}

func (f *fakeApplier) ApplyProviderEvent(ctx context.Context, in delivery.EventInput) (*delivery.ApplyResult, error) {
	return f.ApplyEvent(ctx, "", "", in)
}

func TestLinks_RoundTrip(t *testing.T) {
	l := NewLinks("https://t.example.com/", "secret")

	u := l.UnsubscribeURL("org-1", "c1", "r1")
	assert.True(t, strings.HasPrefix(u, "https://t.example.com/track/unsubscribe/"))

	parts := strings.Split(strings.TrimPrefix(u, "https://t.example.com/track/unsubscribe/"), "/")
	require.Len(t, parts, 2)
	assert.Len(t, parts[1], 16)

	target, err := l.Decode(parts[0], parts[1])
	require.NoError(t, err)
	assert.Equal(t, Target{OrgID: "org-1", CampaignID: "c1", RecipientID: "r1"}, target)

	// another key, or tampered data, does not verify
	_, err = NewLinks("https://t.example.com", "other").Decode(parts[0], parts[1])
	assert.ErrorIs(t, err, ErrInvalidLink)
	forged := base64.URLEncoding.EncodeToString([]byte("org-2|c1|r1"))
	_, err = l.Decode(forged, parts[1])
	assert.ErrorIs(t, err, ErrInvalidLink)
	_, err = l.Decode("%%%", parts[1])
	assert.ErrorIs(t, err, ErrInvalidLink)
}

func TestLinks_Instrument(t *testing.T) {
	l := NewLinks("https://t.example.com", "secret")
	html := `<html><body><a href="https://acme.com/offer?a=1|2">Offer</a> <a href="mailto:x@acme.com">Mail</a></body></html>`

	out := l.Instrument(html, "org-1", "c1", "r1")
	assert.NotContains(t, out, `href="https://acme.com/offer`)
	assert.Contains(t, out, `href="mailto:x@acme.com"`)
	assert.Contains(t, out, `<img src="https://t.example.com/track/open/`)
	assert.True(t, strings.Index(out, "<img") < strings.Index(out, "</body>"))

	start := strings.Index(out, "/track/click/") + len("/track/click/")
	end := strings.Index(out[start:], `"`)
	seg := strings.Split(out[start:start+end], "/")
	target, err := l.Decode(seg[0], seg[1])
	require.NoError(t, err)
	assert.Equal(t, "https://acme.com/offer?a=1|2", target.URL, "target urls may contain the separator")
}

func newRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	h.Routes(r)
	return r
}

func TestHandler_Open(t *testing.T) {
	l := NewLinks("", "secret")
	applier := &fakeApplier{}
	h := NewHandler(l, NewDirectSink(applier))
	h.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	srv := newRouter(h)

	req := httptest.NewRequest(http.MethodGet, l.OpenURL("org-1", "c1", "r1"), nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/gif", rec.Header().Get("Content-Type"))
	require.Len(t, applier.calls, 1)
	c := applier.calls[0]
	assert.Equal(t, "org-1", c.orgID)
	assert.Equal(t, "r1", c.recipientID)
	assert.Equal(t, domain.EventOpen, c.in.Type)
	assert.Equal(t, "203.0.113.9", c.in.IPAddress)
	assert.NotEmpty(t, c.in.IdempotencyKey)

	// a bad signature still gets the pixel but records nothing
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/track/open/b3JnfGN8cg==/0000000000000000", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, applier.calls, 1)
}

func TestHandler_Click(t *testing.T) {
	l := NewLinks("", "secret")
	applier := &fakeApplier{}
	srv := newRouter(NewHandler(l, NewDirectSink(applier)))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, l.ClickURL("org-1", "c1", "r1", "https://acme.com/x"), nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://acme.com/x", rec.Header().Get("Location"))
	require.Len(t, applier.calls, 1)
	assert.Equal(t, domain.EventClick, applier.calls[0].in.Type)
	assert.Equal(t, "https://acme.com/x", applier.calls[0].in.URL)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, l.ClickURL("org-1", "c1", "r1", "javascript:alert(1)"), nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, applier.calls, 1)
}

func TestHandler_Unsubscribe(t *testing.T) {
	l := NewLinks("", "secret")
	applier := &fakeApplier{}
	srv := newRouter(NewHandler(l, NewDirectSink(applier)))
	u := l.UnsubscribeURL("org-1", "c1", "r1")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, u, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "unsubscribed")

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, u, strings.NewReader("List-Unsubscribe=One-Click")))
	assert.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, applier.calls, 2)
	assert.Equal(t, domain.EventUnsubscribe, applier.calls[1].in.Type)

	// a click link is not an unsubscribe link
	rec = httptest.NewRecorder()
	click := strings.Replace(l.ClickURL("org-1", "c1", "r1", "https://acme.com"), "/click/", "/unsubscribe/", 1)
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, click, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_UnsubscribeRetryableFailure(t *testing.T) {
	l := NewLinks("", "secret")
	srv := newRouter(NewHandler(l, NewDirectSink(&fakeApplier{err: errors.New("db down")})))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, l.UnsubscribeURL("org-1", "c1", "r1"), nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDirectSink_SwallowsPermanentErrors(t *testing.T) {
	evt := Event{ID: "e1", Type: domain.EventOpen, OrgID: "o", RecipientID: "r"}
	assert.NoError(t, NewDirectSink(&fakeApplier{err: delivery.ErrRecipientNotFound}).Publish(context.Background(), evt))
	assert.Error(t, NewDirectSink(&fakeApplier{err: errors.New("timeout")}).Publish(context.Background(), evt))
}

type fakeSQS struct {
	mu       sync.Mutex
	sent     []string
	inbox    []sqstypes.Message
	deleted  []string
	received int
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, aws.ToString(in.MessageBody))
	return &sqs.SendMessageOutput{MessageId: aws.String("m")}, nil
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received++
	out := &sqs.ReceiveMessageOutput{Messages: f.inbox}
	f.inbox = nil
	return out, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestPublisherConsumer(t *testing.T) {
	q := &fakeSQS{}
	pub := NewPublisher(q, "https://sqs.us-east-1.amazonaws.com/1/tracking")
	require.NoError(t, pub.Publish(context.Background(), Event{Type: domain.EventClick, OrgID: "org-1", RecipientID: "r1", URL: "https://acme.com"}))
	require.Len(t, q.sent, 1)

	var evt Event
	require.NoError(t, json.Unmarshal([]byte(q.sent[0]), &evt))
	assert.NotEmpty(t, evt.ID, "publisher assigns an id")

	q.inbox = []sqstypes.Message{
		{MessageId: aws.String("m1"), ReceiptHandle: aws.String("h1"), Body: aws.String(q.sent[0])},
		{MessageId: aws.String("m2"), ReceiptHandle: aws.String("h2"), Body: aws.String("not json")},
	}
	applier := &fakeApplier{}
	n, err := NewConsumer(q, "url", applier).PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"h1", "h2"}, q.deleted)
	require.Len(t, applier.calls, 1)
	assert.Equal(t, evt.ID, applier.calls[0].in.IdempotencyKey)
	assert.Equal(t, "https://acme.com", applier.calls[0].in.URL)
}

func TestConsumer_LeavesTransientFailures(t *testing.T) {
	body, _ := json.Marshal(Event{ID: "e1", Type: domain.EventOpen, OrgID: "o", RecipientID: "r"})
	q := &fakeSQS{inbox: []sqstypes.Message{{MessageId: aws.String("m1"), ReceiptHandle: aws.String("h1"), Body: aws.String(string(body))}}}

	n, err := NewConsumer(q, "url", &fakeApplier{err: errors.New("connection refused")}).PollOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, q.deleted, "redelivered after the visibility timeout")
}

type fakeDoer struct {
	urls []string
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	f.urls = append(f.urls, req.URL.String())
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("ok"))}, nil
}

func snsBody(t *testing.T, typ string, message any) io.Reader {
	t.Helper()
	raw, err := json.Marshal(message)
	require.NoError(t, err)
	env, err := json.Marshal(SNSMessage{Type: typ, MessageID: "sns-1", Message: string(raw)})
	require.NoError(t, err)
	return strings.NewReader(string(env))
}

func TestSESWebhook_SubscriptionConfirmation(t *testing.T) {
	doer := &fakeDoer{}
	h := NewSESWebhook(&fakeApplier{}, doer)

	body := `{"Type":"SubscriptionConfirmation","SubscribeURL":"https://sns.us-east-1.amazonaws.com/?Action=ConfirmSubscription&Token=x"}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/ses", strings.NewReader(body)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, doer.urls, 1)

	body = `{"Type":"SubscriptionConfirmation","SubscribeURL":"https://evil.example.com/confirm"}`
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/ses", strings.NewReader(body)))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Len(t, doer.urls, 1)
}

func TestSESWebhook_Notifications(t *testing.T) {
	tests := []struct {
		name    string
		message map[string]any
		want    domain.EventType
	}{
		{"delivery", map[string]any{
			"eventType": "Delivery",
			"mail":      map[string]any{"messageId": "0100-a"},
			"delivery":  map[string]any{"timestamp": "2026-03-01T12:01:00.123Z"},
		}, domain.EventDelivered},
		{"permanent bounce", map[string]any{
			"notificationType": "Bounce",
			"mail":             map[string]any{"messageId": "0100-a"},
			"bounce":           map[string]any{"bounceType": "Permanent", "timestamp": "2026-03-01T12:01:00Z"},
		}, domain.EventBounce},
		{"complaint", map[string]any{
			"eventType": "Complaint",
			"mail":      map[string]any{"messageId": "0100-a"},
			"complaint": map[string]any{"timestamp": "2026-03-01T12:05:00Z"},
		}, domain.EventSpamReport},
		{"click", map[string]any{
			"eventType": "Click",
			"mail":      map[string]any{"messageId": "0100-a"},
			"click":     map[string]any{"timestamp": "2026-03-01T12:05:00Z", "link": "https://acme.com"},
		}, domain.EventClick},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			applier := &fakeApplier{}
			rec := httptest.NewRecorder()
			NewSESWebhook(applier, &fakeDoer{}).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/ses", snsBody(t, "Notification", tt.message)))
			assert.Equal(t, http.StatusOK, rec.Code)
			require.Len(t, applier.calls, 1)
			in := applier.calls[0].in
			assert.Equal(t, tt.want, in.Type)
			assert.Equal(t, "0100-a", in.MessageID)
			assert.Equal(t, "sns:sns-1", in.IdempotencyKey)
			assert.False(t, in.OccurredAt.IsZero())
		})
	}
}

func TestSESWebhook_IgnoredAndFailures(t *testing.T) {
	transient := map[string]any{
		"notificationType": "Bounce",
		"mail":             map[string]any{"messageId": "0100-a"},
		"bounce":           map[string]any{"bounceType": "Transient"},
	}
	applier := &fakeApplier{}
	rec := httptest.NewRecorder()
	NewSESWebhook(applier, &fakeDoer{}).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", snsBody(t, "Notification", transient)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, applier.calls, "soft bounces do not move the recipient")

	delivered := map[string]any{"eventType": "Delivery", "mail": map[string]any{"messageId": "unknown"}}
	rec = httptest.NewRecorder()
	NewSESWebhook(&fakeApplier{err: delivery.ErrRecipientNotFound}, &fakeDoer{}).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", snsBody(t, "Notification", delivered)))
	assert.Equal(t, http.StatusOK, rec.Code, "mail sent outside the platform is acknowledged")

	rec = httptest.NewRecorder()
	NewSESWebhook(&fakeApplier{err: errors.New("db down")}, &fakeDoer{}).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", snsBody(t, "Notification", delivered)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "SNS retries")

	rec = httptest.NewRecorder()
	NewSESWebhook(&fakeApplier{}, &fakeDoer{}).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
