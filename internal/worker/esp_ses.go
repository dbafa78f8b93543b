package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/engagex/internal/config"
	"github.com/ignite/engagex/internal/domain"
	"github.com/ignite/engagex/internal/pkg/logger"
	"github.com/ignite/engagex/internal/service/sending"
)

// SESAPI is the subset of the SES v2 client used for sending.
type SESAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender sends emails via AWS SES using the SDK v2.
type SESSender struct {
	client           SESAPI
	configurationSet string
	timeout          time.Duration
	now              func() time.Time
	log              *logger.Logger
}

var _ sending.Sender = (*SESSender)(nil)

// NewSESSender builds the SES client from config. Static credentials are
// used when both keys are set; otherwise the default AWS chain applies.
func NewSESSender(ctx context.Context, cfg config.SESConfig) (*SESSender, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	s := NewSESSenderWithClient(sesv2.NewFromConfig(awsCfg), cfg.ConfigurationSet)
	if t := cfg.Timeout(); t > 0 {
		s.timeout = t
	}
	return s, nil
}

// NewSESSenderWithClient wraps an existing client.
func NewSESSenderWithClient(client SESAPI, configurationSet string) *SESSender {
	return &SESSender{
		client:           client,
		configurationSet: configurationSet,
		timeout:          15 * time.Second,
		now:              time.Now,
		log:              logger.With("component", "ses"),
	}
}

// Send delivers a single email through AWS SES. Messages carrying extra
// headers go out as raw MIME; everything else uses simple content.
func (s *SESSender) Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	from := (&mail.Address{Name: msg.FromName, Address: msg.FromEmail}).String()
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: []string{msg.Email}},
		EmailTags: []types.MessageTag{
			{Name: aws.String("campaign_id"), Value: aws.String(msg.CampaignID)},
			{Name: aws.String("recipient_id"), Value: aws.String(msg.RecipientID)},
		},
	}
	if s.configurationSet != "" {
		input.ConfigurationSetName = aws.String(s.configurationSet)
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}

	if len(msg.Headers) > 0 {
		raw, err := rawMessage(msg, from)
		if err != nil {
			return nil, &sending.ProviderError{Code: "MIMEEncoding", Message: err.Error()}
		}
		input.Content = &types.EmailContent{Raw: &types.RawMessage{Data: raw}}
	} else {
		body := &types.Body{}
		if msg.HTMLContent != "" {
			body.Html = &types.Content{Data: aws.String(msg.HTMLContent), Charset: aws.String("UTF-8")}
		}
		if msg.TextContent != "" {
			body.Text = &types.Content{Data: aws.String(msg.TextContent), Charset: aws.String("UTF-8")}
		}
		input.Content = &types.EmailContent{Simple: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
			Body:    body,
		}}
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	out, err := s.client.SendEmail(sendCtx, input)
	if err != nil {
		s.log.Warn("[SES] send failed", "email", msg.Email, "campaign_id", msg.CampaignID, "error", err.Error())
		return nil, classifySESError(err)
	}

	messageID := aws.ToString(out.MessageId)
	s.log.Debug("[SES] sent", "email", msg.Email, "message_id", messageID)
	return &domain.SendResult{MessageID: messageID, SentAt: s.now().UTC()}, nil
}

// classifySESError separates rejections of one message from conditions that
// stop every further send.
func classifySESError(err error) error {
	var (
		rejected   *types.MessageRejected
		mailFrom   *types.MailFromDomainNotVerifiedException
		badRequest *types.BadRequestException
		notFound   *types.NotFoundException
	)
	switch {
	case errors.As(err, &rejected):
		return &sending.ProviderError{Code: rejected.ErrorCode(), Message: rejected.ErrorMessage()}
	case errors.As(err, &mailFrom):
		return &sending.ProviderError{Code: mailFrom.ErrorCode(), Message: mailFrom.ErrorMessage()}
	case errors.As(err, &badRequest):
		return &sending.ProviderError{Code: badRequest.ErrorCode(), Message: badRequest.ErrorMessage()}
	case errors.As(err, &notFound):
		return &sending.ProviderError{Code: notFound.ErrorCode(), Message: notFound.ErrorMessage()}
	}
	// account suspension, sending pause, throttling and transport failures
	return sending.Unavailable(err)
}

func rawMessage(msg *domain.EmailMessage, from string) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	parts := []struct{ ctype, content string }{
		{"text/plain", msg.TextContent},
		{"text/html", msg.HTMLContent},
	}
	for _, p := range parts {
		if p.content == "" {
			continue
		}
		h := textproto.MIMEHeader{}
		h.Set("Content-Type", p.ctype+"; charset=UTF-8")
		h.Set("Content-Transfer-Encoding", "quoted-printable")
		w, err := mw.CreatePart(h)
		if err != nil {
			return nil, err
		}
		qp := quotedprintable.NewWriter(w)
		if _, err := qp.Write([]byte(p.content)); err != nil {
			return nil, err
		}
		if err := qp.Close(); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	header := func(k, v string) { fmt.Fprintf(&out, "%s: %s\r\n", k, v) }
	header("From", from)
	header("To", msg.Email)
	header("Subject", mime.QEncoding.Encode("UTF-8", msg.Subject))
	if msg.ReplyTo != "" {
		header("Reply-To", msg.ReplyTo)
	}
	keys := make([]string, 0, len(msg.Headers))
	for k := range msg.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		header(textproto.CanonicalMIMEHeaderKey(k), msg.Headers[k])
	}
	header("MIME-Version", "1.0")
	header("Content-Type", "multipart/alternative; boundary="+mw.Boundary())
	out.WriteString("\r\n")
	out.Write(body.Bytes())
	return out.Bytes(), nil
}
