package worker

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/engagex/internal/domain"
	"github.com/ignite/engagex/internal/service/sending"
)

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("0100-abc")}, nil
}

func message() *domain.EmailMessage {
	return &domain.EmailMessage{
		CampaignID:  "c1",
		RecipientID: "r1",
		Email:       "ann@example.com",
		FromName:    "Acme News",
		FromEmail:   "news@acme.com",
		Subject:     "Hello Ann",
		HTMLContent: "<p>Hello Ann</p>",
		TextContent: "Hello Ann",
	}
}

func TestSESSender_SimpleContent(t *testing.T) {
	api := &fakeSES{}
	s := NewSESSenderWithClient(api, "engagex-events")

	res, err := s.Send(context.Background(), message())
	require.NoError(t, err)
	assert.Equal(t, "0100-abc", res.MessageID)

	in := api.input
	require.NotNil(t, in.Content.Simple)
	assert.Equal(t, `"Acme News" <news@acme.com>`, aws.ToString(in.FromEmailAddress))
	assert.Equal(t, []string{"ann@example.com"}, in.Destination.ToAddresses)
	assert.Equal(t, "Hello Ann", aws.ToString(in.Content.Simple.Subject.Data))
	assert.Equal(t, "engagex-events", aws.ToString(in.ConfigurationSetName))
	assert.Len(t, in.EmailTags, 2)
}

func TestSESSender_HeadersUseRawMIME(t *testing.T) {
	api := &fakeSES{}
	msg := message()
	msg.Headers = map[string]string{
		"List-Unsubscribe":      "<https://t.example.com/track/unsubscribe/x/y>",
		"List-Unsubscribe-Post": "List-Unsubscribe=One-Click",
	}

	_, err := NewSESSenderWithClient(api, "").Send(context.Background(), msg)
	require.NoError(t, err)
	require.NotNil(t, api.input.Content.Raw)
	raw := string(api.input.Content.Raw.Data)
	assert.Contains(t, raw, "List-Unsubscribe: <https://t.example.com/track/unsubscribe/x/y>\r\n")
	assert.Contains(t, raw, "Content-Type: multipart/alternative; boundary=")
	assert.Contains(t, raw, "text/html; charset=UTF-8")
	assert.True(t, strings.Index(raw, "\r\n\r\n") > strings.Index(raw, "MIME-Version"), "headers precede the body")
	assert.Nil(t, api.input.ConfigurationSetName)
}

func TestSESSender_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		rejection bool
	}{
		{"rejected", &types.MessageRejected{Message: aws.String("Email address is not verified")}, true},
		{"mail from", &types.MailFromDomainNotVerifiedException{Message: aws.String("not verified")}, true},
		{"bad request", &types.BadRequestException{Message: aws.String("bad address")}, true},
		{"suspended", &types.AccountSuspendedException{Message: aws.String("suspended")}, false},
		{"paused", &types.SendingPausedException{Message: aws.String("paused")}, false},
		{"throttled", &types.TooManyRequestsException{Message: aws.String("slow down")}, false},
		{"network", errors.New("dial tcp: i/o timeout"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSESSenderWithClient(&fakeSES{err: tt.err}, "")
			_, err := s.Send(context.Background(), message())
			require.Error(t, err)
			assert.Equal(t, tt.rejection, sending.IsRejection(err))
			assert.Equal(t, !tt.rejection, errors.Is(err, sending.ErrProviderUnavailable))
		})
	}
}
