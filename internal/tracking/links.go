// Package tracking issues signed open, click and unsubscribe links, serves
// the public endpoints behind them, and carries the resulting engagement
// events (and SES provider notifications) to the delivery engine, either
// directly or through SQS.
package tracking

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidLink is returned for tracking data that does not decode or
// whose signature does not match.
var ErrInvalidLink = errors.New("invalid tracking link")

var linkRe = regexp.MustCompile(`href=["'](https?://[^"']+)["']`)

// Target is what a tracking link points at.
type Target struct {
	OrgID       string
	CampaignID  string
	RecipientID string
	URL         string // click links only
}

// Links signs and verifies tracking URLs. It implements the delivery
// engine's LinkBuilder.
type Links struct {
	baseURL string
	key     []byte
}

// NewLinks creates a link signer rooted at baseURL.
func NewLinks(baseURL, signingKey string) *Links {
	return &Links{baseURL: strings.TrimRight(baseURL, "/"), key: []byte(signingKey)}
}

func (l *Links) sign(data string) string {
	h := hmac.New(sha256.New, l.key)
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func (l *Links) url(kind, data string) string {
	return fmt.Sprintf("%s/track/%s/%s/%s", l.baseURL, kind, base64.URLEncoding.EncodeToString([]byte(data)), l.sign(data))
}

func recipientData(orgID, campaignID, recipientID string) string {
	return orgID + "|" + campaignID + "|" + recipientID
}

// OpenURL returns the open pixel URL for a recipient.
func (l *Links) OpenURL(orgID, campaignID, recipientID string) string {
	return l.url("open", recipientData(orgID, campaignID, recipientID))
}

// ClickURL returns a redirect URL that records a click before sending the
// reader on to target.
func (l *Links) ClickURL(orgID, campaignID, recipientID, target string) string {
	return l.url("click", recipientData(orgID, campaignID, recipientID)+"|"+target)
}

// UnsubscribeURL returns the one-click unsubscribe URL for a recipient.
func (l *Links) UnsubscribeURL(orgID, campaignID, recipientID string) string {
	return l.url("unsubscribe", recipientData(orgID, campaignID, recipientID))
}

// Instrument rewrites http(s) links through the click endpoint and appends
// the open pixel before </body>.
func (l *Links) Instrument(html, orgID, campaignID, recipientID string) string {
	html = linkRe.ReplaceAllStringFunc(html, func(match string) string {
		parts := linkRe.FindStringSubmatch(match)
		if len(parts) < 2 || strings.Contains(parts[1], "/track/") {
			return match
		}
		return `href="` + l.ClickURL(orgID, campaignID, recipientID, parts[1]) + `"`
	})

	pixel := fmt.Sprintf(`<img src="%s" width="1" height="1" alt="" style="display:none;width:1px;height:1px" />`,
		l.OpenURL(orgID, campaignID, recipientID))
	if idx := strings.LastIndex(strings.ToLower(html), "</body>"); idx >= 0 {
		return html[:idx] + pixel + html[idx:]
	}
	return html + pixel
}

// Decode verifies and unpacks the data and signature path segments of a
// tracking URL.
func (l *Links) Decode(encoded, sig string) (Target, error) {
	raw, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %v", ErrInvalidLink, err)
	}
	data := string(raw)
	if !hmac.Equal([]byte(l.sign(data)), []byte(sig)) {
		return Target{}, fmt.Errorf("%w: signature mismatch", ErrInvalidLink)
	}
	parts := strings.SplitN(data, "|", 4)
	if len(parts) < 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Target{}, fmt.Errorf("%w: malformed data", ErrInvalidLink)
	}
	t := Target{OrgID: parts[0], CampaignID: parts[1], RecipientID: parts[2]}
	if len(parts) == 4 {
		t.URL = parts[3]
	}
	return t, nil
}
