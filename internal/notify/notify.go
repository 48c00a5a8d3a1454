// Package notify sends SMS notifications to representatives.
package notify

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/repchat/internal/handoff"
	"github.com/repchat/internal/twilio"
)

const DefaultBaseURL = "https://api.twilio.com/2010-04-01"

// maxBody keeps notifications within a few SMS segments.
const maxBody = 640

// SMS implements handoff.Notifier with the Twilio Messages API.
type SMS struct {
	client  *twilio.Client
	baseURL string
	from    string
}

func NewSMS(client *twilio.Client, baseURL, from string) *SMS {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &SMS{client: client, baseURL: strings.TrimRight(baseURL, "/"), from: from}
}

var _ handoff.Notifier = (*SMS)(nil)

func (s *SMS) Send(ctx context.Context, toPhone, text string) error {
	if r := []rune(text); len(r) > maxBody {
		text = string(r[:maxBody-1]) + "…"
	}
	form := url.Values{}
	form.Set("To", toPhone)
	form.Set("From", s.from)
	form.Set("Body", text)
	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", s.baseURL, url.PathEscape(s.client.AccountSID()))
	var out struct {
		SID string `json:"sid"`
	}
	if err := s.client.PostForm(ctx, endpoint, form, &out); err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	log.Debug().Str("to", toPhone).Str("sid", out.SID).Msg("sms sent")
	return nil
}

// LogOnly is a Notifier for environments without SMS credentials.
type LogOnly struct{}

func (LogOnly) Send(ctx context.Context, toPhone, text string) error {
	log.Info().Str("to", toPhone).Str("text", text).Msg("notification (not sent, sms disabled)")
	return nil
}
