// Package bridge provisions Twilio Conversations sessions that relay a chat to
// the representative's phone over SMS.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/repchat/internal/handoff"
	"github.com/repchat/internal/identity"
	"github.com/repchat/internal/twilio"
)

const (
	DefaultBaseURL = "https://conversations.twilio.com/v1"
	// Twilio error code for a binding that is already in the conversation.
	codeParticipantExists = 50416
)

type resource struct {
	SID string `json:"sid"`
}

// Conversations implements handoff.Bridge on the Twilio Conversations API.
type Conversations struct {
	client       *twilio.Client
	baseURL      string
	proxyAddress string
}

// New returns a bridge whose SMS participants talk through proxyAddress (a
// Twilio number owned by the account).
func New(client *twilio.Client, baseURL, proxyAddress string) *Conversations {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Conversations{client: client, baseURL: strings.TrimRight(baseURL, "/"), proxyAddress: proxyAddress}
}

var _ handoff.Bridge = (*Conversations)(nil)

func (c *Conversations) Provision(ctx context.Context, customer identity.CustomerIdentity, repPhone string) (string, error) {
	form := url.Values{}
	form.Set("FriendlyName", fmt.Sprintf("%s / %s", customer.Key(), repPhone))
	form.Set("Attributes", fmt.Sprintf(`{"customer":%q,"rep_phone":%q}`, customer.Key(), repPhone))
	var out resource
	if err := c.client.PostForm(ctx, c.baseURL+"/Conversations", form, &out); err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	if out.SID == "" {
		return "", errors.New("create conversation: empty sid in response")
	}
	log.Info().Str("bridge_ref", out.SID).Str("rep_phone", repPhone).Msg("bridge provisioned")
	return out.SID, nil
}

func (c *Conversations) AddParticipant(ctx context.Context, bridgeRef string, p handoff.Participant) error {
	form := url.Values{}
	form.Set("MessagingBinding.Address", p.Phone)
	form.Set("MessagingBinding.ProxyAddress", c.proxyAddress)
	err := c.client.PostForm(ctx, c.baseURL+"/Conversations/"+url.PathEscape(bridgeRef)+"/Participants", form, nil)
	var apiErr *twilio.APIError
	if errors.As(err, &apiErr) && apiErr.Code == codeParticipantExists {
		return nil
	}
	if err != nil {
		return fmt.Errorf("add participant: %w", err)
	}
	return nil
}

// Relay posts a chat message into the bridge so the rep receives it by SMS.
func (c *Conversations) Relay(ctx context.Context, bridgeRef, author, body string) error {
	form := url.Values{}
	form.Set("Author", author)
	form.Set("Body", body)
	if err := c.client.PostForm(ctx, c.baseURL+"/Conversations/"+url.PathEscape(bridgeRef)+"/Messages", form, nil); err != nil {
		return fmt.Errorf("relay message: %w", err)
	}
	return nil
}
