package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/repchat/internal/chat"
	"github.com/repchat/internal/twilio"
)

const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// twilioInbound accepts both Messaging webhooks (From/To/Body) and
// Conversations webhooks (ConversationSid/Author/Body).
func (s *Server) twilioInbound(c echo.Context) error {
	form, err := c.FormParams()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed form body")
	}

	if token := s.deps.Twilio.AuthToken; token != "" {
		if !twilio.ValidSignature(token, s.webhookURL(c), form, c.Request().Header.Get("X-Twilio-Signature")) {
			log.Warn().Str("remote_ip", c.RealIP()).Msg("rejected twilio webhook with bad signature")
			return echo.NewHTTPError(http.StatusForbidden, "invalid signature")
		}
	}

	if ev := form.Get("EventType"); ev != "" && ev != "onMessageAdded" {
		return c.NoContent(http.StatusOK)
	}

	in := chat.InboundSMS{
		From:      form.Get("From"),
		To:        form.Get("To"),
		Body:      form.Get("Body"),
		BridgeRef: form.Get("ConversationSid"),
		Author:    form.Get("Author"),
	}
	msg, err := s.deps.Chat.HandleInboundSMS(c.Request().Context(), in)
	if errors.Is(err, chat.ErrRelayEcho) {
		return c.NoContent(http.StatusOK)
	}
	if err != nil {
		return err
	}
	log.Debug().Str("conversation_id", msg.ConversationID).Str("message_id", msg.ID).Msg("twilio inbound stored")
	return c.Blob(http.StatusOK, echo.MIMEApplicationXMLCharsetUTF8, []byte(emptyTwiML))
}

// webhookURL is the URL Twilio signed: the configured public URL, or the
// request URL as seen by this server.
func (s *Server) webhookURL(c echo.Context) string {
	if s.deps.Twilio.WebhookURL != "" {
		return s.deps.Twilio.WebhookURL
	}
	r := c.Request()
	return c.Scheme() + "://" + r.Host + r.URL.RequestURI()
}
