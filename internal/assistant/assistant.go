// Package assistant produces AI-mode replies to customers.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"github.com/repchat/internal/conversation"
	"github.com/repchat/internal/retry"
)

const defaultPersona = "You are a friendly product assistant chatting with a customer on behalf of a sales representative. " +
	"Answer briefly and accurately. Never invent prices, order numbers or medical claims."

// maxTurns caps how much transcript is sent to the model.
const maxTurns = 30

var errMalformed = errors.New("malformed reply from model")

// Reply is what the assistant says next. WantsHuman is a hint for the UI; only
// an explicit transfer changes the chat mode.
type Reply struct {
	Text       string `json:"reply"`
	WantsHuman bool   `json:"wants_human"`
}

type Responder struct {
	model  llms.Model
	cfg    Config
	policy retry.Policy
}

func NewResponder(model llms.Model, cfg Config) *Responder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.Persona == "" {
		cfg.Persona = defaultPersona
	}
	return &Responder{model: model, cfg: cfg, policy: retry.LLMPolicy()}
}

// WithRetryPolicy replaces the backoff used for model calls.
func (r *Responder) WithRetryPolicy(p retry.Policy) *Responder {
	r.policy = p
	return r
}

// Reply asks the model for the next assistant message. The whole call,
// retries included, is bounded by the configured timeout.
func (r *Responder) Reply(ctx context.Context, transcript []*conversation.Message) (Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	prompt := r.prompt(transcript)
	opts := []llms.CallOption{llms.WithTemperature(r.cfg.Temperature)}
	if r.cfg.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(r.cfg.MaxTokens))
	}

	var reply Reply
	logger := log.With().Str("component", "assistant").Logger()
	out := retry.Do(ctx, r.policy, func(ctx context.Context) error {
		raw, err := llms.GenerateFromSinglePrompt(ctx, r.model, prompt, opts...)
		if err != nil {
			return err
		}
		reply, err = ParseReply(raw)
		return err
	}, &logger)
	if !out.Success() {
		return Reply{}, fmt.Errorf("assistant reply after %d attempts: %w", out.Attempts, out.Err)
	}
	return reply, nil
}

func (r *Responder) prompt(transcript []*conversation.Message) string {
	if len(transcript) > maxTurns {
		transcript = transcript[len(transcript)-maxTurns:]
	}
	var b strings.Builder
	b.WriteString(r.cfg.Persona)
	b.WriteString("\n\nConversation so far:\n")
	for _, m := range transcript {
		speaker := "Customer"
		switch m.Sender {
		case conversation.SenderAI:
			speaker = "Assistant"
		case conversation.SenderAdmin:
			speaker = "Representative"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, m.Content)
	}
	b.WriteString("\nRespond with JSON only, shaped as {\"reply\": string, \"wants_human\": boolean}. ")
	b.WriteString("Set wants_human to true when the customer asks for a person or wants to place an order.")
	return b.String()
}

// ParseReply extracts the JSON object from raw model output, repairing it when
// needed. Output without any JSON object is taken as plain reply text.
func ParseReply(raw string) (Reply, error) {
	raw = strings.TrimSpace(raw)
	start := strings.Index(raw, "{")
	if start < 0 {
		if raw == "" {
			return Reply{}, errMalformed
		}
		return Reply{Text: raw}, nil
	}
	body := raw[start:]
	if end := strings.LastIndex(body, "}"); end >= 0 {
		body = body[:end+1]
	}

	var reply Reply
	if err := json.Unmarshal([]byte(body), &reply); err != nil {
		repaired, rerr := jsonrepair.JSONRepair(body)
		if rerr != nil {
			return Reply{}, fmt.Errorf("%w: %v", errMalformed, rerr)
		}
		if err := json.Unmarshal([]byte(repaired), &reply); err != nil {
			return Reply{}, fmt.Errorf("%w: %v", errMalformed, err)
		}
	}
	reply.Text = strings.TrimSpace(reply.Text)
	if reply.Text == "" {
		return Reply{}, errMalformed
	}
	return reply, nil
}
