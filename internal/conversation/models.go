package conversation

import (
	"strings"
	"time"

	"github.com/repchat/internal/identity"
)

// Sender is the kind of author of a message.
type Sender string

const (
	SenderUser  Sender = "USER"
	SenderAdmin Sender = "ADMIN"
	SenderAI    Sender = "AI"
)

// Mode is the chat mode. AI → HUMAN is the only programmed transition.
type Mode string

const (
	ModeAI    Mode = "AI"
	ModeHuman Mode = "HUMAN"
)

// Status is the conversation lifecycle status.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
	StatusEnded    Status = "ended"
	StatusClosed   Status = "closed"
)

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusArchived, StatusEnded, StatusClosed:
		return true
	}
	return false
}

// IntakeAnswers are captured from the customer before a human takes over.
type IntakeAnswers struct {
	Goals        []string `json:"goals,omitempty"`
	JourneyStage string   `json:"journey_stage,omitempty"`
	Interests    []string `json:"interests,omitempty"`
}

// Merge folds other into a. Goals and interests are sets; a non-empty journey
// stage replaces the previous one.
func (a IntakeAnswers) Merge(other IntakeAnswers) IntakeAnswers {
	out := IntakeAnswers{
		Goals:        unionFold(a.Goals, other.Goals),
		JourneyStage: a.JourneyStage,
		Interests:    unionFold(a.Interests, other.Interests),
	}
	if s := strings.TrimSpace(other.JourneyStage); s != "" {
		out.JourneyStage = s
	}
	return out
}

// CustomerProfile holds optional structured customer fields.
type CustomerProfile struct {
	Name        string        `json:"name,omitempty"`
	DateOfBirth string        `json:"date_of_birth,omitempty"`
	Consent     bool          `json:"consent"`
	ConsentAt   *time.Time    `json:"consent_at,omitempty"`
	Intake      IntakeAnswers `json:"intake"`
}

// fillFrom copies fields that p lacks from other.
func (p CustomerProfile) fillFrom(other CustomerProfile) CustomerProfile {
	if p.Name == "" {
		p.Name = other.Name
	}
	if p.DateOfBirth == "" {
		p.DateOfBirth = other.DateOfBirth
	}
	if !p.Consent && other.Consent {
		p.Consent = true
		p.ConsentAt = other.ConsentAt
	}
	p.Intake = other.Intake.Merge(p.Intake)
	return p
}

// SaleRef points at the sale currently attached to a conversation.
type SaleRef struct {
	SaleID string `json:"sale_id"`
	Status string `json:"sale_status"`
}

// Conversation is one thread between a customer and a representative.
type Conversation struct {
	ID            string                    `json:"id"`
	Customer      identity.CustomerIdentity `json:"customer"`
	RepPhone      string                    `json:"rep_phone"`
	Mode          Mode                      `json:"chat_mode"`
	Status        Status                    `json:"status"`
	Profile       *CustomerProfile          `json:"profile,omitempty"`
	BridgeRef     string                    `json:"bridge_ref,omitempty"`
	SaleRef       *SaleRef                  `json:"sale_ref,omitempty"`
	PotentialSale bool                      `json:"potential_sale"`
	CreatedAt     time.Time                 `json:"created_at"`
	UpdatedAt     time.Time                 `json:"updated_at"`
}

// Channel is derived from the customer identity.
func (c *Conversation) Channel() identity.Channel { return c.Customer.Channel() }

// PairKey is the identity pair used for deduplication.
func (c *Conversation) PairKey() PairKey {
	return PairKey{Customer: c.Customer.Key(), RepPhone: c.RepPhone}
}

// PairKey identifies the (customer, representative) pair.
type PairKey struct {
	Customer string
	RepPhone string
}

func (k PairKey) String() string { return k.Customer + "|" + k.RepPhone }

// Patch carries the mutable fields of a conversation; nil fields are left alone.
type Patch struct {
	Mode          *Mode
	Status        *Status
	Profile       *CustomerProfile
	BridgeRef     *string
	SaleRef       *SaleRef
	PotentialSale *bool
}

func (p Patch) empty() bool {
	return p.Mode == nil && p.Status == nil && p.Profile == nil && p.BridgeRef == nil && p.SaleRef == nil && p.PotentialSale == nil
}

func (p Patch) apply(c *Conversation) {
	if p.Mode != nil {
		c.Mode = *p.Mode
	}
	if p.Status != nil {
		c.Status = *p.Status
	}
	if p.Profile != nil {
		prof := *p.Profile
		c.Profile = &prof
	}
	if p.BridgeRef != nil {
		c.BridgeRef = *p.BridgeRef
	}
	if p.SaleRef != nil {
		ref := *p.SaleRef
		c.SaleRef = &ref
	}
	if p.PotentialSale != nil {
		c.PotentialSale = *p.PotentialSale
	}
}

// Message is one entry of a conversation transcript.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	Sender         Sender     `json:"sender"`
	SenderID       string     `json:"sender_id"`
	Content        string     `json:"content"`
	Timestamp      time.Time  `json:"timestamp"`
	Seq            int64      `json:"seq"`
	DeliveredTo    []string   `json:"delivered_to"`
	ReadBy         []string   `json:"read_by"`
	Edited         bool       `json:"edited"`
	EditedAt       *time.Time `json:"edited_at,omitempty"`
}

// ReceiptKind selects the delivery or read set.
type ReceiptKind string

const (
	ReceiptDelivered ReceiptKind = "delivered"
	ReceiptRead      ReceiptKind = "read"
)

func unionFold(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			v = strings.TrimSpace(v)
			k := strings.ToLower(v)
			if v == "" || seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, v)
		}
	}
	return out
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func cloneConversation(c *Conversation) *Conversation {
	if c == nil {
		return nil
	}
	cp := *c
	if c.Profile != nil {
		p := *c.Profile
		p.Intake.Goals = append([]string(nil), c.Profile.Intake.Goals...)
		p.Intake.Interests = append([]string(nil), c.Profile.Intake.Interests...)
		cp.Profile = &p
	}
	if c.SaleRef != nil {
		ref := *c.SaleRef
		cp.SaleRef = &ref
	}
	return &cp
}

func cloneMessage(m *Message) *Message {
	if m == nil {
		return nil
	}
	cp := *m
	cp.DeliveredTo = append([]string{}, m.DeliveredTo...)
	cp.ReadBy = append([]string{}, m.ReadBy...)
	if m.EditedAt != nil {
		t := *m.EditedAt
		cp.EditedAt = &t
	}
	return &cp
}
