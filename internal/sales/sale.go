package sales

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/repchat/internal/conversation"
	"github.com/repchat/internal/identity"
)

type Status string

const (
	StatusPendingReview Status = "pending_review"
	StatusVerified      Status = "verified"
	StatusDisputed      Status = "disputed"
	StatusRejected      Status = "rejected"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPendingReview, StatusVerified, StatusDisputed, StatusRejected:
		return true
	}
	return false
}

type DetectionMethod string

const (
	DetectionManual DetectionMethod = "manual"
	DetectionAuto   DetectionMethod = "auto"
)

// RepSnapshot is the representative as they were when the sale was recorded.
type RepSnapshot struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone"`
}

// Sale is a recorded or drafted sale. Channel, rate and commission are fixed at
// creation; only Status changes afterwards.
type Sale struct {
	ID               string           `json:"id"`
	ConversationID   string           `json:"conversation_id"`
	Channel          identity.Channel `json:"channel"`
	CommissionRate   decimal.Decimal  `json:"commission_rate"`
	SaleAmount       decimal.Decimal  `json:"sale_amount"`
	CommissionAmount decimal.Decimal  `json:"commission_amount"`
	Status           Status           `json:"status"`
	DetectionMethod  DetectionMethod  `json:"detection_method"`
	Rep              RepSnapshot      `json:"rep"`
	Details          string           `json:"details,omitempty"`
	SaleDate         time.Time        `json:"sale_date"`
	Notes            string           `json:"notes,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Evidence is the immutable transcript snapshot taken when a sale is recorded.
type Evidence struct {
	SaleID     string                 `json:"sale_id"`
	Transcript []conversation.Message `json:"transcript"`
	Matches    []EvidenceMatch        `json:"matches"`
	Confidence Confidence             `json:"confidence"`
	CreatedAt  time.Time              `json:"created_at"`
}

func clone(s *Sale) *Sale {
	cp := *s
	return &cp
}
