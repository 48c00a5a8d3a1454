package api

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/repchat/internal/apperr"
	"github.com/repchat/internal/besteffort"
	"github.com/repchat/internal/conversation"
	"github.com/repchat/internal/identity"
)

// startChatRequest names the customer by phone or by Instagram handle. The
// phone field also accepts the legacy "ig:<handle>" placeholder.
type startChatRequest struct {
	Phone     string                        `json:"phone" validate:"required_without=Instagram"`
	Instagram string                        `json:"instagram"`
	RepPhone  string                        `json:"rep_phone" validate:"required"`
	Profile   *conversation.CustomerProfile `json:"profile"`
}

func (r startChatRequest) customer() (identity.CustomerIdentity, error) {
	var (
		id  identity.CustomerIdentity
		err error
	)
	if strings.TrimSpace(r.Instagram) != "" {
		id, err = identity.FromInstagram(r.Instagram)
	} else {
		id, err = identity.FromLegacyPhone(r.Phone)
	}
	if err != nil {
		return identity.CustomerIdentity{}, apperr.Validation("customer: %v", err)
	}
	return id, nil
}

func (r startChatRequest) repPhone() (string, error) {
	p, err := identity.NormalizePhone(r.RepPhone)
	if err != nil {
		return "", apperr.Validation("rep_phone: %v", err)
	}
	return p, nil
}

type sendMessageRequest struct {
	Sender   string `json:"sender" validate:"required,oneof=USER ADMIN"`
	SenderID string `json:"sender_id" validate:"required"`
	Content  string `json:"content" validate:"required"`
}

type editMessageRequest struct {
	EditorID string `json:"editor_id" validate:"required"`
	Content  string `json:"content" validate:"required"`
}

type participantRequest struct {
	ParticipantID string `json:"participant_id" validate:"required"`
}

type typingRequest struct {
	ParticipantID string `json:"participant_id" validate:"required"`
	Typing        bool   `json:"typing"`
}

type transferRequest struct {
	Intake conversation.IntakeAnswers `json:"intake"`
}

type transferResponse struct {
	Conversation *conversation.Conversation  `json:"conversation"`
	Message      *conversation.Message       `json:"message"`
	Bridge       besteffort.Result[string]   `json:"bridge"`
	Notification besteffort.Result[struct{}] `json:"notification"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=active archived ended closed"`
}

type markSaleRequest struct {
	Amount  decimal.Decimal `json:"amount"`
	Details string          `json:"details"`
	Date    *time.Time      `json:"sale_date"`
	Notes   string          `json:"notes"`
}

type saleStatusRequest struct {
	Status string `json:"status" validate:"required"`
	Reason string `json:"reason"`
}

type countResponse struct {
	Updated int `json:"updated"`
}

type typingResponse struct {
	Participants []string `json:"participants"`
}

type mergeQueuedResponse struct {
	JobID int64 `json:"job_id"`
}
