package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/repchat/internal/apperr"
	"github.com/repchat/internal/identity"
)

// PostgresStore keeps conversations and messages in Postgres (see
// internal/database/schema.sql).
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

const conversationColumns = `id, customer_kind, customer_value, rep_phone, chat_mode, status, profile,
	coalesce(bridge_ref,''), coalesce(sale_id,''), coalesce(sale_status,''), potential_sale, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var (
		c                  Conversation
		kind, value        string
		mode, status       string
		profile            []byte
		saleID, saleStatus string
	)
	if err := row.Scan(&c.ID, &kind, &value, &c.RepPhone, &mode, &status, &profile,
		&c.BridgeRef, &saleID, &saleStatus, &c.PotentialSale, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	cust, err := identity.FromKey(kind + ":" + value)
	if err != nil {
		return nil, err
	}
	c.Customer = cust
	c.Mode = Mode(mode)
	c.Status = Status(status)
	if len(profile) > 0 && string(profile) != "null" {
		var p CustomerProfile
		if err := json.Unmarshal(profile, &p); err != nil {
			return nil, fmt.Errorf("decode profile: %w", err)
		}
		c.Profile = &p
	}
	if saleID != "" {
		c.SaleRef = &SaleRef{SaleID: saleID, Status: saleStatus}
	}
	return &c, nil
}

func (s *PostgresStore) CreateConversation(ctx context.Context, c *Conversation) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	profile, err := marshalProfile(c.Profile)
	if err != nil {
		return err
	}
	var saleID, saleStatus any
	if c.SaleRef != nil {
		saleID, saleStatus = c.SaleRef.SaleID, c.SaleRef.Status
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO conversations (id, customer_kind, customer_value, rep_phone, chat_mode, status, profile, bridge_ref, sale_id, sale_status, potential_sale, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12)
		RETURNING updated_at
	`, c.ID, string(c.Customer.Kind()), c.Customer.Value(), c.RepPhone, string(c.Mode), string(c.Status), profile,
		nullIfEmpty(c.BridgeRef), saleID, saleStatus, c.PotentialSale, c.CreatedAt,
	).Scan(&c.UpdatedAt)
	return apperr.Store("create conversation", err)
}

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id=$1`, id)
	c, err := scanConversation(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("conversation", id)
		}
		return nil, apperr.Store("get conversation", err)
	}
	return c, nil
}

func (s *PostgresStore) PatchConversation(ctx context.Context, id string, p Patch) (*Conversation, error) {
	if p.empty() {
		return s.GetConversation(ctx, id)
	}
	var (
		sets []string
		args []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	if p.Mode != nil {
		add("chat_mode", string(*p.Mode))
	}
	if p.Status != nil {
		add("status", string(*p.Status))
	}
	if p.Profile != nil {
		b, err := marshalProfile(p.Profile)
		if err != nil {
			return nil, err
		}
		add("profile", b)
	}
	if p.BridgeRef != nil {
		add("bridge_ref", nullIfEmpty(*p.BridgeRef))
	}
	if p.SaleRef != nil {
		add("sale_id", nullIfEmpty(p.SaleRef.SaleID))
		add("sale_status", nullIfEmpty(p.SaleRef.Status))
	}
	if p.PotentialSale != nil {
		add("potential_sale", *p.PotentialSale)
	}
	args = append(args, id)
	q := fmt.Sprintf(`UPDATE conversations SET %s, updated_at=now() WHERE id=$%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), conversationColumns)
	c, err := scanConversation(s.db.QueryRowContext(ctx, q, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("conversation", id)
		}
		return nil, apperr.Store("patch conversation", err)
	}
	return c, nil
}

func (s *PostgresStore) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id=$1`, id)
	if err != nil {
		return apperr.Store("delete conversation", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("conversation", id)
	}
	return nil
}

func (s *PostgresStore) FindByIdentity(ctx context.Context, customer identity.CustomerIdentity, repPhone string, statuses ...Status) ([]*Conversation, error) {
	q := `SELECT ` + conversationColumns + ` FROM conversations
		WHERE customer_kind=$1 AND customer_value=$2 AND rep_phone=$3`
	args := []any{string(customer.Kind()), customer.Value(), repPhone}
	if len(statuses) > 0 {
		ss := make([]string, len(statuses))
		for i, st := range statuses {
			ss[i] = string(st)
		}
		q += ` AND status = ANY($4)`
		args = append(args, pq.Array(ss))
	}
	q += ` ORDER BY created_at DESC, id ASC`
	return s.queryConversations(ctx, "find conversations", q, args...)
}

func (s *PostgresStore) FindByBridgeRef(ctx context.Context, bridgeRef string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations
		WHERE bridge_ref=$1 ORDER BY created_at DESC, id ASC LIMIT 1`, bridgeRef)
	c, err := scanConversation(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("bridge", bridgeRef)
		}
		return nil, apperr.Store("find by bridge", err)
	}
	return c, nil
}

func (s *PostgresStore) ListConversations(ctx context.Context) ([]*Conversation, error) {
	return s.queryConversations(ctx, "list conversations",
		`SELECT `+conversationColumns+` FROM conversations ORDER BY id`)
}

func (s *PostgresStore) queryConversations(ctx context.Context, op, q string, args ...any) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apperr.Store(op, err)
	}
	defer rows.Close()
	out := make([]*Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, apperr.Store(op, err)
		}
		out = append(out, c)
	}
	return out, apperr.Store(op, rows.Err())
}

const messageColumns = `id, conversation_id, sender, sender_id, content, ts, seq, delivered_to, read_by, edited, edited_at`

func scanMessage(row rowScanner) (*Message, error) {
	var (
		m        Message
		sender   string
		editedAt sql.NullTime
	)
	if err := row.Scan(&m.ID, &m.ConversationID, &sender, &m.SenderID, &m.Content, &m.Timestamp, &m.Seq,
		pq.Array(&m.DeliveredTo), pq.Array(&m.ReadBy), &m.Edited, &editedAt); err != nil {
		return nil, err
	}
	m.Sender = Sender(sender)
	if editedAt.Valid {
		t := editedAt.Time
		m.EditedAt = &t
	}
	if m.DeliveredTo == nil {
		m.DeliveredTo = []string{}
	}
	if m.ReadBy == nil {
		m.ReadBy = []string{}
	}
	return &m, nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, m *Message) error {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	if m.ID == "" {
		m.ID = NewMessageID(m.Timestamp)
	}
	var editedAt any
	if m.EditedAt != nil {
		editedAt = *m.EditedAt
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender, sender_id, content, ts, delivered_to, read_by, edited, edited_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING seq
	`, m.ID, m.ConversationID, string(m.Sender), m.SenderID, m.Content, m.Timestamp,
		pq.Array(ensureSlice(m.DeliveredTo)), pq.Array(ensureSlice(m.ReadBy)), m.Edited, editedAt,
	).Scan(&m.Seq)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23503" {
			return apperr.NotFound("conversation", m.ConversationID)
		}
		return apperr.Store("append message", err)
	}
	return nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, conversationID, messageID string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE conversation_id=$1 AND id=$2`,
		conversationID, messageID)
	m, err := scanMessage(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("message", messageID)
		}
		return nil, apperr.Store("get message", err)
	}
	return m, nil
}

func (s *PostgresStore) EditMessage(ctx context.Context, conversationID, messageID, content string, editedAt time.Time) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE messages SET content=$3, edited=true, edited_at=$4
		WHERE conversation_id=$1 AND id=$2
		RETURNING `+messageColumns, conversationID, messageID, content, editedAt)
	m, err := scanMessage(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("message", messageID)
		}
		return nil, apperr.Store("edit message", err)
	}
	return m, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+messageColumns+` FROM messages
		WHERE conversation_id=$1 ORDER BY ts ASC, seq ASC`, conversationID)
	if err != nil {
		return nil, apperr.Store("list messages", err)
	}
	defer rows.Close()
	out := make([]*Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, apperr.Store("list messages", err)
		}
		out = append(out, m)
	}
	return out, apperr.Store("list messages", rows.Err())
}

func (s *PostgresStore) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id=$1 AND id=$2`, conversationID, messageID)
	if err != nil {
		return apperr.Store("delete message", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("message", messageID)
	}
	return nil
}

func (s *PostgresStore) AddReceipts(ctx context.Context, conversationID string, messageIDs []string, participantID string, kind ReceiptKind) (int, error) {
	col := "delivered_to"
	if kind == ReceiptRead {
		col = "read_by"
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE messages SET %[1]s = array_append(%[1]s, $3)
		WHERE conversation_id=$1 AND id = ANY($2) AND NOT ($3 = ANY(%[1]s))
	`, col), conversationID, pq.Array(messageIDs), participantID)
	if err != nil {
		return 0, apperr.Store("add receipts", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func marshalProfile(p *CustomerProfile) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode profile: %w", err)
	}
	return b, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func ensureSlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
