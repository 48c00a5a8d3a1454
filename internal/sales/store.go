package sales

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/repchat/internal/apperr"
	"github.com/repchat/internal/identity"
)

// ErrEvidenceExists is returned when evidence for a sale was already saved.
var ErrEvidenceExists = errors.New("evidence already recorded")

type Store interface {
	CreateSale(ctx context.Context, s *Sale) error
	GetSale(ctx context.Context, id string) (*Sale, error)
	// UpdateStatus sets the status and returns the updated sale and the prior status.
	UpdateStatus(ctx context.Context, id string, status Status) (*Sale, Status, error)
	ListByConversation(ctx context.Context, conversationID string) ([]*Sale, error)
	ReassignConversation(ctx context.Context, fromConversationID, toConversationID string) error
	SaveEvidence(ctx context.Context, e *Evidence) error
	GetEvidence(ctx context.Context, saleID string) (*Evidence, error)
}

type MemoryStore struct {
	mu       sync.RWMutex
	sales    map[string]*Sale
	evidence map[string]*Evidence
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sales:    make(map[string]*Sale),
		evidence: make(map[string]*Evidence),
		now:      time.Now,
	}
}

func (m *MemoryStore) CreateSale(ctx context.Context, s *Sale) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = m.now().UTC()
	}
	s.UpdatedAt = s.CreatedAt
	m.sales[s.ID] = clone(s)
	return nil
}

func (m *MemoryStore) GetSale(ctx context.Context, id string) (*Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sales[id]
	if !ok {
		return nil, apperr.NotFound("sale", id)
	}
	return clone(s), nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id string, status Status) (*Sale, Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sales[id]
	if !ok {
		return nil, "", apperr.NotFound("sale", id)
	}
	old := s.Status
	s.Status = status
	s.UpdatedAt = m.now().UTC()
	return clone(s), old, nil
}

func (m *MemoryStore) ListByConversation(ctx context.Context, conversationID string) ([]*Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Sale, 0)
	for _, s := range m.sales {
		if s.ConversationID == conversationID {
			out = append(out, clone(s))
		}
	}
	return out, nil
}

func (m *MemoryStore) ReassignConversation(ctx context.Context, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sales {
		if s.ConversationID == from {
			s.ConversationID = to
		}
	}
	return nil
}

func (m *MemoryStore) SaveEvidence(ctx context.Context, e *Evidence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.evidence[e.SaleID]; ok {
		return fmt.Errorf("sale %s: %w", e.SaleID, ErrEvidenceExists)
	}
	cp := *e
	cp.Transcript = append(cp.Transcript[:0:0], e.Transcript...)
	cp.Matches = append(cp.Matches[:0:0], e.Matches...)
	m.evidence[e.SaleID] = &cp
	return nil
}

func (m *MemoryStore) GetEvidence(ctx context.Context, saleID string) (*Evidence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.evidence[saleID]
	if !ok {
		return nil, apperr.NotFound("evidence", saleID)
	}
	cp := *e
	return &cp, nil
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

const saleColumns = `id, conversation_id, channel, commission_rate, sale_amount, commission_amount, status,
	detection_method, rep_id, rep_name, rep_phone, details, sale_date, notes, created_at, updated_at`

func scanSale(row interface{ Scan(...any) error }) (*Sale, error) {
	var s Sale
	var channel, status, method string
	err := row.Scan(&s.ID, &s.ConversationID, &channel, &s.CommissionRate, &s.SaleAmount, &s.CommissionAmount,
		&status, &method, &s.Rep.ID, &s.Rep.Name, &s.Rep.Phone, &s.Details, &s.SaleDate, &s.Notes, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.Channel = channelOf(channel)
	s.Status = Status(status)
	s.DetectionMethod = DetectionMethod(method)
	return &s, nil
}

func (p *PostgresStore) CreateSale(ctx context.Context, s *Sale) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO sales (id, conversation_id, channel, commission_rate, sale_amount, commission_amount, status,
			detection_method, rep_id, rep_name, rep_phone, details, sale_date, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING created_at, updated_at
	`, s.ID, s.ConversationID, string(s.Channel), s.CommissionRate, s.SaleAmount, s.CommissionAmount, string(s.Status),
		string(s.DetectionMethod), s.Rep.ID, s.Rep.Name, s.Rep.Phone, s.Details, s.SaleDate, s.Notes,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	return apperr.Store("create sale", err)
}

func (p *PostgresStore) GetSale(ctx context.Context, id string) (*Sale, error) {
	s, err := scanSale(p.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id=$1`, id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("sale", id)
	}
	if err != nil {
		return nil, apperr.Store("get sale", err)
	}
	return s, nil
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, id string, status Status) (*Sale, Status, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, "", apperr.Store("update sale status", err)
	}
	defer func() { _ = tx.Rollback() }()

	var old string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM sales WHERE id=$1 FOR UPDATE`, id).Scan(&old); err != nil {
		if err == sql.ErrNoRows {
			return nil, "", apperr.NotFound("sale", id)
		}
		return nil, "", apperr.Store("update sale status", err)
	}
	s, err := scanSale(tx.QueryRowContext(ctx,
		`UPDATE sales SET status=$2, updated_at=now() WHERE id=$1 RETURNING `+saleColumns, id, string(status)))
	if err != nil {
		return nil, "", apperr.Store("update sale status", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, "", apperr.Store("update sale status", err)
	}
	return s, Status(old), nil
}

func (p *PostgresStore) ListByConversation(ctx context.Context, conversationID string) ([]*Sale, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE conversation_id=$1 ORDER BY created_at`, conversationID)
	if err != nil {
		return nil, apperr.Store("list sales", err)
	}
	defer rows.Close()
	out := make([]*Sale, 0)
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, apperr.Store("list sales", err)
		}
		out = append(out, s)
	}
	return out, apperr.Store("list sales", rows.Err())
}

func (p *PostgresStore) ReassignConversation(ctx context.Context, from, to string) error {
	_, err := p.db.ExecContext(ctx, `UPDATE sales SET conversation_id=$2, updated_at=now() WHERE conversation_id=$1`, from, to)
	return apperr.Store("reassign sales", err)
}

func (p *PostgresStore) SaveEvidence(ctx context.Context, e *Evidence) error {
	transcript, err := json.Marshal(e.Transcript)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	matches, err := json.Marshal(e.Matches)
	if err != nil {
		return fmt.Errorf("encode matches: %w", err)
	}
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO sale_evidence (sale_id, transcript, matches, confidence, created_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (sale_id) DO NOTHING
	`, e.SaleID, transcript, matches, string(e.Confidence), e.CreatedAt)
	if err != nil {
		return apperr.Store("save evidence", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sale %s: %w", e.SaleID, ErrEvidenceExists)
	}
	return nil
}

func (p *PostgresStore) GetEvidence(ctx context.Context, saleID string) (*Evidence, error) {
	var (
		e                   Evidence
		transcript, matches []byte
		confidence          string
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT sale_id, transcript, matches, confidence, created_at FROM sale_evidence WHERE sale_id=$1
	`, saleID).Scan(&e.SaleID, &transcript, &matches, &confidence, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("evidence", saleID)
	}
	if err != nil {
		return nil, apperr.Store("get evidence", err)
	}
	if err := json.Unmarshal(transcript, &e.Transcript); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	if err := json.Unmarshal(matches, &e.Matches); err != nil {
		return nil, fmt.Errorf("decode matches: %w", err)
	}
	e.Confidence = Confidence(confidence)
	return &e, nil
}

func channelOf(s string) identity.Channel {
	if s == string(identity.ChannelInstagram) {
		return identity.ChannelInstagram
	}
	return identity.ChannelWebsite
}
