// Package audit is the append-only log of sale actions.
package audit

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/repchat/internal/apperr"
)

type Action string

const (
	ActionCreated       Action = "created"
	ActionStatusChanged Action = "status_changed"
	ActionAutoDetected  Action = "auto_detected"
)

// Entry is one immutable audit record.
type Entry struct {
	ID          string    `json:"id"`
	Actor       string    `json:"actor"`
	Action      Action    `json:"action"`
	Reason      string    `json:"reason,omitempty"`
	SubjectID   string    `json:"subject_id"`
	SubjectType string    `json:"subject_type"`
	OldStatus   string    `json:"old_status,omitempty"`
	NewStatus   string    `json:"new_status,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Sink is append-only. There is no update or delete.
type Sink interface {
	Append(ctx context.Context, e *Entry) error
	// List returns entries for subjectID oldest first.
	List(ctx context.Context, subjectID string) ([]*Entry, error)
}

func prepare(e *Entry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
}

type MemorySink struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) Append(ctx context.Context, e *Entry) error {
	prepare(e)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, *e)
	return nil
}

func (s *MemorySink) List(ctx context.Context, subjectID string) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Entry, 0)
	for i := range s.entries {
		if s.entries[i].SubjectID == subjectID {
			e := s.entries[i]
			out = append(out, &e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

type PostgresSink struct {
	db *sql.DB
}

func NewPostgresSink(db *sql.DB) *PostgresSink { return &PostgresSink{db: db} }

func (s *PostgresSink) Append(ctx context.Context, e *Entry) error {
	prepare(e)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, actor, action, reason, subject_id, subject_type, old_status, new_status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, e.ID, e.Actor, string(e.Action), e.Reason, e.SubjectID, e.SubjectType, e.OldStatus, e.NewStatus, e.Timestamp)
	return apperr.Store("append audit", err)
}

func (s *PostgresSink) List(ctx context.Context, subjectID string) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor, action, reason, subject_id, subject_type, old_status, new_status, created_at
		FROM audit_log WHERE subject_id=$1 ORDER BY created_at ASC, seq ASC
	`, subjectID)
	if err != nil {
		return nil, apperr.Store("list audit", err)
	}
	defer rows.Close()
	out := make([]*Entry, 0)
	for rows.Next() {
		var e Entry
		var action string
		if err := rows.Scan(&e.ID, &e.Actor, &action, &e.Reason, &e.SubjectID, &e.SubjectType, &e.OldStatus, &e.NewStatus, &e.Timestamp); err != nil {
			return nil, apperr.Store("list audit", err)
		}
		e.Action = Action(action)
		out = append(out, &e)
	}
	return out, apperr.Store("list audit", rows.Err())
}
