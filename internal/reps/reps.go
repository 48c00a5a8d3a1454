// Package reps looks up sales representatives.
package reps

import (
	"context"
	"database/sql"
	"sync"

	"github.com/repchat/internal/apperr"
)

// Rep is a representative directory record.
type Rep struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Phone  string `json:"phone"`
	Email  string `json:"email,omitempty"`
	Active bool   `json:"active"`
}

// Directory resolves representatives by id or phone.
type Directory interface {
	ByID(ctx context.Context, id string) (*Rep, error)
	ByPhone(ctx context.Context, phone string) (*Rep, error)
}

type MemoryStore struct {
	mu   sync.RWMutex
	reps map[string]Rep
}

func NewMemoryStore(reps ...Rep) *MemoryStore {
	s := &MemoryStore{reps: make(map[string]Rep)}
	for _, r := range reps {
		s.reps[r.ID] = r
	}
	return s
}

func (s *MemoryStore) Put(r Rep) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reps[r.ID] = r
}

func (s *MemoryStore) ByID(ctx context.Context, id string) (*Rep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reps[id]
	if !ok {
		return nil, apperr.NotFound("rep", id)
	}
	return &r, nil
}

func (s *MemoryStore) ByPhone(ctx context.Context, phone string) (*Rep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.reps {
		if r.Phone == phone {
			r := r
			return &r, nil
		}
	}
	return nil, apperr.NotFound("rep", phone)
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) ByID(ctx context.Context, id string) (*Rep, error) {
	return s.one(ctx, id, `SELECT id, name, phone, coalesce(email,''), active FROM reps WHERE id=$1`, id)
}

func (s *PostgresStore) ByPhone(ctx context.Context, phone string) (*Rep, error) {
	return s.one(ctx, phone, `SELECT id, name, phone, coalesce(email,''), active FROM reps WHERE phone=$1 ORDER BY active DESC, id LIMIT 1`, phone)
}

func (s *PostgresStore) one(ctx context.Context, key, q string, args ...any) (*Rep, error) {
	var r Rep
	err := s.db.QueryRowContext(ctx, q, args...).Scan(&r.ID, &r.Name, &r.Phone, &r.Email, &r.Active)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("rep", key)
	}
	if err != nil {
		return nil, apperr.Store("get rep", err)
	}
	return &r, nil
}
