package biometric

import (
	"bytes"
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and database-less runs.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	rows   []Template
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) ActiveTemplate(_ context.Context, accountID int64, m Modality) (Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.rows {
		if t.Active && t.AccountID == accountID && t.Modality == m {
			return cloneTemplate(t), nil
		}
	}
	return Template{}, ErrNotEnrolled
}

func (s *MemoryStore) InsertTemplate(_ context.Context, t Template) (Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.Active && r.AccountID == t.AccountID && r.Modality == t.Modality {
			return Template{}, ErrAlreadyEnrolled
		}
	}
	s.nextID++
	t.ID = s.nextID
	t.Active = true
	t = cloneTemplate(t)
	s.rows = append(s.rows, t)
	return cloneTemplate(t), nil
}

func (s *MemoryStore) RecordVerification(_ context.Context, templateID int64, ok bool, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rows {
		if s.rows[i].ID != templateID {
			continue
		}
		if ok {
			s.rows[i].VerificationCount++
			at := now
			s.rows[i].LastVerifiedAt = &at
		} else {
			s.rows[i].FailedVerifications++
		}
		return nil
	}
	return ErrNotEnrolled
}

func (s *MemoryStore) Deactivate(_ context.Context, accountID int64, m Modality, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rows {
		r := &s.rows[i]
		if r.Active && r.AccountID == accountID && r.Modality == m {
			r.Active = false
			at := now
			r.DeactivatedAt = &at
			return true, nil
		}
	}
	return false, nil
}

// All returns every row, active or not (tests).
func (s *MemoryStore) All() []Template {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Template, 0, len(s.rows))
	for _, t := range s.rows {
		out = append(out, cloneTemplate(t))
	}
	return out
}

func cloneTemplate(t Template) Template {
	t.Sealed.Ciphertext = bytes.Clone(t.Sealed.Ciphertext)
	t.Sealed.IV = bytes.Clone(t.Sealed.IV)
	t.Sealed.Tag = bytes.Clone(t.Sealed.Tag)
	return t
}
