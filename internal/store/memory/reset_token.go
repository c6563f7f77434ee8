package memory

import (
	"context"
	"time"

	"nuam-capital/portal/internal/model"
	"nuam-capital/portal/internal/store"
)

func (s *Store) CreatePasswordResetToken(_ context.Context, t model.PasswordResetToken) (model.PasswordResetToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[t.UserID]; !ok {
		return model.PasswordResetToken{}, store.ErrNotFound
	}

	t, err := store.PrepareResetToken(t, time.Now().UTC())
	if err != nil {
		return model.PasswordResetToken{}, err
	}
	if _, exists := s.tokens[t.Token]; exists {
		return model.PasswordResetToken{}, store.ErrConflict
	}

	t.ID = newID()
	t.Used = false
	s.tokens[t.Token] = t
	return t, nil
}

func (s *Store) GetPasswordResetToken(_ context.Context, token string) (*model.PasswordResetToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[token]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

func (s *Store) ConsumePasswordResetToken(_ context.Context, token, passwordHash string) (*model.PasswordResetToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[token]
	if !ok {
		return nil, store.ErrNotFound
	}
	if t.Used {
		return nil, store.ErrConflict
	}
	u, ok := s.users[t.UserID]
	if !ok {
		return nil, store.ErrNotFound
	}

	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now().UTC()
	s.users[u.ID] = u

	t.Used = true
	s.tokens[token] = t
	return &t, nil
}

func (s *Store) PurgePasswordResetTokens(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, t := range s.tokens {
		if (t.Used && t.CreatedAt.Before(before)) || t.ExpiresAt.Before(before) {
			delete(s.tokens, k)
			n++
		}
	}
	return n, nil
}
