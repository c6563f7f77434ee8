package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"nuam-capital/portal/internal/model"
	"nuam-capital/portal/internal/store"
)

func (s *Store) CreateAccount(_ context.Context, a model.Account) (model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := a.User
	username := strings.TrimSpace(u.Username)
	if username == "" {
		return model.Account{}, errWithCode("username_required")
	}
	email := strings.TrimSpace(u.Email)

	for _, existing := range s.users {
		if strings.EqualFold(existing.Username, username) {
			return model.Account{}, store.ErrConflict
		}
		if email != "" && strings.EqualFold(existing.Email, email) {
			return model.Account{}, store.ErrConflict
		}
	}

	now := time.Now().UTC()
	u.ID = newID()
	u.Username = username
	u.Email = email
	u.CreatedAt = now
	u.UpdatedAt = now

	p := a.Profile
	p.UserID = u.ID
	if p.Role == "" {
		p.Role = model.RoleCorredor
	}

	s.users[u.ID] = u
	s.profiles[u.ID] = p
	return model.Account{User: u, Profile: p}, nil
}

// account must be called with s.mu held.
func (s *Store) account(id string) (*model.Account, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	p := s.profiles[id]
	if p.MFAEmailCodeExpires != nil {
		exp := *p.MFAEmailCodeExpires
		p.MFAEmailCodeExpires = &exp
	}
	return &model.Account{User: u, Profile: p}, nil
}

func (s *Store) GetAccountByID(_ context.Context, id string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.account(id)
}

func (s *Store) GetAccountByUsername(_ context.Context, username string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, u := range s.users {
		if strings.EqualFold(u.Username, username) {
			return s.account(id)
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetAccountByEmail(_ context.Context, email string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = strings.TrimSpace(email)
	if email == "" {
		return nil, store.ErrNotFound
	}
	for id, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return s.account(id)
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListAccounts(_ context.Context) ([]model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Account, 0, len(s.users))
	for id := range s.users {
		a, _ := s.account(id)
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].User.Username) < strings.ToLower(out[j].User.Username)
	})
	return out, nil
}

func (s *Store) UpdatePassword(_ context.Context, userID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now().UTC()
	s.users[userID] = u
	return nil
}

func (s *Store) SetMFASecret(_ context.Context, userID, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[userID]
	if !ok {
		return store.ErrNotFound
	}
	p.MFASecret = secret
	if secret == "" {
		p.MFAEmailCode = ""
		p.MFAEmailCodeExpires = nil
	}
	s.profiles[userID] = p
	return nil
}

func (s *Store) SetMFAEmailCode(_ context.Context, userID, code string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[userID]
	if !ok {
		return store.ErrNotFound
	}
	p.MFAEmailCode = code
	p.MFAEmailCodeExpires = &expiresAt
	s.profiles[userID] = p
	return nil
}

func (s *Store) ClearMFAEmailCode(_ context.Context, userID, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[userID]
	if !ok {
		return store.ErrNotFound
	}
	if code == "" || p.MFAEmailCode != code {
		return store.ErrConflict
	}
	p.MFAEmailCode = ""
	p.MFAEmailCodeExpires = nil
	s.profiles[userID] = p
	return nil
}
