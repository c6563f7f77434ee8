package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/pquerna/otp/totp"

	"nuam-capital/portal/internal/model"
)

type NewAccount struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      model.Role
	EmpresaID string
	IsStaff   bool
	EnableMFA bool
}

// CreateAccount stores a user together with its profile. Duplicate usernames
// or emails surface as store.ErrConflict.
func (s *Service) CreateAccount(ctx context.Context, in NewAccount) (model.Account, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return model.Account{}, ErrUsernameRequired
	}
	if err := checkPasswordLength(in.Password); err != nil {
		return model.Account{}, err
	}
	role := in.Role
	if role == "" {
		role = model.RoleCorredor
	}
	if !role.Valid() {
		return model.Account{}, ErrInvalidRole
	}

	hash, err := s.hashPassword(in.Password)
	if err != nil {
		return model.Account{}, fmt.Errorf("hash password: %w", err)
	}

	var secret string
	if in.EnableMFA {
		if secret, err = s.newMFASecret(username); err != nil {
			return model.Account{}, err
		}
	}

	return s.store.CreateAccount(ctx, model.Account{
		User: model.User{
			Username:     username,
			Email:        strings.TrimSpace(in.Email),
			PasswordHash: hash,
			FirstName:    strings.TrimSpace(in.FirstName),
			LastName:     strings.TrimSpace(in.LastName),
			IsActive:     true,
			IsStaff:      in.IsStaff,
		},
		Profile: model.Profile{
			Role:      role,
			EmpresaID: in.EmpresaID,
			MFASecret: secret,
		},
	})
}

// SetMFA turns email MFA on (new secret) or off (secret and pending code cleared).
func (s *Service) SetMFA(ctx context.Context, userID string, enabled bool) (*model.Account, error) {
	acc, err := s.store.GetAccountByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	var secret string
	if enabled {
		if acc.Profile.MFAEnabled() {
			return acc, nil
		}
		if secret, err = s.newMFASecret(acc.User.Username); err != nil {
			return nil, err
		}
	}
	if err := s.store.SetMFASecret(ctx, userID, secret); err != nil {
		return nil, err
	}
	return s.store.GetAccountByID(ctx, userID)
}

func (s *Service) newMFASecret(account string) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.cfg.SiteName,
		AccountName: account,
	})
	if err != nil {
		return "", fmt.Errorf("generate mfa secret: %w", err)
	}
	return key.Secret(), nil
}
