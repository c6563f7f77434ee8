package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"nuam-capital/portal/internal/clock"
	"nuam-capital/portal/internal/model"
	"nuam-capital/portal/internal/store"
)

// ResetPath is the route prefix embedded in reset emails.
const ResetPath = "/reset-password/"

// RequestPasswordReset issues a token for the account registered under email
// and mails a link built from baseURL. An unknown email yields ErrNoAccount.
func (s *Service) RequestPasswordReset(ctx context.Context, email, baseURL string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		s.metrics.PasswordReset("request", "no_account")
		return ErrNoAccount
	}
	acc, err := s.store.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.metrics.PasswordReset("request", "no_account")
			return ErrNoAccount
		}
		return fmt.Errorf("lookup account: %w", err)
	}

	now := s.clock.Now()
	tok, err := s.store.CreatePasswordResetToken(ctx, model.PasswordResetToken{
		UserID:    acc.ID(),
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.ResetTokenTTL),
	})
	if err != nil {
		return fmt.Errorf("create reset token: %w", err)
	}

	link := strings.TrimRight(baseURL, "/") + ResetPath + tok.Token
	err = s.mail.Send(ctx, s.resetLinkMessage(acc, link))
	s.metrics.Email("password_reset", err)
	if err != nil {
		s.log.Error("send reset link", zap.String("user_id", acc.ID()), zap.Error(err))
		s.metrics.PasswordReset("request", "dispatch_error")
		return fmt.Errorf("%w: %v", ErrDispatch, err)
	}
	s.metrics.PasswordReset("request", "sent")
	return nil
}

// CheckResetToken reports whether token can still be used. Unknown, used and
// expired tokens map to distinct errors, checked in that order.
func (s *Service) CheckResetToken(ctx context.Context, token string) (*model.PasswordResetToken, error) {
	if token == "" {
		return nil, ErrTokenInvalid
	}
	t, err := s.store.GetPasswordResetToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("lookup reset token: %w", err)
	}
	if t.Used {
		return nil, ErrTokenUsed
	}
	if !clock.Before(s.clock.Now(), t.ExpiresAt) {
		return nil, ErrTokenExpired
	}
	return t, nil
}

// ValidateNewPassword checks the confirmation and the length bounds.
func ValidateNewPassword(password, confirm string) error {
	if password != confirm {
		return ErrPasswordMismatch
	}
	return checkPasswordLength(password)
}

func checkPasswordLength(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if len(password) > MaxPasswordBytes {
		return ErrPasswordTooLong
	}
	return nil
}

// ResetPassword sets a new password through a still-valid token and marks the
// token used. Nothing changes when any check fails. Of two concurrent calls
// with the same token only one succeeds; the other gets ErrTokenUsed.
func (s *Service) ResetPassword(ctx context.Context, token, password, confirm string) error {
	t, err := s.CheckResetToken(ctx, token)
	if err != nil {
		s.metrics.PasswordReset("complete", resultOf(err))
		return err
	}
	if err := ValidateNewPassword(password, confirm); err != nil {
		s.metrics.PasswordReset("complete", "invalid_password")
		return err
	}

	hash, err := s.hashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if _, err := s.store.ConsumePasswordResetToken(ctx, t.Token, hash); err != nil {
		switch {
		case errors.Is(err, store.ErrConflict):
			s.metrics.PasswordReset("complete", "used")
			return ErrTokenUsed
		case errors.Is(err, store.ErrNotFound):
			s.metrics.PasswordReset("complete", "invalid")
			return ErrTokenInvalid
		}
		return fmt.Errorf("consume reset token: %w", err)
	}

	s.metrics.PasswordReset("complete", "success")
	s.log.Info("password reset", zap.String("user_id", t.UserID))
	return nil
}

func resultOf(err error) string {
	switch {
	case errors.Is(err, ErrTokenInvalid):
		return "invalid"
	case errors.Is(err, ErrTokenUsed):
		return "used"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	}
	return "error"
}
