package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"nuam-capital/portal/internal/clock"
	"nuam-capital/portal/internal/model"
	"nuam-capital/portal/internal/session"
	"nuam-capital/portal/internal/store"
)

// LoginResult tells the caller where to send the user next.
type LoginResult struct {
	Account     *model.Account
	MFARequired bool
}

// Authenticate resolves identifier as a username, then as an email, and
// checks password. Unknown users and wrong passwords are indistinguishable.
func (s *Service) Authenticate(ctx context.Context, identifier, password string) (*model.Account, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	acc, err := s.store.GetAccountByUsername(ctx, identifier)
	if errors.Is(err, store.ErrNotFound) {
		var byEmail *model.Account
		byEmail, err = s.store.GetAccountByEmail(ctx, identifier)
		if err == nil {
			acc, err = s.store.GetAccountByUsername(ctx, byEmail.User.Username)
		}
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(acc.User.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !acc.User.IsActive {
		return nil, ErrInvalidCredentials
	}
	return acc, nil
}

// Login checks credentials. Without MFA the session is authenticated at once.
// With MFA a fresh code is stored and emailed and the session only gets the
// pending marker; if the email cannot be sent no marker is set and ErrDispatch
// is returned.
func (s *Service) Login(ctx context.Context, sess SessionState, identifier, password string) (LoginResult, error) {
	acc, err := s.Authenticate(ctx, identifier, password)
	if err != nil {
		s.metrics.Login("invalid")
		return LoginResult{}, err
	}

	if !acc.Profile.MFAEnabled() {
		sess.Delete(session.KeyPendingUserID, session.KeyMFAType)
		sess.Set(session.KeyUserID, acc.ID())
		s.metrics.Login("success")
		s.log.Info("login", zap.String("user_id", acc.ID()))
		return LoginResult{Account: acc}, nil
	}

	sess.Delete(session.KeyUserID, session.KeyPendingUserID, session.KeyMFAType)
	if err := s.issueMFACode(ctx, acc); err != nil {
		s.metrics.Login("dispatch_error")
		return LoginResult{}, err
	}

	sess.Set(session.KeyPendingUserID, acc.ID())
	sess.Set(session.KeyMFAType, MFATypeEmail)
	s.metrics.Login("mfa_required")
	return LoginResult{Account: acc, MFARequired: true}, nil
}

func (s *Service) issueMFACode(ctx context.Context, acc *model.Account) error {
	code, err := s.newCode()
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}
	expires := s.clock.Now().Add(s.cfg.MFACodeTTL)
	if err := s.store.SetMFAEmailCode(ctx, acc.ID(), code, expires); err != nil {
		return fmt.Errorf("store code: %w", err)
	}

	err = s.mail.Send(ctx, s.mfaCodeMessage(acc, code))
	s.metrics.Email("mfa_code", err)
	if err != nil {
		s.log.Error("send mfa code", zap.String("user_id", acc.ID()), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrDispatch, err)
	}
	return nil
}

// ResendMFACode issues a new code for the pending user, replacing the old one.
func (s *Service) ResendMFACode(ctx context.Context, sess SessionState) error {
	acc, err := s.pendingAccount(ctx, sess)
	if err != nil {
		return err
	}
	return s.issueMFACode(ctx, acc)
}

func (s *Service) pendingAccount(ctx context.Context, sess SessionState) (*model.Account, error) {
	id := sess.Get(session.KeyPendingUserID)
	if id == "" {
		return nil, ErrNoPendingAuth
	}
	acc, err := s.store.GetAccountByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			sess.Delete(session.KeyPendingUserID, session.KeyMFAType)
			return nil, ErrPendingUserGone
		}
		return nil, fmt.Errorf("lookup pending account: %w", err)
	}
	return acc, nil
}

// PendingAccount returns the account awaiting MFA verification.
func (s *Service) PendingAccount(ctx context.Context, sess SessionState) (*model.Account, error) {
	return s.pendingAccount(ctx, sess)
}

// VerifyMFA completes a pending login. The stored code is cleared with a
// compare-and-set so a code can authenticate at most one request. A wrong or
// expired code keeps the pending marker so the user can retry.
func (s *Service) VerifyMFA(ctx context.Context, sess SessionState, code string) (*model.Account, error) {
	acc, err := s.pendingAccount(ctx, sess)
	if err != nil {
		s.metrics.MFAVerification("no_pending")
		return nil, err
	}

	code = strings.TrimSpace(code)
	if code == "" {
		s.metrics.MFAVerification("missing")
		return nil, ErrMissingCode
	}

	p := acc.Profile
	if p.MFAEmailCode == "" || p.MFAEmailCodeExpires == nil ||
		subtle.ConstantTimeCompare([]byte(code), []byte(p.MFAEmailCode)) != 1 ||
		!clock.Before(s.clock.Now(), *p.MFAEmailCodeExpires) {
		s.metrics.MFAVerification("invalid")
		return nil, ErrInvalidCode
	}

	if err := s.store.ClearMFAEmailCode(ctx, acc.ID(), code); err != nil {
		if errors.Is(err, store.ErrConflict) {
			s.metrics.MFAVerification("invalid")
			return nil, ErrInvalidCode
		}
		return nil, fmt.Errorf("clear code: %w", err)
	}
	acc.Profile.MFAEmailCode = ""
	acc.Profile.MFAEmailCodeExpires = nil

	sess.Delete(session.KeyPendingUserID, session.KeyMFAType)
	sess.Set(session.KeyUserID, acc.ID())
	s.metrics.MFAVerification("success")
	s.log.Info("login", zap.String("user_id", acc.ID()), zap.String("mfa", MFATypeEmail))
	return acc, nil
}

// CurrentAccount resolves the authenticated user of sess, if any.
func (s *Service) CurrentAccount(ctx context.Context, sess SessionState) (*model.Account, error) {
	id := sess.Get(session.KeyUserID)
	if id == "" {
		return nil, store.ErrNotFound
	}
	acc, err := s.store.GetAccountByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !acc.User.IsActive {
		return nil, store.ErrNotFound
	}
	return acc, nil
}
