package auth

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"nuam-capital/portal/internal/clock"
	"nuam-capital/portal/internal/mailer"
	"nuam-capital/portal/internal/model"
	"nuam-capital/portal/internal/session"
	"nuam-capital/portal/internal/store"
	"nuam-capital/portal/internal/store/memory"
)

type fixture struct {
	svc   *Service
	store *memory.Store
	mail  *mailer.Recorder
	now   time.Time
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store: memory.NewStore(),
		mail:  &mailer.Recorder{},
		now:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	opts = append([]Option{WithClock(clock.Func(func() time.Time { return f.now }))}, opts...)
	f.svc = NewService(f.store, f.mail, Config{
		From:       "no-reply@nuam.cl",
		BCryptCost: bcrypt.MinCost,
	}, opts...)
	return f
}

func (f *fixture) account(t *testing.T, username, email, password string, mfa bool) model.Account {
	t.Helper()
	a, err := f.svc.CreateAccount(context.Background(), NewAccount{
		Username:  username,
		Email:     email,
		Password:  password,
		EnableMFA: mfa,
	})
	require.NoError(t, err)
	return a
}

func fixedCode(code string) Option {
	return WithCodeGenerator(func() (string, error) { return code, nil })
}

func TestLoginWithoutMFAAuthenticatesImmediately(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "ana", "ana@example.com", "secret1", false)
	sess := &session.Session{}

	res, err := f.svc.Login(context.Background(), sess, "ana", "secret1")
	require.NoError(t, err)
	assert.False(t, res.MFARequired)
	assert.Equal(t, a.ID(), res.Account.ID())
	assert.Equal(t, a.ID(), sess.Get(session.KeyUserID))
	assert.Empty(t, sess.Get(session.KeyPendingUserID))
	assert.Empty(t, f.mail.Sent())
}

func TestLoginWithMFANeverAuthenticatesDirectly(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "bruno", "bruno@example.com", "secret1", true)
	sess := &session.Session{}

	res, err := f.svc.Login(context.Background(), sess, "bruno", "secret1")
	require.NoError(t, err)
	assert.True(t, res.MFARequired)
	assert.Empty(t, sess.Get(session.KeyUserID))
	assert.Equal(t, a.ID(), sess.Get(session.KeyPendingUserID))
	assert.Equal(t, MFATypeEmail, sess.Get(session.KeyMFAType))

	msg, ok := f.mail.Last()
	require.True(t, ok)
	assert.Equal(t, []string{"bruno@example.com"}, msg.To)
	assert.Equal(t, "no-reply@nuam.cl", msg.From)
	assert.NotEmpty(t, msg.HTML)

	stored, err := f.store.GetAccountByID(context.Background(), a.ID())
	require.NoError(t, err)
	assert.Regexp(t, `^[1-9][0-9]{5}$`, stored.Profile.MFAEmailCode)
	assert.Contains(t, msg.Plain, stored.Profile.MFAEmailCode)
	require.NotNil(t, stored.Profile.MFAEmailCodeExpires)
	assert.True(t, f.now.Add(10*time.Minute).Equal(*stored.Profile.MFAEmailCodeExpires))
}

func TestLoginClearsStaleAuthenticationWhenMFAIsPending(t *testing.T) {
	f := newFixture(t)
	f.account(t, "carla", "carla@example.com", "secret1", true)
	sess := &session.Session{}
	sess.Set(session.KeyUserID, "someone-else")

	_, err := f.svc.Login(context.Background(), sess, "carla", "secret1")
	require.NoError(t, err)
	assert.Empty(t, sess.Get(session.KeyUserID))
}

func TestLoginByEmail(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "dora", "Dora@Example.com", "secret1", false)
	sess := &session.Session{}

	res, err := f.svc.Login(context.Background(), sess, "dora@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, a.ID(), res.Account.ID())
}

func TestLoginFailuresAreGeneric(t *testing.T) {
	f := newFixture(t)
	f.account(t, "eva", "eva@example.com", "secret1", false)
	ctx := context.Background()

	cases := []struct {
		name       string
		identifier string
		password   string
	}{
		{"wrong password", "eva", "nope123"},
		{"unknown user", "ghost", "secret1"},
		{"unknown email", "ghost@example.com", "secret1"},
		{"empty identifier", "  ", "secret1"},
		{"empty password", "eva", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sess := &session.Session{}
			_, err := f.svc.Login(ctx, sess, tc.identifier, tc.password)
			assert.ErrorIs(t, err, ErrInvalidCredentials)
			assert.Empty(t, sess.Get(session.KeyUserID))
			assert.Empty(t, sess.Get(session.KeyPendingUserID))
		})
	}
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	f := newFixture(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("secret1"), bcrypt.MinCost)
	require.NoError(t, err)
	_, err = f.store.CreateAccount(context.Background(), model.Account{
		User: model.User{Username: "frozen", PasswordHash: string(hash), IsActive: false},
	})
	require.NoError(t, err)

	_, err = f.svc.Login(context.Background(), &session.Session{}, "frozen", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginDispatchFailureSetsNoPendingMarker(t *testing.T) {
	f := newFixture(t)
	f.account(t, "gabi", "gabi@example.com", "secret1", true)
	f.mail.Err = errors.New("smtp: connection refused")
	sess := &session.Session{}

	_, err := f.svc.Login(context.Background(), sess, "gabi", "secret1")
	assert.ErrorIs(t, err, ErrDispatch)
	assert.Empty(t, sess.Get(session.KeyPendingUserID))
	assert.Empty(t, sess.Get(session.KeyUserID))
}

func TestLoginDispatchFailureDropsPreviousAuthentication(t *testing.T) {
	f := newFixture(t)
	f.account(t, "gabi", "gabi@example.com", "secret1", true)
	f.mail.Err = errors.New("smtp: connection refused")
	sess := &session.Session{}
	sess.Set(session.KeyUserID, "someone-else")

	_, err := f.svc.Login(context.Background(), sess, "gabi", "secret1")
	assert.ErrorIs(t, err, ErrDispatch)
	assert.Empty(t, sess.Get(session.KeyUserID))
	assert.Empty(t, sess.Get(session.KeyPendingUserID))
}

func TestValidateNewPasswordBounds(t *testing.T) {
	cases := []struct {
		name     string
		password string
		want     error
	}{
		{"six characters", "abcdef", nil},
		{"five characters", "abcde", ErrPasswordTooShort},
		{"72 bytes", strings.Repeat("a", 72), nil},
		{"73 bytes", strings.Repeat("a", 73), ErrPasswordTooLong},
		// 37 two-byte runes: long enough in characters, too long for bcrypt.
		{"multibyte over limit", strings.Repeat("ñ", 37), ErrPasswordTooLong},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateNewPassword(tc.password, tc.password)
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestVerifyMFAScenario(t *testing.T) {
	f := newFixture(t, fixedCode("482913"))
	a := f.account(t, "hugo", "hugo@example.com", "secret1", true)
	ctx := context.Background()

	sess := &session.Session{}
	_, err := f.svc.Login(ctx, sess, "hugo", "secret1")
	require.NoError(t, err)

	// A second browser holding the same pending marker.
	other := &session.Session{}
	other.Set(session.KeyPendingUserID, a.ID())
	other.Set(session.KeyMFAType, MFATypeEmail)

	f.now = f.now.Add(5 * time.Minute)
	acc, err := f.svc.VerifyMFA(ctx, sess, " 482913 ")
	require.NoError(t, err)
	assert.Equal(t, a.ID(), acc.ID())
	assert.Equal(t, a.ID(), sess.Get(session.KeyUserID))
	assert.Empty(t, sess.Get(session.KeyPendingUserID))
	assert.Empty(t, sess.Get(session.KeyMFAType))

	stored, _ := f.store.GetAccountByID(ctx, a.ID())
	assert.Empty(t, stored.Profile.MFAEmailCode)
	assert.Nil(t, stored.Profile.MFAEmailCodeExpires)

	// Replaying the code fails.
	_, err = f.svc.VerifyMFA(ctx, other, "482913")
	assert.ErrorIs(t, err, ErrInvalidCode)
	assert.Empty(t, other.Get(session.KeyUserID))
	assert.Equal(t, a.ID(), other.Get(session.KeyPendingUserID))
}

func TestVerifyMFARejections(t *testing.T) {
	f := newFixture(t, fixedCode("111222"))
	a := f.account(t, "ines", "ines@example.com", "secret1", true)
	ctx := context.Background()

	sess := &session.Session{}
	_, err := f.svc.Login(ctx, sess, "ines", "secret1")
	require.NoError(t, err)

	// Test case 1: missing code
	_, err = f.svc.VerifyMFA(ctx, sess, "   ")
	assert.ErrorIs(t, err, ErrMissingCode)

	// Test case 2: wrong code keeps the pending marker
	_, err = f.svc.VerifyMFA(ctx, sess, "999999")
	assert.ErrorIs(t, err, ErrInvalidCode)
	assert.Equal(t, a.ID(), sess.Get(session.KeyPendingUserID))

	// Test case 3: correct code after expiry gets the same message
	f.now = f.now.Add(10 * time.Minute)
	_, err = f.svc.VerifyMFA(ctx, sess, "111222")
	assert.ErrorIs(t, err, ErrInvalidCode)
	assert.Equal(t, a.ID(), sess.Get(session.KeyPendingUserID))
	assert.Empty(t, sess.Get(session.KeyUserID))

	// Test case 4: resend issues a fresh code that works
	require.NoError(t, f.svc.ResendMFACode(ctx, sess))
	_, err = f.svc.VerifyMFA(ctx, sess, "111222")
	assert.NoError(t, err)
}

func TestVerifyMFAWithoutPendingState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.VerifyMFA(ctx, &session.Session{}, "123456")
	assert.ErrorIs(t, err, ErrNoPendingAuth)

	sess := &session.Session{}
	sess.Set(session.KeyPendingUserID, "deleted-user")
	sess.Set(session.KeyMFAType, MFATypeEmail)
	_, err = f.svc.VerifyMFA(ctx, sess, "123456")
	assert.ErrorIs(t, err, ErrPendingUserGone)
	assert.Empty(t, sess.Get(session.KeyPendingUserID))
	assert.Empty(t, sess.Get(session.KeyMFAType))
}

func TestGenerateCodeIsSixDigits(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 500; i++ {
		code, err := GenerateCode()
		require.NoError(t, err)
		require.Len(t, code, 6)
		require.Regexp(t, `^[1-9][0-9]{5}$`, code)
		seen[code] = true
	}
	assert.Greater(t, len(seen), 400)
}

var resetLink = regexp.MustCompile(`/reset-password/([A-Za-z0-9_-]+)`)

func (f *fixture) lastResetToken(t *testing.T) string {
	t.Helper()
	msg, ok := f.mail.Last()
	require.True(t, ok)
	m := resetLink.FindStringSubmatch(msg.Plain)
	require.Len(t, m, 2)
	return m[1]
}

func TestPasswordResetFlow(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "juan", "juan@example.com", "oldpass", false)
	ctx := context.Background()

	require.NoError(t, f.svc.RequestPasswordReset(ctx, "JUAN@example.com", "https://portal.nuam.cl/"))
	msg, _ := f.mail.Last()
	assert.Contains(t, msg.Plain, "https://portal.nuam.cl/reset-password/")
	assert.Equal(t, []string{"juan@example.com"}, msg.To)
	token := f.lastResetToken(t)

	tok, err := f.svc.CheckResetToken(ctx, token)
	require.NoError(t, err)
	assert.True(t, tok.IsValid(f.now))
	assert.Equal(t, 24*time.Hour, tok.ExpiresAt.Sub(tok.CreatedAt))

	// Validation failures leave everything untouched.
	assert.ErrorIs(t, f.svc.ResetPassword(ctx, token, "newpass1", "newpass2"), ErrPasswordMismatch)
	assert.ErrorIs(t, f.svc.ResetPassword(ctx, token, "abc", "abc"), ErrPasswordTooShort)
	long := strings.Repeat("a", 80)
	assert.ErrorIs(t, f.svc.ResetPassword(ctx, token, long, long), ErrPasswordTooLong)
	_, err = f.svc.CheckResetToken(ctx, token)
	require.NoError(t, err)

	require.NoError(t, f.svc.ResetPassword(ctx, token, "newpass1", "newpass1"))

	_, err = f.svc.Authenticate(ctx, "juan", "newpass1")
	assert.NoError(t, err)
	_, err = f.svc.Authenticate(ctx, "juan", "oldpass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	// Second use fails and keeps the first password.
	assert.ErrorIs(t, f.svc.ResetPassword(ctx, token, "another1", "another1"), ErrTokenUsed)
	_, err = f.svc.Authenticate(ctx, "juan", "newpass1")
	assert.NoError(t, err)

	stored, _ := f.store.GetPasswordResetToken(ctx, token)
	assert.False(t, stored.IsValid(f.now))
	assert.Equal(t, a.ID(), stored.UserID)
}

func TestPasswordResetExpiredScenario(t *testing.T) {
	f := newFixture(t)
	f.account(t, "karla", "karla@example.com", "oldpass", false)
	ctx := context.Background()

	require.NoError(t, f.svc.RequestPasswordReset(ctx, "karla@example.com", "http://localhost:8080"))
	token := f.lastResetToken(t)

	f.now = f.now.Add(25 * time.Hour)
	assert.ErrorIs(t, f.svc.ResetPassword(ctx, token, "newpass1", "newpass1"), ErrTokenExpired)

	_, err := f.svc.Authenticate(ctx, "karla", "oldpass")
	assert.NoError(t, err)
}

func TestCheckResetTokenErrors(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "luis", "luis@example.com", "oldpass", false)
	ctx := context.Background()

	_, err := f.svc.CheckResetToken(ctx, "")
	assert.ErrorIs(t, err, ErrTokenInvalid)
	_, err = f.svc.CheckResetToken(ctx, "does-not-exist")
	assert.ErrorIs(t, err, ErrTokenInvalid)

	// Used is reported before expired.
	tok, err := f.store.CreatePasswordResetToken(ctx, model.PasswordResetToken{
		UserID:    a.ID(),
		CreatedAt: f.now.Add(-48 * time.Hour),
	})
	require.NoError(t, err)
	_, err = f.store.ConsumePasswordResetToken(ctx, tok.Token, "x")
	require.NoError(t, err)
	_, err = f.svc.CheckResetToken(ctx, tok.Token)
	assert.ErrorIs(t, err, ErrTokenUsed)
}

func TestResetTokenNaiveExpiryUsesDefaultZone(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "mara", "mara@example.com", "oldpass", false)
	ctx := context.Background()

	// 2024-01-01T00:00 stored without zone, default zone UTC-3.
	loc := time.FixedZone("UTC-3", -3*60*60)
	naive := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tok, err := f.store.CreatePasswordResetToken(ctx, model.PasswordResetToken{
		UserID:    a.ID(),
		CreatedAt: clock.Aware(naive, loc).Add(-24 * time.Hour),
		ExpiresAt: clock.Aware(naive, loc),
	})
	require.NoError(t, err)

	f.now = time.Date(2024, 1, 1, 2, 59, 59, 0, time.UTC)
	_, err = f.svc.CheckResetToken(ctx, tok.Token)
	assert.NoError(t, err)

	f.now = time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC)
	_, err = f.svc.CheckResetToken(ctx, tok.Token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestRequestPasswordResetErrors(t *testing.T) {
	f := newFixture(t)
	f.account(t, "nico", "nico@example.com", "oldpass", false)
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.RequestPasswordReset(ctx, "ghost@example.com", "http://x"), ErrNoAccount)
	assert.ErrorIs(t, f.svc.RequestPasswordReset(ctx, "", "http://x"), ErrNoAccount)
	assert.Empty(t, f.mail.Sent())

	f.mail.Err = errors.New("relay down")
	assert.ErrorIs(t, f.svc.RequestPasswordReset(ctx, "nico@example.com", "http://x"), ErrDispatch)
}

func TestConcurrentResetOnlyOneWins(t *testing.T) {
	f := newFixture(t)
	f.account(t, "olga", "olga@example.com", "oldpass", false)
	ctx := context.Background()
	require.NoError(t, f.svc.RequestPasswordReset(ctx, "olga@example.com", "http://x"))
	token := f.lastResetToken(t)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins []string
	)
	for _, pw := range []string{"first-pw", "second-pw", "third-pw", "fourth-pw"} {
		wg.Add(1)
		go func(pw string) {
			defer wg.Done()
			if err := f.svc.ResetPassword(ctx, token, pw, pw); err == nil {
				mu.Lock()
				wins = append(wins, pw)
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrTokenUsed)
			}
		}(pw)
	}
	wg.Wait()

	require.Len(t, wins, 1)
	_, err := f.svc.Authenticate(ctx, "olga", wins[0])
	assert.NoError(t, err)
}

func TestCreateAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.CreateAccount(ctx, NewAccount{
		Username: " pedro ", Email: "pedro@example.com", Password: "secret1",
		Role: model.RoleAnalista, EnableMFA: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "pedro", a.User.Username)
	assert.Equal(t, model.RoleAnalista, a.Profile.Role)
	assert.True(t, a.Profile.MFAEnabled())
	assert.True(t, a.User.IsActive)
	assert.NotEqual(t, "secret1", a.User.PasswordHash)

	_, err = f.svc.CreateAccount(ctx, NewAccount{Username: "PEDRO", Password: "secret1"})
	assert.ErrorIs(t, err, store.ErrConflict)

	_, err = f.svc.CreateAccount(ctx, NewAccount{Username: "q", Password: "12345"})
	assert.ErrorIs(t, err, ErrPasswordTooShort)

	_, err = f.svc.CreateAccount(ctx, NewAccount{Username: "q", Password: strings.Repeat("x", 73)})
	assert.ErrorIs(t, err, ErrPasswordTooLong)

	_, err = f.svc.CreateAccount(ctx, NewAccount{Username: "", Password: "secret1"})
	assert.ErrorIs(t, err, ErrUsernameRequired)

	_, err = f.svc.CreateAccount(ctx, NewAccount{Username: "r", Password: "secret1", Role: "ROOT"})
	assert.ErrorIs(t, err, ErrInvalidRole)

	plain, err := f.svc.CreateAccount(ctx, NewAccount{Username: "s", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, model.RoleCorredor, plain.Profile.Role)
	assert.False(t, plain.Profile.MFAEnabled())
}

func TestSetMFA(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "rosa", "rosa@example.com", "secret1", false)
	ctx := context.Background()

	acc, err := f.svc.SetMFA(ctx, a.ID(), true)
	require.NoError(t, err)
	assert.True(t, acc.Profile.MFAEnabled())
	secret := acc.Profile.MFASecret

	// Enabling twice keeps the secret.
	acc, err = f.svc.SetMFA(ctx, a.ID(), true)
	require.NoError(t, err)
	assert.Equal(t, secret, acc.Profile.MFASecret)

	res, err := f.svc.Login(ctx, &session.Session{}, "rosa", "secret1")
	require.NoError(t, err)
	assert.True(t, res.MFARequired)

	acc, err = f.svc.SetMFA(ctx, a.ID(), false)
	require.NoError(t, err)
	assert.False(t, acc.Profile.MFAEnabled())
	assert.Empty(t, acc.Profile.MFAEmailCode)

	_, err = f.svc.SetMFA(ctx, "missing", true)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCurrentAccount(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "tomas", "", "secret1", false)
	ctx := context.Background()

	_, err := f.svc.CurrentAccount(ctx, &session.Session{})
	assert.ErrorIs(t, err, store.ErrNotFound)

	sess := &session.Session{}
	_, err = f.svc.Login(ctx, sess, "tomas", "secret1")
	require.NoError(t, err)
	acc, err := f.svc.CurrentAccount(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, a.ID(), acc.ID())
}

func TestEmailBodiesEscapeNames(t *testing.T) {
	f := newFixture(t)
	acc := &model.Account{User: model.User{Username: "u", FirstName: "<b>x</b>", Email: "u@example.com"}}
	msg := f.svc.mfaCodeMessage(acc, "123456")
	assert.False(t, strings.Contains(msg.HTML, "<b>x</b>"))
	assert.True(t, strings.Contains(msg.Plain, "<b>x</b>"))
	assert.Contains(t, msg.Subject, "NUAM Capital")
}
