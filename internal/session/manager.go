package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultCookieName = "nuam_session"

	KeyUserID        = "user_id"
	KeyPendingUserID = "pending_user_id"
	KeyMFAType       = "mfa_type"
)

// Session is the per-request view of one stored session.
type Session struct {
	ID   string
	data Data
}

func (s *Session) Get(key string) string {
	return s.data.Values[key]
}

func (s *Session) Set(key, value string) {
	if s.data.Values == nil {
		s.data.Values = map[string]string{}
	}
	s.data.Values[key] = value
}

func (s *Session) Delete(keys ...string) {
	for _, k := range keys {
		delete(s.data.Values, k)
	}
}

// Clear drops all values but keeps queued flashes.
func (s *Session) Clear() {
	s.data.Values = map[string]string{}
}

func (s *Session) AddFlash(level, message string) {
	s.data.Flashes = append(s.data.Flashes, Flash{Level: level, Message: message})
}

// Flashes returns and removes the queued flash messages.
func (s *Session) Flashes() []Flash {
	out := s.data.Flashes
	s.data.Flashes = nil
	return out
}

type Options struct {
	CookieName string
	TTL        time.Duration
	Secure     bool
}

// Manager binds stored sessions to a signed cookie. The cookie holds an HS256
// token whose jti is the session id; session values never leave the Store.
type Manager struct {
	store Store
	key   []byte
	opts  Options
	now   func() time.Time
}

// NewManager builds a Manager. An empty secret gets a random key, which
// invalidates all cookies on restart.
func NewManager(st Store, secret string, opts Options) *Manager {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			panic("failed to generate session key: " + err.Error())
		}
	}
	if opts.CookieName == "" {
		opts.CookieName = DefaultCookieName
	}
	if opts.TTL <= 0 {
		opts.TTL = 12 * time.Hour
	}
	return &Manager{store: st, key: key, opts: opts, now: time.Now}
}

func newSessionID() (string, error) {
	var b [24]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

func (m *Manager) sign(id string) (string, error) {
	now := m.now()
	claims := jwt.RegisteredClaims{
		ID:        id,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.opts.TTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
}

func (m *Manager) parse(tokenStr string) (string, error) {
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		return m.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.now))
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.ID == "" {
		return "", jwt.ErrTokenInvalidClaims
	}
	return claims.ID, nil
}

// Load returns the session bound to the request cookie, or a fresh empty one
// when the cookie is missing, tampered with, or points at an expired entry.
func (m *Manager) Load(r *http.Request) (*Session, error) {
	if c, err := r.Cookie(m.opts.CookieName); err == nil && c.Value != "" {
		if id, err := m.parse(c.Value); err == nil {
			d, err := m.store.Get(r.Context(), id)
			switch {
			case err == nil:
				if d.Values == nil {
					d.Values = map[string]string{}
				}
				return &Session{ID: id, data: d}, nil
			case !errors.Is(err, ErrNotFound):
				return nil, err
			}
		}
	}

	id, err := newSessionID()
	if err != nil {
		return nil, err
	}
	return &Session{ID: id, data: Data{Values: map[string]string{}}}, nil
}

// Save persists s and refreshes the cookie.
func (m *Manager) Save(ctx context.Context, w http.ResponseWriter, s *Session) error {
	if err := m.store.Save(ctx, s.ID, s.data, m.opts.TTL); err != nil {
		return err
	}
	token, err := m.sign(s.ID)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.opts.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.opts.TTL / time.Second),
		HttpOnly: true,
		Secure:   m.opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Rotate moves s to a new id and drops the old entry. Call it whenever the
// privilege level of the session changes.
func (m *Manager) Rotate(ctx context.Context, s *Session) error {
	id, err := newSessionID()
	if err != nil {
		return err
	}
	if err := m.store.Delete(ctx, s.ID); err != nil {
		return err
	}
	s.ID = id
	return nil
}

// Destroy deletes the stored session and expires the cookie.
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, s *Session) error {
	err := m.store.Delete(ctx, s.ID)
	http.SetCookie(w, &http.Cookie{
		Name:     m.opts.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return err
}
