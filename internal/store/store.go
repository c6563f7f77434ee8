package store

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"nuam-capital/portal/internal/model"
)

var (
	ErrNotFound = errors.New("not_found")
	ErrConflict = errors.New("conflict")
)

type EmpresaFilter struct {
	UsuarioID string
}

type CalificacionFilter struct {
	UsuarioID   string
	EmpresaID   string
	Ejercicio   int
	Mercado     string
	Instrumento string
	Limit       int
}

type CargaFilter struct {
	UsuarioID string
	EmpresaID string
	Limit     int
}

type Store interface {
	// CreateAccount stores the user and its profile together.
	CreateAccount(ctx context.Context, a model.Account) (model.Account, error)
	GetAccountByID(ctx context.Context, id string) (*model.Account, error)
	GetAccountByUsername(ctx context.Context, username string) (*model.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*model.Account, error)
	ListAccounts(ctx context.Context) ([]model.Account, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	SetMFASecret(ctx context.Context, userID, secret string) error
	SetMFAEmailCode(ctx context.Context, userID, code string, expiresAt time.Time) error
	// ClearMFAEmailCode removes the pending code only while it still equals code;
	// otherwise it returns ErrConflict.
	ClearMFAEmailCode(ctx context.Context, userID, code string) error

	// CreatePasswordResetToken fills Token and ExpiresAt when they are empty.
	CreatePasswordResetToken(ctx context.Context, t model.PasswordResetToken) (model.PasswordResetToken, error)
	GetPasswordResetToken(ctx context.Context, token string) (*model.PasswordResetToken, error)
	// ConsumePasswordResetToken marks an unused token as used and sets the owner's
	// password hash in one step. A token that is already used yields ErrConflict.
	ConsumePasswordResetToken(ctx context.Context, token, passwordHash string) (*model.PasswordResetToken, error)
	PurgePasswordResetTokens(ctx context.Context, before time.Time) (int, error)

	CreateEmpresa(ctx context.Context, e model.Empresa) (model.Empresa, error)
	GetEmpresa(ctx context.Context, id string) (*model.Empresa, error)
	ListEmpresas(ctx context.Context, f EmpresaFilter) ([]model.Empresa, error)

	CreateCalificacion(ctx context.Context, c model.Calificacion) (model.Calificacion, error)
	GetCalificacion(ctx context.Context, id string) (*model.Calificacion, error)
	ListCalificaciones(ctx context.Context, f CalificacionFilter) ([]model.Calificacion, error)
	UpdateCalificacion(ctx context.Context, c model.Calificacion) (model.Calificacion, error)
	DeleteCalificacion(ctx context.Context, id string) error

	GetFactores(ctx context.Context, calificacionID string) (*model.Factores, error)
	SaveFactores(ctx context.Context, f model.Factores) (model.Factores, error)

	CreateArchivoCarga(ctx context.Context, a model.ArchivoCarga) (model.ArchivoCarga, error)
	ListArchivosCarga(ctx context.Context, f CargaFilter) ([]model.ArchivoCarga, error)
}

// NewResetToken returns a random URL-safe token for password reset links.
func NewResetToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// PrepareResetToken applies the storage defaults to t.
func PrepareResetToken(t model.PasswordResetToken, now time.Time) (model.PasswordResetToken, error) {
	if t.Token == "" {
		tok, err := NewResetToken()
		if err != nil {
			return t, err
		}
		t.Token = tok
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.ExpiresAt.IsZero() {
		t.ExpiresAt = t.CreatedAt.Add(model.PasswordResetTokenTTL)
	}
	return t, nil
}
