package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nuam-capital/portal/internal/model"
	"nuam-capital/portal/internal/store"
)

// setupTestDB creates a new PostgreSQL store for testing.
// It skips tests if DATABASE_URL is not set.
// The public schema is dropped and rebuilt from the embedded migrations.
func setupTestDB(t *testing.T, loc *time.Location) (*Store, func()) {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		t.Skip("DATABASE_URL not set, skipping PostgreSQL tests")
	}

	pool, err := pgxpool.New(context.Background(), databaseURL)
	require.NoError(t, err)
	_, err = pool.Exec(context.Background(), `
		DROP SCHEMA public CASCADE;
		CREATE SCHEMA public;
	`)
	require.NoError(t, err)
	pool.Close()

	s, err := NewStore(databaseURL, loc)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))

	return s, s.Close
}

func createAccount(t *testing.T, s *Store, username, email string) model.Account {
	t.Helper()
	a, err := s.CreateAccount(context.Background(), model.Account{
		User: model.User{Username: username, Email: email, PasswordHash: "hash", IsActive: true},
	})
	require.NoError(t, err)
	return a
}

func TestPostgresAccounts(t *testing.T) {
	s, teardown := setupTestDB(t, time.UTC)
	defer teardown()
	ctx := context.Background()

	a := createAccount(t, s, "ana", "ana@example.com")
	assert.NotEmpty(t, a.ID())
	assert.Equal(t, model.RoleCorredor, a.Profile.Role)

	_, err := s.CreateAccount(ctx, model.Account{User: model.User{Username: "ANA", PasswordHash: "x"}})
	assert.ErrorIs(t, err, store.ErrConflict)

	_, err = s.CreateAccount(ctx, model.Account{User: model.User{Username: "other", Email: "ANA@example.com", PasswordHash: "x"}})
	assert.ErrorIs(t, err, store.ErrConflict)

	got, err := s.GetAccountByUsername(ctx, "Ana")
	require.NoError(t, err)
	assert.Equal(t, a.ID(), got.ID())
	assert.Equal(t, model.RoleCorredor, got.Profile.Role)

	got, err = s.GetAccountByEmail(ctx, "ana@EXAMPLE.com")
	require.NoError(t, err)
	assert.Equal(t, a.ID(), got.ID())

	_, err = s.GetAccountByID(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetAccountByID(ctx, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.UpdatePassword(ctx, a.ID(), "newhash"))
	got, _ = s.GetAccountByID(ctx, a.ID())
	assert.Equal(t, "newhash", got.User.PasswordHash)

	require.NoError(t, s.SetMFASecret(ctx, a.ID(), "JBSWY3DPEHPK3PXP"))
	got, _ = s.GetAccountByID(ctx, a.ID())
	assert.True(t, got.Profile.MFAEnabled())

	list, err := s.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestPostgresMFAEmailCodeRoundTripsNaiveExpiry(t *testing.T) {
	loc := time.FixedZone("UTC-3", -3*60*60)
	s, teardown := setupTestDB(t, loc)
	defer teardown()
	ctx := context.Background()

	a := createAccount(t, s, "bruno", "")
	exp := time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetMFAEmailCode(ctx, a.ID(), "123456", exp))

	// The column stores the wall clock in the configured zone.
	var stored time.Time
	require.NoError(t, s.pool.QueryRow(ctx, `
		select mfa_email_code_expires from public.profiles where user_id = $1::uuid
	`, a.ID()).Scan(&stored))
	assert.Equal(t, 0, stored.Hour())

	got, err := s.GetAccountByID(ctx, a.ID())
	require.NoError(t, err)
	require.NotNil(t, got.Profile.MFAEmailCodeExpires)
	assert.True(t, exp.Equal(*got.Profile.MFAEmailCodeExpires))

	assert.ErrorIs(t, s.ClearMFAEmailCode(ctx, a.ID(), "000000"), store.ErrConflict)
	require.NoError(t, s.ClearMFAEmailCode(ctx, a.ID(), "123456"))
	assert.ErrorIs(t, s.ClearMFAEmailCode(ctx, a.ID(), "123456"), store.ErrConflict)

	got, _ = s.GetAccountByID(ctx, a.ID())
	assert.Empty(t, got.Profile.MFAEmailCode)
	assert.Nil(t, got.Profile.MFAEmailCodeExpires)
}

func TestPostgresPasswordResetTokens(t *testing.T) {
	s, teardown := setupTestDB(t, time.UTC)
	defer teardown()
	ctx := context.Background()

	a := createAccount(t, s, "carla", "carla@example.com")
	tok, err := s.CreatePasswordResetToken(ctx, model.PasswordResetToken{UserID: a.ID()})
	require.NoError(t, err)
	assert.NotEmpty(t, tok.Token)
	assert.Equal(t, model.PasswordResetTokenTTL, tok.ExpiresAt.Sub(tok.CreatedAt))

	got, err := s.GetPasswordResetToken(ctx, tok.Token)
	require.NoError(t, err)
	assert.False(t, got.Used)

	consumed, err := s.ConsumePasswordResetToken(ctx, tok.Token, "reset-hash")
	require.NoError(t, err)
	assert.True(t, consumed.Used)

	acc, _ := s.GetAccountByID(ctx, a.ID())
	assert.Equal(t, "reset-hash", acc.User.PasswordHash)

	_, err = s.ConsumePasswordResetToken(ctx, tok.Token, "again")
	assert.ErrorIs(t, err, store.ErrConflict)
	_, err = s.ConsumePasswordResetToken(ctx, "missing", "again")
	assert.ErrorIs(t, err, store.ErrNotFound)

	old, err := s.CreatePasswordResetToken(ctx, model.PasswordResetToken{
		UserID:    a.ID(),
		CreatedAt: time.Now().UTC().Add(-72 * time.Hour),
	})
	require.NoError(t, err)
	n, err := s.PurgePasswordResetTokens(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = s.GetPasswordResetToken(ctx, old.Token)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPostgresTaxRecords(t *testing.T) {
	s, teardown := setupTestDB(t, time.UTC)
	defer teardown()
	ctx := context.Background()

	e, err := s.CreateEmpresa(ctx, model.Empresa{Rut: "76.000.000-1", Nombre: "Empresa"})
	require.NoError(t, err)
	_, err = s.CreateEmpresa(ctx, model.Empresa{Rut: "76.000.000-1", Nombre: "Dup"})
	assert.ErrorIs(t, err, store.ErrConflict)

	vh := decimal.RequireFromString("1234.5")
	c, err := s.CreateCalificacion(ctx, model.Calificacion{
		EmpresaID:      e.ID,
		Ejercicio:      2024,
		Mercado:        "Acciones",
		Instrumento:    "CHILE",
		FechaPago:      time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC),
		Origen:         model.OrigenCorredor,
		ValorHistorico: &vh,
	})
	require.NoError(t, err)
	require.NotNil(t, c.ValorHistorico)
	assert.True(t, vh.Equal(*c.ValorHistorico))

	list, err := s.ListCalificaciones(ctx, store.CalificacionFilter{Mercado: "acc", Ejercicio: 2024})
	require.NoError(t, err)
	require.Len(t, list, 1)

	list, err = s.ListCalificaciones(ctx, store.CalificacionFilter{Instrumento: "bono"})
	require.NoError(t, err)
	assert.Empty(t, list)

	var f model.Factores
	f.CalificacionID = c.ID
	f.Set(8, decimal.RequireFromString("0.12345678"))
	f.Set(37, decimal.RequireFromString("1"))
	_, err = s.SaveFactores(ctx, f)
	require.NoError(t, err)

	got, err := s.GetFactores(ctx, c.ID)
	require.NoError(t, err)
	v, ok := got.Get(8)
	assert.True(t, ok)
	assert.Equal(t, "0.12345678", v.StringFixed(8))
	_, ok = got.Get(9)
	assert.False(t, ok)

	carga, err := s.CreateArchivoCarga(ctx, model.ArchivoCarga{
		EmpresaID: e.ID, NombreArchivo: "factores.csv", TipoCarga: model.TipoCargaFactores,
	})
	require.NoError(t, err)
	assert.Equal(t, model.EstadoPendiente, carga.Estado)

	require.NoError(t, s.DeleteCalificacion(ctx, c.ID))
	_, err = s.GetFactores(ctx, c.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
