package memory

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nuam-capital/portal/internal/model"
	"nuam-capital/portal/internal/store"
)

func newAccount(t *testing.T, s *Store, username, email string) model.Account {
	t.Helper()
	a, err := s.CreateAccount(context.Background(), model.Account{
		User: model.User{Username: username, Email: email, PasswordHash: "hash", IsActive: true},
	})
	require.NoError(t, err)
	return a
}

func TestCreateAccount(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	// Test case 1: user and profile are created together with the default role
	a := newAccount(t, s, "ana", "ana@example.com")
	assert.NotEmpty(t, a.ID())
	assert.Equal(t, a.User.ID, a.Profile.UserID)
	assert.Equal(t, model.RoleCorredor, a.Profile.Role)
	assert.NotZero(t, a.User.CreatedAt)

	got, err := s.GetAccountByID(ctx, a.ID())
	assert.NoError(t, err)
	assert.Equal(t, "ana", got.User.Username)
	assert.Equal(t, model.RoleCorredor, got.Profile.Role)

	// Test case 2: duplicate username, case-insensitive
	_, err = s.CreateAccount(ctx, model.Account{User: model.User{Username: "ANA"}})
	assert.ErrorIs(t, err, store.ErrConflict)

	// Test case 3: duplicate email
	_, err = s.CreateAccount(ctx, model.Account{User: model.User{Username: "other", Email: "Ana@Example.com"}})
	assert.ErrorIs(t, err, store.ErrConflict)

	// Test case 4: missing username
	_, err = s.CreateAccount(ctx, model.Account{User: model.User{Email: "x@example.com"}})
	assert.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "username_required"))

	// Test case 5: explicit role survives
	admin, err := s.CreateAccount(ctx, model.Account{
		User:    model.User{Username: "root"},
		Profile: model.Profile{Role: model.RoleAdmin},
	})
	assert.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, admin.Profile.Role)

	// Test case 6: accounts without email do not collide with each other
	_, err = s.CreateAccount(ctx, model.Account{User: model.User{Username: "noemail"}})
	assert.NoError(t, err)
}

func TestGetAccountByUsernameAndEmail(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	a := newAccount(t, s, "bruno", "bruno@example.com")

	got, err := s.GetAccountByUsername(ctx, "Bruno")
	assert.NoError(t, err)
	assert.Equal(t, a.ID(), got.ID())

	got, err = s.GetAccountByEmail(ctx, "BRUNO@example.com")
	assert.NoError(t, err)
	assert.Equal(t, a.ID(), got.ID())

	_, err = s.GetAccountByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.GetAccountByEmail(ctx, "")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.GetAccountByID(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListAccountsSorted(t *testing.T) {
	s := NewStore()
	newAccount(t, s, "carla", "")
	newAccount(t, s, "Ana", "")
	newAccount(t, s, "bruno", "")

	list, err := s.ListAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "Ana", list[0].User.Username)
	assert.Equal(t, "bruno", list[1].User.Username)
	assert.Equal(t, "carla", list[2].User.Username)
}

func TestMFAEmailCodeCompareAndClear(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	a := newAccount(t, s, "dora", "dora@example.com")
	exp := time.Date(2025, 3, 1, 12, 10, 0, 0, time.UTC)

	require.NoError(t, s.SetMFAEmailCode(ctx, a.ID(), "123456", exp))

	got, err := s.GetAccountByID(ctx, a.ID())
	require.NoError(t, err)
	assert.Equal(t, "123456", got.Profile.MFAEmailCode)
	require.NotNil(t, got.Profile.MFAEmailCodeExpires)
	assert.True(t, exp.Equal(*got.Profile.MFAEmailCodeExpires))

	// A stale code cannot clear a newer one.
	assert.ErrorIs(t, s.ClearMFAEmailCode(ctx, a.ID(), "654321"), store.ErrConflict)
	assert.ErrorIs(t, s.ClearMFAEmailCode(ctx, a.ID(), ""), store.ErrConflict)

	assert.NoError(t, s.ClearMFAEmailCode(ctx, a.ID(), "123456"))
	got, err = s.GetAccountByID(ctx, a.ID())
	require.NoError(t, err)
	assert.Empty(t, got.Profile.MFAEmailCode)
	assert.Nil(t, got.Profile.MFAEmailCodeExpires)

	// Second clear of the same code loses.
	assert.ErrorIs(t, s.ClearMFAEmailCode(ctx, a.ID(), "123456"), store.ErrConflict)

	assert.ErrorIs(t, s.SetMFAEmailCode(ctx, "missing", "1", exp), store.ErrNotFound)
	assert.ErrorIs(t, s.ClearMFAEmailCode(ctx, "missing", "1"), store.ErrNotFound)
}

func TestAccountCopiesAreIsolated(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	a := newAccount(t, s, "eva", "")
	exp := time.Now().UTC().Add(time.Minute)
	require.NoError(t, s.SetMFAEmailCode(ctx, a.ID(), "111111", exp))

	got, err := s.GetAccountByID(ctx, a.ID())
	require.NoError(t, err)
	*got.Profile.MFAEmailCodeExpires = exp.Add(time.Hour)

	again, err := s.GetAccountByID(ctx, a.ID())
	require.NoError(t, err)
	assert.True(t, exp.Equal(*again.Profile.MFAEmailCodeExpires))
}

func TestSetMFASecret(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	a := newAccount(t, s, "fede", "")

	require.NoError(t, s.SetMFASecret(ctx, a.ID(), "JBSWY3DPEHPK3PXP"))
	got, _ := s.GetAccountByID(ctx, a.ID())
	assert.True(t, got.Profile.MFAEnabled())

	require.NoError(t, s.SetMFAEmailCode(ctx, a.ID(), "222222", time.Now().Add(time.Minute)))
	require.NoError(t, s.SetMFASecret(ctx, a.ID(), ""))
	got, _ = s.GetAccountByID(ctx, a.ID())
	assert.False(t, got.Profile.MFAEnabled())
	assert.Empty(t, got.Profile.MFAEmailCode)

	assert.ErrorIs(t, s.SetMFASecret(ctx, "missing", "x"), store.ErrNotFound)
}

func TestPasswordResetTokenLifecycle(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	a := newAccount(t, s, "gabi", "gabi@example.com")

	// Test case 1: defaults are filled in
	tok, err := s.CreatePasswordResetToken(ctx, model.PasswordResetToken{UserID: a.ID()})
	require.NoError(t, err)
	assert.NotEmpty(t, tok.ID)
	assert.NotEmpty(t, tok.Token)
	assert.False(t, tok.Used)
	assert.Equal(t, model.PasswordResetTokenTTL, tok.ExpiresAt.Sub(tok.CreatedAt))

	got, err := s.GetPasswordResetToken(ctx, tok.Token)
	require.NoError(t, err)
	assert.Equal(t, tok.ID, got.ID)

	// Test case 2: consume sets the password and marks the token used
	consumed, err := s.ConsumePasswordResetToken(ctx, tok.Token, "newhash")
	require.NoError(t, err)
	assert.True(t, consumed.Used)

	acc, _ := s.GetAccountByID(ctx, a.ID())
	assert.Equal(t, "newhash", acc.User.PasswordHash)

	// Test case 3: a used token cannot be consumed again
	_, err = s.ConsumePasswordResetToken(ctx, tok.Token, "other")
	assert.ErrorIs(t, err, store.ErrConflict)
	acc, _ = s.GetAccountByID(ctx, a.ID())
	assert.Equal(t, "newhash", acc.User.PasswordHash)

	// Test case 4: unknown token and unknown user
	_, err = s.ConsumePasswordResetToken(ctx, "nope", "x")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.CreatePasswordResetToken(ctx, model.PasswordResetToken{UserID: "missing"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Test case 5: duplicate token value
	_, err = s.CreatePasswordResetToken(ctx, model.PasswordResetToken{UserID: a.ID(), Token: tok.Token})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestConsumePasswordResetTokenOnlyOnce(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	a := newAccount(t, s, "hugo", "")
	tok, err := s.CreatePasswordResetToken(ctx, model.PasswordResetToken{UserID: a.ID()})
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ConsumePasswordResetToken(ctx, tok.Token, "h"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestPurgePasswordResetTokens(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	a := newAccount(t, s, "ines", "")
	now := time.Now().UTC()

	expired, err := s.CreatePasswordResetToken(ctx, model.PasswordResetToken{
		UserID:    a.ID(),
		CreatedAt: now.Add(-72 * time.Hour),
	})
	require.NoError(t, err)
	used, err := s.CreatePasswordResetToken(ctx, model.PasswordResetToken{
		UserID:    a.ID(),
		CreatedAt: now.Add(-2 * time.Hour),
	})
	require.NoError(t, err)
	_, err = s.ConsumePasswordResetToken(ctx, used.Token, "h")
	require.NoError(t, err)
	live, err := s.CreatePasswordResetToken(ctx, model.PasswordResetToken{UserID: a.ID()})
	require.NoError(t, err)

	n, err := s.PurgePasswordResetTokens(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = s.GetPasswordResetToken(ctx, expired.Token)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetPasswordResetToken(ctx, used.Token)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetPasswordResetToken(ctx, live.Token)
	assert.NoError(t, err)
}

func TestEmpresas(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	a := newAccount(t, s, "juan", "")

	// Test case 1: valid empresa
	e, err := s.CreateEmpresa(ctx, model.Empresa{Rut: " 76.123.456-7 ", Nombre: "Zeta SpA", UsuarioID: a.ID()})
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "76.123.456-7", e.Rut)

	// Test case 2: duplicate rut
	_, err = s.CreateEmpresa(ctx, model.Empresa{Rut: "76.123.456-7", Nombre: "Otra"})
	assert.ErrorIs(t, err, store.ErrConflict)

	// Test case 3: missing fields
	_, err = s.CreateEmpresa(ctx, model.Empresa{Nombre: "Sin rut"})
	assert.True(t, strings.Contains(err.Error(), "rut_required"))
	_, err = s.CreateEmpresa(ctx, model.Empresa{Rut: "1-9"})
	assert.True(t, strings.Contains(err.Error(), "nombre_required"))

	// Test case 4: unknown owner
	_, err = s.CreateEmpresa(ctx, model.Empresa{Rut: "2-7", Nombre: "X", UsuarioID: "missing"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.CreateEmpresa(ctx, model.Empresa{Rut: "3-5", Nombre: "Alfa Ltda"})
	require.NoError(t, err)

	all, err := s.ListEmpresas(ctx, store.EmpresaFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Alfa Ltda", all[0].Nombre)

	mine, err := s.ListEmpresas(ctx, store.EmpresaFilter{UsuarioID: a.ID()})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, e.ID, mine[0].ID)

	got, err := s.GetEmpresa(ctx, e.ID)
	assert.NoError(t, err)
	assert.Equal(t, "Zeta SpA", got.Nombre)
	_, err = s.GetEmpresa(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCalificacionesAndFactores(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	e, err := s.CreateEmpresa(ctx, model.Empresa{Rut: "1-9", Nombre: "Empresa"})
	require.NoError(t, err)

	c1, err := s.CreateCalificacion(ctx, model.Calificacion{
		EmpresaID: e.ID, Ejercicio: 2024, Mercado: "Acciones", Instrumento: "CHILE", Origen: model.OrigenCorredor,
	})
	require.NoError(t, err)
	_, err = s.CreateCalificacion(ctx, model.Calificacion{
		EmpresaID: e.ID, Ejercicio: 2023, Mercado: "Renta Fija", Instrumento: "BONO", Origen: model.OrigenSistema,
	})
	require.NoError(t, err)

	_, err = s.CreateCalificacion(ctx, model.Calificacion{EmpresaID: "missing"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Filters
	list, err := s.ListCalificaciones(ctx, store.CalificacionFilter{Ejercicio: 2024})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, c1.ID, list[0].ID)

	list, err = s.ListCalificaciones(ctx, store.CalificacionFilter{Mercado: "renta"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "BONO", list[0].Instrumento)

	list, err = s.ListCalificaciones(ctx, store.CalificacionFilter{Instrumento: "chi"})
	require.NoError(t, err)
	require.Len(t, list, 1)

	list, err = s.ListCalificaciones(ctx, store.CalificacionFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	// Update keeps creation metadata
	c1.Mercado = "Acciones Nacionales"
	updated, err := s.UpdateCalificacion(ctx, c1)
	require.NoError(t, err)
	assert.Equal(t, "Acciones Nacionales", updated.Mercado)
	assert.Equal(t, c1.CreatedAt, updated.CreatedAt)

	_, err = s.UpdateCalificacion(ctx, model.Calificacion{ID: "missing", EmpresaID: e.ID})
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Factores
	_, err = s.GetFactores(ctx, c1.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	var f model.Factores
	f.CalificacionID = c1.ID
	f.Set(8, decimal.RequireFromString("0.25"))
	saved, err := s.SaveFactores(ctx, f)
	require.NoError(t, err)
	assert.NotZero(t, saved.UpdatedAt)

	got, err := s.GetFactores(ctx, c1.ID)
	require.NoError(t, err)
	v, ok := got.Get(8)
	assert.True(t, ok)
	assert.True(t, v.Equal(decimal.RequireFromString("0.25")))

	_, err = s.SaveFactores(ctx, model.Factores{CalificacionID: "missing"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Delete cascades to factores
	require.NoError(t, s.DeleteCalificacion(ctx, c1.ID))
	_, err = s.GetCalificacion(ctx, c1.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetFactores(ctx, c1.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.DeleteCalificacion(ctx, c1.ID), store.ErrNotFound)
}

func TestArchivosCarga(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	e, err := s.CreateEmpresa(ctx, model.Empresa{Rut: "1-9", Nombre: "Empresa"})
	require.NoError(t, err)

	a, err := s.CreateArchivoCarga(ctx, model.ArchivoCarga{
		EmpresaID: e.ID, NombreArchivo: "montos.csv", TipoCarga: model.TipoCargaMontos,
	})
	require.NoError(t, err)
	assert.Equal(t, model.EstadoPendiente, a.Estado)
	assert.NotZero(t, a.FechaCarga)

	_, err = s.CreateArchivoCarga(ctx, model.ArchivoCarga{EmpresaID: e.ID})
	assert.True(t, strings.Contains(err.Error(), "nombre_archivo_required"))

	_, err = s.CreateArchivoCarga(ctx, model.ArchivoCarga{EmpresaID: "missing", NombreArchivo: "x.csv"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	list, err := s.ListArchivosCarga(ctx, store.CargaFilter{EmpresaID: e.ID})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "montos.csv", list[0].NombreArchivo)

	list, err = s.ListArchivosCarga(ctx, store.CargaFilter{EmpresaID: "other"})
	require.NoError(t, err)
	assert.Empty(t, list)
}
