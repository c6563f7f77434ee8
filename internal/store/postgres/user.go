package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"nuam-capital/portal/internal/model"
	"nuam-capital/portal/internal/store"
)

const accountColumns = `
	u.id::text, u.username, u.email, u.password_hash, u.first_name, u.last_name,
	u.is_active, u.is_staff, u.created_at, u.updated_at,
	p.role, coalesce(p.empresa_id::text, ''), p.mfa_secret, p.mfa_email_code, p.mfa_email_code_expires
`

func (s *Store) scanAccount(row pgx.Row) (*model.Account, error) {
	var (
		a       model.Account
		role    string
		expires pgtype.Timestamp
	)
	err := row.Scan(
		&a.User.ID,
		&a.User.Username,
		&a.User.Email,
		&a.User.PasswordHash,
		&a.User.FirstName,
		&a.User.LastName,
		&a.User.IsActive,
		&a.User.IsStaff,
		&a.User.CreatedAt,
		&a.User.UpdatedAt,
		&role,
		&a.Profile.EmpresaID,
		&a.Profile.MFASecret,
		&a.Profile.MFAEmailCode,
		&expires,
	)
	if err != nil {
		return nil, err
	}
	a.Profile.UserID = a.User.ID
	a.Profile.Role = model.Role(role)
	a.Profile.MFAEmailCodeExpires = s.awarePtr(expires)
	return &a, nil
}

// CreateAccount inserts the user row and its profile in one transaction.
func (s *Store) CreateAccount(ctx context.Context, a model.Account) (model.Account, error) {
	username := strings.TrimSpace(a.User.Username)
	if username == "" {
		return model.Account{}, errWithCode("username_required")
	}
	role := a.Profile.Role
	if role == "" {
		role = model.RoleCorredor
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.Account{}, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var u model.User
	err = tx.QueryRow(ctx, `
		insert into public.users (username, email, password_hash, first_name, last_name, is_active, is_staff)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning id::text, username, email, password_hash, first_name, last_name, is_active, is_staff, created_at, updated_at
	`, username, strings.TrimSpace(a.User.Email), a.User.PasswordHash, a.User.FirstName, a.User.LastName,
		a.User.IsActive, a.User.IsStaff).Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&u.FirstName,
		&u.LastName,
		&u.IsActive,
		&u.IsStaff,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return model.Account{}, mapPgErr(err)
	}

	_, err = tx.Exec(ctx, `
		insert into public.profiles (user_id, role, empresa_id, mfa_secret)
		values ($1::uuid, $2, nullif($3, '')::uuid, $4)
	`, u.ID, string(role), a.Profile.EmpresaID, a.Profile.MFASecret)
	if err != nil {
		return model.Account{}, mapPgErr(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Account{}, mapPgErr(err)
	}

	return model.Account{
		User: u,
		Profile: model.Profile{
			UserID:    u.ID,
			Role:      role,
			EmpresaID: a.Profile.EmpresaID,
			MFASecret: a.Profile.MFASecret,
		},
	}, nil
}

func (s *Store) GetAccountByID(ctx context.Context, id string) (*model.Account, error) {
	a, err := s.scanAccount(s.pool.QueryRow(ctx, `
		select `+accountColumns+`
		from public.users u
		join public.profiles p on p.user_id = u.id
		where u.id = $1::uuid
	`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

func (s *Store) GetAccountByUsername(ctx context.Context, username string) (*model.Account, error) {
	a, err := s.scanAccount(s.pool.QueryRow(ctx, `
		select `+accountColumns+`
		from public.users u
		join public.profiles p on p.user_id = u.id
		where lower(u.username) = lower($1)
	`, username))
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, store.ErrNotFound
	}
	a, err := s.scanAccount(s.pool.QueryRow(ctx, `
		select `+accountColumns+`
		from public.users u
		join public.profiles p on p.user_id = u.id
		where lower(u.email) = lower($1)
		limit 1
	`, email))
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.pool.Query(ctx, `
		select `+accountColumns+`
		from public.users u
		join public.profiles p on p.user_id = u.id
		order by lower(u.username) asc
	`)
	if err != nil {
		return nil, mapPgErr(err)
	}
	defer rows.Close()

	out := make([]model.Account, 0)
	for rows.Next() {
		a, err := s.scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *Store) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	tag, err := s.pool.Exec(ctx, `
		update public.users set password_hash = $2 where id = $1::uuid
	`, userID, passwordHash)
	if err != nil {
		return mapPgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SetMFASecret(ctx context.Context, userID, secret string) error {
	tag, err := s.pool.Exec(ctx, `
		update public.profiles
		set mfa_secret = $2,
		    mfa_email_code = case when $2 = '' then '' else mfa_email_code end,
		    mfa_email_code_expires = case when $2 = '' then null else mfa_email_code_expires end
		where user_id = $1::uuid
	`, userID, secret)
	if err != nil {
		return mapPgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SetMFAEmailCode(ctx context.Context, userID, code string, expiresAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		update public.profiles
		set mfa_email_code = $2, mfa_email_code_expires = $3
		where user_id = $1::uuid
	`, userID, code, s.naive(expiresAt))
	if err != nil {
		return mapPgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ClearMFAEmailCode(ctx context.Context, userID, code string) error {
	if code == "" {
		return store.ErrConflict
	}
	tag, err := s.pool.Exec(ctx, `
		update public.profiles
		set mfa_email_code = '', mfa_email_code_expires = null
		where user_id = $1::uuid and mfa_email_code = $2
	`, userID, code)
	if err != nil {
		return mapPgErr(err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetAccountByID(ctx, userID); err != nil {
			return err
		}
		return store.ErrConflict
	}
	return nil
}
