package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"nuam-capital/portal/internal/model"
	"nuam-capital/portal/internal/store"
)

func (s *Store) scanResetToken(row pgx.Row) (*model.PasswordResetToken, error) {
	var (
		t                  model.PasswordResetToken
		created, expiresAt pgtype.Timestamp
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.Token, &created, &expiresAt, &t.Used); err != nil {
		return nil, err
	}
	t.CreatedAt = s.aware(created)
	t.ExpiresAt = s.aware(expiresAt)
	return &t, nil
}

func (s *Store) CreatePasswordResetToken(ctx context.Context, t model.PasswordResetToken) (model.PasswordResetToken, error) {
	t, err := store.PrepareResetToken(t, time.Now().UTC())
	if err != nil {
		return model.PasswordResetToken{}, err
	}

	out, err := s.scanResetToken(s.pool.QueryRow(ctx, `
		insert into public.password_reset_tokens (user_id, token, created_at, expires_at)
		values ($1::uuid, $2, $3, $4)
		returning id::text, user_id::text, token, created_at, expires_at, used
	`, t.UserID, t.Token, s.naive(t.CreatedAt), s.naive(t.ExpiresAt)))
	if err != nil {
		return model.PasswordResetToken{}, mapPgErr(err)
	}
	return *out, nil
}

func (s *Store) GetPasswordResetToken(ctx context.Context, token string) (*model.PasswordResetToken, error) {
	t, err := s.scanResetToken(s.pool.QueryRow(ctx, `
		select id::text, user_id::text, token, created_at, expires_at, used
		from public.password_reset_tokens
		where token = $1
	`, token))
	if err != nil {
		return nil, notFound(err)
	}
	return t, nil
}

// ConsumePasswordResetToken flips used with a conditional update so only one
// caller can win, then writes the password in the same transaction.
func (s *Store) ConsumePasswordResetToken(ctx context.Context, token, passwordHash string) (*model.PasswordResetToken, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	t, err := s.scanResetToken(tx.QueryRow(ctx, `
		update public.password_reset_tokens
		set used = true
		where token = $1 and used = false
		returning id::text, user_id::text, token, created_at, expires_at, used
	`, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if qerr := tx.QueryRow(ctx, `
				select exists(select 1 from public.password_reset_tokens where token = $1)
			`, token).Scan(&exists); qerr != nil {
				return nil, mapPgErr(qerr)
			}
			if exists {
				return nil, store.ErrConflict
			}
			return nil, store.ErrNotFound
		}
		return nil, mapPgErr(err)
	}

	tag, err := tx.Exec(ctx, `
		update public.users set password_hash = $2 where id = $1::uuid
	`, t.UserID, passwordHash)
	if err != nil {
		return nil, mapPgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return nil, store.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapPgErr(err)
	}
	return t, nil
}

func (s *Store) PurgePasswordResetTokens(ctx context.Context, before time.Time) (int, error) {
	cutoff := s.naive(before)
	tag, err := s.pool.Exec(ctx, `
		delete from public.password_reset_tokens
		where (used and created_at < $1) or expires_at < $1
	`, cutoff)
	if err != nil {
		return 0, mapPgErr(err)
	}
	return int(tag.RowsAffected()), nil
}
