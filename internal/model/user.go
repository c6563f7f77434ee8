package model

import "time"

type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleCorredor Role = "CORREDOR"
	RoleAnalista Role = "ANALISTA"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleCorredor, RoleAnalista:
		return true
	}
	return false
}

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FirstName    string    `json:"first_name,omitempty"`
	LastName     string    `json:"last_name,omitempty"`
	IsActive     bool      `json:"is_active"`
	IsStaff      bool      `json:"is_staff"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Profile extends a User one-to-one. A non-empty MFASecret means MFA is enabled.
type Profile struct {
	UserID              string     `json:"user_id"`
	Role                Role       `json:"role"`
	EmpresaID           string     `json:"empresa_id,omitempty"`
	MFASecret           string     `json:"-"`
	MFAEmailCode        string     `json:"-"`
	MFAEmailCodeExpires *time.Time `json:"-"`
}

func (p Profile) MFAEnabled() bool {
	return p.MFASecret != ""
}

// Account is the aggregate of a User and its Profile. Every stored User has exactly one Profile.
type Account struct {
	User    User    `json:"user"`
	Profile Profile `json:"profile"`
}

func (a Account) ID() string { return a.User.ID }

func (a Account) IsAdmin() bool {
	return a.Profile.Role == RoleAdmin || a.User.IsStaff
}

const PasswordResetTokenTTL = 24 * time.Hour

type PasswordResetToken struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Token     string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Used      bool      `json:"used"`
}

// IsValid reports whether the token can still be consumed at now.
func (t PasswordResetToken) IsValid(now time.Time) bool {
	return !t.Used && now.Before(t.ExpiresAt)
}

func (t PasswordResetToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
