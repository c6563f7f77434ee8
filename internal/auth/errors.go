package auth

import "errors"

var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrDispatch           = errors.New("auth: email dispatch failed")

	ErrNoPendingAuth   = errors.New("auth: no pending authentication")
	ErrPendingUserGone = errors.New("auth: pending user not found")
	ErrMissingCode     = errors.New("auth: code required")
	ErrInvalidCode     = errors.New("auth: incorrect or expired code")

	ErrNoAccount    = errors.New("auth: no account for email")
	ErrTokenInvalid = errors.New("auth: reset link invalid")
	ErrTokenUsed    = errors.New("auth: reset link already used")
	ErrTokenExpired = errors.New("auth: reset link expired")

	ErrPasswordMismatch = errors.New("auth: passwords do not match")
	ErrPasswordTooShort = errors.New("auth: password too short")
	ErrPasswordTooLong  = errors.New("auth: password too long")
	ErrUsernameRequired = errors.New("auth: username required")
	ErrInvalidRole      = errors.New("auth: invalid role")
)
