package httpapi

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"nuam-capital/portal/internal/auth"
	"nuam-capital/portal/internal/model"
	"nuam-capital/portal/internal/store"
)

type accountResponse struct {
	model.Account
	MFAEnabled bool `json:"mfa_enabled"`
}

func newAccountResponse(a model.Account) accountResponse {
	return accountResponse{Account: a, MFAEnabled: a.Profile.MFAEnabled()}
}

type userRequest struct {
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	Password  string     `json:"password"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	Role      model.Role `json:"role"`
	EmpresaID string     `json:"empresa_id"`
	IsStaff   bool       `json:"is_staff"`
	EnableMFA bool       `json:"enable_mfa"`
}

func requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if !principalFromContext(r.Context()).admin() {
		writeError(w, http.StatusForbidden, "forbidden", "admin role required")
		return false
	}
	return true
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}

	switch r.Method {
	case http.MethodGet:
		accounts, err := s.store.ListAccounts(r.Context())
		if err != nil {
			s.writeStoreError(w, err, "users")
			return
		}
		out := make([]accountResponse, len(accounts))
		for i, a := range accounts {
			out[i] = newAccountResponse(a)
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": out})

	case http.MethodPost:
		var req userRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		created, err := s.auth.CreateAccount(r.Context(), auth.NewAccount{
			Username:  req.Username,
			Email:     req.Email,
			Password:  req.Password,
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Role:      req.Role,
			EmpresaID: req.EmpresaID,
			IsStaff:   req.IsStaff,
			EnableMFA: req.EnableMFA,
		})
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrUsernameRequired):
				writeError(w, http.StatusBadRequest, "invalid_username", "username is required")
			case errors.Is(err, auth.ErrPasswordTooShort):
				writeError(w, http.StatusBadRequest, "invalid_password", "password must be at least 6 characters")
			case errors.Is(err, auth.ErrPasswordTooLong):
				writeError(w, http.StatusBadRequest, "invalid_password", "password must be at most 72 bytes")
			case errors.Is(err, auth.ErrInvalidRole):
				writeError(w, http.StatusBadRequest, "invalid_role", "role must be ADMIN, CORREDOR or ANALISTA")
			case errors.Is(err, store.ErrConflict):
				writeError(w, http.StatusConflict, "conflict", "username or email already exists")
			default:
				s.writeStoreError(w, err, "user")
			}
			return
		}
		s.log.Info("user created", zap.String("user_id", created.ID()), zap.String("role", string(created.Profile.Role)))
		writeJSON(w, http.StatusCreated, map[string]any{"user": newAccountResponse(created)})

	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUserMFA(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	if !requireAdmin(w, r) {
		return
	}

	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "enabled is required")
		return
	}

	acc, err := s.auth.SetMFA(r.Context(), r.PathValue("id"), *req.Enabled)
	if err != nil {
		s.writeStoreError(w, err, "user")
		return
	}
	s.log.Info("mfa updated", zap.String("user_id", acc.ID()), zap.Bool("enabled", *req.Enabled))
	writeJSON(w, http.StatusOK, map[string]any{"user": newAccountResponse(*acc)})
}
