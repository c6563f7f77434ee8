package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"nuam-capital/portal/internal/auth"
	"nuam-capital/portal/internal/model"
	"nuam-capital/portal/internal/session"
	"nuam-capital/portal/internal/store"
)

// User-facing messages of the login and recovery screens.
const (
	msgInvalidCredentials = "Usuario o contraseña incorrectos."
	msgCodeSendFailed     = "No se pudo enviar el código de verificación. Intente nuevamente."
	msgCodeSent           = "Se envió un código de verificación a su correo electrónico."
	msgNoPendingAuth      = "Su sesión de verificación expiró. Inicie sesión nuevamente."
	msgPendingUserGone    = "Usuario no encontrado. Inicie sesión nuevamente."
	msgMissingCode        = "Ingrese el código de verificación."
	msgInvalidCode        = "Código incorrecto o expirado."
	msgNoAccount          = "No existe una cuenta asociada a ese correo electrónico."
	msgResetSendFailed    = "No se pudo enviar el correo. Intente nuevamente más tarde."
	msgResetSent          = "Le enviamos un enlace para restablecer su contraseña. Revise su correo electrónico."
	msgTokenInvalid       = "El enlace de recuperación no es válido."
	msgTokenUsed          = "Este enlace ya fue utilizado."
	msgTokenExpired       = "El enlace de recuperación ha expirado. Solicite uno nuevo."
	msgPasswordMismatch   = "Las contraseñas no coinciden."
	msgPasswordTooShort   = "La contraseña debe tener al menos 6 caracteres."
	msgPasswordTooLong    = "La contraseña no puede superar los 72 bytes."
	msgPasswordChanged    = "Su contraseña fue actualizada. Ya puede iniciar sesión."
	msgLoginRequired      = "Inicie sesión para continuar."
)

func (s *Server) loadSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Load(r)
	if err != nil {
		s.log.Error("load session", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return nil, false
	}
	return sess, true
}

// redirect saves sess and sends the browser to path.
func (s *Server) redirect(w http.ResponseWriter, r *http.Request, sess *session.Session, path string) {
	if err := s.sessions.Save(r.Context(), w, sess); err != nil {
		s.log.Error("save session", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, path, http.StatusSeeOther)
}

// renderSession persists sess (popped flashes included) before writing the page.
func (s *Server) renderSession(w http.ResponseWriter, r *http.Request, sess *session.Session, status int, name string, data pageData) {
	if err := s.sessions.Save(r.Context(), w, sess); err != nil {
		s.log.Error("save session", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	s.render(w, status, name, data)
}

// promote moves an authenticated session to a fresh id before it is saved.
func (s *Server) promote(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if err := s.sessions.Rotate(r.Context(), sess); err != nil {
		s.log.Error("rotate session", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	s.redirect(w, r, sess, "/")
}

func (s *Server) internalError(w http.ResponseWriter, msg string, err error) {
	s.log.Error(msg, zap.Error(err))
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		if sess.Get(session.KeyUserID) != "" {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
		s.renderSession(w, r, sess, http.StatusOK, "login", s.page("Iniciar sesión", sess))

	case http.MethodPost:
		identifier := strings.TrimSpace(r.PostFormValue("username"))
		password := r.PostFormValue("password")

		res, err := s.auth.Login(r.Context(), sess, identifier, password)
		if err != nil {
			data := s.page("Iniciar sesión", sess)
			data.Form = map[string]string{"username": identifier}
			switch {
			case errors.Is(err, auth.ErrInvalidCredentials):
				data.Error = msgInvalidCredentials
				s.renderSession(w, r, sess, http.StatusUnauthorized, "login", data)
			case errors.Is(err, auth.ErrDispatch):
				data.Error = msgCodeSendFailed
				s.renderSession(w, r, sess, http.StatusServiceUnavailable, "login", data)
			default:
				s.internalError(w, "login", err)
			}
			return
		}

		if res.MFARequired {
			sess.AddFlash("info", msgCodeSent)
			s.redirect(w, r, sess, "/verify-mfa")
			return
		}
		s.promote(w, r, sess)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// pendingFailure sends the browser back to login when no MFA challenge is in progress.
func (s *Server) pendingFailure(w http.ResponseWriter, r *http.Request, sess *session.Session, err error) bool {
	switch {
	case errors.Is(err, auth.ErrNoPendingAuth):
		sess.AddFlash("error", msgNoPendingAuth)
	case errors.Is(err, auth.ErrPendingUserGone):
		sess.AddFlash("error", msgPendingUserGone)
	default:
		return false
	}
	s.redirect(w, r, sess, "/login")
	return true
}

func (s *Server) handleVerifyMFA(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		acc, err := s.auth.PendingAccount(r.Context(), sess)
		if err != nil {
			if !s.pendingFailure(w, r, sess, err) {
				s.internalError(w, "load pending account", err)
			}
			return
		}
		data := s.page("Verificación", sess)
		data.Data = acc.User.Email
		s.renderSession(w, r, sess, http.StatusOK, "verify_mfa", data)

	case http.MethodPost:
		if r.PostFormValue("resend") != "" {
			err := s.auth.ResendMFACode(r.Context(), sess)
			switch {
			case err == nil:
				sess.AddFlash("info", msgCodeSent)
			case errors.Is(err, auth.ErrDispatch):
				sess.AddFlash("error", msgCodeSendFailed)
			default:
				if !s.pendingFailure(w, r, sess, err) {
					s.internalError(w, "resend mfa code", err)
				}
				return
			}
			s.redirect(w, r, sess, "/verify-mfa")
			return
		}

		_, err := s.auth.VerifyMFA(r.Context(), sess, r.PostFormValue("code"))
		if err != nil {
			if s.pendingFailure(w, r, sess, err) {
				return
			}
			var msg string
			switch {
			case errors.Is(err, auth.ErrMissingCode):
				msg = msgMissingCode
			case errors.Is(err, auth.ErrInvalidCode):
				msg = msgInvalidCode
			default:
				s.internalError(w, "verify mfa", err)
				return
			}
			pending, perr := s.auth.PendingAccount(r.Context(), sess)
			if perr != nil {
				if !s.pendingFailure(w, r, sess, perr) {
					s.internalError(w, "load pending account", perr)
				}
				return
			}
			data := s.page("Verificación", sess)
			data.Error = msg
			data.Data = pending.User.Email
			s.renderSession(w, r, sess, http.StatusUnauthorized, "verify_mfa", data)
			return
		}
		s.promote(w, r, sess)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.renderSession(w, r, sess, http.StatusOK, "forgot_password", s.page("Recuperar contraseña", sess))

	case http.MethodPost:
		email := strings.TrimSpace(r.PostFormValue("email"))
		data := s.page("Recuperar contraseña", sess)

		err := s.auth.RequestPasswordReset(r.Context(), email, s.cfg.BaseURL)
		switch {
		case err == nil:
			data.Success = msgResetSent
		case errors.Is(err, auth.ErrNoAccount):
			data.Error = msgNoAccount
			data.Form = map[string]string{"email": email}
		case errors.Is(err, auth.ErrDispatch):
			data.Error = msgResetSendFailed
			data.Form = map[string]string{"email": email}
		default:
			s.internalError(w, "request password reset", err)
			return
		}
		s.renderSession(w, r, sess, http.StatusOK, "forgot_password", data)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func tokenMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrTokenInvalid):
		return msgTokenInvalid
	case errors.Is(err, auth.ErrTokenUsed):
		return msgTokenUsed
	case errors.Is(err, auth.ErrTokenExpired):
		return msgTokenExpired
	}
	return ""
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	token := r.PathValue("token")

	switch r.Method {
	case http.MethodGet:
		if _, err := s.auth.CheckResetToken(r.Context(), token); err != nil {
			msg := tokenMessage(err)
			if msg == "" {
				s.internalError(w, "check reset token", err)
				return
			}
			sess.AddFlash("error", msg)
			s.redirect(w, r, sess, "/forgot-password")
			return
		}
		data := s.page("Restablecer contraseña", sess)
		data.Data = token
		s.renderSession(w, r, sess, http.StatusOK, "reset_password", data)

	case http.MethodPost:
		err := s.auth.ResetPassword(r.Context(), token, r.PostFormValue("password"), r.PostFormValue("confirm_password"))
		if err == nil {
			sess.AddFlash("success", msgPasswordChanged)
			s.redirect(w, r, sess, "/login")
			return
		}
		if msg := tokenMessage(err); msg != "" {
			sess.AddFlash("error", msg)
			s.redirect(w, r, sess, "/forgot-password")
			return
		}

		data := s.page("Restablecer contraseña", sess)
		data.Data = token
		switch {
		case errors.Is(err, auth.ErrPasswordMismatch):
			data.Error = msgPasswordMismatch
		case errors.Is(err, auth.ErrPasswordTooShort):
			data.Error = msgPasswordTooShort
		case errors.Is(err, auth.ErrPasswordTooLong):
			data.Error = msgPasswordTooLong
		default:
			s.internalError(w, "reset password", err)
			return
		}
		s.renderSession(w, r, sess, http.StatusBadRequest, "reset_password", data)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	if uid := sess.Get(session.KeyUserID); uid != "" {
		s.log.Info("logout", zap.String("user_id", uid))
	}
	if err := s.sessions.Destroy(r.Context(), w, sess); err != nil {
		s.log.Error("destroy session", zap.Error(err))
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

type dashboardData struct {
	Empresas       int
	Calificaciones []model.Calificacion
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	acc, err := s.auth.CurrentAccount(r.Context(), sess)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.internalError(w, "load current account", err)
			return
		}
		if sess.Get(session.KeyPendingUserID) != "" {
			http.Redirect(w, r, "/verify-mfa", http.StatusSeeOther)
			return
		}
		sess.Delete(session.KeyUserID)
		sess.AddFlash("info", msgLoginRequired)
		s.redirect(w, r, sess, "/login")
		return
	}

	p := principal{account: acc}
	empresas, err := s.store.ListEmpresas(r.Context(), store.EmpresaFilter{UsuarioID: p.scope()})
	if err != nil {
		s.internalError(w, "list empresas", err)
		return
	}
	cals, err := s.store.ListCalificaciones(r.Context(), store.CalificacionFilter{UsuarioID: p.scope(), Limit: 10})
	if err != nil {
		s.internalError(w, "list calificaciones", err)
		return
	}

	data := s.page(s.cfg.Branding.IndexTitle, sess)
	data.Account = acc
	data.Data = dashboardData{Empresas: len(empresas), Calificaciones: cals}
	s.renderSession(w, r, sess, http.StatusOK, "dashboard", data)
}
