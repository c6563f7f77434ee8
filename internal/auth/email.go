package auth

import (
	"fmt"
	"html"

	"nuam-capital/portal/internal/mailer"
	"nuam-capital/portal/internal/model"
)

func displayName(a *model.Account) string {
	if a.User.FirstName != "" {
		return a.User.FirstName
	}
	return a.User.Username
}

func (s *Service) mfaCodeMessage(a *model.Account, code string) mailer.Message {
	name := displayName(a)
	minutes := int(s.cfg.MFACodeTTL.Minutes())

	plain := fmt.Sprintf(`Hola %s,

Tu código de verificación para %s es: %s

Este código expira en %d minutos.

Si no intentaste iniciar sesión, ignora este mensaje.

Equipo %s`, name, s.cfg.SiteName, code, minutes, s.cfg.SiteName)

	body := fmt.Sprintf(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2 style="color: #1a365d;">%s</h2>
  <p>Hola %s,</p>
  <p>Tu código de verificación es:</p>
  <div style="background: #f7fafc; padding: 15px; border-radius: 5px; font-size: 28px; letter-spacing: 6px; text-align: center;"><strong>%s</strong></div>
  <p>Este código expira en %d minutos.</p>
  <p style="color: #718096;">Si no intentaste iniciar sesión, ignora este mensaje.</p>
</div>`, html.EscapeString(s.cfg.SiteName), html.EscapeString(name), code, minutes)

	return mailer.Message{
		Subject: fmt.Sprintf("Código de verificación - %s", s.cfg.SiteName),
		Plain:   plain,
		HTML:    body,
		From:    s.cfg.From,
		To:      []string{a.User.Email},
	}
}

func (s *Service) resetLinkMessage(a *model.Account, link string) mailer.Message {
	name := displayName(a)
	hours := int(s.cfg.ResetTokenTTL.Hours())

	plain := fmt.Sprintf(`Hola %s,

Recibimos una solicitud para restablecer tu contraseña en %s.

Usa el siguiente enlace para crear una nueva contraseña:
%s

El enlace es válido por %d horas y solo puede usarse una vez.

Si no solicitaste este cambio, ignora este mensaje.

Equipo %s`, name, s.cfg.SiteName, link, hours, s.cfg.SiteName)

	body := fmt.Sprintf(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2 style="color: #1a365d;">Restablecer contraseña</h2>
  <p>Hola %s,</p>
  <p>Recibimos una solicitud para restablecer tu contraseña en %s.</p>
  <p><a href="%s" style="background: #1a365d; color: #fff; padding: 10px 20px; border-radius: 5px; text-decoration: none;">Crear nueva contraseña</a></p>
  <p>El enlace es válido por %d horas y solo puede usarse una vez.</p>
  <p style="color: #718096;">Si no solicitaste este cambio, ignora este mensaje.</p>
</div>`, html.EscapeString(name), html.EscapeString(s.cfg.SiteName), html.EscapeString(link), hours)

	return mailer.Message{
		Subject: fmt.Sprintf("Restablecer contraseña - %s", s.cfg.SiteName),
		Plain:   plain,
		HTML:    body,
		From:    s.cfg.From,
		To:      []string{a.User.Email},
	}
}
