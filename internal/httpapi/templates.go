package httpapi

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"nuam-capital/portal/internal/config"
	"nuam-capital/portal/internal/model"
	"nuam-capital/portal/internal/session"
	"nuam-capital/portal/internal/tax"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageNames = []string{"login", "verify_mfa", "forgot_password", "reset_password", "dashboard"}

var templateFuncs = template.FuncMap{
	"fecha":     tax.FechaLarga,
	"maskEmail": maskEmail,
}

var pages = mustParsePages()

func mustParsePages() map[string]*template.Template {
	out := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		out[name] = template.Must(template.New("layout.html").Funcs(templateFuncs).
			ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html"))
	}
	return out
}

// pageData is what every screen receives. Branding comes from config, never
// from package state.
type pageData struct {
	Branding config.Branding
	Title    string
	Flashes  []session.Flash
	Error    string
	Success  string
	Account  *model.Account
	Form     map[string]string
	Data     any
}

func (s *Server) page(title string, sess *session.Session) pageData {
	d := pageData{Branding: s.cfg.Branding, Title: title}
	if sess != nil {
		d.Flashes = sess.Flashes()
	}
	return d
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data pageData) {
	t, ok := pages[name]
	if !ok {
		s.log.Error("unknown template", zap.String("template", name))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		s.log.Error("render template", zap.String("template", name), zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// maskEmail shows the first character of the local part only: j***@nuam.cl.
func maskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return email
	}
	return email[:1] + "***" + email[at:]
}
