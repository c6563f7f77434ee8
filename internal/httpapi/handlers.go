package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"nuam-capital/portal/internal/model"
	"nuam-capital/portal/internal/store"
	"nuam-capital/portal/internal/tax"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"time": s.clock.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	p := principalFromContext(r.Context())
	if p.account == nil {
		writeJSON(w, http.StatusOK, map[string]any{"user": nil, "admin": true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": newAccountResponse(*p.account), "admin": p.admin()})
}

// --- Empresas ---

type empresaRequest struct {
	Rut       string `json:"rut"`
	Nombre    string `json:"nombre"`
	Giro      string `json:"giro"`
	Direccion string `json:"direccion"`
	Telefono  string `json:"telefono"`
	Email     string `json:"email"`
	UsuarioID string `json:"usuario_id"`
}

func (s *Server) handleEmpresas(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())

	switch r.Method {
	case http.MethodGet:
		empresas, err := s.store.ListEmpresas(r.Context(), store.EmpresaFilter{UsuarioID: p.scope()})
		if err != nil {
			s.writeStoreError(w, err, "empresas")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"empresas": empresas})

	case http.MethodPost:
		var req empresaRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		e := model.Empresa{
			Rut:       strings.TrimSpace(req.Rut),
			Nombre:    strings.TrimSpace(req.Nombre),
			Giro:      strings.TrimSpace(req.Giro),
			Direccion: strings.TrimSpace(req.Direccion),
			Telefono:  strings.TrimSpace(req.Telefono),
			Email:     strings.TrimSpace(req.Email),
			UsuarioID: p.userID(),
		}
		if e.Rut == "" || e.Nombre == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "rut and nombre are required")
			return
		}
		if p.admin() && strings.TrimSpace(req.UsuarioID) != "" {
			e.UsuarioID = strings.TrimSpace(req.UsuarioID)
		}

		created, err := s.store.CreateEmpresa(r.Context(), e)
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				writeError(w, http.StatusConflict, "conflict", "rut already registered")
				return
			}
			s.writeStoreError(w, err, "empresa")
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"empresa": created})

	default:
		methodNotAllowed(w)
	}
}

// visibleEmpresa loads an empresa the caller may see. Others read as not found.
func (s *Server) visibleEmpresa(r *http.Request, id string) (*model.Empresa, error) {
	e, err := s.store.GetEmpresa(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if !principalFromContext(r.Context()).owns(e.UsuarioID) {
		return nil, store.ErrNotFound
	}
	return e, nil
}

func (s *Server) handleEmpresa(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	e, err := s.visibleEmpresa(r, r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err, "empresa")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"empresa": e})
}

// --- Calificaciones ---

type calificacionRequest struct {
	EmpresaID            string             `json:"empresa_id"`
	Ejercicio            int                `json:"ejercicio"`
	Mercado              string             `json:"mercado"`
	Instrumento          string             `json:"instrumento"`
	FechaPago            string             `json:"fecha_pago"`
	DescripcionDividendo string             `json:"descripcion_dividendo"`
	SecuenciaEvento      int                `json:"secuencia_evento"`
	AcogidoISFUT         bool               `json:"acogido_isfut"`
	Origen               model.Origen       `json:"origen"`
	TipoSociedad         model.TipoSociedad `json:"tipo_sociedad"`
	ValorHistorico       *decimal.Decimal   `json:"valor_historico"`
}

func parseFecha(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}

// toModel validates req. The returned message is empty when req is valid.
func (req calificacionRequest) toModel() (model.Calificacion, string) {
	c := model.Calificacion{
		EmpresaID:            strings.TrimSpace(req.EmpresaID),
		Ejercicio:            req.Ejercicio,
		Mercado:              strings.TrimSpace(req.Mercado),
		Instrumento:          strings.TrimSpace(req.Instrumento),
		DescripcionDividendo: strings.TrimSpace(req.DescripcionDividendo),
		SecuenciaEvento:      req.SecuenciaEvento,
		AcogidoISFUT:         req.AcogidoISFUT,
		Origen:               req.Origen,
		TipoSociedad:         req.TipoSociedad,
		ValorHistorico:       req.ValorHistorico,
	}
	if c.Origen == "" {
		c.Origen = model.OrigenCorredor
	}

	switch {
	case c.EmpresaID == "":
		return c, "empresa_id is required"
	case c.Ejercicio < 1900 || c.Ejercicio > 2100:
		return c, "ejercicio must be a year"
	case c.Mercado == "":
		return c, "mercado is required"
	case c.Instrumento == "":
		return c, "instrumento is required"
	case !c.Origen.Valid():
		return c, "origen must be CORREDOR, SISTEMA or CARGA_MASIVA"
	case c.TipoSociedad != "" && c.TipoSociedad != model.TipoSociedadAbierta && c.TipoSociedad != model.TipoSociedadCerrada:
		return c, "tipo_sociedad must be A or C"
	case c.ValorHistorico != nil && c.ValorHistorico.IsNegative():
		return c, "valor_historico must not be negative"
	}

	fecha, err := parseFecha(req.FechaPago)
	if err != nil {
		return c, "fecha_pago must be YYYY-MM-DD"
	}
	c.FechaPago = fecha
	return c, ""
}

func calificacionFilter(r *http.Request, p principal) (store.CalificacionFilter, error) {
	q := r.URL.Query()
	f := store.CalificacionFilter{
		UsuarioID:   p.scope(),
		EmpresaID:   strings.TrimSpace(q.Get("empresa_id")),
		Mercado:     strings.TrimSpace(q.Get("mercado")),
		Instrumento: strings.TrimSpace(q.Get("instrumento")),
	}
	if v := strings.TrimSpace(q.Get("ejercicio")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, errors.New("ejercicio must be a number")
		}
		f.Ejercicio = n
	}
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, errors.New("limit must be a positive number")
		}
		f.Limit = n
	}
	return f, nil
}

func (s *Server) handleCalificaciones(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())

	switch r.Method {
	case http.MethodGet:
		f, err := calificacionFilter(r, p)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		cals, err := s.store.ListCalificaciones(r.Context(), f)
		if err != nil {
			s.writeStoreError(w, err, "calificaciones")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"calificaciones": cals})

	case http.MethodPost:
		var req calificacionRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		c, msg := req.toModel()
		if msg != "" {
			writeError(w, http.StatusBadRequest, "invalid_request", msg)
			return
		}
		e, err := s.visibleEmpresa(r, c.EmpresaID)
		if err != nil {
			s.writeStoreError(w, err, "empresa")
			return
		}
		c.UsuarioID = p.userID()
		if c.UsuarioID == "" {
			c.UsuarioID = e.UsuarioID
		}

		created, err := s.store.CreateCalificacion(r.Context(), c)
		if err != nil {
			s.writeStoreError(w, err, "calificacion")
			return
		}
		s.log.Info("calificacion created", zap.String("id", created.ID), zap.String("instrumento", created.Instrumento))
		writeJSON(w, http.StatusCreated, map[string]any{"calificacion": created})

	default:
		methodNotAllowed(w)
	}
}

func (s *Server) visibleCalificacion(r *http.Request, id string) (*model.Calificacion, error) {
	c, err := s.store.GetCalificacion(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if !principalFromContext(r.Context()).owns(c.UsuarioID) {
		return nil, store.ErrNotFound
	}
	return c, nil
}

func (s *Server) handleCalificacion(w http.ResponseWriter, r *http.Request) {
	existing, err := s.visibleCalificacion(r, r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err, "calificacion")
		return
	}

	switch r.Method {
	case http.MethodGet:
		f, err := s.store.GetFactores(r.Context(), existing.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			s.writeStoreError(w, err, "factores")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"calificacion": existing, "factores": f})

	case http.MethodPut:
		var req calificacionRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		c, msg := req.toModel()
		if msg != "" {
			writeError(w, http.StatusBadRequest, "invalid_request", msg)
			return
		}
		if c.EmpresaID != existing.EmpresaID {
			if _, err := s.visibleEmpresa(r, c.EmpresaID); err != nil {
				s.writeStoreError(w, err, "empresa")
				return
			}
		}
		c.ID = existing.ID

		updated, err := s.store.UpdateCalificacion(r.Context(), c)
		if err != nil {
			s.writeStoreError(w, err, "calificacion")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"calificacion": updated})

	case http.MethodDelete:
		if err := s.store.DeleteCalificacion(r.Context(), existing.ID); err != nil {
			s.writeStoreError(w, err, "calificacion")
			return
		}
		s.log.Info("calificacion deleted", zap.String("id", existing.ID), zap.String("instrumento", existing.Instrumento))
		w.WriteHeader(http.StatusNoContent)

	default:
		methodNotAllowed(w)
	}
}

// --- Factores ---

func (s *Server) handleFactores(w http.ResponseWriter, r *http.Request) {
	c, err := s.visibleCalificacion(r, r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err, "calificacion")
		return
	}

	switch r.Method {
	case http.MethodGet:
		f, err := s.store.GetFactores(r.Context(), c.ID)
		if errors.Is(err, store.ErrNotFound) {
			f, err = &model.Factores{CalificacionID: c.ID}, nil
		}
		if err != nil {
			s.writeStoreError(w, err, "factores")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"factores": f, "suma_8_16": tax.SumRange(*f).StringFixed(tax.FactorScale)})

	case http.MethodPut:
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var f model.Factores
		if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_factors", err.Error())
			return
		}
		if err := tax.ValidateFactores(f); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_factors", err.Error())
			return
		}
		f.CalificacionID = c.ID

		saved, err := s.store.SaveFactores(r.Context(), f)
		if err != nil {
			s.writeStoreError(w, err, "factores")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"factores": saved, "suma_8_16": tax.SumRange(saved).StringFixed(tax.FactorScale)})

	default:
		methodNotAllowed(w)
	}
}

// handleFactoresCalcular converts {"monto_8": "1250000", ...} into factors.
func (s *Server) handleFactoresCalcular(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req map[string]decimal.Decimal
	if !decodeJSON(w, r, &req) {
		return
	}

	amounts := make(map[int]decimal.Decimal, len(req))
	for k, v := range req {
		n, err := strconv.Atoi(strings.TrimPrefix(k, "monto_"))
		if !strings.HasPrefix(k, "monto_") || err != nil || n < model.FirstFactor || n > model.LastFactor {
			writeError(w, http.StatusBadRequest, "invalid_amounts", fmt.Sprintf("unknown amount %q", k))
			return
		}
		amounts[n] = v
	}

	f, err := tax.FactorsFromAmounts(amounts)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_amounts", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"factores": f, "suma_8_16": tax.SumRange(f).StringFixed(tax.FactorScale)})
}

// --- CSV ---

func (s *Server) handleCalificacionesExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	f, err := calificacionFilter(r, principalFromContext(r.Context()))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	cals, err := s.store.ListCalificaciones(r.Context(), f)
	if err != nil {
		s.writeStoreError(w, err, "calificaciones")
		return
	}

	writeCSVHeaders(w, "calificaciones.csv")
	if err := tax.WriteCalificaciones(w, cals); err != nil {
		s.log.Error("write export", zap.Error(err))
	}
}

func (s *Server) templateInfo() tax.TemplateInfo {
	return tax.TemplateInfo{Now: s.clock.Now().In(s.cfg.Location())}
}

func (s *Server) handlePlantillaMontos(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeCSVHeaders(w, "plantilla_montos_dj1948.csv")
	if err := tax.WriteMontosTemplate(w, s.templateInfo()); err != nil {
		s.log.Error("write montos template", zap.Error(err))
	}
}

func (s *Server) handlePlantillaFactores(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeCSVHeaders(w, "plantilla_factores.csv")
	if err := tax.WriteFactoresTemplate(w, s.templateInfo()); err != nil {
		s.log.Error("write factores template", zap.Error(err))
	}
}

// --- Cargas ---

type cargaRequest struct {
	EmpresaID     string          `json:"empresa_id"`
	NombreArchivo string          `json:"nombre_archivo"`
	TipoCarga     model.TipoCarga `json:"tipo_carga"`
}

func (s *Server) handleCargas(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())

	switch r.Method {
	case http.MethodGet:
		cargas, err := s.store.ListArchivosCarga(r.Context(), store.CargaFilter{
			UsuarioID: p.scope(),
			EmpresaID: strings.TrimSpace(r.URL.Query().Get("empresa_id")),
		})
		if err != nil {
			s.writeStoreError(w, err, "cargas")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cargas": cargas})

	case http.MethodPost:
		var req cargaRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		a := model.ArchivoCarga{
			EmpresaID:     strings.TrimSpace(req.EmpresaID),
			NombreArchivo: strings.TrimSpace(req.NombreArchivo),
			TipoCarga:     req.TipoCarga,
			Estado:        model.EstadoPendiente,
		}
		if a.NombreArchivo == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "nombre_archivo is required")
			return
		}
		if a.TipoCarga != model.TipoCargaMontos && a.TipoCarga != model.TipoCargaFactores {
			writeError(w, http.StatusBadRequest, "invalid_request", "tipo_carga must be MONTOS or FACTORES")
			return
		}
		e, err := s.visibleEmpresa(r, a.EmpresaID)
		if err != nil {
			s.writeStoreError(w, err, "empresa")
			return
		}
		a.UsuarioID = p.userID()
		if a.UsuarioID == "" {
			a.UsuarioID = e.UsuarioID
		}

		created, err := s.store.CreateArchivoCarga(r.Context(), a)
		if err != nil {
			s.writeStoreError(w, err, "carga")
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"carga": created})

	default:
		methodNotAllowed(w)
	}
}
