package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Origen string

const (
	OrigenCorredor    Origen = "CORREDOR"
	OrigenSistema     Origen = "SISTEMA"
	OrigenCargaMasiva Origen = "CARGA_MASIVA"
)

// Display returns the human label used in exports.
func (o Origen) Display() string {
	switch o {
	case OrigenCorredor:
		return "Corredor"
	case OrigenSistema:
		return "Sistema"
	case OrigenCargaMasiva:
		return "Carga Masiva"
	}
	return string(o)
}

func (o Origen) Valid() bool {
	switch o {
	case OrigenCorredor, OrigenSistema, OrigenCargaMasiva:
		return true
	}
	return false
}

type TipoSociedad string

const (
	TipoSociedadAbierta TipoSociedad = "A"
	TipoSociedadCerrada TipoSociedad = "C"
)

type TipoCarga string

const (
	TipoCargaMontos   TipoCarga = "MONTOS"
	TipoCargaFactores TipoCarga = "FACTORES"
)

type EstadoCarga string

const (
	EstadoPendiente  EstadoCarga = "PENDIENTE"
	EstadoProcesando EstadoCarga = "PROCESANDO"
	EstadoCompletado EstadoCarga = "COMPLETADO"
	EstadoError      EstadoCarga = "ERROR"
)

type Empresa struct {
	ID        string    `json:"id"`
	Rut       string    `json:"rut"`
	Nombre    string    `json:"nombre"`
	Giro      string    `json:"giro,omitempty"`
	Direccion string    `json:"direccion,omitempty"`
	Telefono  string    `json:"telefono,omitempty"`
	Email     string    `json:"email,omitempty"`
	UsuarioID string    `json:"usuario_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Calificacion struct {
	ID                   string           `json:"id"`
	EmpresaID            string           `json:"empresa_id"`
	UsuarioID            string           `json:"usuario_id,omitempty"`
	Ejercicio            int              `json:"ejercicio"`
	Mercado              string           `json:"mercado"`
	Instrumento          string           `json:"instrumento"`
	FechaPago            time.Time        `json:"fecha_pago"`
	DescripcionDividendo string           `json:"descripcion_dividendo,omitempty"`
	SecuenciaEvento      int              `json:"secuencia_evento"`
	AcogidoISFUT         bool             `json:"acogido_isfut"`
	Origen               Origen           `json:"origen"`
	TipoSociedad         TipoSociedad     `json:"tipo_sociedad,omitempty"`
	ValorHistorico       *decimal.Decimal `json:"valor_historico,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

type ArchivoCarga struct {
	ID                  string      `json:"id"`
	EmpresaID           string      `json:"empresa_id"`
	UsuarioID           string      `json:"usuario_id,omitempty"`
	NombreArchivo       string      `json:"nombre_archivo"`
	TipoCarga           TipoCarga   `json:"tipo_carga"`
	FechaCarga          time.Time   `json:"fecha_carga"`
	Estado              EstadoCarga `json:"estado"`
	RegistrosProcesados int         `json:"registros_procesados"`
	RegistrosError      int         `json:"registros_error"`
}

const (
	FirstFactor = 8
	LastFactor  = 37
	FactorCount = LastFactor - FirstFactor + 1
)

// Factores holds factor_8..factor_37 of a calificacion. Unset factors are invalid NullDecimals.
type Factores struct {
	CalificacionID string
	Values         [FactorCount]decimal.NullDecimal
	UpdatedAt      time.Time
}

func FactorKey(n int) string {
	return "factor_" + strconv.Itoa(n)
}

func (f Factores) Get(n int) (decimal.Decimal, bool) {
	if n < FirstFactor || n > LastFactor {
		return decimal.Zero, false
	}
	v := f.Values[n-FirstFactor]
	return v.Decimal, v.Valid
}

func (f *Factores) Set(n int, d decimal.Decimal) {
	if n < FirstFactor || n > LastFactor {
		return
	}
	f.Values[n-FirstFactor] = decimal.NullDecimal{Decimal: d, Valid: true}
}

func (f Factores) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, FactorCount+2)
	out["calificacion_id"] = f.CalificacionID
	if !f.UpdatedAt.IsZero() {
		out["updated_at"] = f.UpdatedAt
	}
	for n := FirstFactor; n <= LastFactor; n++ {
		if d, ok := f.Get(n); ok {
			out[FactorKey(n)] = d.StringFixed(8)
		} else {
			out[FactorKey(n)] = nil
		}
	}
	return json.Marshal(out)
}

func (f *Factores) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		switch {
		case k == "calificacion_id":
			if err := json.Unmarshal(v, &f.CalificacionID); err != nil {
				return err
			}
		case strings.HasPrefix(k, "factor_"):
			n, err := strconv.Atoi(strings.TrimPrefix(k, "factor_"))
			if err != nil || n < FirstFactor || n > LastFactor {
				return fmt.Errorf("unknown factor %q", k)
			}
			if string(v) == "null" {
				f.Values[n-FirstFactor] = decimal.NullDecimal{}
				continue
			}
			var d decimal.Decimal
			if err := d.UnmarshalJSON(v); err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
			f.Set(n, d)
		}
	}
	return nil
}
