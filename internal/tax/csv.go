package tax

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"nuam-capital/portal/internal/model"
)

const bom = "\ufeff"

// quoteWriter writes every field quoted, CRLF terminated. encoding/csv only
// quotes when a field needs it, and the upload templates quote everything.
type quoteWriter struct {
	w   *bufio.Writer
	err error
}

func newQuoteWriter(w io.Writer) *quoteWriter {
	return &quoteWriter{w: bufio.NewWriter(w)}
}

func (q *quoteWriter) row(fields ...string) {
	if q.err != nil {
		return
	}
	for i, f := range fields {
		if i > 0 {
			q.w.WriteByte(',')
		}
		q.w.WriteByte('"')
		q.w.WriteString(strings.ReplaceAll(f, `"`, `""`))
		q.w.WriteByte('"')
	}
	_, q.err = q.w.WriteString("\r\n")
}

func (q *quoteWriter) flush() error {
	if q.err != nil {
		return q.err
	}
	return q.w.Flush()
}

// ExportHeader is the header row of the calificaciones export.
var ExportHeader = []string{"Ejercicio", "Instrumento", "Mercado", "Fecha Pago", "Origen"}

// WriteCalificaciones writes the calificaciones export.
func WriteCalificaciones(w io.Writer, rows []model.Calificacion) error {
	cw := csv.NewWriter(w)
	cw.UseCRLF = true
	if err := cw.Write(ExportHeader); err != nil {
		return err
	}
	for _, c := range rows {
		fecha := ""
		if !c.FechaPago.IsZero() {
			fecha = c.FechaPago.Format(time.DateOnly)
		}
		if err := cw.Write([]string{
			strconv.Itoa(c.Ejercicio),
			c.Instrumento,
			c.Mercado,
			fecha,
			c.Origen.Display(),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

var meses = [...]string{
	"enero", "febrero", "marzo", "abril", "mayo", "junio",
	"julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre",
}

// FechaLarga formats t as "02 de enero de 2006".
func FechaLarga(t time.Time) string {
	return fmt.Sprintf("%02d de %s de %d", t.Day(), meses[t.Month()-1], t.Year())
}

var montoLabels = map[int]string{
	8:  "MONTO_CREDITO_IDPC_2017",
	9:  "MONTO_CREDITO_IDPC_2016",
	10: "MONTO_CREDITO_IDPC_VOLUNTARIO",
	11: "MONTO_SIN_CREDITO_IDPC",
	12: "MONTO_RENTAS_RAP_DIF_INICIAL",
	13: "MONTO_OTRAS_RENTAS_SIN_PRIORIDAD",
	14: "MONTO_EXCESO_DISTRIBUCIONES",
	15: "MONTO_UTILIDADES_ISFUT_20780",
	16: "MONTO_RENTAS_1983_ISFUT_21210",
	17: "MONTO_RENTAS_EXENTAS_IGC_AFECTAS_IA",
	18: "MONTO_RENTAS_EXENTAS_IGC_IA",
	19: "MONTO_INGRESOS_NO_CONSTITUTIVOS_RENTA",
}

var factorLabels = map[int]string{
	8:  "FACTOR_CREDITO_IDPC_DESDE_2017",
	9:  "FACTOR_CREDITO_IDPC_HASTA_2016",
	10: "FACTOR_CREDITO_IDPC_VOLUNTARIO",
	11: "FACTOR_SIN_CREDITO_IDPC",
	12: "FACTOR_RENTAS_RAP_DIFERENCIA_INICIAL",
	13: "FACTOR_OTRAS_RENTAS_SIN_PRIORIDAD",
	14: "FACTOR_EXCESO_DISTRIBUCIONES_DESPROPORCIONADAS",
	15: "FACTOR_UTILIDADES_ISFUT_LEY_20780",
	16: "FACTOR_RENTAS_1983_ISFUT_LEY_21210",
	17: "FACTOR_RENTAS_EXENTAS_IGC_AFECTAS_IA",
	18: "FACTOR_RENTAS_EXENTAS_IGC_IA",
	19: "FACTOR_INGRESOS_NO_CONSTITUTIVOS_RENTA",
}

// columnLabel returns the official label of column n, or PREFIX_NN when the
// column has no official name.
func columnLabel(labels map[int]string, prefix string, n int) string {
	if l, ok := labels[n]; ok {
		return l
	}
	return fmt.Sprintf("%s_%02d", prefix, n)
}

var (
	montosFixed   = []string{"EJERCICIO_FISCAL (*)", "CODIGO_MERCADO (*)", "INSTRUMENTO_FINANCIERO (*)", "FECHA_PAGO (*)", "SECUENCIA_EVENTO", "DESCRIPCION_EVENTO", "TIPO_SOCIEDAD", "VALOR_HISTORICO"}
	factoresFixed = []string{"EJERCICIO_FISCAL (*)", "CODIGO_MERCADO (*)", "INSTRUMENTO_FINANCIERO (*)", "FECHA_PAGO (*)", "SECUENCIA_EVENTO", "DESCRIPCION_EVENTO"}
)

// MontosHeader is the data header of the amounts upload template.
func MontosHeader() []string {
	h := append([]string(nil), montosFixed...)
	for n := model.FirstFactor; n <= model.LastFactor; n++ {
		h = append(h, columnLabel(montoLabels, "MONTO", n))
	}
	return h
}

// FactoresHeader is the data header of the factors upload template.
func FactoresHeader() []string {
	h := append([]string(nil), factoresFixed...)
	for n := model.FirstFactor; n <= model.LastFactor; n++ {
		h = append(h, columnLabel(factorLabels, "FACTOR", n))
	}
	return h
}

// exampleRow pads values with zero up to one column per factor index.
func exampleRow(fixed []string, values []string, zero string) []string {
	row := append([]string(nil), fixed...)
	for i := 0; i < model.FactorCount; i++ {
		if i < len(values) {
			row = append(row, values[i])
		} else {
			row = append(row, zero)
		}
	}
	return row
}

// MontosExamples returns the example data rows of the amounts template.
func MontosExamples() [][]string {
	return [][]string{
		exampleRow(
			[]string{"2024", "ACN", "BANCO_SANTANDER_CHILE", "2024-09-15", "10001", "DIVIDENDO ORDINARIO CORRESPONDIENTE AL EJERCICIO 2024", "A", "1850.75"},
			[]string{"1250000.00", "850000.00", "0.00", "2500000.00", "0.00", "150000.00"},
			"0.00",
		),
		exampleRow(
			[]string{"2024", "CFI", "FONDO_CAPITALIZACION_NUAM", "2024-06-30", "10002", "DISTRIBUCIÓN DE UTILIDADES SEMESTRALES FONDO DE INVERSIÓN", "C", "0.00"},
			[]string{"0.00", "0.00", "0.00", "3250000.00"},
			"0.00",
		),
	}
}

// FactoresExamples returns the example data rows of the factors template.
func FactoresExamples() [][]string {
	return [][]string{
		exampleRow(
			[]string{"2024", "ACN", "EMPRESAS_CMPC", "2024-12-20", "10003", "DIVIDENDO FINAL EJERCICIO 2024"},
			[]string{"0.15000000", "0.12000000", "0.08000000", "0.18000000", "0.09000000", "0.11000000", "0.10000000", "0.09000000", "0.08000000"},
			"0.00000000",
		),
		exampleRow(
			[]string{"2024", "CFI", "FONDO_RENTA_FIJA_NUAM", "2024-03-31", "10004", "DISTRIBUCIÓN TRIMESTRAL DE RENTAS"},
			[]string{"0.10000000", "0.08000000", "0.06000000", "0.15000000", "0.07000000", "0.09000000", "0.08000000", "0.05000000", "0.04000000"},
			"0.00000000",
		),
	}
}

type TemplateInfo struct {
	Organization string
	Now          time.Time
}

func (i TemplateInfo) org() string {
	if i.Organization == "" {
		return "NUAM CAPITAL"
	}
	return strings.ToUpper(i.Organization)
}

// WriteMontosTemplate writes the amounts upload template (UTF-8 BOM, all fields quoted).
func WriteMontosTemplate(w io.Writer, info TemplateInfo) error {
	if _, err := io.WriteString(w, bom); err != nil {
		return err
	}
	q := newQuoteWriter(w)

	q.row(info.org() + " - SISTEMA INTEGRAL DE GESTIÓN TRIBUTARIA")
	q.row("PLANTILLA FORMAL PARA CARGA MASIVA DE MONTOS - FORMULARIO DJ1948")
	q.row("Fecha de Emisión:", FechaLarga(info.Now))
	q.row("Código Documento:", "NUAM-DJ1948-PLANTILLA-1.0")
	q.row("Área Responsable:", "Departamento de Cumplimiento Tributario")
	q.row()

	q.row("SECCIÓN I: INSTRUCCIONES FORMALES DE USO")
	q.row("1. IDENTIFICACIÓN DE CAMPOS OBLIGATORIOS")
	q.row("   - Campos marcados con (*) son de carácter obligatorio")
	q.row("   - El incumplimiento generará rechazo en la validación")
	q.row()
	q.row("2. ESPECIFICACIONES TÉCNICAS")
	q.row("   - Fechas: Formato ISO 8601 (YYYY-MM-DD)")
	q.row("   - Decimales: Separador punto (.), dos decimales para montos")
	q.row("   - Moneda: Pesos Chilenos ($)")
	q.row("   - Codificación: UTF-8")
	q.row()
	q.row("3. PROCESO DE CARGA")
	q.row("   - Complete los datos en las secciones indicadas")
	q.row("   - Mantenga la estructura de encabezados original")
	q.row("   - Elimine las filas de ejemplo antes de la carga productiva")
	q.row()

	q.row("SECCIÓN II: ESTRUCTURA DE DATOS - MONTOS TRIBUTARIOS")
	q.row(MontosHeader()...)
	q.row()

	q.row("SECCIÓN III: EJEMPLOS FORMALES DE REGISTRO")
	q.row("NOTA: Los siguientes ejemplos representan casos reales válidos para el sistema.")
	q.row()
	titles := []string{
		"EJEMPLO 1: ACCIÓN ORDINARIA - DIVIDENDO ORDINARIO",
		"EJEMPLO 2: CUOTA DE FONDO DE INVERSIÓN - DISTRIBUCIÓN SEMESTRAL",
	}
	for i, ex := range MontosExamples() {
		q.row(titles[i])
		q.row(ex...)
		q.row()
	}

	q.row("SECCIÓN IV: NORMAS DE VALIDACIÓN")
	q.row("ARTÍCULO 1: FORMATOS ACEPTADOS")
	q.row("   - EJERCICIO_FISCAL: Año entre 2000 y 2030")
	q.row("   - CODIGO_MERCADO: ACN, CFI, FONDOS, DERIVADOS")
	q.row("   - FECHA_PAGO: Fecha válida en formato YYYY-MM-DD")
	q.row("   - SECUENCIA_EVENTO: Número único ≥ 10000")
	q.row()
	q.row("ARTÍCULO 2: REGLAS DE NEGOCIO")
	q.row("   - Los montos deben ser valores numéricos positivos")
	q.row("   - El sistema calculará factores automáticamente")
	q.row("   - Validación: Σ(factores 8-16) ≤ 1.00000000")
	q.row()

	q.row("DOCUMENTO DE USO INTERNO - CONFIDENCIALIDAD PROTEGIDA")
	return q.flush()
}

// WriteFactoresTemplate writes the factors upload template (UTF-8 BOM, all fields quoted).
func WriteFactoresTemplate(w io.Writer, info TemplateInfo) error {
	if _, err := io.WriteString(w, bom); err != nil {
		return err
	}
	q := newQuoteWriter(w)

	q.row(info.org() + " - SISTEMA INTEGRAL DE GESTIÓN TRIBUTARIA")
	q.row("PLANTILLA FORMAL PARA CARGA MASIVA DE FACTORES TRIBUTARIOS")
	q.row("Fecha de Emisión:", FechaLarga(info.Now))
	q.row("Código Documento:", "NUAM-FACTORES-PLANTILLA-1.0")
	q.row("Área Responsable:", "Departamento de Análisis Tributario")
	q.row()

	q.row("SECCIÓN I: INSTRUCCIONES ESPECIALIZADAS - FACTORES")
	q.row("1. PRECISIÓN DECIMAL REQUERIDA")
	q.row("   - Todos los factores deben tener 8 decimales")
	q.row("   - Formato: 0.12345678 (nunca 0,12345678)")
	q.row("   - Rango válido: 0.00000000 a 1.00000000")
	q.row()
	q.row("2. RESTRICCIÓN CRÍTICA - SUMA FACTORES 8-16")
	q.row("   - La suma de factores 8 al 16 NO debe superar 1.00000000")
	q.row("   - Validación automática: Σ(factor_8...factor_16) ≤ 1.0")
	q.row()

	q.row("SECCIÓN II: ESTRUCTURA DE DATOS - FACTORES TRIBUTARIOS")
	q.row(FactoresHeader()...)
	q.row()

	q.row("SECCIÓN III: EJEMPLOS FORMALES DE FACTORES VÁLIDOS")
	q.row("NOTA: Estos ejemplos cumplen con todas las validaciones del sistema.")
	q.row()
	titles := []string{
		"EJEMPLO 1: ACCIÓN - SUMA FACTORES 8-16 = 1.00000000",
		"EJEMPLO 2: FONDO INVERSIÓN - SUMA FACTORES 8-16 = 0.72000000",
	}
	for i, ex := range FactoresExamples() {
		q.row(titles[i])
		q.row(ex...)
		q.row()
	}

	q.row("SECCIÓN IV: VALIDACIONES AVANZADAS")
	q.row("CONTROL 1: INTEGRIDAD MATEMÁTICA")
	q.row("   - Verificación: factor_8 + factor_9 + ... + factor_16 ≤ 1.00000000")
	q.row("   - Tolerancia: 0.00000001 (precisión de 8 decimales)")
	q.row()

	q.row("DOCUMENTO DE USO INTERNO - CONFIDENCIALIDAD PROTEGIDA")
	return q.flush()
}
