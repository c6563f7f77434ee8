package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"nuam-capital/portal/internal/model"
	"nuam-capital/portal/internal/store"
)

func (s *Store) CreateEmpresa(ctx context.Context, e model.Empresa) (model.Empresa, error) {
	e.Rut = strings.TrimSpace(e.Rut)
	if e.Rut == "" {
		return model.Empresa{}, errWithCode("rut_required")
	}
	if strings.TrimSpace(e.Nombre) == "" {
		return model.Empresa{}, errWithCode("nombre_required")
	}

	out, err := scanEmpresa(s.pool.QueryRow(ctx, `
		insert into public.empresas (rut, nombre, giro, direccion, telefono, email, usuario_id)
		values ($1, $2, $3, $4, $5, $6, nullif($7, '')::uuid)
		returning `+empresaColumns+`
	`, e.Rut, e.Nombre, e.Giro, e.Direccion, e.Telefono, e.Email, e.UsuarioID))
	if err != nil {
		return model.Empresa{}, mapPgErr(err)
	}
	return *out, nil
}

const empresaColumns = `id::text, rut, nombre, giro, direccion, telefono, email, coalesce(usuario_id::text, ''), created_at`

func scanEmpresa(row pgx.Row) (*model.Empresa, error) {
	var e model.Empresa
	err := row.Scan(&e.ID, &e.Rut, &e.Nombre, &e.Giro, &e.Direccion, &e.Telefono, &e.Email, &e.UsuarioID, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) GetEmpresa(ctx context.Context, id string) (*model.Empresa, error) {
	e, err := scanEmpresa(s.pool.QueryRow(ctx, `
		select `+empresaColumns+` from public.empresas where id = $1::uuid
	`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

func (s *Store) ListEmpresas(ctx context.Context, f store.EmpresaFilter) ([]model.Empresa, error) {
	rows, err := s.pool.Query(ctx, `
		select `+empresaColumns+`
		from public.empresas
		where ($1 = '' or usuario_id = nullif($1, '')::uuid)
		order by nombre asc
	`, f.UsuarioID)
	if err != nil {
		return nil, mapPgErr(err)
	}
	defer rows.Close()

	out := make([]model.Empresa, 0)
	for rows.Next() {
		e, err := scanEmpresa(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

const calificacionColumns = `
	id::text, empresa_id::text, coalesce(usuario_id::text, ''), ejercicio, mercado, instrumento,
	fecha_pago, descripcion_dividendo, secuencia_evento, acogido_isfut, origen, tipo_sociedad,
	valor_historico, created_at, updated_at
`

func scanCalificacion(row pgx.Row) (*model.Calificacion, error) {
	var (
		c              model.Calificacion
		origen, tipo   string
		valorHistorico decimal.NullDecimal
	)
	err := row.Scan(
		&c.ID,
		&c.EmpresaID,
		&c.UsuarioID,
		&c.Ejercicio,
		&c.Mercado,
		&c.Instrumento,
		&c.FechaPago,
		&c.DescripcionDividendo,
		&c.SecuenciaEvento,
		&c.AcogidoISFUT,
		&origen,
		&tipo,
		&valorHistorico,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Origen = model.Origen(origen)
	c.TipoSociedad = model.TipoSociedad(tipo)
	if valorHistorico.Valid {
		v := valorHistorico.Decimal
		c.ValorHistorico = &v
	}
	return &c, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func (s *Store) CreateCalificacion(ctx context.Context, c model.Calificacion) (model.Calificacion, error) {
	if c.Origen == "" {
		c.Origen = model.OrigenCorredor
	}
	out, err := scanCalificacion(s.pool.QueryRow(ctx, `
		insert into public.calificaciones (
			empresa_id, usuario_id, ejercicio, mercado, instrumento, fecha_pago,
			descripcion_dividendo, secuencia_evento, acogido_isfut, origen, tipo_sociedad, valor_historico
		)
		values ($1::uuid, nullif($2, '')::uuid, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		returning `+calificacionColumns,
		c.EmpresaID, c.UsuarioID, c.Ejercicio, c.Mercado, c.Instrumento, c.FechaPago,
		c.DescripcionDividendo, c.SecuenciaEvento, c.AcogidoISFUT, string(c.Origen), string(c.TipoSociedad),
		nullDecimal(c.ValorHistorico),
	))
	if err != nil {
		return model.Calificacion{}, mapPgErr(err)
	}
	return *out, nil
}

func (s *Store) GetCalificacion(ctx context.Context, id string) (*model.Calificacion, error) {
	c, err := scanCalificacion(s.pool.QueryRow(ctx, `
		select `+calificacionColumns+` from public.calificaciones where id = $1::uuid
	`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

func (s *Store) ListCalificaciones(ctx context.Context, f store.CalificacionFilter) ([]model.Calificacion, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.UsuarioID != "" {
		add("usuario_id = $%d::uuid", f.UsuarioID)
	}
	if f.EmpresaID != "" {
		add("empresa_id = $%d::uuid", f.EmpresaID)
	}
	if f.Ejercicio != 0 {
		add("ejercicio = $%d", f.Ejercicio)
	}
	if m := strings.TrimSpace(f.Mercado); m != "" {
		add("mercado ilike '%%' || $%d || '%%'", m)
	}
	if i := strings.TrimSpace(f.Instrumento); i != "" {
		add("instrumento ilike '%%' || $%d || '%%'", i)
	}

	q := `select ` + calificacionColumns + ` from public.calificaciones`
	if len(where) > 0 {
		q += " where " + strings.Join(where, " and ")
	}
	q += " order by created_at desc"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" limit $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, mapPgErr(err)
	}
	defer rows.Close()

	out := make([]model.Calificacion, 0)
	for rows.Next() {
		c, err := scanCalificacion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *Store) UpdateCalificacion(ctx context.Context, c model.Calificacion) (model.Calificacion, error) {
	out, err := scanCalificacion(s.pool.QueryRow(ctx, `
		update public.calificaciones
		set empresa_id = $2::uuid,
		    ejercicio = $3,
		    mercado = $4,
		    instrumento = $5,
		    fecha_pago = $6,
		    descripcion_dividendo = $7,
		    secuencia_evento = $8,
		    acogido_isfut = $9,
		    origen = $10,
		    tipo_sociedad = $11,
		    valor_historico = $12
		where id = $1::uuid
		returning `+calificacionColumns,
		c.ID, c.EmpresaID, c.Ejercicio, c.Mercado, c.Instrumento, c.FechaPago,
		c.DescripcionDividendo, c.SecuenciaEvento, c.AcogidoISFUT, string(c.Origen), string(c.TipoSociedad),
		nullDecimal(c.ValorHistorico),
	))
	if err != nil {
		return model.Calificacion{}, notFound(err)
	}
	return *out, nil
}

func (s *Store) DeleteCalificacion(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `delete from public.calificaciones where id = $1::uuid`, id)
	if err != nil {
		return mapPgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func factorColumns() []string {
	cols := make([]string, 0, model.FactorCount)
	for n := model.FirstFactor; n <= model.LastFactor; n++ {
		cols = append(cols, model.FactorKey(n))
	}
	return cols
}

func (s *Store) GetFactores(ctx context.Context, calificacionID string) (*model.Factores, error) {
	f := model.Factores{}
	dest := make([]any, 0, model.FactorCount+2)
	dest = append(dest, &f.CalificacionID)
	for i := range f.Values {
		dest = append(dest, &f.Values[i])
	}
	dest = append(dest, &f.UpdatedAt)

	err := s.pool.QueryRow(ctx, `
		select calificacion_id::text, `+strings.Join(factorColumns(), ", ")+`, updated_at
		from public.factores_calificacion
		where calificacion_id = $1::uuid
	`, calificacionID).Scan(dest...)
	if err != nil {
		return nil, notFound(err)
	}
	return &f, nil
}

func (s *Store) SaveFactores(ctx context.Context, f model.Factores) (model.Factores, error) {
	cols := factorColumns()
	placeholders := make([]string, len(cols))
	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+1)
	args = append(args, f.CalificacionID)
	for i, col := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		sets[i] = fmt.Sprintf("%s = excluded.%s", col, col)
		args = append(args, f.Values[i])
	}

	err := s.pool.QueryRow(ctx, `
		insert into public.factores_calificacion (calificacion_id, `+strings.Join(cols, ", ")+`)
		values ($1::uuid, `+strings.Join(placeholders, ", ")+`)
		on conflict (calificacion_id) do update
		set `+strings.Join(sets, ", ")+`, updated_at = now()
		returning updated_at
	`, args...).Scan(&f.UpdatedAt)
	if err != nil {
		return model.Factores{}, mapPgErr(err)
	}
	return f, nil
}

const cargaColumns = `
	id::text, empresa_id::text, coalesce(usuario_id::text, ''), nombre_archivo, tipo_carga,
	fecha_carga, estado, registros_procesados, registros_error
`

func scanCarga(row pgx.Row) (*model.ArchivoCarga, error) {
	var (
		a            model.ArchivoCarga
		tipo, estado string
	)
	err := row.Scan(&a.ID, &a.EmpresaID, &a.UsuarioID, &a.NombreArchivo, &tipo,
		&a.FechaCarga, &estado, &a.RegistrosProcesados, &a.RegistrosError)
	if err != nil {
		return nil, err
	}
	a.TipoCarga = model.TipoCarga(tipo)
	a.Estado = model.EstadoCarga(estado)
	return &a, nil
}

func (s *Store) CreateArchivoCarga(ctx context.Context, a model.ArchivoCarga) (model.ArchivoCarga, error) {
	if strings.TrimSpace(a.NombreArchivo) == "" {
		return model.ArchivoCarga{}, errWithCode("nombre_archivo_required")
	}
	if a.Estado == "" {
		a.Estado = model.EstadoPendiente
	}
	out, err := scanCarga(s.pool.QueryRow(ctx, `
		insert into public.archivos_carga (
			empresa_id, usuario_id, nombre_archivo, tipo_carga, estado, registros_procesados, registros_error
		)
		values ($1::uuid, nullif($2, '')::uuid, $3, $4, $5, $6, $7)
		returning `+cargaColumns,
		a.EmpresaID, a.UsuarioID, a.NombreArchivo, string(a.TipoCarga), string(a.Estado),
		a.RegistrosProcesados, a.RegistrosError,
	))
	if err != nil {
		return model.ArchivoCarga{}, mapPgErr(err)
	}
	return *out, nil
}

func (s *Store) ListArchivosCarga(ctx context.Context, f store.CargaFilter) ([]model.ArchivoCarga, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		select `+cargaColumns+`
		from public.archivos_carga
		where ($1 = '' or usuario_id = nullif($1, '')::uuid)
		  and ($2 = '' or empresa_id = nullif($2, '')::uuid)
		order by fecha_carga desc
		limit $3
	`, f.UsuarioID, f.EmpresaID, limit)
	if err != nil {
		return nil, mapPgErr(err)
	}
	defer rows.Close()

	out := make([]model.ArchivoCarga, 0)
	for rows.Next() {
		a, err := scanCarga(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}
