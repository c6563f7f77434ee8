package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"nuam-capital/portal/internal/model"
	"nuam-capital/portal/internal/store"
)

func (s *Store) CreateEmpresa(_ context.Context, e model.Empresa) (model.Empresa, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.Rut = strings.TrimSpace(e.Rut)
	if e.Rut == "" {
		return model.Empresa{}, errWithCode("rut_required")
	}
	if strings.TrimSpace(e.Nombre) == "" {
		return model.Empresa{}, errWithCode("nombre_required")
	}
	for _, existing := range s.empresas {
		if existing.Rut == e.Rut {
			return model.Empresa{}, store.ErrConflict
		}
	}
	if e.UsuarioID != "" {
		if _, ok := s.users[e.UsuarioID]; !ok {
			return model.Empresa{}, store.ErrNotFound
		}
	}

	e.ID = newID()
	e.CreatedAt = time.Now().UTC()
	s.empresas[e.ID] = e
	return e, nil
}

func (s *Store) GetEmpresa(_ context.Context, id string) (*model.Empresa, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.empresas[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &e, nil
}

func (s *Store) ListEmpresas(_ context.Context, f store.EmpresaFilter) ([]model.Empresa, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Empresa, 0, len(s.empresas))
	for _, e := range s.empresas {
		if f.UsuarioID != "" && e.UsuarioID != f.UsuarioID {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Nombre < out[j].Nombre
	})
	return out, nil
}

func (s *Store) CreateCalificacion(_ context.Context, c model.Calificacion) (model.Calificacion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.empresas[c.EmpresaID]; !ok {
		return model.Calificacion{}, store.ErrNotFound
	}

	now := time.Now().UTC()
	c.ID = newID()
	c.CreatedAt = now
	c.UpdatedAt = now
	s.calificaciones[c.ID] = c
	return c, nil
}

func (s *Store) GetCalificacion(_ context.Context, id string) (*model.Calificacion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.calificaciones[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) ListCalificaciones(_ context.Context, f store.CalificacionFilter) ([]model.Calificacion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mercado := strings.ToLower(strings.TrimSpace(f.Mercado))
	instrumento := strings.ToLower(strings.TrimSpace(f.Instrumento))

	out := make([]model.Calificacion, 0, len(s.calificaciones))
	for _, c := range s.calificaciones {
		if f.UsuarioID != "" && c.UsuarioID != f.UsuarioID {
			continue
		}
		if f.EmpresaID != "" && c.EmpresaID != f.EmpresaID {
			continue
		}
		if f.Ejercicio != 0 && c.Ejercicio != f.Ejercicio {
			continue
		}
		if mercado != "" && !strings.Contains(strings.ToLower(c.Mercado), mercado) {
			continue
		}
		if instrumento != "" && !strings.Contains(strings.ToLower(c.Instrumento), instrumento) {
			continue
		}
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) UpdateCalificacion(_ context.Context, c model.Calificacion) (model.Calificacion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.calificaciones[c.ID]
	if !ok {
		return model.Calificacion{}, store.ErrNotFound
	}
	if _, ok := s.empresas[c.EmpresaID]; !ok {
		return model.Calificacion{}, store.ErrNotFound
	}

	c.UsuarioID = existing.UsuarioID
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = time.Now().UTC()
	s.calificaciones[c.ID] = c
	return c, nil
}

func (s *Store) DeleteCalificacion(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.calificaciones[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.calificaciones, id)
	delete(s.factores, id)
	return nil
}

func (s *Store) GetFactores(_ context.Context, calificacionID string) (*model.Factores, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.factores[calificacionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &f, nil
}

func (s *Store) SaveFactores(_ context.Context, f model.Factores) (model.Factores, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.calificaciones[f.CalificacionID]; !ok {
		return model.Factores{}, store.ErrNotFound
	}
	f.UpdatedAt = time.Now().UTC()
	s.factores[f.CalificacionID] = f
	return f, nil
}

func (s *Store) CreateArchivoCarga(_ context.Context, a model.ArchivoCarga) (model.ArchivoCarga, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(a.NombreArchivo) == "" {
		return model.ArchivoCarga{}, errWithCode("nombre_archivo_required")
	}
	if _, ok := s.empresas[a.EmpresaID]; !ok {
		return model.ArchivoCarga{}, store.ErrNotFound
	}

	a.ID = newID()
	a.FechaCarga = time.Now().UTC()
	if a.Estado == "" {
		a.Estado = model.EstadoPendiente
	}
	s.cargas[a.ID] = a
	return a, nil
}

func (s *Store) ListArchivosCarga(_ context.Context, f store.CargaFilter) ([]model.ArchivoCarga, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.ArchivoCarga, 0, len(s.cargas))
	for _, a := range s.cargas {
		if f.UsuarioID != "" && a.UsuarioID != f.UsuarioID {
			continue
		}
		if f.EmpresaID != "" && a.EmpresaID != f.EmpresaID {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].FechaCarga.After(out[j].FechaCarga)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
