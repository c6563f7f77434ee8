package memory

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"nuam-capital/portal/internal/model"
	"nuam-capital/portal/internal/store"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	mu sync.Mutex

	users    map[string]model.User
	profiles map[string]model.Profile
	tokens   map[string]model.PasswordResetToken // key: token value

	empresas       map[string]model.Empresa
	calificaciones map[string]model.Calificacion
	factores       map[string]model.Factores // key: calificacion id
	cargas         map[string]model.ArchivoCarga
}

func NewStore() *Store {
	return &Store{
		users:          make(map[string]model.User),
		profiles:       make(map[string]model.Profile),
		tokens:         make(map[string]model.PasswordResetToken),
		empresas:       make(map[string]model.Empresa),
		calificaciones: make(map[string]model.Calificacion),
		factores:       make(map[string]model.Factores),
		cargas:         make(map[string]model.ArchivoCarga),
	}
}

func errWithCode(code string) error {
	return errors.New(code)
}

func newID() string {
	return uuid.NewString()
}
