// Package mock provides an in-memory resource store.
//
// It keeps the same version guard as the real store, so that orchestrator tests
// can observe conflicts without a database.
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/opst/orchestration/pkg/domain"
	xerr "github.com/opst/orchestration/pkg/domain/errors"
	kdb "github.com/opst/orchestration/pkg/domain/record/db"
)

type Store struct {
	mu       sync.Mutex
	versions map[string][]domain.Resource

	// Err injects failures. A non-nil entry is returned instead of performing the operation.
	Err struct {
		Create         error
		Update         error
		RevertUpdate   error
		RollbackCreate error
	}

	Calls struct {
		Create         []domain.Resource
		Update         []domain.Resource
		RevertUpdate   []domain.Resource
		RollbackCreate []string
	}
}

var _ kdb.Interface = &Store{}

// New returns a store holding the given resources. Each resource is stored as
// every version up to its own, all with the same content.
func New(seed ...domain.Resource) *Store {
	s := &Store{versions: map[string][]domain.Resource{}}
	for _, r := range seed {
		for v := 1; v <= r.Version; v++ {
			c := r
			c.Version = v
			s.versions[r.ID] = append(s.versions[r.ID], c)
		}
	}
	return s
}

// Writes counts every write operation attempted so far.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls.Create) + len(s.Calls.Update) + len(s.Calls.RevertUpdate) + len(s.Calls.RollbackCreate)
}

// Len returns how many resources are stored.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.versions)
}

func (s *Store) current(kind domain.Kind, id string) (domain.Resource, bool) {
	vs, ok := s.versions[id]
	if !ok || len(vs) == 0 {
		return domain.Resource{}, false
	}
	r := vs[len(vs)-1]
	if r.Kind != kind {
		return domain.Resource{}, false
	}
	return r, true
}

func (s *Store) Create(_ context.Context, r domain.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls.Create = append(s.Calls.Create, r)
	if s.Err.Create != nil {
		return s.Err.Create
	}
	if _, ok := s.versions[r.ID]; ok {
		return xerr.Conflict(r.Kind, r.ID, 0)
	}
	s.versions[r.ID] = []domain.Resource{r}
	return nil
}

func (s *Store) GetActive(_ context.Context, kind domain.Kind, id string) (domain.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.current(kind, id)
	if !ok || !r.IsActive() {
		return domain.Resource{}, xerr.NotFound(kind, id)
	}
	return r, nil
}

func (s *Store) Get(_ context.Context, kind domain.Kind, id string) (domain.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.current(kind, id)
	if !ok {
		return domain.Resource{}, xerr.NotFound(kind, id)
	}
	return r, nil
}

func (s *Store) GetVersion(_ context.Context, kind domain.Kind, id string, version int) (domain.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.current(kind, id); !ok {
		return domain.Resource{}, xerr.NotFound(kind, id)
	}
	for _, r := range s.versions[id] {
		if r.Version == version {
			return r, nil
		}
	}
	return domain.Resource{}, xerr.NotFound(kind, fmt.Sprintf("%s@%d", id, version))
}

func (s *Store) Update(_ context.Context, r domain.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls.Update = append(s.Calls.Update, r)
	if s.Err.Update != nil {
		return s.Err.Update
	}
	cur, ok := s.current(r.Kind, r.ID)
	if !ok {
		return xerr.NotFound(r.Kind, r.ID)
	}
	if !cur.IsActive() || cur.Version != r.Version-1 {
		return xerr.Conflict(r.Kind, r.ID, r.Version-1)
	}
	s.versions[r.ID] = append(s.versions[r.ID], r)
	return nil
}

func (s *Store) RevertUpdate(_ context.Context, r domain.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls.RevertUpdate = append(s.Calls.RevertUpdate, r)
	if s.Err.RevertUpdate != nil {
		return s.Err.RevertUpdate
	}
	cur, ok := s.current(r.Kind, r.ID)
	if !ok || cur.Version != r.Version || r.Version <= 1 {
		return xerr.Conflict(r.Kind, r.ID, r.Version)
	}
	vs := s.versions[r.ID]
	restored := vs[len(vs)-2]
	restored.Version = r.Version + 1
	restored.Modified = time.Now().UTC().Truncate(time.Microsecond)
	if !restored.Modified.After(r.Modified) {
		restored.Modified = r.Modified.Add(time.Microsecond)
	}
	s.versions[r.ID] = append(vs, restored)
	return nil
}

func (s *Store) List(_ context.Context, kind domain.Kind, page int, size int) ([]domain.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if size <= 0 {
		return nil, xerr.Invalid(fmt.Sprintf("page size should be positive, but %d", size), nil)
	}
	if page < 1 {
		page = 1
	}

	all := []domain.Resource{}
	for id := range s.versions {
		if r, ok := s.current(kind, id); ok && r.IsActive() {
			all = append(all, r)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].Created.Equal(all[j].Created) {
			return all[i].Created.Before(all[j].Created)
		}
		return all[i].ID < all[j].ID
	})

	from := (page - 1) * size
	if len(all) <= from {
		return []domain.Resource{}, nil
	}
	to := min(from+size, len(all))
	return all[from:to], nil
}

func (s *Store) RollbackCreate(_ context.Context, kind domain.Kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls.RollbackCreate = append(s.Calls.RollbackCreate, id)
	if s.Err.RollbackCreate != nil {
		return s.Err.RollbackCreate
	}
	if _, ok := s.current(kind, id); ok {
		delete(s.versions, id)
	}
	return nil
}
