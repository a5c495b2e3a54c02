package projects

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dmitrijs2005/deskclient/internal/client/api"
	"github.com/dmitrijs2005/deskclient/internal/client/models"
	"github.com/dmitrijs2005/deskclient/internal/common"
	"github.com/google/uuid"
)

// MaxNameLength bounds project names, in runes.
const MaxNameLength = 128

// Kind names an optimistic mutation.
type Kind string

const (
	KindCreate Kind = "create"
	KindRename Kind = "rename"
	KindDelete Kind = "delete"
)

// Mutation describes a local change applied ahead of the server.
// ProjectID is ignored for KindCreate; a placeholder id is assigned.
type Mutation struct {
	Kind      Kind
	ProjectID string
	Name      string
}

// Pending is the handle of an applied mutation. Exactly one of Confirm or
// Revert settles it; later calls are no-ops.
type Pending struct {
	mutation Mutation
	id       string
	gen      uint64
	before   *models.Project
	settled  bool
}

// ID is the project id the mutation applies to; a placeholder for creates.
func (p *Pending) ID() string { return p.id }

// Mutation returns the applied mutation.
func (p *Pending) Mutation() Mutation { return p.mutation }

// ApplyOptimistic applies m to the cache and publishes the result.
// It fails with ErrConflict if the project already has a mutation in
// flight, so callers never issue the matching API call twice.
func (s *Store) ApplyOptimistic(m Mutation) (*Pending, error) {
	if m.Kind == KindCreate || m.Kind == KindRename {
		name, err := normalizeName(m.Name)
		if err != nil {
			return nil, err
		}
		m.Name = name
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ctx := context.Background()
	s.syncGenLocked(ctx, s.sess.Current().Generation)

	p := &Pending{mutation: m, gen: s.gen}

	switch m.Kind {
	case KindCreate:
		p.id = common.PlaceholderIDPrefix + uuid.NewString()
		s.projects = append(s.projects, models.Project{ID: p.id, Name: m.Name})

	case KindRename, KindDelete:
		if _, busy := s.inflight[m.ProjectID]; busy {
			return nil, fmt.Errorf("%w: project %s", common.ErrConflict, m.ProjectID)
		}
		i := s.indexLocked(m.ProjectID)
		if i < 0 || s.projects[i].IsDeleted() {
			return nil, fmt.Errorf("%w: project %s", api.ErrNotFound, m.ProjectID)
		}
		before := s.projects[i].Clone()
		p.id, p.before = m.ProjectID, &before

		if m.Kind == KindRename {
			s.projects[i].Name = m.Name
		} else {
			now := s.now().UTC()
			s.projects[i].DeletedAt = &now
		}

	default:
		return nil, fmt.Errorf("unknown mutation kind %q", m.Kind)
	}

	s.inflight[p.id] = p
	s.publishLocked()
	return p, nil
}

// Confirm settles p with the server's view of the project. A nil server
// keeps the optimistic value. Results from an older session generation are
// dropped.
func (s *Store) Confirm(p *Pending, server *models.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.settleLocked(p, "confirm") {
		return
	}
	s.confirmed++

	i := s.indexLocked(p.id)
	if i < 0 {
		s.publishLocked()
		return
	}
	if server == nil {
		s.publishLocked()
		return
	}

	// A revalidation may already have brought in the created project.
	if p.mutation.Kind == KindCreate && s.indexLocked(server.ID) >= 0 {
		s.projects = append(s.projects[:i], s.projects[i+1:]...)
		s.publishLocked()
		return
	}
	s.projects[i] = server.Clone()
	s.publishLocked()
}

// Revert undoes p. Results from an older session generation are dropped.
func (s *Store) Revert(p *Pending) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.settleLocked(p, "revert") {
		return
	}

	s.metrics.OptimisticRevert(string(p.mutation.Kind))
	s.log.Warn(context.Background(), "reverting optimistic mutation", "kind", p.mutation.Kind, "id", p.id)

	i := s.indexLocked(p.id)
	if i < 0 {
		s.publishLocked()
		return
	}
	if p.mutation.Kind == KindCreate {
		s.projects = append(s.projects[:i], s.projects[i+1:]...)
	} else {
		s.projects[i] = p.before.Clone()
	}
	s.publishLocked()
}

// settleLocked marks p settled and reports whether it still applies to the
// current cache.
func (s *Store) settleLocked(p *Pending, op string) bool {
	if p.settled {
		return false
	}
	p.settled = true
	if s.inflight[p.id] == p {
		delete(s.inflight, p.id)
	}

	ctx := context.Background()
	s.syncGenLocked(ctx, s.sess.Current().Generation)
	if p.gen != s.gen {
		s.staleLocked(ctx, op, p.gen)
		return false
	}
	return true
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: empty", common.ErrInvalidName)
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", fmt.Errorf("%w: longer than %d characters", common.ErrInvalidName, MaxNameLength)
	}
	return name, nil
}
