// Package projects is the project store: a stale-while-revalidate cache of
// the session's projects with optimistic create, rename and delete.
//
// The cache belongs to one session generation. When the session changes
// identity the cache is dropped and completions started under the old
// generation are discarded.
package projects

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/deskclient/internal/client/api"
	"github.com/dmitrijs2005/deskclient/internal/client/models"
	"github.com/dmitrijs2005/deskclient/internal/client/observability"
	"github.com/dmitrijs2005/deskclient/internal/client/observable"
	"github.com/dmitrijs2005/deskclient/internal/client/session"
	"github.com/dmitrijs2005/deskclient/internal/common"
	"github.com/dmitrijs2005/deskclient/internal/logging"
	"golang.org/x/sync/singleflight"
)

// DefaultFreshness is how long a fetched list is served without
// revalidation.
const DefaultFreshness = 30 * time.Second

// Session is the part of the session store the project store relies on.
type Session interface {
	Current() session.Session
	Subscribe(fn observable.Listener[session.Session]) (unsubscribe func())
	Authorized(ctx context.Context, fn func(ctx context.Context) error) error
}

// Config wires the store. Session and API are required.
type Config struct {
	Session   Session
	API       api.Client
	Logger    logging.Logger
	Metrics   *observability.Metrics
	Freshness time.Duration
	Now       func() time.Time
}

// State is the snapshot published to subscribers.
type State struct {
	// Projects holds every cached project in display order, soft-deleted
	// ones included.
	Projects []models.Project
	// Pending lists ids with a mutation in flight.
	Pending    []string
	FetchedAt  time.Time
	Generation uint64
}

// Visible returns the projects that are not soft-deleted.
func (s State) Visible() []models.Project {
	return visible(s.Projects)
}

// Store is the project cache. Construct with New and release with Dispose.
type Store struct {
	value     *observable.Value[State]
	sess      Session
	api       api.Client
	log       logging.Logger
	metrics   *observability.Metrics
	freshness time.Duration
	now       func() time.Time

	mu           sync.Mutex
	projects     []models.Project
	fetchedAt    time.Time
	gen          uint64
	inflight     map[string]*Pending
	confirmed    uint64
	revalidating bool
	disposed     bool

	group    singleflight.Group
	bgCtx    context.Context
	bgCancel context.CancelFunc
	wg       sync.WaitGroup

	lifeMu       sync.Mutex
	unsubSession func()
}

// New constructs an empty store bound to the session's current generation.
func New(cfg Config) *Store {
	s := &Store{
		sess:      cfg.Session,
		api:       cfg.API,
		log:       cfg.Logger,
		metrics:   cfg.Metrics,
		freshness: cfg.Freshness,
		now:       cfg.Now,
		inflight:  make(map[string]*Pending),
	}
	if s.log == nil {
		s.log = logging.Nop()
	}
	s.log = s.log.With("component", "projects")
	if s.freshness <= 0 {
		s.freshness = DefaultFreshness
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.gen = s.sess.Current().Generation
	s.bgCtx, s.bgCancel = context.WithCancel(context.Background())

	s.value = observable.New(State{Generation: s.gen})
	s.value.SetLifecycle(s)
	return s
}

// Subscribe registers fn for every published snapshot. While the store
// has subscribers it follows the session and revalidates on sign-in.
func (s *Store) Subscribe(fn observable.Listener[State]) (unsubscribe func()) {
	return s.value.Subscribe(fn)
}

// Snapshot returns the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncGenLocked(context.Background(), s.sess.Current().Generation)
	return s.stateLocked()
}

// Activate subscribes to the session. Called by the observable.
func (s *Store) Activate() {
	unsub := s.sess.Subscribe(s.onSession)
	s.lifeMu.Lock()
	s.unsubSession = unsub
	s.lifeMu.Unlock()
}

// Deactivate drops the session subscription. Called by the observable.
func (s *Store) Deactivate() {
	s.lifeMu.Lock()
	unsub := s.unsubSession
	s.unsubSession = nil
	s.lifeMu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// Dispose cancels background revalidation and waits for it. Safe to call
// more than once.
func (s *Store) Dispose() {
	s.mu.Lock()
	s.disposed = true
	s.mu.Unlock()

	s.bgCancel()
	s.wg.Wait()
	s.Deactivate()
}

func (s *Store) onSession(v session.Session, _ uint64) {
	s.mu.Lock()
	changed := s.syncGenLocked(s.bgCtx, v.Generation)
	s.mu.Unlock()

	if changed && v.Authenticated() {
		s.revalidate()
	}
}

// List returns the non-deleted projects in order. A cache older than the
// freshness window is served as is while one background fetch refreshes it.
func (s *Store) List(ctx context.Context) []models.Project {
	cur := s.sess.Current()

	s.mu.Lock()
	s.syncGenLocked(ctx, cur.Generation)
	out := visible(s.projects)
	stale := s.fetchedAt.IsZero() || s.now().Sub(s.fetchedAt) > s.freshness
	s.mu.Unlock()

	if stale && cur.Authenticated() {
		s.revalidate()
	}
	return out
}

// Get returns the cached project with id, soft-deleted ones included.
func (s *Store) Get(id string) (models.Project, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncGenLocked(context.Background(), s.sess.Current().Generation)

	if i := s.indexLocked(id); i >= 0 {
		return s.projects[i].Clone(), true
	}
	return models.Project{}, false
}

// Refresh fetches the list and merges it with in-flight mutations.
// Concurrent calls share one fetch.
func (s *Store) Refresh(ctx context.Context) error {
	_, err, _ := s.group.Do("list", func() (any, error) {
		return nil, s.refresh(ctx)
	})
	return err
}

func (s *Store) refresh(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		s.mu.Lock()
		s.syncGenLocked(ctx, s.sess.Current().Generation)
		gen, seq := s.gen, s.confirmed
		s.mu.Unlock()

		var list []models.Project
		err := s.sess.Authorized(ctx, func(ctx context.Context) error {
			var err error
			list, err = s.api.ListProjects(ctx)
			return err
		})
		if err != nil {
			return fmt.Errorf("list projects: %w", err)
		}

		s.mu.Lock()
		s.syncGenLocked(ctx, s.sess.Current().Generation)
		if s.gen != gen {
			s.staleLocked(ctx, "list", gen)
			s.mu.Unlock()
			return common.ErrStaleCompletion
		}
		// A mutation confirmed while the list was in flight may be missing
		// from it; fetch once more before accepting.
		if s.confirmed != seq && attempt == 0 {
			s.mu.Unlock()
			continue
		}
		s.projects = s.mergeLocked(list)
		s.fetchedAt = s.now()
		s.publishLocked()
		s.mu.Unlock()
		return nil
	}
}

func (s *Store) revalidate() {
	s.mu.Lock()
	if s.disposed || s.revalidating {
		s.mu.Unlock()
		return
	}
	s.revalidating = true
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		err := s.Refresh(s.bgCtx)

		s.mu.Lock()
		s.revalidating = false
		s.mu.Unlock()

		if err != nil && !errors.Is(err, common.ErrStaleCompletion) && s.bgCtx.Err() == nil {
			s.log.Warn(s.bgCtx, "background revalidation failed", "error", err)
		}
	}()
}

// mergeLocked overlays in-flight mutations on a fresh server list so a
// revalidation never undoes an optimistic change that has not settled.
func (s *Store) mergeLocked(server []models.Project) []models.Project {
	out := make([]models.Project, 0, len(server)+len(s.inflight))
	listed := make(map[string]bool, len(server))
	for _, p := range server {
		out = append(out, p.Clone())
		listed[p.ID] = true
	}

	// Listings omit soft-deleted projects; keep ours addressable by id.
	for _, local := range s.projects {
		if local.IsDeleted() && !listed[local.ID] {
			out = append(out, local.Clone())
		}
	}

	for _, local := range s.projects {
		p, ok := s.inflight[local.ID]
		if !ok {
			continue
		}
		switch p.mutation.Kind {
		case KindCreate:
			out = append(out, local.Clone())
		case KindRename, KindDelete:
			for i := range out {
				if out[i].ID == local.ID {
					out[i].Name = local.Name
					out[i].DeletedAt = local.Clone().DeletedAt
				}
			}
		}
	}
	return out
}

// syncGenLocked drops the cache when the session generation moved. It
// reports whether anything changed.
func (s *Store) syncGenLocked(ctx context.Context, gen uint64) bool {
	if gen == s.gen {
		return false
	}
	s.log.Info(ctx, "session changed, clearing project cache", "from", s.gen, "to", gen)
	s.gen = gen
	s.projects = nil
	s.fetchedAt = time.Time{}
	s.inflight = make(map[string]*Pending)
	s.publishLocked()
	return true
}

func (s *Store) indexLocked(id string) int {
	for i := range s.projects {
		if s.projects[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) stateLocked() State {
	st := State{
		Projects:   make([]models.Project, 0, len(s.projects)),
		FetchedAt:  s.fetchedAt,
		Generation: s.gen,
	}
	for _, p := range s.projects {
		st.Projects = append(st.Projects, p.Clone())
		if _, ok := s.inflight[p.ID]; ok {
			st.Pending = append(st.Pending, p.ID)
		}
	}
	return st
}

func (s *Store) publishLocked() {
	s.value.Set(s.stateLocked())
}

func (s *Store) staleLocked(ctx context.Context, op string, gen uint64) {
	s.metrics.StaleCompletion("projects")
	s.log.Warn(ctx, "discarding stale completion", "op", op, "started", gen, "current", s.gen)
}

func visible(all []models.Project) []models.Project {
	out := make([]models.Project, 0, len(all))
	for _, p := range all {
		if !p.IsDeleted() {
			out = append(out, p.Clone())
		}
	}
	return out
}
