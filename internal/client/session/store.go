// Package session implements the session store: the authentication state
// machine, token persistence, cross-tab synchronization and token refresh.
//
// States move UNINITIALIZED -> LOADING -> {ANONYMOUS, AUTHENTICATED}, and
// AUTHENTICATED -> SIGNING_OUT -> ANONYMOUS on sign-out. Subscribing the
// first listener activates the store: it reads persisted tokens, resolves
// the user and starts watching durable storage for writes from other tabs.
// The last unsubscribe stops the watcher.
//
// Listeners run on the publishing goroutine while the store's transition
// lock is held. They may read Current but must not call Login, SignOut,
// Refresh, Fork or Dispose synchronously.
package session

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dmitrijs2005/deskclient/internal/client/api"
	"github.com/dmitrijs2005/deskclient/internal/client/models"
	"github.com/dmitrijs2005/deskclient/internal/client/observability"
	"github.com/dmitrijs2005/deskclient/internal/client/observable"
	"github.com/dmitrijs2005/deskclient/internal/client/storage"
	"github.com/dmitrijs2005/deskclient/internal/client/tokens"
	"github.com/dmitrijs2005/deskclient/internal/common"
	"github.com/dmitrijs2005/deskclient/internal/logging"
	"golang.org/x/sync/singleflight"
)

// Config wires the store's collaborators. Storage and API are required.
type Config struct {
	Storage storage.Storage
	API     api.Client
	Logger  logging.Logger
	Metrics *observability.Metrics
	Now     func() time.Time
}

// Store owns the session. Construct with New and release with Dispose.
type Store struct {
	value   *observable.Value[Session]
	storage storage.Storage
	api     api.Client
	log     logging.Logger
	metrics *observability.Metrics
	now     func() time.Time

	// mu serializes transitions; cur mirrors the last published snapshot.
	mu  sync.Mutex
	cur Session

	refreshGroup singleflight.Group

	lifeMu   sync.Mutex
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	disposed bool
}

// New constructs an inactive store in state UNINITIALIZED.
func New(cfg Config) *Store {
	s := &Store{
		storage: cfg.Storage,
		api:     cfg.API,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
		now:     cfg.Now,
		cur:     Session{State: StateUninitialized},
	}
	if s.log == nil {
		s.log = logging.Nop()
	}
	s.log = s.log.With("component", "session")
	if s.now == nil {
		s.now = time.Now
	}
	s.value = observable.New(s.cur)
	s.value.SetLifecycle(s)
	return s
}

// Current returns a copy of the latest published snapshot.
func (s *Store) Current() Session {
	return s.value.Load().clone()
}

// Subscribe registers fn for every published snapshot and delivers the
// current one immediately. The first subscriber activates the store.
func (s *Store) Subscribe(fn observable.Listener[Session]) (unsubscribe func()) {
	return s.value.Subscribe(fn)
}

// AwaitState blocks until the session is in one of states and returns that
// snapshot. It holds a subscription while waiting, so it activates an
// otherwise idle store.
func (s *Store) AwaitState(ctx context.Context, states ...State) (Session, error) {
	ch := make(chan Session, 1)
	unsub := s.Subscribe(func(v Session, _ uint64) {
		if slices.Contains(states, v.State) {
			select {
			case ch <- v:
			default:
			}
		}
	})
	defer unsub()

	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		return Session{}, ctx.Err()
	}
}

// Activate starts the bootstrap and the cross-tab watcher. It is invoked by
// the observable when the subscriber count goes from zero to one.
func (s *Store) Activate() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.disposed || s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	// A store deactivated mid-bootstrap is still LOADING; start over under
	// a new generation so the abandoned attempt cannot land.
	s.mu.Lock()
	boot := s.cur.State == StateUninitialized || s.cur.State == StateLoading
	var gen uint64
	if boot {
		gen = s.cur.Generation + 1
		s.publishLocked(ctx, Session{State: StateLoading, Generation: gen})
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx, boot, gen)
	}()
}

// Deactivate stops the watcher. It is invoked when the last subscriber
// leaves. The current snapshot is kept.
func (s *Store) Deactivate() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Dispose stops background work and waits for it to finish. Later
// subscriptions no longer activate the store. Safe to call more than once.
func (s *Store) Dispose() {
	s.lifeMu.Lock()
	s.disposed = true
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.lifeMu.Unlock()

	s.wg.Wait()
}

// Login installs pair and user as the authenticated session. Allowed from
// ANONYMOUS and LOADING only. Tokens are persisted before the state is
// published.
func (s *Store) Login(ctx context.Context, pair models.AuthTokenPair, user models.User) error {
	pair = tokens.Normalize(pair)
	raw, err := tokens.Serialize(pair)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cur.State != StateAnonymous && s.cur.State != StateLoading {
		return fmt.Errorf("%w: login from %s", common.ErrInvalidTransition, s.cur.State)
	}
	if err := s.storage.Set(ctx, common.TokenStorageKey, raw); err != nil {
		return fmt.Errorf("persist tokens: %w", err)
	}

	user.Anonymous = false
	s.publishLocked(ctx, Session{
		State:      StateAuthenticated,
		User:       &user,
		Tokens:     pair,
		Generation: s.cur.Generation + 1,
	})
	return nil
}

// SignIn exchanges credentials for tokens and logs in with the result.
func (s *Store) SignIn(ctx context.Context, creds models.Credentials) (models.User, error) {
	res, err := s.api.Login(ctx, creds)
	if err != nil {
		return models.User{}, fmt.Errorf("sign in: %w", err)
	}
	if err := s.Login(ctx, res.Tokens, res.User); err != nil {
		return models.User{}, err
	}
	return res.User, nil
}

// SignOut clears persisted tokens and ends in ANONYMOUS with a freshly
// minted anonymous user. A storage failure is returned but the session
// still ends anonymous.
func (s *Store) SignOut(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cur.State != StateAuthenticated {
		return fmt.Errorf("%w: sign out from %s", common.ErrInvalidTransition, s.cur.State)
	}

	gen := s.cur.Generation + 1
	s.publishLocked(ctx, Session{State: StateSigningOut, User: s.cur.User, Generation: gen})

	err := s.storage.Delete(ctx, common.TokenStorageKey)
	if err != nil {
		s.log.Warn(ctx, "failed to clear persisted tokens", "error", err)
		err = fmt.Errorf("clear persisted tokens: %w", err)
	}

	s.publishLocked(ctx, Session{State: StateAnonymous, User: models.NewAnonymousUser(), Generation: gen})
	return err
}

// publishLocked records next as current and notifies subscribers. The
// caller holds s.mu.
func (s *Store) publishLocked(ctx context.Context, next Session) {
	from := s.cur.State
	s.cur = next.clone()
	s.value.Set(s.cur.clone())

	s.metrics.SessionTransition(string(next.State))
	s.log.Info(ctx, "session transition", "from", from, "to", next.State, "generation", next.Generation)
}

func (s *Store) persistLocked(ctx context.Context, pair models.AuthTokenPair) error {
	raw, err := tokens.Serialize(pair)
	if err != nil {
		return err
	}
	if err := s.storage.Set(ctx, common.TokenStorageKey, raw); err != nil {
		return fmt.Errorf("persist tokens: %w", err)
	}
	return nil
}

func (s *Store) staleLocked(ctx context.Context, op string, gen uint64) {
	s.metrics.StaleCompletion("session")
	s.log.Warn(ctx, "discarding stale completion", "op", op, "started", gen, "current", s.cur.Generation)
}
