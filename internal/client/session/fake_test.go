package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/deskclient/internal/client/api"
	"github.com/dmitrijs2005/deskclient/internal/client/models"
	"github.com/dmitrijs2005/deskclient/internal/client/storage"
	"github.com/dmitrijs2005/deskclient/internal/client/tokens"
	"github.com/dmitrijs2005/deskclient/internal/common"
	"github.com/stretchr/testify/require"
)

// ---- fake API ----

var testUser = models.User{ID: "u-1", Name: "Ann", Nickname: "ann", Email: "ann@example.com"}

var errNotStubbed = errors.New("not stubbed")

// fakeAPI implements api.Client for session tests. Nil funcs fall back to
// a working default.
type fakeAPI struct {
	mu    sync.Mutex
	calls map[string]int

	LoginRet models.LoginResult
	LoginErr error

	RefreshFn func(ctx context.Context, refresh string) (models.AuthTokenPair, error)
	ProfileFn func(ctx context.Context) (models.User, error)
	ForkFn    func(ctx context.Context) (models.AuthToken, error)

	ProfileTokens []string
	ForkTokens    []string
}

func (f *fakeAPI) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[name]++
}

func (f *fakeAPI) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeAPI) Login(_ context.Context, _ models.Credentials) (models.LoginResult, error) {
	f.record("login")
	return f.LoginRet, f.LoginErr
}

func (f *fakeAPI) RefreshToken(ctx context.Context, refresh string) (models.AuthTokenPair, error) {
	f.record("refresh")
	if f.RefreshFn != nil {
		return f.RefreshFn(ctx, refresh)
	}
	return validPair("a2", "r2"), nil
}

func (f *fakeAPI) ForkSession(ctx context.Context) (models.AuthToken, error) {
	f.record("fork")
	tok, _ := api.AccessTokenFrom(ctx)
	f.mu.Lock()
	f.ForkTokens = append(f.ForkTokens, tok)
	f.mu.Unlock()
	if f.ForkFn != nil {
		return f.ForkFn(ctx)
	}
	return models.AuthToken{Token: "f1", Exp: expIn(time.Hour)}, nil
}

func (f *fakeAPI) Profile(ctx context.Context) (models.User, error) {
	f.record("profile")
	tok, _ := api.AccessTokenFrom(ctx)
	f.mu.Lock()
	f.ProfileTokens = append(f.ProfileTokens, tok)
	f.mu.Unlock()
	if f.ProfileFn != nil {
		return f.ProfileFn(ctx)
	}
	return testUser, nil
}

func (f *fakeAPI) ListProjects(context.Context) ([]models.Project, error) {
	return nil, errNotStubbed
}

func (f *fakeAPI) CreateProject(context.Context, string) (models.Project, error) {
	return models.Project{}, errNotStubbed
}

func (f *fakeAPI) RenameProject(context.Context, string, string) (models.Project, error) {
	return models.Project{}, errNotStubbed
}

func (f *fakeAPI) DeleteProject(context.Context, string) error { return errNotStubbed }

func (f *fakeAPI) ReadFile(context.Context, string, string) (models.Doc, error) {
	return models.Doc{}, errNotStubbed
}

// ---- helpers ----

func expIn(d time.Duration) *int64 {
	v := time.Now().Add(d).Unix()
	return &v
}

func validPair(access, refresh string) models.AuthTokenPair {
	return models.AuthTokenPair{
		Access:  &models.AuthToken{Token: access, Exp: expIn(time.Hour)},
		Refresh: &models.AuthToken{Token: refresh, Exp: expIn(24 * time.Hour)},
	}
}

func newStore(t *testing.T, st storage.Storage, a *fakeAPI) *Store {
	t.Helper()
	s := New(Config{Storage: st, API: a})
	t.Cleanup(s.Dispose)
	return s
}

// activate holds a subscription for the rest of the test and waits for
// the bootstrap to settle.
func activate(t *testing.T, s *Store) Session {
	t.Helper()
	unsub := s.Subscribe(func(Session, uint64) {})
	t.Cleanup(unsub)
	return waitState(t, s, StateAnonymous, StateAuthenticated)
}

func waitState(t *testing.T, s *Store, states ...State) Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	cur, err := s.AwaitState(ctx, states...)
	require.NoError(t, err, "waiting for %v, last state %s", states, s.Current().State)
	return cur
}

// recordStates collects every state delivered after the call.
func recordStates(t *testing.T, s *Store) func() []State {
	t.Helper()
	var (
		mu   sync.Mutex
		seen []State
	)
	unsub := s.Subscribe(func(v Session, _ uint64) {
		mu.Lock()
		seen = append(seen, v.State)
		mu.Unlock()
	})
	t.Cleanup(unsub)
	return func() []State {
		mu.Lock()
		defer mu.Unlock()
		return append([]State(nil), seen...)
	}
}

func persist(t *testing.T, st storage.Storage, p models.AuthTokenPair) {
	t.Helper()
	raw, err := tokens.Serialize(p)
	require.NoError(t, err)
	require.NoError(t, st.Set(context.Background(), common.TokenStorageKey, raw))
}

func persisted(t *testing.T, st storage.Storage) (models.AuthTokenPair, bool) {
	t.Helper()
	raw, ok, err := st.Get(context.Background(), common.TokenStorageKey)
	require.NoError(t, err)
	if !ok {
		return models.AuthTokenPair{}, false
	}
	p, err := tokens.Deserialize(raw)
	require.NoError(t, err)
	return p, true
}
