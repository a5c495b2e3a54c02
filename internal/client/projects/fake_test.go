package projects

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/deskclient/internal/client/api"
	"github.com/dmitrijs2005/deskclient/internal/client/models"
	"github.com/dmitrijs2005/deskclient/internal/client/observable"
	"github.com/dmitrijs2005/deskclient/internal/client/session"
	"github.com/stretchr/testify/require"
)

// ---- fake session ----

type fakeSession struct {
	value *observable.Value[session.Session]
}

func newFakeSession() *fakeSession {
	return &fakeSession{value: observable.New(authed(1))}
}

func authed(gen uint64) session.Session {
	return session.Session{
		State:      session.StateAuthenticated,
		User:       &models.User{ID: "u-1", Name: "Ann"},
		Tokens:     models.AuthTokenPair{Access: &models.AuthToken{Token: "tok"}},
		Generation: gen,
	}
}

func (f *fakeSession) Current() session.Session { return f.value.Load() }

func (f *fakeSession) Subscribe(fn observable.Listener[session.Session]) func() {
	return f.value.Subscribe(fn)
}

func (f *fakeSession) Authorized(ctx context.Context, fn func(ctx context.Context) error) error {
	cur := f.Current()
	if !cur.Authenticated() {
		return api.ErrUnauthorized
	}
	return fn(api.WithAccessToken(ctx, cur.AccessToken()))
}

func (f *fakeSession) set(s session.Session) { f.value.Set(s) }

// ---- fake API ----

var errNotStubbed = errors.New("not stubbed")

type fakeAPI struct {
	mu    sync.Mutex
	calls map[string]int

	ListRet  []models.Project
	ListFn   func(ctx context.Context) ([]models.Project, error)
	CreateFn func(ctx context.Context, name string) (models.Project, error)
	RenameFn func(ctx context.Context, id, name string) (models.Project, error)
	DeleteFn func(ctx context.Context, id string) error
	ReadFn   func(ctx context.Context, project, id string) (models.Doc, error)
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

func (f *fakeAPI) setList(ps ...models.Project) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ListRet = ps
}

func (f *fakeAPI) Login(context.Context, models.Credentials) (models.LoginResult, error) {
	return models.LoginResult{}, errNotStubbed
}

func (f *fakeAPI) RefreshToken(context.Context, string) (models.AuthTokenPair, error) {
	return models.AuthTokenPair{}, errNotStubbed
}

func (f *fakeAPI) ForkSession(context.Context) (models.AuthToken, error) {
	return models.AuthToken{}, errNotStubbed
}

func (f *fakeAPI) Profile(context.Context) (models.User, error) {
	return models.User{}, errNotStubbed
}

func (f *fakeAPI) ListProjects(ctx context.Context) ([]models.Project, error) {
	f.record("list")
	if f.ListFn != nil {
		return f.ListFn(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Project, len(f.ListRet))
	copy(out, f.ListRet)
	return out, nil
}

func (f *fakeAPI) CreateProject(ctx context.Context, name string) (models.Project, error) {
	f.record("create")
	if f.CreateFn != nil {
		return f.CreateFn(ctx, name)
	}
	return models.Project{ID: "p-new", Name: name}, nil
}

func (f *fakeAPI) RenameProject(ctx context.Context, id, name string) (models.Project, error) {
	f.record("rename")
	if f.RenameFn != nil {
		return f.RenameFn(ctx, id, name)
	}
	return models.Project{ID: id, Name: name}, nil
}

func (f *fakeAPI) DeleteProject(ctx context.Context, id string) error {
	f.record("delete")
	if f.DeleteFn != nil {
		return f.DeleteFn(ctx, id)
	}
	return nil
}

func (f *fakeAPI) ReadFile(ctx context.Context, project, id string) (models.Doc, error) {
	f.record("read")
	if f.ReadFn != nil {
		return f.ReadFn(ctx, project, id)
	}
	return models.Doc{}, errNotStubbed
}

// ---- helpers ----

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newStore(t *testing.T, sess *fakeSession, a *fakeAPI, clk *clock) *Store {
	t.Helper()
	cfg := Config{Session: sess, API: a, Freshness: time.Minute}
	if clk != nil {
		cfg.Now = clk.Now
	}
	s := New(cfg)
	t.Cleanup(s.Dispose)
	return s
}

func seed(t *testing.T, s *Store, a *fakeAPI, ps ...models.Project) {
	t.Helper()
	a.setList(ps...)
	require.NoError(t, s.Refresh(context.Background()))
}

func names(ps []models.Project) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Name)
	}
	return out
}

// gate blocks a fake call until released and signals when it is entered.
type gate struct {
	entered chan struct{}
	release chan struct{}
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}, 8), release: make(chan struct{})}
}

func (g *gate) wait() {
	g.entered <- struct{}{}
	<-g.release
}

func (g *gate) awaitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-g.entered:
	case <-time.After(3 * time.Second):
		t.Fatal("call never started")
	}
}
