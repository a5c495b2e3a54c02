package api_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/dmitrijs2005/deskclient/internal/client/api"
	"github.com/dmitrijs2005/deskclient/internal/client/api/apitest"
	"github.com/dmitrijs2005/deskclient/internal/client/models"
	"github.com/dmitrijs2005/deskclient/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*apitest.Server, *api.HTTPClient) {
	t.Helper()
	srv := apitest.NewServer()
	t.Cleanup(srv.Close)
	return srv, api.NewHTTPClient(srv.URL+"/", 5*time.Second, logging.Nop())
}

func login(t *testing.T, c *api.HTTPClient) (context.Context, models.LoginResult) {
	t.Helper()
	res, err := c.Login(context.Background(), models.Credentials{Email: "ann@example.com", Password: "pw"})
	require.NoError(t, err)
	return api.WithAccessToken(context.Background(), res.Tokens.Access.Token), res
}

func TestHTTPClient_LoginAndProfile(t *testing.T) {
	srv, c := setup(t)
	want := srv.AddUser("ann@example.com", "pw", "Ann")

	ctx, res := login(t, c)
	require.Equal(t, want, res.User)
	require.NotNil(t, res.Tokens.Access.Exp)
	require.NotNil(t, res.Tokens.Refresh)

	me, err := c.Profile(ctx)
	require.NoError(t, err)
	require.Equal(t, want, me)
}

func TestHTTPClient_LoginWrongPassword(t *testing.T) {
	srv, c := setup(t)
	srv.AddUser("ann@example.com", "pw", "Ann")

	_, err := c.Login(context.Background(), models.Credentials{Email: "ann@example.com", Password: "nope"})
	require.ErrorIs(t, err, api.ErrUnauthorized)
}

func TestHTTPClient_AuthorizedCallWithoutToken(t *testing.T) {
	_, c := setup(t)

	_, err := c.ListProjects(context.Background())
	require.ErrorIs(t, err, api.ErrUnauthorized)
}

func TestHTTPClient_ExpiredAccessMapsToTokenExpired(t *testing.T) {
	srv, c := setup(t)
	srv.AddUser("ann@example.com", "pw", "Ann")
	srv.AccessTTL = -time.Minute

	ctx, res := login(t, c)

	_, err := c.ListProjects(ctx)
	require.ErrorIs(t, err, api.ErrTokenExpired)
	require.True(t, api.IsRetryableAuth(err))

	pair, err := c.RefreshToken(context.Background(), res.Tokens.Refresh.Token)
	require.NoError(t, err)
	require.NotEqual(t, res.Tokens.Refresh.Token, pair.Refresh.Token)

	_, err = c.RefreshToken(context.Background(), res.Tokens.Refresh.Token)
	require.ErrorIs(t, err, api.ErrUnauthorized, "refresh tokens rotate")
}

func TestHTTPClient_ProjectCRUD(t *testing.T) {
	srv, c := setup(t)
	srv.AddUser("ann@example.com", "pw", "Ann")
	ctx, _ := login(t, c)

	p, err := c.CreateProject(ctx, "Foo")
	require.NoError(t, err)
	require.Equal(t, "Foo", p.Name)
	require.NotEmpty(t, p.ID)

	p, err = c.RenameProject(ctx, p.ID, "Bar")
	require.NoError(t, err)
	require.Equal(t, "Bar", p.Name)

	list, err := c.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, c.DeleteProject(ctx, p.ID))
	list, err = c.ListProjects(ctx)
	require.NoError(t, err)
	require.Empty(t, list)

	err = c.DeleteProject(ctx, p.ID)
	require.ErrorIs(t, err, api.ErrNotFound)
}

func TestHTTPClient_StatusMapping(t *testing.T) {
	srv, c := setup(t)
	srv.AddUser("ann@example.com", "pw", "Ann")
	ctx, _ := login(t, c)

	srv.FailNext("GET /projects", http.StatusServiceUnavailable)
	_, err := c.ListProjects(ctx)
	require.ErrorIs(t, err, api.ErrUnavailable)

	srv.FailNext("POST /projects", http.StatusConflict)
	_, err = c.CreateProject(ctx, "x")
	var se *api.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusConflict, se.Code)

	srv.FailNext("GET /me", http.StatusForbidden)
	_, err = c.Profile(ctx)
	require.ErrorIs(t, err, api.ErrUnauthorized)
}

func TestHTTPClient_ReadFileAndFork(t *testing.T) {
	srv, c := setup(t)
	srv.AddUser("ann@example.com", "pw", "Ann")
	ctx, _ := login(t, c)

	doc := models.NewDoc(models.Block{Type: "paragraph", Content: []models.Block{{Type: "text"}}})
	srv.PutDoc("p1", "readme", doc)

	got, err := c.ReadFile(ctx, "p1", "readme")
	require.NoError(t, err)
	require.Equal(t, doc, got)

	_, err = c.ReadFile(ctx, "p1", "missing")
	require.ErrorIs(t, err, api.ErrNotFound)

	fork, err := c.ForkSession(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, fork.Token)
	require.NotNil(t, fork.Exp)

	_, err = c.Profile(api.WithAccessToken(context.Background(), fork.Token))
	require.ErrorIs(t, err, api.ErrUnauthorized, "fork tokens do not authorize API calls")
}

func TestHTTPClient_ServerDown(t *testing.T) {
	srv, c := setup(t)
	srv.Close()

	_, err := c.Login(context.Background(), models.Credentials{Email: "a", Password: "b"})
	require.ErrorIs(t, err, api.ErrUnavailable)
}

func TestAccessTokenContext(t *testing.T) {
	_, ok := api.AccessTokenFrom(context.Background())
	require.False(t, ok)

	_, ok = api.AccessTokenFrom(api.WithAccessToken(context.Background(), ""))
	require.False(t, ok)

	tok, ok := api.AccessTokenFrom(api.WithAccessToken(context.Background(), "t"))
	require.True(t, ok)
	require.Equal(t, "t", tok)
}
