// Package api is the contract the stores call against the workspace
// backend, plus an HTTP/JSON implementation.
//
// Authorized calls read the bearer token from the context (see
// WithAccessToken); the session store decides which token goes there.
package api

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/deskclient/internal/client/models"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrTokenExpired = errors.New("token expired")
	ErrUnavailable  = errors.New("server unavailable")
	ErrNotFound     = errors.New("not found")
)

// Client is the API collaborator.
type Client interface {
	Login(ctx context.Context, creds models.Credentials) (models.LoginResult, error)
	RefreshToken(ctx context.Context, refreshToken string) (models.AuthTokenPair, error)
	ForkSession(ctx context.Context) (models.AuthToken, error)
	Profile(ctx context.Context) (models.User, error)

	ListProjects(ctx context.Context) ([]models.Project, error)
	CreateProject(ctx context.Context, name string) (models.Project, error)
	RenameProject(ctx context.Context, id, name string) (models.Project, error)
	DeleteProject(ctx context.Context, id string) error

	ReadFile(ctx context.Context, project, id string) (models.Doc, error)
}

type accessTokenKey struct{}

// WithAccessToken returns a context whose authorized API calls carry token.
func WithAccessToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, accessTokenKey{}, token)
}

// AccessTokenFrom returns the token set by WithAccessToken.
func AccessTokenFrom(ctx context.Context) (string, bool) {
	t, ok := ctx.Value(accessTokenKey{}).(string)
	return t, ok && t != ""
}
