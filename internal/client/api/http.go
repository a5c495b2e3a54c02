package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrijs2005/deskclient/internal/client/models"
	"github.com/dmitrijs2005/deskclient/internal/common"
	"github.com/dmitrijs2005/deskclient/internal/logging"
)

// TokenExpiredMessage is the error body the backend sends with a 401 when
// the access token is past its expiry, as opposed to invalid.
const TokenExpiredMessage = "token expired"

// HTTPClient talks JSON over HTTP to the workspace backend.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	log     logging.Logger
}

// NewHTTPClient builds a client for baseURL (e.g. "http://127.0.0.1:8080/api").
func NewHTTPClient(baseURL string, timeout time.Duration, log logging.Logger) *HTTPClient {
	if log == nil {
		log = logging.Nop()
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

type errorBody struct {
	Error string `json:"error"`
}

type nameBody struct {
	Name string `json:"name"`
}

type refreshBody struct {
	RefreshToken string `json:"refresh_token"`
}

func (c *HTTPClient) Login(ctx context.Context, creds models.Credentials) (models.LoginResult, error) {
	var res models.LoginResult
	err := c.do(ctx, http.MethodPost, "/auth/login", false, creds, &res)
	return res, err
}

func (c *HTTPClient) RefreshToken(ctx context.Context, refreshToken string) (models.AuthTokenPair, error) {
	var res models.AuthTokenPair
	err := c.do(ctx, http.MethodPost, "/auth/refresh", false, refreshBody{RefreshToken: refreshToken}, &res)
	return res, err
}

func (c *HTTPClient) ForkSession(ctx context.Context) (models.AuthToken, error) {
	var res models.AuthToken
	err := c.do(ctx, http.MethodPost, "/auth/fork", true, nil, &res)
	return res, err
}

func (c *HTTPClient) Profile(ctx context.Context) (models.User, error) {
	var res models.User
	err := c.do(ctx, http.MethodGet, "/me", true, nil, &res)
	return res, err
}

func (c *HTTPClient) ListProjects(ctx context.Context) ([]models.Project, error) {
	var res []models.Project
	err := c.do(ctx, http.MethodGet, "/projects", true, nil, &res)
	return res, err
}

func (c *HTTPClient) CreateProject(ctx context.Context, name string) (models.Project, error) {
	var res models.Project
	err := c.do(ctx, http.MethodPost, "/projects", true, nameBody{Name: name}, &res)
	return res, err
}

func (c *HTTPClient) RenameProject(ctx context.Context, id, name string) (models.Project, error) {
	var res models.Project
	err := c.do(ctx, http.MethodPatch, "/projects/"+url.PathEscape(id), true, nameBody{Name: name}, &res)
	return res, err
}

func (c *HTTPClient) DeleteProject(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/projects/"+url.PathEscape(id), true, nil, nil)
}

func (c *HTTPClient) ReadFile(ctx context.Context, project, id string) (models.Doc, error) {
	var res models.Doc
	path := "/projects/" + url.PathEscape(project) + "/files/" + url.PathEscape(id)
	if err := c.do(ctx, http.MethodGet, path, true, nil, &res); err != nil {
		return models.Doc{}, err
	}
	return res, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, authorized bool, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authorized {
		token, ok := AccessTokenFrom(ctx)
		if !ok {
			return ErrUnauthorized
		}
		req.Header.Set(common.AuthorizationHeaderName, "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		err := mapStatus(resp)
		c.log.Debug(ctx, "api request failed", "method", method, "path", path, "status", resp.StatusCode, "error", err)
		return err
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// mapStatus converts an error response to the package sentinels.
func mapStatus(resp *http.Response) error {
	var eb errorBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &eb); err != nil || eb.Error == "" {
		eb.Error = strings.TrimSpace(string(raw))
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized && eb.Error == TokenExpiredMessage:
		return ErrTokenExpired
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	default:
		return &StatusError{Code: resp.StatusCode, Message: eb.Error}
	}
}

// StatusError is an error response not covered by the sentinels.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status %d", e.Code)
	}
	return fmt.Sprintf("api error: status %d: %s", e.Code, e.Message)
}

// IsRetryableAuth reports whether err means the access token should be
// refreshed and the request repeated once.
func IsRetryableAuth(err error) bool {
	return errors.Is(err, ErrTokenExpired)
}
