// Package apitest runs an in-process fake of the workspace backend for
// tests of the HTTP client and the stores wired on top of it.
package apitest

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/deskclient/internal/client/models"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenExpired = "token expired"

// Server is a fake backend. Zero TTLs default to one hour for access and
// one day for refresh tokens.
type Server struct {
	*httptest.Server

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	clockMu sync.Mutex
	clock   func() time.Time

	mu       sync.Mutex
	secret   []byte
	users    map[string]*account
	refresh  map[string]refreshGrant
	projects map[string][]models.Project
	docs     map[string]models.Doc
	failures map[string][]int
	calls    map[string]int
}

type account struct {
	password string
	user     models.User
}

type refreshGrant struct {
	userID string
	exp    time.Time
}

type claims struct {
	jwt.RegisteredClaims
	Fork bool `json:"fork,omitempty"`
}

// NewServer starts a fake backend. Callers must Close it.
func NewServer() *Server {
	s := &Server{
		clock:    time.Now,
		secret:   []byte(uuid.NewString()),
		users:    make(map[string]*account),
		refresh:  make(map[string]refreshGrant),
		projects: make(map[string][]models.Project),
		docs:     make(map[string]models.Doc),
		failures: make(map[string][]int),
		calls:    make(map[string]int),
	}
	s.Server = httptest.NewServer(s.routes())
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.countAndFail)

	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/refresh", s.handleRefresh)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAccess)
		r.Post("/auth/fork", s.handleFork)
		r.Get("/me", s.handleMe)
		r.Get("/projects", s.handleListProjects)
		r.Post("/projects", s.handleCreateProject)
		r.Patch("/projects/{id}", s.handleRenameProject)
		r.Delete("/projects/{id}", s.handleDeleteProject)
		r.Get("/projects/{project}/files/{id}", s.handleReadFile)
	})
	return r
}

// AddUser registers an account and returns its identity.
func (s *Server) AddUser(email, password, name string) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := models.User{ID: uuid.NewString(), Name: name, Nickname: strings.Split(email, "@")[0], Email: email, Timezone: "UTC"}
	s.users[email] = &account{password: password, user: u}
	return u
}

// AddProject seeds a project visible to userID.
func (s *Server) AddProject(userID string, p models.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[userID] = append(s.projects[userID], p)
}

// PutDoc seeds a document.
func (s *Server) PutDoc(project, id string, d models.Doc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[project+"/"+id] = d
}

// FailNext makes the next call to route ("POST /projects") answer status.
func (s *Server) FailNext(route string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = append(s.failures[route], status)
}

// Calls returns how many requests hit route. Both the concrete path
// ("DELETE /projects/p1") and, for routed requests, the chi pattern
// ("DELETE /projects/{id}") are counted.
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// IssuePair mints tokens for userID directly, bypassing login.
func (s *Server) IssuePair(userID string) models.AuthTokenPair {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issuePairLocked(userID)
}

// SetNow replaces the server's clock, e.g. to make issued tokens look
// expired to the server while the client still considers them valid.
func (s *Server) SetNow(fn func() time.Time) {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	s.clock = fn
}

func (s *Server) now() time.Time {
	s.clockMu.Lock()
	fn := s.clock
	s.clockMu.Unlock()
	return fn()
}

func (s *Server) accessTTL() time.Duration {
	if s.AccessTTL != 0 {
		return s.AccessTTL
	}
	return time.Hour
}

func (s *Server) refreshTTL() time.Duration {
	if s.RefreshTTL != 0 {
		return s.RefreshTTL
	}
	return 24 * time.Hour
}

func (s *Server) issuePairLocked(userID string) models.AuthTokenPair {
	now := s.now()
	accessExp := now.Add(s.accessTTL())
	access := s.sign(userID, accessExp, false)

	refreshExp := now.Add(s.refreshTTL())
	refresh := uuid.NewString()
	s.refresh[refresh] = refreshGrant{userID: userID, exp: refreshExp}

	ae, re := accessExp.Unix(), refreshExp.Unix()
	return models.AuthTokenPair{
		Access:  &models.AuthToken{Token: access, Exp: &ae},
		Refresh: &models.AuthToken{Token: refresh, Exp: &re},
	}
}

func (s *Server) sign(userID string, exp time.Time, fork bool) string {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(s.now()),
			ID:        uuid.NewString(),
		},
		Fork: fork,
	})
	signed, err := tok.SignedString(s.secret)
	if err != nil {
		panic(err)
	}
	return signed
}

type ctxUserKey struct{}

func (s *Server) requireAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		c := &claims{}
		_, err := jwt.ParseWithClaims(raw, c, func(t *jwt.Token) (any, error) {
			return s.secret, nil
		}, jwt.WithTimeFunc(s.now), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			writeError(w, http.StatusUnauthorized, tokenExpired)
			return
		case err != nil || c.Fork:
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r, c.Subject)))
	})
}

func (s *Server) countAndFail(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.Method + " " + r.URL.Path

		s.mu.Lock()
		status := 0
		if q := s.failures[route]; len(q) > 0 {
			status, s.failures[route] = q[0], q[1:]
		}
		s.mu.Unlock()

		if status != 0 {
			s.record(r, route)
			writeError(w, status, http.StatusText(status))
			return
		}

		next.ServeHTTP(w, r)
		s.record(r, route)
	})
}

func (s *Server) record(r *http.Request, route string) {
	pattern := route
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		pattern = r.Method + " " + rctx.RoutePattern()
	}
	s.mu.Lock()
	s.calls[pattern]++
	if pattern != route {
		s.calls[route]++
	}
	s.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
