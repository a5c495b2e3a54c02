package apitest

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/deskclient/internal/client/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func withUser(r *http.Request, userID string) context.Context {
	return context.WithValue(r.Context(), ctxUserKey{}, userID)
}

func userFrom(r *http.Request) string {
	id, _ := r.Context().Value(ctxUserKey{}).(string)
	return id
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds models.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.users[creds.Email]
	if !ok || acc.password != creds.Password {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, models.LoginResult{Tokens: s.issuePairLocked(acc.user.ID), User: acc.user})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	grant, ok := s.refresh[body.RefreshToken]
	if !ok || !s.now().Before(grant.exp) {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	delete(s.refresh, body.RefreshToken)
	writeJSON(w, http.StatusOK, s.issuePairLocked(grant.userID))
}

func (s *Server) handleFork(w http.ResponseWriter, r *http.Request) {
	exp := s.now().Add(5 * time.Minute)
	e := exp.Unix()
	writeJSON(w, http.StatusOK, models.AuthToken{Token: s.sign(userFrom(r), exp, true), Exp: &e})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id := userFrom(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, acc := range s.users {
		if acc.user.ID == id {
			writeJSON(w, http.StatusOK, acc.user)
			return
		}
	}
	writeError(w, http.StatusNotFound, "no such user")
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Project{}
	for _, p := range s.projects[userFrom(r)] {
		if !p.IsDeleted() {
			out = append(out, p)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Name) == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}

	id := uuid.NewString()
	p := models.Project{
		ID:        id,
		Name:      body.Name,
		Shortcode: strings.ToUpper(id[:4]),
		Members:   []models.ProjectMember{{ID: userFrom(r), Role: models.RoleAdmin}},
	}

	s.mu.Lock()
	s.projects[userFrom(r)] = append(s.projects[userFrom(r)], p)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleRenameProject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Name) == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}

	id := chi.URLParam(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.projects[userFrom(r)]
	for i := range list {
		if list[i].ID == id && !list[i].IsDeleted() {
			list[i].Name = body.Name
			writeJSON(w, http.StatusOK, list[i])
			return
		}
	}
	writeError(w, http.StatusNotFound, "no such project")
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.projects[userFrom(r)]
	for i := range list {
		if list[i].ID == id && !list[i].IsDeleted() {
			now := s.now().UTC()
			list[i].DeletedAt = &now
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeError(w, http.StatusNotFound, "no such project")
}

func (s *Server) handleReadFile(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "project") + "/" + chi.URLParam(r, "id")
	s.mu.Lock()
	d, ok := s.docs[key]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "no such file")
		return
	}
	writeJSON(w, http.StatusOK, d)
}
