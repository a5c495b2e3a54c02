package session

import "github.com/dmitrijs2005/deskclient/internal/client/models"

// State is the session lifecycle position.
type State string

const (
	StateUninitialized State = "UNINITIALIZED"
	StateLoading       State = "LOADING"
	StateAnonymous     State = "ANONYMOUS"
	StateAuthenticated State = "AUTHENTICATED"
	StateSigningOut    State = "SIGNING_OUT"
)

// Session is the snapshot published on every transition. Snapshots are
// immutable once published; the store never mutates one in place.
//
// Generation increases whenever the identity behind the session may have
// changed (sign-in, sign-out, a write from another tab). Async work records
// the generation it started under and drops its result if it moved.
type Session struct {
	State      State
	User       *models.User
	Tokens     models.AuthTokenPair
	Generation uint64
}

// Authenticated reports whether requests can be made on the user's behalf.
func (s Session) Authenticated() bool { return s.State == StateAuthenticated }

// AccessToken returns the raw access token, or "" when there is none.
func (s Session) AccessToken() string {
	if s.Tokens.Access == nil {
		return ""
	}
	return s.Tokens.Access.Token
}

func (s Session) clone() Session {
	out := s
	out.Tokens = s.Tokens.Clone()
	if s.User != nil {
		u := *s.User
		out.User = &u
	}
	return out
}
