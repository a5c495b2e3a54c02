// Package models defines the client-side data shapes shared by the stores:
// tokens, users, projects and document trees.
package models

// AuthToken is a bearer credential with an optional expiry in epoch seconds.
// A token whose Exp is set and not in the future must not authorize requests.
type AuthToken struct {
	Token string `json:"token"`
	Exp   *int64 `json:"exp,omitempty"`
}

// AuthTokenPair is the persisted credential triple. Fork is minted to hand
// a session off to another surface and is written once per handoff.
type AuthTokenPair struct {
	Access  *AuthToken `json:"access,omitempty"`
	Refresh *AuthToken `json:"refresh,omitempty"`
	Fork    *AuthToken `json:"fork,omitempty"`
}

// IsZero reports whether the pair carries no tokens at all.
func (p AuthTokenPair) IsZero() bool {
	return p.Access == nil && p.Refresh == nil && p.Fork == nil
}

// Clone returns a deep copy so snapshots published to subscribers never
// share pointers with the store's working copy.
func (p AuthTokenPair) Clone() AuthTokenPair {
	return AuthTokenPair{
		Access:  p.Access.clone(),
		Refresh: p.Refresh.clone(),
		Fork:    p.Fork.clone(),
	}
}

func (t *AuthToken) clone() *AuthToken {
	if t == nil {
		return nil
	}
	c := &AuthToken{Token: t.Token}
	if t.Exp != nil {
		exp := *t.Exp
		c.Exp = &exp
	}
	return c
}

// Credentials are what a user types into the sign-in form.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResult is returned by the login endpoint.
type LoginResult struct {
	Tokens AuthTokenPair `json:"tokens"`
	User   User          `json:"user"`
}
