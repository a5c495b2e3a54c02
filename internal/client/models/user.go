package models

import (
	"time"

	"github.com/google/uuid"
)

// User is the identity record rendered by the UI. An anonymous user is a
// placeholder shown before real sign-in completes; it never has an email.
type User struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Nickname   string `json:"nickname"`
	Email      string `json:"email,omitempty"`
	Domain     string `json:"domain,omitempty"`
	ProfileImg string `json:"profile_img,omitempty"`
	Timezone   string `json:"timezone,omitempty"`
	Anonymous  bool   `json:"anonymous,omitempty"`
}

// NewAnonymousUser mints a fresh placeholder identity. Every call returns a
// distinct id, so a signed-out session never reuses a previous user object.
func NewAnonymousUser() *User {
	id := uuid.NewString()
	return &User{
		ID:        id,
		Name:      "Anonymous",
		Nickname:  "anon-" + id[:8],
		Timezone:  time.Local.String(),
		Anonymous: true,
	}
}
