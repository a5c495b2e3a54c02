package models

import "time"

// Role is a member's permission level inside a project.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleMember
}

type ProjectMember struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Role  Role   `json:"role"`
}

// Project is a workspace visible to the current session. A project with
// DeletedAt set is soft-deleted: hidden from listings, still addressable by id.
type Project struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Shortcode string          `json:"shortcode"`
	DeletedAt *time.Time      `json:"deleted_at,omitempty"`
	Members   []ProjectMember `json:"members,omitempty"`
}

// IsDeleted reports whether the project is soft-deleted.
func (p Project) IsDeleted() bool {
	return p.DeletedAt != nil
}

// Clone returns a copy that shares no mutable state with p.
func (p Project) Clone() Project {
	c := p
	if p.DeletedAt != nil {
		t := *p.DeletedAt
		c.DeletedAt = &t
	}
	if p.Members != nil {
		c.Members = append([]ProjectMember(nil), p.Members...)
	}
	return c
}
