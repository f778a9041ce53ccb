package auth

import (
	"github.com/unidesk/unidesk/internal/shared"
)

// Account is a login-capable identity, either an admin user or a student.
type Account struct {
	ID           int64
	Kind         shared.ActorKind
	Username     string
	FullName     string
	Department   shared.Department
	IsSuperAdmin bool
	PasswordHash string
	IsActive     bool
}

// Actor converts the account into the identity carried by requests.
func (a *Account) Actor() *shared.Actor {
	return &shared.Actor{
		ID:           a.ID,
		Kind:         a.Kind,
		Username:     a.Username,
		Department:   a.Department,
		IsSuperAdmin: a.IsSuperAdmin,
	}
}

type loginRequest struct {
	Username string `json:"username" validate:"required,max=128"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}
