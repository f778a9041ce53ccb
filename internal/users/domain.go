package users

import (
	"time"

	"github.com/unidesk/unidesk/internal/shared"
)

// User is an admin account as shown in the staff directory.
type User struct {
	ID           int64             `json:"id"`
	Username     string            `json:"username"`
	FullName     string            `json:"full_name"`
	Department   shared.Department `json:"department"`
	IsSuperAdmin bool              `json:"is_super_admin"`
	IsActive     bool              `json:"is_active"`
	Roles        []string          `json:"roles"`
	CreatedAt    time.Time         `json:"created_at"`
}

// ListFilters narrows the directory.
type ListFilters struct {
	Department shared.Department
	ActiveOnly bool
}
