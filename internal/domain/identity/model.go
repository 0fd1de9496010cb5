// Package identity manages user accounts and credential checks.
package identity

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trialworks/protocol-server/internal/platform/apperr"
	"github.com/trialworks/protocol-server/internal/platform/auth"
)

// User maps to the users table. PasswordHash never leaves the server.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (u *User) Normalize() {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	u.Name = strings.TrimSpace(u.Name)
}

func (u *User) Validate() error {
	if u.Email == "" || !strings.Contains(u.Email, "@") {
		return apperr.Invalid("a valid email is required")
	}
	if u.Name == "" {
		return apperr.Invalid("name is required")
	}
	if !auth.ValidRole(u.Role) {
		return apperr.Invalid("invalid role %q", u.Role)
	}
	return nil
}
