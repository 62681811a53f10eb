package identity

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/labbook/labbook/internal/platform/auth"
)

// User statuses.
const (
	StatusActive    = "active"
	StatusSuspended = "suspended"
)

var validStatuses = map[string]bool{
	StatusActive:    true,
	StatusSuspended: true,
}

type User struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	Name         string     `db:"name" json:"name"`
	Email        string     `db:"email" json:"email"`
	Phone        string     `db:"phone" json:"phone,omitempty"`
	PasswordHash string     `db:"password_hash" json:"-"`
	Role         auth.Role  `db:"role" json:"role"`
	Status       string     `db:"status" json:"status"`
	LabID        *uuid.UUID `db:"lab_id" json:"lab_id,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

func (u *User) IsActive() bool { return u.Status == StatusActive }

// SalesExecutive is the commission profile attached to a sales_executive user.
// Name and Email are read from the owning user.
type SalesExecutive struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	UserID         uuid.UUID       `db:"user_id" json:"user_id"`
	CommissionRate decimal.Decimal `db:"commission_rate" json:"commission_rate"`
	Territory      string          `db:"territory" json:"territory,omitempty"`
	Active         bool            `db:"active" json:"active"`
	Name           string          `db:"-" json:"name,omitempty"`
	Email          string          `db:"-" json:"email,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// Profile is what /auth/me returns.
type Profile struct {
	User           *User           `json:"user"`
	SalesExecutive *SalesExecutive `json:"sales_executive,omitempty"`
	Permissions    []string        `json:"permissions"`
}

// UserFilter narrows ListUsers.
type UserFilter struct {
	Role   auth.Role
	Status string
	LabID  *uuid.UUID
	Search string
}

type RegisterInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

type CreateUserInput struct {
	Name           string           `json:"name"`
	Email          string           `json:"email"`
	Phone          string           `json:"phone"`
	Password       string           `json:"password"`
	Role           auth.Role        `json:"role"`
	LabID          *uuid.UUID       `json:"lab_id"`
	CommissionRate *decimal.Decimal `json:"commission_rate"`
	Territory      string           `json:"territory"`
}

// LoginResult carries the issued session.
type LoginResult struct {
	User      *User     `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
