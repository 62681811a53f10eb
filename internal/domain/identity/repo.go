package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("invalid input")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrSuspended          = errors.New("account suspended")
	ErrForbidden          = errors.New("forbidden")
)

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Update(ctx context.Context, u *User) error
	UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error
	SetStatus(ctx context.Context, id uuid.UUID, status string) error
	List(ctx context.Context, f UserFilter, limit, offset int) ([]*User, int, error)
}

type SalesExecutiveRepository interface {
	Create(ctx context.Context, se *SalesExecutive) error
	GetByID(ctx context.Context, id uuid.UUID) (*SalesExecutive, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*SalesExecutive, error)
	SetCommissionRate(ctx context.Context, id uuid.UUID, rate decimal.Decimal) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	List(ctx context.Context, limit, offset int) ([]*SalesExecutive, int, error)
}
