package lab

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("invalid input")
	ErrForbidden  = errors.New("forbidden")
	ErrSlugTaken  = errors.New("lab slug already in use")
	ErrCodeTaken  = errors.New("service code already used by this lab")
)

type LabRepository interface {
	Create(ctx context.Context, l *Lab) error
	GetByID(ctx context.Context, id uuid.UUID) (*Lab, error)
	Update(ctx context.Context, l *Lab) error
	SetStatus(ctx context.Context, id uuid.UUID, status string) error
	SetLogo(ctx context.Context, id uuid.UUID, key string) error
	List(ctx context.Context, f LabFilter, limit, offset int) ([]*Lab, int, error)
}

type ServiceRepository interface {
	Create(ctx context.Context, s *LabService) error
	GetByID(ctx context.Context, id uuid.UUID) (*LabService, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*LabService, error)
	Update(ctx context.Context, s *LabService) error
	List(ctx context.Context, f ServiceFilter, limit, offset int) ([]*LabService, int, error)
}
