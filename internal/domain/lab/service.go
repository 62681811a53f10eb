package lab

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/labbook/labbook/internal/platform/auth"
	"github.com/labbook/labbook/internal/platform/blobstore"
)

var (
	slugStrip = regexp.MustCompile(`[^a-z0-9]+`)
	codeRe    = regexp.MustCompile(`^[A-Z0-9][A-Z0-9_-]{1,49}$`)
)

type Service struct {
	labs     LabRepository
	services ServiceRepository
	store    blobstore.Store
	logger   zerolog.Logger
}

func NewService(labs LabRepository, services ServiceRepository, store blobstore.Store) *Service {
	return &Service{labs: labs, services: services, store: store, logger: zerolog.Nop()}
}

func (s *Service) SetLogger(l zerolog.Logger) { s.logger = l }

func canManage(p *auth.Principal, labID uuid.UUID) bool {
	return p.IsAdmin() || p.OwnsLab(labID)
}

// -- Labs --

func (s *Service) CreateLab(ctx context.Context, l *Lab) error {
	l.Name = strings.TrimSpace(l.Name)
	if l.Name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if l.Slug == "" {
		l.Slug = Slugify(l.Name)
	} else {
		l.Slug = Slugify(l.Slug)
	}
	if l.Slug == "" {
		return fmt.Errorf("%w: slug must contain letters or digits", ErrValidation)
	}
	if l.Status == "" {
		l.Status = StatusPending
	}
	if !validLabStatuses[l.Status] {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, l.Status)
	}
	if err := s.labs.Create(ctx, l); err != nil {
		return err
	}
	s.logger.Info().Str("lab_id", l.ID.String()).Str("slug", l.Slug).Msg("lab created")
	return nil
}

// GetLab returns a lab. Labs that are not approved are only visible to
// admins and their own partners.
func (s *Service) GetLab(ctx context.Context, p *auth.Principal, id uuid.UUID) (*Lab, error) {
	l, err := s.labs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !l.IsApproved() && !canManage(p, l.ID) {
		return nil, ErrNotFound
	}
	return l, nil
}

// LabExists reports whether id names any lab, approved or not.
func (s *Service) LabExists(ctx context.Context, id uuid.UUID) (bool, error) {
	_, err := s.labs.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Service) ListLabs(ctx context.Context, p *auth.Principal, f LabFilter, limit, offset int) ([]*Lab, int, error) {
	if !p.IsAdmin() {
		f.Status = StatusApproved
	} else if f.Status != "" && !validLabStatuses[f.Status] {
		return nil, 0, fmt.Errorf("%w: invalid status %q", ErrValidation, f.Status)
	}
	return s.labs.List(ctx, f, limit, offset)
}

func (s *Service) UpdateLab(ctx context.Context, p *auth.Principal, id uuid.UUID, in LabUpdate) (*Lab, error) {
	l, err := s.labs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canManage(p, l.ID) {
		return nil, ErrForbidden
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name cannot be empty", ErrValidation)
		}
		l.Name = name
	}
	if in.Description != nil {
		l.Description = in.Description
	}
	if in.Address != nil {
		l.Address = *in.Address
	}
	if in.City != nil {
		l.City = *in.City
	}
	if in.Phone != nil {
		l.Phone = *in.Phone
	}
	if in.Email != nil {
		l.Email = *in.Email
	}
	if in.LicenseNumber != nil {
		l.LicenseNumber = *in.LicenseNumber
	}
	if err := s.labs.Update(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

func (s *Service) SetLabStatus(ctx context.Context, id uuid.UUID, status string) (*Lab, error) {
	if !validLabStatuses[status] {
		return nil, fmt.Errorf("%w: invalid status %q", ErrValidation, status)
	}
	if err := s.labs.SetStatus(ctx, id, status); err != nil {
		return nil, err
	}
	s.logger.Info().Str("lab_id", id.String()).Str("status", status).Msg("lab status changed")
	return s.labs.GetByID(ctx, id)
}

// UploadLogo stores an image for the lab and records its key.
func (s *Service) UploadLogo(ctx context.Context, p *auth.Principal, id uuid.UUID, contentType string, r io.Reader) (*Lab, error) {
	l, err := s.labs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canManage(p, l.ID) {
		return nil, ErrForbidden
	}
	data, ct, err := blobstore.ReadUpload(contentType, r)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(ct, "image/") {
		return nil, fmt.Errorf("%w: logo must be an image", blobstore.ErrInvalidContentType)
	}
	key := blobstore.Key("logos", l.ID.String(), uuid.NewString()+blobstore.ExtensionFor(ct))
	if _, err := s.store.Put(ctx, key, ct, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("store logo: %w", err)
	}
	if err := s.labs.SetLogo(ctx, l.ID, key); err != nil {
		return nil, err
	}
	if l.LogoKey != nil {
		if err := s.store.Delete(ctx, *l.LogoKey); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
			s.logger.Warn().Err(err).Str("key", *l.LogoKey).Msg("old logo not removed")
		}
	}
	l.LogoKey = &key
	return l, nil
}

func (s *Service) Logo(ctx context.Context, id uuid.UUID) (io.ReadCloser, *blobstore.Object, error) {
	l, err := s.labs.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if l.LogoKey == nil {
		return nil, nil, ErrNotFound
	}
	return s.store.Get(ctx, *l.LogoKey)
}

// -- Catalog --

func (s *Service) CreateService(ctx context.Context, p *auth.Principal, labID uuid.UUID, svc *LabService) error {
	if _, err := s.labs.GetByID(ctx, labID); err != nil {
		return err
	}
	if !canManage(p, labID) {
		return ErrForbidden
	}
	svc.LabID = labID
	svc.Name = strings.TrimSpace(svc.Name)
	svc.Code = strings.ToUpper(strings.TrimSpace(svc.Code))
	if svc.Name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if !codeRe.MatchString(svc.Code) {
		return fmt.Errorf("%w: code must be 2-50 characters of A-Z, 0-9, '-' or '_'", ErrValidation)
	}
	if svc.TurnaroundHours == 0 {
		svc.TurnaroundHours = 24
	}
	if err := validatePricing(svc); err != nil {
		return err
	}
	svc.Active = true
	return s.services.Create(ctx, svc)
}

func (s *Service) GetService(ctx context.Context, p *auth.Principal, id uuid.UUID) (*LabService, error) {
	svc, err := s.services.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !svc.Active && !canManage(p, svc.LabID) {
		return nil, ErrNotFound
	}
	return svc, nil
}

// ServicesByIDs returns the catalog entries for ids. Missing ids are simply
// absent from the result.
func (s *Service) ServicesByIDs(ctx context.Context, ids []uuid.UUID) ([]*LabService, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.services.GetByIDs(ctx, ids)
}

// GetLabForBooking returns a lab without visibility rules; callers check status.
func (s *Service) GetLabForBooking(ctx context.Context, id uuid.UUID) (*Lab, error) {
	return s.labs.GetByID(ctx, id)
}

func (s *Service) UpdateService(ctx context.Context, p *auth.Principal, id uuid.UUID, in ServiceUpdate) (*LabService, error) {
	svc, err := s.services.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canManage(p, svc.LabID) {
		return nil, ErrForbidden
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name cannot be empty", ErrValidation)
		}
		svc.Name = name
	}
	if in.Category != nil {
		svc.Category = *in.Category
	}
	if in.Description != nil {
		svc.Description = in.Description
	}
	if in.Price != nil {
		svc.Price = *in.Price
	}
	if in.DiscountPrice != nil {
		svc.DiscountPrice = *in.DiscountPrice
	}
	if in.TurnaroundHours != nil {
		svc.TurnaroundHours = *in.TurnaroundHours
	}
	if in.HomeCollection != nil {
		svc.HomeCollection = *in.HomeCollection
	}
	if in.Active != nil {
		svc.Active = *in.Active
	}
	if err := validatePricing(svc); err != nil {
		return nil, err
	}
	if err := s.services.Update(ctx, svc); err != nil {
		return nil, err
	}
	return svc, nil
}

// DeleteService deactivates a catalog entry. Past bookings keep referencing it.
func (s *Service) DeleteService(ctx context.Context, p *auth.Principal, id uuid.UUID) error {
	inactive := false
	_, err := s.UpdateService(ctx, p, id, ServiceUpdate{Active: &inactive})
	return err
}

// ListServices lists catalog entries. Inactive entries are only listed for
// admins and the lab's own partner.
func (s *Service) ListServices(ctx context.Context, p *auth.Principal, f ServiceFilter, limit, offset int) ([]*LabService, int, error) {
	if f.LabID == nil || !canManage(p, *f.LabID) {
		f.ActiveOnly = true
	}
	return s.services.List(ctx, f, limit, offset)
}

func validatePricing(svc *LabService) error {
	if !svc.Price.IsPositive() {
		return fmt.Errorf("%w: price must be positive", ErrValidation)
	}
	if svc.DiscountPrice.Valid {
		d := svc.DiscountPrice.Decimal
		if !d.IsPositive() || d.GreaterThanOrEqual(svc.Price) {
			return fmt.Errorf("%w: discount_price must be positive and below price", ErrValidation)
		}
	}
	if svc.TurnaroundHours < 1 || svc.TurnaroundHours > 24*60 {
		return fmt.Errorf("%w: turnaround_hours must be between 1 and 1440", ErrValidation)
	}
	svc.Price = svc.Price.Round(2)
	if svc.DiscountPrice.Valid {
		svc.DiscountPrice.Decimal = svc.DiscountPrice.Decimal.Round(2)
	}
	return nil
}

// Slugify lower-cases s and collapses everything except letters and digits
// into single dashes.
func Slugify(s string) string {
	return strings.Trim(slugStrip.ReplaceAllString(strings.ToLower(s), "-"), "-")
}
