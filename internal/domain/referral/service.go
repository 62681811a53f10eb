// Package referral owns sales-executive referral codes and the commissions
// they earn when referred bookings complete.
package referral

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/labbook/labbook/internal/domain/identity"
	"github.com/labbook/labbook/internal/platform/auth"
)

const (
	generatedCodeLength = 8
	codeAlphabet        = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	maxGenerateAttempts = 5
)

var codeRe = regexp.MustCompile(`^[A-Z0-9]{4,20}$`)

// ExecutiveLookup resolves the sales executive that owns a code.
type ExecutiveLookup interface {
	GetSalesExecutive(ctx context.Context, id uuid.UUID) (*identity.SalesExecutive, error)
}

// Service manages referral codes.
type Service struct {
	codes  CodeRepository
	execs  ExecutiveLookup
	now    func() time.Time
	logger zerolog.Logger
}

func NewService(codes CodeRepository, execs ExecutiveLookup) *Service {
	return &Service{codes: codes, execs: execs, now: time.Now, logger: zerolog.Nop()}
}

func (s *Service) SetLogger(l zerolog.Logger) { s.logger = l }

func canManage(p *auth.Principal, salesExecID uuid.UUID) bool {
	if p.IsAdmin() {
		return true
	}
	return p != nil && p.SalesExecID != nil && *p.SalesExecID == salesExecID
}

// CreateCode issues a code for the caller, or for in.SalesExecID when the
// caller is an admin. A blank code is generated.
func (s *Service) CreateCode(ctx context.Context, p *auth.Principal, in CreateCodeInput) (*ReferralCode, error) {
	var execID uuid.UUID
	switch {
	case p.IsAdmin():
		if in.SalesExecID == nil {
			return nil, fmt.Errorf("%w: sales_exec_id is required", ErrValidation)
		}
		execID = *in.SalesExecID
	case p != nil && p.SalesExecID != nil:
		execID = *p.SalesExecID
	default:
		return nil, ErrForbidden
	}

	exec, err := s.execs.GetSalesExecutive(ctx, execID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !exec.Active {
		return nil, ErrExecutiveInactive
	}

	if in.DiscountPercent.IsNegative() || in.DiscountPercent.GreaterThan(MaxDiscountPercent) {
		return nil, fmt.Errorf("%w: discount_percent must be between 0 and %s", ErrValidation, MaxDiscountPercent)
	}
	if in.MaxUses != nil && *in.MaxUses < 1 {
		return nil, fmt.Errorf("%w: max_uses must be positive", ErrValidation)
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(s.now()) {
		return nil, fmt.Errorf("%w: expires_at must be in the future", ErrValidation)
	}

	c := &ReferralCode{
		SalesExecID:     execID,
		DiscountPercent: in.DiscountPercent.Round(2),
		MaxUses:         in.MaxUses,
		Active:          true,
		ExpiresAt:       in.ExpiresAt,
	}

	code := normalizeCode(in.Code)
	if code != "" {
		if !codeRe.MatchString(code) {
			return nil, fmt.Errorf("%w: code must be 4-20 characters of A-Z and 0-9", ErrValidation)
		}
		c.Code = code
		if err := s.codes.Create(ctx, c); err != nil {
			return nil, err
		}
	} else {
		if err := s.createGenerated(ctx, c); err != nil {
			return nil, err
		}
	}

	s.logger.Info().Str("code", c.Code).Str("sales_exec_id", execID.String()).Msg("referral code created")
	return c, nil
}

func (s *Service) createGenerated(ctx context.Context, c *ReferralCode) error {
	for i := 0; i < maxGenerateAttempts; i++ {
		code, err := GenerateCode(generatedCodeLength)
		if err != nil {
			return err
		}
		c.Code = code
		err = s.codes.Create(ctx, c)
		if !errors.Is(err, ErrCodeTaken) {
			return err
		}
	}
	return fmt.Errorf("could not generate a unique code: %w", ErrCodeTaken)
}

func (s *Service) GetCode(ctx context.Context, p *auth.Principal, id uuid.UUID) (*ReferralCode, error) {
	c, err := s.codes.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canManage(p, c.SalesExecID) {
		return nil, ErrNotFound
	}
	return c, nil
}

// ListCodes lists the caller's own codes. Admins see every code and may
// filter by executive.
func (s *Service) ListCodes(ctx context.Context, p *auth.Principal, f CodeFilter, limit, offset int) ([]*ReferralCode, int, error) {
	if !p.IsAdmin() {
		if p == nil || p.SalesExecID == nil {
			return nil, 0, ErrForbidden
		}
		f.SalesExecID = p.SalesExecID
	}
	return s.codes.List(ctx, f, limit, offset)
}

func (s *Service) DeactivateCode(ctx context.Context, p *auth.Principal, id uuid.UUID) (*ReferralCode, error) {
	c, err := s.GetCode(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if !c.Active {
		return c, nil
	}
	if err := s.codes.SetActive(ctx, id, false); err != nil {
		return nil, err
	}
	c.Active = false
	s.logger.Info().Str("code", c.Code).Msg("referral code deactivated")
	return c, nil
}

// Resolve returns the code when it can be applied to a new booking.
func (s *Service) Resolve(ctx context.Context, code string) (*ReferralCode, error) {
	c, err := s.codes.GetByCode(ctx, normalizeCode(code))
	if err != nil {
		return nil, err
	}
	if err := c.Usable(s.now()); err != nil {
		return nil, err
	}
	exec, err := s.execs.GetSalesExecutive(ctx, c.SalesExecID)
	if err != nil {
		return nil, fmt.Errorf("resolve code owner: %w", err)
	}
	if !exec.Active {
		return nil, ErrExecutiveInactive
	}
	return c, nil
}

// ValidateCode answers whether code is currently usable without exposing
// anything about its owner.
func (s *Service) ValidateCode(ctx context.Context, code string) (*Validation, error) {
	v := &Validation{Code: normalizeCode(code)}
	c, err := s.Resolve(ctx, code)
	switch {
	case err == nil:
		v.Valid = true
		v.DiscountPercent = c.DiscountPercent
	case errors.Is(err, ErrNotFound):
		v.Reason = "unknown code"
	case errors.Is(err, ErrCodeInactive), errors.Is(err, ErrExecutiveInactive):
		v.Reason = "code is no longer active"
	case errors.Is(err, ErrCodeExpired):
		v.Reason = "code has expired"
	case errors.Is(err, ErrCodeExhausted):
		v.Reason = "code has reached its usage limit"
	default:
		return nil, err
	}
	return v, nil
}

// GenerateCode returns n random characters from an alphabet without the
// easily confused 0/O and 1/I.
func GenerateCode(n int) (string, error) {
	size := big.NewInt(int64(len(codeAlphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		b[i] = codeAlphabet[idx.Int64()]
	}
	return string(b), nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
