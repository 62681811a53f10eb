package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/labbook/labbook/internal/platform/auth"
	"github.com/labbook/labbook/internal/platform/db"
	"github.com/labbook/labbook/internal/platform/notification"
)

const minPasswordLength = 8

// SessionIssuer issues and revokes session tokens.
type SessionIssuer interface {
	Issue(s auth.Subject) (string, time.Time, error)
	Revoke(p *auth.Principal)
	RevokeUser(userID uuid.UUID)
}

// LabLookup confirms a lab exists before a partner is attached to it.
type LabLookup interface {
	LabExists(ctx context.Context, id uuid.UUID) (bool, error)
}

// Notifier queues a templated email.
type Notifier interface {
	Notify(ctx context.Context, templateID, to string, data map[string]string) error
}

type Service struct {
	users       UserRepository
	execs       SalesExecutiveRepository
	tx          db.TxRunner
	sessions    SessionIssuer
	defaultRate decimal.Decimal
	bcryptCost  int

	labs     LabLookup
	notifier Notifier
	logger   zerolog.Logger
}

func NewService(users UserRepository, execs SalesExecutiveRepository, tx db.TxRunner, sessions SessionIssuer, defaultRate decimal.Decimal) *Service {
	return &Service{
		users:       users,
		execs:       execs,
		tx:          tx,
		sessions:    sessions,
		defaultRate: defaultRate,
		bcryptCost:  bcrypt.DefaultCost,
		logger:      zerolog.Nop(),
	}
}

func (s *Service) SetLabLookup(l LabLookup)     { s.labs = l }
func (s *Service) SetNotifier(n Notifier)       { s.notifier = n }
func (s *Service) SetLogger(l zerolog.Logger)   { s.logger = l }
func (s *Service) SetBcryptCost(cost int)       { s.bcryptCost = cost }
func (s *Service) DefaultRate() decimal.Decimal { return s.defaultRate }

// -- Registration and sessions --

func (s *Service) RegisterPatient(ctx context.Context, in RegisterInput) (*User, error) {
	u, err := s.createUser(ctx, CreateUserInput{
		Name:     in.Name,
		Email:    in.Email,
		Phone:    in.Phone,
		Password: in.Password,
		Role:     auth.RolePatient,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", u.ID.String()).Msg("patient registered")
	return u, nil
}

// Login checks credentials and issues a session.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	u, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	if !u.IsActive() {
		return nil, ErrSuspended
	}

	subject, err := s.subjectFor(ctx, u)
	if err != nil {
		return nil, err
	}
	token, exp, err := s.sessions.Issue(subject)
	if err != nil {
		return nil, fmt.Errorf("issue session: %w", err)
	}
	return &LoginResult{User: u, Token: token, ExpiresAt: exp}, nil
}

func (s *Service) subjectFor(ctx context.Context, u *User) (auth.Subject, error) {
	sub := auth.Subject{UserID: u.ID, Role: u.Role, LabID: u.LabID}
	if u.Role == auth.RoleSalesExecutive {
		se, err := s.execs.GetByUserID(ctx, u.ID)
		if err != nil {
			return sub, fmt.Errorf("load sales executive profile: %w", err)
		}
		sub.SalesExecID = &se.ID
	}
	return sub, nil
}

func (s *Service) Logout(p *auth.Principal) {
	if p != nil {
		s.sessions.Revoke(p)
	}
}

func (s *Service) Me(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	prof := &Profile{User: u}
	for _, perm := range auth.Permissions(u.Role) {
		prof.Permissions = append(prof.Permissions, string(perm))
	}
	if u.Role == auth.RoleSalesExecutive {
		se, err := s.execs.GetByUserID(ctx, u.ID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		prof.SalesExecutive = se
	}
	return prof, nil
}

// ChangePassword verifies the current password, stores the new hash and
// revokes every other session of the user.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) error {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(current)) != nil {
		return ErrInvalidCredentials
	}
	if current == next {
		return fmt.Errorf("%w: new password must differ from the current one", ErrValidation)
	}
	hash, err := s.hashPassword(next)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	s.sessions.RevokeUser(userID)
	return nil
}

// -- Administration --

// CreateUser is the admin path for every role. Sales executives get a
// commission profile in the same transaction.
func (s *Service) CreateUser(ctx context.Context, in CreateUserInput) (*User, error) {
	if !in.Role.Valid() {
		return nil, fmt.Errorf("%w: invalid role %q", ErrValidation, in.Role)
	}
	return s.createUser(ctx, in)
}

func (s *Service) createUser(ctx context.Context, in CreateUserInput) (*User, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	email := normalizeEmail(in.Email)
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return nil, fmt.Errorf("%w: a valid email is required", ErrValidation)
	}

	switch in.Role {
	case auth.RoleLabPartner:
		if in.LabID == nil {
			return nil, fmt.Errorf("%w: lab_id is required for lab partners", ErrValidation)
		}
		if s.labs != nil {
			ok, err := s.labs.LabExists(ctx, *in.LabID)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, fmt.Errorf("%w: lab %s does not exist", ErrValidation, in.LabID)
			}
		}
	default:
		in.LabID = nil
	}

	rate := s.defaultRate
	if in.CommissionRate != nil {
		rate = *in.CommissionRate
	}
	if in.Role == auth.RoleSalesExecutive {
		if err := validateRate(rate); err != nil {
			return nil, err
		}
	}

	hash, err := s.hashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	u := &User{
		Name:         in.Name,
		Email:        email,
		Phone:        strings.TrimSpace(in.Phone),
		PasswordHash: hash,
		Role:         in.Role,
		Status:       StatusActive,
		LabID:        in.LabID,
	}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.users.Create(ctx, u); err != nil {
			return err
		}
		if in.Role != auth.RoleSalesExecutive {
			return nil
		}
		return s.execs.Create(ctx, &SalesExecutive{
			UserID:         u.ID,
			CommissionRate: rate,
			Territory:      strings.TrimSpace(in.Territory),
			Active:         true,
		})
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, notification.TemplateWelcome, u.Email, map[string]string{
		"name":  u.Name,
		"role":  strings.ReplaceAll(string(u.Role), "_", " "),
		"email": u.Email,
	})
	return u, nil
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *Service) ListUsers(ctx context.Context, f UserFilter, limit, offset int) ([]*User, int, error) {
	if f.Status != "" && !validStatuses[f.Status] {
		return nil, 0, fmt.Errorf("%w: invalid status %q", ErrValidation, f.Status)
	}
	if f.Role != "" && !f.Role.Valid() {
		return nil, 0, fmt.Errorf("%w: invalid role %q", ErrValidation, f.Role)
	}
	return s.users.List(ctx, f, limit, offset)
}

// SetUserStatus suspends or reactivates a user. Suspension revokes every
// session the user holds and deactivates a sales executive profile so their
// referral codes stop validating.
func (s *Service) SetUserStatus(ctx context.Context, actor *auth.Principal, id uuid.UUID, status string) (*User, error) {
	if !validStatuses[status] {
		return nil, fmt.Errorf("%w: invalid status %q", ErrValidation, status)
	}
	if actor != nil && actor.UserID == id {
		return nil, fmt.Errorf("%w: cannot change your own status", ErrForbidden)
	}

	var u *User
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if u, err = s.users.GetByID(ctx, id); err != nil {
			return err
		}
		if err := s.users.SetStatus(ctx, id, status); err != nil {
			return err
		}
		u.Status = status
		if u.Role != auth.RoleSalesExecutive {
			return nil
		}
		se, err := s.execs.GetByUserID(ctx, id)
		if err != nil {
			return err
		}
		return s.execs.SetActive(ctx, se.ID, status == StatusActive)
	})
	if err != nil {
		return nil, err
	}
	if status == StatusSuspended {
		s.sessions.RevokeUser(id)
	}
	s.logger.Info().Str("user_id", id.String()).Str("status", status).Msg("user status changed")
	return u, nil
}

func (s *Service) SetCommissionRate(ctx context.Context, salesExecID uuid.UUID, rate decimal.Decimal) (*SalesExecutive, error) {
	if err := validateRate(rate); err != nil {
		return nil, err
	}
	if err := s.execs.SetCommissionRate(ctx, salesExecID, rate.Round(2)); err != nil {
		return nil, err
	}
	return s.execs.GetByID(ctx, salesExecID)
}

func (s *Service) GetSalesExecutive(ctx context.Context, id uuid.UUID) (*SalesExecutive, error) {
	return s.execs.GetByID(ctx, id)
}

func (s *Service) GetSalesExecutiveByUser(ctx context.Context, userID uuid.UUID) (*SalesExecutive, error) {
	return s.execs.GetByUserID(ctx, userID)
}

func (s *Service) ListSalesExecutives(ctx context.Context, limit, offset int) ([]*SalesExecutive, int, error) {
	return s.execs.List(ctx, limit, offset)
}

// -- helpers --

func (s *Service) hashPassword(pw string) (string, error) {
	if len(pw) < minPasswordLength {
		return "", fmt.Errorf("%w: password must be at least %d characters", ErrValidation, minPasswordLength)
	}
	if len(pw) > 72 {
		return "", fmt.Errorf("%w: password must be at most 72 bytes", ErrValidation)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pw), s.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (s *Service) notify(ctx context.Context, templateID, to string, data map[string]string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, templateID, to, data); err != nil {
		s.logger.Warn().Err(err).Str("template", templateID).Msg("notification not queued")
	}
}

func validateRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("%w: commission_rate must be between 0 and 100", ErrValidation)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
