package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

const principalKey contextKey = "principal"

// SessionCookie is the cookie the browser front-ends send the session in.
const SessionCookie = "labbook_session"

const issuer = "labbook"

var (
	ErrInvalidSession = errors.New("invalid session")
	ErrSessionRevoked = errors.New("session revoked")
)

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID      uuid.UUID  `json:"user_id"`
	Role        Role       `json:"role"`
	LabID       *uuid.UUID `json:"lab_id,omitempty"`
	SalesExecID *uuid.UUID `json:"sales_exec_id,omitempty"`
	TokenID     string     `json:"-"`
	IssuedAt    time.Time  `json:"-"`
	ExpiresAt   time.Time  `json:"expires_at"`
}

// IsAdmin reports whether the principal is a super admin.
func (p *Principal) IsAdmin() bool { return p != nil && p.Role == RoleSuperAdmin }

// OwnsLab reports whether the principal is the partner of labID.
func (p *Principal) OwnsLab(labID uuid.UUID) bool {
	return p != nil && p.Role == RoleLabPartner && p.LabID != nil && *p.LabID == labID
}

// Claims are the session token claims.
type Claims struct {
	jwt.RegisteredClaims
	Role        Role   `json:"role"`
	LabID       string `json:"lab_id,omitempty"`
	SalesExecID string `json:"sales_exec_id,omitempty"`
}

// Subject is what a session is issued for.
type Subject struct {
	UserID      uuid.UUID
	Role        Role
	LabID       *uuid.UUID
	SalesExecID *uuid.UUID
}

// SessionManager issues and validates HS256 session tokens.
type SessionManager struct {
	secret      []byte
	ttl         time.Duration
	revocations *TokenRevocationStore
	now         func() time.Time
}

// NewSessionManager creates a SessionManager. revocations may be nil.
func NewSessionManager(secret []byte, ttl time.Duration, revocations *TokenRevocationStore) *SessionManager {
	return &SessionManager{secret: secret, ttl: ttl, revocations: revocations, now: time.Now}
}

// TTL returns the configured session lifetime.
func (m *SessionManager) TTL() time.Duration { return m.ttl }

// Issue signs a new session token for s.
func (m *SessionManager) Issue(s Subject) (string, time.Time, error) {
	now := m.now()
	exp := now.Add(m.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   s.UserID.String(),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Role: s.Role,
	}
	if s.LabID != nil {
		claims.LabID = s.LabID.String()
	}
	if s.SalesExecID != nil {
		claims.SalesExecID = s.SalesExecID.String()
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session: %w", err)
	}
	return token, exp, nil
}

// Parse validates a token and returns the principal it carries.
func (m *SessionManager) Parse(token string) (*Principal, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidSession
	}

	uid, err := uuid.Parse(claims.Subject)
	if err != nil || !claims.Role.Valid() {
		return nil, ErrInvalidSession
	}

	p := &Principal{
		UserID:  uid,
		Role:    claims.Role,
		TokenID: claims.ID,
	}
	if claims.IssuedAt != nil {
		p.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	if claims.LabID != "" {
		id, err := uuid.Parse(claims.LabID)
		if err != nil {
			return nil, ErrInvalidSession
		}
		p.LabID = &id
	}
	if claims.SalesExecID != "" {
		id, err := uuid.Parse(claims.SalesExecID)
		if err != nil {
			return nil, ErrInvalidSession
		}
		p.SalesExecID = &id
	}

	if m.revocations != nil && m.revocations.IsRevoked(p.TokenID, p.UserID.String(), p.IssuedAt) {
		return nil, ErrSessionRevoked
	}
	return p, nil
}

// Revoke invalidates the session p was parsed from.
func (m *SessionManager) Revoke(p *Principal) {
	if m.revocations == nil || p == nil {
		return
	}
	m.revocations.RevokeForUser(p.TokenID, p.UserID.String(), p.ExpiresAt)
}

// RevokeUser invalidates every session issued to userID so far.
func (m *SessionManager) RevokeUser(userID uuid.UUID) {
	if m.revocations == nil {
		return
	}
	m.revocations.RevokeAllForUser(userID.String(), m.now(), m.now().Add(m.ttl))
}

// SessionMiddleware resolves the caller from the Authorization bearer token
// or the session cookie. Requests with no credentials continue anonymously;
// requests with bad credentials are rejected.
func SessionMiddleware(m *SessionManager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, err := tokenFromRequest(c)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}
			if token == "" {
				return next(c)
			}

			p, err := m.Parse(token)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired session")
			}

			c.SetRequest(c.Request().WithContext(WithPrincipal(c.Request().Context(), p)))
			c.Set("user_id", p.UserID.String())
			return next(c)
		}
	}
}

func tokenFromRequest(c echo.Context) (string, error) {
	if h := c.Request().Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return "", errors.New("invalid authorization format")
		}
		return strings.TrimSpace(parts[1]), nil
	}
	if ck, err := c.Cookie(SessionCookie); err == nil && ck.Value != "" {
		return ck.Value, nil
	}
	return "", nil
}

// SessionCookieFor builds the cookie carrying token.
func SessionCookieFor(token string, expires time.Time, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearSessionCookie expires the session cookie in the browser.
func ClearSessionCookie(secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the authenticated caller, or nil.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey).(*Principal)
	return p
}
