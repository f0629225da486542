// Package identity resolves callers from bearer tokens.
package identity

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/victornm/gema/internal/domain"
	"github.com/victornm/gema/internal/errors"
)

const (
	defaultTTL = 12 * time.Hour
	issuer     = "gema"
)

var ErrInvalidToken = stderrors.New("invalid token")

// Claims are the JWT claims of a GEMA identity. The subject is the identity id.
type Claims struct {
	Name      string `json:"name,omitempty"`
	Role      string `json:"role"`
	StudentID string `json:"studentId,omitempty"`
	jwt.RegisteredClaims
}

type Config struct {
	Secret string
	// TTL defaults to 12h.
	TTL time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Resolver issues and validates HS256 identity tokens.
type Resolver struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewResolver(c Config) (*Resolver, error) {
	if c.Secret == "" {
		return nil, fmt.Errorf("identity: secret is required")
	}

	r := &Resolver{
		secret: []byte(c.Secret),
		ttl:    c.TTL,
		now:    c.Now,
	}
	if r.ttl <= 0 {
		r.ttl = defaultTTL
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r, nil
}

// Issue mints a token for id.
func (r *Resolver) Issue(id domain.Identity) (string, error) {
	if id.ID == "" {
		return "", fmt.Errorf("identity: id is required")
	}
	if !validRole(id.Role) {
		return "", fmt.Errorf("identity: invalid role %q", id.Role)
	}

	now := r.now()
	claims := Claims{
		Name:      id.Name,
		Role:      string(id.Role),
		StudentID: id.StudentID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(r.ttl)),
			ID:        uuid.NewString(),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
}

// Resolve validates token and returns the identity it carries.
func (r *Resolver) Resolve(token string) (*domain.Identity, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return r.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(r.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	role := domain.Role(claims.Role)
	if claims.Subject == "" || !validRole(role) {
		return nil, ErrInvalidToken
	}

	return &domain.Identity{
		ID:        claims.Subject,
		Name:      claims.Name,
		Role:      role,
		StudentID: claims.StudentID,
	}, nil
}

// FromHeader resolves an Authorization header value. An empty header is an anonymous caller.
func (r *Resolver) FromHeader(header string) (*domain.Identity, error) {
	if header == "" {
		return nil, nil
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return nil, errors.Unauthorized("invalid authorization header")
	}

	id, err := r.Resolve(strings.TrimSpace(token))
	if err != nil {
		return nil, errors.New(errors.CodeUnauthenticated,
			errors.WithMessagef("invalid or expired token"),
			errors.WithCause(err),
		)
	}
	return id, nil
}

func validRole(r domain.Role) bool {
	switch r {
	case domain.RoleAdmin, domain.RoleTeacher, domain.RoleStudent:
		return true
	default:
		return false
	}
}

type ctxKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id *domain.Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the caller stored in ctx, or nil for an anonymous caller.
func FromContext(ctx context.Context) *domain.Identity {
	id, _ := ctx.Value(ctxKey{}).(*domain.Identity)
	return id
}
