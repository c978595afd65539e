// Package token implements stateless proof of authentication: signed JWTs
// with strict validation ordering, a revocation denylist, and one-time-use
// refresh tokens with rotation and family-wide compromise revocation.
package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"gatekit.org/internal/obs"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 24 * time.Hour * 14
)

var (
	ErrMalformed    = errors.New("token: malformed")
	ErrBadSignature = errors.New("token: bad signature")
	ErrExpired      = errors.New("token: expired")
	ErrRevoked      = errors.New("token: revoked")

	ErrInvalidRefresh = errors.New("token: invalid refresh token")
	ErrRefreshReused  = errors.New("token: refresh token reused")
)

// Claims carried inside access tokens. Once signed they are immutable; any
// claim change requires issuing a new token.
type Claims struct {
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// AccessToken is a signed, self-contained proof of authentication.
type AccessToken struct {
	Raw       string    `json:"access_token"`
	ID        string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RefreshToken is the opaque handle returned alongside an access token.
// Only its hash is stored server-side.
type RefreshToken struct {
	Raw       string    `json:"refresh_token"`
	ID        string    `json:"-"`
	ExpiresAt time.Time `json:"refresh_expires_at"`
}

// PrincipalResolver supplies the current roles and permissions for an
// identity at refresh time, so rotated access tokens never carry stale
// grants.
type PrincipalResolver func(ctx context.Context, identityID string) (roles, permissions []string, err error)

// Service issues and validates tokens. Validation order is fixed: structure
// first, signature second, expiry third, denylist last — a token that fails
// signature verification is rejected before any of its payload fields are
// trusted.
type Service struct {
	now        func() time.Time
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration

	method    jwt.SigningMethod
	signKey   any
	verifyKey any

	denylist Denylist
	refresh  RefreshStore
	resolve  PrincipalResolver
}

// Option configures Service behavior.
type Option func(*Service) error

// WithHS256Secret enables symmetric signing with the given secret.
func WithHS256Secret(secret string) Option {
	return func(s *Service) error {
		secret = strings.TrimSpace(secret)
		if secret == "" {
			return errors.New("token: signing secret is empty")
		}
		s.method = jwt.SigningMethodHS256
		s.signKey = []byte(secret)
		s.verifyKey = []byte(secret)
		return nil
	}
}

// WithRS256Keys enables asymmetric signing from PEM-encoded key material.
func WithRS256Keys(privatePEM, publicPEM string) Option {
	return func(s *Service) error {
		priv, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(privatePEM))
		if err != nil {
			return fmt.Errorf("token: parse private key: %w", err)
		}
		pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(publicPEM))
		if err != nil {
			return fmt.Errorf("token: parse public key: %w", err)
		}
		s.method = jwt.SigningMethodRS256
		s.signKey = priv
		s.verifyKey = pub
		return nil
	}
}

// WithIssuer sets the iss claim stamped into every token.
func WithIssuer(issuer string) Option {
	return func(s *Service) error {
		s.issuer = strings.TrimSpace(issuer)
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithDenylist installs the revocation denylist.
func WithDenylist(d Denylist) Option {
	return func(s *Service) error {
		if d != nil {
			s.denylist = d
		}
		return nil
	}
}

// WithRefreshStore installs the refresh token store.
func WithRefreshStore(store RefreshStore) Option {
	return func(s *Service) error {
		if store != nil {
			s.refresh = store
		}
		return nil
	}
}

// WithPrincipalResolver installs the role/permission lookup used when
// rotating tokens.
func WithPrincipalResolver(fn PrincipalResolver) Option {
	return func(s *Service) error {
		if fn != nil {
			s.resolve = fn
		}
		return nil
	}
}

// NewService constructs a Service. A signing key option is mandatory; the
// denylist and refresh store default to in-memory implementations.
func NewService(opts ...Option) (*Service, error) {
	s := &Service{
		now:        time.Now,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		denylist:   NewMemDenylist(),
		refresh:    NewMemRefreshStore(),
		resolve: func(context.Context, string) ([]string, []string, error) {
			return nil, nil, nil
		},
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.method == nil {
		return nil, errors.New("token: no signing key configured")
	}
	return s, nil
}

// Issue signs an access token embedding the identity and its claims.
func (s *Service) Issue(ctx context.Context, identityID string, roles, permissions []string, ttl time.Duration) (AccessToken, error) {
	identityID = strings.TrimSpace(identityID)
	if identityID == "" {
		return AccessToken{}, errors.New("token: identity id is required")
	}
	if ttl <= 0 {
		ttl = s.accessTTL
	}
	now := s.now().UTC()
	exp := now.Add(ttl)
	jti := uuid.NewString()
	claims := Claims{
		Roles:       roles,
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   identityID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        jti,
		},
	}
	signed, err := jwt.NewWithClaims(s.method, claims).SignedString(s.signKey)
	if err != nil {
		return AccessToken{}, fmt.Errorf("sign token: %w", err)
	}
	return AccessToken{Raw: signed, ID: jti, ExpiresAt: exp}, nil
}

// Validate verifies a raw token and returns its claims. A denylist lookup
// failure counts as revoked: the check fails closed.
func (s *Service) Validate(ctx context.Context, raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		obs.ObserveTokenValidation("malformed")
		return nil, ErrMalformed
	}

	// Claim validation is deferred so signature failure is reported before
	// anything about the payload, expiry included.
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != s.method.Alg() {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return s.verifyKey, nil
	}, jwt.WithoutClaimsValidation())
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			obs.ObserveTokenValidation("malformed")
			return nil, ErrMalformed
		default:
			obs.ObserveTokenValidation("bad_signature")
			return nil, ErrBadSignature
		}
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || strings.TrimSpace(claims.Subject) == "" || claims.ExpiresAt == nil {
		obs.ObserveTokenValidation("malformed")
		return nil, ErrMalformed
	}
	if s.issuer != "" && claims.Issuer != s.issuer {
		obs.ObserveTokenValidation("malformed")
		return nil, ErrMalformed
	}

	now := s.now().UTC()
	if now.After(claims.ExpiresAt.Time) {
		obs.ObserveTokenValidation("expired")
		return nil, ErrExpired
	}
	if claims.IssuedAt != nil && claims.IssuedAt.Time.After(now.Add(5*time.Second)) {
		obs.ObserveTokenValidation("malformed")
		return nil, ErrMalformed
	}

	revoked, err := s.denylist.Contains(ctx, claims.ID)
	if err != nil || revoked {
		obs.ObserveTokenValidation("revoked")
		return nil, ErrRevoked
	}

	obs.ObserveTokenValidation("ok")
	return claims, nil
}

// Revoke denylists a token id until its natural expiry. Required for forced
// logout: the token itself stays cryptographically valid until then.
func (s *Service) Revoke(ctx context.Context, tokenID string, notAfter time.Time) error {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return errors.New("token: token id is required")
	}
	if notAfter.IsZero() {
		notAfter = s.now().UTC().Add(s.accessTTL)
	}
	return s.denylist.Add(ctx, tokenID, notAfter)
}
