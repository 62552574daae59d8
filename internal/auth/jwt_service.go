package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTokenTTL is used when neither the caller nor the configuration supplies a TTL.
const DefaultTokenTTL = time.Hour

var (
	// ErrMissingSecret is returned when no signing secret is configured.
	ErrMissingSecret = errors.New("auth: signing secret is not configured")
	// ErrInvalidSignature is returned for tokens that cannot be verified with the server secret.
	ErrInvalidSignature = errors.New("auth: invalid token signature")
	// ErrTokenExpired is returned when now >= exp.
	ErrTokenExpired = errors.New("auth: token expired")
)

// Claims is the signed claim set carried by the session cookie.
type Claims struct {
	UserID   uint     `json:"id"`
	Email    string   `json:"email"`
	Name     string   `json:"name"`
	Lastname string   `json:"lastname"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}

// IssuedAtTime returns iat as a time, zero when absent.
func (c *Claims) IssuedAtTime() time.Time {
	if c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}

// ExpiresAtTime returns exp as a time, zero when absent.
func (c *Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// JWTService issues and verifies HS256 tokens.
type JWTService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTService creates a new JWT service with the given secret and default TTL.
func NewJWTService(secret string, ttl time.Duration) *JWTService {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &JWTService{
		secret: []byte(strings.TrimSpace(secret)),
		ttl:    ttl,
		now:    time.Now,
	}
}

// WithClock swaps the time source. Tests only.
func (s *JWTService) WithClock(now func() time.Time) *JWTService {
	s.now = now
	return s
}

// TTL is the configured token lifetime.
func (s *JWTService) TTL() time.Duration {
	return s.ttl
}

// Issue signs the identity with iat=now and exp=iat+ttl. A non-positive ttl uses the configured one.
func (s *JWTService) Issue(id Identity, ttl time.Duration) (string, *Claims, error) {
	if len(s.secret) == 0 {
		return "", nil, ErrMissingSecret
	}
	if ttl <= 0 {
		ttl = s.ttl
	}

	now := s.now()
	claims := &Claims{
		UserID:   id.UserID,
		Email:    id.Email,
		Name:     id.Name,
		Lastname: id.Lastname,
		Roles:    append([]string{}, id.Roles...),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

// Verify checks the signature and expiry and returns the decoded claims.
func (s *JWTService) Verify(tokenString string) (*Claims, error) {
	if len(s.secret) == 0 {
		return nil, ErrMissingSecret
	}
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, ErrInvalidSignature
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !token.Valid {
		return nil, ErrInvalidSignature
	}
	return claims, nil
}

// Decode reads the claims without verifying anything. Display only; never authorize on it.
func (s *JWTService) Decode(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(tokenString), claims); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return claims, nil
}
