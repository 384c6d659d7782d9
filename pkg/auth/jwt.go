// pkg/auth/jwt.go
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// Issuer and Audience are fixed by the identity contract with the
	// frontend's auth library and must match on both ends.
	Issuer   = "better-auth"
	Audience = "todo-app"

	// MinSecretLen is the minimum accepted HMAC secret length in bytes.
	MinSecretLen = 32
)

var (
	ErrMalformedToken = errors.New("malformed token")
	ErrExpiredToken   = errors.New("token has expired")
	ErrBadSignature   = errors.New("invalid token signature")
	ErrMissingClaim   = errors.New("required claim missing")
	ErrSecretTooShort = errors.New("shared secret must be at least 32 bytes")
)

// TokenManager issues and verifies HMAC-SHA256 bearer tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenManager creates a token manager for the pre-shared secret.
func NewTokenManager(secret string, ttl time.Duration) (*TokenManager, error) {
	if len(secret) < MinSecretLen {
		return nil, ErrSecretTooShort
	}
	return &TokenManager{
		secret: []byte(secret),
		ttl:    ttl,
	}, nil
}

// Claims are the verified claims of a bearer token. Subject carries the
// tenant id.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// TenantID parses the subject claim as a tenant id.
func (c *Claims) TenantID() (uuid.UUID, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: sub is not a valid id", ErrMissingClaim)
	}
	return id, nil
}

// Generate creates a signed token for the given tenant.
func (tm *TokenManager) Generate(tenantID uuid.UUID, email string) (token string, expiresIn int64, err error) {
	now := time.Now()

	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
			Subject:   tenantID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
	if err != nil {
		return "", 0, fmt.Errorf("sign token: %w", err)
	}

	return signed, int64(tm.ttl.Seconds()), nil
}

// Validate verifies signature, expiry, issuer and audience, and returns the
// claims. Failures are distinguished by the package sentinel errors so the
// gate can respond precisely without string matching.
func (tm *TokenManager) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (interface{}, error) {
			return tm.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrBadSignature
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrMalformedToken
		case errors.Is(err, jwt.ErrTokenInvalidIssuer),
			errors.Is(err, jwt.ErrTokenInvalidAudience),
			errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
			return nil, ErrMissingClaim
		default:
			return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
		}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrMalformedToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	return claims, nil
}

// ExtractTokenFromHeader extracts the credential from an Authorization
// header. The "Bearer" scheme is matched case-insensitively.
func ExtractTokenFromHeader(authHeader string) (string, error) {
	const prefix = "bearer "
	if len(authHeader) <= len(prefix) || !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return "", errors.New("invalid authorization header format")
	}
	token := strings.TrimSpace(authHeader[len(prefix):])
	if token == "" {
		return "", errors.New("invalid authorization header format")
	}
	return token, nil
}
