package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Scopes carried by operator and login-service tokens
const (
	ScopeLockoutAdmin  = "lockout:admin"
	ScopeLockoutRead   = "lockout:read"
	ScopeLockoutRecord = "lockout:record"
)

const tokenIssuer = "gatekeeper"

// AdminClaims are the claims of an operator token
type AdminClaims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

// HasScope reports whether the token grants scope
func (c *AdminClaims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// TokenManager issues and verifies operator tokens signed with HS256
type TokenManager struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(secret string, expiry time.Duration) *TokenManager {
	return &TokenManager{
		secret: []byte(secret),
		expiry: expiry,
		now:    time.Now,
	}
}

// GenerateToken creates a short-lived token for subject with the given scopes
func (tm *TokenManager) GenerateToken(subject string, scopes ...string) (string, error) {
	if len(tm.secret) == 0 {
		return "", fmt.Errorf("%w: no signing secret configured", models.ErrConfiguration)
	}

	now := tm.now()
	claims := &AdminClaims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    tokenIssuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// ValidateToken verifies a token and returns its claims
func (tm *TokenManager) ValidateToken(tokenString string) (*AdminClaims, error) {
	if len(tm.secret) == 0 {
		return nil, models.ErrUnauthorized
	}

	claims := &AdminClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return tm.secret, nil
	},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(tm.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, errors.Join(models.ErrUnauthorized, err)
	}

	if !token.Valid {
		return nil, models.ErrUnauthorized
	}

	return claims, nil
}
