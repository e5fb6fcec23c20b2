// Package auth issues and validates the bearer tokens accepted by the API.
// Token issuance happens out of band (the "token" subcommand or an upstream
// identity provider sharing the secret); there is no login flow.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer is the iss claim of every token minted here.
const Issuer = "costtrail"

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// ErrInvalidToken is returned when a JWT cannot be parsed or has expired.
var ErrInvalidToken = errors.New("auth: invalid or expired token")

// Principal is the identity a token is issued for.
type Principal struct {
	TenantID uuid.UUID
	UserID   uuid.UUID
	Role     string
}

// Claims holds the JWT token payload. The jti doubles as the audit session ID.
type Claims struct {
	jwt.RegisteredClaims
	TenantID  string `json:"tid"`
	UserID    string `json:"uid"`
	Role      string `json:"role"`
	TokenType string `json:"typ"`
}

// IsAccess reports whether the token may be used to call the API.
func (c *Claims) IsAccess() bool {
	return c.TokenType == tokenTypeAccess
}

// IssueAccessToken creates a signed JWT access token.
func IssueAccessToken(secret string, p Principal, ttl time.Duration) (string, error) {
	return issueToken(secret, p, tokenTypeAccess, ttl)
}

// IssueRefreshToken creates a signed JWT refresh token.
func IssueRefreshToken(secret string, p Principal, ttl time.Duration) (string, error) {
	return issueToken(secret, p, tokenTypeRefresh, ttl)
}

// Refresh exchanges a valid refresh token for a new access token carrying the
// same principal.
func Refresh(secret, refreshToken string, ttl time.Duration) (string, error) {
	claims, err := ValidateToken(secret, refreshToken)
	if err != nil {
		return "", fmt.Errorf("auth.Refresh: %w", err)
	}
	if claims.TokenType != tokenTypeRefresh {
		return "", fmt.Errorf("auth.Refresh: not a refresh token: %w", ErrInvalidToken)
	}

	p, err := claims.Principal()
	if err != nil {
		return "", fmt.Errorf("auth.Refresh: %w", err)
	}
	return IssueAccessToken(secret, p, ttl)
}

// Principal parses the identity carried by the claims.
func (c *Claims) Principal() (Principal, error) {
	tenantID, err := uuid.Parse(c.TenantID)
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	userID, err := uuid.Parse(c.UserID)
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	return Principal{TenantID: tenantID, UserID: userID, Role: c.Role}, nil
}

func issueToken(secret string, p Principal, tokenType string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   p.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    Issuer,
		},
		TenantID:  p.TenantID.String(),
		UserID:    p.UserID.String(),
		Role:      p.Role,
		TokenType: tokenType,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("auth.issueToken: %w", err)
	}

	return signed, nil
}

// ValidateToken parses and validates a JWT token string. Returns the embedded claims.
func ValidateToken(secret, tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithIssuer(Issuer))
	if err != nil {
		return nil, fmt.Errorf("auth.ValidateToken: %w", ErrInvalidToken)
	}

	if !token.Valid {
		return nil, fmt.Errorf("auth.ValidateToken: %w", ErrInvalidToken)
	}

	return claims, nil
}
