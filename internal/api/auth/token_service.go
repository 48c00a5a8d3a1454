package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenService signs and validates admin bearer tokens (HS256).
type TokenService struct {
	secretKey []byte
	issuer    string

	AccessTokenDuration time.Duration // Default: 12 hours
}

// JWTClaims represents the claims in our JWT tokens. The subject is the actor
// recorded in the audit log.
type JWTClaims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// NewTokenService creates a new token service
func NewTokenService(secretKey, issuer string) *TokenService {
	return &TokenService{
		secretKey:           []byte(secretKey),
		issuer:              issuer,
		AccessTokenDuration: 12 * time.Hour,
	}
}

// IssueToken signs a token for subject, mostly for CLI use and tests.
func (ts *TokenService) IssueToken(subject, role string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(ts.AccessTokenDuration)
	claims := JWTClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    ts.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ts.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateAccessToken validates a JWT access token and returns its claims
func (ts *TokenService) ValidateAccessToken(tokenString string) (*JWTClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if ts.issuer != "" {
		opts = append(opts, jwt.WithIssuer(ts.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return ts.secretKey, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	return claims, nil
}
