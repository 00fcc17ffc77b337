// Package auth provides stateless bearer-token authentication using JWT.
// Tokens are issued out of band (see `xancrypt token issue`); the service
// only validates them to learn the caller's user id.
package auth

import (
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/xancrypt/xancrypt/ports"
)

// ErrInvalidToken is returned for tokens that fail validation.
var ErrInvalidToken = errors.New("invalid token")

// Claims represents the JWT claims of an authenticated user.
type Claims struct {
	UserID string `json:"uid"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// TokenService provides stateless JWT token operations.
// Thread-safe and suitable for concurrent use.
type TokenService struct {
	secret     []byte
	issuer     string
	expiration time.Duration
	clock      ports.Clock
}

// Config configures a TokenService.
type Config struct {
	Secret     string
	Expiration time.Duration // default 24h
	Issuer     string        // default "xancrypt"
	Clock      ports.Clock
	Random     ports.Random // used when Secret is empty
}

// NewTokenService creates a new JWT token service.
// If no secret is configured, a random 32-byte secret is generated; tokens
// then only survive until the process restarts.
func NewTokenService(cfg Config) (*TokenService, error) {
	secret := []byte(cfg.Secret)
	if len(secret) == 0 {
		if cfg.Random == nil {
			return nil, errors.New("auth: secret or random source required")
		}
		b, err := cfg.Random.Bytes(32)
		if err != nil {
			return nil, err
		}
		secret = b
	}
	if cfg.Expiration <= 0 {
		cfg.Expiration = 24 * time.Hour
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "xancrypt"
	}

	return &TokenService{
		secret:     secret,
		issuer:     cfg.Issuer,
		expiration: cfg.Expiration,
		clock:      cfg.Clock,
	}, nil
}

func (s *TokenService) now() time.Time {
	if s.clock != nil {
		return s.clock.Now().UTC()
	}
	return time.Now().UTC()
}

// GenerateToken creates a new JWT token for the given user.
func (s *TokenService) GenerateToken(userID, email string) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, errors.New("auth: user id required")
	}
	now := s.now()
	expiresAt := now.Add(s.expiration)

	claims := Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateToken validates a JWT token and returns the claims.
func (s *TokenService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithIssuer(s.issuer))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// UserID returns the user id carried by a valid token.
func (s *TokenService) UserID(token string) (string, error) {
	claims, err := s.ValidateToken(token)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

// SecretHex renders the signing secret, for printing a generated one.
func (s *TokenService) SecretHex() string {
	return hex.EncodeToString(s.secret)
}

// Ensure interface compliance.
var _ ports.TokenValidator = (*TokenService)(nil)
