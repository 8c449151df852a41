package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/odyssey-erp/sentinel/internal/shared"
)

// JWTConfig configures HS256 bearer verification.
type JWTConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// Claims carried by access tokens.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// JWTVerifier verifies HS256 access tokens.
type JWTVerifier struct {
	cfg JWTConfig
}

// NewJWTVerifier validates cfg and builds a verifier.
func NewJWTVerifier(cfg JWTConfig) (*JWTVerifier, error) {
	if len(cfg.Secret) < 32 {
		return nil, errors.New("auth: jwt secret must be at least 32 bytes")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("auth: invalid leeway")
	}
	return &JWTVerifier{cfg: cfg}, nil
}

// Name identifies the verifier in logs.
func (v *JWTVerifier) Name() string { return "jwt" }

// Verify parses credential and returns the subject identity.
func (v *JWTVerifier) Verify(_ context.Context, credential string) (shared.Identity, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.cfg.Leeway > 0 {
		options = append(options, jwt.WithLeeway(v.cfg.Leeway))
	}
	if v.cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(v.cfg.Issuer))
	}
	if v.cfg.Audience != "" {
		options = append(options, jwt.WithAudience(v.cfg.Audience))
	}
	claims := &Claims{}
	token, err := jwt.NewParser(options...).ParseWithClaims(credential, claims, func(*jwt.Token) (any, error) {
		return v.cfg.Secret, nil
	})
	if err != nil || !token.Valid {
		return shared.Identity{}, fmt.Errorf("%w: %v", shared.ErrInvalidCredential, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return shared.Identity{}, fmt.Errorf("%w: token has no subject", shared.ErrInvalidCredential)
	}
	return shared.Identity{ID: claims.Subject, Email: shared.NormalizeEmail(claims.Email)}, nil
}

// Sign issues a token for id. Used by tooling and tests.
func (v *JWTVerifier) Sign(id shared.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			Issuer:    v.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if v.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{v.cfg.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.cfg.Secret)
}
