package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/odyssey-erp/sentinel/internal/shared"
)

// OIDCVerifier validates ID tokens from an OpenID Connect provider.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers the provider at issuer.
func NewOIDCVerifier(ctx context.Context, issuer, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("auth: oidc discovery: %w", err)
	}
	return &OIDCVerifier{verifier: provider.Verifier(&oidc.Config{ClientID: clientID})}, nil
}

// Name identifies the verifier in logs.
func (v *OIDCVerifier) Name() string { return "oidc" }

// Verify checks the ID token signature and claims.
func (v *OIDCVerifier) Verify(ctx context.Context, credential string) (shared.Identity, error) {
	token, err := v.verifier.Verify(ctx, credential)
	if err != nil {
		return shared.Identity{}, fmt.Errorf("%w: %v", shared.ErrInvalidCredential, err)
	}
	var claims struct {
		Email         string `json:"email"`
		EmailVerified *bool  `json:"email_verified"`
	}
	if err := token.Claims(&claims); err != nil {
		return shared.Identity{}, fmt.Errorf("%w: %v", shared.ErrInvalidCredential, err)
	}
	if strings.TrimSpace(token.Subject) == "" {
		return shared.Identity{}, fmt.Errorf("%w: token has no subject", shared.ErrInvalidCredential)
	}
	email := claims.Email
	if claims.EmailVerified != nil && !*claims.EmailVerified {
		email = ""
	}
	return shared.Identity{ID: token.Subject, Email: shared.NormalizeEmail(email)}, nil
}
