package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/sentinel/internal/shared"
)

// Resolver turns a bearer credential into an identity by asking each
// configured verifier in order.
type Resolver struct {
	verifiers []Verifier
	logger    *slog.Logger
}

// NewResolver builds a Resolver.
func NewResolver(logger *slog.Logger, verifiers ...Verifier) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{verifiers: verifiers, logger: logger}
}

// Resolve verifies credential.
func (r *Resolver) Resolve(ctx context.Context, credential string) (shared.Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return shared.Identity{}, shared.ErrMissingCredential
	}
	for _, v := range r.verifiers {
		id, err := v.Verify(ctx, credential)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, shared.ErrUnauthorized) {
			r.logger.Warn("credential verifier failed", slog.String("verifier", v.Name()), slog.Any("error", err))
		}
	}
	return shared.Identity{}, shared.ErrInvalidCredential
}

// ResolveRequest reads the Authorization header.
func (r *Resolver) ResolveRequest(req *http.Request) (shared.Identity, error) {
	return r.Resolve(req.Context(), BearerToken(req))
}

// BearerToken extracts the token from "Authorization: Bearer <token>".
func BearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
