package auth

import (
	"context"

	"github.com/odyssey-erp/sentinel/internal/shared"
)

// Verifier validates a bearer credential with an external issuer.
type Verifier interface {
	Name() string
	Verify(ctx context.Context, credential string) (shared.Identity, error)
}
