package shared

import "context"

type identityContextKey struct{}

// ContextWithIdentity stores the resolved identity in context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the resolved identity from context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok && id.ID != ""
}

// ClientInfo describes the remote caller of the current request.
type ClientInfo struct {
	IP        string
	UserAgent string
}

type clientContextKey struct{}

// ContextWithClient stores the caller's network details in context.
func ContextWithClient(ctx context.Context, info ClientInfo) context.Context {
	return context.WithValue(ctx, clientContextKey{}, info)
}

// ClientFromContext returns the caller's network details, zero when unset.
func ClientFromContext(ctx context.Context) ClientInfo {
	info, _ := ctx.Value(clientContextKey{}).(ClientInfo)
	return info
}
