package rbac

import "context"

type principalContextKey struct{}

// ContextWithPrincipal stores the resolved principal in context. Handlers pull
// it out and pass it explicitly into core functions.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the resolved principal, or nil.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey{}).(*Principal)
	return p
}
