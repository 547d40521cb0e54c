package core

import "context"

// Identity carries the caller attributes the dispatch pipeline consumes:
// a stable principal for rate-limit keying and the group set evaluated by
// canary userGroup rules. Verification happens upstream; the gateway only
// reads claims.
type Identity struct {
	Principal string
	Groups    []string
}

// HasGroup reports whether the identity belongs to the named group
func (id *Identity) HasGroup(group string) bool {
	if id == nil {
		return false
	}
	for _, g := range id.Groups {
		if g == group {
			return true
		}
	}
	return false
}

type identityKey struct{}

// WithIdentity attaches a caller identity to the context
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom extracts the caller identity, nil when anonymous
func IdentityFrom(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}
