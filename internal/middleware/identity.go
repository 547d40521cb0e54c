package middleware

import (
	"context"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"gateway/internal/core"
)

// IdentityConfig controls claim extraction
type IdentityConfig struct {
	// PrincipalClaim names the claim holding the caller identity
	PrincipalClaim string `yaml:"principalClaim"`
	// GroupsClaim names the claim holding the caller's group list
	GroupsClaim string `yaml:"groupsClaim"`
}

// DefaultIdentityConfig uses the conventional sub/groups claims
func DefaultIdentityConfig() IdentityConfig {
	return IdentityConfig{
		PrincipalClaim: "sub",
		GroupsClaim:    "groups",
	}
}

// Identity extracts caller attributes from a bearer token into the
// request context for canary userGroup rules and rate-limit keying.
// Signature verification is the auth layer's job upstream; claims are
// read without it, and requests without a parseable token simply stay
// anonymous.
func Identity(config IdentityConfig) core.Middleware {
	if config.PrincipalClaim == "" {
		config.PrincipalClaim = "sub"
	}
	if config.GroupsClaim == "" {
		config.GroupsClaim = "groups"
	}
	parser := jwt.NewParser()

	return func(next core.Handler) core.Handler {
		return func(ctx context.Context, req core.Request) (core.Response, error) {
			if id := extractIdentity(parser, config, req); id != nil {
				ctx = core.WithIdentity(ctx, id)
			}
			return next(ctx, req)
		}
	}
}

func extractIdentity(parser *jwt.Parser, config IdentityConfig, req core.Request) *core.Identity {
	auth := req.Header("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return nil
	}

	token, _, err := parser.ParseUnverified(strings.TrimPrefix(auth, "Bearer "), jwt.MapClaims{})
	if err != nil {
		return nil
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil
	}

	id := &core.Identity{}
	if principal, ok := claims[config.PrincipalClaim].(string); ok {
		id.Principal = principal
	}
	if raw, ok := claims[config.GroupsClaim].([]any); ok {
		for _, g := range raw {
			if group, ok := g.(string); ok {
				id.Groups = append(id.Groups, group)
			}
		}
	}

	if id.Principal == "" && len(id.Groups) == 0 {
		return nil
	}
	return id
}
