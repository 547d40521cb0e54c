package middleware

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"gateway/internal/core"
	gwerrors "gateway/pkg/errors"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte("test-key"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestIdentityExtractsClaims(t *testing.T) {
	var captured *core.Identity
	handler := Identity(DefaultIdentityConfig())(func(ctx context.Context, req core.Request) (core.Response, error) {
		captured = core.IdentityFrom(ctx)
		return core.NewResponse(200, nil, nil), nil
	})

	req := httptest.NewRequest("GET", "/api/users", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, jwt.MapClaims{
		"sub":    "alice",
		"groups": []any{"beta", "staff"},
	}))

	if _, err := handler(context.Background(), core.NewHTTPRequest("test", req)); err != nil {
		t.Fatal(err)
	}

	if captured == nil {
		t.Fatal("expected identity in context")
	}
	if captured.Principal != "alice" {
		t.Errorf("principal = %q, want alice", captured.Principal)
	}
	if !captured.HasGroup("beta") || !captured.HasGroup("staff") {
		t.Errorf("groups = %v", captured.Groups)
	}
}

func TestIdentityAnonymousWithoutToken(t *testing.T) {
	var captured *core.Identity
	handler := Identity(DefaultIdentityConfig())(func(ctx context.Context, req core.Request) (core.Response, error) {
		captured = core.IdentityFrom(ctx)
		return core.NewResponse(200, nil, nil), nil
	})

	req := httptest.NewRequest("GET", "/api/users", nil)
	if _, err := handler(context.Background(), core.NewHTTPRequest("test", req)); err != nil {
		t.Fatal(err)
	}
	if captured != nil {
		t.Errorf("expected anonymous request, got %+v", captured)
	}

	// Garbage tokens also stay anonymous rather than failing the request
	req.Header.Set("Authorization", "Bearer not-a-token")
	if _, err := handler(context.Background(), core.NewHTTPRequest("test", req)); err != nil {
		t.Errorf("malformed token should not fail the request: %v", err)
	}
}

func TestRecoveryConvertsPanic(t *testing.T) {
	handler := Recovery(nil)(func(ctx context.Context, req core.Request) (core.Response, error) {
		panic("boom")
	})

	req := core.NewHTTPRequest("test", httptest.NewRequest("GET", "/api/users", nil))
	resp, err := handler(context.Background(), req)
	if resp != nil {
		t.Error("panicking handler should not produce a response")
	}
	if gwerrors.TypeOf(err) != gwerrors.ErrorTypeInternal {
		t.Errorf("error type = %s, want internal", gwerrors.TypeOf(err))
	}
}

func TestLoggingPassesThrough(t *testing.T) {
	handler := Logging(nil)(func(ctx context.Context, req core.Request) (core.Response, error) {
		return core.NewResponse(204, nil, nil), nil
	})

	req := core.NewHTTPRequest("test", httptest.NewRequest("GET", "/api/users", nil))
	resp, err := handler(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode() != 204 {
		t.Errorf("status = %d, want 204", resp.StatusCode())
	}
}
