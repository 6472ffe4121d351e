// README: Tests for auth, role guard, recovery and request-id middleware.
package middleware_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"ridematch/internal/http/middleware"
	"ridematch/internal/infra"
	"ridematch/internal/types"
)

type stubVerifier struct {
	token *infra.FirebaseToken
	err   error
}

func (s *stubVerifier) VerifyIDToken(_ context.Context, _ string) (*infra.FirebaseToken, error) {
	return s.token, s.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(verifier infra.TokenVerifier, guards ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Logging(quietLogger()), middleware.Recovery(quietLogger()), middleware.Auth(verifier))
	handlers := append(guards, func(c *gin.Context) {
		id := middleware.CallerIdentity(c)
		c.JSON(http.StatusOK, gin.H{"uid": id.ID, "role": id.Role})
	})
	r.GET("/test", handlers...)
	r.GET("/panic", func(c *gin.Context) { panic("boom") })
	return r
}

func do(r http.Handler, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func tokenWithRole(uid, role string) *stubVerifier {
	claims := map[string]interface{}{}
	if role != "" {
		claims["role"] = role
	}
	return &stubVerifier{token: &infra.FirebaseToken{UID: uid, Claims: claims}}
}

func TestAuth_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		verifier *stubVerifier
		header   string
	}{
		{"missing header", tokenWithRole("user1", ""), ""},
		{"wrong scheme", tokenWithRole("user1", ""), "Token sometoken"},
		{"empty token", tokenWithRole("user1", ""), "Bearer  "},
		{"verifier error", &stubVerifier{err: errors.New("bad token")}, "Bearer invalidtoken"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(newTestRouter(tt.verifier), "/test", tt.header)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", w.Code)
			}
		})
	}
}

func TestAuth_RoleClaim(t *testing.T) {
	tests := []struct {
		name  string
		claim string
		want  types.Role
	}{
		{"driver", "driver", types.RoleDriver},
		{"admin", "admin", types.RoleAdmin},
		{"no claim defaults to passenger", "", types.RolePassenger},
		{"unknown claim defaults to passenger", "superuser", types.RolePassenger},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(newTestRouter(tokenWithRole("u-42", tt.claim)), "/test", "Bearer validtoken")
			if w.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", w.Code)
			}
			var body struct {
				UID  string `json:"uid"`
				Role string `json:"role"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if body.UID != "u-42" || types.Role(body.Role) != tt.want {
				t.Fatalf("got uid=%q role=%q, want u-42/%s", body.UID, body.Role, tt.want)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	guard := middleware.RequireRole(types.RoleDriver, types.RoleAdmin)
	if w := do(newTestRouter(tokenWithRole("d1", "driver"), guard), "/test", "Bearer t"); w.Code != http.StatusOK {
		t.Fatalf("driver: expected 200, got %d", w.Code)
	}
	if w := do(newTestRouter(tokenWithRole("a1", "admin"), guard), "/test", "Bearer t"); w.Code != http.StatusOK {
		t.Fatalf("admin: expected 200, got %d", w.Code)
	}
	if w := do(newTestRouter(tokenWithRole("p1", ""), guard), "/test", "Bearer t"); w.Code != http.StatusForbidden {
		t.Fatalf("passenger: expected 403, got %d", w.Code)
	}
}

func TestRecovery(t *testing.T) {
	w := do(newTestRouter(tokenWithRole("u1", "")), "/panic", "Bearer t")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if w.Header().Get(middleware.RequestIDHeader) == "" {
		t.Fatal("expected a request id header")
	}
}

func TestLogging_KeepsIncomingRequestID(t *testing.T) {
	r := newTestRouter(tokenWithRole("u1", ""))
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer t")
	req.Header.Set(middleware.RequestIDHeader, "req-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get(middleware.RequestIDHeader); got != "req-123" {
		t.Fatalf("request id = %q, want req-123", got)
	}
}
