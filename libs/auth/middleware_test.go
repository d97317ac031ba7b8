package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, claims Claims, secret string) string {
	t.Helper()
	signed, err := NewToken(claims, []byte(secret), time.Hour, time.Now())
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Middleware([]byte("secret")))
	r.GET("/me", func(c *gin.Context) { c.JSON(200, gin.H{"ok": true}) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestMiddlewareRejectsForeignSecret(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Middleware([]byte("secret")))
	r.GET("/me", func(c *gin.Context) { c.JSON(200, gin.H{"ok": true}) })

	token := signedToken(t, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"}}, "other")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestMiddlewareExposesClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Middleware([]byte("secret")))
	r.GET("/me", func(c *gin.Context) {
		claims, ok := ClaimsFromContext(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(200, gin.H{"sub": claims.Subject, "internal": claims.IsInternal(), "entities": claims.Entities})
	})

	token := signedToken(t, Claims{
		Roles:            []string{RoleEntityAdmin},
		Entities:         []string{"ent-1"},
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-123"},
	}, "secret")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := w.Body.String(); got != `{"entities":["ent-1"],"internal":false,"sub":"user-123"}` {
		t.Fatalf("unexpected body %s", got)
	}
}

func TestRequireRole(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Middleware([]byte("secret")))
	r.PUT("/policy", RequireRole(RoleSystemAdmin), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	cases := []struct {
		name   string
		roles  []string
		status int
	}{
		{name: "admin", roles: []string{RoleSystemAdmin}, status: http.StatusNoContent},
		{name: "supervisor", roles: []string{RoleSupervisor}, status: http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			token := signedToken(t, Claims{Roles: tc.roles, RegisteredClaims: jwt.RegisteredClaims{Subject: "u"}}, "secret")
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPut, "/policy", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			r.ServeHTTP(w, req)
			if w.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, w.Code)
			}
		})
	}
}

func TestIsInternalRole(t *testing.T) {
	if !IsInternalRole(" Supervisor ") {
		t.Fatalf("expected supervisor to be internal")
	}
	if IsInternalRole(RoleEntityAdmin) {
		t.Fatalf("expected entity_admin to be external")
	}
}

func TestExtractBearer(t *testing.T) {
	if got := ExtractBearer("bearer abc "); got != "abc" {
		t.Fatalf("expected abc, got %q", got)
	}
	if got := ExtractBearer("Basic abc"); got != "" {
		t.Fatalf("expected empty for basic auth, got %q", got)
	}
}
