package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/vizboard/vizboard-backend/internal/pkg/ctxutil"
	"github.com/vizboard/vizboard-backend/internal/pkg/logger"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, sub string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": exp.Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func authTestRouter(t *testing.T) (*gin.Engine, *uuid.UUID) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	var seen uuid.UUID
	r := gin.New()
	r.Use(NewAuthMiddleware(log, testSecret).RequireAuth())
	r.GET("/probe", func(c *gin.Context) {
		seen = ctxutil.UserID(c.Request.Context())
		c.Status(http.StatusOK)
	})
	return r, &seen
}

func TestRequireAuthAcceptsValidToken(t *testing.T) {
	r, seen := authTestRouter(t)
	userID := uuid.New()

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, userID.String(), time.Now().Add(time.Hour)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	if *seen != userID {
		t.Fatalf("handler saw user %s, want %s", *seen, userID)
	}
}

func TestRequireAuthRejectsMissingToken(t *testing.T) {
	r, _ := authTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestRequireAuthRejectsWrongSecret(t *testing.T) {
	r, _ := authTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "other-secret", uuid.NewString(), time.Now().Add(time.Hour)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestRequireAuthRejectsExpiredToken(t *testing.T) {
	r, _ := authTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, uuid.NewString(), time.Now().Add(-time.Hour)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestRequireAuthRejectsNonUUIDSubject(t *testing.T) {
	r, _ := authTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, "not-a-uuid", time.Now().Add(time.Hour)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}
