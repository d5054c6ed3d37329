package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tariff-service/internal/pkg/jwt"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRouter(t *testing.T) (*gin.Engine, *jwt.Generator) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	gen := jwt.NewGenerator(key, "accounts", "tariff-service", time.Hour)
	auth := NewAuthMiddleware(jwt.NewVerifier(&key.PublicKey, "accounts", "tariff-service"))

	r := gin.New()
	r.Use(RecoveryMiddleware(zap.NewNop()), RequestLogger(zap.NewNop()))
	r.GET("/me", auth.Auth(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": MustGetIdentityID(c), "admin": IsAdmin(c)})
	})
	r.GET("/admin", append(auth.AdminOnly(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})...)
	r.GET("/panic", func(c *gin.Context) { panic("boom") })
	return r, gen
}

func do(r *gin.Engine, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthRequiresToken(t *testing.T) {
	r, _ := newRouter(t)

	assert.Equal(t, http.StatusUnauthorized, do(r, "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "/me", "not-a-jwt").Code)
}

func TestAuthSetsIdentity(t *testing.T) {
	r, gen := newRouter(t)
	tok, err := gen.GenerateAccessToken(42, []string{"user"})
	require.NoError(t, err)

	w := do(r, "/me", tok)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":42,"admin":false}`, w.Body.String())

	w = do(r, "/me?token="+tok, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminOnly(t *testing.T) {
	r, gen := newRouter(t)

	user, err := gen.GenerateAccessToken(42, []string{"user"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, do(r, "/admin", user).Code)

	admin, err := gen.GenerateAccessToken(1, []string{"admin"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, do(r, "/admin", admin).Code)
}

func TestRecoveryReturns500(t *testing.T) {
	r, _ := newRouter(t)
	assert.Equal(t, http.StatusInternalServerError, do(r, "/panic", "").Code)
}
