package middleware_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatchd/internal/http/middleware"
	"dispatchd/internal/infra"
	"dispatchd/internal/logger"
)

// stubVerifier is a test double for infra.TokenVerifier.
type stubVerifier struct {
	token *infra.FirebaseToken
	err   error
}

func (s *stubVerifier) VerifyIDToken(_ context.Context, _ string) (*infra.FirebaseToken, error) {
	return s.token, s.err
}

func newTestRouter(verifier infra.TokenVerifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Recovery(logger.NopLogger{}), middleware.Auth(verifier, "s3cret"))
	r.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"uid": middleware.CallerUID(c), "admin": middleware.IsAdmin(c)})
	})
	r.GET("/admin", middleware.RequireAdmin(), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/panic", func(c *gin.Context) { panic("boom") })
	return r
}

func do(r *gin.Engine, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestAuth_Rejections(t *testing.T) {
	cases := []struct {
		name     string
		verifier infra.TokenVerifier
		headers  map[string]string
	}{
		{name: "missing header", verifier: &stubVerifier{token: &infra.FirebaseToken{UID: "u1"}}},
		{name: "wrong scheme", verifier: &stubVerifier{token: &infra.FirebaseToken{UID: "u1"}}, headers: map[string]string{"Authorization": "Token abc"}},
		{name: "verifier error", verifier: &stubVerifier{err: errors.New("expired")}, headers: map[string]string{"Authorization": "Bearer abc"}},
		{name: "bad admin token", verifier: &stubVerifier{token: &infra.FirebaseToken{UID: "u1"}}, headers: map[string]string{middleware.AdminHeader: "guess", "Authorization": "Bearer abc"}},
		{name: "no verifier", headers: map[string]string{"Authorization": "Bearer abc"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(newTestRouter(tc.verifier), "/test", tc.headers)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "unauthenticated", decode(t, w)["kind"])
		})
	}
}

func TestAuth_ValidToken(t *testing.T) {
	token := &infra.FirebaseToken{UID: "driver123", Claims: map[string]interface{}{"role": "driver"}}
	r := newTestRouter(&stubVerifier{token: token})

	w := do(r, "/test", map[string]string{"Authorization": "Bearer validtoken"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "driver123", body["uid"])
	assert.Equal(t, false, body["admin"])

	w = do(r, "/admin", map[string]string{"Authorization": "Bearer validtoken"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "permission-denied", decode(t, w)["kind"])
}

func TestAuth_AdminClaimAndBypass(t *testing.T) {
	token := &infra.FirebaseToken{UID: "ops", Claims: map[string]interface{}{"admin": true}}
	r := newTestRouter(&stubVerifier{token: token})
	assert.Equal(t, http.StatusNoContent, do(r, "/admin", map[string]string{"Authorization": "Bearer t"}).Code)

	r = newTestRouter(&stubVerifier{err: errors.New("unused")})
	w := do(r, "/test", map[string]string{middleware.AdminHeader: "s3cret"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["admin"])
}

func TestRecovery(t *testing.T) {
	r := newTestRouter(&stubVerifier{token: &infra.FirebaseToken{UID: "u1"}})
	w := do(r, "/panic", map[string]string{"Authorization": "Bearer t"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal", decode(t, w)["kind"])
}
