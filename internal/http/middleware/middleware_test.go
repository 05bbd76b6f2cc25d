package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/adpilot-backend/internal/platform/ctxutil"
	"github.com/yungbote/adpilot-backend/internal/platform/logger"
)

func tenantEcho(am *AuthMiddleware) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AttachTraceContext(), am.RequireTenant())
	r.GET("/who", func(c *gin.Context) {
		c.String(http.StatusOK, ctxutil.GetTenant(c.Request.Context()))
	})
	return r
}

func get(r http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/who", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRequireTenant(t *testing.T) {
	am := NewAuthMiddleware(logger.NewNop(), "s3cret")
	r := tenantEcho(am)

	token, err := am.Sign("t1", time.Hour)
	require.NoError(t, err)
	rec := get(r, token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "t1", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))

	assert.Equal(t, http.StatusUnauthorized, get(r, "").Code)

	expired, err := am.Sign("t1", -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, get(r, expired).Code)

	other, err := NewAuthMiddleware(logger.NewNop(), "other").Sign("t1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, get(r, other).Code)

	noTenant, err := am.Sign("", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, get(r, noTenant).Code)
}

func TestRequireTenant_DisabledPassesThrough(t *testing.T) {
	r := tenantEcho(NewAuthMiddleware(logger.NewNop(), ""))
	rec := get(r, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestAttachTraceContext_KeepsClientRequestID(t *testing.T) {
	r := tenantEcho(NewAuthMiddleware(logger.NewNop(), ""))
	req := httptest.NewRequest(http.MethodGet, "/who", nil)
	req.Header.Set(HeaderRequestID, "req-42")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get(HeaderRequestID))
	assert.Equal(t, "req-42", rec.Header().Get(HeaderTraceID), "no span and no trace header")
}
