package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/yungbote/adpilot-backend/internal/http/response"
	"github.com/yungbote/adpilot-backend/internal/platform/ctxutil"
	"github.com/yungbote/adpilot-backend/internal/platform/logger"
)

// Claims identify the tenant an API caller acts for.
type Claims struct {
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

type AuthMiddleware struct {
	log    *logger.Logger
	secret []byte
}

// NewAuthMiddleware verifies HS256 bearer tokens signed with secret. An empty secret
// disables auth; the tenant then comes from each request body.
func NewAuthMiddleware(log *logger.Logger, secret string) *AuthMiddleware {
	return &AuthMiddleware{
		log:    log.With("middleware", "AuthMiddleware"),
		secret: []byte(strings.TrimSpace(secret)),
	}
}

func (am *AuthMiddleware) Enabled() bool { return am != nil && len(am.secret) > 0 }

func (am *AuthMiddleware) RequireTenant() gin.HandlerFunc {
	if !am.Enabled() {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			response.RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("missing bearer token"))
			return
		}
		claims, err := am.Parse(token)
		if err != nil {
			am.log.Debug("Rejected bearer token", "error", err)
			response.RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("invalid or expired token"))
			return
		}
		c.Request = c.Request.WithContext(ctxutil.WithTenant(c.Request.Context(), claims.TenantID))
		c.Next()
	}
}

func (am *AuthMiddleware) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return am.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !parsed.Valid {
		return nil, errors.New("token not valid")
	}
	if strings.TrimSpace(claims.TenantID) == "" {
		return nil, errors.New("token has no tenant_id")
	}
	return claims, nil
}

// Sign issues a tenant token; used by ops tooling and tests.
func (am *AuthMiddleware) Sign(tenantID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   tenantID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(am.secret)
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
