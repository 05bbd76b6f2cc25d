package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/adpilot-backend/internal/platform/apierr"
	"github.com/yungbote/adpilot-backend/internal/platform/ctxutil"
)

var (
	errTenantRequired = apierr.BadRequest("tenant_required", errors.New("tenant_id is required"))
	errTenantMismatch = apierr.New(http.StatusForbidden, "tenant_mismatch", errors.New("tenant_id does not match token"))
)

// resolveTenant picks the tenant a request acts for. A token tenant wins; a body tenant
// that disagrees with it is rejected.
func resolveTenant(c *gin.Context, fromBody string) (string, error) {
	fromBody = strings.TrimSpace(fromBody)
	fromToken := ctxutil.GetTenant(c.Request.Context())
	switch {
	case fromToken != "" && fromBody != "" && fromBody != fromToken:
		return "", errTenantMismatch
	case fromToken != "":
		return fromToken, nil
	case fromBody != "":
		return fromBody, nil
	}
	return "", errTenantRequired
}

func bindJSON(c *gin.Context, dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return apierr.BadRequest("invalid_body", err)
	}
	return nil
}
