package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/adpilot-backend/internal/http/response"
	"github.com/yungbote/adpilot-backend/internal/modules/status"
	"github.com/yungbote/adpilot-backend/internal/platform/ctxutil"
)

type StatusViewer interface {
	View(ctx context.Context, tenantID string) (status.View, error)
}

type StatusHandler struct {
	views StatusViewer
}

func NewStatusHandler(views StatusViewer) *StatusHandler {
	return &StatusHandler{views: views}
}

// GET /api/status?tenant_id=
// Without a tenant (auth disabled, no query) the view covers every tenant.
func (h *StatusHandler) GetStatus(c *gin.Context) {
	tenant := ctxutil.GetTenant(c.Request.Context())
	if q := c.Query("tenant_id"); q != "" {
		resolved, err := resolveTenant(c, q)
		if err != nil {
			response.RespondErr(c, err)
			return
		}
		tenant = resolved
	}
	v, err := h.views.View(c.Request.Context(), tenant)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"status": v})
}
