package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	types "github.com/yungbote/adpilot-backend/internal/domain"
	"github.com/yungbote/adpilot-backend/internal/http/response"
	"github.com/yungbote/adpilot-backend/internal/modules/changequeue"
	"github.com/yungbote/adpilot-backend/internal/pkg/dbctx"
	"github.com/yungbote/adpilot-backend/internal/platform/apierr"
)

type ChangeQueue interface {
	Propose(ctx context.Context, p changequeue.Proposal) (uuid.UUID, error)
	Get(ctx context.Context, id uuid.UUID) (*types.PendingChange, error)
	History(ctx context.Context, id uuid.UUID) ([]*types.ChangeHistory, error)
}

type AdLookup interface {
	GetByAdID(dbc dbctx.Context, adID string) (*types.AdState, error)
}

// ChangeHandler lets operators queue a change by hand. It goes through the same queue
// and safety gates as the feedback cycle's own proposals.
type ChangeHandler struct {
	queue ChangeQueue
	ads   AdLookup
}

func NewChangeHandler(queue ChangeQueue, ads AdLookup) *ChangeHandler {
	return &ChangeHandler{queue: queue, ads: ads}
}

type changeRequest struct {
	TenantID string           `json:"tenant_id"`
	AdID     string           `json:"ad_id" binding:"required"`
	Action   string           `json:"action" binding:"required"`
	Target   *decimal.Decimal `json:"target,omitempty"`
	Reason   string           `json:"reason"`
}

// POST /api/changes
func (h *ChangeHandler) Propose(c *gin.Context) {
	var req changeRequest
	if err := bindJSON(c, &req); err != nil {
		response.RespondErr(c, err)
		return
	}
	tenant, err := resolveTenant(c, req.TenantID)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	ctx := c.Request.Context()
	ad, err := h.ads.GetByAdID(dbctx.Background(ctx), strings.TrimSpace(req.AdID))
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	if ad == nil || ad.TenantID != tenant {
		response.RespondErr(c, apierr.New(http.StatusNotFound, "ad_not_found", fmt.Errorf("ad %q not found", req.AdID)))
		return
	}

	p := changequeue.Proposal{
		TenantID:   tenant,
		CampaignID: ad.CampaignID,
		AdID:       ad.AdID,
		Action:     strings.TrimSpace(req.Action),
		Current:    ad.DailyBudget,
		Reason:     strings.TrimSpace(req.Reason),
	}
	if p.Reason == "" {
		p.Reason = "manual"
	}
	if req.Target != nil {
		p.Target = *req.Target
	}
	id, err := h.queue.Propose(ctx, p)
	switch {
	case errors.Is(err, changequeue.ErrInvalidChange):
		response.RespondErr(c, apierr.New(http.StatusUnprocessableEntity, "invalid_change", err))
		return
	case errors.Is(err, changequeue.ErrChangeInFlight):
		response.RespondErr(c, apierr.Conflict("change_in_flight", err))
		return
	case err != nil:
		response.RespondErr(c, err)
		return
	}
	response.RespondAccepted(c, gin.H{"change_id": id})
}

// GET /api/changes/:id
func (h *ChangeHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_change_id", err)
		return
	}
	ctx := c.Request.Context()
	change, err := h.queue.Get(ctx, id)
	if errors.Is(err, changequeue.ErrNotFound) {
		response.RespondError(c, http.StatusNotFound, "change_not_found", err)
		return
	}
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	if tenant, _ := resolveTenant(c, ""); tenant != "" && tenant != change.TenantID {
		response.RespondError(c, http.StatusNotFound, "change_not_found", changequeue.ErrNotFound)
		return
	}
	history, err := h.queue.History(ctx, id)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"change": change, "history": history})
}
