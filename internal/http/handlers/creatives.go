package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pgvector/pgvector-go"

	types "github.com/yungbote/adpilot-backend/internal/domain"
	"github.com/yungbote/adpilot-backend/internal/http/response"
	"github.com/yungbote/adpilot-backend/internal/modules/winners"
	"github.com/yungbote/adpilot-backend/internal/pkg/dbctx"
	"github.com/yungbote/adpilot-backend/internal/platform/apierr"
)

type CreativeStore interface {
	Upsert(dbc dbctx.Context, creative *types.Creative) error
}

type SimilarFinder interface {
	Dim() int
	FindSimilarFor(tenantID string, embedding []float32, k int) ([]winners.Match, error)
}

const (
	defaultSimilarK = 5
	maxSimilarK     = 50
)

type CreativeHandler struct {
	creatives CreativeStore
	index     SimilarFinder
}

func NewCreativeHandler(creatives CreativeStore, index SimilarFinder) *CreativeHandler {
	return &CreativeHandler{creatives: creatives, index: index}
}

type creativeRequest struct {
	TenantID    string    `json:"tenant_id"`
	AdID        string    `json:"ad_id" binding:"required"`
	Embedding   []float32 `json:"embedding" binding:"required"`
	HookType    string    `json:"hook_type"`
	VisualStyle string    `json:"visual_style"`
	EmotionTag  string    `json:"emotion_tag"`
}

// POST /api/creatives
func (h *CreativeHandler) Register(c *gin.Context) {
	var req creativeRequest
	if err := bindJSON(c, &req); err != nil {
		response.RespondErr(c, err)
		return
	}
	tenant, err := resolveTenant(c, req.TenantID)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	if err := h.checkDim(req.Embedding); err != nil {
		response.RespondErr(c, err)
		return
	}
	cr := &types.Creative{
		AdID:        strings.TrimSpace(req.AdID),
		TenantID:    tenant,
		Embedding:   pgvector.NewVector(req.Embedding),
		HookType:    req.HookType,
		VisualStyle: req.VisualStyle,
		EmotionTag:  req.EmotionTag,
	}
	if err := h.creatives.Upsert(dbctx.Background(c.Request.Context()), cr); err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"creative": cr})
}

type similarRequest struct {
	TenantID  string    `json:"tenant_id"`
	Embedding []float32 `json:"embedding" binding:"required"`
	K         int       `json:"k"`
}

// POST /api/winners/similar
// With a known tenant only that tenant's winners are ranked.
func (h *CreativeHandler) Similar(c *gin.Context) {
	var req similarRequest
	if err := bindJSON(c, &req); err != nil {
		response.RespondErr(c, err)
		return
	}
	k := req.K
	switch {
	case k <= 0:
		k = defaultSimilarK
	case k > maxSimilarK:
		k = maxSimilarK
	}
	tenant, err := resolveTenant(c, req.TenantID)
	if errors.Is(err, errTenantMismatch) {
		response.RespondErr(c, err)
		return
	}
	matches, err := h.index.FindSimilarFor(tenant, req.Embedding, k)
	if err != nil {
		if errors.Is(err, winners.ErrDimensionMismatch) || errors.Is(err, winners.ErrZeroVector) {
			err = apierr.BadRequest("invalid_embedding", err)
		}
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"matches": matches})
}

func (h *CreativeHandler) checkDim(v []float32) error {
	if h.index == nil {
		return nil
	}
	if len(v) != h.index.Dim() {
		return apierr.New(http.StatusBadRequest, "invalid_embedding",
			fmt.Errorf("%w: got %d, want %d", winners.ErrDimensionMismatch, len(v), h.index.Dim()))
	}
	return nil
}
