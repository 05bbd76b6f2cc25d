package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	types "github.com/yungbote/adpilot-backend/internal/domain"
	"github.com/yungbote/adpilot-backend/internal/http/response"
	"github.com/yungbote/adpilot-backend/internal/modules/attribution"
	"github.com/yungbote/adpilot-backend/internal/platform/apierr"
	"github.com/yungbote/adpilot-backend/internal/platform/logger"
	"github.com/yungbote/adpilot-backend/internal/signals"
	"github.com/yungbote/adpilot-backend/internal/signals/bus"
)

type Publisher interface {
	Publish(ctx context.Context, sig signals.Signal) error
}

// SignalHandler validates inbound platform and CRM events and queues them on the signal
// bus. Processing is asynchronous, so every accepted request answers 202.
type SignalHandler struct {
	log *logger.Logger
	pub Publisher
	now func() time.Time
}

func NewSignalHandler(log *logger.Logger, pub Publisher) *SignalHandler {
	return &SignalHandler{
		log: log.With("handler", "SignalHandler"),
		pub: pub,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// POST /api/signals/performance
func (h *SignalHandler) Performance(c *gin.Context) {
	var p signals.Performance
	if err := bindJSON(c, &p); err != nil {
		response.RespondErr(c, err)
		return
	}
	tenant, err := resolveTenant(c, p.TenantID)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	p.TenantID = tenant
	if p.ObservedAt.IsZero() {
		p.ObservedAt = h.now()
	}
	if err := p.Validate(); err != nil {
		response.RespondErr(c, invalid(err))
		return
	}
	h.publish(c, signals.KindPerformance, tenant, p)
}

// POST /api/signals/clicks
func (h *SignalHandler) Click(c *gin.Context) {
	var in attribution.Click
	if err := bindJSON(c, &in); err != nil {
		response.RespondErr(c, err)
		return
	}
	tenant, err := resolveTenant(c, in.TenantID)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	in.TenantID = tenant
	if strings.TrimSpace(in.AdID) == "" {
		response.RespondErr(c, invalid(errors.New("ad_id required")))
		return
	}
	if in.ClickedAt.IsZero() {
		in.ClickedAt = h.now()
	}
	if in.IP == "" {
		in.IP = c.ClientIP()
	}
	if in.UserAgent == "" {
		in.UserAgent = c.Request.UserAgent()
	}
	h.publish(c, signals.KindClick, tenant, in)
}

// POST /api/signals/conversions
func (h *SignalHandler) Conversion(c *gin.Context) {
	h.conversion(c, "")
}

// POST /api/signals/stage-changes
func (h *SignalHandler) StageChange(c *gin.Context) {
	h.conversion(c, types.ConversionStageChange)
}

func (h *SignalHandler) conversion(c *gin.Context, forceKind string) {
	var in attribution.Conversion
	if err := bindJSON(c, &in); err != nil {
		response.RespondErr(c, err)
		return
	}
	tenant, err := resolveTenant(c, in.TenantID)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	in.TenantID = tenant
	if forceKind != "" {
		in.Kind = forceKind
	}
	if in.OccurredAt.IsZero() {
		in.OccurredAt = h.now()
	}
	switch {
	case strings.TrimSpace(in.ConversionID) == "":
		err = errors.New("conversion_id required")
	case in.Kind == types.ConversionStageChange && strings.TrimSpace(in.ToStage) == "":
		err = errors.New("to_stage required")
	case in.Kind == types.ConversionPurchase && (in.Value == nil || in.Value.IsNegative()):
		err = errors.New("purchase needs a non-negative value")
	case in.Kind != types.ConversionStageChange && in.Kind != types.ConversionPurchase:
		err = fmt.Errorf("unknown conversion kind %q", in.Kind)
	}
	if err != nil {
		response.RespondErr(c, invalid(err))
		return
	}
	h.publish(c, signals.KindConversion, tenant, in)
}

func (h *SignalHandler) publish(c *gin.Context, kind, tenant string, payload any) {
	sig, err := signals.New(kind, tenant, payload)
	if err != nil {
		response.RespondErr(c, invalid(err))
		return
	}
	if err := h.pub.Publish(c.Request.Context(), sig); err != nil {
		h.log.Warn("Publish signal failed", "kind", kind, "tenant_id", tenant, "error", err)
		if errors.Is(err, bus.ErrBusClosed) {
			response.RespondErr(c, apierr.New(http.StatusServiceUnavailable, "bus_closed", err))
			return
		}
		response.RespondErr(c, err)
		return
	}
	response.RespondAccepted(c, gin.H{"signal_id": sig.ID, "kind": kind})
}

func invalid(err error) error {
	return apierr.New(http.StatusUnprocessableEntity, "invalid_signal", err)
}
