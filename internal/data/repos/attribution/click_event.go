package attribution

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/adpilot-backend/internal/domain"
	"github.com/yungbote/adpilot-backend/internal/pkg/dbctx"
	"github.com/yungbote/adpilot-backend/internal/platform/logger"
)

type ClickEventRepo interface {
	Create(dbc dbctx.Context, ev *types.ClickEvent) (*types.ClickEvent, error)
	GetByClickID(dbc dbctx.Context, tenantID string, clickID string) (*types.ClickEvent, error)
	LatestByFingerprint(dbc dbctx.Context, tenantID string, fingerprint string, since time.Time, until time.Time) (*types.ClickEvent, error)
	ListProbabilisticCandidates(dbc dbctx.Context, tenantID string, ip string, userAgent string, since time.Time, until time.Time, limit int) ([]*types.ClickEvent, error)
	Claim(dbc dbctx.Context, id uuid.UUID, conversionID string) (bool, error)
}

type clickEventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewClickEventRepo(db *gorm.DB, baseLog *logger.Logger) ClickEventRepo {
	return &clickEventRepo{
		db:  db,
		log: baseLog.With("repo", "ClickEventRepo"),
	}
}

// Create stores a click. A platform click id replayed within the same tenant is a no-op
// that returns the stored row.
func (r *clickEventRepo) Create(dbc dbctx.Context, ev *types.ClickEvent) (*types.ClickEvent, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if ev == nil {
		return nil, nil
	}
	ev.ClickedAt = ev.ClickedAt.UTC()
	res := transaction.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "tenant_id"}, {Name: "click_id"}}, DoNothing: true}).
		Create(ev)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 && ev.ClickID != nil {
		return r.GetByClickID(dbc, ev.TenantID, *ev.ClickID)
	}
	return ev, nil
}

func (r *clickEventRepo) GetByClickID(dbc dbctx.Context, tenantID string, clickID string) (*types.ClickEvent, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if clickID == "" {
		return nil, nil
	}
	var ev types.ClickEvent
	err := transaction.WithContext(dbc.Ctx).
		Where("tenant_id = ? AND click_id = ?", tenantID, clickID).
		Limit(1).
		Find(&ev).Error
	if err != nil {
		return nil, err
	}
	if ev.ID == uuid.Nil {
		return nil, nil
	}
	return &ev, nil
}

func (r *clickEventRepo) LatestByFingerprint(dbc dbctx.Context, tenantID string, fingerprint string, since time.Time, until time.Time) (*types.ClickEvent, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if fingerprint == "" {
		return nil, nil
	}
	var ev types.ClickEvent
	err := transaction.WithContext(dbc.Ctx).
		Where("tenant_id = ? AND fingerprint = ? AND attributed_conversion_id IS NULL", tenantID, fingerprint).
		Where("clicked_at >= ? AND clicked_at <= ?", since.UTC(), until.UTC()).
		Order("clicked_at DESC").
		Limit(1).
		Find(&ev).Error
	if err != nil {
		return nil, err
	}
	if ev.ID == uuid.Nil {
		return nil, nil
	}
	return &ev, nil
}

func (r *clickEventRepo) ListProbabilisticCandidates(dbc dbctx.Context, tenantID string, ip string, userAgent string, since time.Time, until time.Time, limit int) ([]*types.ClickEvent, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.ClickEvent
	if ip == "" && userAgent == "" {
		return out, nil
	}
	if limit <= 0 {
		limit = 500
	}
	q := transaction.WithContext(dbc.Ctx).
		Where("tenant_id = ? AND attributed_conversion_id IS NULL", tenantID).
		Where("clicked_at >= ? AND clicked_at <= ?", since.UTC(), until.UTC())
	switch {
	case ip != "" && userAgent != "":
		q = q.Where("ip = ? OR user_agent = ?", ip, userAgent)
	case ip != "":
		q = q.Where("ip = ?", ip)
	default:
		q = q.Where("user_agent = ?", userAgent)
	}
	if err := q.Order("clicked_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Claim binds a click to a conversion. False means another conversion got there first.
func (r *clickEventRepo) Claim(dbc dbctx.Context, id uuid.UUID, conversionID string) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.ClickEvent{}).
		Where("id = ? AND attributed_conversion_id IS NULL", id).
		Update("attributed_conversion_id", conversionID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
