package attribution

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/adpilot-backend/internal/domain"
	"github.com/yungbote/adpilot-backend/internal/pkg/dbctx"
	"github.com/yungbote/adpilot-backend/internal/platform/logger"
)

type MethodCount struct {
	Method string
	Count  int64
}

type AttributionRecordRepo interface {
	Create(dbc dbctx.Context, rec *types.AttributionRecord) (*types.AttributionRecord, error)
	GetByConversionID(dbc dbctx.Context, conversionID string) (*types.AttributionRecord, error)
	CountByMethodSince(dbc dbctx.Context, tenantID string, since time.Time) ([]MethodCount, error)
}

type attributionRecordRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAttributionRecordRepo(db *gorm.DB, baseLog *logger.Logger) AttributionRecordRepo {
	return &attributionRecordRepo{
		db:  db,
		log: baseLog.With("repo", "AttributionRecordRepo"),
	}
}

func (r *attributionRecordRepo) Create(dbc dbctx.Context, rec *types.AttributionRecord) (*types.AttributionRecord, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if rec == nil {
		return nil, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(rec).Error; err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *attributionRecordRepo) GetByConversionID(dbc dbctx.Context, conversionID string) (*types.AttributionRecord, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if conversionID == "" {
		return nil, nil
	}
	var rec types.AttributionRecord
	err := transaction.WithContext(dbc.Ctx).
		Where("conversion_id = ?", conversionID).
		Limit(1).
		Find(&rec).Error
	if err != nil {
		return nil, err
	}
	if rec.ID == uuid.Nil {
		return nil, nil
	}
	return &rec, nil
}

func (r *attributionRecordRepo) CountByMethodSince(dbc dbctx.Context, tenantID string, since time.Time) ([]MethodCount, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	type row struct {
		MatchMethod string
		N           int64
	}
	var rows []row
	q := transaction.WithContext(dbc.Ctx).
		Model(&types.AttributionRecord{}).
		Select("match_method, COUNT(*) AS n").
		Where("matched_at >= ?", since.UTC())
	if tenantID != "" {
		q = q.Where("tenant_id = ?", tenantID)
	}
	if err := q.Group("match_method").Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]MethodCount, 0, len(rows))
	for _, rr := range rows {
		out = append(out, MethodCount{Method: rr.MatchMethod, Count: rr.N})
	}
	return out, nil
}
