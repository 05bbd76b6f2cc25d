package winners

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/adpilot-backend/internal/domain"
	"github.com/yungbote/adpilot-backend/internal/pkg/dbctx"
	"github.com/yungbote/adpilot-backend/internal/platform/logger"
)

type WinnerRecordRepo interface {
	UpsertMany(dbc dbctx.Context, rows []*types.WinnerRecord) error
	ListAll(dbc dbctx.Context) ([]*types.WinnerRecord, error)
	Count(dbc dbctx.Context) (int64, error)
}

type winnerRecordRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewWinnerRecordRepo(db *gorm.DB, baseLog *logger.Logger) WinnerRecordRepo {
	return &winnerRecordRepo{
		db:  db,
		log: baseLog.With("repo", "WinnerRecordRepo"),
	}
}

// UpsertMany writes rows keyed by ad_id; re-indexing an ad replaces its embedding and metadata.
func (r *winnerRecordRepo) UpsertMany(dbc dbctx.Context, rows []*types.WinnerRecord) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(rows) == 0 {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "ad_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"tenant_id", "dim", "embedding", "hook_type", "visual_style", "emotion_tag",
				"ctr", "pipeline_roas", "updated_at",
			}),
		}).
		CreateInBatches(&rows, 200).Error
}

func (r *winnerRecordRepo) ListAll(dbc dbctx.Context) ([]*types.WinnerRecord, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.WinnerRecord
	if err := transaction.WithContext(dbc.Ctx).
		Order("created_at ASC, ad_id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *winnerRecordRepo) Count(dbc dbctx.Context) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	err := transaction.WithContext(dbc.Ctx).Model(&types.WinnerRecord{}).Count(&n).Error
	return n, err
}
