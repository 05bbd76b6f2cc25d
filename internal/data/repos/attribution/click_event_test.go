package attribution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/adpilot-backend/internal/data/repos/testutil"
	types "github.com/yungbote/adpilot-backend/internal/domain"
	"github.com/yungbote/adpilot-backend/internal/pkg/dbctx"
)

func TestClickEventRepo_ClickIDIsScopedToTenant(t *testing.T) {
	db := testutil.DB(t)
	repo := NewClickEventRepo(db, testutil.Logger(t))
	dbc := dbctx.Background(context.Background())
	clickID := "gclid-shared"
	at := time.Now().UTC().Truncate(time.Second)

	first, err := repo.Create(dbc, &types.ClickEvent{TenantID: "t1", ClickID: &clickID, AdID: "a1", ClickedAt: at})
	require.NoError(t, err)
	require.NotNil(t, first)

	other, err := repo.Create(dbc, &types.ClickEvent{TenantID: "t2", ClickID: &clickID, AdID: "b1", ClickedAt: at})
	require.NoError(t, err)
	require.NotNil(t, other, "same click id under another tenant is its own click")
	assert.NotEqual(t, first.ID, other.ID)
	assert.Equal(t, "b1", other.AdID)

	replay, err := repo.Create(dbc, &types.ClickEvent{TenantID: "t1", ClickID: &clickID, AdID: "a2", ClickedAt: at})
	require.NoError(t, err)
	require.NotNil(t, replay)
	assert.Equal(t, first.ID, replay.ID, "replay within a tenant returns the stored row")
	assert.Equal(t, "a1", replay.AdID)

	got, err := repo.GetByClickID(dbc, "t2", clickID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, other.ID, got.ID)
}
