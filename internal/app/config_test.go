package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/yungbote/adpilot-backend/internal/platform/logger"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("APP_ROLE", "")
	t.Setenv("PORT", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example.com, ,https://b.example.com")
	cfg := LoadConfig(logger.NewNop())

	assert.Equal(t, RoleAll, cfg.Role)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, 90*time.Second, cfg.WorkerDrain)
	assert.True(t, cfg.runs(RoleWorker))
}

func TestLoadConfig_UnknownRoleRunsEverything(t *testing.T) {
	t.Setenv("APP_ROLE", "Janitor")
	cfg := LoadConfig(logger.NewNop())
	assert.Equal(t, RoleAll, cfg.Role)

	t.Setenv("APP_ROLE", "worker")
	cfg = LoadConfig(logger.NewNop())
	assert.True(t, cfg.runs(RoleWorker))
	assert.False(t, cfg.runs(RoleAPI))
}
