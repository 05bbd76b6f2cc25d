package tenantconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"gopkg.in/yaml.v3"
	"gorm.io/datatypes"

	"github.com/yungbote/adpilot-backend/internal/data/repos"
	"github.com/yungbote/adpilot-backend/internal/pkg/dbctx"
	"github.com/yungbote/adpilot-backend/internal/platform/logger"
)

type Options struct {
	// DefaultsFile is an optional YAML document overriding the compiled defaults.
	DefaultsFile string
	TTL          time.Duration
	Size         int
}

// Provider resolves Settings for a tenant: compiled defaults, then the YAML file, then
// the tenant_config row. Resolved settings are cached for TTL so database edits take
// effect without a restart.
type Provider struct {
	log  *logger.Logger
	repo repos.TenantConfigRepo
	file string

	mu   sync.RWMutex
	base Settings

	cache *expirable.LRU[string, Settings]
}

func NewProvider(baseLog *logger.Logger, repo repos.TenantConfigRepo, opts Options) (*Provider, error) {
	if opts.TTL <= 0 {
		opts.TTL = time.Minute
	}
	if opts.Size <= 0 {
		opts.Size = 1024
	}
	p := &Provider{
		log:   baseLog.With("service", "TenantConfigProvider"),
		repo:  repo,
		file:  strings.TrimSpace(opts.DefaultsFile),
		base:  Defaults(),
		cache: expirable.NewLRU[string, Settings](opts.Size, nil, opts.TTL),
	}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload re-reads the defaults file and drops cached tenants.
func (p *Provider) Reload() error {
	base := Defaults()
	if p.file != "" {
		raw, err := os.ReadFile(p.file)
		if err != nil {
			return fmt.Errorf("read tenant defaults %s: %w", p.file, err)
		}
		if err := yaml.Unmarshal(raw, &base); err != nil {
			return fmt.Errorf("parse tenant defaults %s: %w", p.file, err)
		}
	}
	base = base.sanitize()
	p.mu.Lock()
	p.base = base
	p.mu.Unlock()
	p.cache.Purge()
	p.log.Info("Tenant defaults loaded", "file", p.file, "ignorance_mode", base.IgnoranceMode)
	return nil
}

func (p *Provider) Defaults() Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.base
}

// Get never fails: a missing or unreadable tenant row yields the defaults.
func (p *Provider) Get(ctx context.Context, tenantID string) Settings {
	if s, ok := p.cache.Get(tenantID); ok {
		return s
	}
	s := p.Defaults()
	if p.repo != nil && tenantID != "" {
		row, err := p.repo.Get(dbctx.Background(ctx), tenantID)
		switch {
		case err != nil:
			p.log.Warn("Tenant config lookup failed; using defaults", "tenant_id", tenantID, "error", err)
			return s
		case row != nil && len(row.Settings) > 0:
			if err := json.Unmarshal(row.Settings, &s); err != nil {
				p.log.Warn("Tenant config malformed; using defaults", "tenant_id", tenantID, "error", err)
				s = p.Defaults()
			}
		}
	}
	s = s.sanitize()
	p.cache.Add(tenantID, s)
	return s
}

// Put stores a tenant override document and invalidates its cache entry.
func (p *Provider) Put(ctx context.Context, tenantID string, overrides map[string]any) error {
	raw, err := json.Marshal(overrides)
	if err != nil {
		return err
	}
	var check Settings
	if err := json.Unmarshal(raw, &check); err != nil {
		return fmt.Errorf("invalid tenant settings: %w", err)
	}
	if err := p.repo.Upsert(dbctx.Background(ctx), tenantID, datatypes.JSON(raw)); err != nil {
		return err
	}
	p.cache.Remove(tenantID)
	return nil
}
