package profile

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/msme-risk/internal/cache"
	"github.com/opensource-finance/msme-risk/internal/domain"
	"github.com/opensource-finance/msme-risk/internal/repository"
	"github.com/opensource-finance/msme-risk/internal/scoring"
)

func newRepo(t *testing.T) *repository.SQLRepository {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "profiles.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func conservative() domain.ScoringConfig {
	cfg := domain.DefaultScoringConfig()
	cfg.Weights = domain.CategoryWeights{Core: 0.7, Alternative: 0.2, Metadata: 0.1}
	return cfg
}

func TestRegistry_DefaultAlwaysResolves(t *testing.T) {
	reg, err := NewRegistry(nil, nil, 0, domain.DefaultScoringConfig())
	require.NoError(t, err)

	engine, p, err := reg.Resolve(context.Background(), "tenant-001", "")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultProfileName, p.Name)
	assert.Equal(t, domain.DefaultScoringConfig(), engine.Config())
	assert.Equal(t, []string{domain.DefaultProfileName}, reg.Names("tenant-001"))
}

func TestRegistry_RejectsInvalidDefaults(t *testing.T) {
	cfg := domain.DefaultScoringConfig()
	cfg.Weights.Core = 0.9

	_, err := NewRegistry(nil, nil, 0, cfg)
	assert.ErrorIs(t, err, scoring.ErrInvalidConfig)
}

func TestRegistry_UnknownProfile(t *testing.T) {
	reg, err := NewRegistry(newRepo(t), cache.NewLRUCache(10), time.Minute, domain.DefaultScoringConfig())
	require.NoError(t, err)

	_, _, err = reg.Resolve(context.Background(), "tenant-001", "missing")
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

func TestRegistry_PutResolveRemove(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	lru := cache.NewLRUCache(10)
	reg, err := NewRegistry(repo, lru, time.Minute, domain.DefaultScoringConfig())
	require.NoError(t, err)

	require.NoError(t, reg.Put(ctx, "tenant-001", &domain.ScoringProfile{
		Name:    "conservative",
		Version: "1",
		Config:  conservative(),
	}))

	engine, p, err := reg.Resolve(ctx, "tenant-001", "conservative")
	require.NoError(t, err)
	assert.Equal(t, "tenant-001", p.TenantID)
	assert.Equal(t, 0.7, engine.Config().Weights.Core)

	stored, err := repo.GetProfile(ctx, "tenant-001", "conservative")
	require.NoError(t, err)
	assert.Equal(t, conservative(), stored.Config)

	var cached domain.ScoringProfile
	ok, err := cache.GetJSON(ctx, lru, "tenant-001", cache.ProfileKey("conservative"), &cached)
	require.NoError(t, err)
	assert.True(t, ok)

	// Other tenants do not see it.
	_, _, err = reg.Resolve(ctx, "tenant-002", "conservative")
	assert.ErrorIs(t, err, ErrProfileNotFound)

	require.NoError(t, reg.Remove(ctx, "tenant-001", "conservative"))
	_, _, err = reg.Resolve(ctx, "tenant-001", "conservative")
	assert.ErrorIs(t, err, ErrProfileNotFound)

	assert.ErrorIs(t, reg.Remove(ctx, "tenant-001", "conservative"), ErrProfileNotFound)
}

func TestRegistry_PutRejectsInvalidTables(t *testing.T) {
	reg, err := NewRegistry(newRepo(t), nil, 0, domain.DefaultScoringConfig())
	require.NoError(t, err)

	cfg := domain.DefaultScoringConfig()
	cfg.Caps.VintageYears = 0

	err = reg.Put(context.Background(), "tenant-001", &domain.ScoringProfile{Name: "broken", Config: cfg})
	assert.ErrorIs(t, err, scoring.ErrInvalidConfig)

	err = reg.Put(context.Background(), "tenant-001", &domain.ScoringProfile{Config: cfg})
	assert.ErrorIs(t, err, repository.ErrInvalidInput)
}

func TestRegistry_GlobalProfilesAndShadowing(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	require.NoError(t, repo.SaveProfile(ctx, GlobalTenant, &domain.ScoringProfile{
		Name: "conservative", Version: "global", Config: conservative(), Enabled: true,
	}))

	reg, err := NewRegistry(repo, nil, 0, domain.DefaultScoringConfig())
	require.NoError(t, err)

	_, p, err := reg.Resolve(ctx, "tenant-001", "conservative")
	require.NoError(t, err)
	assert.Equal(t, "global", p.Version)

	require.NoError(t, reg.Put(ctx, "tenant-001", &domain.ScoringProfile{
		Name: "conservative", Version: "tenant", Config: conservative(),
	}))
	_, p, err = reg.Resolve(ctx, "tenant-001", "conservative")
	require.NoError(t, err)
	assert.Equal(t, "tenant", p.Version)

	// A stored "default" replaces the built-in tables.
	custom := conservative()
	require.NoError(t, reg.Put(ctx, GlobalTenant, &domain.ScoringProfile{Name: domain.DefaultProfileName, Config: custom}))
	engine, _, err := reg.Resolve(ctx, "tenant-002", "")
	require.NoError(t, err)
	assert.Equal(t, custom, engine.Config())

	profiles, err := reg.Profiles(ctx, "tenant-001")
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, "conservative", profiles[0].Name)
	assert.Equal(t, "tenant", profiles[0].Version)
	assert.Equal(t, domain.DefaultProfileName, profiles[1].Name)
}

func TestRegistry_TenantProfileShadowsLoadedGlobal(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	require.NoError(t, repo.SaveProfile(ctx, GlobalTenant, &domain.ScoringProfile{
		Name: "conservative", Version: "global", Config: conservative(), Enabled: true,
	}))
	tenantCfg := conservative()
	tenantCfg.Weights = domain.CategoryWeights{Core: 0.6, Alternative: 0.3, Metadata: 0.1}
	require.NoError(t, repo.SaveProfile(ctx, "tenant-001", &domain.ScoringProfile{
		Name: "conservative", Version: "tenant", Config: tenantCfg, Enabled: true,
	}))

	reg, err := NewRegistry(repo, cache.NewLRUCache(10), time.Minute, domain.DefaultScoringConfig())
	require.NoError(t, err)
	// Only the global tenant is loaded at startup.
	require.NoError(t, reg.Load(ctx, GlobalTenant))

	for i := 0; i < 2; i++ {
		engine, p, err := reg.Resolve(ctx, "tenant-001", "conservative")
		require.NoError(t, err)
		assert.Equal(t, "tenant", p.Version)
		assert.Equal(t, tenantCfg, engine.Config())
	}

	_, p, err := reg.Resolve(ctx, "tenant-002", "conservative")
	require.NoError(t, err)
	assert.Equal(t, "global", p.Version)
}

func TestRegistry_RememberedMissClearedByPut(t *testing.T) {
	ctx := context.Background()
	reg, err := NewRegistry(newRepo(t), nil, 0, domain.DefaultScoringConfig())
	require.NoError(t, err)

	_, _, err = reg.Resolve(ctx, "tenant-001", "conservative")
	require.ErrorIs(t, err, ErrProfileNotFound)

	require.NoError(t, reg.Put(ctx, "tenant-001", &domain.ScoringProfile{
		Name: "conservative", Version: "1", Config: conservative(),
	}))
	_, p, err := reg.Resolve(ctx, "tenant-001", "conservative")
	require.NoError(t, err)
	assert.Equal(t, "1", p.Version)
}

func TestRegistry_LoadAndReload(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	require.NoError(t, repo.SaveProfile(ctx, "tenant-001", &domain.ScoringProfile{
		Name: "conservative", Version: "1", Config: conservative(), Enabled: true,
	}))

	broken := domain.DefaultScoringConfig()
	broken.Weights.Metadata = 0.9
	require.NoError(t, repo.SaveProfile(ctx, "tenant-001", &domain.ScoringProfile{
		Name: "broken", Version: "1", Config: broken, Enabled: true,
	}))

	reg, err := NewRegistry(repo, cache.NewLRUCache(10), time.Minute, domain.DefaultScoringConfig())
	require.NoError(t, err)
	require.NoError(t, reg.Load(ctx, "tenant-001"))

	assert.Equal(t, []string{"conservative", domain.DefaultProfileName}, reg.Names("tenant-001"))

	// Changes made behind the registry's back show up after a reload.
	updated := conservative()
	updated.Weights = domain.CategoryWeights{Core: 0.6, Alternative: 0.3, Metadata: 0.1}
	require.NoError(t, repo.SaveProfile(ctx, "tenant-001", &domain.ScoringProfile{
		Name: "conservative", Version: "2", Config: updated, Enabled: true,
	}))

	_, p, err := reg.Resolve(ctx, "tenant-001", "conservative")
	require.NoError(t, err)
	assert.Equal(t, "1", p.Version)

	require.NoError(t, reg.Reload(ctx, "tenant-001"))
	_, p, err = reg.Resolve(ctx, "tenant-001", "conservative")
	require.NoError(t, err)
	assert.Equal(t, "2", p.Version)
}

func TestRegistry_ConcurrentResolve(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	require.NoError(t, repo.SaveProfile(ctx, GlobalTenant, &domain.ScoringProfile{
		Name: "conservative", Version: "1", Config: conservative(), Enabled: true,
	}))

	reg, err := NewRegistry(repo, cache.NewLRUCache(10), time.Minute, domain.DefaultScoringConfig())
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := reg.Resolve(ctx, "tenant-001", "conservative"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("resolve failed: %v", err)
	}
}
