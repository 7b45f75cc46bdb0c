// Package profile keeps one scoring engine per named scoring profile.
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/opensource-finance/msme-risk/internal/cache"
	"github.com/opensource-finance/msme-risk/internal/domain"
	"github.com/opensource-finance/msme-risk/internal/repository"
	"github.com/opensource-finance/msme-risk/internal/scoring"
)

// GlobalTenant owns profiles visible to every tenant.
const GlobalTenant = "*"

var ErrProfileNotFound = errors.New("scoring profile not found")

// Registry resolves profile names to immutable scoring engines.
// Each tenant is searched in memory, then cache, then repository before
// falling back to the global tenant, so tenant profiles shadow global ones.
// "default" always resolves.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	// misses remembers names a tenant has no profile for until the next
	// Put or Reload of that tenant.
	misses map[string]bool

	repo     domain.Repository
	cache    domain.Cache
	cacheTTL time.Duration

	builtin *entry
}

type entry struct {
	profile *domain.ScoringProfile
	engine  *scoring.Engine
}

// NewRegistry creates a registry whose built-in default profile uses defaults.
// repo and c may be nil.
func NewRegistry(repo domain.Repository, c domain.Cache, cacheTTL time.Duration, defaults domain.ScoringConfig) (*Registry, error) {
	engine, err := scoring.NewEngine(defaults)
	if err != nil {
		return nil, fmt.Errorf("default profile: %w", err)
	}

	return &Registry{
		entries:  make(map[string]*entry),
		misses:   make(map[string]bool),
		repo:     repo,
		cache:    c,
		cacheTTL: cacheTTL,
		builtin: &entry{
			profile: &domain.ScoringProfile{
				Name:        domain.DefaultProfileName,
				TenantID:    GlobalTenant,
				Description: "Reference scoring tables",
				Version:     "builtin",
				Config:      defaults,
				Enabled:     true,
			},
			engine: engine,
		},
	}, nil
}

// Load builds engines for every stored profile of the tenant. Profiles with
// invalid tables are skipped and logged.
func (r *Registry) Load(ctx context.Context, tenantID string) error {
	if r.repo == nil {
		return nil
	}

	profiles, err := r.repo.ListProfiles(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to list profiles: %w", err)
	}

	loaded := 0
	for _, p := range profiles {
		e, err := newEntry(p)
		if err != nil {
			slog.Warn("skipping invalid scoring profile",
				"tenant_id", tenantID,
				"profile", p.Name,
				"error", err,
			)
			continue
		}
		r.store(tenantID, e)
		loaded++
	}

	slog.Info("scoring profiles loaded", "tenant_id", tenantID, "count", loaded)
	return nil
}

// Reload drops the tenant's engines and cached profiles, then loads them again.
func (r *Registry) Reload(ctx context.Context, tenantID string) error {
	r.mu.Lock()
	var names []string
	for k, e := range r.entries {
		if e.profile.TenantID == tenantID {
			names = append(names, e.profile.Name)
			delete(r.entries, k)
		}
	}
	for k := range r.misses {
		if strings.HasPrefix(k, tenantID+"/") {
			delete(r.misses, k)
		}
	}
	r.mu.Unlock()

	if r.cache != nil {
		for _, name := range names {
			_ = r.cache.Delete(ctx, tenantID, cache.ProfileKey(name))
		}
	}

	return r.Load(ctx, tenantID)
}

// Resolve returns the engine and profile for name. An empty name means "default".
func (r *Registry) Resolve(ctx context.Context, tenantID, name string) (*scoring.Engine, *domain.ScoringProfile, error) {
	if name == "" {
		name = domain.DefaultProfileName
	}

	tenants := []string{tenantID}
	if tenantID != GlobalTenant {
		tenants = append(tenants, GlobalTenant)
	}

	for _, t := range tenants {
		e, err := r.resolveTenant(ctx, t, name)
		if err != nil {
			return nil, nil, err
		}
		if e != nil {
			return e.engine, e.profile, nil
		}
	}

	if name == domain.DefaultProfileName {
		return r.builtin.engine, r.builtin.profile, nil
	}
	return nil, nil, fmt.Errorf("%w: %s", ErrProfileNotFound, name)
}

// Put validates, persists and activates a profile.
func (r *Registry) Put(ctx context.Context, tenantID string, p *domain.ScoringProfile) error {
	if p == nil || p.Name == "" {
		return fmt.Errorf("%w: profile name is required", repository.ErrInvalidInput)
	}
	p.TenantID = tenantID
	p.Enabled = true

	e, err := newEntry(p)
	if err != nil {
		return err
	}

	if r.repo != nil {
		if err := r.repo.SaveProfile(ctx, tenantID, p); err != nil {
			return fmt.Errorf("failed to save profile: %w", err)
		}
	}

	r.store(tenantID, e)
	r.cachePut(ctx, tenantID, p)
	return nil
}

// Remove disables a stored profile. The built-in default cannot be removed.
func (r *Registry) Remove(ctx context.Context, tenantID, name string) error {
	if r.repo != nil {
		if err := r.repo.DeleteProfile(ctx, tenantID, name); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrProfileNotFound, name)
			}
			return err
		}
	} else if r.lookup(tenantID, name) == nil {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}

	r.mu.Lock()
	delete(r.entries, key(tenantID, name))
	r.mu.Unlock()

	if r.cache != nil {
		_ = r.cache.Delete(ctx, tenantID, cache.ProfileKey(name))
	}
	return nil
}

// Profiles lists the profiles visible to a tenant, sorted by name.
// Tenant profiles shadow global ones of the same name.
func (r *Registry) Profiles(ctx context.Context, tenantID string) ([]*domain.ScoringProfile, error) {
	byName := map[string]*domain.ScoringProfile{
		domain.DefaultProfileName: r.builtin.profile,
	}

	tenants := []string{GlobalTenant}
	if tenantID != GlobalTenant {
		tenants = append(tenants, tenantID)
	}

	for _, t := range tenants {
		if r.repo != nil {
			stored, err := r.repo.ListProfiles(ctx, t)
			if err != nil {
				return nil, fmt.Errorf("failed to list profiles: %w", err)
			}
			for _, p := range stored {
				byName[p.Name] = p
			}
			continue
		}

		r.mu.RLock()
		for _, e := range r.entries {
			if e.profile.TenantID == t {
				byName[e.profile.Name] = e.profile
			}
		}
		r.mu.RUnlock()
	}

	out := make([]*domain.ScoringProfile, 0, len(byName))
	for _, p := range byName {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Names returns the names of the engines currently held for a tenant,
// including global ones and "default".
func (r *Registry) Names(tenantID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := map[string]bool{domain.DefaultProfileName: true}
	for _, e := range r.entries {
		if e.profile.TenantID == tenantID || e.profile.TenantID == GlobalTenant {
			seen[e.profile.Name] = true
		}
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// resolveTenant looks name up for exactly one tenant. It returns nil, nil
// when the tenant has no such profile.
func (r *Registry) resolveTenant(ctx context.Context, tenantID, name string) (*entry, error) {
	k := key(tenantID, name)

	r.mu.RLock()
	e, missed := r.entries[k], r.misses[k]
	r.mu.RUnlock()
	if e != nil {
		return e, nil
	}
	if missed {
		return nil, nil
	}

	e, err := r.fetch(ctx, tenantID, name)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e == nil {
		r.misses[k] = true
		return nil, nil
	}
	r.entries[k] = e
	return e, nil
}

func (r *Registry) lookup(tenantID, name string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[key(tenantID, name)]
}

func (r *Registry) store(tenantID string, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(tenantID, e.profile.Name)
	r.entries[k] = e
	delete(r.misses, k)
}

// fetch reads a profile from cache, then repository. It returns nil, nil on a miss.
func (r *Registry) fetch(ctx context.Context, tenantID, name string) (*entry, error) {
	if r.cache != nil {
		var p domain.ScoringProfile
		ok, err := cache.GetJSON(ctx, r.cache, tenantID, cache.ProfileKey(name), &p)
		if err != nil {
			slog.Warn("profile cache read failed", "tenant_id", tenantID, "profile", name, "error", err)
		}
		if ok {
			if e, err := newEntry(&p); err == nil {
				return e, nil
			}
		}
	}

	if r.repo == nil {
		return nil, nil
	}

	p, err := r.repo.GetProfile(ctx, tenantID, name)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile %s: %w", name, err)
	}

	e, err := newEntry(p)
	if err != nil {
		return nil, err
	}
	r.cachePut(ctx, tenantID, p)
	return e, nil
}

func (r *Registry) cachePut(ctx context.Context, tenantID string, p *domain.ScoringProfile) {
	if r.cache == nil {
		return
	}
	if err := cache.SetJSON(ctx, r.cache, tenantID, cache.ProfileKey(p.Name), p, r.cacheTTL); err != nil {
		slog.Warn("profile cache write failed", "tenant_id", tenantID, "profile", p.Name, "error", err)
	}
}

func newEntry(p *domain.ScoringProfile) (*entry, error) {
	engine, err := scoring.NewEngine(p.Config)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", p.Name, err)
	}
	return &entry{profile: p, engine: engine}, nil
}

func key(tenantID, name string) string {
	return tenantID + "/" + name
}
