// Package lookup serves technician options for assignment selects, cached
// per tenant with a TTL.
package lookup

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/upendohq/idhini/model"
)

// CacheObserver receives cache hit/miss events.
type CacheObserver interface {
	ObserveLookupCache(hit bool)
}

// TechnicianProvider resolves eligible technicians with caching. Entries
// are scoped by tenant and asset type so one tenant's pool never leaks
// into another's.
type TechnicianProvider struct {
	backend    model.AssetService
	defaultTTL time.Duration
	maxEntries int
	observer   CacheObserver

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	technicians []model.Technician
	expiresAt   time.Time
}

// NewTechnicianProvider creates a new TechnicianProvider.
func NewTechnicianProvider(backend model.AssetService, defaultTTL time.Duration, maxEntries int) *TechnicianProvider {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &TechnicianProvider{
		backend:    backend,
		defaultTTL: defaultTTL,
		maxEntries: maxEntries,
		cache:      make(map[string]cacheEntry),
	}
}

// SetObserver attaches a cache observer. Must be called before first use.
func (p *TechnicianProvider) SetObserver(obs CacheObserver) {
	p.observer = obs
}

// Technicians returns the eligible technicians for the asset type,
// optionally filtered by a case-insensitive name query.
func (p *TechnicianProvider) Technicians(ctx context.Context, rctx *model.RequestContext, assetTypeID, query string) ([]model.Technician, error) {
	key := p.cacheKey(rctx, assetTypeID)

	if techs, hit := p.getFromCache(key); hit {
		p.observe(true)
		return filterTechnicians(techs, query), nil
	}
	p.observe(false)

	techs, err := p.backend.Technicians(ctx, rctx, assetTypeID)
	if err != nil {
		return nil, err
	}

	p.putInCache(key, techs)
	return filterTechnicians(techs, query), nil
}

// Options maps the technician pool into select options for form rendering.
// Inactive technicians are excluded; they can hold existing assignments but
// never receive new ones.
func (p *TechnicianProvider) Options(ctx context.Context, rctx *model.RequestContext, assetTypeID string) ([]model.OptionDescriptor, error) {
	techs, err := p.Technicians(ctx, rctx, assetTypeID, "")
	if err != nil {
		return nil, err
	}

	options := make([]model.OptionDescriptor, 0, len(techs))
	for _, t := range techs {
		if !t.Active {
			continue
		}
		options = append(options, model.OptionDescriptor{Value: t.ID, Label: t.Name})
	}
	return options, nil
}

// Invalidate removes cached pools for a tenant, or for every tenant when
// tenantID is empty.
func (p *TechnicianProvider) Invalidate(tenantID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for k := range p.cache {
		if tenantID == "" || strings.HasPrefix(k, "technicians:"+tenantID+":") {
			delete(p.cache, k)
		}
	}
}

// CacheLen returns the number of entries in the cache. For testing.
func (p *TechnicianProvider) CacheLen() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.cache)
}

func (p *TechnicianProvider) cacheKey(rctx *model.RequestContext, assetTypeID string) string {
	tenant := ""
	if rctx != nil {
		tenant = rctx.TenantID
	}
	return fmt.Sprintf("technicians:%s:%s", tenant, assetTypeID)
}

func (p *TechnicianProvider) getFromCache(key string) ([]model.Technician, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entry, exists := p.cache[key]
	if !exists || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.technicians, true
}

func (p *TechnicianProvider) putInCache(key string, technicians []model.Technician) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.cache) >= p.maxEntries {
		p.evictExpired()
	}

	p.cache[key] = cacheEntry{
		technicians: technicians,
		expiresAt:   time.Now().Add(p.defaultTTL),
	}
}

// evictExpired removes expired entries. Must be called with mu held.
func (p *TechnicianProvider) evictExpired() {
	now := time.Now()
	for k, v := range p.cache {
		if now.After(v.expiresAt) {
			delete(p.cache, k)
		}
	}
}

func (p *TechnicianProvider) observe(hit bool) {
	if p.observer != nil {
		p.observer.ObserveLookupCache(hit)
	}
}

// filterTechnicians filters by a case-insensitive substring of the name.
func filterTechnicians(techs []model.Technician, query string) []model.Technician {
	if query == "" {
		return techs
	}

	q := strings.ToLower(query)
	var filtered []model.Technician
	for _, t := range techs {
		if strings.Contains(strings.ToLower(t.Name), q) {
			filtered = append(filtered, t)
		}
	}
	return filtered
}
