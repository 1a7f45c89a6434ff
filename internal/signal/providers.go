package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/identifier"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// RepositoryProviders adapts the repository into the four provider
// interfaces, translating not-found into the absent signal.
type RepositoryProviders struct {
	Repo domain.Repository
}

var _ ContactDirectory = (*RepositoryProviders)(nil)
var _ BlacklistRegistry = (*RepositoryProviders)(nil)
var _ ProfileStore = (*RepositoryProviders)(nil)
var _ SimilarContactFinder = (*RepositoryProviders)(nil)

// GetContact returns the directory entry for a payee, or nil when absent.
func (p *RepositoryProviders) GetContact(ctx context.Context, userID, payee string) (*domain.Contact, error) {
	c, err := p.Repo.GetContact(ctx, userID, payee)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return c, err
}

// GetEntry returns the blacklist entry for a payee, or nil when absent.
func (p *RepositoryProviders) GetEntry(ctx context.Context, payee string) (*domain.BlacklistEntry, error) {
	e, err := p.Repo.GetBlacklistEntry(ctx, payee)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return e, err
}

// GetProfile returns the user's behavior profile, or nil when absent.
func (p *RepositoryProviders) GetProfile(ctx context.Context, userID string) (*domain.BehaviorProfile, error) {
	prof, err := p.Repo.GetBehaviorProfile(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return prof, err
}

// FindSimilar scans the user's contacts sharing the payee's handle and keeps
// the lookalikes. Exact matches are the payee itself and are excluded.
func (p *RepositoryProviders) FindSimilar(ctx context.Context, userID string, payee identifier.Identifier) ([]string, error) {
	contacts, err := p.Repo.ListContactsByHandle(ctx, userID, payee.Handle)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var similar []string
	for _, c := range contacts {
		other, err := identifier.Parse(c.Identifier)
		if err != nil {
			continue
		}
		if identifier.Similar(payee, other) {
			similar = append(similar, other.Raw)
		}
	}
	return similar, nil
}

// CachedBlacklistRegistry is a read-through cache in front of a blacklist
// registry. The evaluator stays cache-agnostic; staleness is bounded by the
// TTL, and a cache failure falls through to the underlying registry.
type CachedBlacklistRegistry struct {
	Next  BlacklistRegistry
	Cache domain.Cache
	TTL   time.Duration
}

// cachedEntry distinguishes a cached miss from a cache miss.
type cachedEntry struct {
	Found bool                   `json:"found"`
	Entry *domain.BlacklistEntry `json:"entry,omitempty"`
}

// GetEntry checks the cache first, then the registry, populating on the way
// back.
func (c *CachedBlacklistRegistry) GetEntry(ctx context.Context, payee string) (*domain.BlacklistEntry, error) {
	key := "blacklist:" + payee

	if data, err := c.Cache.Get(ctx, key); err == nil && data != nil {
		var cached cachedEntry
		if err := json.Unmarshal(data, &cached); err == nil {
			return cached.Entry, nil
		}
	}

	entry, err := c.Next.GetEntry(ctx, payee)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(cachedEntry{Found: entry != nil, Entry: entry}); err == nil {
		_ = c.Cache.Set(ctx, key, data, c.TTL)
	}

	return entry, nil
}
