// Package lookup answers "which products does brand X sell?" against the
// catalog, resolving each product's image to a displayable URL.
//
// Results are cached per brand in an LRU cache. The cache is purged whenever
// a reconciliation run finishes in this process, and entries expire after a
// TTL so runs made by other processes become visible too.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/steveyegge/catalogsync/internal/catalog/gateway"
	"github.com/steveyegge/catalogsync/internal/catalog/schema"
	catsync "github.com/steveyegge/catalogsync/internal/catalog/sync"
)

const (
	// DefaultCacheSize is the number of brands kept in the result cache.
	DefaultCacheSize = 256
	// DefaultCacheTTL bounds how long a cached result is served.
	DefaultCacheTTL = 5 * time.Minute
)

// Listing is one product together with its image URL.
type Listing struct {
	schema.Product `yaml:",inline"`
	ImageURL       string `json:"image_url" yaml:"image_url"`
}

// LookupError reports a failed brand lookup. Callers render it as a message
// next to an empty result.
type LookupError struct {
	Brand string
	Err   error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("lookup for brand %q failed: %v", e.Brand, e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// IsLookupError reports whether err is or wraps a *LookupError.
func IsLookupError(err error) bool {
	var lerr *LookupError
	return errors.As(err, &lerr)
}

// Options configures a Service.
type Options struct {
	// CacheSize is the number of cached brands. Negative disables caching;
	// zero means DefaultCacheSize.
	CacheSize int

	// CacheTTL bounds the age of a served cache entry (default 5m).
	CacheTTL time.Duration

	// Logger for lookup activity (default: slog.Default()).
	Logger *slog.Logger
}

type cacheEntry struct {
	listings []Listing
	storedAt time.Time
}

// Service performs brand lookups. It is safe for concurrent use.
//
// Service implements sync.Observer so it can be registered with a reconciler
// to drop cached results after each run.
type Service struct {
	catsync.BaseObserver

	records gateway.RecordStore
	assets  gateway.AssetStore
	cache   *lru.Cache[string, cacheEntry]
	ttl     time.Duration
	logger  *slog.Logger

	// generation counts purges. A fetch that straddles a purge is not cached.
	mu         sync.Mutex
	generation uint64
}

// New creates a lookup service. assets is used only to resolve URLs.
func New(records gateway.RecordStore, assets gateway.AssetStore, opts Options) (*Service, error) {
	if records == nil {
		return nil, fmt.Errorf("records cannot be nil")
	}
	if assets == nil {
		return nil, fmt.Errorf("assets cannot be nil")
	}
	if opts.CacheSize == 0 {
		opts.CacheSize = DefaultCacheSize
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		records: records,
		assets:  assets,
		ttl:     opts.CacheTTL,
		logger:  logger.With("component", "lookup"),
	}
	if opts.CacheSize > 0 {
		cache, err := lru.New[string, cacheEntry](opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create lookup cache: %w", err)
		}
		s.cache = cache
	}
	return s, nil
}

// Lookup returns the products of brand in ascending ID order. The brand must
// match exactly after surrounding whitespace is trimmed. An empty brand
// yields an empty result.
//
// On failure it returns an empty result and a *LookupError.
func (s *Service) Lookup(ctx context.Context, brand string) ([]Listing, error) {
	brand = strings.TrimSpace(brand)
	if brand == "" {
		return nil, nil
	}

	if s.cache != nil {
		if entry, ok := s.cache.Get(brand); ok {
			if time.Since(entry.storedAt) < s.ttl {
				return slices.Clone(entry.listings), nil
			}
			s.cache.Remove(brand)
		}
	}

	gen := s.currentGeneration()
	products, err := s.records.FetchByBrand(ctx, brand)
	if err != nil {
		s.logger.Warn("lookup failed", "brand", brand, "error", err)
		return nil, &LookupError{Brand: brand, Err: err}
	}

	listings := make([]Listing, 0, len(products))
	for _, p := range products {
		listings = append(listings, Listing{Product: *p, ImageURL: s.assets.URL(p.ImagePath)})
	}
	s.logger.Debug("lookup", "brand", brand, "results", len(listings))

	if s.cache != nil {
		s.mu.Lock()
		if s.generation == gen {
			s.cache.Add(brand, cacheEntry{listings: slices.Clone(listings), storedAt: time.Now()})
		}
		s.mu.Unlock()
	}
	return listings, nil
}

func (s *Service) currentGeneration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Purge drops every cached result. Lookups already in flight do not
// repopulate the cache with what they read.
func (s *Service) Purge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	if s.cache != nil {
		s.cache.Purge()
	}
}

// RunFinished implements sync.Observer.
func (s *Service) RunFinished(summary *catsync.Summary, err error) {
	s.Purge()
}
