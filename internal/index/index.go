package index

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/patrickhere/proxy-machine-sub001/internal/domain"
	"github.com/patrickhere/proxy-machine-sub001/internal/logger"
	"github.com/patrickhere/proxy-machine-sub001/internal/store"
	"github.com/patrickhere/proxy-machine-sub001/internal/store/schema"
)

// CardIndex is the cached query surface over the print store. Safe for
// concurrent readers; the build/rebuild path is owned by the ingester and
// never runs through this type.
type CardIndex struct {
	store store.Store
	cache *expirable.LRU[string, []*schema.Print]
}

// Config holds query cache sizing
type Config struct {
	CacheSize int
	CacheTTL  time.Duration
}

// New creates a CardIndex fronting the given store with a TTL'd LRU result
// cache. Expiry and eviction happen on access, not via a background sweep.
func New(st store.Store, cfg Config) *CardIndex {
	size := cfg.CacheSize
	if size <= 0 {
		size = 256
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &CardIndex{
		store: st,
		cache: expirable.NewLRU[string, []*schema.Print](size, nil, ttl),
	}
}

// Verify checks that the underlying index is usable, returning
// domain.ErrDatabaseUnavailable otherwise
func (i *CardIndex) Verify(ctx context.Context) error {
	return i.store.Verify(ctx)
}

// Query runs a structured filter, serving repeated filters from the cache.
// Results are deterministically ordered (release date, set, collector number).
func (i *CardIndex) Query(ctx context.Context, filter domain.QueryFilter) ([]*schema.Print, error) {
	key := cacheKey(filter)
	if cached, ok := i.cache.Get(key); ok {
		logger.Debug("query cache hit", zap.String("key", key))
		// Callers may sort or truncate the result; hand out a copy so the
		// cached entry stays intact
		return append([]*schema.Print(nil), cached...), nil
	}

	prints, err := i.store.QueryPrints(ctx, filter)
	if err != nil {
		return nil, err
	}

	i.cache.Add(key, append([]*schema.Print(nil), prints...))
	return prints, nil
}

// CandidatesByName returns prints matching a card name for resolution,
// bypassing the cache (the resolver layers its own scoring on top)
func (i *CardIndex) CandidatesByName(ctx context.Context, name string) ([]*schema.Print, error) {
	return i.store.FindPrintsBySlug(ctx, domain.Slugify(name))
}

// PrintsByIDs returns the given prints in deterministic order
func (i *CardIndex) PrintsByIDs(ctx context.Context, ids []string) ([]*schema.Print, error) {
	return i.store.GetPrintsByIDs(ctx, ids)
}

// RelationshipsBySourceIDs returns all edges originating from the given prints
func (i *CardIndex) RelationshipsBySourceIDs(ctx context.Context, sourceIDs []string) ([]*schema.CardRelationship, error) {
	return i.store.GetRelationshipsBySourceIDs(ctx, sourceIDs)
}

// cacheKey produces the normalized filter tuple used as the cache key.
// Slices are sorted so logically identical filters share an entry.
func cacheKey(f domain.QueryFilter) string {
	langs := append([]string(nil), f.Languages...)
	sort.Strings(langs)
	colors := make([]string, 0, len(f.ColorIdentity))
	for _, c := range f.ColorIdentity {
		colors = append(colors, strings.ToUpper(c))
	}
	sort.Strings(colors)

	token := "-"
	if f.IsToken != nil {
		token = fmt.Sprintf("%t", *f.IsToken)
	}
	basic := "-"
	if f.IsBasicLand != nil {
		basic = fmt.Sprintf("%t", *f.IsBasicLand)
	}

	return strings.Join([]string{
		strings.ToLower(f.Name),
		fmt.Sprintf("%t", f.NameExact),
		strings.ToLower(f.SetCode),
		strings.Join(langs, ","),
		strings.ToLower(f.Rarity),
		strings.ToLower(f.TypeLine),
		strings.ToLower(f.OracleText),
		strings.Join(colors, ","),
		token,
		basic,
		fmt.Sprintf("%d", f.Limit),
	}, "|")
}
