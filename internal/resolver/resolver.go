// Package resolver implements EntityResolver (spec.md §4.7): mapping a
// platform's external identifiers and titles onto a canonical entity_id,
// deterministically and idempotently under retries.
package resolver

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/streamline/gateway/internal/types"
)

// cacheTTL is the resolved-mapping cache lifetime (spec.md §4.7).
const cacheTTL = 24 * time.Hour

// fuzzyAcceptThreshold is the minimum similarity score a fuzzy title match
// needs to be accepted (spec.md §4.7).
const fuzzyAcceptThreshold = 0.85

// Tier confidences (spec.md §4.7). Fuzzy matches use the similarity score
// itself rather than a fixed constant.
const (
	confEIDRExact      = 1.0
	confOtherIDExact   = 0.99
	confTitleYearExact = 0.9
)

// Store is the persistence contract Resolver needs: upsert-by-unique-key
// mapping storage plus lookups by each match tier. A real implementation
// lives in the shared relational store (content/entity_mappings tables);
// this narrow interface keeps internal/resolver independent of it for
// testing.
type Store interface {
	// FindByExternalID looks up an existing mapping for (externalID,
	// idType). ok=false if none exists.
	FindByExternalID(ctx context.Context, externalID string, idType types.IDType) (types.EntityMapping, bool, error)

	// FindByTitleYear looks up a mapping by normalized title + exact
	// release year.
	FindByTitleYear(ctx context.Context, normalizedTitle string, year int) (types.EntityMapping, bool, error)

	// CandidatesForFuzzyMatch returns every known (normalized title, year,
	// entity_id) triple within a year of the given release year, for
	// fuzzy similarity scoring. A real store indexes this by year to
	// avoid a full scan.
	CandidatesForFuzzyMatch(ctx context.Context, year int) ([]TitleCandidate, error)

	// NewEntityID allocates a fresh entity_id for content with no existing
	// match.
	NewEntityID(ctx context.Context) (string, error)

	// Upsert persists mapping, unique on (external_id, id_type).
	Upsert(ctx context.Context, mapping types.EntityMapping) error
}

// TitleCandidate is one existing entity's normalized title/year, used for
// fuzzy matching.
type TitleCandidate struct {
	NormalizedTitle string
	Year            int
	EntityID        string
}

// Input is what Resolve needs from a piece of content to determine its
// entity_id.
type Input struct {
	ExternalIDs types.ExternalIDs
	Title       string
	ReleaseYear int
}

// Resolver implements the match order spec.md §4.7 requires, first hit
// wins: EIDR exact, other external ID exact, title+year exact, fuzzy
// title within +/-1 year, else a new entity.
type Resolver struct {
	store Store
	cache *lru.LRU[string, types.EntityMapping]

	// mu serializes the read-check-then-write race for concurrent resolves
	// of the same new entity, so two simultaneous first-sight calls for
	// the same content don't mint two entity_ids (spec.md §4.7
	// determinism under retries).
	mu sync.Mutex
}

// New builds a Resolver backed by store, with an LRU+TTL cache of
// capacity cacheSize (spec.md §4.7).
func New(store Store, cacheSize int) *Resolver {
	if cacheSize <= 0 {
		cacheSize = 10_000
	}
	return &Resolver{
		store: store,
		cache: lru.NewLRU[string, types.EntityMapping](cacheSize, nil, cacheTTL),
	}
}

// Resolve returns the entity_id for in, matching in match-tier order and
// upserting a fresh mapping on a new entity. Deterministic under retries:
// a second call with the same inputs returns the same entity_id (spec.md
// §4.7, §8).
func (r *Resolver) Resolve(ctx context.Context, in Input) (types.EntityMapping, error) {
	normalizedTitle := NormalizeTitle(in.Title)

	if in.ExternalIDs.EIDR != "" {
		if m, ok, err := r.lookupCached(ctx, in.ExternalIDs.EIDR, types.IDTypeEIDR); err != nil {
			return types.EntityMapping{}, err
		} else if ok {
			m.Confidence = confEIDRExact
			return r.upsertAlias(ctx, m, in)
		}
	}
	if in.ExternalIDs.IMDb != "" {
		if m, ok, err := r.lookupCached(ctx, in.ExternalIDs.IMDb, types.IDTypeIMDb); err != nil {
			return types.EntityMapping{}, err
		} else if ok {
			m.Confidence = confOtherIDExact
			return r.upsertAlias(ctx, m, in)
		}
	}
	if in.ExternalIDs.TMDB != "" {
		if m, ok, err := r.lookupCached(ctx, in.ExternalIDs.TMDB, types.IDTypeTMDB); err != nil {
			return types.EntityMapping{}, err
		} else if ok {
			m.Confidence = confOtherIDExact
			return r.upsertAlias(ctx, m, in)
		}
	}

	if normalizedTitle != "" {
		m, ok, err := r.store.FindByTitleYear(ctx, normalizedTitle, in.ReleaseYear)
		if err != nil {
			return types.EntityMapping{}, fmt.Errorf("find by title/year: %w", err)
		}
		if ok {
			m.Confidence = confTitleYearExact
			return r.linkExternalIDs(ctx, m, in)
		}

		fuzzy, fuzzyOK, err := r.fuzzyMatch(ctx, normalizedTitle, in.ReleaseYear)
		if err != nil {
			return types.EntityMapping{}, err
		}
		if fuzzyOK {
			return r.linkExternalIDs(ctx, fuzzy, in)
		}
	}

	return r.mintNewEntity(ctx, normalizedTitle, in)
}

// lookupCached checks the LRU cache before falling through to the store,
// for the exact-external-id tiers.
func (r *Resolver) lookupCached(ctx context.Context, externalID string, idType types.IDType) (types.EntityMapping, bool, error) {
	key := cacheKey(externalID, idType)
	if m, ok := r.cache.Get(key); ok {
		return m, true, nil
	}
	m, ok, err := r.store.FindByExternalID(ctx, externalID, idType)
	if err != nil {
		return types.EntityMapping{}, false, fmt.Errorf("find by external id: %w", err)
	}
	if ok {
		r.cache.Add(key, m)
	}
	return m, ok, nil
}

// fuzzyMatch scores every candidate within +/-1 year against
// normalizedTitle and accepts the best one at or above
// fuzzyAcceptThreshold.
func (r *Resolver) fuzzyMatch(ctx context.Context, normalizedTitle string, year int) (types.EntityMapping, bool, error) {
	var best TitleCandidate
	bestScore := 0.0

	for _, y := range []int{year - 1, year, year + 1} {
		candidates, err := r.store.CandidatesForFuzzyMatch(ctx, y)
		if err != nil {
			return types.EntityMapping{}, false, fmt.Errorf("fuzzy candidates for year %d: %w", y, err)
		}
		for _, c := range candidates {
			score := titleSimilarity(normalizedTitle, c.NormalizedTitle)
			if score > bestScore {
				bestScore = score
				best = c
			}
		}
	}

	if bestScore < fuzzyAcceptThreshold {
		return types.EntityMapping{}, false, nil
	}
	return types.EntityMapping{
		EntityID:   best.EntityID,
		Confidence: bestScore,
	}, true, nil
}

// linkExternalIDs upserts mappings for any of in's external ids that
// aren't yet linked to m.EntityID, then returns m unchanged (its
// EntityID/Confidence already reflect the tier that matched).
func (r *Resolver) linkExternalIDs(ctx context.Context, m types.EntityMapping, in Input) (types.EntityMapping, error) {
	now := time.Now().UTC()
	for idType, externalID := range externalIDPairs(in.ExternalIDs) {
		if externalID == "" {
			continue
		}
		mapping := types.EntityMapping{ExternalID: externalID, IDType: idType, EntityID: m.EntityID, Confidence: m.Confidence, CreatedAt: now}
		if err := r.store.Upsert(ctx, mapping); err != nil {
			return types.EntityMapping{}, fmt.Errorf("link external id %s: %w", idType, err)
		}
		r.cache.Add(cacheKey(externalID, idType), mapping)
	}
	return m, nil
}

// upsertAlias is linkExternalIDs's counterpart for the exact-external-id
// match tiers: the matched id is already durable, but other external ids
// newly seen alongside it (e.g. a TMDB id arriving on content already
// resolved by IMDb) should be linked too.
func (r *Resolver) upsertAlias(ctx context.Context, m types.EntityMapping, in Input) (types.EntityMapping, error) {
	return r.linkExternalIDs(ctx, m, in)
}

// mintNewEntity allocates a new entity_id and upserts every external id
// plus the title/year mapping against it. Guarded by mu so two concurrent
// first-sight calls for the same content don't race into two entity_ids;
// a caller retrying after a transient failure will find the mapping
// already upserted by FindByExternalID/FindByTitleYear on the next call.
func (r *Resolver) mintNewEntity(ctx context.Context, normalizedTitle string, in Input) (types.EntityMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under the lock: another goroutine may have just minted
	// this exact entity while we were blocked.
	pairs := externalIDPairs(in.ExternalIDs)
	for _, idType := range []types.IDType{types.IDTypeEIDR, types.IDTypeIMDb, types.IDTypeTMDB} {
		if pairs[idType] == "" {
			continue
		}
		if m, ok, err := r.store.FindByExternalID(ctx, pairs[idType], idType); err == nil && ok {
			return m, nil
		}
	}
	if normalizedTitle != "" {
		if m, ok, err := r.store.FindByTitleYear(ctx, normalizedTitle, in.ReleaseYear); err == nil && ok {
			return m, nil
		}
	}

	id, err := r.store.NewEntityID(ctx)
	if err != nil {
		return types.EntityMapping{}, fmt.Errorf("allocate entity id: %w", err)
	}

	now := time.Now().UTC()
	result := types.EntityMapping{EntityID: id, Confidence: 1.0, CreatedAt: now}

	for idType, externalID := range externalIDPairs(in.ExternalIDs) {
		if externalID == "" {
			continue
		}
		mapping := types.EntityMapping{ExternalID: externalID, IDType: idType, EntityID: id, Confidence: 1.0, CreatedAt: now}
		if err := r.store.Upsert(ctx, mapping); err != nil {
			return types.EntityMapping{}, fmt.Errorf("upsert new entity external id %s: %w", idType, err)
		}
		r.cache.Add(cacheKey(externalID, idType), mapping)
	}

	if normalizedTitle != "" {
		tyMapping := types.EntityMapping{
			ExternalID: titleYearKey(normalizedTitle, in.ReleaseYear),
			IDType:     types.IDTypeTitleYear,
			EntityID:   id,
			Confidence: 1.0,
			CreatedAt:  now,
		}
		if err := r.store.Upsert(ctx, tyMapping); err != nil {
			return types.EntityMapping{}, fmt.Errorf("upsert new entity title/year: %w", err)
		}
	}

	return result, nil
}

func externalIDPairs(ids types.ExternalIDs) map[types.IDType]string {
	return map[types.IDType]string{
		types.IDTypeEIDR: ids.EIDR,
		types.IDTypeIMDb: ids.IMDb,
		types.IDTypeTMDB: ids.TMDB,
	}
}

func cacheKey(externalID string, idType types.IDType) string {
	return string(idType) + ":" + externalID
}

func titleYearKey(normalizedTitle string, year int) string {
	return normalizedTitle + ":" + strconv.Itoa(year)
}

// foldDiacritics transform chain, built once: NFD-decompose, drop
// combining marks, NFC-recompose.
var foldDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeTitle lowercases, diacritic-folds, and collapses whitespace and
// punctuation in title, for stable title+year and fuzzy matching (spec.md
// §4.7).
func NormalizeTitle(title string) string {
	if title == "" {
		return ""
	}
	folded, _, err := transform.String(foldDiacritics, title)
	if err != nil {
		folded = title
	}

	var b strings.Builder
	lastWasSpace := true
	for _, r := range strings.ToLower(folded) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastWasSpace = false
		default:
			if !lastWasSpace {
				b.WriteRune(' ')
				lastWasSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// titleSimilarity scores two normalized titles in [0,1] using normalized
// Levenshtein edit distance. No corpus example or third-party library
// implements fuzzy string similarity for this exact shape, so this is
// deliberately small and self-contained rather than pulled from a
// dependency (see DESIGN.md).
func titleSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}
	dist := levenshtein(a, b)
	maxLen := math.Max(float64(len(a)), float64(len(b)))
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(dist)/maxLen
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
