package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/ragdoc/internal/embedder"
	"github.com/dshills/ragdoc/internal/vectorindex"
	"github.com/dshills/ragdoc/pkg/types"
)

// SearchMode defines how search is performed
type SearchMode string

const (
	SearchModeHybrid  SearchMode = "hybrid"  // Vector + full-text with RRF
	SearchModeVector  SearchMode = "vector"  // Vector similarity only
	SearchModeKeyword SearchMode = "keyword" // Full-text search only
)

var (
	// ErrNoEmbedder is returned by vector searches when no embedder was given
	ErrNoEmbedder = errors.New("embedder not initialized")

	// ErrNoKeywordIndex is returned by keyword searches when no index was given
	ErrNoKeywordIndex = errors.New("keyword index not initialized")
)

// KeywordQuery asks a KeywordIndex for its best matches
type KeywordQuery struct {
	Text  string
	Kinds []types.UnitKind // empty means all kinds
	Limit int
}

// KeywordHit is one full-text match. Higher scores rank first.
type KeywordHit struct {
	UnitID string
	Score  float64
}

// KeywordIndex ranks the units of one run by full-text relevance.
// Hits come back best first, ties by ascending unit ID.
type KeywordIndex interface {
	Search(ctx context.Context, q KeywordQuery) ([]KeywordHit, error)
	Close() error
}

// SearchRequest contains parameters for a search operation
type SearchRequest struct {
	Query       string
	Limit       int
	Mode        SearchMode
	Kinds       []types.UnitKind // empty means all kinds
	UseCache    bool
	CacheTTL    time.Duration
	RRFConstant float64 // k value for Reciprocal Rank Fusion (default 60)
}

// Result is one matching unit
type Result struct {
	UnitID  string         `json:"unit_id"`
	Kind    types.UnitKind `json:"kind"`
	Name    string         `json:"name"`
	Path    string         `json:"path"`
	Span    types.Span     `json:"span"`
	Rank    int            `json:"rank"`
	Score   float64        `json:"score"`
	Excerpt string         `json:"excerpt"`
}

// SearchResponse contains search results and metadata
type SearchResponse struct {
	Results       []Result
	TotalResults  int
	SearchMode    SearchMode
	Duration      time.Duration
	CacheHit      bool
	VectorResults int
	TextResults   int
}

// cacheEntry represents a cached search response with expiration time
type cacheEntry struct {
	response  *SearchResponse
	expiresAt time.Time
}

// TextFunc returns the documentation text of a unit, if any
type TextFunc func(unitID string) string

// Searcher answers retrieval queries over one run's forest and index
type Searcher struct {
	forest   *types.Forest
	index    vectorindex.Index
	embedder embedder.Embedder
	text     TextFunc
	keywords KeywordIndex
	byHash   map[string][]string

	cache   *lru.Cache[[32]byte, *cacheEntry]
	cacheMu sync.RWMutex
}

// Option configures a Searcher
type Option func(*Searcher)

// WithEmbedder enables vector and hybrid free-text search
func WithEmbedder(e embedder.Embedder) Option {
	return func(s *Searcher) {
		s.embedder = e
	}
}

// WithText sets where result excerpts come from
func WithText(fn TextFunc) Option {
	return func(s *Searcher) {
		s.text = fn
	}
}

// WithKeywordIndex enables keyword and hybrid full-text search
func WithKeywordIndex(k KeywordIndex) Option {
	return func(s *Searcher) {
		s.keywords = k
	}
}

// New creates a Searcher for forest backed by index
func New(forest *types.Forest, index vectorindex.Index, opts ...Option) *Searcher {
	cache, err := lru.New[[32]byte, *cacheEntry](1000)
	if err != nil {
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}

	s := &Searcher{
		forest: forest,
		index:  index,
		byHash: make(map[string][]string),
		cache:  cache,
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, u := range forest.Units {
		h := u.ContentHash()
		s.byHash[h] = append(s.byHash[h], u.ID)
	}
	return s
}

// Search performs a free-text search based on the request parameters
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	startTime := time.Now()

	if err := s.validateRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid search request: %w", err)
	}

	if req.UseCache {
		if cached, ok := s.checkCache(req); ok {
			cached.CacheHit = true
			cached.Duration = time.Since(startTime)
			return cached, nil
		}
	}

	var response *SearchResponse
	var err error

	switch req.Mode {
	case SearchModeHybrid:
		response, err = s.hybridSearch(ctx, req)
	case SearchModeVector:
		response, err = s.vectorSearch(ctx, req)
	case SearchModeKeyword:
		response, err = s.keywordSearch(ctx, req)
	default:
		return nil, fmt.Errorf("unsupported search mode: %s", req.Mode)
	}
	if err != nil {
		return nil, err
	}

	response.Duration = time.Since(startTime)
	response.SearchMode = req.Mode

	if req.UseCache && len(response.Results) > 0 {
		s.storeInCache(req, response)
	}

	return response, nil
}

type scored struct {
	id    string
	score float64
}

// vectorHits embeds the query and ranks indexed units by distance. With a
// kind filter the index is asked for more neighbors until limit units of
// those kinds are found or the index runs out.
func (s *Searcher) vectorHits(ctx context.Context, req SearchRequest, limit int) ([]scored, error) {
	if s.embedder == nil || s.index == nil {
		return nil, ErrNoEmbedder
	}
	vector, err := s.embedder.Embed(ctx, req.Query, "")
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	fetch := limit
	for {
		res, err := s.index.Query(ctx, vector, fetch, nil)
		if err != nil {
			return nil, err
		}
		hits := make([]scored, 0, min(res.Len(), limit))
		for _, n := range res.Neighbors {
			if s.kindAllowed(n.UnitID, req.Kinds) {
				hits = append(hits, scored{id: n.UnitID, score: 1 - n.Distance})
			}
			if len(hits) == limit {
				return hits, nil
			}
		}
		if res.Len() < fetch || fetch >= s.index.Len() {
			return hits, nil
		}
		fetch *= 4
	}
}

// keywordHits asks the full-text index for its best matches
func (s *Searcher) keywordHits(ctx context.Context, req SearchRequest, limit int) ([]scored, error) {
	if s.keywords == nil {
		return nil, ErrNoKeywordIndex
	}
	found, err := s.keywords.Search(ctx, KeywordQuery{Text: req.Query, Kinds: req.Kinds, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	hits := make([]scored, 0, len(found))
	for _, h := range found {
		if s.kindAllowed(h.UnitID, req.Kinds) {
			hits = append(hits, scored{id: h.UnitID, score: h.Score})
		}
	}
	return hits, nil
}

func (s *Searcher) hybridSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	textHits, textErr := s.keywordHits(ctx, req, req.Limit*2)
	vectorHits, vectorErr := s.vectorHits(ctx, req, req.Limit*2)
	// Either side may be missing or fail as long as the other one answered.
	if textErr != nil && vectorErr != nil {
		return nil, errors.Join(vectorErr, textErr)
	}

	ranked := applyRRF(vectorHits, textHits, req.RRFConstant)
	return &SearchResponse{
		Results:       s.buildResults(ranked, req.Limit),
		TotalResults:  min(len(ranked), req.Limit),
		VectorResults: len(vectorHits),
		TextResults:   len(textHits),
	}, nil
}

func (s *Searcher) vectorSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	hits, err := s.vectorHits(ctx, req, req.Limit)
	if err != nil {
		return nil, err
	}
	results := s.buildResults(hits, req.Limit)
	return &SearchResponse{
		Results:       results,
		TotalResults:  len(results),
		VectorResults: len(hits),
	}, nil
}

func (s *Searcher) keywordSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	hits, err := s.keywordHits(ctx, req, req.Limit)
	if err != nil {
		return nil, err
	}
	results := s.buildResults(hits, req.Limit)
	return &SearchResponse{
		Results:      results,
		TotalResults: len(results),
		TextResults:  len(hits),
	}, nil
}

// applyRRF applies Reciprocal Rank Fusion to combine vector and text results
// RRF formula: RRF(d) = Σ 1/(k + rank(d))
func applyRRF(vectorHits, textHits []scored, k float64) []scored {
	if k == 0 {
		k = 60
	}

	scores := make(map[string]float64)
	for rank, h := range vectorHits {
		scores[h.id] += 1.0 / (k + float64(rank+1))
	}
	for rank, h := range textHits {
		scores[h.id] += 1.0 / (k + float64(rank+1))
	}

	results := make([]scored, 0, len(scores))
	for id, score := range scores {
		results = append(results, scored{id: id, score: score})
	}
	sortScored(results)
	return results
}

func (s *Searcher) buildResults(hits []scored, limit int) []Result {
	if limit > len(hits) {
		limit = len(hits)
	}
	results := make([]Result, 0, limit)
	for i := 0; i < limit; i++ {
		u, ok := s.forest.Get(hits[i].id)
		if !ok {
			continue
		}
		results = append(results, Result{
			UnitID:  u.ID,
			Kind:    u.Kind,
			Name:    u.Name,
			Path:    u.Path,
			Span:    u.Span,
			Rank:    len(results) + 1,
			Score:   hits[i].score,
			Excerpt: s.excerpt(u),
		})
	}
	return results
}

func (s *Searcher) excerpt(u *types.CodeUnit) string {
	if s.text != nil {
		if t := s.text(u.ID); t != "" {
			return Excerpt(t, 200)
		}
	}
	if u.Signature != "" {
		return u.Signature
	}
	return Excerpt(u.Source, 200)
}

func (s *Searcher) kindAllowed(id string, kinds []types.UnitKind) bool {
	if len(kinds) == 0 {
		return true
	}
	u, ok := s.forest.Get(id)
	if !ok {
		return false
	}
	for _, k := range kinds {
		if u.Kind == k {
			return true
		}
	}
	return false
}

// validateRequest ensures search request is valid
func (s *Searcher) validateRequest(req *SearchRequest) error {
	if strings.TrimSpace(req.Query) == "" {
		return fmt.Errorf("query cannot be empty")
	}

	if req.Limit <= 0 {
		req.Limit = 10 // Default limit
	}

	if req.Limit > 100 {
		req.Limit = 100 // Max limit
	}

	if req.Mode == "" {
		req.Mode = SearchModeHybrid
	}

	if req.RRFConstant == 0 {
		req.RRFConstant = 60
	}

	if req.CacheTTL == 0 {
		req.CacheTTL = 1 * time.Hour
	}

	return nil
}

// checkCache looks up cached search results
func (s *Searcher) checkCache(req SearchRequest) (*SearchResponse, bool) {
	hash := computeQueryHash(req)
	now := time.Now()

	s.cacheMu.RLock()
	entry, found := s.cache.Get(hash)
	if !found {
		s.cacheMu.RUnlock()
		return nil, false
	}

	if now.After(entry.expiresAt) {
		s.cacheMu.RUnlock()

		s.cacheMu.Lock()
		s.cache.Remove(hash)
		s.cacheMu.Unlock()
		return nil, false
	}

	response := copySearchResponse(entry.response)
	s.cacheMu.RUnlock()

	return response, true
}

// storeInCache saves search results to cache
func (s *Searcher) storeInCache(req SearchRequest, response *SearchResponse) {
	entry := &cacheEntry{
		response:  copySearchResponse(response),
		expiresAt: time.Now().Add(req.CacheTTL),
	}

	s.cacheMu.Lock()
	s.cache.Add(computeQueryHash(req), entry)
	s.cacheMu.Unlock()
}

// InvalidateCache drops every cached response
func (s *Searcher) InvalidateCache() {
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

// copySearchResponse creates a deep copy of a SearchResponse.
// Result holds only value fields, so copying the slice is enough.
func copySearchResponse(src *SearchResponse) *SearchResponse {
	if src == nil {
		return nil
	}
	dst := *src
	dst.Results = make([]Result, len(src.Results))
	copy(dst.Results, src.Results)
	return &dst
}

// computeQueryHash computes a unique hash for a search request
func computeQueryHash(req SearchRequest) [32]byte {
	var data strings.Builder
	data.WriteString(req.Query)
	data.WriteString("|")
	data.WriteString(string(req.Mode))
	data.WriteString(fmt.Sprintf("|%d|%.2f", req.Limit, req.RRFConstant))

	if len(req.Kinds) > 0 {
		kinds := make([]string, len(req.Kinds))
		for i, k := range req.Kinds {
			kinds[i] = string(k)
		}
		sort.Strings(kinds)
		data.WriteString("|kinds:")
		data.WriteString(strings.Join(kinds, ","))
	}

	return sha256.Sum256([]byte(data.String()))
}

// sortScored sorts by score descending, ties by ascending ID
func sortScored(results []scored) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].id < results[j].id
	})
}

// Excerpt returns at most n bytes of text, cut on a rune boundary at the
// last space when one is near
func Excerpt(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	if n <= 0 || len(text) <= n {
		return text
	}
	cut := n
	for cut > 0 && (text[cut]&0xC0) == 0x80 {
		cut--
	}
	if sp := strings.LastIndexByte(text[:cut], ' '); sp > n/2 {
		cut = sp
	}
	return text[:cut] + "..."
}
