// Package searcher retrieves related units from the vector index.
//
// During a run, Related finds the peers whose documentation feeds a unit's
// generation input. After a run, Search answers free-text queries over the
// finished documentation.
//
// # Retrieval Context
//
//	s := searcher.New(forest, index)
//	res, err := s.Related(ctx, unit.ID, run.K)
//
// The query vector is the unit's own embedding. The unit itself, its
// ancestors, its descendants and units with identical source are excluded:
// they would only restate the structure the generator already receives.
// Results are ordered closest first, ties by ascending unit ID.
//
// # Free-text Search
//
// Three modes are available:
//
//	keyword  full-text ranking from a KeywordIndex
//	vector   the query is embedded and matched against unit embeddings
//	hybrid   both, fused with Reciprocal Rank Fusion (default)
//
// The storage package provides the KeywordIndex, an SQLite FTS5 table
// ranked by its bm25 rank column.
//
//	resp, err := s.Search(ctx, searcher.SearchRequest{
//	    Query: "retry with backoff",
//	    Limit: 10,
//	    Kinds: []types.UnitKind{types.KindFunction},
//	})
//
// Vector mode needs WithEmbedder and keyword mode needs WithKeywordIndex.
// Hybrid works with either and fuses both when both are present. Responses can be cached in an LRU keyed by the
// request (UseCache, CacheTTL).
package searcher
