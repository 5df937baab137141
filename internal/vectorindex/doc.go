// Package vectorindex stores unit embeddings and answers nearest-neighbor
// queries for retrieval.
//
// Two backends implement Index:
//
//	memory   exact brute force, cosine or Euclidean
//	chromem  chromem-go collection, cosine only, optionally persisted
//
// Both return neighbors closest first with ties broken by ascending unit ID,
// so a fixed index state and query always produce the same result.
//
// # Basic Usage
//
//	idx, err := vectorindex.New(run, jobID)
//	if err != nil {
//	    return err
//	}
//	defer idx.Close()
//
//	if _, err := idx.Upsert(ctx, unit.ID, vector, nil); err != nil {
//	    return err // *types.DimensionMismatchError when len(vector) != D
//	}
//
//	res, err := idx.Query(ctx, vector, 5, vectorindex.NewExclusion(unit.ID))
//
// # Concurrency
//
// Indexes are safe for concurrent use. Upsert and Remove are the only
// critical sections; queries share a read lock.
package vectorindex
