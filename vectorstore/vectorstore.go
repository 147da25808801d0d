// Package vectorstore implements the hybrid (ANN + full-text) retrieval
// backend of spec.md §4.5, grounded on original_source's
// crates/core/src/adapters/vector_store.rs's Document/VectorStore/
// VectorEngine shape. The Rust original backs VectorEngine with LanceDB;
// no Go LanceDB binding exists anywhere in the retrieved pack, so the Store
// interface here is implemented by package milvusstore
// (github.com/milvus-io/milvus-sdk-go/v2, a domain dependency the teacher's
// sibling pack carries) for the ANN leg and by package sqlitestore
// (modernc.org/sqlite's FTS5 virtual tables, already used by this module's
// connector package) as a pure-Go fallback — see DESIGN.md.
package vectorstore

import (
	"context"
	"sort"
)

// Document is one embedded row: source text, its provenance, and the
// vector it was embedded into. Mirrors vector_store.rs's Document exactly.
type Document struct {
	Content          string
	SourceType       string
	SourceIdentifier string
	EmbeddingContent string
	Embedding        []float32
}

// Embedder turns text into vectors. The engine core never talks to a
// specific embedding provider directly (spec.md §1's "external delegate"
// principle, the same one package chatmodel follows for chat completion);
// callers inject whichever provider adapter they have.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Store is the backend-agnostic hybrid retrieval surface: embed documents,
// upsert them by SourceIdentifier, and hybrid-search by query text.
type Store interface {
	Embed(ctx context.Context, docs []Document) error
	Search(ctx context.Context, query string, topK int) ([]Document, error)
}

// RankedHit is one leg's result for Fuse: a document key and the rank
// (1-based, best first) that leg assigned it.
type RankedHit struct {
	SourceIdentifier string
	Rank             int
	Doc              Document
}

// DefaultRRFK is the Reciprocal Rank Fusion smoothing constant spec.md
// §4.5 specifies as the default.
const DefaultRRFK = 60

// Fuse combines the ANN and full-text-search leg results via Reciprocal
// Rank Fusion: score(d) = Σ_q 1/(k + rank_q(d)), returning the top topK
// documents ordered by descending score, with ties broken first by
// smaller ANN rank (favoring vector-leg agreement) and then by
// lexicographic source_identifier, matching spec.md §4.5's "Ordering"
// invariant exactly.
func Fuse(annHits, ftsHits []RankedHit, topK int, k int) []Document {
	if k <= 0 {
		k = DefaultRRFK
	}

	type acc struct {
		doc     Document
		score   float64
		annRank int // 0 means "did not appear in the ANN leg"
	}
	byID := map[string]*acc{}
	order := make([]string, 0, len(annHits)+len(ftsHits))

	get := func(id string, doc Document) *acc {
		a, ok := byID[id]
		if !ok {
			a = &acc{doc: doc}
			byID[id] = a
			order = append(order, id)
		}
		return a
	}

	for _, h := range annHits {
		a := get(h.SourceIdentifier, h.Doc)
		a.score += 1.0 / float64(k+h.Rank)
		a.annRank = h.Rank
	}
	for _, h := range ftsHits {
		a := get(h.SourceIdentifier, h.Doc)
		a.score += 1.0 / float64(k+h.Rank)
	}

	results := make([]string, len(order))
	copy(results, order)
	sort.Slice(results, func(i, j int) bool {
		a, b := byID[results[i]], byID[results[j]]
		if a.score != b.score {
			return a.score > b.score
		}
		// Ties: favor the document the ANN leg ranked higher. A rank of 0
		// means "absent from the ANN leg", which sorts last among ties.
		ai, bi := a.annRank, b.annRank
		if ai == 0 {
			ai = int(^uint(0) >> 1)
		}
		if bi == 0 {
			bi = int(^uint(0) >> 1)
		}
		if ai != bi {
			return ai < bi
		}
		return results[i] < results[j]
	})

	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}

	docs := make([]Document, len(results))
	for i, id := range results {
		docs[i] = byID[id].doc
	}
	return docs
}
