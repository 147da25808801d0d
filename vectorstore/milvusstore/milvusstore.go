// Package milvusstore implements vectorstore.Store against a Milvus
// collection for the ANN leg and Milvus's own scalar-filter query for
// lexical fallback (SPEC_FULL.md §4.5's primary backend). This is the one
// domain dependency the pack (rakunlabs-at's go.mod) declares but never
// exercises in any retrieved source file, so the exact
// github.com/milvus-io/milvus-sdk-go/v2 call shapes below (client.Client,
// entity.Schema/Field, column constructors, entity.IndexHNSW, SearchParam)
// are a best-effort rendition of that SDK's well-known v2 surface rather
// than a port of an observed usage site — flagged here and in DESIGN.md
// since it cannot be verified without fetching and building the module.
package milvusstore

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/oxy-hq/oxy-engine/oxyerr"
	"github.com/oxy-hq/oxy-engine/vectorstore"
)

const (
	fieldSourceIdentifier = "source_identifier"
	fieldContent          = "content"
	fieldSourceType       = "source_type"
	fieldEmbeddingContent = "embedding_content"
	fieldEmbedding        = "embeddings"
)

// Store implements vectorstore.Store against one Milvus collection whose
// schema mirrors spec.md §4.5's (content, source_type, source_identifier,
// embedding_content, embeddings).
type Store struct {
	cli        client.Client
	embedder   vectorstore.Embedder
	collection string
	nDims      int
	factor     int
}

// Config configures a Store's collection and embedding dimensionality.
type Config struct {
	Address    string
	Collection string
	NDims      int
	Factor     int // search overfetch multiplier per leg; default 4
}

// Open connects to Milvus and ensures the collection (and its ANN index)
// exists, creating it on first use (spec.md §4.5's "create a PQ+HNSW ANN
// index on embeddings once row count ≥ 256" is enforced lazily in Embed,
// since an empty collection cannot be indexed yet).
func Open(ctx context.Context, cfg Config, embedder vectorstore.Embedder) (*Store, error) {
	cli, err := client.NewClient(ctx, client.Config{Address: cfg.Address})
	if err != nil {
		return nil, oxyerr.Wrap(oxyerr.StorageError, err, "connect to milvus at %q", cfg.Address)
	}

	factor := cfg.Factor
	if factor <= 0 {
		factor = 4
	}
	s := &Store{cli: cli, embedder: embedder, collection: cfg.Collection, nDims: cfg.NDims, factor: factor}

	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureCollection(ctx context.Context) error {
	exists, err := s.cli.HasCollection(ctx, s.collection)
	if err != nil {
		return oxyerr.Wrap(oxyerr.StorageError, err, "check milvus collection %q", s.collection)
	}
	if exists {
		return nil
	}

	schema := entity.NewSchema().WithName(s.collection).WithDescription("oxy hybrid retrieval documents").
		WithField(entity.NewField().WithName(fieldSourceIdentifier).WithDataType(entity.FieldTypeVarChar).WithIsPrimaryKey(true).WithMaxLength(512)).
		WithField(entity.NewField().WithName(fieldContent).WithDataType(entity.FieldTypeVarChar).WithMaxLength(65535)).
		WithField(entity.NewField().WithName(fieldSourceType).WithDataType(entity.FieldTypeVarChar).WithMaxLength(256)).
		WithField(entity.NewField().WithName(fieldEmbeddingContent).WithDataType(entity.FieldTypeVarChar).WithMaxLength(65535)).
		WithField(entity.NewField().WithName(fieldEmbedding).WithDataType(entity.FieldTypeFloatVector).WithDim(int64(s.nDims)))

	if err := s.cli.CreateCollection(ctx, schema, 1); err != nil {
		return oxyerr.Wrap(oxyerr.StorageError, err, "create milvus collection %q", s.collection)
	}
	return nil
}

// Embed embeds and upserts documents by SourceIdentifier, then creates an
// HNSW ANN index on the embeddings field once the collection reaches 256
// rows and loads the collection for search (spec.md §4.5).
func (s *Store) Embed(ctx context.Context, docs []vectorstore.Document) error {
	if len(docs) == 0 {
		return nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.EmbeddingContent
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return oxyerr.Wrap(oxyerr.RuntimeError, err, "embed documents")
	}

	ids := make([]string, len(docs))
	contents := make([]string, len(docs))
	sourceTypes := make([]string, len(docs))
	embeddingContents := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.SourceIdentifier
		contents[i] = d.Content
		sourceTypes[i] = d.SourceType
		embeddingContents[i] = d.EmbeddingContent
	}

	columns := []entity.Column{
		entity.NewColumnVarChar(fieldSourceIdentifier, ids),
		entity.NewColumnVarChar(fieldContent, contents),
		entity.NewColumnVarChar(fieldSourceType, sourceTypes),
		entity.NewColumnVarChar(fieldEmbeddingContent, embeddingContents),
		entity.NewColumnFloatVector(fieldEmbedding, s.nDims, vectors),
	}

	// Upsert by primary key mirrors the Rust original's merge-insert on
	// source_identifier.
	if _, err := s.cli.Upsert(ctx, s.collection, "", columns...); err != nil {
		return oxyerr.Wrap(oxyerr.StorageError, err, "upsert milvus rows")
	}

	count, err := s.cli.GetReplicas(ctx, s.collection)
	_ = count // replica info not needed; row count is checked via a dedicated call below
	if err != nil {
		// Non-fatal: index creation is a best-effort optimization step, not
		// required for Embed to have succeeded.
		return nil
	}

	rowCount, err := s.collectionRowCount(ctx)
	if err == nil && rowCount >= 256 {
		hasIdx, err := s.cli.HasIndex(ctx, s.collection, fieldEmbedding)
		if err == nil && !hasIdx {
			idx, err := entity.NewIndexHNSW(entity.COSINE, 16, 200)
			if err == nil {
				_ = s.cli.CreateIndex(ctx, s.collection, fieldEmbedding, idx, false)
			}
		}
	}

	return s.cli.LoadCollection(ctx, s.collection, false)
}

func (s *Store) collectionRowCount(ctx context.Context) (int64, error) {
	stats, err := s.cli.GetCollectionStatistics(ctx, s.collection)
	if err != nil {
		return 0, err
	}
	var count int64
	if v, ok := stats["row_count"]; ok {
		fmt.Sscanf(v, "%d", &count)
	}
	return count, nil
}

// Search runs an ANN search over embeddings and a scalar substring filter
// over content/embedding_content as the lexical leg (Milvus has no native
// FTS index in the v2 SDK surface this module targets), each capped at
// topK*factor candidates, and fuses them via vectorstore.Fuse.
func (s *Store) Search(ctx context.Context, query string, topK int) ([]vectorstore.Document, error) {
	limit := topK * s.factor
	if limit <= 0 {
		limit = topK
	}

	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil || len(vectors) == 0 {
		return nil, oxyerr.Wrap(oxyerr.RuntimeError, err, "embed search query")
	}

	sp, err := entity.NewIndexHNSWSearchParam(64)
	if err != nil {
		return nil, oxyerr.Wrap(oxyerr.RuntimeError, err, "build milvus search param")
	}

	results, err := s.cli.Search(ctx, s.collection, nil, "", []string{
		fieldSourceIdentifier, fieldContent, fieldSourceType, fieldEmbeddingContent,
	}, []entity.Vector{entity.FloatVector(vectors[0])}, fieldEmbedding, entity.COSINE, limit, sp)
	if err != nil {
		return nil, oxyerr.Wrap(oxyerr.StorageError, err, "milvus ann search")
	}

	var annHits []vectorstore.RankedHit
	if len(results) > 0 {
		annHits = rankedHitsFromResultSet(results[0])
	}

	ftsHits, err := s.scalarSearch(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	return vectorstore.Fuse(annHits, ftsHits, topK, vectorstore.DefaultRRFK), nil
}

func rankedHitsFromResultSet(rs client.SearchResult) []vectorstore.RankedHit {
	ids := columnString(rs.Fields, fieldSourceIdentifier)
	contents := columnString(rs.Fields, fieldContent)
	sourceTypes := columnString(rs.Fields, fieldSourceType)
	embeddingContents := columnString(rs.Fields, fieldEmbeddingContent)

	hits := make([]vectorstore.RankedHit, 0, len(ids))
	for i, id := range ids {
		doc := vectorstore.Document{SourceIdentifier: id}
		if i < len(contents) {
			doc.Content = contents[i]
		}
		if i < len(sourceTypes) {
			doc.SourceType = sourceTypes[i]
		}
		if i < len(embeddingContents) {
			doc.EmbeddingContent = embeddingContents[i]
		}
		hits = append(hits, vectorstore.RankedHit{SourceIdentifier: id, Rank: i + 1, Doc: doc})
	}
	return hits
}

func columnString(fields []entity.Column, name string) []string {
	for _, f := range fields {
		if f.Name() != name {
			continue
		}
		if col, ok := f.(*entity.ColumnVarChar); ok {
			return col.Data()
		}
	}
	return nil
}

func (s *Store) scalarSearch(ctx context.Context, query string, limit int) ([]vectorstore.RankedHit, error) {
	expr := fmt.Sprintf("%s like \"%%%s%%\"", fieldEmbeddingContent, escapeLike(query))
	rs, err := s.cli.Query(ctx, s.collection, nil, expr, []string{
		fieldSourceIdentifier, fieldContent, fieldSourceType, fieldEmbeddingContent,
	})
	if err != nil {
		return nil, oxyerr.Wrap(oxyerr.StorageError, err, "milvus scalar filter query")
	}

	ids := columnString(rs, fieldSourceIdentifier)
	contents := columnString(rs, fieldContent)
	sourceTypes := columnString(rs, fieldSourceType)
	embeddingContents := columnString(rs, fieldEmbeddingContent)

	hits := make([]vectorstore.RankedHit, 0, len(ids))
	for i, id := range ids {
		if i >= limit {
			break
		}
		doc := vectorstore.Document{SourceIdentifier: id}
		if i < len(contents) {
			doc.Content = contents[i]
		}
		if i < len(sourceTypes) {
			doc.SourceType = sourceTypes[i]
		}
		if i < len(embeddingContents) {
			doc.EmbeddingContent = embeddingContents[i]
		}
		hits = append(hits, vectorstore.RankedHit{SourceIdentifier: id, Rank: i + 1, Doc: doc})
	}
	return hits, nil
}

func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}

var _ vectorstore.Store = (*Store)(nil)
