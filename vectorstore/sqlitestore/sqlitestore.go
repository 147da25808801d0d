// Package sqlitestore is vectorstore's pure-Go fallback backend: an
// modernc.org/sqlite FTS5 virtual table for the lexical leg and a
// brute-force cosine-similarity scan for the ANN leg, used for embedded or
// single-process deployments that have no Milvus endpoint configured
// (SPEC_FULL.md §4.5). Grounded on the same vector_store.rs shape package
// vectorstore's Document adapts, with LanceDB's managed ANN/FTS indexes
// replaced by hand-rolled equivalents since this backend has no external
// search service to delegate to.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"sort"

	_ "modernc.org/sqlite"

	"github.com/oxy-hq/oxy-engine/oxyerr"
	"github.com/oxy-hq/oxy-engine/vectorstore"
)

// Store implements vectorstore.Store backed by a single SQLite database
// file (or ":memory:").
type Store struct {
	db       *sql.DB
	embedder vectorstore.Embedder
	table    string
	factor   int // search-leg overfetch multiplier, mirrors embedding_config.factor
}

// Open opens (creating if necessary) the backing database and its FTS5
// virtual table, named table, for Documents embedded through embedder.
func Open(dsn string, table string, embedder vectorstore.Embedder) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, oxyerr.Wrap(oxyerr.StorageError, err, "open sqlite vector store %q", dsn)
	}
	s := &Store{db: db, embedder: embedder, table: table, factor: 4}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS ` + s.table + `_fts USING fts5(
			source_identifier UNINDEXED,
			content,
			source_type UNINDEXED,
			embedding_content
		);
		CREATE TABLE IF NOT EXISTS ` + s.table + `_vec (
			source_identifier TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			source_type TEXT NOT NULL,
			embedding_content TEXT NOT NULL,
			embedding TEXT NOT NULL
		);
	`)
	if err != nil {
		return oxyerr.Wrap(oxyerr.StorageError, err, "migrate sqlite vector store schema")
	}
	return nil
}

// Embed embeds every document's EmbeddingContent and upserts it by
// SourceIdentifier into both the FTS and the vector table (spec.md §4.5's
// "embed(docs)").
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return oxyerr.Wrap(oxyerr.StorageError, err, "begin embed transaction")
	}
	defer tx.Rollback()

	for i, d := range docs {
		vecJSON, err := json.Marshal(vectors[i])
		if err != nil {
			return oxyerr.Wrap(oxyerr.SerializationError, err, "marshal embedding for %q", d.SourceIdentifier)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO `+s.table+`_vec (source_identifier, content, source_type, embedding_content, embedding)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(source_identifier) DO UPDATE SET
				content=excluded.content, source_type=excluded.source_type,
				embedding_content=excluded.embedding_content, embedding=excluded.embedding
		`, d.SourceIdentifier, d.Content, d.SourceType, d.EmbeddingContent, string(vecJSON)); err != nil {
			return oxyerr.Wrap(oxyerr.StorageError, err, "upsert vector row %q", d.SourceIdentifier)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM `+s.table+`_fts WHERE source_identifier = ?`, d.SourceIdentifier); err != nil {
			return oxyerr.Wrap(oxyerr.StorageError, err, "delete stale fts row %q", d.SourceIdentifier)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO `+s.table+`_fts (source_identifier, content, source_type, embedding_content)
			VALUES (?, ?, ?, ?)
		`, d.SourceIdentifier, d.Content, d.SourceType, d.EmbeddingContent); err != nil {
			return oxyerr.Wrap(oxyerr.StorageError, err, "insert fts row %q", d.SourceIdentifier)
		}
	}

	if err := tx.Commit(); err != nil {
		return oxyerr.Wrap(oxyerr.StorageError, err, "commit embed transaction")
	}
	return nil
}

// Search runs the ANN leg (brute-force cosine similarity over every row)
// and the FTS leg (an fts5 MATCH query) in parallel-equivalent sequence,
// each limited to topK*s.factor candidates, and fuses them via
// vectorstore.Fuse (spec.md §4.5's "search(query)").
func (s *Store) Search(ctx context.Context, query string, topK int) ([]vectorstore.Document, error) {
	limit := topK * s.factor
	if limit <= 0 {
		limit = topK
	}

	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil || len(vectors) == 0 {
		return nil, oxyerr.Wrap(oxyerr.RuntimeError, err, "embed search query")
	}
	queryVec := vectors[0]

	annHits, err := s.annSearch(ctx, queryVec, limit)
	if err != nil {
		return nil, err
	}
	ftsHits, err := s.ftsSearch(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	return vectorstore.Fuse(annHits, ftsHits, topK, vectorstore.DefaultRRFK), nil
}

func (s *Store) annSearch(ctx context.Context, queryVec []float32, limit int) ([]vectorstore.RankedHit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_identifier, content, source_type, embedding_content, embedding
		FROM `+s.table+`_vec
	`)
	if err != nil {
		return nil, oxyerr.Wrap(oxyerr.StorageError, err, "scan vector rows")
	}
	defer rows.Close()

	type scored struct {
		doc   vectorstore.Document
		score float64
	}
	var all []scored
	for rows.Next() {
		var d vectorstore.Document
		var embJSON string
		if err := rows.Scan(&d.SourceIdentifier, &d.Content, &d.SourceType, &d.EmbeddingContent, &embJSON); err != nil {
			return nil, oxyerr.Wrap(oxyerr.StorageError, err, "scan vector row")
		}
		var vec []float32
		if err := json.Unmarshal([]byte(embJSON), &vec); err != nil {
			continue
		}
		d.Embedding = vec
		all = append(all, scored{doc: d, score: cosineSimilarity(queryVec, vec)})
	}
	if err := rows.Err(); err != nil {
		return nil, oxyerr.Wrap(oxyerr.StorageError, err, "iterate vector rows")
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].doc.SourceIdentifier < all[j].doc.SourceIdentifier
	})
	if len(all) > limit {
		all = all[:limit]
	}

	hits := make([]vectorstore.RankedHit, len(all))
	for i, a := range all {
		hits[i] = vectorstore.RankedHit{SourceIdentifier: a.doc.SourceIdentifier, Rank: i + 1, Doc: a.doc}
	}
	return hits, nil
}

func (s *Store) ftsSearch(ctx context.Context, query string, limit int) ([]vectorstore.RankedHit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_identifier, content, source_type, embedding_content
		FROM `+s.table+`_fts
		WHERE `+s.table+`_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, oxyerr.Wrap(oxyerr.StorageError, err, "fts search")
	}
	defer rows.Close()

	var hits []vectorstore.RankedHit
	rank := 0
	for rows.Next() {
		rank++
		var d vectorstore.Document
		if err := rows.Scan(&d.SourceIdentifier, &d.Content, &d.SourceType, &d.EmbeddingContent); err != nil {
			return nil, oxyerr.Wrap(oxyerr.StorageError, err, "scan fts row")
		}
		hits = append(hits, vectorstore.RankedHit{SourceIdentifier: d.SourceIdentifier, Rank: rank, Doc: d})
	}
	if err := rows.Err(); err != nil {
		return nil, oxyerr.Wrap(oxyerr.StorageError, err, "iterate fts rows")
	}
	return hits, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

var _ vectorstore.Store = (*Store)(nil)
