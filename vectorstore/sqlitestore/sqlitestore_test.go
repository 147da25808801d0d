package sqlitestore_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxy-hq/oxy-engine/vectorstore"
	"github.com/oxy-hq/oxy-engine/vectorstore/sqlitestore"
)

// hashEmbedder produces a tiny deterministic vector from word-overlap
// counts against a fixed vocabulary, just enough to make near-duplicate
// text embed close together for these tests without needing a real model.
type hashEmbedder struct{ vocab []string }

func (h hashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec := make([]float32, len(h.vocab))
		lower := strings.ToLower(t)
		for j, w := range h.vocab {
			if strings.Contains(lower, w) {
				vec[j] = 1
			}
		}
		out[i] = vec
	}
	return out, nil
}

func TestStore_EmbedThenSearchFindsRelevantDocument(t *testing.T) {
	embedder := hashEmbedder{vocab: []string{"revenue", "weather", "sales"}}
	store, err := sqlitestore.Open(":memory:", "docs", embedder)
	require.NoError(t, err)
	defer store.Close()

	docs := []vectorstore.Document{
		{SourceIdentifier: "doc-revenue", Content: "revenue report", SourceType: "workflow", EmbeddingContent: "revenue sales figures"},
		{SourceIdentifier: "doc-weather", Content: "weather forecast", SourceType: "workflow", EmbeddingContent: "weather conditions"},
	}
	require.NoError(t, store.Embed(context.Background(), docs))

	results, err := store.Search(context.Background(), "revenue sales", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "doc-revenue", results[0].SourceIdentifier)
}

func TestStore_EmbedUpsertsBySourceIdentifier(t *testing.T) {
	embedder := hashEmbedder{vocab: []string{"a", "b"}}
	store, err := sqlitestore.Open(":memory:", "docs", embedder)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Embed(ctx, []vectorstore.Document{
		{SourceIdentifier: "x", Content: "first version", EmbeddingContent: "a"},
	}))
	require.NoError(t, store.Embed(ctx, []vectorstore.Document{
		{SourceIdentifier: "x", Content: "second version", EmbeddingContent: "b"},
	}))

	results, err := store.Search(ctx, "b", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "second version", results[0].Content)
}
