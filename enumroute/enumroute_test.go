package enumroute_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxy-hq/oxy-engine/enumroute"
	"github.com/oxy-hq/oxy-engine/enumroute/ahocorasick"
	"github.com/oxy-hq/oxy-engine/telemetry"
)

func TestBuildRoutingBlob_E5RevenueByMonth(t *testing.T) {
	docs := []enumroute.RetrievalDocument{
		{
			SourceIdentifier: "revenue_report",
			SourceType:       "workflow",
			Inclusions:       []string{"revenue by {{ month }}"},
			EnumVariables: map[string][]string{
				"month": {"january", "february", "march"},
			},
		},
	}

	blob := enumroute.BuildRoutingBlob(context.Background(), telemetry.NewNoopLogger(), docs, nil)
	require.Len(t, blob.Templates, 1)
	assert.Equal(t, "revenue by {{ month }}", blob.Templates[0].Template)
	assert.False(t, blob.Templates[0].IsExclusion)
	assert.NotZero(t, blob.Templates[0].EnumVarsMask)

	ac := ahocorasick.Build(blob.Patterns)
	rendered := enumroute.Render(ac, blob, "show revenue by January figures")
	require.Len(t, rendered, 1)
	assert.Equal(t, "revenue by january", rendered[0].RenderedText)
	assert.False(t, rendered[0].IsExclusion)
	assert.Equal(t, "revenue_report", rendered[0].SourceIdentifier)
}

func TestBuildRoutingBlob_SkipsTemplatesWithNoEnumVariable(t *testing.T) {
	docs := []enumroute.RetrievalDocument{
		{
			SourceIdentifier: "generic",
			Inclusions:       []string{"some description with {{ free_text }}"},
		},
	}
	blob := enumroute.BuildRoutingBlob(context.Background(), telemetry.NewNoopLogger(), docs, nil)
	assert.Empty(t, blob.Templates)
}

func TestBuildRoutingBlob_SharedPatternAcrossVariables(t *testing.T) {
	docs := []enumroute.RetrievalDocument{
		{
			SourceIdentifier: "a",
			Inclusions:       []string{"{{ month }} report"},
			EnumVariables:    map[string][]string{"month": {"march"}},
		},
		{
			SourceIdentifier: "b",
			Inclusions:       []string{"{{ codename }} project"},
			EnumVariables:    map[string][]string{"codename": {"march"}},
		},
	}
	blob := enumroute.BuildRoutingBlob(context.Background(), telemetry.NewNoopLogger(), docs, nil)
	require.Len(t, blob.Patterns, 1, "the literal \"march\" should be interned once and shared")
	require.Len(t, blob.PatternToLex[0], 2, "both variables should link to the shared pattern")
}

// TestBuildRoutingBlob_WarnsOnNonEnumVariableViaClueLogger exercises the
// Clue/OpenTelemetry-backed Logger through the builder's non-enum-variable
// warning path (spec.md §4.4 build step 3), rather than leaving
// telemetry.NewClueLogger reachable only from telemetry's own package.
func TestBuildRoutingBlob_WarnsOnNonEnumVariableViaClueLogger(t *testing.T) {
	docs := []enumroute.RetrievalDocument{
		{
			SourceIdentifier: "mixed",
			Inclusions:       []string{"{{ month }} totals for {{ free_text }}"},
			EnumVariables:    map[string][]string{"month": {"march"}},
		},
	}
	blob := enumroute.BuildRoutingBlob(context.Background(), telemetry.NewClueLogger(), docs, nil)
	require.Len(t, blob.Templates, 1)

	var sawFreeText bool
	for _, v := range blob.Templates[0].Vars {
		if v.Name == "free_text" {
			sawFreeText = true
			assert.False(t, v.IsEnum)
		}
	}
	assert.True(t, sawFreeText)
}

func TestManager_BuildAndPersistThenInit(t *testing.T) {
	dir := t.TempDir()
	mgr := enumroute.NewManager(dir)

	docs := []enumroute.RetrievalDocument{
		{
			SourceIdentifier: "revenue_report",
			Inclusions:       []string{"revenue by {{ month }}"},
			EnumVariables:    map[string][]string{"month": {"january", "february"}},
		},
	}
	require.NoError(t, mgr.BuildAndPersist(context.Background(), docs, nil))
	require.NoError(t, mgr.Init())

	rendered := mgr.RenderQuery("show revenue by January figures")
	require.Len(t, rendered, 1)
	assert.Equal(t, "revenue by january", rendered[0].RenderedText)
}

func TestManager_RenderQueryBeforeInitDegradesGracefully(t *testing.T) {
	mgr := enumroute.NewManager(t.TempDir())
	assert.Empty(t, mgr.RenderQuery("anything"))
}
