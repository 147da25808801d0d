package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeMapUnionsLaterKeysWin(t *testing.T) {
	base := MapOf(map[string]OutputContainer{
		"q": Text("old"),
	})
	incoming := Entry("msg", Text("new"))

	merged := base.Merge(incoming)

	require.Equal(t, KindMap, merged.Kind)
	assert.Equal(t, "old", merged.Map["q"].Text)
	assert.Equal(t, "new", merged.Map["msg"].Text)
}

func TestMergeMapOverwritesSharedKeyWithLatter(t *testing.T) {
	base := Entry("q", Text("old"))
	incoming := Entry("q", Text("new"))

	merged := base.Merge(incoming)

	assert.Equal(t, "new", merged.Map["q"].Text)
}

func TestMergeListAppends(t *testing.T) {
	a := List(Text("1"), Text("2"))
	b := List(Text("3"))

	merged := a.Merge(b)

	require.Len(t, merged.List, 3)
	assert.Equal(t, "3", merged.List[2].Text)
}

func TestMergeLeafPrefersLatter(t *testing.T) {
	a := Text("old")
	b := Text("new")

	assert.Equal(t, "new", a.Merge(b).Text)
}

func TestVariableOfRoundTrips(t *testing.T) {
	v := VariableOf(map[string]any{"region": "us"})
	assert.Equal(t, KindVariable, v.Kind)
	assert.JSONEq(t, `{"region":"us"}`, string(v.Variable))
}
