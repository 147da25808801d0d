package vectorstore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oxy-hq/oxy-engine/vectorstore"
)

func doc(id string) vectorstore.Document {
	return vectorstore.Document{SourceIdentifier: id, Content: id}
}

func TestFuse_CombinesScoresAcrossLegs(t *testing.T) {
	ann := []vectorstore.RankedHit{
		{SourceIdentifier: "a", Rank: 1, Doc: doc("a")},
		{SourceIdentifier: "b", Rank: 2, Doc: doc("b")},
	}
	fts := []vectorstore.RankedHit{
		{SourceIdentifier: "b", Rank: 1, Doc: doc("b")},
		{SourceIdentifier: "c", Rank: 2, Doc: doc("c")},
	}

	results := vectorstore.Fuse(ann, fts, 10, 60)
	// b appears in both legs at good ranks, so it should score highest.
	assert := assert.New(t)
	assert.Equal("b", results[0].SourceIdentifier)
}

func TestFuse_TiesBreakByAnnRankThenSourceIdentifier(t *testing.T) {
	ann := []vectorstore.RankedHit{
		{SourceIdentifier: "z", Rank: 1, Doc: doc("z")},
		{SourceIdentifier: "a", Rank: 2, Doc: doc("a")},
	}
	// z and a score from the ANN leg alone and are unequal (rank 1 beats
	// rank 2). m and n share ANN rank 3; b appears only in the fts leg at
	// rank 3, so all three tie on score while only m and n have an ANN rank.
	ann2 := []vectorstore.RankedHit{
		{SourceIdentifier: "m", Rank: 3, Doc: doc("m")},
		{SourceIdentifier: "n", Rank: 3, Doc: doc("n")},
	}
	fts := []vectorstore.RankedHit{
		{SourceIdentifier: "b", Rank: 3, Doc: doc("b")},
	}
	results := vectorstore.Fuse(append(ann, ann2...), fts, 10, 60)
	assert.Equal(t, "z", results[0].SourceIdentifier)
	// m and n tie on score and ANN rank; lexicographic order breaks the tie.
	mIdx, nIdx := indexOf(results, "m"), indexOf(results, "n")
	assert.Less(t, mIdx, nIdx)
	// b ties m and n on score but has no ANN rank, so it sorts after both
	// even though "b" < "m".
	assert.Less(t, nIdx, indexOf(results, "b"))
}

func TestFuse_RespectsTopK(t *testing.T) {
	ann := []vectorstore.RankedHit{
		{SourceIdentifier: "a", Rank: 1, Doc: doc("a")},
		{SourceIdentifier: "b", Rank: 2, Doc: doc("b")},
		{SourceIdentifier: "c", Rank: 3, Doc: doc("c")},
	}
	results := vectorstore.Fuse(ann, nil, 2, 60)
	assert.Len(t, results, 2)
}

func indexOf(docs []vectorstore.Document, id string) int {
	for i, d := range docs {
		if d.SourceIdentifier == id {
			return i
		}
	}
	return -1
}
