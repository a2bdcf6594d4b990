package fulltext

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearch_FindsMatchingDocument(t *testing.T) {
	idx := New()
	idx.AddOrReplace("n1", "Distributed Systems Notes", "raft consensus leader election", []string{"systems"})
	idx.AddOrReplace("n2", "Cooking", "how to bake sourdough bread", []string{"food"})

	hits := idx.Search("consensus", 10)
	require.Len(t, hits, 1)
	assert.Equal(t, "n1", string(hits[0].ID))
}

func TestSearch_TitleMatchOutranksBodyOnlyMatch(t *testing.T) {
	idx := New()
	idx.AddOrReplace("body-only", "Unrelated", "mentions raft only once in passing", nil)
	idx.AddOrReplace("title-match", "Raft Consensus", "a protocol for replicated logs", nil)

	hits := idx.Search("raft", 10)
	require.Len(t, hits, 2)
	assert.Equal(t, "title-match", string(hits[0].ID))
}

func TestSearch_TiesBreakByAscendingID(t *testing.T) {
	idx := New()
	idx.AddOrReplace("zzz", "quokka quokka", "quokka quokka", nil)
	idx.AddOrReplace("aaa", "quokka quokka", "quokka quokka", nil)

	hits := idx.Search("quokka", 10)
	require.Len(t, hits, 2)
	assert.Equal(t, "aaa", string(hits[0].ID))
	assert.Equal(t, "zzz", string(hits[1].ID))
}

func TestSearch_LimitTruncatesResults(t *testing.T) {
	idx := New()
	idx.AddOrReplace("a", "match", "match", nil)
	idx.AddOrReplace("b", "match", "match", nil)
	idx.AddOrReplace("c", "match", "match", nil)

	hits := idx.Search("match", 2)
	assert.Len(t, hits, 2)
}

func TestRemove_DropsDocumentFromFutureSearches(t *testing.T) {
	idx := New()
	idx.AddOrReplace("n1", "removable", "removable content", nil)
	require.Len(t, idx.Search("removable", 10), 1)

	idx.Remove("n1")
	assert.Empty(t, idx.Search("removable", 10))
}

func TestAddOrReplace_ReindexesInPlace(t *testing.T) {
	idx := New()
	idx.AddOrReplace("n1", "old title", "old body", nil)
	idx.AddOrReplace("n1", "new title", "new body about whales", nil)

	assert.Empty(t, idx.Search("old", 10))
	hits := idx.Search("whales", 10)
	require.Len(t, hits, 1)
	assert.Equal(t, "n1", string(hits[0].ID))
}

func TestSearch_StopwordOnlyQueryYieldsNoHits(t *testing.T) {
	idx := New()
	idx.AddOrReplace("n1", "the of and", "the of and", nil)
	assert.Empty(t, idx.Search("the of and", 10))
}
