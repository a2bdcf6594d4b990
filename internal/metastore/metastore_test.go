package metastore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outlinegraph/outlined/pkg/outline"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFileHash_UnknownFileReportsAbsent(t *testing.T) {
	s := openTest(t)
	_, ok, err := s.FileHash("nope.org")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCommitFile_RoundTripsNodesTagsAndLinks(t *testing.T) {
	s := openTest(t)
	parent := outline.NodeID("p1")
	nodes := []*outline.Node{
		{ID: "p1", Title: "Parent", Body: "root body"},
		{ID: "c1", Title: "Child", ParentID: &parent, Body: "child body", Tags: []string{"a", "b"}, Outgoing: []outline.NodeID{"p1"}},
	}
	require.NoError(t, s.CommitFile(FileRecord{Path: "f.org", ContentHash: "h1", ModTimeUnix: 100}, nodes))

	hash, ok, err := s.FileHash("f.org")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "h1", hash)

	all, err := s.LoadAll()
	require.NoError(t, err)
	require.Len(t, all, 2)

	byID := map[outline.NodeID]PersistedNode{}
	for _, n := range all {
		byID[n.ID] = n
	}
	child := byID["c1"]
	require.NotNil(t, child.ParentID)
	assert.Equal(t, "p1", string(*child.ParentID))
	assert.ElementsMatch(t, []string{"a", "b"}, child.Tags)
	assert.Equal(t, []outline.NodeID{"p1"}, child.Outgoing)
}

func TestCommitFile_RoundTripsSourceAndCustomBlocks(t *testing.T) {
	s := openTest(t)
	nodes := []*outline.Node{
		{
			ID:     "n1",
			Title:  "N1",
			Body:   "intro",
			Source: []outline.SourceBlock{{Language: "go", Content: "fmt.Println()"}},
			Custom: []outline.CustomBlock{{Keyword: "warning", Content: "careful"}},
		},
	}
	require.NoError(t, s.CommitFile(FileRecord{Path: "f.org", ContentHash: "h1"}, nodes))

	all, err := s.LoadAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, []outline.SourceBlock{{Language: "go", Content: "fmt.Println()"}}, all[0].Source)
	assert.Equal(t, []outline.CustomBlock{{Keyword: "warning", Content: "careful"}}, all[0].Custom)

	byID, ok, err := s.NodeByID("n1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []outline.SourceBlock{{Language: "go", Content: "fmt.Println()"}}, byID.Source)
	assert.Equal(t, []outline.CustomBlock{{Keyword: "warning", Content: "careful"}}, byID.Custom)

	fileNodes, err := s.FileNodes("f.org")
	require.NoError(t, err)
	require.Len(t, fileNodes, 1)
	assert.Equal(t, []outline.SourceBlock{{Language: "go", Content: "fmt.Println()"}}, fileNodes[0].Source)
	assert.Equal(t, []outline.CustomBlock{{Keyword: "warning", Content: "careful"}}, fileNodes[0].Custom)
}

func TestCommitFile_ReplacesPreviousNodesForSamePath(t *testing.T) {
	s := openTest(t)
	require.NoError(t, s.CommitFile(FileRecord{Path: "f.org", ContentHash: "h1"}, []*outline.Node{
		{ID: "old", Title: "Old"},
	}))
	require.NoError(t, s.CommitFile(FileRecord{Path: "f.org", ContentHash: "h2"}, []*outline.Node{
		{ID: "new", Title: "New"},
	}))

	ids, err := s.NodesForFile("f.org")
	require.NoError(t, err)
	assert.Equal(t, []outline.NodeID{"new"}, ids)

	hash, _, err := s.FileHash("f.org")
	require.NoError(t, err)
	assert.Equal(t, "h2", hash)
}

func TestRemoveFile_CascadesNodesAndLinks(t *testing.T) {
	s := openTest(t)
	require.NoError(t, s.CommitFile(FileRecord{Path: "f.org", ContentHash: "h1"}, []*outline.Node{
		{ID: "n1", Title: "N1", Outgoing: []outline.NodeID{"n1"}},
	}))
	require.NoError(t, s.RemoveFile("f.org"))

	all, err := s.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, all)

	_, ok, err := s.FileHash("f.org")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFindNodeFile_LocatesOwningPath(t *testing.T) {
	s := openTest(t)
	require.NoError(t, s.CommitFile(FileRecord{Path: "a.org", ContentHash: "h"}, []*outline.Node{
		{ID: "shared", Title: "S"},
	}))
	path, ok, err := s.FindNodeFile("shared")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a.org", path)

	_, ok, err = s.FindNodeFile("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}
