package facade_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outlinegraph/outlined/internal/metastore"
	"github.com/outlinegraph/outlined/pkg/facade"
	"github.com/outlinegraph/outlined/pkg/fulltext"
	"github.com/outlinegraph/outlined/pkg/graphstore"
	"github.com/outlinegraph/outlined/pkg/outline"
	"github.com/outlinegraph/outlined/pkg/searchdispatch"
)

type fakeHinter struct {
	modifiedPaths []string
	openedIDs     []string
}

func (h *fakeHinter) HintFileModified(path string) { h.modifiedPaths = append(h.modifiedPaths, path) }
func (h *fakeHinter) HintNodeOpened(id string)      { h.openedIDs = append(h.openedIDs, id) }

func newFixture(t *testing.T) (*facade.Facade, *metastore.Store, *graphstore.Store, *fakeHinter) {
	t.Helper()
	store, err := metastore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	graph := graphstore.New()
	idx := fulltext.New()
	dispatch := searchdispatch.New(idx, graph, nil)
	hint := &fakeHinter{}

	f := facade.New(store, graph, dispatch, nil, nil, hint)
	return f, store, graph, hint
}

func seedNode(t *testing.T, store *metastore.Store, graph *graphstore.Store, idx *fulltext.Index, id outline.NodeID, file, title, body string, tags []string, outgoing []outline.NodeID) {
	t.Helper()
	n := &outline.Node{ID: id, Title: title, File: file, Body: body, Tags: tags, Outgoing: outgoing}
	require.NoError(t, store.CommitFile(metastore.FileRecord{Path: file, ContentHash: string(id), ModTimeUnix: 1}, []*outline.Node{n}))
	graph.UpsertNode(id, title, nil, tags)
	graph.ReplaceOutgoing(id, outgoing)
	if idx != nil {
		idx.AddOrReplace(id, title, body, tags)
	}
}

func TestSnapshotGraph_ReturnsGraphStoreProjection(t *testing.T) {
	f, _, graph, _ := newFixture(t)
	graph.UpsertNode("n1", "One", nil, []string{"a"})
	graph.UpsertNode("n2", "Two", nil, []string{"b"})
	graph.ReplaceOutgoing("n1", []outline.NodeID{"n2"})

	snap := f.SnapshotGraph(nil, nil)
	require.Len(t, snap.Nodes, 2)
	require.Len(t, snap.Links, 1)
	assert.Equal(t, outline.Link{From: "n1", To: "n2"}, snap.Links[0])
}

func TestRenderDocument_NodeScopeRendersSingleNode(t *testing.T) {
	f, store, graph, _ := newFixture(t)
	seedNode(t, store, graph, nil, "n1", "a.org", "Hello", "Body with [[id:n2][Two]].", []string{"x"}, []outline.NodeID{"n2"})
	graph.UpsertNode("n2", "Two", nil, nil)

	res, err := f.RenderDocument("n1", facade.ScopeNode)
	require.NoError(t, err)
	assert.Contains(t, res.HTML, "Hello")
	require.Len(t, res.OutgoingLinks, 1)
	assert.Equal(t, outline.NodeID("n2"), res.OutgoingLinks[0].Target)
	assert.Equal(t, []string{"x"}, res.Tags)
}

func TestRenderDocument_FileScopeConcatenatesEveryNodeInFile(t *testing.T) {
	f, store, graph, _ := newFixture(t)
	n1 := &outline.Node{ID: "n1", Title: "One", File: "a.org", Body: "first"}
	n2 := &outline.Node{ID: "n2", Title: "Two", File: "a.org", Body: "second"}
	require.NoError(t, store.CommitFile(metastore.FileRecord{Path: "a.org", ContentHash: "h", ModTimeUnix: 1}, []*outline.Node{n1, n2}))
	graph.UpsertNode("n1", "One", nil, nil)
	graph.UpsertNode("n2", "Two", nil, nil)

	res, err := f.RenderDocument("n1", facade.ScopeFile)
	require.NoError(t, err)
	assert.Contains(t, res.HTML, "first")
	assert.Contains(t, res.HTML, "second")
}

func TestRenderDocument_UnknownNodeReturnsNotFound(t *testing.T) {
	f, _, _, _ := newFixture(t)
	_, err := f.RenderDocument("missing", facade.ScopeNode)
	require.Error(t, err)
}

func TestRenderLatex_OutOfRangeIndexReturnsError(t *testing.T) {
	f, store, graph, _ := newFixture(t)
	seedNode(t, store, graph, nil, "n1", "a.org", "Math", "no latex here", nil, nil)

	_, err := f.RenderLatex(context.Background(), "n1", 0, "000000")
	require.Error(t, err)
}

func TestSearch_DelegatesToDispatcher(t *testing.T) {
	store, err := metastore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	graph := graphstore.New()
	idx := fulltext.New()
	idx.AddOrReplace("n1", "Emacs Org Mode", "notes about outlines", nil)
	graph.UpsertNode("n1", "Emacs Org Mode", nil, nil)
	dispatch := searchdispatch.New(idx, graph, nil)
	f := facade.New(store, graph, dispatch, nil, nil, &fakeHinter{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := f.Search(ctx, "caller1", "req1", "Emacs")
	var seen []string
	for resp := range out {
		seen = append(seen, string(resp.Result.ID))
	}
	assert.Contains(t, seen, "n1")
}

func TestListTags_ReturnsSortedGraphTags(t *testing.T) {
	f, _, graph, _ := newFixture(t)
	graph.UpsertNode("n1", "One", nil, []string{"zeta", "alpha"})
	assert.Equal(t, []string{"alpha", "zeta"}, f.ListTags())
}

func TestEditorHintOpened_DelegatesToHinter(t *testing.T) {
	f, _, _, hint := newFixture(t)
	f.EditorHintOpened("n1")
	assert.Equal(t, []string{"n1"}, hint.openedIDs)
}

func TestEditorHintModified_DelegatesToHinter(t *testing.T) {
	f, _, _, hint := newFixture(t)
	f.EditorHintModified("a.org")
	assert.Equal(t, []string{"a.org"}, hint.modifiedPaths)
}
