package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outlinegraph/outlined/internal/eventbus"
	"github.com/outlinegraph/outlined/internal/metastore"
	"github.com/outlinegraph/outlined/pkg/facade"
	"github.com/outlinegraph/outlined/pkg/fulltext"
	"github.com/outlinegraph/outlined/pkg/graphstore"
	"github.com/outlinegraph/outlined/pkg/outline"
)

type fixture struct {
	meta  *metastore.Store
	graph *graphstore.Store
	idx   *fulltext.Index
	bus   *eventbus.Bus
	rec   *Reconciler
	sub   eventbus.Subscription
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	meta, err := metastore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	graph := graphstore.New()
	idx := fulltext.New()
	bus := eventbus.New(nil, time.Second, nil)
	sub := bus.Subscribe(16)

	return &fixture{
		meta:  meta,
		graph: graph,
		idx:   idx,
		bus:   bus,
		rec:   NewReconciler(meta, graph, idx, bus, nil, nil),
		sub:   sub,
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func waitGraphUpdate(t *testing.T, sub eventbus.Subscription) facade.GraphUpdate {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-sub.Messages:
			if gu, ok := msg.(facade.GraphUpdate); ok {
				return gu
			}
		case <-deadline:
			t.Fatal("timed out waiting for graph_update")
		}
	}
}

const nodeOneOrg = "* Heading One\n:PROPERTIES:\n:ID: node-one\n:END:\nBody one text.\n"

func TestReconcilePath_CommitsNewFileAndPublishesGraphUpdate(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "a.org", nodeOneOrg)

	require.NoError(t, f.rec.ReconcilePath(path))

	rec, ok := f.graph.NodeRecord("node-one")
	require.True(t, ok)
	assert.Equal(t, "Heading One", rec.Title)

	hits := f.idx.Search("Heading", 10)
	require.Len(t, hits, 1)
	assert.Equal(t, outline.NodeID("node-one"), hits[0].ID)

	gu := waitGraphUpdate(t, f.sub)
	require.Len(t, gu.NewNodes, 1)
	assert.Equal(t, outline.NodeID("node-one"), gu.NewNodes[0].ID)
}

func TestReconcilePath_NoopWhenContentUnchanged(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "a.org", nodeOneOrg)

	require.NoError(t, f.rec.ReconcilePath(path))
	waitGraphUpdate(t, f.sub)

	require.NoError(t, f.rec.ReconcilePath(path))

	select {
	case msg := <-f.sub.Messages:
		t.Fatalf("expected no further messages on no-op reconcile, got %#v", msg)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestReconcilePath_FatalParseErrorLeavesStoreUnchanged(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	dup := "* One\n:PROPERTIES:\n:ID: dup\n:END:\n" +
		"* Two\n:PROPERTIES:\n:ID: dup\n:END:\n"
	path := writeFile(t, dir, "bad.org", dup)

	require.NoError(t, f.rec.ReconcilePath(path))

	_, ok := f.graph.NodeRecord("dup")
	assert.False(t, ok)

	_, existed, err := f.meta.FileHash(path)
	require.NoError(t, err)
	assert.False(t, existed)

	select {
	case msg := <-f.sub.Messages:
		_, ok := msg.(ParseErrorEvent)
		assert.True(t, ok, "expected a ParseErrorEvent, got %#v", msg)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for parse error event")
	}
}

func TestReconcilePath_CrossFileDuplicateID_EarlierPathWins(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	body := "* Shared\n:PROPERTIES:\n:ID: shared\n:END:\nBody.\n"

	pathA := writeFile(t, dir, "a.org", body)
	pathB := writeFile(t, dir, "b.org", body)

	require.NoError(t, f.rec.ReconcilePath(pathA))
	waitGraphUpdate(t, f.sub)

	require.NoError(t, f.rec.ReconcilePath(pathB))

	owner, ok, err := f.meta.FindNodeFile("shared")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, pathA, owner)

	bNodes, err := f.meta.FileNodes(pathB)
	require.NoError(t, err)
	assert.Empty(t, bNodes)
}

func TestReconcilePath_CrossFileDuplicateID_EarlierPathReclaims(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	body := "* Shared\n:PROPERTIES:\n:ID: shared\n:END:\nBody.\n"

	pathA := writeFile(t, dir, "a.org", body)
	pathB := writeFile(t, dir, "b.org", body)

	require.NoError(t, f.rec.ReconcilePath(pathB))
	waitGraphUpdate(t, f.sub)

	require.NoError(t, f.rec.ReconcilePath(pathA))

	owner, ok, err := f.meta.FindNodeFile("shared")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, pathA, owner)
}

func TestReconcilePath_DeletedFileRemovesNodes(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "a.org", nodeOneOrg)

	require.NoError(t, f.rec.ReconcilePath(path))
	waitGraphUpdate(t, f.sub)

	require.NoError(t, os.Remove(path))
	require.NoError(t, f.rec.ReconcilePath(path))

	_, ok := f.graph.NodeRecord("node-one")
	assert.False(t, ok)

	gu := waitGraphUpdate(t, f.sub)
	assert.Equal(t, []outline.NodeID{"node-one"}, gu.RemovedNodes)
}

func TestReconcilePath_UpdatedNodeReportsChangedLinks(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	target := "* Target\n:PROPERTIES:\n:ID: target\n:END:\nTarget body.\n"
	pathTarget := writeFile(t, dir, "target.org", target)
	require.NoError(t, f.rec.ReconcilePath(pathTarget))
	waitGraphUpdate(t, f.sub)

	source := "* Source\n:PROPERTIES:\n:ID: source\n:END:\nSee [[id:target][Target]].\n"
	pathSource := writeFile(t, dir, "source.org", source)
	require.NoError(t, f.rec.ReconcilePath(pathSource))
	gu := waitGraphUpdate(t, f.sub)
	require.Len(t, gu.NewLinks, 1)
	assert.Equal(t, outline.Link{From: "source", To: "target"}, gu.NewLinks[0])

	updatedSource := "* Source\n:PROPERTIES:\n:ID: source\n:END:\nNo more links.\n"
	writeFile(t, dir, "source.org", updatedSource)
	require.NoError(t, f.rec.ReconcilePath(pathSource))
	gu2 := waitGraphUpdate(t, f.sub)
	require.Len(t, gu2.RemovedLinks, 1)
	assert.Equal(t, outline.Link{From: "source", To: "target"}, gu2.RemovedLinks[0])
}

func TestReconcilePath_DanglingLinkResolvesWhenTargetLaterAppears(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()

	source := "* Source\n:PROPERTIES:\n:ID: n3\n:END:\nSee [[id:n9][Nine]].\n"
	pathSource := writeFile(t, dir, "b.org", source)
	require.NoError(t, f.rec.ReconcilePath(pathSource))
	gu1 := waitGraphUpdate(t, f.sub)
	assert.Empty(t, gu1.NewLinks) // n9 doesn't exist yet, link is dangling

	target := "* Nine\n:PROPERTIES:\n:ID: n9\n:END:\nTarget body.\n"
	pathTarget := writeFile(t, dir, "c.org", target)
	require.NoError(t, f.rec.ReconcilePath(pathTarget))
	gu2 := waitGraphUpdate(t, f.sub)

	require.Len(t, gu2.NewLinks, 1)
	assert.Equal(t, outline.Link{From: "n3", To: "n9"}, gu2.NewLinks[0])
	assert.Equal(t, 1, f.graph.NumLinks("n3"))
}
