package facade

import (
	"context"
	"fmt"
	"sort"

	"github.com/outlinegraph/outlined/internal/config"
	"github.com/outlinegraph/outlined/internal/metastore"
	"github.com/outlinegraph/outlined/internal/outlineerr"
	"github.com/outlinegraph/outlined/pkg/graphstore"
	"github.com/outlinegraph/outlined/pkg/latexrender"
	"github.com/outlinegraph/outlined/pkg/orgrender"
	"github.com/outlinegraph/outlined/pkg/outline"
)

// Dispatcher is the subset of *searchdispatch.Dispatcher the facade needs
// for search. Declared here rather than imported concretely: searchdispatch
// imports this package for the wire types (SearchResponse, ProviderDescriptor),
// so facade can only depend back on it through an interface, not the
// concrete type, on pain of an import cycle.
type Dispatcher interface {
	Dispatch(ctx context.Context, callerID, requestID, query string) <-chan SearchResponse
	Config() []ProviderDescriptor
}

// Hinter is the subset of *watcher.Watcher the facade needs for
// editor_hint_opened and editor_hint_modified. Both hints are pushed
// onto the watcher's single merged reconciliation queue rather than
// invoking the reconciler directly, so the single-reconciler-goroutine
// invariant (spec §5) holds regardless of which goroutine an HTTP
// handler happens to run on.
type Hinter interface {
	HintFileModified(path string)
	HintNodeOpened(id string)
}

// Scope selects how much of a document render_document renders.
type Scope string

const (
	ScopeNode Scope = "node"
	ScopeFile Scope = "file"
)

// RenderResult is render_document's output (spec §6.3).
type RenderResult struct {
	HTML          string               `json:"html"`
	OutgoingLinks []outline.CrossLink  `json:"outgoing_links"`
	IncomingLinks []outline.NodeID     `json:"incoming_links"`
	LatexBlocks   []outline.LatexBlock `json:"latex_blocks"`
	Tags          []string             `json:"tags"`
}

// GraphSnapshot is snapshot_graph's output (spec §6.3).
type GraphSnapshot struct {
	Nodes []outline.NodeRecord `json:"nodes"`
	Links []outline.Link       `json:"links"`
}

// Facade is the system's single narrow entry point (C10). It holds no
// business logic of its own: every operation is a thin delegation to the
// Graph Store, the render packages, the search dispatcher, or the
// watcher's hint channels.
type Facade struct {
	store    *metastore.Store
	graph    *graphstore.Store
	dispatch Dispatcher
	latex    *latexrender.Rasterizer
	rules    []config.AdviceRule

	hints Hinter
}

// New wires a Facade to its delegates. rules is the HTML advice-rule
// table from config, threaded into every render_document call.
func New(store *metastore.Store, graph *graphstore.Store, dispatch Dispatcher, latex *latexrender.Rasterizer, rules []config.AdviceRule, hints Hinter) *Facade {
	return &Facade{
		store:    store,
		graph:    graph,
		dispatch: dispatch,
		latex:    latex,
		rules:    rules,
		hints:    hints,
	}
}

// SnapshotGraph returns a point-in-time view of the graph, optionally
// restricted by tag filter.
func (f *Facade) SnapshotGraph(tagsAny, tagsNone []string) GraphSnapshot {
	snap := f.graph.SnapshotSubgraph(graphstore.TagFilter{Any: tagsAny, None: tagsNone})
	return GraphSnapshot{Nodes: snap.Nodes, Links: snap.Links}
}

// RenderDocument renders id at the given scope: a single node, or every
// node currently attributed to id's owning file, concatenated in id
// order (see C2).
func (f *Facade) RenderDocument(id outline.NodeID, scope Scope) (RenderResult, error) {
	n, ok, err := f.store.NodeByID(id)
	if err != nil {
		return RenderResult{}, err
	}
	if !ok {
		return RenderResult{}, outlineerr.New(outlineerr.KindNotFound, "facade.RenderDocument", fmt.Errorf("no such node: %s", id))
	}

	targets := []metastore.PersistedNode{n}
	if scope == ScopeFile {
		targets, err = f.store.FileNodes(n.File)
		if err != nil {
			return RenderResult{}, err
		}
	}

	var result RenderResult
	tagSet := map[string]bool{}
	for _, t := range targets {
		rendered := orgrender.RenderNode(toOutlineNode(t), f.rules)
		result.HTML += rendered.HTML
		result.OutgoingLinks = append(result.OutgoingLinks, rendered.OutgoingLinks...)
		result.LatexBlocks = append(result.LatexBlocks, rendered.LatexBlocks...)
		for _, tag := range t.Tags {
			tagSet[tag] = true
		}
	}

	result.IncomingLinks = f.graph.GetAdjacent(id, graphstore.Incoming)
	result.Tags = make([]string, 0, len(tagSet))
	for t := range tagSet {
		result.Tags = append(result.Tags, t)
	}
	sort.Strings(result.Tags)
	return result, nil
}

// RenderLatex rasterizes the index'th LaTeX block of node id to SVG, in
// color (an HTML hex string, e.g. "1a1a1a"). Re-deriving the block list
// from the node's current body (rather than trusting a client-supplied
// index against stale state) is what makes property R1 hold here too.
func (f *Facade) RenderLatex(ctx context.Context, id outline.NodeID, index int, color string) ([]byte, error) {
	n, ok, err := f.store.NodeByID(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, outlineerr.New(outlineerr.KindNotFound, "facade.RenderLatex", fmt.Errorf("no such node: %s", id))
	}
	blocks := outline.FindLatexBlocks(n.Body)
	if index < 0 || index >= len(blocks) {
		return nil, outlineerr.New(outlineerr.KindNotFound, "facade.RenderLatex", fmt.Errorf("no latex block %d on node %s", index, id))
	}
	return f.latex.Rasterize(ctx, blocks[index].Source, color)
}

// Search broadcasts query to every registered provider under
// callerID/requestID, returning a channel of SearchResponse to stream to
// the caller (see C7).
func (f *Facade) Search(ctx context.Context, callerID, requestID, query string) <-chan SearchResponse {
	return f.dispatch.Dispatch(ctx, callerID, requestID, query)
}

// SearchConfig answers a SearchConfigurationRequest with the fixed
// provider registry.
func (f *Facade) SearchConfig() SearchConfigurationResponse {
	return SearchConfigurationResponse{Type: MessageSearchConfig, Config: f.dispatch.Config()}
}

// ListTags returns every tag currently present on at least one node,
// sorted.
func (f *Facade) ListTags() []string {
	return f.graph.Tags()
}

// EditorHintOpened records that a client opened node id, emitting
// node_visited on the event bus via the watcher's hint channel.
func (f *Facade) EditorHintOpened(id string) {
	f.hints.HintNodeOpened(id)
}

// EditorHintModified enqueues reconciliation for path, bypassing the
// disk-event queue's coalescing window — an editor hint means the
// editor already knows the file changed.
func (f *Facade) EditorHintModified(path string) {
	f.hints.HintFileModified(path)
}

func toOutlineNode(n metastore.PersistedNode) *outline.Node {
	return &outline.Node{
		ID:       n.ID,
		Title:    n.Title,
		ParentID: n.ParentID,
		File:     n.File,
		Tags:     n.Tags,
		Body:     n.Body,
		Latex:    outline.FindLatexBlocks(n.Body),
		Outgoing: n.Outgoing,
		Source:   n.Source,
		Custom:   n.Custom,
	}
}
