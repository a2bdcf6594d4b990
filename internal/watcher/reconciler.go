package watcher

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/outlinegraph/outlined/internal/eventbus"
	"github.com/outlinegraph/outlined/internal/metastore"
	"github.com/outlinegraph/outlined/internal/outlineerr"
	"github.com/outlinegraph/outlined/internal/telemetry"
	"github.com/outlinegraph/outlined/pkg/facade"
	"github.com/outlinegraph/outlined/pkg/fulltext"
	"github.com/outlinegraph/outlined/pkg/graphstore"
	"github.com/outlinegraph/outlined/pkg/orgparse"
	"github.com/outlinegraph/outlined/pkg/outline"
)

// ParseErrorEvent is published on the Event Bus (but not part of the
// subscriber-facing push protocol) when a file's parse is fatal — spec
// §4.8 step 2.
type ParseErrorEvent struct {
	Path       string
	Diagnostic string
}

// StoreErrorEvent is published when a file's commit fails twice in a row
// and is abandoned, per spec §4.8 step 4 / §7's store-error propagation.
type StoreErrorEvent struct {
	Path string
	Err  error
}

// DuplicateIDEvent is published when the cross-file id-collision policy
// drops a node occurrence in favor of an earlier path, per spec §4.8.
type DuplicateIDEvent struct {
	ID          outline.NodeID
	DroppedPath string
	WinningPath string
}

// Reconciler runs the single serialized algorithm of spec §4.8 over the
// merged disk/editor-hint event queue, committing to the Metadata Store
// and mirroring into the Graph Store and Full-Text Index.
type Reconciler struct {
	meta    *metastore.Store
	graph   *graphstore.Store
	idx     *fulltext.Index
	bus     *eventbus.Bus
	log     *slog.Logger
	metrics *telemetry.Metrics
}

// NewReconciler wires the reconciler to the stores it serializes writes
// into and the bus it publishes deltas on. metrics may be nil, in which
// case no instrumentation is recorded.
func NewReconciler(meta *metastore.Store, graph *graphstore.Store, idx *fulltext.Index, bus *eventbus.Bus, log *slog.Logger, metrics *telemetry.Metrics) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{meta: meta, graph: graph, idx: idx, bus: bus, log: log, metrics: metrics}
}

// Run drains events until the channel closes or ctx is done. It is meant
// to be the body of the single dedicated reconciler goroutine spec §5
// requires — callers must not invoke ReconcilePath concurrently from
// elsewhere while Run is active.
func (r *Reconciler) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case KindFileChanged:
				if err := r.ReconcilePath(ev.Path); err != nil {
					r.log.Warn("reconciler: reconcile failed", "path", ev.Path, "err", err)
				}
			case KindNodeOpened:
				r.handleNodeOpened(outline.NodeID(ev.ID))
			}
		}
	}
}

func (r *Reconciler) handleNodeOpened(id outline.NodeID) {
	r.bus.Publish(facade.NodeVisited{Type: facade.MessageNodeVisited, NodeID: id})
	r.bus.Publish(facade.StatusUpdate{Type: facade.MessageStatusUpdate, VisitedNode: &id, PendingChanges: false})
}

// ReconcilePath runs the full reconciliation algorithm for one path: hash
// no-op check, parse, diff, transactional commit with one retry, mirror,
// publish. It is exported for tests and is the only method Run calls for
// KindFileChanged events, including ones the facade's editor_hint_modified
// operation injects via Watcher.HintFileModified.
func (r *Reconciler) ReconcilePath(path string) error {
	text, modTime, err := readFileOrEmpty(path)
	if err != nil {
		return err
	}
	newHash := outline.ContentHash(text)

	oldHash, existed, err := r.meta.FileHash(path)
	if err != nil {
		return err
	}
	if existed && oldHash == newHash {
		r.observeOutcome("noop")
		return nil // no-op
	}

	parsed := orgparse.Parse(path, text)
	if parsed.Fatal != nil {
		r.log.Warn("reconciler: fatal parse error", "path", path, "err", parsed.Fatal)
		r.bus.Publish(ParseErrorEvent{Path: path, Diagnostic: parsed.Fatal.Error()})
		r.observeOutcome("parse_error")
		if r.metrics != nil {
			r.metrics.ParseErrorsTotal.Inc()
		}
		return nil // store left unchanged for this file
	}
	for _, w := range parsed.Warnings {
		r.log.Warn("reconciler: parse warning", "path", path, "detail", w)
	}

	accepted, err := r.resolveCrossFileCollisions(path, parsed.AllNodes())
	if err != nil {
		return err
	}

	oldNodes, err := r.meta.FileNodes(path)
	if err != nil {
		return err
	}

	added, updated, removed := diffNodes(oldNodes, accepted)

	rec := metastore.FileRecord{Path: path, ContentHash: newHash, ModTimeUnix: modTime}
	if err := r.commitWithRetry(rec, accepted); err != nil {
		r.bus.Publish(StoreErrorEvent{Path: path, Err: err})
		r.observeOutcome("store_error")
		if r.metrics != nil {
			r.metrics.StoreErrorsTotal.Inc()
		}
		return err
	}
	r.observeOutcome("committed")

	delta := r.mirror(added, updated, removed, oldNodes)
	r.bus.PublishGraphUpdate(delta)
	return nil
}

func (r *Reconciler) observeOutcome(outcome string) {
	if r.metrics != nil {
		r.metrics.FilesReconciledTotal.WithLabelValues(outcome).Inc()
	}
}

// resolveCrossFileCollisions drops any node whose id is already owned by
// a lexicographically earlier path (spec §4.8's cross-file id-collision
// policy), and reclaims ids this path wins from a lexicographically
// later owner.
func (r *Reconciler) resolveCrossFileCollisions(path string, nodes []*outline.Node) ([]*outline.Node, error) {
	accepted := make([]*outline.Node, 0, len(nodes))
	for _, n := range nodes {
		owner, ok, err := r.meta.FindNodeFile(n.ID)
		if err != nil {
			return nil, err
		}
		if !ok || owner == path {
			accepted = append(accepted, n)
			continue
		}
		if owner < path {
			// The earlier file already owns this id; ours is dropped.
			r.log.Warn("reconciler: duplicate id, earlier path wins", "id", n.ID, "dropped_path", path, "winning_path", owner)
			r.bus.Publish(DuplicateIDEvent{ID: n.ID, DroppedPath: path, WinningPath: owner})
			if r.metrics != nil {
				r.metrics.DuplicateIDsTotal.Inc()
			}
			continue
		}
		// We are the earlier path: reclaim the id from the later owner.
		r.log.Warn("reconciler: duplicate id, reclaiming for earlier path", "id", n.ID, "dropped_path", owner, "winning_path", path)
		r.bus.Publish(DuplicateIDEvent{ID: n.ID, DroppedPath: owner, WinningPath: path})
		if r.metrics != nil {
			r.metrics.DuplicateIDsTotal.Inc()
		}
		if err := r.meta.RemoveNode(n.ID); err != nil {
			return nil, err
		}
		accepted = append(accepted, n)
	}
	return accepted, nil
}

func (r *Reconciler) commitWithRetry(rec metastore.FileRecord, nodes []*outline.Node) error {
	start := time.Now()
	defer func() {
		if r.metrics != nil {
			r.metrics.CommitDuration.Observe(time.Since(start).Seconds())
		}
	}()

	err := r.meta.CommitFile(rec, nodes)
	if err == nil {
		return nil
	}
	err = r.meta.CommitFile(rec, nodes)
	if err != nil {
		return outlineerr.New(outlineerr.KindStoreError, "reconciler.ReconcilePath", err)
	}
	return nil
}

// mirror applies the committed diff to the Graph Store and Full-Text
// Index and builds the client-visible delta.
func (r *Reconciler) mirror(added, updated []*outline.Node, removed []outline.NodeID, oldNodes []metastore.PersistedNode) facade.GraphUpdate {
	oldByID := map[outline.NodeID]metastore.PersistedNode{}
	for _, n := range oldNodes {
		oldByID[n.ID] = n
	}

	delta := facade.GraphUpdate{Type: facade.MessageGraphUpdate}

	var newLinks, removedLinks []outline.Link
	touch := func(n *outline.Node, wasPresent bool) {
		var resolvedSources []outline.NodeID
		if !wasPresent {
			// A brand-new id may already have dangling links pointing at
			// it from nodes committed earlier. UpsertNode resolves those
			// as a side effect, so the sources have to be read before it
			// runs.
			resolvedSources = r.graph.DanglingTargets()[n.ID]
		}
		r.graph.UpsertNode(n.ID, n.Title, n.ParentID, n.Tags)
		for _, src := range resolvedSources {
			newLinks = append(newLinks, outline.Link{From: src, To: n.ID})
		}
		r.graph.ReplaceOutgoing(n.ID, n.Outgoing)
		r.idx.AddOrReplace(n.ID, n.Title, n.Body, n.Tags)

		rec, _ := r.graph.NodeRecord(n.ID)
		if wasPresent {
			delta.UpdatedNodes = append(delta.UpdatedNodes, rec)
		} else {
			delta.NewNodes = append(delta.NewNodes, rec)
		}

		old := oldByID[n.ID]
		oldTargets := map[outline.NodeID]bool{}
		for _, t := range old.Outgoing {
			oldTargets[t] = true
		}
		newTargets := map[outline.NodeID]bool{}
		for _, t := range n.Outgoing {
			newTargets[t] = true
			if oldTargets[t] {
				continue
			}
			// A target with no node yet is a dangling link; it is reported
			// when that node appears (resolvedSources above).
			if _, resolved := r.graph.NodeRecord(t); resolved {
				newLinks = append(newLinks, outline.Link{From: n.ID, To: t})
			}
		}
		for _, t := range old.Outgoing {
			if !newTargets[t] {
				removedLinks = append(removedLinks, outline.Link{From: n.ID, To: t})
			}
		}
	}

	for _, n := range added {
		touch(n, false)
	}
	for _, n := range updated {
		touch(n, true)
	}

	for _, id := range removed {
		for _, t := range oldByID[id].Outgoing {
			removedLinks = append(removedLinks, outline.Link{From: id, To: t})
		}
		r.graph.RemoveNode(id)
		r.idx.Remove(id)
		delta.RemovedNodes = append(delta.RemovedNodes, id)
	}

	delta.NewLinks = newLinks
	delta.RemovedLinks = removedLinks
	return delta
}

// diffNodes computes added/removed/updated per spec §4.8 step 3: updated
// means present in both sets with a changed title, tags, body, or
// outgoing-link list.
func diffNodes(old []metastore.PersistedNode, current []*outline.Node) (added, updated []*outline.Node, removed []outline.NodeID) {
	oldByID := map[outline.NodeID]metastore.PersistedNode{}
	for _, n := range old {
		oldByID[n.ID] = n
	}
	newByID := map[outline.NodeID]*outline.Node{}
	for _, n := range current {
		newByID[n.ID] = n
	}

	for id, n := range newByID {
		old, ok := oldByID[id]
		if !ok {
			added = append(added, n)
			continue
		}
		if old.Title != n.Title || !sameStrings(old.Tags, n.Tags) || old.Body != n.Body || !sameIDs(old.Outgoing, n.Outgoing) {
			updated = append(updated, n)
		}
	}
	for id := range oldByID {
		if _, ok := newByID[id]; !ok {
			removed = append(removed, id)
		}
	}

	sort.Slice(added, func(i, j int) bool { return added[i].ID < added[j].ID })
	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	sort.Slice(updated, func(i, j int) bool { return updated[i].ID < updated[j].ID })
	return added, updated, removed
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string{}, a...)
	bs := append([]string{}, b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func sameIDs(a, b []outline.NodeID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func readFileOrEmpty(path string) (text string, modTimeUnix int64, err error) {
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return "", 0, nil
		}
		return "", 0, outlineerr.New(outlineerr.KindStoreError, "reconciler.readFile", readErr)
	}
	info, statErr := os.Stat(path)
	if statErr != nil {
		return string(data), 0, nil
	}
	return string(data), info.ModTime().Unix(), nil
}
