// Package graphstore holds the authoritative in-memory graph: nodes,
// directed links, tag sets, and degree counts, with incoming/outgoing
// adjacency and a dangling-link side-set for links whose target has not
// yet appeared. It is adapted from the teacher's pkg/graph ConceptGraph —
// same outbound/inbound adjacency-map shape — generalized with a
// reader/writer lock, a tag reverse index, and dangling-link tracking the
// original graph never needed.
package graphstore

import (
	"sort"
	"strings"
	"sync"

	"github.com/outlinegraph/outlined/pkg/outline"
)

// record is the store's internal metadata for one node; it excludes body
// text and LaTeX/source blocks, which only the render path needs and which
// stay in the Metadata Store / parser output.
type record struct {
	id       outline.NodeID
	title    string
	parentID *outline.NodeID
	tags     map[string]bool
}

// Direction selects which adjacency GetAdjacent reports.
type Direction int

const (
	Outgoing Direction = iota
	Incoming
)

// TagFilter narrows a snapshot to nodes matching tag predicates.
type TagFilter struct {
	Any  []string // node must carry at least one of these tags
	None []string // node must carry none of these tags
}

func (f TagFilter) isZero() bool { return len(f.Any) == 0 && len(f.None) == 0 }

// Store is the multiple-reader/single-writer graph described in spec §4.4
// and §5. All mutating operations are called only from the reconciler's
// single goroutine; reads may run concurrently from any goroutine.
type Store struct {
	mu sync.RWMutex

	nodes map[outline.NodeID]*record

	// targets is the declared (possibly unresolved) outgoing target list
	// for each node, in document order, exactly as last set by
	// ReplaceOutgoing.
	targets map[outline.NodeID][]outline.NodeID

	// resolvedOut/incoming mirror each other: b is in resolvedOut[a] iff
	// a is in incoming[b]. dangling[k] is the set of sources whose
	// declared target k does not currently resolve to a node.
	resolvedOut map[outline.NodeID]map[outline.NodeID]bool
	incoming    map[outline.NodeID]map[outline.NodeID]bool
	dangling    map[outline.NodeID]map[outline.NodeID]bool

	tagIndex map[string]map[outline.NodeID]bool
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		nodes:       make(map[outline.NodeID]*record),
		targets:     make(map[outline.NodeID][]outline.NodeID),
		resolvedOut: make(map[outline.NodeID]map[outline.NodeID]bool),
		incoming:    make(map[outline.NodeID]map[outline.NodeID]bool),
		dangling:    make(map[outline.NodeID]map[outline.NodeID]bool),
		tagIndex:    make(map[string]map[outline.NodeID]bool),
	}
}

// UpsertNode inserts or replaces a node's metadata (title, parent, tags).
// It never touches that node's outgoing links — use ReplaceOutgoing for
// that — and it preserves any existing incoming adjacency. If the node did
// not previously exist, any links dangling on its id are resolved.
func (s *Store) UpsertNode(id outline.NodeID, title string, parentID *outline.NodeID, tags []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.nodes[id]

	rec, ok := s.nodes[id]
	if !ok {
		rec = &record{id: id, tags: map[string]bool{}}
		s.nodes[id] = rec
	} else {
		s.removeFromTagIndexLocked(id, rec.tags)
	}
	rec.title = title
	rec.parentID = parentID
	rec.tags = map[string]bool{}
	for _, t := range tags {
		rec.tags[t] = true
	}
	s.addToTagIndexLocked(id, rec.tags)

	if !existed {
		s.resolveDanglingLocked(id)
	}
}

// RemoveNode deletes a node, drops its outgoing links, and turns any
// previously-incoming links into dangling links (target-key retained).
func (s *Store) RemoveNode(id outline.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeNodeLocked(id)
}

func (s *Store) removeNodeLocked(id outline.NodeID) {
	rec, ok := s.nodes[id]
	if !ok {
		return
	}

	for _, t := range s.targets[id] {
		if s.resolvedOut[id][t] {
			delete(s.resolvedOut[id], t)
			delete(s.incoming[t], id)
		} else {
			delete(s.dangling[t], id)
		}
	}
	delete(s.targets, id)
	delete(s.resolvedOut, id)

	for a := range s.incoming[id] {
		if s.dangling[id] == nil {
			s.dangling[id] = map[outline.NodeID]bool{}
		}
		s.dangling[id][a] = true
		delete(s.resolvedOut[a], id)
	}
	delete(s.incoming, id)

	s.removeFromTagIndexLocked(id, rec.tags)
	delete(s.nodes, id)
}

// ReplaceOutgoing atomically swaps a node's outgoing target set. Targets
// that currently resolve to a live node become real links; the rest are
// recorded as dangling. Multi-edges collapse: duplicate targets in the
// input are inserted once.
func (s *Store) ReplaceOutgoing(id outline.NodeID, newTargets []outline.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.targets[id] {
		if s.resolvedOut[id][t] {
			delete(s.resolvedOut[id], t)
			delete(s.incoming[t], id)
		} else {
			delete(s.dangling[t], id)
		}
	}

	deduped := make([]outline.NodeID, 0, len(newTargets))
	seen := map[outline.NodeID]bool{}
	for _, t := range newTargets {
		if seen[t] {
			continue
		}
		seen[t] = true
		deduped = append(deduped, t)
	}
	s.targets[id] = deduped
	s.resolvedOut[id] = map[outline.NodeID]bool{}

	for _, t := range deduped {
		if _, ok := s.nodes[t]; ok {
			s.resolvedOut[id][t] = true
			if s.incoming[t] == nil {
				s.incoming[t] = map[outline.NodeID]bool{}
			}
			s.incoming[t][id] = true
		} else {
			if s.dangling[t] == nil {
				s.dangling[t] = map[outline.NodeID]bool{}
			}
			s.dangling[t][id] = true
		}
	}
}

// ResolveDangling promotes any dangling links targeting newID into real
// links, now that a node with that id has appeared.
func (s *Store) ResolveDangling(newID outline.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolveDanglingLocked(newID)
}

func (s *Store) resolveDanglingLocked(newID outline.NodeID) {
	sources := s.dangling[newID]
	if len(sources) == 0 {
		return
	}
	if s.incoming[newID] == nil {
		s.incoming[newID] = map[outline.NodeID]bool{}
	}
	for a := range sources {
		if s.resolvedOut[a] == nil {
			s.resolvedOut[a] = map[outline.NodeID]bool{}
		}
		s.resolvedOut[a][newID] = true
		s.incoming[newID][a] = true
	}
	delete(s.dangling, newID)
}

// NumLinks returns the outgoing degree of id — the count of resolved
// outgoing links, per spec invariant I3/I5.
func (s *Store) NumLinks(id outline.NodeID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.resolvedOut[id])
}

// GetAdjacent returns the resolved neighbor ids in the given direction.
func (s *Store) GetAdjacent(id outline.NodeID, dir Direction) []outline.NodeID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var set map[outline.NodeID]bool
	if dir == Outgoing {
		set = s.resolvedOut[id]
	} else {
		set = s.incoming[id]
	}
	out := make([]outline.NodeID, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sortNodeIDs(out)
	return out
}

// DanglingTargets returns the target keys that currently have at least one
// unresolved source link, each with its set of sources.
func (s *Store) DanglingTargets() map[outline.NodeID][]outline.NodeID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[outline.NodeID][]outline.NodeID, len(s.dangling))
	for target, sources := range s.dangling {
		if len(sources) == 0 {
			continue
		}
		list := make([]outline.NodeID, 0, len(sources))
		for src := range sources {
			list = append(list, src)
		}
		sortNodeIDs(list)
		out[target] = list
	}
	return out
}

// NodeRecord returns the compact subscriber-facing projection of a node.
func (s *Store) NodeRecord(id outline.NodeID) (outline.NodeRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.nodes[id]
	if !ok {
		return outline.NodeRecord{}, false
	}
	return outline.NodeRecord{
		ID:       rec.id,
		Title:    rec.title,
		ParentID: rec.parentID,
		NumLinks: len(s.resolvedOut[id]),
	}, true
}

// NodeTags returns the current tag set of id, if it exists.
func (s *Store) NodeTags(id outline.NodeID) ([]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.nodes[id]
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(rec.tags))
	for t := range rec.tags {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, true
}

// TitlePrefix returns the ids of every node whose title starts with
// prefix (case-insensitive), sorted by id, for the prefix-title search
// provider.
func (s *Store) TitlePrefix(prefix string) []outline.NodeID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lower := strings.ToLower(prefix)
	var out []outline.NodeID
	for id, rec := range s.nodes {
		if strings.HasPrefix(strings.ToLower(rec.title), lower) {
			out = append(out, id)
		}
	}
	sortNodeIDs(out)
	return out
}

// ByTag returns the ids of every node carrying tag exactly, sorted by id,
// for the tag-exact search provider.
func (s *Store) ByTag(tag string) []outline.NodeID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.tagIndex[tag]
	out := make([]outline.NodeID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sortNodeIDs(out)
	return out
}

// Tags returns every tag currently present on at least one node, sorted.
func (s *Store) Tags() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.tagIndex))
	for t := range s.tagIndex {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Snapshot is a point-in-time copy of the nodes (matching filter) and
// resolved links between them, safe to read without holding the store's
// lock.
type Snapshot struct {
	Nodes []outline.NodeRecord
	Links []outline.Link
}

// SnapshotSubgraph returns a consistent point-in-time copy of the graph,
// restricted to nodes matching filter (or the whole graph if filter is
// zero-valued).
func (s *Store) SnapshotSubgraph(filter TagFilter) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	include := make(map[outline.NodeID]bool, len(s.nodes))
	for id, rec := range s.nodes {
		if filter.isZero() || matchesFilter(rec.tags, filter) {
			include[id] = true
		}
	}

	snap := Snapshot{}
	ids := make([]outline.NodeID, 0, len(include))
	for id := range include {
		ids = append(ids, id)
	}
	sortNodeIDs(ids)

	for _, id := range ids {
		rec := s.nodes[id]
		snap.Nodes = append(snap.Nodes, outline.NodeRecord{
			ID:       rec.id,
			Title:    rec.title,
			ParentID: rec.parentID,
			NumLinks: len(s.resolvedOut[id]),
		})
		targets := make([]outline.NodeID, 0, len(s.resolvedOut[id]))
		for t := range s.resolvedOut[id] {
			if include[t] {
				targets = append(targets, t)
			}
		}
		sortNodeIDs(targets)
		for _, t := range targets {
			snap.Links = append(snap.Links, outline.Link{From: id, To: t})
		}
	}
	return snap
}

func matchesFilter(tags map[string]bool, filter TagFilter) bool {
	if len(filter.None) > 0 {
		for _, t := range filter.None {
			if tags[t] {
				return false
			}
		}
	}
	if len(filter.Any) > 0 {
		for _, t := range filter.Any {
			if tags[t] {
				return true
			}
		}
		return false
	}
	return true
}

func (s *Store) addToTagIndexLocked(id outline.NodeID, tags map[string]bool) {
	for t := range tags {
		if s.tagIndex[t] == nil {
			s.tagIndex[t] = map[outline.NodeID]bool{}
		}
		s.tagIndex[t][id] = true
	}
}

func (s *Store) removeFromTagIndexLocked(id outline.NodeID, tags map[string]bool) {
	for t := range tags {
		delete(s.tagIndex[t], id)
		if len(s.tagIndex[t]) == 0 {
			delete(s.tagIndex, t)
		}
	}
}

func sortNodeIDs(ids []outline.NodeID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
