// Package facade exposes the system's one narrow, synchronous/suspending
// entry point (Facade) plus the wire types of its push protocol
// (protocol.go), shared by the event bus, the search dispatcher, and the
// minimal HTTP exposition in cmd/outlined.
package facade

import "github.com/outlinegraph/outlined/pkg/outline"

// MessageType discriminates push-protocol messages on the wire (spec §6.2).
type MessageType string

const (
	MessageStatusUpdate MessageType = "status_update"
	MessageNodeVisited  MessageType = "node_visited"
	MessageGraphUpdate  MessageType = "graph_update"
	MessagePing         MessageType = "ping"
	MessageSearchResult MessageType = "search_response"
	MessageSearchConfig MessageType = "SearchConfigurationResponse"
)

// StatusUpdate reports watcher/reconciler health to subscribers, emitted
// periodically and on editor hints (spec §6.2).
type StatusUpdate struct {
	Type           MessageType          `json:"type"`
	VisitedNode    *outline.NodeID      `json:"visited_node,omitempty"`
	PendingChanges bool                 `json:"pending_changes"`
	UpdatedNodes   []outline.NodeRecord `json:"updated_nodes,omitempty"`
	UpdatedLinks   []outline.Link       `json:"updated_links,omitempty"`
}

// NodeVisited is published when an editor hint reports a node was opened.
type NodeVisited struct {
	Type   MessageType    `json:"type"`
	NodeID outline.NodeID `json:"node_id"`
}

// GraphUpdate is the incremental delta the event bus coalesces and
// publishes as the graph changes.
type GraphUpdate struct {
	Type         MessageType          `json:"type"`
	NewNodes     []outline.NodeRecord `json:"new_nodes,omitempty"`
	UpdatedNodes []outline.NodeRecord `json:"updated_nodes,omitempty"`
	NewLinks     []outline.Link       `json:"new_links,omitempty"`
	RemovedNodes []outline.NodeID     `json:"removed_nodes,omitempty"`
	RemovedLinks []outline.Link       `json:"removed_links,omitempty"`
}

// Ping is the 15s liveness message (spec §4.9).
type Ping struct {
	Type MessageType `json:"type"`
}

// ResultEntry is one search hit, per spec §6.2: `{provider, id, title,
// tags}`.
type ResultEntry struct {
	Provider int            `json:"provider"`
	ID       outline.NodeID `json:"id"`
	Title    string         `json:"title"`
	Tags     []string       `json:"tags"`
}

// SearchResponse streams one ResultEntry per hit, tagged with the
// originating request_id so stale results can be discarded by the caller.
type SearchResponse struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id"`
	Result    ResultEntry `json:"results"`
}

// ProviderDescriptor names one registered search provider.
type ProviderDescriptor struct {
	ProviderID int    `json:"provider_id"`
	Name       string `json:"name"`
}

// SearchConfigurationResponse answers a config request with the fixed
// provider registry.
type SearchConfigurationResponse struct {
	Type   MessageType          `json:"type"`
	Config []ProviderDescriptor `json:"config"`
}
