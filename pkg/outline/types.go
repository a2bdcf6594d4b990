// Package outline holds the domain types shared by the parser, the graph
// store, the metadata store, the full-text index, and the facade: nodes,
// links, tags, and the documents that contribute them.
package outline

// NodeID is the opaque, source-declared identifier of an addressable node.
type NodeID string

// Link is a directed edge from one node to another by id. Multi-edges do
// not exist: inserting the same (From, To) pair twice is a no-op.
type Link struct {
	From NodeID `json:"from"`
	To   NodeID `json:"to"`
}

// LatexBlock is one LaTeX source occurrence inside a node's body. Index is
// its position in document order: render_latex addresses a block by it and
// the renderer's placeholders carry it as data-latex-index. The
// rasterizer's cache key is built from Source's content hash, not Index.
type LatexBlock struct {
	Index  int    `json:"index"`
	Source string `json:"source"`
}

// SourceBlock is a literate `#+begin_src` region retained for the renderer.
type SourceBlock struct {
	Language string `json:"language"`
	Content  string `json:"content"`
}

// CustomBlock is a `#+begin_<kw> ... #+end_<kw>` region the renderer may
// look up in its advice-rule table by Keyword.
type CustomBlock struct {
	Keyword string `json:"keyword"`
	Content string `json:"content"`
}

// CrossLink is a `[[id:target][display]]` occurrence found inside a node's
// body, before it is resolved into a graph Link.
type CrossLink struct {
	Target  NodeID `json:"target"`
	Display string `json:"display"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
}

// Node is the addressable unit produced by the parser and mirrored into the
// Graph Store, the Metadata Store, and the Full-Text Index.
type Node struct {
	ID       NodeID  `json:"id"`
	Title    string  `json:"title"`
	ParentID *NodeID `json:"parent_id,omitempty"`
	File     string  `json:"file"`
	ByteFrom int     `json:"byte_start"`
	ByteTo   int     `json:"byte_end"`

	Tags   []string      `json:"tags"`
	Body   string        `json:"body"` // plain-text body used by the full-text index
	Latex  []LatexBlock  `json:"latex_blocks"`
	Source []SourceBlock `json:"source_blocks,omitempty"`
	Custom []CustomBlock `json:"custom_blocks,omitempty"`

	// Outgoing is the ordered list of link targets found in Body, before
	// dangling-resolution against the rest of the corpus.
	Outgoing []NodeID `json:"outgoing"`
}

// BodyHash is the content fingerprint (ContentHash) of the node's Body.
func (n *Node) BodyHash() string {
	return contentHash(n.Body)
}

// NodeRecord is the compact projection sent to subscribers (spec §6.2).
type NodeRecord struct {
	ID       NodeID  `json:"id"`
	Title    string  `json:"title"`
	ParentID *NodeID `json:"parent_id,omitempty"`
	NumLinks int     `json:"num_links"`
}

// Document is one physical file on disk and the node ids it currently
// contributes.
type Document struct {
	Path        string   `json:"path"`
	ModTime     int64    `json:"mtime"`
	ContentHash string   `json:"content_hash"`
	NodeIDs     []NodeID `json:"node_ids"`
}
