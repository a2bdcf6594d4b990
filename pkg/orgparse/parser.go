// Package orgparse turns one document's text into a typed tree: a
// file-level node (if the file declares an id) plus an ordered list of
// heading nodes, each carrying its own id, tags, parent chain, starting
// byte offset (ByteFrom), and LaTeX blocks. The end of a node's byte range
// is not computed: ByteTo is left zero. It never touches the store — Parse is a pure function
// of (path, text).
package orgparse

import (
	"fmt"
	"strings"

	"github.com/outlinegraph/outlined/pkg/outline"
)

// Result is everything Parse extracts from one document.
type Result struct {
	Path string

	// File is the file-level node, or nil if the file's front-matter did
	// not declare an ID (the file still may contribute heading nodes).
	File *outline.Node

	// Headings is the ordered list of nodes promoted from `*`-headings
	// that carry an ID property.
	Headings []*outline.Node

	// Warnings are non-fatal diagnostics (malformed front-matter,
	// unterminated blocks); the result is still usable.
	Warnings []string

	// Fatal is set when the file contains a duplicate id declared twice
	// within the same parse — the whole file must not be committed.
	Fatal error
}

// NodeIDs returns every id this parse result contributes, file node first.
func (r *Result) NodeIDs() []outline.NodeID {
	ids := make([]outline.NodeID, 0, len(r.Headings)+1)
	if r.File != nil {
		ids = append(ids, r.File.ID)
	}
	for _, h := range r.Headings {
		ids = append(ids, h.ID)
	}
	return ids
}

// AllNodes returns File (if present) followed by Headings.
func (r *Result) AllNodes() []*outline.Node {
	nodes := make([]*outline.Node, 0, len(r.Headings)+1)
	if r.File != nil {
		nodes = append(nodes, r.File)
	}
	nodes = append(nodes, r.Headings...)
	return nodes
}

type builder struct {
	level         int
	hasID         bool
	id            string
	title         string
	tagSet        map[string]bool
	body          []string
	byteStart     int
	source        []outline.SourceBlock
	custom        []outline.CustomBlock
	parent        *builder
	canAcceptProp bool
}

func newBuilder(level int, parent *builder, byteStart int) *builder {
	return &builder{
		level:         level,
		tagSet:        map[string]bool{},
		parent:        parent,
		byteStart:     byteStart,
		canAcceptProp: true,
	}
}

func (b *builder) sortedTags() []string {
	tags := make([]string, 0, len(b.tagSet))
	for t := range b.tagSet {
		tags = append(tags, t)
	}
	sortStrings(tags)
	return tags
}

// nearestNodeParent walks up the enclosing-heading chain to the closest
// ancestor that was actually promoted to a node (has an ID), per spec
// §4.1's "nearest enclosing heading node, or the file-node if none" —
// intermediate headings without an ID are not nodes and cannot be parents.
func (b *builder) nearestNodeParent(file *builder) *outline.NodeID {
	cur := b.parent
	for cur != nil {
		if cur.hasID {
			id := outline.NodeID(cur.id)
			return &id
		}
		cur = cur.parent
	}
	if file != nil && file.hasID {
		id := outline.NodeID(file.id)
		return &id
	}
	return nil
}

const (
	modeNormal = iota
	modeProps
	modeSrc
	modeCustom
)

// Parse turns text into a Result. path is used only for diagnostics.
func Parse(path, text string) *Result {
	res := &Result{Path: path}

	file := newBuilder(0, nil, 0)
	current := file
	var all []*builder

	mode := modeNormal
	var modeLang, modeKeyword string
	var blockBuf []string
	var blockStart int

	offset := 0
	for _, raw := range splitLinesKeepOffsets(text, &offset) {
		line := strings.TrimRight(raw.text, "\r")
		trimmed := strings.TrimSpace(line)

		switch mode {
		case modeSrc:
			if strings.EqualFold(trimmed, "#+end_src") {
				current.source = append(current.source, outline.SourceBlock{
					Language: modeLang,
					Content:  strings.Join(blockBuf, "\n"),
				})
				mode, blockBuf = modeNormal, nil
			} else {
				blockBuf = append(blockBuf, line)
			}
			continue
		case modeCustom:
			if strings.EqualFold(trimmed, "#+end_"+modeKeyword) {
				current.custom = append(current.custom, outline.CustomBlock{
					Keyword: modeKeyword,
					Content: strings.Join(blockBuf, "\n"),
				})
				mode, blockBuf = modeNormal, nil
			} else {
				blockBuf = append(blockBuf, line)
			}
			continue
		case modeProps:
			if strings.EqualFold(trimmed, ":END:") {
				mode = modeNormal
			} else if trimmed != "" {
				applyProperty(current, trimmed, res)
			}
			continue
		}

		lower := strings.ToLower(trimmed)
		switch {
		case trimmed == "":
			current.body = append(current.body, line)

		case strings.EqualFold(trimmed, ":PROPERTIES:") && current.canAcceptProp:
			mode, blockStart = modeProps, raw.start
			_ = blockStart

		case strings.HasPrefix(lower, "#+title:"):
			current.canAcceptProp = false
			if current == file {
				file.title = strings.TrimSpace(line[len("#+title:"):])
			} else {
				current.body = append(current.body, line)
			}

		case strings.HasPrefix(lower, "#+filetags:"):
			current.canAcceptProp = false
			if current == file {
				for _, t := range splitTagString(strings.TrimSpace(line[len("#+filetags:"):])) {
					file.tagSet[t] = true
				}
			} else {
				current.body = append(current.body, line)
			}

		case strings.HasPrefix(lower, "#+begin_src"):
			current.canAcceptProp = false
			modeLang = strings.TrimSpace(line[len("#+begin_src"):])
			mode, blockBuf = modeSrc, nil

		case strings.HasPrefix(lower, "#+begin_") && !strings.HasPrefix(lower, "#+begin_src"):
			current.canAcceptProp = false
			modeKeyword = strings.TrimSpace(line[len("#+begin_"):])
			mode, blockBuf = modeCustom, nil

		default:
			if level, ok := headingLevel(line); ok {
				title, tags := parseHeadingLine(strings.TrimSpace(line[level:]))
				parent := popToLevel(current, level)
				b := newBuilder(level, parent, raw.start)
				b.title = title
				for _, t := range tags {
					b.tagSet[t] = true
				}
				all = append(all, b)
				current = b
			} else {
				current.canAcceptProp = false
				current.body = append(current.body, line)
			}
		}
	}

	if mode == modeSrc || mode == modeCustom {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: unterminated block at EOF", path))
	}
	if mode == modeProps {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: unterminated property drawer at EOF", path))
	}

	seen := map[string]bool{}
	if file.hasID {
		seen[file.id] = true
	}
	for _, b := range all {
		if !b.hasID {
			continue
		}
		if seen[b.id] {
			res.Fatal = fmt.Errorf("%s: duplicate id %q declared twice in the same file", path, b.id)
			return res
		}
		seen[b.id] = true
	}

	if file.hasID {
		res.File = toNode(path, file, nil)
	}
	for _, b := range all {
		if !b.hasID {
			continue
		}
		res.Headings = append(res.Headings, toNode(path, b, b.nearestNodeParent(file)))
	}

	return res
}

func toNode(path string, b *builder, parentID *outline.NodeID) *outline.Node {
	body := strings.Join(b.body, "\n")
	n := &outline.Node{
		ID:       outline.NodeID(b.id),
		Title:    b.title,
		ParentID: parentID,
		File:     path,
		ByteFrom: b.byteStart,
		Tags:     b.sortedTags(),
		Body:     body,
		Source:   b.source,
		Custom:   b.custom,
	}
	n.Latex = outline.FindLatexBlocks(body)
	for _, l := range outline.FindCrossLinks(body) {
		n.Outgoing = append(n.Outgoing, l.Target)
	}
	return n
}

// popToLevel returns the builder that should be the enclosing parent of a
// new heading at the given level: the innermost currently-open heading with
// a lower level, or the file-level builder (level 0) if none is open.
func popToLevel(current *builder, level int) *builder {
	cur := current
	for cur != nil && cur.level >= level {
		cur = cur.parent
	}
	return cur
}

func applyProperty(b *builder, line string, res *Result) {
	if !strings.HasPrefix(line, ":") {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: malformed property line %q", res.Path, line))
		return
	}
	rest := line[1:]
	idx := strings.IndexByte(rest, ':')
	if idx < 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: malformed property line %q", res.Path, line))
		return
	}
	key := rest[:idx]
	value := strings.TrimSpace(rest[idx+1:])
	if strings.EqualFold(key, "ID") {
		if b.hasID {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: multiple ID properties on one node, keeping first", res.Path))
			return
		}
		b.id = value
		b.hasID = true
	}
}

func headingLevel(line string) (int, bool) {
	i := 0
	for i < len(line) && line[i] == '*' {
		i++
	}
	if i == 0 || i >= len(line) || line[i] != ' ' {
		return 0, false
	}
	return i + 1, true // skip the mandatory space too
}

func parseHeadingLine(rest string) (title string, tags []string) {
	rest = strings.TrimSpace(rest)
	if idx := strings.LastIndexByte(rest, ' '); idx >= 0 {
		candidate := rest[idx+1:]
		if looksLikeTagSuffix(candidate) {
			return strings.TrimSpace(rest[:idx]), splitTagString(candidate)
		}
	}
	if looksLikeTagSuffix(rest) {
		return "", splitTagString(rest)
	}
	return rest, nil
}

func looksLikeTagSuffix(s string) bool {
	return len(s) >= 3 && strings.HasPrefix(s, ":") && strings.HasSuffix(s, ":")
}

func splitTagString(s string) []string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, ":")
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ":")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

type lineOffset struct {
	text  string
	start int
}

func splitLinesKeepOffsets(text string, offset *int) []lineOffset {
	var out []lineOffset
	start := 0
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			out = append(out, lineOffset{text: text[start:i], start: start})
			start = i + 1
		}
	}
	if start < len(text) {
		out = append(out, lineOffset{text: text[start:], start: start})
	}
	*offset = len(text)
	return out
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
