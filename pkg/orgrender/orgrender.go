// Package orgrender turns a parsed node into an HTML fragment. It holds no
// config state of its own: callers pass in the advice-rule table loaded by
// internal/config, so the renderer stays a pure function of (node, rules)
// — the Go equivalent of the reference implementation's
// HtmlExportSettings/EnvAdvice being threaded through its exporter rather
// than held globally.
package orgrender

import (
	"html"
	"sort"
	"strings"

	"github.com/outlinegraph/outlined/internal/config"
	"github.com/outlinegraph/outlined/pkg/outline"
)

// Rendered is the renderer's output for one node: the HTML fragment plus
// the link and LaTeX-block lists extracted from the SAME scan the
// fragment's placeholders were built from (property R1).
type Rendered struct {
	HTML         string
	OutgoingLinks []outline.CrossLink
	LatexBlocks   []outline.LatexBlock
}

// adviceTable indexes config advice rules by custom-block keyword for O(1)
// lookup per block.
type adviceTable map[string]config.AdviceRule

func buildAdviceTable(rules []config.AdviceRule) adviceTable {
	t := make(adviceTable, len(rules))
	for _, r := range rules {
		t[r.On] = r
	}
	return t
}

// RenderNode renders a single node's body to an HTML fragment, using rules
// for any custom `#+begin_<kw>` blocks it contains.
func RenderNode(n *outline.Node, rules []config.AdviceRule) Rendered {
	table := buildAdviceTable(rules)

	links := outline.FindCrossLinks(n.Body)
	latex := outline.FindLatexBlocks(n.Body)

	var b strings.Builder
	b.WriteString(`<article class="outline-node" data-id="`)
	b.WriteString(html.EscapeString(string(n.ID)))
	b.WriteString(`">`)
	if n.Title != "" {
		b.WriteString(`<h1 class="outline-title">`)
		b.WriteString(html.EscapeString(n.Title))
		b.WriteString(`</h1>`)
	}
	if len(n.Tags) > 0 {
		b.WriteString(`<div class="outline-tags">`)
		tags := append([]string(nil), n.Tags...)
		sort.Strings(tags)
		for _, t := range tags {
			b.WriteString(`<span class="tag">`)
			b.WriteString(html.EscapeString(t))
			b.WriteString(`</span>`)
		}
		b.WriteString(`</div>`)
	}

	b.WriteString(`<div class="outline-body">`)
	renderBody(&b, n.Body, links, latex, n.Source, n.Custom, table)
	b.WriteString(`</div></article>`)

	return Rendered{HTML: b.String(), OutgoingLinks: links, LatexBlocks: latex}
}

// renderBody walks Body once, substituting cross-links with anchor tags,
// LaTeX spans with rasterizer placeholders, and leaving everything else
// HTML-escaped. Source/custom blocks, which scan.go does not locate inline
// (they were already sliced out by the parser), are appended verbatim
// after the prose — matching how the reference exporter treats literal
// blocks as trailing siblings rather than inline spans.
func renderBody(b *strings.Builder, body string, links []outline.CrossLink, latex []outline.LatexBlock, sources []outline.SourceBlock, customs []outline.CustomBlock, table adviceTable) {
	type span struct {
		start, end int
		html       string
	}
	var spans []span
	for _, l := range links {
		display := l.Display
		if display == "" {
			display = string(l.Target)
		}
		spans = append(spans, span{
			start: l.Start, end: l.End,
			html: `<a class="outline-link" href="#` + html.EscapeString(string(l.Target)) + `">` + html.EscapeString(display) + `</a>`,
		})
	}
	from := 0
	for _, lb := range latex {
		start := strings.Index(body[from:], lb.Source)
		if start < 0 {
			continue
		}
		start += from
		from = start + len(lb.Source)
		spans = append(spans, span{
			start: start, end: start + len(lb.Source),
			html: `<span class="outline-latex" data-latex-index="` + itoa(lb.Index) + `"></span>`,
		})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	pos := 0
	for _, s := range spans {
		if s.start < pos {
			continue // overlapping span, keep the earlier one
		}
		b.WriteString(html.EscapeString(body[pos:s.start]))
		b.WriteString(s.html)
		pos = s.end
	}
	b.WriteString(html.EscapeString(body[pos:]))

	for _, src := range sources {
		b.WriteString(`<pre class="outline-src" data-lang="`)
		b.WriteString(html.EscapeString(src.Language))
		b.WriteString(`"><code>`)
		b.WriteString(html.EscapeString(src.Content))
		b.WriteString(`</code></pre>`)
	}

	for _, blk := range customs {
		b.WriteString(renderCustomBlock(blk, table))
	}
}

// RenderCustomBlock wraps a custom block's content per its advice rule,
// falling back to a plain <div> when no rule matches the keyword.
func RenderCustomBlock(blk outline.CustomBlock, rules []config.AdviceRule) string {
	return renderCustomBlock(blk, buildAdviceTable(rules))
}

func renderCustomBlock(blk outline.CustomBlock, table adviceTable) string {
	rule, ok := table[blk.Keyword]
	var b strings.Builder
	if ok && rule.Header != "" {
		b.WriteString(rule.Header)
	}
	style := ""
	if ok {
		style = rule.CSS
	}
	b.WriteString(`<div class="outline-advice outline-advice-`)
	b.WriteString(html.EscapeString(blk.Keyword))
	b.WriteString(`"`)
	if style != "" {
		b.WriteString(` style="`)
		b.WriteString(html.EscapeString(style))
		b.WriteString(`"`)
	}
	b.WriteString(`>`)
	if ok && rule.TextText != "" {
		b.WriteString(`<span style="`)
		b.WriteString(html.EscapeString(rule.TextText))
		b.WriteString(`">`)
		b.WriteString(html.EscapeString(blk.Content))
		b.WriteString(`</span>`)
	} else {
		b.WriteString(html.EscapeString(blk.Content))
	}
	b.WriteString(`</div>`)
	return b.String()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
