package outline

import "strings"

// latexEnvs is the fixed set of environments spec.md §4.1 recognizes as
// LaTeX (as opposed to plain \begin{...}\end{...} markup left untouched).
var latexEnvs = map[string]bool{
	"equation": true, "equation*": true,
	"align": true, "align*": true,
	"alignat": true, "alignat*": true,
	"gather": true, "gather*": true,
	"CD":            true,
	"algorithm":     true,
	"algorithmic":   true,
	"tikzpicture":   true,
	"center":        true,
}

// FindLatexBlocks scans body for `$$...$$`, `\[...\]`, and recognized
// `\begin{env}...\end{env}` occurrences, in document order. It is called by
// both the parser (to populate Node.Latex) and the renderer (to place
// placeholders), which is what makes property R1 (parser/renderer latex
// list agreement) hold by construction rather than by careful bookkeeping
// in two places.
func FindLatexBlocks(body string) []LatexBlock {
	var out []LatexBlock
	i, n := 0, len(body)
	for i < n {
		switch body[i] {
		case '$':
			if i+1 < n && body[i+1] == '$' {
				if end := strings.Index(body[i+2:], "$$"); end >= 0 {
					stop := i + 2 + end + 2
					out = append(out, LatexBlock{Index: len(out), Source: body[i:stop]})
					i = stop
					continue
				}
			}
			i++
		case '\\':
			if i+1 < n && body[i+1] == '[' {
				if end := strings.Index(body[i+2:], "\\]"); end >= 0 {
					stop := i + 2 + end + 2
					out = append(out, LatexBlock{Index: len(out), Source: body[i:stop]})
					i = stop
					continue
				}
				i++
				continue
			}
			if strings.HasPrefix(body[i:], "\\begin{") {
				rest := body[i+len("\\begin{"):]
				if close := strings.IndexByte(rest, '}'); close >= 0 {
					env := rest[:close]
					if latexEnvs[env] {
						marker := "\\end{" + env + "}"
						tail := body[i:]
						if end := strings.Index(tail, marker); end >= 0 {
							stop := i + end + len(marker)
							out = append(out, LatexBlock{Index: len(out), Source: body[i:stop]})
							i = stop
							continue
						}
					}
				}
			}
			i++
		default:
			i++
		}
	}
	return out
}

// FindCrossLinks scans body for `[[id:<target>][<display>]]` and
// `[[id:<target>]]` occurrences, in document order. Shared between the
// parser and the renderer for the same reason as FindLatexBlocks.
func FindCrossLinks(body string) []CrossLink {
	var out []CrossLink
	i, n := 0, len(body)
	for i < n {
		if body[i] == '[' && i+1 < n && body[i+1] == '[' {
			rest := body[i+2:]
			if strings.HasPrefix(rest, "id:") {
				afterID := rest[len("id:"):]
				if closeTarget := strings.IndexByte(afterID, ']'); closeTarget >= 0 {
					target := afterID[:closeTarget]
					pos := i + 2 + len("id:") + closeTarget + 1
					display := ""
					end := pos
					if pos < n && body[pos] == '[' {
						rest2 := body[pos+1:]
						if closeDisplay := strings.IndexByte(rest2, ']'); closeDisplay >= 0 {
							display = rest2[:closeDisplay]
							end = pos + 1 + closeDisplay + 1
						}
					}
					if end < n && body[end] == ']' {
						out = append(out, CrossLink{
							Target:  NodeID(target),
							Display: display,
							Start:   i,
							End:     end + 1,
						})
						i = end + 1
						continue
					}
				}
			}
		}
		i++
	}
	return out
}
