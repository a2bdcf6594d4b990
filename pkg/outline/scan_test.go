package outline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFindLatexBlocks(t *testing.T) {
	cases := []struct {
		name string
		body string
		want []string // expected Source of each block, in order
	}{
		{"none", "just plain text", nil},
		{"dollar block", "before $$x^2$$ after", []string{"$$x^2$$"}},
		{"bracket block", `before \[x^2\] after`, []string{`\[x^2\]`}},
		{
			"recognized environment",
			"before \\begin{align}x&=y\\end{align} after",
			[]string{"\\begin{align}x&=y\\end{align}"},
		},
		{
			"unrecognized environment left alone",
			"\\begin{itemize}\\item a\\end{itemize}",
			nil,
		},
		{
			"multiple blocks in document order",
			"$$a$$ text \\[b\\] more \\begin{equation}c\\end{equation}",
			[]string{"$$a$$", `\[b\]`, "\\begin{equation}c\\end{equation}"},
		},
		{"unterminated dollar block is not a match", "$$never closed", nil},
		{"single dollar is not a block", "$5 and $10", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			blocks := FindLatexBlocks(tc.body)
			var got []string
			for _, b := range blocks {
				got = append(got, b.Source)
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFindLatexBlocks_IndexIsSequentialInDocumentOrder(t *testing.T) {
	blocks := FindLatexBlocks("$$a$$ and \\[b\\]")
	require := assert.New(t)
	require.Len(blocks, 2)
	require.Equal(0, blocks[0].Index)
	require.Equal(1, blocks[1].Index)
}

func TestFindCrossLinks(t *testing.T) {
	cases := []struct {
		name string
		body string
		want []CrossLink
	}{
		{"none", "no links here", nil},
		{
			"with display text",
			"see [[id:node-1][Node One]] for detail",
			[]CrossLink{{Target: "node-1", Display: "Node One", Start: 4, End: 27}},
		},
		{
			"without display text",
			"see [[id:node-1]] for detail",
			[]CrossLink{{Target: "node-1", Display: "", Start: 4, End: 17}},
		},
		{
			"multiple links",
			"[[id:a]] then [[id:b][B]]",
			[]CrossLink{
				{Target: "a", Display: "", Start: 0, End: 8},
				{Target: "b", Display: "B", Start: 14, End: 25},
			},
		},
		{"non-id double bracket is ignored", "[[https://example.com][site]]", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := FindCrossLinks(tc.body)
			assert.Equal(t, tc.want, got)
		})
	}
}
