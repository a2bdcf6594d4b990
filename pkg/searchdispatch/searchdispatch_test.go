package searchdispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outlinegraph/outlined/pkg/fulltext"
	"github.com/outlinegraph/outlined/pkg/graphstore"
)

func newFixture() *Dispatcher {
	idx := fulltext.New()
	idx.AddOrReplace("n1", "Emacs Org Mode", "notes about org-roam and outlines", []string{"emacs"})

	graph := graphstore.New()
	graph.UpsertNode("n1", "Emacs Org Mode", nil, []string{"emacs"})
	graph.UpsertNode("n2", "Emacs Keybindings", nil, []string{"emacs", "reference"})

	return New(idx, graph, nil)
}

func TestConfig_ListsFixedProviderRegistry(t *testing.T) {
	d := newFixture()
	cfg := d.Config()
	require.Len(t, cfg, 3)
	names := map[string]bool{}
	for _, p := range cfg {
		names[p.Name] = true
	}
	assert.True(t, names["full-text"])
	assert.True(t, names["prefix-title"])
	assert.True(t, names["tag-exact"])
}

func TestDispatch_StreamsHitsTaggedWithRequestID(t *testing.T) {
	d := newFixture()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	out := d.Dispatch(ctx, "caller1", "req1", "Emacs")

	var seen []string
	for resp := range out {
		assert.Equal(t, "req1", resp.RequestID)
		seen = append(seen, string(resp.Result.ID))
	}
	assert.Contains(t, seen, "n1")
	assert.Contains(t, seen, "n2")
}

func TestDispatch_NewQuerySupersedesPriorForSameCaller(t *testing.T) {
	d := newFixture()
	ctx := context.Background()

	first := d.Dispatch(ctx, "caller1", "req1", "Emacs")
	second := d.Dispatch(ctx, "caller1", "req2", "Emacs")

	for range first {
		// first's results (if any arrive before cancellation) are discarded
	}
	var gotSecond bool
	for resp := range second {
		assert.Equal(t, "req2", resp.RequestID)
		gotSecond = true
	}
	assert.True(t, gotSecond)
}

func TestDispatch_TagExactProviderMatchesOnlyExactTag(t *testing.T) {
	d := newFixture()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	out := d.Dispatch(ctx, "caller2", "req3", "reference")
	var fromTagExact []string
	for resp := range out {
		if resp.Result.Provider == ProviderTagExact {
			fromTagExact = append(fromTagExact, string(resp.Result.ID))
		}
	}
	assert.Equal(t, []string{"n2"}, fromTagExact)
}
