// Package searchdispatch is the multi-provider query router (spec §4.7):
// a fixed registry of providers, broadcast to all of them on every query,
// streaming each hit to the caller as it arrives. Fan-out and per-caller
// cancellation are built on golang.org/x/sync/errgroup, the same
// concurrency primitive the pack's distributed search/analytics repo
// uses for provider fan-out, rather than a hand-rolled WaitGroup.
package searchdispatch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/outlinegraph/outlined/internal/telemetry"
	"github.com/outlinegraph/outlined/pkg/facade"
	"github.com/outlinegraph/outlined/pkg/fulltext"
	"github.com/outlinegraph/outlined/pkg/graphstore"
)

// Provider ids for the baseline registry (spec §4.7).
const (
	ProviderFullText    = 0
	ProviderPrefixTitle = 1
	ProviderTagExact    = 2
)

// searchFunc emits hits for query onto out, honoring ctx cancellation. It
// must not close out — Dispatcher owns the channel lifecycle.
type searchFunc func(ctx context.Context, query string, out chan<- facade.ResultEntry)

type provider struct {
	id     int
	name   string
	search searchFunc
}

// Dispatcher fans a query out to every registered provider and streams
// results back, cancelling a caller's prior in-flight query whenever a new
// one for the same caller arrives.
type Dispatcher struct {
	providers []provider

	mu       sync.Mutex
	inFlight map[string]*callSlot // caller id -> current call's cancel slot

	metrics *telemetry.Metrics
}

// callSlot identifies one Dispatch call's cancellation by pointer identity
// — context.CancelFunc values aren't comparable, so a wrapper struct lets
// the finalizer tell "am I still the current call for this caller" apart
// from "a newer call already replaced me".
type callSlot struct {
	cancel context.CancelFunc
}

// New builds a Dispatcher with the baseline provider registry: full-text
// over idx, prefix-title and tag-exact over graph. metrics may be nil, in
// which case no instrumentation is recorded.
func New(idx *fulltext.Index, graph *graphstore.Store, metrics *telemetry.Metrics) *Dispatcher {
	d := &Dispatcher{inFlight: map[string]*callSlot{}, metrics: metrics}
	d.providers = []provider{
		{
			id: ProviderFullText, name: "full-text",
			search: func(ctx context.Context, query string, out chan<- facade.ResultEntry) {
				for _, hit := range idx.Search(query, 50) {
					tags, _ := graph.NodeTags(hit.ID)
					rec, ok := graph.NodeRecord(hit.ID)
					title := ""
					if ok {
						title = rec.Title
					}
					emit(ctx, out, facade.ResultEntry{Provider: ProviderFullText, ID: hit.ID, Title: title, Tags: tags})
				}
			},
		},
		{
			id: ProviderPrefixTitle, name: "prefix-title",
			search: func(ctx context.Context, query string, out chan<- facade.ResultEntry) {
				for _, id := range graph.TitlePrefix(query) {
					rec, ok := graph.NodeRecord(id)
					if !ok {
						continue
					}
					tags, _ := graph.NodeTags(id)
					emit(ctx, out, facade.ResultEntry{Provider: ProviderPrefixTitle, ID: id, Title: rec.Title, Tags: tags})
				}
			},
		},
		{
			id: ProviderTagExact, name: "tag-exact",
			search: func(ctx context.Context, query string, out chan<- facade.ResultEntry) {
				for _, id := range graph.ByTag(query) {
					rec, ok := graph.NodeRecord(id)
					if !ok {
						continue
					}
					tags, _ := graph.NodeTags(id)
					emit(ctx, out, facade.ResultEntry{Provider: ProviderTagExact, ID: id, Title: rec.Title, Tags: tags})
				}
			},
		},
	}
	return d
}

func emit(ctx context.Context, out chan<- facade.ResultEntry, entry facade.ResultEntry) {
	select {
	case out <- entry:
	case <-ctx.Done():
	}
}

// Config returns the fixed provider registry, for SearchConfigurationResponse.
func (d *Dispatcher) Config() []facade.ProviderDescriptor {
	out := make([]facade.ProviderDescriptor, len(d.providers))
	for i, p := range d.providers {
		out[i] = facade.ProviderDescriptor{ProviderID: p.id, Name: p.name}
	}
	return out
}

// Dispatch broadcasts query to every provider under callerID/requestID. A
// new Dispatch call for the same callerID cancels any still-running
// Dispatch for that caller (spec §4.7 step 4). The returned channel is
// closed once every provider has finished or been cancelled.
func (d *Dispatcher) Dispatch(ctx context.Context, callerID, requestID, query string) <-chan facade.SearchResponse {
	d.mu.Lock()
	if prior, ok := d.inFlight[callerID]; ok {
		prior.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	slot := &callSlot{cancel: cancel}
	d.inFlight[callerID] = slot
	d.mu.Unlock()

	out := make(chan facade.SearchResponse)
	hits := make(chan facade.ResultEntry)

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range d.providers {
		p := p
		g.Go(func() error {
			start := time.Now()
			p.search(gctx, query, hits)
			if d.metrics != nil {
				d.metrics.SearchLatency.WithLabelValues(p.name).Observe(time.Since(start).Seconds())
			}
			return nil
		})
	}

	providerName := make(map[int]string, len(d.providers))
	for _, p := range d.providers {
		providerName[p.id] = p.name
	}
	resultCounts := map[int]int{}

	go func() {
		g.Wait()
		close(hits)
	}()

	go func() {
		defer close(out)
		defer func() {
			d.mu.Lock()
			// Only clear the registry slot if it still points at this call's
			// slot — a newer Dispatch for the same caller may have already
			// replaced it and is still running.
			if current, ok := d.inFlight[callerID]; ok && current == slot {
				delete(d.inFlight, callerID)
			}
			d.mu.Unlock()
			cancel()
			if d.metrics != nil {
				for id, count := range resultCounts {
					d.metrics.SearchResultsCount.WithLabelValues(providerName[id]).Observe(float64(count))
				}
			}
		}()
		for {
			select {
			case hit, ok := <-hits:
				if !ok {
					return
				}
				resultCounts[hit.Provider]++
				select {
				case out <- facade.SearchResponse{Type: facade.MessageSearchResult, RequestID: requestID, Result: hit}:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
