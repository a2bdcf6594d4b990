// Package eventbus is the topic-less broadcast bus described in spec
// §4.9: every subscriber gets a bounded inbox; status/ping messages
// coalesce and are dropped first under backpressure; graph_update
// messages are never silently dropped but merge with an adjacent pending
// one; a subscriber whose inbox stays full past a grace period is
// unsubscribed and logged as slow. It is implemented as
// goroutine-per-subscriber over a buffered delivery channel, with an
// internal mutex-guarded queue feeding that channel so coalescing can
// inspect and rewrite queued-but-undelivered messages — something a bare
// buffered channel cannot do.
package eventbus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/outlinegraph/outlined/internal/telemetry"
	"github.com/outlinegraph/outlined/pkg/facade"
	"github.com/outlinegraph/outlined/pkg/outline"
)

const defaultGrace = 5 * time.Second

// Bus fans out published messages to every current subscriber.
type Bus struct {
	mu      sync.Mutex
	subs    map[string]*subscriber
	nextID  int
	grace   time.Duration
	log     *slog.Logger
	metrics *telemetry.Metrics
}

// New returns an empty Bus. A zero grace defaults to 5s. metrics may be
// nil, in which case no instrumentation is recorded.
func New(log *slog.Logger, grace time.Duration, metrics *telemetry.Metrics) *Bus {
	if grace <= 0 {
		grace = defaultGrace
	}
	if log == nil {
		log = slog.Default()
	}
	return &Bus{subs: map[string]*subscriber{}, grace: grace, log: log, metrics: metrics}
}

// Subscription is a live subscriber's handle.
type Subscription struct {
	ID       string
	Messages <-chan any
	Close    func()
}

// Subscribe registers a new subscriber with a bounded inbox of capacity
// slots (a slot holds one undelivered, uncoalesced message).
func (b *Bus) Subscribe(capacity int) Subscription {
	if capacity <= 0 {
		capacity = 32
	}
	b.mu.Lock()
	b.nextID++
	id := "sub-" + itoa(b.nextID)
	sub := newSubscriber(id, capacity)
	b.subs[id] = sub
	b.mu.Unlock()
	if b.metrics != nil {
		b.metrics.EventBusSubscribers.Inc()
	}

	go sub.pump()

	return Subscription{
		ID:       id,
		Messages: sub.out,
		Close: func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			if b.metrics != nil {
				b.metrics.EventBusSubscribers.Dec()
			}
			sub.stop()
		},
	}
}

// Publish delivers msg to every current subscriber, applying each one's
// coalescing/backpressure policy independently.
func (b *Bus) Publish(msg any) {
	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		if dropped := s.enqueue(msg, b.grace); dropped {
			b.mu.Lock()
			delete(b.subs, s.id)
			b.mu.Unlock()
			b.log.Warn("eventbus: dropping slow subscriber", "subscriber", s.id)
			if b.metrics != nil {
				b.metrics.EventBusSubscribers.Dec()
				b.metrics.EventBusDroppedTotal.Inc()
			}
			s.stop()
		}
	}
}

// PublishGraphUpdate is a typed convenience wrapper.
func (b *Bus) PublishGraphUpdate(u facade.GraphUpdate) {
	u.Type = facade.MessageGraphUpdate
	b.Publish(u)
}

// PublishPing emits the 15s liveness message; call from a ticker loop
// owned by the caller (commonly cmd/outlined's main).
func (b *Bus) PublishPing() {
	b.Publish(facade.Ping{Type: facade.MessagePing})
}

type subscriber struct {
	id       string
	capacity int
	out      chan any

	mu        sync.Mutex
	cond      *sync.Cond
	queue     []any
	slowSince time.Time
	stopped   bool
}

func newSubscriber(id string, capacity int) *subscriber {
	s := &subscriber{id: id, capacity: capacity, out: make(chan any, capacity)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// pump drains the internal queue into the delivery channel, blocking on
// a full delivery channel exactly like any buffered-channel consumer.
func (s *subscriber) pump() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.stopped {
			s.cond.Wait()
		}
		if s.stopped && len(s.queue) == 0 {
			s.mu.Unlock()
			close(s.out)
			return
		}
		msg := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		s.out <- msg
	}
}

func (s *subscriber) stop() {
	s.mu.Lock()
	s.stopped = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

// isCoalescable reports whether msg may be silently dropped/merged to make
// room under backpressure (status updates and liveness pings).
func isCoalescable(msg any) bool {
	switch msg.(type) {
	case facade.StatusUpdate, facade.Ping:
		return true
	default:
		return false
	}
}

// enqueue applies the subscriber's backpressure policy and returns true if
// the subscriber should now be dropped (grace period exceeded).
func (s *subscriber) enqueue(msg any, grace time.Duration) (shouldDrop bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}

	if gu, ok := msg.(facade.GraphUpdate); ok {
		for i := len(s.queue) - 1; i >= 0; i-- {
			if prev, ok := s.queue[i].(facade.GraphUpdate); ok {
				s.queue[i] = mergeGraphUpdates(prev, gu)
				s.cond.Signal()
				return false
			}
			break // only coalesce with an immediately-adjacent graph_update
		}
		s.queue = append(s.queue, gu)
		s.slowSince = time.Time{}
		s.cond.Signal()
		return false
	}

	if len(s.queue) < s.capacity {
		s.queue = append(s.queue, msg)
		s.slowSince = time.Time{}
		s.cond.Signal()
		return false
	}

	// Inbox full. Coalescable messages may be dropped outright to make
	// room for themselves or simply discarded when they can't help.
	for i, m := range s.queue {
		if isCoalescable(m) {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			break
		}
	}
	if len(s.queue) < s.capacity {
		// Eviction freed a slot: queue msg regardless of its own
		// coalescability — graph_update already returned above, so this
		// is a status/ping/node_visited/search_response case.
		s.queue = append(s.queue, msg)
		s.slowSince = time.Time{}
		s.cond.Signal()
		return false
	}

	// Still full and nothing coalescable to evict: the subscriber isn't
	// draining. msg is dropped whatever its type, and the grace-period
	// clock is started or checked.
	if s.slowSince.IsZero() {
		s.slowSince = time.Now()
		return false
	}
	if time.Since(s.slowSince) > grace {
		s.stopped = true
		s.cond.Broadcast()
		return true
	}
	return false
}

// mergeGraphUpdates merges b into a by set union on node ids / links,
// keeping the newest NodeRecord per id — new_links/removed_links/
// removed_nodes accumulate in commit order.
func mergeGraphUpdates(a, b facade.GraphUpdate) facade.GraphUpdate {
	merged := facade.GraphUpdate{Type: facade.MessageGraphUpdate}
	merged.NewNodes = unionNodeRecords(a.NewNodes, b.NewNodes)
	merged.UpdatedNodes = unionNodeRecords(a.UpdatedNodes, b.UpdatedNodes)
	merged.NewLinks = unionLinks(a.NewLinks, b.NewLinks)
	merged.RemovedNodes = unionNodeIDs(a.RemovedNodes, b.RemovedNodes)
	merged.RemovedLinks = unionLinks(a.RemovedLinks, b.RemovedLinks)
	return merged
}

func unionNodeRecords(a, b []outline.NodeRecord) []outline.NodeRecord {
	byID := map[outline.NodeID]outline.NodeRecord{}
	var order []outline.NodeID
	for _, r := range a {
		if _, ok := byID[r.ID]; !ok {
			order = append(order, r.ID)
		}
		byID[r.ID] = r
	}
	for _, r := range b {
		if _, ok := byID[r.ID]; !ok {
			order = append(order, r.ID)
		}
		byID[r.ID] = r // newest wins
	}
	out := make([]outline.NodeRecord, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}

func unionLinks(a, b []outline.Link) []outline.Link {
	seen := map[outline.Link]bool{}
	var out []outline.Link
	for _, l := range a {
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	for _, l := range b {
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	return out
}

func unionNodeIDs(a, b []outline.NodeID) []outline.NodeID {
	seen := map[outline.NodeID]bool{}
	var out []outline.NodeID
	for _, id := range a {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range b {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
