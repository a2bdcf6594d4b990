package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outlinegraph/outlined/pkg/facade"
	"github.com/outlinegraph/outlined/pkg/outline"
)

func TestPublish_DeliversToAllSubscribers(t *testing.T) {
	b := New(nil, 0, nil)
	sub1 := b.Subscribe(4)
	sub2 := b.Subscribe(4)

	b.Publish(facade.NodeVisited{Type: facade.MessageNodeVisited, NodeID: "n1"})

	for _, ch := range []<-chan any{sub1.Messages, sub2.Messages} {
		select {
		case msg := <-ch:
			nv, ok := msg.(facade.NodeVisited)
			require.True(t, ok)
			assert.Equal(t, outline.NodeID("n1"), nv.NodeID)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for message")
		}
	}
}

func TestPublish_AdjacentGraphUpdatesCoalesceBeforeDelivery(t *testing.T) {
	b := New(nil, 0, nil)
	sub := b.Subscribe(4)

	// Block the pump's delivery by not reading yet; publish two updates
	// back to back so they coalesce inside the queue before the reader
	// ever drains the channel.
	b.Publish(facade.GraphUpdate{
		NewNodes: []outline.NodeRecord{{ID: "a", Title: "A"}},
	})
	b.Publish(facade.GraphUpdate{
		NewNodes:     []outline.NodeRecord{{ID: "b", Title: "B"}},
		RemovedNodes: []outline.NodeID{"z"},
	})

	select {
	case msg := <-sub.Messages:
		gu, ok := msg.(facade.GraphUpdate)
		require.True(t, ok)
		ids := []outline.NodeID{}
		for _, n := range gu.NewNodes {
			ids = append(ids, n.ID)
		}
		assert.ElementsMatch(t, []outline.NodeID{"a", "b"}, ids)
		assert.Equal(t, []outline.NodeID{"z"}, gu.RemovedNodes)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for coalesced update")
	}

	select {
	case _, ok := <-sub.Messages:
		t.Fatalf("expected no second message, got ok=%v", ok)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublish_StatusUpdatesCoalesceUnderBackpressure(t *testing.T) {
	b := New(nil, 0, nil)
	sub := b.Subscribe(1) // inbox of size 1, and nothing reads from it

	// First status fills the delivery channel's single buffered slot via
	// the pump; subsequent ones queue internally and should coalesce down
	// to the latest rather than growing unbounded or blocking Publish.
	for i := 0; i < 5; i++ {
		b.Publish(facade.StatusUpdate{Type: facade.MessageStatusUpdate, PendingChanges: true})
	}

	select {
	case msg := <-sub.Messages:
		su, ok := msg.(facade.StatusUpdate)
		require.True(t, ok)
		assert.True(t, su.PendingChanges)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for status update")
	}
}

func TestPublish_GraphUpdateNeverSilentlyDroppedUnderBackpressure(t *testing.T) {
	b := New(nil, 0, nil)
	sub := b.Subscribe(1)

	// Saturate with a status update first (coalescable, expendable), then
	// fire a graph update: it must survive even though the inbox is full,
	// by coalescing into the queue rather than being discarded.
	b.Publish(facade.StatusUpdate{Type: facade.MessageStatusUpdate, PendingChanges: true})
	b.Publish(facade.GraphUpdate{NewNodes: []outline.NodeRecord{{ID: "a"}}})
	b.Publish(facade.GraphUpdate{NewNodes: []outline.NodeRecord{{ID: "b"}}})

	var sawGraphUpdate bool
	deadline := time.After(2 * time.Second)
	for !sawGraphUpdate {
		select {
		case msg := <-sub.Messages:
			if gu, ok := msg.(facade.GraphUpdate); ok {
				ids := []outline.NodeID{}
				for _, n := range gu.NewNodes {
					ids = append(ids, n.ID)
				}
				assert.ElementsMatch(t, []outline.NodeID{"a", "b"}, ids)
				sawGraphUpdate = true
			}
		case <-deadline:
			t.Fatal("graph update was dropped")
		}
	}
}

func TestSubscribe_CloseStopsDelivery(t *testing.T) {
	b := New(nil, 0, nil)
	sub := b.Subscribe(4)
	sub.Close()

	b.Publish(facade.Ping{Type: facade.MessagePing})

	_, ok := <-sub.Messages
	assert.False(t, ok)
}

func TestEnqueue_SlowSubscriberDroppedAfterGracePeriod(t *testing.T) {
	b := New(nil, 20*time.Millisecond, nil)
	sub := b.Subscribe(1)

	// Fill the one delivery slot, then keep sending non-coalescable
	// messages (node_visited) that can't be evicted to make room; after
	// the grace period the subscriber should be dropped.
	b.Publish(facade.NodeVisited{Type: facade.MessageNodeVisited, NodeID: "x"})
	for i := 0; i < 20; i++ {
		b.Publish(facade.NodeVisited{Type: facade.MessageNodeVisited, NodeID: "y"})
		time.Sleep(5 * time.Millisecond)
	}

	b.mu.Lock()
	_, stillTracked := b.subs[sub.ID]
	b.mu.Unlock()
	assert.False(t, stillTracked, "slow subscriber should have been dropped")
}
