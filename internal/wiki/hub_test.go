package wiki_test

import (
	"testing"

	"wikid/internal/testutil"
	"wikid/internal/wiki"
)

func newHub() *wiki.Hub {
	return wiki.NewHub(testutil.NewStubIDGenerator(), wiki.NewNopLogger())
}

func TestHub(t *testing.T) {
	t.Run("publish reaches every subscriber of the recipe", func(t *testing.T) {
		hub := newHub()
		_, a := hub.Subscribe("r1")
		_, b := hub.Subscribe("r1")
		_, other := hub.Subscribe("r2")

		hub.Publish("r1", wiki.Event{Title: "T", RevisionID: 7})

		for _, ch := range []<-chan wiki.Event{a, b} {
			select {
			case ev := <-ch:
				if ev.Title != "T" || ev.RevisionID != 7 {
					t.Errorf("event = %+v", ev)
				}
			default:
				t.Error("subscriber missed the event")
			}
		}
		select {
		case ev := <-other:
			t.Errorf("unrelated recipe received %+v", ev)
		default:
		}
	})

	t.Run("unsubscribe closes the queue", func(t *testing.T) {
		hub := newHub()
		id, ch := hub.Subscribe("r1")
		hub.Unsubscribe("r1", id)

		if _, ok := <-ch; ok {
			t.Error("queue not closed after unsubscribe")
		}
		// Idempotent.
		hub.Unsubscribe("r1", id)
		if hub.SubscriberCount() != 0 {
			t.Errorf("count = %d, want 0", hub.SubscriberCount())
		}
	})

	t.Run("a slow subscriber is dropped, not blocked on", func(t *testing.T) {
		hub := newHub()
		_, slow := hub.Subscribe("r1")

		// Overflow the queue without draining; the publish that finds it
		// full evicts the subscriber.
		for i := 0; i < 65; i++ {
			hub.Publish("r1", wiki.Event{Title: "T", RevisionID: int64(i + 1)})
		}

		if hub.SubscriberCount() != 0 {
			t.Fatalf("count = %d, want 0 after eviction", hub.SubscriberCount())
		}

		// The evicted queue drains its buffered events, then reports closed.
		n := 0
		for range slow {
			n++
		}
		if n != 64 {
			t.Errorf("drained %d buffered events, want 64", n)
		}
	})

	t.Run("a draining subscriber stays subscribed", func(t *testing.T) {
		hub := newHub()
		_, ch := hub.Subscribe("r1")

		for i := 0; i < 200; i++ {
			hub.Publish("r1", wiki.Event{Title: "T", RevisionID: int64(i + 1)})
			<-ch
		}
		if hub.SubscriberCount() != 1 {
			t.Errorf("count = %d, want 1", hub.SubscriberCount())
		}
	})
}
