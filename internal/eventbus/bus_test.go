package eventbus

import (
	"testing"
	"time"
)

func TestPublishFansOut(t *testing.T) {
	t.Parallel()

	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(1)
	defer unsubA()
	defer unsubC()

	Publish(b, QuestReady, int64(7))

	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Type != QuestReady || e.Data.(int64) != 7 || e.Time.IsZero() {
				t.Fatalf("event=%+v", e)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber missed event")
		}
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	t.Parallel()

	b := New()
	_, unsub := b.Subscribe(1)

	Publish(b, QuestReset, nil)
	Publish(b, QuestReset, nil)
	if got := Dropped(b); got != 1 {
		t.Fatalf("dropped=%d want 1", got)
	}

	unsub()
	unsub()
	Publish(b, QuestReset, nil)
	Publish(nil, QuestReset, nil)
}
