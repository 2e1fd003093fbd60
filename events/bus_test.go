package events

import "testing"

func TestSubscribeReceivesPublishedEvent(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe()
	defer sub.Close()

	b.Publish(ValueChanged{Key: []byte("k"), Local: true})

	select {
	case ev := <-sub.Chan:
		vc, ok := ev.(ValueChanged)
		if !ok {
			t.Fatalf("got %T, want ValueChanged", ev)
		}
		if string(vc.Key) != "k" || !vc.Local {
			t.Errorf("got %+v", vc)
		}
	default:
		t.Fatalf("no event delivered to subscriber")
	}
}

func TestPublishWithNoSubscribersDoesNotBlock(t *testing.T) {
	b := NewBus()
	b.Publish(Clear{})
}

func TestCloseStopsDelivery(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe()
	sub.Close()
	b.Publish(StartFlush{})
	if b.Len() != 0 {
		t.Errorf("Len() = %d after Close, want 0", b.Len())
	}
}

func TestSlowSubscriberDropsOldestRatherThanBlocking(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe()
	defer sub.Close()

	for i := 0; i < bufferSize+10; i++ {
		b.Publish(Flush{IsLeader: i%2 == 0})
	}
	// Publish must never block regardless of how far behind the
	// subscriber has fallen; reaching this point is the assertion.
}
