package events

import (
	"sync"
	"testing"
	"time"
)

func TestSubscribeReceivesInPublishOrder(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe("s1")
	defer cancel()

	for i := 1; i <= 5; i++ {
		b.Publish("s1", Event{Type: TypeProgress, Percentage: i * 10})
	}

	for i := 1; i <= 5; i++ {
		select {
		case evt := <-ch:
			if evt.Percentage != i*10 {
				t.Fatalf("event %d percentage = %d, want %d", i, evt.Percentage, i*10)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestPublishWithoutSubscribersIsDropped(t *testing.T) {
	b := NewBus()
	b.Publish("s1", Event{Type: TypeProgress, Percentage: 10})

	// A subscriber attaching after the publish must not see the earlier
	// event: the bus has no replay.
	ch, cancel := b.Subscribe("s1")
	defer cancel()

	select {
	case evt := <-ch:
		t.Fatalf("unexpected replayed event: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishIsScopedToSession(t *testing.T) {
	b := NewBus()
	ch1, cancel1 := b.Subscribe("s1")
	defer cancel1()
	ch2, cancel2 := b.Subscribe("s2")
	defer cancel2()

	b.Publish("s1", Event{Type: TypePartial, Content: "{}"})

	select {
	case evt := <-ch1:
		if evt.Type != TypePartial {
			t.Fatalf("s1 event type = %q, want %q", evt.Type, TypePartial)
		}
	case <-time.After(time.Second):
		t.Fatalf("s1 subscriber did not receive event")
	}

	select {
	case evt := <-ch2:
		t.Fatalf("s2 subscriber received foreign event: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeReclaimsChannelEntry(t *testing.T) {
	b := NewBus()
	_, cancel1 := b.Subscribe("s1")
	_, cancel2 := b.Subscribe("s1")

	if got := b.SubscriberCount(); got != 2 {
		t.Fatalf("SubscriberCount() = %d, want 2", got)
	}
	cancel1()
	cancel1() // double cancel must be a no-op
	cancel2()
	if got := b.SubscriberCount(); got != 0 {
		t.Fatalf("SubscriberCount() after unsubscribe = %d, want 0", got)
	}

	b.mu.RLock()
	_, exists := b.subscribers["s1"]
	b.mu.RUnlock()
	if exists {
		t.Fatalf("channel entry for s1 not reclaimed")
	}
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	b := NewBus()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					b.Publish("s1", Event{Type: TypeProgress})
				}
			}
		}()
	}

	for i := 0; i < 50; i++ {
		ch, cancel := b.Subscribe("s1")
		// Drain a little so buffered events don't pile up, then detach.
		select {
		case <-ch:
		default:
		}
		cancel()
	}
	close(stop)
	wg.Wait()

	if got := b.SubscriberCount(); got != 0 {
		t.Fatalf("SubscriberCount() = %d, want 0", got)
	}
}
