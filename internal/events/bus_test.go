package events

import (
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()
	sub := bus.Subscribe(4)
	defer bus.Unsubscribe(sub)

	bus.Publish(Event{Source: SourceLoop, Kind: KindModelCall, Timestamp: time.Now()})

	select {
	case ev := <-sub:
		if ev.Source != SourceLoop || ev.Kind != KindModelCall {
			t.Errorf("got %s/%s, want %s/%s", ev.Source, ev.Kind, SourceLoop, KindModelCall)
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestBus_SlowSubscriberDropsEvents(t *testing.T) {
	bus := New()
	sub := bus.Subscribe(1)
	defer bus.Unsubscribe(sub)

	// Fill the buffer, then publish more. Publish must not block.
	bus.Publish(Event{Kind: "first"})
	bus.Publish(Event{Kind: "dropped"})

	ev := <-sub
	if ev.Kind != "first" {
		t.Errorf("Kind = %q, want %q", ev.Kind, "first")
	}
	select {
	case ev := <-sub:
		t.Errorf("unexpected second event %q", ev.Kind)
	default:
	}
}

func TestBus_NilSafe(t *testing.T) {
	var bus *Bus
	bus.Publish(Event{Kind: "ignored"}) // must not panic
	if n := bus.SubscriberCount(); n != 0 {
		t.Errorf("SubscriberCount = %d, want 0", n)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New()
	sub := bus.Subscribe(1)
	bus.Unsubscribe(sub)

	if _, ok := <-sub; ok {
		t.Error("channel not closed after Unsubscribe")
	}
	if n := bus.SubscriberCount(); n != 0 {
		t.Errorf("SubscriberCount = %d, want 0", n)
	}

	// Double unsubscribe is a no-op.
	bus.Unsubscribe(sub)
}
