// Copyright 2025 Certen Protocol

package notify

import "testing"

func TestPublishInRegistrationOrder(t *testing.T) {
	b := New()
	var order []int
	b.Subscribe(KeyEventAdded, func(Event) { order = append(order, 1) })
	b.Subscribe(KeyEventAdded, func(Event) { order = append(order, 2) })
	b.Publish(Event{Tag: KeyEventAdded, Prefix: "p", SN: 1})
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected handlers invoked in registration order, got %v", order)
	}
}

func TestPublishOnlyInvokesMatchingTag(t *testing.T) {
	b := New()
	called := false
	b.Subscribe(OutOfOrder, func(Event) { called = true })
	b.Publish(Event{Tag: PartiallySigned})
	if called {
		t.Fatal("handler for OutOfOrder should not fire for PartiallySigned")
	}
}

func TestReentrantSubscribeDuringPublish(t *testing.T) {
	b := New()
	var secondCalled bool
	b.Subscribe(DuplicitousEvent, func(Event) {
		b.Subscribe(DuplicitousEvent, func(Event) { secondCalled = true })
	})
	b.Publish(Event{Tag: DuplicitousEvent})
	if secondCalled {
		t.Fatal("handler registered during a publish should not be invoked by that same publish")
	}
	b.Publish(Event{Tag: DuplicitousEvent})
	if !secondCalled {
		t.Fatal("handler registered during the first publish should fire on the next publish")
	}
}
