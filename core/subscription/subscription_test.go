package subscription

import (
	"testing"
	"time"

	"starkdevnet/core/ledger"
)

func TestSubscribeReceivesPublishedMessage(t *testing.T) {
	h := NewHub()
	_, ch, unsub := h.Subscribe(TopicNewHeads, nil)
	defer unsub()

	h.Publish(Message{Topic: TopicNewHeads, Finality: ledger.FinalityAcceptedOnL2, Payload: "head-1"})

	select {
	case msg := <-ch:
		if msg.Payload != "head-1" {
			t.Fatalf("expected head-1, got %v", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestSubscribeFiltersByFinality(t *testing.T) {
	h := NewHub()
	_, ch, unsub := h.Subscribe(TopicTransactionStatus, []ledger.Finality{ledger.FinalityAcceptedOnL2})
	defer unsub()

	h.Publish(Message{Topic: TopicTransactionStatus, Finality: ledger.FinalityPreConfirmed, Payload: "pending"})
	h.Publish(Message{Topic: TopicTransactionStatus, Finality: ledger.FinalityAcceptedOnL2, Payload: "accepted"})

	select {
	case msg := <-ch:
		if msg.Payload != "accepted" {
			t.Fatalf("expected only the accepted-on-l2 message to pass the filter, got %v", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for filtered message")
	}

	select {
	case msg, ok := <-ch:
		if ok {
			t.Fatalf("expected no second message, got %v", msg.Payload)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDifferentTopicsAreIsolated(t *testing.T) {
	h := NewHub()
	_, headsCh, unsubHeads := h.Subscribe(TopicNewHeads, nil)
	defer unsubHeads()
	_, eventsCh, unsubEvents := h.Subscribe(TopicEvents, nil)
	defer unsubEvents()

	h.Publish(Message{Topic: TopicEvents, Payload: "event-1"})

	select {
	case msg := <-eventsCh:
		if msg.Payload != "event-1" {
			t.Fatalf("expected event-1, got %v", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for events message")
	}

	select {
	case msg, ok := <-headsCh:
		if ok {
			t.Fatalf("expected newHeads subscriber to receive nothing, got %v", msg.Payload)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeClosesChannelAndIsIdempotent(t *testing.T) {
	h := NewHub()
	id, ch, unsub := h.Subscribe(TopicNewHeads, nil)

	unsub()
	unsub()
	h.Unsubscribe(TopicNewHeads, id)

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after unsubscribe")
	}
}

func TestUnsubscribeOnUnknownIdIsNoop(t *testing.T) {
	h := NewHub()
	h.Unsubscribe(TopicNewHeads, "does-not-exist")
}

func TestSubscriptionIdsAreNotReused(t *testing.T) {
	h := NewHub()
	id1, _, unsub1 := h.Subscribe(TopicNewHeads, nil)
	unsub1()
	id2, _, unsub2 := h.Subscribe(TopicNewHeads, nil)
	defer unsub2()

	if id1 == id2 {
		t.Fatalf("expected distinct subscription ids, got %q twice", id1)
	}
}

func TestSlowSubscriberIsDroppedNotBlocked(t *testing.T) {
	h := NewHub()
	_, ch, unsub := h.Subscribe(TopicEvents, nil)
	defer unsub()

	for i := 0; i < 100; i++ {
		h.Publish(Message{Topic: TopicEvents, Payload: i})
	}

	if len(ch) == 0 {
		t.Fatal("expected the channel buffer to hold at least one delivered message")
	}
}
