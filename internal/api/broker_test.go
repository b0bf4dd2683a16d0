package api

import (
    "testing"
    "time"
)

func TestBrokerPublishSubscribe(t *testing.T) {
    b := NewBroker()
    rid := "r1"
    ch := b.Subscribe(rid)

    evt := SSEEvent{Type: "run.started", Data: map[string]any{"x": 1}}
    b.Publish(rid, evt)
    b.Publish("other", SSEEvent{Type: "run.failed"})

    select {
    case got := <-ch:
        if got.Type != evt.Type { t.Fatalf("got type %s, want %s", got.Type, evt.Type) }
        if got.Data["x"].(int) != 1 { t.Fatalf("bad payload: %+v", got.Data) }
    case <-time.After(200 * time.Millisecond):
        t.Fatal("timeout waiting for event")
    }

    b.Unsubscribe(rid, ch)
    select {
    case _, ok := <-ch:
        if ok { t.Fatal("channel should be closed after unsubscribe") }
    case <-time.After(50 * time.Millisecond):
        t.Fatal("channel not closed")
    }
    // a second unsubscribe must not close twice
    b.Unsubscribe(rid, ch)
}

func TestBrokerDropsWhenSubscriberIsSlow(t *testing.T) {
    b := NewBroker()
    ch := b.Subscribe("r1")
    defer b.Unsubscribe("r1", ch)
    for i := 0; i < 20; i++ {
        b.Publish("r1", SSEEvent{Type: "run.started"})
    }
    if len(ch) != cap(ch) {
        t.Fatalf("expected a full buffer, got %d/%d", len(ch), cap(ch))
    }
}
