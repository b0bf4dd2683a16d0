package api

import (
    "sync"
)

type SSEEvent struct {
    Type string         `json:"type"`
    Data map[string]any `json:"data"`
}

// Broker fans run events out to in-process subscribers.
type Broker struct {
    mu      sync.Mutex
    subs    map[string]map[chan SSEEvent]struct{} // runId -> set of channels
}

func NewBroker() *Broker {
    return &Broker{subs: map[string]map[chan SSEEvent]struct{}{}}
}

func (b *Broker) Subscribe(runID string) chan SSEEvent {
    ch := make(chan SSEEvent, 8)
    b.mu.Lock()
    if b.subs[runID] == nil { b.subs[runID] = map[chan SSEEvent]struct{}{} }
    b.subs[runID][ch] = struct{}{}
    b.mu.Unlock()
    return ch
}

func (b *Broker) Unsubscribe(runID string, ch chan SSEEvent) {
    b.mu.Lock()
    if m := b.subs[runID]; m != nil {
        if _, ok := m[ch]; ok {
            delete(m, ch)
            close(ch)
        }
        if len(m) == 0 { delete(b.subs, runID) }
    }
    b.mu.Unlock()
}

func (b *Broker) Publish(runID string, evt SSEEvent) {
    b.mu.Lock()
    m := b.subs[runID]
    for ch := range m {
        select { case ch <- evt: default: }
    }
    b.mu.Unlock()
}
