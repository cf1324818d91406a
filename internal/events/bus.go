// Package events is the publish/subscribe bus behind the admin live
// feed. Tool calls, webhook traffic and health transitions are published
// here and fanned out to WebSocket subscribers. Publish on a nil *Bus is
// a no-op, so components do not need guard checks.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Sources identify which component published an event.
const (
	SourceTools   = "tools"
	SourceWebhook = "webhook"
	SourceAdmin   = "admin"
	SourceHealth  = "health"
)

// Kinds describe the event within its source.
const (
	// KindToolDone is published after every tool call.
	// Data: tool, type (push, broadcast or other), ok, message,
	// duration_ms, tokens_in, tokens_out.
	KindToolDone = "tool_done"

	// KindMessageReceived is an inbound LINE text event.
	// Data: user_id, knowledge_source, message_len.
	KindMessageReceived = "message_received"
	// KindRateLimited is an inbound event dropped by the per-user limiter.
	// Data: user_id.
	KindRateLimited = "rate_limited"
	// KindPreference is a change to a user's conversation state.
	// Data: user_id, knowledge_source, last_table.
	KindPreference = "preference"

	// KindStyleSaved follows a style preset update from the admin UI.
	KindStyleSaved = "style_saved"
	// KindFileSaved follows a knowledge file save. Data: path, bytes.
	KindFileSaved = "file_saved"

	// KindServiceUp and KindServiceDown are watcher transitions.
	// Data: service, error.
	KindServiceUp   = "service_up"
	KindServiceDown = "service_down"
)

// Event is one published occurrence.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Emit publishes an event stamped with the current time.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	b.Publish(Event{Timestamp: time.Now(), Source: source, Kind: kind, Data: data})
}

// Bus fans events out to the admin live feed. Each subscriber has its
// own buffer; when it is full the event is counted as dropped for that
// subscriber and the publisher moves on.
type Bus struct {
	mu   sync.RWMutex
	subs map[<-chan Event]*subscriber
}

type subscriber struct {
	ch      chan Event
	dropped atomic.Int64
}

func New() *Bus {
	return &Bus{subs: make(map[<-chan Event]*subscriber)}
}

// Publish never blocks. A nil bus discards the event.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		select {
		case sub.ch <- e:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Subscribe registers a feed with room for bufSize pending events.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	sub := &subscriber{ch: make(chan Event, bufSize)}
	b.mu.Lock()
	b.subs[sub.ch] = sub
	b.mu.Unlock()
	return sub.ch
}

// Unsubscribe closes ch and returns how many events it missed while
// full. Unknown or already closed channels report zero.
func (b *Bus) Unsubscribe(ch <-chan Event) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subs[ch]
	if !ok {
		return 0
	}
	delete(b.subs, ch)
	close(sub.ch)
	return sub.dropped.Load()
}

func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
