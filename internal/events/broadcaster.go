// Package events provides the per-volume change event broadcaster for
// realtime subscribers.
package events

import (
	"encoding/json"
	"sync"

	"github.com/fruitsalade/volumefs/internal/metrics"
)

// ServerEvent notifies subscribers of one committed file change.
type ServerEvent struct {
	MessageID string `json:"messageId,omitempty"`
	Path      string `json:"path"`
	Timestamp int64  `json:"timestamp"`
	Deleted   bool   `json:"deleted,omitempty"`
}

// Broadcaster manages subscribers and publishes events in commit order.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan ServerEvent]struct{}
}

// NewBroadcaster creates a new event broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan ServerEvent]struct{}),
	}
}

// Subscribe adds a new subscriber and returns its event channel.
// The caller must call Unsubscribe when done.
func (b *Broadcaster) Subscribe() chan ServerEvent {
	ch := make(chan ServerEvent, 64)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	metrics.SetSubscribersActive(int64(b.Count()))
	return ch
}

// Unsubscribe removes a subscriber and closes its channel. Safe to call
// twice for the same channel.
func (b *Broadcaster) Unsubscribe(ch chan ServerEvent) {
	b.mu.Lock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
	b.mu.Unlock()
	metrics.SetSubscribersActive(int64(b.Count()))
}

// Publish sends an event to all subscribers. Non-blocking: drops events
// for slow consumers.
func (b *Broadcaster) Publish(event ServerEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// Drop event for slow consumer
		}
	}
	metrics.RecordBroadcastEvent(event.Deleted)
}

// Count returns the current number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// MarshalEvent serializes an event to JSON.
func MarshalEvent(e ServerEvent) ([]byte, error) {
	return json.Marshal(e)
}
