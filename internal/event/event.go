// Package event broadcasts playback and recording notifications to external
// listeners. Delivery is fire-and-forget: a slow subscriber drops events
// rather than blocking the publisher.
package event

import (
	"sync"
)

// Type names a notification.
type Type string

const (
	// StartPlayback is sent when the current audio starts playing.
	StartPlayback Type = "startplayback"
	// StopPlayback is sent when the current audio pauses or ends.
	StopPlayback Type = "stopplayback"
	// SeekPlayback is sent when the current audio position is changed.
	SeekPlayback Type = "seekplayback"
	// StartRecording is sent when a recording session is engaged.
	StartRecording Type = "startrecording"
	// StopRecording is sent when a recording session is switched off.
	StopRecording Type = "stoprecording"
)

// Event is a notification payload. Fields not relevant to Type are zero.
type Event struct {
	Type      Type    `json:"type"`
	ID        string  `json:"id,omitempty"`
	Resume    bool    `json:"resume,omitempty"`
	Pause     bool    `json:"pause,omitempty"`
	Timestamp float64 `json:"timestamp,omitempty"`
}

// Publisher sends notifications.
type Publisher interface {
	Publish(Event)
}

// Bus fans events out to subscribers.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

// NewBus creates a bus without subscribers.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a listener with a buffer of size events.
// The returned cancel func unregisters it and closes the channel.
func (b *Bus) Subscribe(size int) (<-chan Event, func()) {
	if size < 1 {
		size = 1
	}
	ch := make(chan Event, size)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers e to every subscriber with room in its buffer.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Verify interface implementation at compile time.
var _ Publisher = (*Bus)(nil)
