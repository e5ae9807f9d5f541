package session

import (
	"sync"
	"time"

	"github.com/kozaktomas/rollcall/internal/constants"
)

// Event types emitted by a session.
const (
	EventPhase            = "phase"
	EventMarked           = "marked"
	EventPersistenceError = "persistence_error"
	EventError            = "error"
	EventPaused           = "paused"
	EventResumed          = "resumed"
)

// Event is one observable change of a session.
type Event struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	Message   string    `json:"message,omitempty"`
	Data      any       `json:"data,omitempty"`
	At        time.Time `json:"at"`
}

// EventBroadcaster fans events out to listener channels.
// Slow listeners lose events rather than blocking the session.
type EventBroadcaster struct {
	listeners []chan Event
	closed    bool
	mu        sync.RWMutex
}

// AddListener adds an event listener. A listener added after Close gets a closed channel.
func (b *EventBroadcaster) AddListener() chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, constants.EventChannelBuffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes an event listener and closes its channel.
func (b *EventBroadcaster) RemoveListener(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// SendEvent sends an event to all listeners.
func (b *EventBroadcaster) SendEvent(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}

// Close closes every listener channel. Later events are dropped.
func (b *EventBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, listener := range b.listeners {
		close(listener)
	}
	b.listeners = nil
}
