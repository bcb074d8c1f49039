// Package bus provides an internal event bus for component communication
package bus

import (
	"sync"
	"time"
)

// EventType identifies different event types
type EventType string

const (
	// Avatar events
	EventTypeAvatarBound    EventType = "avatar.bound"
	EventTypeAvatarReleased EventType = "avatar.released"

	// Clip events
	EventTypeClipLoaded     EventType = "clip.loaded"
	EventTypeClipBound      EventType = "clip.bound"
	EventTypeClipLoadFailed EventType = "clip.load_failed"

	// Playback events
	EventTypePlaybackStarted  EventType = "playback.started"
	EventTypePlaybackFinished EventType = "playback.finished"
	EventTypePlaybackStopped  EventType = "playback.stopped"
	EventTypePlaybackPaused   EventType = "playback.paused"
	EventTypePlaybackResumed  EventType = "playback.resumed"

	// Expression events
	EventTypeMoodChanged EventType = "expression.mood_changed"
	EventTypeOneShot     EventType = "expression.one_shot"

	// Lip-sync events
	EventTypeLipSyncStarted EventType = "lipsync.started"
	EventTypeLipSyncStopped EventType = "lipsync.stopped"

	// Audio events
	EventTypeSpeechStart EventType = "audio.speech_start"
	EventTypeSpeechEnd   EventType = "audio.speech_end"
	EventTypeStreamEnded EventType = "audio.stream_ended"
)

// Any subscribes a handler to every event type.
const Any EventType = "*"

// Event represents a bus event
type Event struct {
	Type EventType      `json:"type"`
	Time time.Time      `json:"time"`
	Data map[string]any `json:"data,omitempty"`
}

// Handler is a function that handles events
type Handler func(Event)

type subscription struct {
	id      uint64
	handler Handler
}

// EventBus is a simple pub/sub event bus
type EventBus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[EventType][]subscription
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]subscription),
	}
}

// Subscribe adds a handler for an event type, or for every type when
// eventType is Any. The returned func removes it.
func (b *EventBus) Subscribe(eventType EventType, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[eventType] = append(b.handlers[eventType], subscription{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.handlers[eventType]
		for i, s := range subs {
			if s.id == id {
				b.handlers[eventType] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// SubscribeMultiple adds a handler for multiple event types
func (b *EventBus) SubscribeMultiple(eventTypes []EventType, handler Handler) func() {
	cancels := make([]func(), 0, len(eventTypes))
	for _, et := range eventTypes {
		cancels = append(cancels, b.Subscribe(et, handler))
	}
	return func() {
		for _, c := range cancels {
			c()
		}
	}
}

func (b *EventBus) collect(event *Event) []Handler {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	subs := b.handlers[event.Type]
	wild := b.handlers[Any]
	handlers := make([]Handler, 0, len(subs)+len(wild))
	for _, s := range subs {
		handlers = append(handlers, s.handler)
	}
	for _, s := range wild {
		handlers = append(handlers, s.handler)
	}
	return handlers
}

// Publish sends an event to all subscribed handlers
func (b *EventBus) Publish(event Event) {
	for _, handler := range b.collect(&event) {
		// Call handlers in goroutines to avoid blocking
		go handler(event)
	}
}

// PublishSync sends an event and waits for all handlers to complete
func (b *EventBus) PublishSync(event Event) {
	handlers := b.collect(&event)

	var wg sync.WaitGroup
	for _, handler := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			h(event)
		}(handler)
	}
	wg.Wait()
}

// Clear removes all handlers
func (b *EventBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[EventType][]subscription)
}
