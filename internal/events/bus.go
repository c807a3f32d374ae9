// Package events carries build-completion and tick notifications between daemon components.
package events

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventType represents the type of event being published.
type EventType string

const (
	// EventBuildCompleted is published once per finished build reported to the daemon.
	EventBuildCompleted EventType = "build_completed"
	// EventTickCompleted is published after every periodic sample, emitted or not.
	EventTickCompleted EventType = "tick_completed"
)

// BuildCompleted is the payload of EventBuildCompleted.
type BuildCompleted struct {
	JobFullName string
	Result      string
	Duration    time.Duration
}

// TickCompleted is the payload of EventTickCompleted.
type TickCompleted struct {
	StartedAt  time.Time
	Duration   time.Duration
	Configured bool
	Lines      int
	SendErr    error
}

// Event represents a system event.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      any
}

// Subscriber is a function that receives events.
type Subscriber func(Event)

// Bus is a non-blocking event bus using Publish/Subscribe pattern.
// Events are delivered asynchronously via buffered channels.
// If a subscriber's channel is full, the event is dropped and logged.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
	logger      *zap.Logger
	wg          sync.WaitGroup
}

// NewBus creates a new event bus with the specified buffer size per subscriber.
func NewBus(bufferSize int, logger *zap.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
		logger:      logger,
	}
}

// Subscribe registers a subscriber for a specific event type.
// The subscriber function is called from a dedicated goroutine, one event at a time.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for event := range ch {
			b.deliver(fn, event)
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.subscribers[eventType]
		for i, subCh := range subs {
			if subCh == ch {
				b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
}

func (b *Bus) deliver(fn Subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event subscriber panicked", zap.String("event", string(event.Type)), zap.Any("panic", r))
		}
	}()
	fn(event)
}

// Publish sends an event to all subscribers of the given type without blocking.
// It reports whether every subscriber accepted the event.
func (b *Bus) Publish(eventType EventType, data any) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	delivered := true
	for _, ch := range b.subscribers[eventType] {
		select {
		case ch <- event:
		default:
			delivered = false
			b.logger.Warn("event dropped, subscriber buffer full", zap.String("event", string(eventType)))
		}
	}
	return delivered
}

// Close closes all subscriber channels and waits for in-flight deliveries to finish.
func (b *Bus) Close() {
	b.mu.Lock()
	for eventType, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, eventType)
	}
	b.mu.Unlock()
	b.wg.Wait()
}
