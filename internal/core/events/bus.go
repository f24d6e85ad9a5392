package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// EventBus fans out signal/backtest/system events to subscribers over
// buffered channels, decoupling the publishers (svc.Service and
// cmd/api/main.go) from the websocket hub that streams them to dashboard
// clients.
type EventBus struct {
	subscribers map[EventType][]chan Event
	mu          sync.RWMutex

	bufferSize int
	logger     zerolog.Logger

	publishedCount map[EventType]int64
	droppedCount   map[EventType]int64
	metricsLock    sync.RWMutex
}

// NewEventBus creates a new event bus with the specified subscriber
// channel buffer size.
func NewEventBus(bufferSize int, logger zerolog.Logger) *EventBus {
	return &EventBus{
		subscribers:    make(map[EventType][]chan Event),
		bufferSize:     bufferSize,
		logger:         logger,
		publishedCount: make(map[EventType]int64),
		droppedCount:   make(map[EventType]int64),
	}
}

// Subscribe returns a buffered, read-only channel that receives every
// event of eventType published from this point on.
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan Event, eb.bufferSize)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)

	eb.logger.Info().
		Str("event_type", string(eventType)).
		Int("buffer_size", eb.bufferSize).
		Int("total_subscribers", len(eb.subscribers[eventType])).
		Msg("new event subscriber registered")

	return ch
}

// Publish sends an event to every subscriber of its type without
// blocking: a subscriber whose channel is full (a slow websocket client,
// typically) has the event dropped for it alone, not for the others.
func (eb *EventBus) Publish(ctx context.Context, event Event) {
	eb.mu.RLock()
	subscribers := eb.subscribers[event.Type()]
	eb.mu.RUnlock()

	if len(subscribers) == 0 {
		eb.logger.Debug().
			Str("event_type", string(event.Type())).
			Msg("no subscribers for event type")
		return
	}

	eb.updateMetrics(event.Type(), len(subscribers), 0)

	var droppedCount int
	for i, ch := range subscribers {
		select {
		case ch <- event:
			eb.logger.Debug().
				Str("event_type", string(event.Type())).
				Int("subscriber_index", i).
				Msg("event sent to subscriber")

		case <-ctx.Done():
			eb.logger.Warn().
				Str("event_type", string(event.Type())).
				Msg("publish canceled by context")
			return

		default:
			droppedCount++
			eb.logger.Warn().
				Str("event_type", string(event.Type())).
				Int("subscriber_index", i).
				Int("buffer_size", eb.bufferSize).
				Msg("subscriber channel full, event dropped for this subscriber")
		}
	}

	if droppedCount > 0 {
		eb.updateMetrics(event.Type(), 0, droppedCount)
	}
}

// PublishBlocking sends an event and blocks until every subscriber has
// received it. Reserved for events a consumer must not miss (none of the
// current signal/backtest/system events require this; kept for a future
// at-least-once delivery need).
func (eb *EventBus) PublishBlocking(ctx context.Context, event Event) error {
	eb.mu.RLock()
	subscribers := eb.subscribers[event.Type()]
	eb.mu.RUnlock()

	if len(subscribers) == 0 {
		return nil
	}

	for i, ch := range subscribers {
		select {
		case ch <- event:
			eb.logger.Debug().
				Str("event_type", string(event.Type())).
				Int("subscriber_index", i).
				Msg("event sent to subscriber (blocking)")

		case <-ctx.Done():
			return fmt.Errorf("publish canceled: %w", ctx.Err())
		}
	}

	eb.updateMetrics(event.Type(), len(subscribers), 0)
	return nil
}

// Unsubscribe removes a subscriber and closes its channel.
func (eb *EventBus) Unsubscribe(eventType EventType, ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subscribers := eb.subscribers[eventType]
	for i, subscriber := range subscribers {
		if subscriber == ch {
			eb.subscribers[eventType] = append(subscribers[:i], subscribers[i+1:]...)
			close(subscriber)

			eb.logger.Info().
				Str("event_type", string(eventType)).
				Int("remaining_subscribers", len(eb.subscribers[eventType])).
				Msg("subscriber unsubscribed")
			return
		}
	}
}

// Close shuts down the event bus, closing every subscriber channel. The
// websocket hub's StartEventListener does not check for closed channels;
// it stops only when its context is canceled.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.logger.Info().Msg("closing event bus and all subscriber channels")

	for eventType, subscribers := range eb.subscribers {
		for _, ch := range subscribers {
			close(ch)
		}
		eb.logger.Info().
			Str("event_type", string(eventType)).
			Int("subscribers", len(subscribers)).
			Msg("closed subscriber channels")
	}

	eb.subscribers = make(map[EventType][]chan Event)
}

// GetMetrics returns published/dropped counts per event type, logged by
// cmd/api/main.go on shutdown.
func (eb *EventBus) GetMetrics() map[EventType]EventMetrics {
	eb.metricsLock.RLock()
	defer eb.metricsLock.RUnlock()

	metrics := make(map[EventType]EventMetrics)
	for eventType := range eb.publishedCount {
		metrics[eventType] = EventMetrics{
			EventType:      eventType,
			PublishedCount: eb.publishedCount[eventType],
			DroppedCount:   eb.droppedCount[eventType],
		}
	}

	return metrics
}

// EventMetrics holds publish/drop counters for one event type.
type EventMetrics struct {
	EventType      EventType
	PublishedCount int64
	DroppedCount   int64
}

func (eb *EventBus) updateMetrics(eventType EventType, published, dropped int) {
	eb.metricsLock.Lock()
	defer eb.metricsLock.Unlock()

	eb.publishedCount[eventType] += int64(published)
	eb.droppedCount[eventType] += int64(dropped)
}

// SubscriberCount returns the number of subscribers for a given event type.
func (eb *EventBus) SubscriberCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	return len(eb.subscribers[eventType])
}

// EventTypes returns all event types that currently have subscribers.
func (eb *EventBus) EventTypes() []EventType {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	types := make([]EventType, 0, len(eb.subscribers))
	for eventType := range eb.subscribers {
		types = append(types, eventType)
	}

	return types
}
