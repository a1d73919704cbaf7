package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventScanStarted     EventType = "SCAN_STARTED"
	EventScanCompleted   EventType = "SCAN_COMPLETED"
	EventSignalAlerted   EventType = "SIGNAL_ALERTED"
	EventProviderCircuit EventType = "PROVIDER_CIRCUIT"
	EventError           EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers. A nil bus drops the event.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event) // Run in goroutine to avoid blocking the scan
		}
	}

	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishScanStarted publishes the start of a scan cycle
func (eb *EventBus) PublishScanStarted(scanID string, tickers int) {
	eb.Publish(Event{
		Type: EventScanStarted,
		Data: map[string]interface{}{
			"scan_id": scanID,
			"tickers": tickers,
		},
	})
}

// PublishScanCompleted publishes the cycle summary
func (eb *EventBus) PublishScanCompleted(scanID string, summary map[string]interface{}) {
	data := map[string]interface{}{"scan_id": scanID}
	for k, v := range summary {
		data[k] = v
	}
	eb.Publish(Event{Type: EventScanCompleted, Data: data})
}

// PublishSignalAlerted publishes a dispatched alert
func (eb *EventBus) PublishSignalAlerted(alert interface{}) {
	eb.Publish(Event{
		Type: EventSignalAlerted,
		Data: map[string]interface{}{
			"alert": alert,
		},
	})
}

// PublishProviderCircuit publishes a market-data circuit breaker transition
func (eb *EventBus) PublishProviderCircuit(name, from, to string) {
	eb.Publish(Event{
		Type: EventProviderCircuit,
		Data: map[string]interface{}{
			"breaker": name,
			"from":    from,
			"to":      to,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{Type: EventError, Data: data})
}
