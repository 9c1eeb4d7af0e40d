package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a telemetry event in cloudmoor.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// Kind is the entity kind, if applicable.
	Kind string `json:"kind,omitempty"`

	// Name is the entity name, if applicable.
	Name string `json:"name,omitempty"`

	// ResourceID is the vendor-assigned resource id, if applicable.
	ResourceID string `json:"resource_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeEntityCreated    = "entity.created"
	EventTypeEntityAdopted    = "entity.adopted"
	EventTypeEntityReady      = "entity.ready"
	EventTypeEntityUpdated    = "entity.updated"
	EventTypeEntityDeleted    = "entity.deleted"
	EventTypeTeardownPhase    = "teardown.phase"
	EventTypeDriftSkipped     = "drift.skipped"
	EventTypePolicyViolation  = "policy.violation"
	EventTypeOperationFailed  = "operation.failed"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	// Start the event processing goroutine
	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	// Set ID and timestamp if not already set
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Apply global filters
	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil // Event filtered out
		}
	}
	ep.mu.RUnlock()

	// Send to buffer if async, otherwise process immediately
	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	// Synchronous publishing
	ep.deliverEvent(event)
	return nil
}

// PublishEntityCreated publishes an entity created event.
func (ep *EventPublisher) PublishEntityCreated(kind, name, resourceID string) error {
	return ep.Publish(Event{
		Type:       EventTypeEntityCreated,
		Source:     "reconciler",
		Kind:       kind,
		Name:       name,
		ResourceID: resourceID,
		Message:    fmt.Sprintf("Created %s %s as %s", kind, name, resourceID),
		Level:      EventLevelInfo,
	})
}

// PublishEntityAdopted publishes an event for adopting a pre-existing resource.
func (ep *EventPublisher) PublishEntityAdopted(kind, name, resourceID string) error {
	return ep.Publish(Event{
		Type:       EventTypeEntityAdopted,
		Source:     "reconciler",
		Kind:       kind,
		Name:       name,
		ResourceID: resourceID,
		Message:    fmt.Sprintf("Adopted pre-existing %s %s (%s); it will never be deleted here", kind, name, resourceID),
		Level:      EventLevelWarning,
	})
}

// PublishEntityReady publishes an entity ready event.
func (ep *EventPublisher) PublishEntityReady(kind, name, status string) error {
	return ep.Publish(Event{
		Type:    EventTypeEntityReady,
		Source:  "reconciler",
		Kind:    kind,
		Name:    name,
		Message: fmt.Sprintf("%s %s is ready (status: %s)", kind, name, status),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"status": status,
		},
	})
}

// PublishEntityDeleted publishes an entity deleted event.
func (ep *EventPublisher) PublishEntityDeleted(kind, name string) error {
	return ep.Publish(Event{
		Type:    EventTypeEntityDeleted,
		Source:  "reconciler",
		Kind:    kind,
		Name:    name,
		Message: fmt.Sprintf("Deleted %s %s", kind, name),
		Level:   EventLevelInfo,
	})
}

// PublishTeardownPhase publishes a teardown phase transition event.
func (ep *EventPublisher) PublishTeardownPhase(kind, name, phase string) error {
	return ep.Publish(Event{
		Type:    EventTypeTeardownPhase,
		Source:  "reconciler",
		Kind:    kind,
		Name:    name,
		Message: fmt.Sprintf("Teardown of %s %s entered phase %s", kind, name, phase),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"phase": phase,
		},
	})
}

// PublishDriftSkipped publishes an event for a definition change that the
// vendor cannot apply.
func (ep *EventPublisher) PublishDriftSkipped(kind, name, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeDriftSkipped,
		Source:  "reconciler",
		Kind:    kind,
		Name:    name,
		Message: fmt.Sprintf("Definition change for %s %s not applied: %s", kind, name, reason),
		Level:   EventLevelWarning,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishPolicyViolation publishes a policy violation event.
func (ep *EventPublisher) PublishPolicyViolation(kind, name, policyName, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypePolicyViolation,
		Source:  "policy",
		Kind:    kind,
		Name:    name,
		Message: fmt.Sprintf("Policy violation on %s %s: %s - %s", kind, name, policyName, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"policy": policyName,
			"reason": reason,
		},
	})
}

// PublishOperationFailed publishes an operation failure event.
func (ep *EventPublisher) PublishOperationFailed(kind, name, op, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeOperationFailed,
		Source:  "reconciler",
		Kind:    kind,
		Name:    name,
		Message: fmt.Sprintf("Operation %s failed for %s %s: %s", op, kind, name, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"op":     op,
			"reason": reason,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents processes events from the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	for {
		select {
		case event := <-ep.buffer:
			ep.deliverEvent(event)
		case <-ep.ctx.Done():
			// Drain remaining events before shutting down
			for {
				select {
				case event := <-ep.buffer:
					ep.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		// Apply subscriber-specific filter
		if entry.filter != nil && !entry.filter(event) {
			continue
		}

		entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	// Signal shutdown
	ep.cancel()

	// Wait for processing to complete with timeout
	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByEntity creates a filter that only allows events for a specific entity.
func FilterByEntity(kind, name string) EventFilter {
	return func(event Event) bool {
		return event.Kind == kind && event.Name == name
	}
}
