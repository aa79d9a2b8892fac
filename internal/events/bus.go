package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType identifies a system event.
type EventType string

const (
	RunStarted           EventType = "RUN_STARTED"
	RunCompleted         EventType = "RUN_COMPLETED"
	RunFailed            EventType = "RUN_FAILED"
	RecommendationsReady EventType = "RECOMMENDATIONS_READY"
	BreachDetected       EventType = "BREACH_DETECTED"
	MissingFRNDetected   EventType = "MISSING_FRN_DETECTED"
)

// Event is one emitted system event.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Module    string                 `json:"module"`
	Data      map[string]interface{} `json:"data"`
}

type subscription struct {
	types map[EventType]bool // nil means all types
	ch    chan Event
}

// Bus is an in-process publish/subscribe event bus. Publishing never
// blocks: a subscriber that falls behind its buffer misses events
// rather than stalling the run.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscription
	nextID int
	log    zerolog.Logger
}

// NewBus creates an event bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		subs: make(map[int]*subscription),
		log:  log.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers for the given event types, or for every type when
// none are named. The returned cancel func must be called to release
// the subscription; the channel is closed by cancel.
func (b *Bus) Subscribe(types ...EventType) (<-chan Event, func()) {
	sub := &subscription{ch: make(chan Event, 64)}
	if len(types) > 0 {
		sub.types = make(map[EventType]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
		b.mu.Unlock()
	}
	return sub.ch, cancel
}

// Publish emits an event to every matching subscriber.
func (b *Bus) Publish(eventType EventType, module string, data map[string]interface{}) {
	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Module:    module,
		Data:      data,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.types != nil && !sub.types[eventType] {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.log.Warn().Str("event_type", string(eventType)).Msg("subscriber buffer full, event dropped")
		}
	}

	b.log.Debug().Str("event_type", string(eventType)).Str("module", module).Msg("event published")
}
