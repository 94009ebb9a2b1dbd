// Package event provides the process-wide event dispatch mechanism.
// The hub is an explicitly constructed instance handed to the services that
// emit events; there is no ambient global dispatcher.
package event

import (
	"log/slog"
	"sync"
	"time"
)

// Event names emitted by the core.
const (
	ConversationCreated        = "conversation.created"
	ConversationOpened         = "conversation.opened"
	ConversationResolved       = "conversation.resolved"
	ConversationRead           = "conversation.read"
	ConversationLockToggle     = "conversation.lock_toggle"
	ConversationContactChanged = "conversation.contact_changed"
	AssigneeChanged            = "assignee.changed"
	MessageCreated             = "message.created"
	MessageUpdated             = "message.updated"
	FirstReplyCreated          = "first.reply.created"
)

// Event is an immutable (name, timestamp, payload) tuple. Never persisted by
// the core; purely a dispatch-time value.
type Event struct {
	Name    string
	At      time.Time
	Payload map[string]any
}

// Handler receives dispatched events.
type Handler func(Event)

// Hub fans events out to subscribers. Dispatch is synchronous in
// subscription order; subscribers that need async behaviour spawn their own
// goroutines.
type Hub struct {
	mu     sync.RWMutex
	all    []Handler
	named  map[string][]Handler
	logger *slog.Logger
}

// NewHub creates an event hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		named:  map[string][]Handler{},
		logger: log.With(slog.String("service", "event")),
	}
}

// Subscribe registers a handler for every event.
func (h *Hub) Subscribe(fn Handler) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.all = append(h.all, fn)
}

// SubscribeNamed registers a handler for one event name.
func (h *Hub) SubscribeNamed(name string, fn Handler) {
	if fn == nil || name == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.named[name] = append(h.named[name], fn)
}

// Dispatch delivers the event to all matching subscribers. A panicking
// subscriber is isolated so it cannot break the emitting write path.
func (h *Hub) Dispatch(name string, at time.Time, payload map[string]any) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	evt := Event{Name: name, At: at, Payload: payload}

	h.mu.RLock()
	handlers := make([]Handler, 0, len(h.all)+len(h.named[name]))
	handlers = append(handlers, h.all...)
	handlers = append(handlers, h.named[name]...)
	h.mu.RUnlock()

	for _, fn := range handlers {
		h.deliver(fn, evt)
	}
}

func (h *Hub) deliver(fn Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Warn("event handler panicked",
				slog.String("event", evt.Name),
				slog.Any("panic", r),
			)
		}
	}()
	fn(evt)
}
