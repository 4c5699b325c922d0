package session

import (
	"sync"

	evbus "github.com/asaskevich/EventBus"
	goerrors "github.com/goliatone/go-errors"
)

// AuthEvent names a broadcast signal on the Bus. The string values are
// part of the public surface; external consumers subscribe by name.
type AuthEvent string

const (
	EventLoginSuccess   AuthEvent = "LOGIN_SUCCESS"
	EventLogout         AuthEvent = "LOGOUT"
	EventUnauthorized   AuthEvent = "UNAUTHORIZED"
	EventForbidden      AuthEvent = "FORBIDDEN"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
)

// Bus is the auth event broadcast channel. Delivery is synchronous, so a
// given listener observes events FIFO relative to publish order. Events
// are fire-and-forget: no acknowledgement, no cross-listener ordering.
//
// The Bus tracks handlers per subscription rather than by function
// value: method values and identical closures share one code pointer,
// so detaching one listener must never detach another that happens to
// look the same. One dispatcher per topic is registered with the
// underlying bus and fans out to the live subscriptions.
type Bus struct {
	bus evbus.Bus

	mu       sync.Mutex
	nextID   uint64
	handlers map[AuthEvent][]*busHandler
	fanout   map[AuthEvent]bool
}

type busHandler struct {
	id   uint64
	fn   func()
	once bool
}

// Subscription identifies one registered handler. Unsubscribing twice
// is a no-op.
type Subscription struct {
	bus   *Bus
	event AuthEvent
	id    uint64
}

// Unsubscribe detaches the handler this subscription registered,
// leaving every other subscription on the topic in place.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.remove(s.event, s.id)
}

// NewBus creates an event bus with no subscribers.
func NewBus() *Bus {
	return &Bus{
		bus:      evbus.New(),
		handlers: map[AuthEvent][]*busHandler{},
		fanout:   map[AuthEvent]bool{},
	}
}

// Publish broadcasts an event to every current subscriber.
func (b *Bus) Publish(event AuthEvent) {
	b.bus.Publish(string(event))
}

// Subscribe registers a handler for an event and returns the handle
// that detaches it.
func (b *Bus) Subscribe(event AuthEvent, handler func()) (*Subscription, error) {
	return b.subscribe(event, handler, false)
}

// SubscribeOnce registers a handler that detaches itself after the
// first delivery.
func (b *Bus) SubscribeOnce(event AuthEvent, handler func()) (*Subscription, error) {
	return b.subscribe(event, handler, true)
}

// HasSubscribers reports whether anyone is listening for the event.
func (b *Bus) HasSubscribers(event AuthEvent) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[event]) > 0
}

func (b *Bus) subscribe(event AuthEvent, handler func(), once bool) (*Subscription, error) {
	if handler == nil {
		return nil, goerrors.New("event handler is required", goerrors.CategoryBadInput)
	}

	b.mu.Lock()
	b.nextID++
	entry := &busHandler{id: b.nextID, fn: handler, once: once}
	b.handlers[event] = append(b.handlers[event], entry)
	registerFanout := !b.fanout[event]
	if registerFanout {
		b.fanout[event] = true
	}
	b.mu.Unlock()

	if registerFanout {
		if err := b.bus.Subscribe(string(event), func() { b.dispatch(event) }); err != nil {
			b.remove(event, entry.id)
			b.mu.Lock()
			b.fanout[event] = false
			b.mu.Unlock()
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to register event dispatcher")
		}
	}

	return &Subscription{bus: b, event: event, id: entry.id}, nil
}

func (b *Bus) dispatch(event AuthEvent) {
	b.mu.Lock()
	entries := append([]*busHandler(nil), b.handlers[event]...)
	remaining := b.handlers[event][:0]
	for _, entry := range b.handlers[event] {
		if !entry.once {
			remaining = append(remaining, entry)
		}
	}
	b.handlers[event] = remaining
	b.mu.Unlock()

	for _, entry := range entries {
		entry.fn()
	}
}

func (b *Bus) remove(event AuthEvent, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.handlers[event]
	for i, entry := range entries {
		if entry.id == id {
			b.handlers[event] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}
