package session_test

import (
	"sync"
	"testing"

	session "github.com/goliatone/go-session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tally counts deliveries through a method value, so two instances
// share one function code pointer.
type tally struct {
	mu    sync.Mutex
	calls int
}

func (c *tally) bump() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
}

func (c *tally) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestBusDeliversFIFOPerListener(t *testing.T) {
	bus := session.NewBus()
	recorder := recordEvents(t, bus)

	bus.Publish(session.EventLoginSuccess)
	bus.Publish(session.EventTokenRefreshed)
	bus.Publish(session.EventLogout)

	assert.Equal(t, []session.AuthEvent{
		session.EventLoginSuccess,
		session.EventTokenRefreshed,
		session.EventLogout,
	}, recorder.recorded())
}

func TestBusDeliversToEverySubscriber(t *testing.T) {
	bus := session.NewBus()

	first, second := 0, 0

	_, err := bus.Subscribe(session.EventLogout, func() { first++ })
	require.NoError(t, err)
	_, err = bus.Subscribe(session.EventLogout, func() { second++ })
	require.NoError(t, err)

	bus.Publish(session.EventLogout)
	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)
}

func TestBusUnsubscribeDetachesHandler(t *testing.T) {
	bus := session.NewBus()

	calls := 0
	sub, err := bus.Subscribe(session.EventUnauthorized, func() { calls++ })
	require.NoError(t, err)

	bus.Publish(session.EventUnauthorized)
	sub.Unsubscribe()
	bus.Publish(session.EventUnauthorized)

	assert.Equal(t, 1, calls)
	assert.False(t, bus.HasSubscribers(session.EventUnauthorized))
}

func TestBusUnsubscribeIsPerSubscription(t *testing.T) {
	bus := session.NewBus()

	first := &tally{}
	second := &tally{}

	// first.bump and second.bump share a code pointer; detaching one
	// subscription must leave the other attached
	subFirst, err := bus.Subscribe(session.EventTokenRefreshed, first.bump)
	require.NoError(t, err)
	subSecond, err := bus.Subscribe(session.EventTokenRefreshed, second.bump)
	require.NoError(t, err)

	subSecond.Unsubscribe()
	bus.Publish(session.EventTokenRefreshed)

	assert.Equal(t, 1, first.count())
	assert.Equal(t, 0, second.count())

	subFirst.Unsubscribe()
	bus.Publish(session.EventTokenRefreshed)
	assert.Equal(t, 1, first.count())
}

func TestBusUnsubscribeTwiceIsSafe(t *testing.T) {
	bus := session.NewBus()

	keeper := &tally{}
	_, err := bus.Subscribe(session.EventLogout, keeper.bump)
	require.NoError(t, err)

	sub, err := bus.Subscribe(session.EventLogout, keeper.bump)
	require.NoError(t, err)
	sub.Unsubscribe()
	sub.Unsubscribe()

	bus.Publish(session.EventLogout)
	assert.Equal(t, 1, keeper.count())
}

func TestBusSubscribeOnceDetachesItself(t *testing.T) {
	bus := session.NewBus()

	calls := 0
	_, err := bus.SubscribeOnce(session.EventForbidden, func() { calls++ })
	require.NoError(t, err)

	bus.Publish(session.EventForbidden)
	bus.Publish(session.EventForbidden)

	assert.Equal(t, 1, calls)
}

func TestBusPublishWithoutSubscribersIsSafe(t *testing.T) {
	bus := session.NewBus()

	assert.NotPanics(t, func() {
		bus.Publish(session.EventUnauthorized)
	})
	assert.False(t, bus.HasSubscribers(session.EventUnauthorized))
}
