package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDispatchReachesAllAndNamed(t *testing.T) {
	hub := NewHub(nil)

	var all, named []string
	hub.Subscribe(func(evt Event) { all = append(all, evt.Name) })
	hub.SubscribeNamed(MessageCreated, func(evt Event) { named = append(named, evt.Name) })

	hub.Dispatch(MessageCreated, time.Now(), map[string]any{"id": "m1"})
	hub.Dispatch(ConversationResolved, time.Now(), nil)

	assert.Equal(t, []string{MessageCreated, ConversationResolved}, all)
	assert.Equal(t, []string{MessageCreated}, named)
}

func TestDispatchOrderIsSubscriptionOrder(t *testing.T) {
	hub := NewHub(nil)

	var order []int
	hub.Subscribe(func(Event) { order = append(order, 1) })
	hub.Subscribe(func(Event) { order = append(order, 2) })
	hub.Subscribe(func(Event) { order = append(order, 3) })

	hub.Dispatch(ConversationCreated, time.Now(), nil)
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestPanickingSubscriberIsIsolated(t *testing.T) {
	hub := NewHub(nil)

	delivered := false
	hub.Subscribe(func(Event) { panic("boom") })
	hub.Subscribe(func(Event) { delivered = true })

	assert.NotPanics(t, func() {
		hub.Dispatch(ConversationOpened, time.Now(), nil)
	})
	assert.True(t, delivered)
}

func TestDispatchFillsZeroTimestamp(t *testing.T) {
	hub := NewHub(nil)

	var at time.Time
	hub.Subscribe(func(evt Event) { at = evt.At })
	hub.Dispatch(ConversationRead, time.Time{}, nil)

	assert.False(t, at.IsZero())
}
