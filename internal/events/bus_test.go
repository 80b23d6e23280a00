package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribePublish(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventOrderFilled, 2)

	bus.Publish(EventOrderFilled, "a")
	bus.Publish(EventOrderCancelled, "ignored")
	require.Len(t, ch, 1)
	assert.Equal(t, "a", <-ch)

	unsub()
	unsub()
	_, open := <-ch
	assert.False(t, open, "unsubscribe closes the channel")

	bus.Publish(EventOrderFilled, "after")
	assert.Zero(t, bus.Dropped())
}

func TestSubscribeManyKeepsOrder(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.SubscribeMany(OrderTopics, 8)
	defer unsub()

	bus.Publish(EventOrderAccepted, 1)
	bus.Publish(EventOrderPartiallyFilled, 2)
	bus.Publish(EventOrderFilled, 3)
	bus.Publish(EventOrderRejected, 4)

	require.Len(t, ch, 3)
	assert.Equal(t, []any{1, 2, 3}, []any{<-ch, <-ch, <-ch})
}

func TestPublishNeverBlocks(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventLedgerFault, 1)
	defer unsub()

	bus.Publish(EventLedgerFault, 1)
	bus.Publish(EventLedgerFault, 2)

	assert.Equal(t, uint64(1), bus.Dropped())
	assert.Equal(t, 1, <-ch)

	var nilBus *Bus
	assert.NotPanics(t, func() { nilBus.Publish(EventLedgerFault, 3) })
}
