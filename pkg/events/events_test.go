package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Publish(&Event{Type: EventBlockSealed, Message: "block 1 sealed"})

	select {
	case evt := <-sub:
		assert.Equal(t, EventBlockSealed, evt.Type)
		assert.False(t, evt.Timestamp.IsZero(), "Publish stamps a zero Timestamp")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishDoesNotBlockWithoutStart(t *testing.T) {
	b := NewBroker()
	// Start() is never called: Publish must not block as long as eventCh
	// has spare buffer capacity.
	done := make(chan struct{})
	go func() {
		b.Publish(&Event{Type: EventOperationFailed})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked with no subscribers and no distribution loop running")
	}
}

func TestUnsubscribeRemovesSubscriberAndClosesChannel(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	require.Equal(t, 1, b.SubscriberCount())

	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())

	_, open := <-sub
	assert.False(t, open)
}

func TestSlowSubscriberDoesNotBlockBroadcastToOthers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	slow := b.Subscribe() // never drained
	defer b.Unsubscribe(slow)
	fast := b.Subscribe()
	defer b.Unsubscribe(fast)

	for i := 0; i < 60; i++ { // overflow the slow subscriber's 50-deep buffer
		b.Publish(&Event{Type: EventOperationExecuted})
	}

	select {
	case <-fast:
	case <-time.After(time.Second):
		t.Fatal("fast subscriber never received an event despite a stalled peer")
	}
}
