package eventbus

import (
	"testing"
	"time"

	"github.com/chiral/transferd/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestPublish_DeliversToAllSubscribers(t *testing.T) {
	bus := New()
	sub1 := bus.Subscribe()
	sub2 := bus.Subscribe()
	defer sub1.Close()
	defer sub2.Close()

	evt := domain.NewEvent(domain.EventStarted, "xfer-1")
	bus.Publish(evt)

	select {
	case got := <-sub1.Events:
		require.Equal(t, "xfer-1", got.TransferID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sub1 event")
	}

	select {
	case got := <-sub2.Events:
		require.Equal(t, "xfer-1", got.TransferID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sub2 event")
	}
}

func TestClose_StopsDelivery(t *testing.T) {
	bus := New()
	sub := bus.Subscribe()
	require.Equal(t, 1, bus.SubscriberCount())

	sub.Close()
	require.Equal(t, 0, bus.SubscriberCount())

	_, ok := <-sub.Events
	require.False(t, ok, "channel should be closed")
}

func TestPublish_DropsWhenSubscriberBufferFull(t *testing.T) {
	bus := New()
	sub := bus.Subscribe()
	defer sub.Close()

	for i := 0; i < subscriberBuffer+10; i++ {
		bus.Publish(domain.NewEvent(domain.EventProgress, "xfer-1"))
	}

	require.Greater(t, bus.DroppedCount(), uint64(0))
}

func TestPublish_NoSubscribersDoesNotBlock(t *testing.T) {
	bus := New()
	done := make(chan struct{})
	go func() {
		bus.Publish(domain.NewEvent(domain.EventCompleted, "xfer-1"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish with no subscribers blocked")
	}
}
