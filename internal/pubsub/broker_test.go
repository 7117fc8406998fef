package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func receive[T any](t *testing.T, ch <-chan Event[T]) Event[T] {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
	return Event[T]{}
}

func TestBroker_FanOut(t *testing.T) {
	b := NewBroker[string]()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := b.Subscribe(ctx)
	c := b.Subscribe(ctx)
	require.Equal(t, 2, b.SubscriberCount())

	b.Publish(UpdatedEvent, "hello")

	for _, ch := range []<-chan Event[string]{a, c} {
		ev := receive(t, ch)
		require.Equal(t, UpdatedEvent, ev.Type)
		require.Equal(t, "hello", ev.Payload)
	}
}

func TestBroker_UnsubscribeOnContextDone(t *testing.T) {
	b := NewBroker[int]()
	ctx, cancel := context.WithCancel(context.Background())
	ch := b.Subscribe(ctx)

	cancel()

	require.Eventually(t, func() bool { return b.SubscriberCount() == 0 }, time.Second, 5*time.Millisecond)
	_, ok := <-ch
	require.False(t, ok)
}

func TestBroker_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBrokerWithBuffer[int](1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := b.Subscribe(ctx)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(UpdatedEvent, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	require.Equal(t, 0, receive(t, ch).Payload)
}

func TestBroker_Shutdown(t *testing.T) {
	b := NewBroker[int]()
	ch := b.Subscribe(context.Background())

	b.Shutdown()
	b.Shutdown()
	b.Publish(UpdatedEvent, 1)

	_, ok := <-ch
	require.False(t, ok)

	late := b.Subscribe(context.Background())
	_, ok = <-late
	require.False(t, ok)
}
