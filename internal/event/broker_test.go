package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroker_FanOutInOrder(t *testing.T) {
	b := NewBroker[int]()
	defer b.Close()

	a := b.Subscribe(10)
	c := b.Subscribe(10)
	require.Equal(t, 2, b.ClientCount())

	for i := 1; i <= 3; i++ {
		b.Publish(i)
	}

	for _, ch := range []chan int{a, c} {
		assert.Equal(t, 1, <-ch)
		assert.Equal(t, 2, <-ch)
		assert.Equal(t, 3, <-ch)
	}
}

func TestBroker_SlowSubscriberSkipped(t *testing.T) {
	b := NewBroker[string]()
	defer b.Close()

	slow := b.Subscribe(1)
	b.Publish("first")
	b.Publish("second") // buffer full, dropped for this subscriber

	assert.Equal(t, "first", <-slow)
	select {
	case v := <-slow:
		t.Fatalf("unexpected event %q", v)
	default:
	}
}

func TestBroker_Unsubscribe(t *testing.T) {
	b := NewBroker[int]()
	ch := b.Subscribe(0)

	b.Unsubscribe(ch)
	b.Unsubscribe(ch) // second call is a no-op

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed")
	assert.Equal(t, 0, b.ClientCount())
}

func TestBroker_Close(t *testing.T) {
	b := NewBroker[int]()
	ch := b.Subscribe(1)

	b.Close()
	b.Close()
	b.Publish(1)

	_, ok := <-ch
	assert.False(t, ok)

	late := b.Subscribe(1)
	_, ok = <-late
	assert.False(t, ok, "subscribing after close yields a closed channel")
}
