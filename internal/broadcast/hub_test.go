package broadcast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

// requireClosed drains ch until it is closed. A value racing with the
// close may still be received once.
func requireClosed[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed")
		}
	}
}

// TestHub_fanOut delivers every value to every subscriber in order.
func TestHub_fanOut(t *testing.T) {
	h := NewHub[int]()
	_, a := h.Subscribe()
	_, b := h.Subscribe()
	require.Equal(t, 2, h.Len())

	for i := 1; i <= 3; i++ {
		h.Publish(i)
	}

	for i := 1; i <= 3; i++ {
		assert.Equal(t, i, receive(t, a))
		assert.Equal(t, i, receive(t, b))
	}
}

// TestHub_publishDoesNotBlock buffers for a slow reader.
func TestHub_publishDoesNotBlock(t *testing.T) {
	h := NewHub[int]()
	_, ch := h.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			h.Publish(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on an idle subscriber")
	}

	for i := 0; i < 1000; i++ {
		require.Equal(t, i, receive(t, ch))
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	h := NewHub[string]()
	id, ch := h.Subscribe()
	_, other := h.Subscribe()

	h.Publish("before")
	h.Unsubscribe(id)
	h.Unsubscribe(id)
	h.Unsubscribe("unknown")

	requireClosed(t, ch)
	assert.Equal(t, 1, h.Len())
	h.Publish("after")
	assert.Equal(t, "before", receive(t, other))
	assert.Equal(t, "after", receive(t, other))
}

func TestHub_Close(t *testing.T) {
	h := NewHub[int]()
	_, a := h.Subscribe()
	_, b := h.Subscribe()

	h.Close()
	h.Close()
	h.Publish(1)

	requireClosed(t, a)
	requireClosed(t, b)
	assert.Equal(t, 0, h.Len())

	id, late := h.Subscribe()
	assert.Empty(t, id)
	requireClosed(t, late)
}
