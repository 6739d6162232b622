package events

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchInvokesSubscriberExactlyOnce(t *testing.T) {
	d := NewDispatcher(nil)

	var calls atomic.Int32
	got := make(chan Notification, 1)
	d.Subscribe(TypeCallConnected, "conn-1", func(n Notification) {
		calls.Add(1)
		got <- n
	})

	n := Notification{Type: TypeCallConnected, CallConnectionID: "conn-1"}
	require.True(t, d.Dispatch(n))

	select {
	case delivered := <-got:
		assert.Equal(t, "conn-1", delivered.CallConnectionID)
	case <-time.After(time.Second):
		t.Fatal("subscriber was never invoked")
	}

	// Binding is consumed: a second dispatch is a safe no-op.
	require.False(t, d.Dispatch(n))
	assert.Equal(t, int32(1), calls.Load())
}

func TestDispatchUnmatchedIsDropped(t *testing.T) {
	d := NewDispatcher(nil)

	d.Subscribe(TypeCallConnected, "conn-1", func(Notification) {
		t.Error("subscriber for a different key must not fire")
	})

	assert.False(t, d.Dispatch(Notification{Type: TypeCallDisconnected, CallConnectionID: "conn-1"}))
	assert.False(t, d.Dispatch(Notification{Type: TypeCallConnected, CallConnectionID: "conn-2"}))
	assert.Equal(t, 1, d.Len())
}

func TestSubscribeReplacesExisting(t *testing.T) {
	d := NewDispatcher(nil)

	d.Subscribe(TypePlayCompleted, "op-1", func(Notification) {
		t.Error("replaced subscriber must never fire")
	})

	fired := make(chan struct{})
	d.Subscribe(TypePlayCompleted, "op-1", func(Notification) {
		close(fired)
	})
	require.Equal(t, 1, d.Len(), "re-subscribe must replace, not duplicate")

	require.True(t, d.Dispatch(Notification{Type: TypePlayCompleted, OperationContext: "op-1"}))
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("replacement subscriber was never invoked")
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	d := NewDispatcher(nil)

	d.Subscribe(TypeRecognizeFailed, "conn-9", func(Notification) {})
	d.Unsubscribe(TypeRecognizeFailed, "conn-9")
	d.Unsubscribe(TypeRecognizeFailed, "conn-9")

	assert.False(t, d.Dispatch(Notification{Type: TypeRecognizeFailed, CallConnectionID: "conn-9"}))
}

func TestPlayCorrelatesOnOperationContext(t *testing.T) {
	d := NewDispatcher(nil)

	fired := make(chan struct{})
	d.Subscribe(TypePlayCompleted, "op-ctx-7", func(Notification) {
		close(fired)
	})

	// The backend echoes both identifiers; play outcomes must key on the
	// operation context, not the connection id.
	ok := d.Dispatch(Notification{
		Type:             TypePlayCompleted,
		CallConnectionID: "conn-1",
		OperationContext: "op-ctx-7",
	})
	require.True(t, ok)
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("play subscriber was never invoked")
	}
}

func TestConcurrentSubscribeDispatchUnsubscribe(t *testing.T) {
	d := NewDispatcher(nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		id := string(rune('a' + i%26))
		go func() {
			defer wg.Done()
			d.Subscribe(TypeCallConnected, id, func(Notification) {})
		}()
		go func() {
			defer wg.Done()
			d.Dispatch(Notification{Type: TypeCallConnected, CallConnectionID: id})
		}()
		go func() {
			defer wg.Done()
			d.Unsubscribe(TypeCallConnected, id)
		}()
	}
	wg.Wait()
}
