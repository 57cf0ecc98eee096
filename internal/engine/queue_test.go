package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cashutrack/internal/token"
)

func TestOutbox_EnqueueDequeue(t *testing.T) {
	q := newOutbox()

	ok := q.Enqueue(token.Event{Kind: token.EventTracked, TokenID: "tok-1"})
	require.True(t, ok, "enqueue should succeed")

	got, ok := q.TryDequeue()
	require.True(t, ok, "dequeue should succeed")
	assert.Equal(t, token.EventTracked, got.Kind)
	assert.Equal(t, "tok-1", got.TokenID)
}

func TestOutbox_FIFO(t *testing.T) {
	q := newOutbox()

	for _, id := range []string{"A", "B", "C"} {
		q.Enqueue(token.Event{TokenID: id})
	}

	for _, want := range []string{"A", "B", "C"} {
		e, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, e.TokenID)
	}

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestOutbox_WaitSignalsEnqueue(t *testing.T) {
	q := newOutbox()

	done := make(chan token.Event)
	go func() {
		for {
			if e, ok := q.TryDequeue(); ok {
				done <- e
				return
			}
			<-q.Wait()
		}
	}()

	// Give goroutine time to block
	time.Sleep(10 * time.Millisecond)
	q.Enqueue(token.Event{TokenID: "late"})

	select {
	case e := <-done:
		assert.Equal(t, "late", e.TokenID)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by enqueue")
	}
}

func TestOutbox_Close(t *testing.T) {
	q := newOutbox()
	q.Enqueue(token.Event{TokenID: "pending"})
	q.Close()
	q.Close() // idempotent

	assert.False(t, q.Enqueue(token.Event{TokenID: "after"}), "enqueue after close should fail")
	assert.False(t, q.Drained(), "closed outbox with events is not drained")

	select {
	case <-q.Wait():
	default:
		t.Fatal("Wait should fire after close")
	}

	_, ok := q.TryDequeue()
	require.True(t, ok, "events enqueued before close remain deliverable")
	assert.True(t, q.Drained())
}

func TestOutbox_Len(t *testing.T) {
	q := newOutbox()
	assert.Equal(t, 0, q.Len())

	q.Enqueue(token.Event{})
	q.Enqueue(token.Event{})
	assert.Equal(t, 2, q.Len())

	q.TryDequeue()
	assert.Equal(t, 1, q.Len())
}

func TestOutbox_ThreadSafe(t *testing.T) {
	q := newOutbox()
	const producers = 10
	const perProducer = 100

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				q.Enqueue(token.Event{})
			}
		}()
	}
	wg.Wait()

	count := 0
	for {
		if _, ok := q.TryDequeue(); !ok {
			break
		}
		count++
	}
	assert.Equal(t, producers*perProducer, count)
}
