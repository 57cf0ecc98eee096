package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSequence_Next_Incrementing(t *testing.T) {
	s := NewSequence()
	assert.Equal(t, int64(0), s.Current())

	assert.Equal(t, int64(1), s.Next())
	assert.Equal(t, int64(2), s.Next())
	assert.Equal(t, int64(3), s.Next())
	assert.Equal(t, int64(3), s.Current())
}

func TestSequence_ThreadSafe(t *testing.T) {
	s := NewSequence()
	const goroutines = 10
	const perGoroutine = 100

	var mu sync.Mutex
	seen := make(map[int64]bool)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				v := s.Next()
				mu.Lock()
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines*perGoroutine)
	assert.Equal(t, int64(goroutines*perGoroutine), s.Current())
}

func TestSystemClock_After(t *testing.T) {
	ch, stop := SystemClock{}.After(time.Millisecond)
	defer stop()

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("system clock timer did not fire")
	}
}

func TestSystemClock_Stop(t *testing.T) {
	_, stop := SystemClock{}.After(time.Hour)
	assert.True(t, stop())
}
