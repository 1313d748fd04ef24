package cache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marmos91/headerprop/pkg/header"
	"github.com/stretchr/testify/assert"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("a/b")
			defer unlock()

			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive.Load())
	assert.Equal(t, 0, km.Len(), "idle entries must be removed")
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	km := NewKeyedMutex()

	unlockA := km.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := km.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind lock on a")
	}
}

func TestCheckPropagatable(t *testing.T) {
	assert.ErrorIs(t, CheckPropagatable(nil), ErrNotPropagatable)
	assert.ErrorIs(t, CheckPropagatable(&header.Header{}), ErrNotPropagatable)
	assert.ErrorIs(t, CheckPropagatable(&header.Header{Lines: []string{"LICENSE: MIT\n"}}), ErrNotPropagatable)
	assert.NoError(t, CheckPropagatable(&header.Header{Lines: []string{"LICENSE: MIT\n"}, Complete: true}))
}
