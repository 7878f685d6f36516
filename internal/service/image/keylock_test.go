package image

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyLockSerializesSameKey(t *testing.T) {
	k := newKeyLock()

	var (
		wg      sync.WaitGroup
		active  int32
		maxSeen int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("abc")
			defer unlock()

			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, maxSeen)
	assert.Zero(t, k.len())
}

func TestKeyLockIndependentKeys(t *testing.T) {
	k := newKeyLock()

	unlockA := k.Lock("a")
	done := make(chan struct{})
	go func() {
		unlock := k.Lock("b")
		unlock()
		close(done)
	}()
	<-done

	assert.Equal(t, 1, k.len())
	unlockA()
	assert.Zero(t, k.len())
}
