package utils

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			km.Lock("a")
			counter++
			km.Unlock("a")
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
}

func TestKeyedMutex_TryLock(t *testing.T) {
	km := NewKeyedMutex()

	assert.True(t, km.TryLock("snap:p1:2024-01-01"))
	assert.False(t, km.TryLock("snap:p1:2024-01-01"), "second acquire must fail while held")
	assert.True(t, km.TryLock("snap:p2:2024-01-01"), "different key is independent")

	km.Unlock("snap:p1:2024-01-01")
	assert.True(t, km.TryLock("snap:p1:2024-01-01"), "re-acquire after release")

	km.Unlock("snap:p1:2024-01-01")
	km.Unlock("snap:p2:2024-01-01")
}
