package api

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutex(t *testing.T) {

	t.Run("LockDoesNotGetBlockedByLockOnOtherKey", func(t *testing.T) {

		keyedMutex := NewKeyedMutex()
		keyedMutex.Lock("key2")
		defer keyedMutex.Unlock("key2")

		// act
		keyedMutex.Lock("key1")
		defer keyedMutex.Unlock("key1")
	})

	t.Run("SerializesWritersOnSameKey", func(t *testing.T) {

		keyedMutex := NewKeyedMutex()
		counter := 0

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()

				// act
				keyedMutex.Lock("key1")
				counter++
				keyedMutex.Unlock("key1")
			}()
		}
		wg.Wait()

		assert.Equal(t, 50, counter)
	})
}
