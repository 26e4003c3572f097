package dedup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckAndInsert(t *testing.T) {

	t.Run("InsertsUnseenKey", func(t *testing.T) {

		client := NewInMemoryClient(time.Hour)

		// act
		existingID, inserted, err := client.CheckAndInsert(context.Background(), "repo|sha|merge", "request-1")

		assert.Nil(t, err)
		assert.True(t, inserted)
		assert.Equal(t, "request-1", existingID)
	})

	t.Run("ReturnsExistingRequestIDForDuplicateKey", func(t *testing.T) {

		client := NewInMemoryClient(time.Hour)
		_, _, err := client.CheckAndInsert(context.Background(), "repo|sha|merge", "request-1")
		assert.Nil(t, err)

		// act
		existingID, inserted, err := client.CheckAndInsert(context.Background(), "repo|sha|merge", "request-2")

		assert.Nil(t, err)
		assert.False(t, inserted)
		assert.Equal(t, "request-1", existingID)
	})

	t.Run("InsertsAgainAfterTTLExpiry", func(t *testing.T) {

		client := NewInMemoryClient(time.Hour)
		now := time.Now().UTC()
		client.(*inMemoryClient).now = func() time.Time { return now }
		_, _, err := client.CheckAndInsert(context.Background(), "repo|sha|merge", "request-1")
		assert.Nil(t, err)

		client.(*inMemoryClient).now = func() time.Time { return now.Add(2 * time.Hour) }

		// act
		existingID, inserted, err := client.CheckAndInsert(context.Background(), "repo|sha|merge", "request-2")

		assert.Nil(t, err)
		assert.True(t, inserted)
		assert.Equal(t, "request-2", existingID)
	})

	t.Run("ExactlyOneConcurrentDeliveryWins", func(t *testing.T) {

		client := NewInMemoryClient(time.Hour)

		insertedCount := 0
		var countMutex sync.Mutex
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()

				// act
				_, inserted, err := client.CheckAndInsert(context.Background(), "repo|sha|pr", "request")

				assert.Nil(t, err)
				if inserted {
					countMutex.Lock()
					insertedCount++
					countMutex.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, insertedCount)
	})
}
