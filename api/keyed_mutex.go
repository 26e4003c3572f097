package api

import "sync"

// KeyedMutex serializes mutations per identity key; used to enforce the
// single-writer discipline on promotion records and dedup entries
type KeyedMutex struct {
	mutex sync.Mutex
	locks map[string]*sync.Mutex
}

// NewKeyedMutex returns a new KeyedMutex
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{
		locks: make(map[string]*sync.Mutex),
	}
}

func (m *KeyedMutex) getKeyLock(key string) *sync.Mutex {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	lock, ok := m.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[key] = lock
	}

	return lock
}

// Lock acquires the lock for key, creating it on first use
func (m *KeyedMutex) Lock(key string) {
	m.getKeyLock(key).Lock()
}

// Unlock releases the lock for key
func (m *KeyedMutex) Unlock(key string) {
	m.getKeyLock(key).Unlock()
}
