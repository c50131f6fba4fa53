// Package kmutex provides a mutex keyed by string, used to serialize
// mutations per device code or per location id without a global lock.
package kmutex

import "sync"

// KMutex hands out one mutex per key. Mutexes are created lazily and kept
// for the lifetime of the KMutex; the key space here (device codes, location
// ids) is small and bounded.
type KMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an empty keyed mutex.
func New() *KMutex {
	return &KMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key, creating it on first use.
func (k *KMutex) Lock(key string) {
	k.get(key).Lock()
}

// Unlock releases the mutex for key.
func (k *KMutex) Unlock(key string) {
	k.get(key).Unlock()
}

func (k *KMutex) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	return m
}
