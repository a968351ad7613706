// Package utils provides small shared helpers.
package utils

import "sync"

// KeyedMutex serializes operations per string key. Used to serialize trade
// matching per (portfolio, asset) and snapshot computation per
// (portfolio, date, granularity) within the process.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex creates an empty keyed mutex
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock acquires the lock for the given key, blocking until available
func (k *KeyedMutex) Lock(key string) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
}

// TryLock acquires the lock for the key without blocking.
// Returns false if another caller holds it.
func (k *KeyedMutex) TryLock(key string) bool {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	if !l.mu.TryLock() {
		k.mu.Unlock()
		return false
	}
	l.refs++
	k.mu.Unlock()
	return true
}

// Unlock releases the lock for the given key
func (k *KeyedMutex) Unlock(key string) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if ok {
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
	}
	k.mu.Unlock()

	if ok {
		l.mu.Unlock()
	}
}
