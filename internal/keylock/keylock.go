package keylock

import (
	"hash/fnv"
	"sync"
)

const defaultStripes = 256

// KeyLock serializes work per string key using a fixed set of striped mutexes.
// Two keys may share a stripe; that only costs extra contention, never safety.
type KeyLock struct {
	stripes []sync.Mutex
}

func New() *KeyLock {
	return &KeyLock{stripes: make([]sync.Mutex, defaultStripes)}
}

func (l *KeyLock) Lock(key string) {
	l.stripes[l.index(key)].Lock()
}

func (l *KeyLock) Unlock(key string) {
	l.stripes[l.index(key)].Unlock()
}

// Do runs fn while holding the lock for key.
func (l *KeyLock) Do(key string, fn func() error) error {
	l.Lock(key)
	defer l.Unlock(key)
	return fn()
}

func (l *KeyLock) index(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(l.stripes)))
}
