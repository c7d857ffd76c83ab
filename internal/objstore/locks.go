package objstore

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const lockShards = 64

// lockTable hands out one RWMutex per name. Entries are reference counted
// and dropped when the last holder releases, so the table only grows with
// the number of names in use at once.
type lockTable struct {
	shards [lockShards]lockShard
}

type lockShard struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.RWMutex
	refs int
}

func newLockTable() *lockTable {
	t := &lockTable{}
	for i := range t.shards {
		t.shards[i].locks = make(map[string]*refLock)
	}
	return t
}

func (t *lockTable) shard(name string) *lockShard {
	return &t.shards[xxhash.Sum64String(name)%lockShards]
}

func (t *lockTable) acquire(name string) *refLock {
	sh := t.shard(name)
	sh.mu.Lock()
	l, ok := sh.locks[name]
	if !ok {
		l = &refLock{}
		sh.locks[name] = l
	}
	l.refs++
	sh.mu.Unlock()
	return l
}

func (t *lockTable) release(name string) {
	sh := t.shard(name)
	sh.mu.Lock()
	if l, ok := sh.locks[name]; ok {
		l.refs--
		if l.refs == 0 {
			delete(sh.locks, name)
		}
	}
	sh.mu.Unlock()
}

// Lock takes the exclusive lock for name and returns its release func.
func (t *lockTable) Lock(name string) func() {
	l := t.acquire(name)
	l.Lock()
	return func() {
		l.Unlock()
		t.release(name)
	}
}

// RLock takes the shared lock for name and returns its release func.
func (t *lockTable) RLock(name string) func() {
	l := t.acquire(name)
	l.RLock()
	return func() {
		l.RUnlock()
		t.release(name)
	}
}

// size reports how many names currently hold entries.
func (t *lockTable) size() int {
	n := 0
	for i := range t.shards {
		sh := &t.shards[i]
		sh.mu.Lock()
		n += len(sh.locks)
		sh.mu.Unlock()
	}
	return n
}
