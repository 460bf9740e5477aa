package lens

import (
	"hash"
	"hash/fnv"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

const ErrorLogPrefix = "!! "
const WarnLogPrefix = "WARN: "

// ErrGroupLimitCPU returns an errgroup limited to NumCPU.
func ErrGroupLimitCPU() *errgroup.Group {
	errGroup := &errgroup.Group{}
	errGroup.SetLimit(runtime.NumCPU())
	return errGroup
}

func limitStringLines(s string, count int, head bool) string {
	lines := strings.Split(s, "\n")
	if len(lines) > count {
		if head {
			lines = lines[:count]
		} else {
			lines = lines[len(lines)-count:]
		}
		return strings.Join(lines, "\n")
	} else {
		return s
	}
}

func newDefaultStripedMutex() *stripedMutex {
	return newStripedMutex(257) // prime number provides better distributions
}

// newStripedMutex creates a new mutex with the given concurrency.
func newStripedMutex(stripes uint) *stripedMutex {
	m := &stripedMutex{
		make([]*sync.Mutex, stripes),
		&sync.Pool{New: func() interface{} { return fnv.New64() }},
	}
	for i := range m.locks {
		m.locks[i] = &sync.Mutex{}
	}

	return m
}

type stripedMutex struct {
	locks []*sync.Mutex
	pool  *sync.Pool
}

// Lock acquire lock for a given key, returning the mutex for an easy unlock.
func (m *stripedMutex) Lock(key string) *sync.Mutex {
	l := m.getLock(key)
	l.Lock()
	return l
}

// GetLock retrieve a lock for a given key.
func (m *stripedMutex) getLock(key string) *sync.Mutex {
	return m.locks[m.hash(key)%uint64(len(m.locks))]
}

func (m *stripedMutex) hash(key string) uint64 {
	h := m.pool.Get().(hash.Hash64)
	defer m.pool.Put(h)
	h.Reset()
	_, _ = h.Write([]byte(key))
	return h.Sum64()
}
