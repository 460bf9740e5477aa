package lens

import (
	"errors"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

const debugStorage = false

// Storage defines persistence methods for registry blobs.
type Storage interface {
	SaveState(key string, blob []byte) error
	LoadState(key string) ([]byte, bool, error)
	DeleteState(key string) error
	// ListKeysPrefix returns all keys in the store that begin with the given prefix, in sorted order.
	ListKeysPrefix(prefix string) ([]string, error)
	// ListKeys returns all keys in the store.
	ListKeys() ([]string, error)
	Clear() error
	Close()
}

// KeyPrefixStorage wraps another Storage, prepending a fixed prefix to all keys.
// Its ListKeys and ListKeysPrefix methods strip the prefix before returning.
func KeyPrefixStorage(s Storage, prefix string) Storage {
	if prefix == "" {
		return s
	}
	return &prefixStorage{
		store:  s,
		prefix: prefix + ";",
	}
}

type prefixStorage struct {
	store  Storage
	prefix string
}

func (p *prefixStorage) SaveState(key string, blob []byte) error {
	return p.store.SaveState(p.prefix+key, blob)
}

func (p *prefixStorage) LoadState(key string) ([]byte, bool, error) {
	return p.store.LoadState(p.prefix + key)
}

func (p *prefixStorage) DeleteState(key string) error {
	return p.store.DeleteState(p.prefix + key)
}

func (p *prefixStorage) ListKeysPrefix(prefix string) ([]string, error) {
	underlying, err := p.store.ListKeysPrefix(p.prefix + prefix)
	if err != nil {
		return nil, err
	}
	stripped := make([]string, len(underlying))
	for i, k := range underlying {
		stripped[i] = strings.TrimPrefix(k, p.prefix)
	}
	return stripped, nil
}

func (p *prefixStorage) ListKeys() ([]string, error) {
	return p.ListKeysPrefix("")
}

func (p *prefixStorage) Clear() error {
	keys, err := p.ListKeys()
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := p.DeleteState(key); err != nil {
			return err
		}
	}
	return nil
}

func (p *prefixStorage) Close() {
	p.store.Close()
}

type memStorage struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemStorage returns an in-memory Storage implementation.
func NewMemStorage() Storage {
	return &memStorage{data: make(map[string][]byte)}
}

func (m *memStorage) SaveState(key string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = append([]byte(nil), blob...)
	return nil
}

func (m *memStorage) LoadState(key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	blob, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), blob...), true, nil
}

func (m *memStorage) DeleteState(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}

func (m *memStorage) ListKeysPrefix(prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

func (m *memStorage) ListKeys() ([]string, error) {
	return m.ListKeysPrefix("")
}

func (m *memStorage) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clear(m.data)
	return nil
}

func (m *memStorage) Close() {
	// no resources to free
}

// registry values are compressed before they are stored
const badgerCompression = options.None

type badgerStorage struct {
	db *badger.DB
}

// NewBadgerStorage opens a Badger backed Storage at path. The database is kept when closed.
func NewBadgerStorage(path string, maxMemMB int) (Storage, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("create storage dir failed: %w", err)
	}

	clamp := func(val, lo, high int64) int64 {
		return min(max(val, lo), high)
	}
	memTableSize := clamp(int64(maxMemMB/4), 8, 64) << 20
	opts := badger.DefaultOptions(path).
		WithInMemory(false).
		WithDetectConflicts(true).
		WithCompression(badgerCompression).
		WithNumMemtables(2).
		WithMemTableSize(memTableSize).
		WithBaseTableSize(memTableSize).
		WithIndexCacheSize(clamp(int64(maxMemMB/4), 16, 128) << 20).
		WithValueLogFileSize(1024 * 1024 * 64)
	if debugStorage {
		opts = opts.WithLogger(badgerLogger{})
	} else {
		opts = opts.
			WithLoggingLevel(badger.ERROR).
			WithMetricsEnabled(false)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open storage db failed: %w", err)
	}
	return &badgerStorage{db: db}, nil
}

type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	log.Printf(ErrorLogPrefix+"badger: "+format, args...)
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	log.Printf(WarnLogPrefix+"badger: "+format, args...)
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	log.Printf("badger: "+format, args...)
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	log.Printf("badger: "+format, args...)
}

func (b *badgerStorage) SaveState(key string, blob []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), blob)
	})
}

func (b *badgerStorage) LoadState(key string) ([]byte, bool, error) {
	var raw []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, false, err
	} else if raw == nil {
		return nil, false, nil
	}
	return raw, true, nil
}

func (b *badgerStorage) DeleteState(key string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

func (b *badgerStorage) ListKeysPrefix(prefix string) ([]string, error) {
	var keys []string
	err := b.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.PrefetchValues = false
		it := txn.NewIterator(iterOpts)
		defer it.Close()
		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			keys = append(keys, string(it.Item().Key()))
		}
		return nil
	})
	return keys, err
}

func (b *badgerStorage) ListKeys() ([]string, error) {
	return b.ListKeysPrefix("")
}

func (b *badgerStorage) Clear() error {
	return b.db.DropAll()
}

func (b *badgerStorage) Close() {
	_ = b.db.Close()
}
