package cache

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"sync"

	cachekey "github.com/always-cache/httpreply/pkg/cache-key"
)

type memEntry struct {
	meta Metadata
	body []byte
}

// MemStore keeps entries in a map. It is mostly useful for tests and
// short-lived processes.
type MemStore struct {
	mutex *sync.RWMutex
	db    map[string]memEntry
	keyer cachekey.CacheKeyer
}

func NewMemStore() MemStore {
	return MemStore{
		mutex: &sync.RWMutex{},
		db:    make(map[string]memEntry),
		keyer: cachekey.NewCacheKeyer(""),
	}
}

func (m MemStore) Metadata(u *url.URL) (Metadata, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	entry, ok := m.db[m.keyer.Key(u)]
	if !ok {
		return Metadata{}, false
	}
	return entry.meta.Clone(), true
}

func (m MemStore) Open(u *url.URL) (io.ReadCloser, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	entry, ok := m.db[m.keyer.Key(u)]
	if !ok {
		return nil, false
	}
	return io.NopCloser(bytes.NewReader(entry.body)), true
}

func (m MemStore) Prepare(meta Metadata) (Writer, error) {
	if !meta.IsValid() {
		return nil, fmt.Errorf("Cannot prepare entry without URL")
	}
	return newBufferWriter(meta), nil
}

func (m MemStore) Insert(w Writer) error {
	bw, ok := w.(*bufferWriter)
	if !ok {
		return fmt.Errorf("Writer was not prepared by this store")
	}
	body := append([]byte(nil), bw.Bytes()...)
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.db[m.keyer.Key(bw.meta.URL)] = memEntry{meta: bw.meta, body: body}
	return nil
}

func (m MemStore) Remove(u *url.URL) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	key := m.keyer.Key(u)
	_, ok := m.db[key]
	delete(m.db, key)
	return ok
}

func (m MemStore) Update(meta Metadata) error {
	if !meta.IsValid() {
		return fmt.Errorf("Cannot update entry without URL")
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	key := m.keyer.Key(meta.URL)
	entry, ok := m.db[key]
	if !ok {
		return fmt.Errorf("No entry for %s", meta.URL)
	}
	entry.meta = meta.Clone()
	m.db[key] = entry
	return nil
}

// Len returns the number of stored entries.
func (m MemStore) Len() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.db)
}
