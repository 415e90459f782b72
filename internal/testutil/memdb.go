// Package testutil provides in-memory storage fakes for tests.
package testutil

import (
	"sort"
	"strings"
	"sync"

	"github.com/talisrun/talischain/core"
	"github.com/talisrun/talischain/storage"
)

// MemDB is an in-memory storage.DB for tests.
type MemDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemDB creates an empty MemDB.
func NewMemDB() *MemDB {
	return &MemDB{data: make(map[string][]byte)}
}

func (m *MemDB) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (m *MemDB) Set(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[string(key)] = cp
	return nil
}

func (m *MemDB) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

func (m *MemDB) NewIterator(prefix []byte) storage.Iterator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, string(prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	it := &memIterator{pos: -1}
	for _, k := range keys {
		v := m.data[k]
		cp := make([]byte, len(v))
		copy(cp, v)
		it.keys = append(it.keys, []byte(k))
		it.vals = append(it.vals, cp)
	}
	return it
}

func (m *MemDB) NewBatch() storage.Batch {
	return &memBatch{db: m}
}

func (m *MemDB) Close() error { return nil }

var (
	_ storage.DB       = (*MemDB)(nil)
	_ storage.Iterator = (*memIterator)(nil)
	_ storage.Batch    = (*memBatch)(nil)
)

type memIterator struct {
	keys [][]byte
	vals [][]byte
	pos  int
}

func (it *memIterator) Next() bool {
	it.pos++
	return it.pos < len(it.keys)
}

func (it *memIterator) Key() []byte   { return it.keys[it.pos] }
func (it *memIterator) Value() []byte { return it.vals[it.pos] }
func (it *memIterator) Release()      {}
func (it *memIterator) Error() error  { return nil }

type memBatch struct {
	db   *MemDB
	sets map[string][]byte
	dels []string
}

func (b *memBatch) Set(key, value []byte) {
	if b.sets == nil {
		b.sets = make(map[string][]byte)
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	b.sets[string(key)] = cp
}

func (b *memBatch) Delete(key []byte) {
	b.dels = append(b.dels, string(key))
}

func (b *memBatch) Reset() {
	b.sets = nil
	b.dels = nil
}

func (b *memBatch) Write() error {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	for k, v := range b.sets {
		b.db.data[k] = v
	}
	for _, k := range b.dels {
		delete(b.db.data, k)
	}
	return nil
}

// NewStateDB returns a StateDB over a fresh MemDB.
func NewStateDB() *storage.StateDB {
	return storage.NewStateDB(NewMemDB())
}

// MemBlockStore is an in-memory core.BlockStore for tests.
type MemBlockStore struct {
	mu       sync.RWMutex
	byHash   map[string]*core.Block
	byHeight map[int64]*core.Block
	tip      string
}

// NewMemBlockStore creates an empty MemBlockStore.
func NewMemBlockStore() *MemBlockStore {
	return &MemBlockStore{
		byHash:   make(map[string]*core.Block),
		byHeight: make(map[int64]*core.Block),
	}
}

func (s *MemBlockStore) GetBlock(hash string) (*core.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.byHash[hash]
	if !ok {
		return nil, core.ErrNotFound
	}
	return b, nil
}

func (s *MemBlockStore) GetBlockByHeight(height int64) (*core.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.byHeight[height]
	if !ok {
		return nil, core.ErrNotFound
	}
	return b, nil
}

func (s *MemBlockStore) GetTip() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tip, nil
}

func (s *MemBlockStore) CommitBlock(b *core.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byHash[b.Hash] = b
	s.byHeight[b.Header.Height] = b
	s.tip = b.Hash
	return nil
}
