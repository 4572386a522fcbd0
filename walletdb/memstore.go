package walletdb

import "sync"

// MemStore is an in-memory Store used in tests and for ephemeral wallets.
type MemStore struct {
	mtx  sync.RWMutex
	data map[string][]byte
}

// A compile time check to ensure MemStore implements Store.
var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		data: make(map[string][]byte),
	}
}

// Get returns the value for the given key, or nil if absent.
func (s *MemStore) Get(key []byte) ([]byte, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	value, ok := s.data[string(key)]
	if !ok {
		return nil, nil
	}

	cp := make([]byte, len(value))
	copy(cp, value)

	return cp, nil
}

// Put sets the value for the given key.
func (s *MemStore) Put(key, value []byte) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	cp := make([]byte, len(value))
	copy(cp, value)
	s.data[string(key)] = cp

	return nil
}

// Delete removes the given key.
func (s *MemStore) Delete(key []byte) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	delete(s.data, string(key))

	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemStore) Close() error {
	return nil
}
