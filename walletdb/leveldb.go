package walletdb

import (
	"errors"

	"github.com/syndtr/goleveldb/leveldb"
	ldbErrors "github.com/syndtr/goleveldb/leveldb/errors"
)

// LevelStore is a thin Store wrapper around leveldb.
type LevelStore struct {
	ldb *leveldb.DB
}

// A compile time check to ensure LevelStore implements Store.
var _ Store = (*LevelStore)(nil)

// OpenLevelStore opens a leveldb instance at the given path, creating it if
// it does not exist. If the database is corrupted, recovery is attempted
// before giving up.
func OpenLevelStore(path string) (*LevelStore, error) {
	ldb, err := leveldb.OpenFile(path, nil)

	if _, corrupted := err.(*ldbErrors.ErrCorrupted); corrupted {
		log.Warnf("LevelDB corruption detected for path %s: %s",
			path, err)

		ldb, err = leveldb.RecoverFile(path, nil)
		if err != nil {
			return nil, err
		}

		log.Warnf("LevelDB recovered from corruption for path %s",
			path)
	}

	if err != nil {
		return nil, err
	}

	return &LevelStore{ldb: ldb}, nil
}

// Get returns the value for the given key. It returns nil if the key does
// not exist.
func (s *LevelStore) Get(key []byte) ([]byte, error) {
	data, err := s.ldb.Get(key, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return data, nil
}

// Put sets the value for the given key.
func (s *LevelStore) Put(key, value []byte) error {
	return s.ldb.Put(key, value, nil)
}

// Delete removes the given key.
func (s *LevelStore) Delete(key []byte) error {
	return s.ldb.Delete(key, nil)
}

// Close closes the leveldb instance.
func (s *LevelStore) Close() error {
	return s.ldb.Close()
}
