// Package walletdb provides the key-value store the wallet persists its
// state into after every mutation batch.
package walletdb

// Store is the wallet's persistence collaborator. Implementations must be
// safe for concurrent use.
type Store interface {
	// Get returns the value for the given key, or nil if the key is
	// absent.
	Get(key []byte) ([]byte, error)

	// Put sets the value for the given key, overwriting any previous
	// value.
	Put(key, value []byte) error

	// Delete removes the given key. Deleting an absent key is not an
	// error.
	Delete(key []byte) error

	// Close releases the underlying resources.
	Close() error
}
