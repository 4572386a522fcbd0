// Package scanner pulls raw, possibly blinded outputs and transactions for
// the wallet's watched addresses from the block explorer and unblinds the
// ones belonging to the wallet, exposing the results as lazy streams so
// callers can act on partial progress.
package scanner

import (
	"context"
	"fmt"
	"sync"

	"github.com/vulpemventures/go-elements/transaction"

	"github.com/tidewallet/tidewallet/explorer"
	"github.com/tidewallet/tidewallet/unblind"
)

// Source abstracts the explorer calls the scanner performs.
type Source interface {
	// AddressUTXOs fetches the unspent outputs of an address.
	AddressUTXOs(ctx context.Context, address string) ([]*explorer.Utxo,
		error)

	// AddressTxs fetches the transactions touching an address.
	AddressTxs(ctx context.Context, address string) ([]*explorer.Tx,
		error)

	// RawTransaction fetches the raw transaction hex by txid.
	RawTransaction(ctx context.Context, txid string) (string, error)
}

// AddrError records the failure of a single address's fetch. One failing
// address degrades the scan summary but never aborts the other addresses.
type AddrError struct {
	// Address is the watched address whose fetch failed.
	Address string

	// Err is the underlying failure.
	Err error
}

// Error implements the error interface.
func (e *AddrError) Error() string {
	return fmt.Sprintf("address %s: %v", e.Address, e.Err)
}

// Unwrap returns the underlying failure.
func (e *AddrError) Unwrap() error {
	return e.Err
}

// Config holds the collaborators of a Scanner.
type Config struct {
	// Source is the explorer backend.
	Source Source

	// Unblinder reveals confidential outputs.
	Unblinder unblind.Unblinder
}

// Scanner fetches and unblinds wallet outputs. It is stateless across scans;
// each scan carries its own transaction cache.
type Scanner struct {
	cfg *Config
}

// New creates a Scanner.
func New(cfg *Config) *Scanner {
	return &Scanner{cfg: cfg}
}

// txCache memoizes parsed raw transactions for the duration of one scan, so
// several outputs of the same transaction cost a single explorer round trip.
type txCache struct {
	mtx    sync.Mutex
	source Source
	txs    map[string]*transaction.Transaction
}

func newTxCache(source Source) *txCache {
	return &txCache{
		source: source,
		txs:    make(map[string]*transaction.Transaction),
	}
}

// fetch returns the parsed transaction with the given ID, pulling it from
// the explorer on first use.
func (c *txCache) fetch(ctx context.Context,
	txid string) (*transaction.Transaction, error) {

	c.mtx.Lock()
	defer c.mtx.Unlock()

	if tx, ok := c.txs[txid]; ok {
		return tx, nil
	}

	txHex, err := c.source.RawTransaction(ctx, txid)
	if err != nil {
		return nil, fmt.Errorf("fetch tx %s: %w", txid, err)
	}

	tx, err := transaction.NewTxFromHex(txHex)
	if err != nil {
		return nil, fmt.Errorf("parse tx %s: %w", txid, err)
	}

	c.txs[txid] = tx

	return tx, nil
}
