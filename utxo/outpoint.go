package utxo

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// txidHexLen is the length of a hex encoded transaction ID.
	txidHexLen = 64

	// keySeparator joins the txid and output index in an outpoint key.
	keySeparator = ":"
)

var (
	// ErrInvalidTxID is returned when a transaction ID is not a 64
	// character hex string.
	ErrInvalidTxID = errors.New("txid must be a 64 character hex string")

	// ErrInvalidOutPointKey is returned when an outpoint key cannot be
	// parsed back into an outpoint.
	ErrInvalidOutPointKey = errors.New("malformed outpoint key")
)

// OutPoint identifies a specific output of a transaction. It is the unique
// key under which the wallet tracks unspent outputs.
type OutPoint struct {
	// TxID is the hex encoded ID of the transaction holding the output,
	// in display byte order.
	TxID string

	// Index is the output index within the transaction.
	Index uint32
}

// NewOutPoint constructs an outpoint, validating the transaction ID.
func NewOutPoint(txid string, index uint32) (OutPoint, error) {
	if len(txid) != txidHexLen {
		return OutPoint{}, ErrInvalidTxID
	}
	if _, err := hex.DecodeString(txid); err != nil {
		return OutPoint{}, ErrInvalidTxID
	}

	return OutPoint{
		TxID:  strings.ToLower(txid),
		Index: index,
	}, nil
}

// Key returns the canonical string form of the outpoint, "<txid>:<vout>".
// The mapping is total, injective and deterministic over the value domain:
// two outpoints are equal iff their keys are equal.
func (o OutPoint) Key() string {
	return o.TxID + keySeparator + strconv.FormatUint(uint64(o.Index), 10)
}

// String returns the same representation as Key.
func (o OutPoint) String() string {
	return o.Key()
}

// OutPointFromKey parses the canonical "<txid>:<vout>" form produced by Key.
func OutPointFromKey(key string) (OutPoint, error) {
	sep := strings.LastIndex(key, keySeparator)
	if sep != txidHexLen {
		return OutPoint{}, fmt.Errorf("%w: %q", ErrInvalidOutPointKey,
			key)
	}

	index, err := strconv.ParseUint(key[sep+1:], 10, 32)
	if err != nil {
		return OutPoint{}, fmt.Errorf("%w: %q: %v",
			ErrInvalidOutPointKey, key, err)
	}

	return NewOutPoint(key[:sep], uint32(index))
}
