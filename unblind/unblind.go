// Package unblind wraps the raw confidential-output unblinding primitive
// with per-output failure isolation, so one corrupt or foreign-key output
// never aborts processing of an entire batch.
package unblind

import (
	"errors"
	"fmt"

	fn "github.com/lightningnetwork/lnd/fn/v2"
	"github.com/vulpemventures/go-elements/confidential"
	"github.com/vulpemventures/go-elements/elementsutil"
	"github.com/vulpemventures/go-elements/transaction"

	"github.com/tidewallet/tidewallet/utxo"
)

const (
	// explicitPrefix marks an unblinded (explicit) asset or value
	// encoding in a transaction output.
	explicitPrefix = 0x01
)

var (
	// ErrMissingBlindingKey is returned when a confidential output is
	// unblinded without a blinding key.
	ErrMissingBlindingKey = errors.New("missing blinding key for " +
		"confidential output")

	// ErrMalformedOutput is returned when an output carries neither a
	// valid explicit encoding nor a valid commitment.
	ErrMalformedOutput = errors.New("malformed output encoding")
)

// Revealed holds the plaintext of a transaction output.
type Revealed struct {
	// Asset is the hex encoded asset ID in display byte order.
	Asset string

	// Value is the amount in satoshi.
	Value uint64

	// ValueBlinder is the recovered value blinding factor, nil for
	// explicit outputs.
	ValueBlinder []byte

	// AssetBlinder is the recovered asset blinding factor, nil for
	// explicit outputs.
	AssetBlinder []byte
}

// Unblinder reveals the asset and value of a transaction output.
type Unblinder interface {
	// Unblind attempts to reveal the given output with the given
	// blinding private key. Explicit outputs are decoded without the
	// key.
	Unblind(txOut *transaction.TxOutput,
		blindingKey []byte) (*Revealed, error)
}

// ElementsUnblinder implements Unblinder on top of the go-elements
// cryptographic primitives.
type ElementsUnblinder struct{}

// NewElementsUnblinder returns the production unblinder.
func NewElementsUnblinder() *ElementsUnblinder {
	return &ElementsUnblinder{}
}

// A compile time check to ensure ElementsUnblinder implements Unblinder.
var _ Unblinder = (*ElementsUnblinder)(nil)

// Unblind reveals the asset and value of txOut. Outputs with explicit
// encodings are decoded directly; confidential outputs are unblinded with
// the supplied blinding private key.
func (u *ElementsUnblinder) Unblind(txOut *transaction.TxOutput,
	blindingKey []byte) (*Revealed, error) {

	if txOut == nil || len(txOut.Asset) == 0 || len(txOut.Value) == 0 {
		return nil, ErrMalformedOutput
	}

	// Non-confidential outputs carry the asset and value in the clear.
	// Misclassifying them as confidential would make the raw primitive
	// fail, so they are decoded here instead.
	if txOut.Asset[0] == explicitPrefix &&
		txOut.Value[0] == explicitPrefix {

		value, err := elementsutil.ValueFromBytes(txOut.Value)
		if err != nil {
			return nil, fmt.Errorf("decode explicit value: %w",
				err)
		}

		return &Revealed{
			Asset: elementsutil.AssetHashFromBytes(txOut.Asset),
			Value: value,
		}, nil
	}

	if len(blindingKey) == 0 {
		return nil, ErrMissingBlindingKey
	}

	res, err := confidential.UnblindOutputWithKey(txOut, blindingKey)
	if err != nil {
		return nil, fmt.Errorf("unblind output: %w", err)
	}

	// The recovered asset is in internal byte order without the
	// explicit prefix.
	asset := elementsutil.AssetHashFromBytes(
		append([]byte{explicitPrefix}, res.Asset...),
	)

	return &Revealed{
		Asset:        asset,
		Value:        res.Value,
		ValueBlinder: res.ValueBlindingFactor,
		AssetBlinder: res.AssetBlindingFactor,
	}, nil
}

// Reveal runs the unblinder against txOut and folds the outcome into a
// tracked output. Failures are recorded on the output instead of being
// returned, so batch callers can keep processing sibling outputs; the
// returned output is then opaque but still eligible for set membership.
func Reveal(u Unblinder, op utxo.OutPoint, txOut *transaction.TxOutput,
	blindingKey []byte, confirmed bool) *utxo.Output {

	out := &utxo.Output{
		OutPoint:  op,
		TxOut:     txOut,
		Confirmed: confirmed,
	}

	revealed, err := u.Unblind(txOut, blindingKey)
	if err != nil {
		out.BlindingError = err
		return out
	}

	out.Asset = fn.Some(revealed.Asset)
	out.Value = fn.Some(revealed.Value)
	out.ValueBlinder = revealed.ValueBlinder
	out.AssetBlinder = revealed.AssetBlinder

	return out
}
