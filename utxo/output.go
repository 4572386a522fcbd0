package utxo

import (
	fn "github.com/lightningnetwork/lnd/fn/v2"
	"github.com/vulpemventures/go-elements/transaction"
)

// Output is a transaction output tracked by the wallet. An output enters the
// tracked set regardless of whether it could be unblinded: Asset and Value
// are None when the output is still opaque, either because unblinding failed
// or was never attempted.
type Output struct {
	// OutPoint is the unique identity of the output.
	OutPoint OutPoint

	// Asset is the hex encoded asset ID, in display byte order. None
	// while the output is opaque.
	Asset fn.Option[string]

	// Value is the output amount in satoshi. None while the output is
	// opaque.
	Value fn.Option[uint64]

	// ValueBlinder is the value blinding factor recovered during
	// unblinding, nil for opaque outputs.
	ValueBlinder []byte

	// AssetBlinder is the asset blinding factor recovered during
	// unblinding, nil for opaque outputs.
	AssetBlinder []byte

	// TxOut is the raw previous output as found on chain, carrying the
	// script and the asset/value commitments. It is required to spend
	// the output later and to retry unblinding.
	TxOut *transaction.TxOutput

	// Confirmed reports whether the transaction holding the output has
	// been included in a block.
	Confirmed bool

	// BlindingError records why unblinding failed, if it did. A nil
	// value on an opaque output means unblinding was never attempted.
	BlindingError error
}

// IsRevealed reports whether both the asset and the value of the output are
// known.
func (o *Output) IsRevealed() bool {
	return o.Asset.IsSome() && o.Value.IsSome()
}

// IsOpaque is the negation of IsRevealed.
func (o *Output) IsOpaque() bool {
	return !o.IsRevealed()
}
