// Package localtx extracts wallet-relevant state from locally signed but
// not yet confirmed transactions: the change outputs coming back to the
// wallet and the tracked outputs the transaction consumes. Feeding both
// into the UTXO set ahead of the next explorer poll keeps the balance
// correct while the explorer lags real time.
package localtx

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/vulpemventures/go-elements/address"
	"github.com/vulpemventures/go-elements/transaction"

	"github.com/tidewallet/tidewallet/addrmgr"
	"github.com/tidewallet/tidewallet/unblind"
	"github.com/tidewallet/tidewallet/utxo"
)

// UnconfirmedOutput references an output of a transaction not yet
// confirmed, paired with the key needed to unblind it later.
type UnconfirmedOutput struct {
	// TxID is the ID of the unconfirmed transaction.
	TxID string

	// Vout is the output index within that transaction.
	Vout uint32

	// BlindingPrivKey is the wallet blinding key able to unblind the
	// output.
	BlindingPrivKey []byte
}

// FromSignedTransaction parses the raw transaction and unblinds the
// referenced candidate outputs immediately, yielding unconfirmed tracked
// outputs. The candidate set is small and locally known, so unblinding
// failures propagate instead of being isolated.
func FromSignedTransaction(txHex string, candidates []UnconfirmedOutput,
	ub unblind.Unblinder) ([]*utxo.Output, error) {

	tx, err := transaction.NewTxFromHex(txHex)
	if err != nil {
		return nil, fmt.Errorf("parse transaction: %w", err)
	}
	txid := tx.TxHash().String()

	outputs := make([]*utxo.Output, 0, len(candidates))
	for _, c := range candidates {
		if c.TxID != txid {
			return nil, fmt.Errorf("candidate %s:%d does not "+
				"reference tx %s", c.TxID, c.Vout, txid)
		}
		if int(c.Vout) >= len(tx.Outputs) {
			return nil, fmt.Errorf("tx %s has no output %d",
				txid, c.Vout)
		}

		op, err := utxo.NewOutPoint(txid, c.Vout)
		if err != nil {
			return nil, err
		}

		out := unblind.Reveal(
			ub, op, tx.Outputs[c.Vout], c.BlindingPrivKey, false,
		)
		if out.BlindingError != nil {
			return nil, fmt.Errorf("unblind local output %v: %w",
				op, out.BlindingError)
		}

		outputs = append(outputs, out)
	}

	return outputs, nil
}

// DetectChangeOutputs parses the transaction outputs and matches each
// destination script against the wallet's known addresses, trying both the
// plain and the confidential form since an output may have been committed
// to either. Outputs matching no wallet address belong to external
// recipients and are silently excluded; per-output parse or match failures
// are treated the same way, never propagated. When several addresses match
// the same script, the first by derivation index wins (the order addrs is
// supplied in).
func DetectChangeOutputs(txHex string,
	addrs []addrmgr.AddressInfo) ([]UnconfirmedOutput, error) {

	tx, err := transaction.NewTxFromHex(txHex)
	if err != nil {
		return nil, fmt.Errorf("parse transaction: %w", err)
	}
	txid := tx.TxHash().String()

	var change []UnconfirmedOutput
	for vout, txOut := range tx.Outputs {
		// The fee output of an elements transaction has an empty
		// script.
		if len(txOut.Script) == 0 {
			continue
		}

		for _, info := range addrs {
			if !paysTo(txOut.Script, info) {
				continue
			}

			change = append(change, UnconfirmedOutput{
				TxID:            txid,
				Vout:            uint32(vout),
				BlindingPrivKey: info.BlindingPrivKey,
			})
			break
		}
	}

	return change, nil
}

// paysTo reports whether the script pays to either form of the wallet
// address. Decoding failures count as no match.
func paysTo(script []byte, info addrmgr.AddressInfo) bool {
	for _, form := range []string{
		info.ConfidentialAddress, info.Address,
	} {
		if form == "" {
			continue
		}

		formScript, err := address.ToOutputScript(form)
		if err != nil {
			continue
		}

		if bytes.Equal(script, formScript) {
			return true
		}
	}

	return false
}

// SelectSpentInputs reverse-interprets every input's previous-output hash
// into a txid and matches it against the wallet's known UTXO set. The
// matched entries are the UTXOs this transaction consumes, eligible for
// immediate removal ahead of the next explorer-driven reconciliation.
func SelectSpentInputs(txHex string,
	known utxo.Set) ([]*utxo.Output, error) {

	tx, err := transaction.NewTxFromHex(txHex)
	if err != nil {
		return nil, fmt.Errorf("parse transaction: %w", err)
	}

	var spent []*utxo.Output
	for _, txIn := range tx.Inputs {
		// The wire format carries the previous txid in reversed
		// byte order.
		hash, err := chainhash.NewHash(txIn.Hash)
		if err != nil {
			continue
		}

		op, err := utxo.NewOutPoint(hash.String(), txIn.Index)
		if err != nil {
			continue
		}

		if out, ok := known.Lookup(op); ok {
			spent = append(spent, out)
		}
	}

	return spent, nil
}
