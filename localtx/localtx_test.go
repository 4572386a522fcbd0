package localtx

import (
	"strings"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
	"github.com/vulpemventures/go-elements/elementsutil"
	"github.com/vulpemventures/go-elements/network"
	"github.com/vulpemventures/go-elements/transaction"

	"github.com/tidewallet/tidewallet/addrmgr"
	"github.com/tidewallet/tidewallet/unblind"
	"github.com/tidewallet/tidewallet/utxo"
)

const testXPub = "xpub661MyMwAqRbcFtXgS5sYJABqqG9YLmC4Q1Rdap9gSE8NqtwybGh" +
	"ePY2gZ29ESFjqJoCu1Rupje8YtGqsefD265TMg7usUDFdp6W1EGMcet8"

var testAsset = strings.Repeat("bb", 32)

// testAddresses derives a couple of wallet addresses to match against.
func testAddresses(t *testing.T, n int) []addrmgr.AddressInfo {
	t.Helper()

	masterKey := make([]byte, 32)
	for i := range masterKey {
		masterKey[i] = 0x01
	}

	m, err := addrmgr.New(&addrmgr.Config{
		AccountXPub:       testXPub,
		MasterBlindingKey: masterKey,
		Net:               &network.Regtest,
	})
	require.NoError(t, err)

	for i := 0; i < n; i++ {
		_, err := m.NextAddress()
		require.NoError(t, err)
	}

	return m.Addresses()
}

// explicitTxOut builds an unconfidential output paying value of the test
// asset to the given script.
func explicitTxOut(t *testing.T, value uint64,
	script []byte) *transaction.TxOutput {

	t.Helper()

	assetBytes, err := elementsutil.AssetHashToBytes(testAsset)
	require.NoError(t, err)

	valueBytes, err := elementsutil.ValueToBytes(value)
	require.NoError(t, err)

	return transaction.NewTxOutput(assetBytes, valueBytes, script)
}

// buildTx serializes a transaction spending the given outpoint into the
// given outputs.
func buildTx(t *testing.T, spendTxID string, spendVout uint32,
	outs ...*transaction.TxOutput) (string, string) {

	t.Helper()

	prevHash, err := chainhash.NewHashFromStr(spendTxID)
	require.NoError(t, err)

	tx := &transaction.Transaction{Version: 2}
	tx.Inputs = append(
		tx.Inputs, transaction.NewTxInput(prevHash[:], spendVout),
	)
	tx.Outputs = append(tx.Outputs, outs...)

	txHex, err := tx.ToHex()
	require.NoError(t, err)

	return txHex, tx.TxHash().String()
}

// TestDetectChangeOutputs asserts that outputs paying back to wallet
// addresses are detected with their blinding keys, while external outputs
// and the fee output are silently excluded.
func TestDetectChangeOutputs(t *testing.T) {
	t.Parallel()

	addrs := testAddresses(t, 2)

	txHex, txid := buildTx(
		t, strings.Repeat("aa", 32), 0,
		// Change back to wallet address 1.
		explicitTxOut(t, 700, addrs[1].Script),
		// Payment to a script the wallet does not own.
		explicitTxOut(t, 250, []byte{0x51}),
		// Fee output with an empty script.
		explicitTxOut(t, 50, nil),
	)

	change, err := DetectChangeOutputs(txHex, addrs)
	require.NoError(t, err)

	require.Equal(t, []UnconfirmedOutput{{
		TxID:            txid,
		Vout:            0,
		BlindingPrivKey: addrs[1].BlindingPrivKey,
	}}, change)
}

// TestDetectChangeConfidentialFormOnly asserts that an output is still
// classified as change when only the confidential form of the wallet
// address is known.
func TestDetectChangeConfidentialFormOnly(t *testing.T) {
	t.Parallel()

	addrs := testAddresses(t, 1)

	// Only the confidential form is available for matching.
	confOnly := []addrmgr.AddressInfo{{
		Index:               addrs[0].Index,
		ConfidentialAddress: addrs[0].ConfidentialAddress,
		BlindingPrivKey:     addrs[0].BlindingPrivKey,
	}}

	txHex, txid := buildTx(
		t, strings.Repeat("aa", 32), 0,
		explicitTxOut(t, 1000, addrs[0].Script),
	)

	change, err := DetectChangeOutputs(txHex, confOnly)
	require.NoError(t, err)
	require.Len(t, change, 1)
	require.Equal(t, txid, change[0].TxID)
	require.EqualValues(t, 0, change[0].Vout)
}

// TestDetectChangeTieBreak asserts that when two wallet addresses resolve
// to the same script, the first by derivation index supplies the blinding
// key.
func TestDetectChangeTieBreak(t *testing.T) {
	t.Parallel()

	addrs := testAddresses(t, 1)

	// A duplicate entry with a different key, behind the original in
	// derivation order.
	dup := addrs[0]
	dup.Index = 7
	dup.BlindingPrivKey = []byte{0xde, 0xad}
	both := []addrmgr.AddressInfo{addrs[0], dup}

	txHex, _ := buildTx(
		t, strings.Repeat("aa", 32), 0,
		explicitTxOut(t, 1000, addrs[0].Script),
	)

	change, err := DetectChangeOutputs(txHex, both)
	require.NoError(t, err)
	require.Len(t, change, 1)
	require.Equal(t, addrs[0].BlindingPrivKey, change[0].BlindingPrivKey)
}

// TestFromSignedTransaction asserts that candidates are unblinded into
// unconfirmed tracked outputs.
func TestFromSignedTransaction(t *testing.T) {
	t.Parallel()

	addrs := testAddresses(t, 1)

	txHex, txid := buildTx(
		t, strings.Repeat("aa", 32), 0,
		explicitTxOut(t, 900, addrs[0].Script),
	)

	outs, err := FromSignedTransaction(
		txHex,
		[]UnconfirmedOutput{{
			TxID:            txid,
			Vout:            0,
			BlindingPrivKey: addrs[0].BlindingPrivKey,
		}},
		unblind.NewElementsUnblinder(),
	)
	require.NoError(t, err)
	require.Len(t, outs, 1)

	out := outs[0]
	require.Equal(t, txid, out.OutPoint.TxID)
	require.False(t, out.Confirmed)
	require.True(t, out.IsRevealed())
	require.Equal(t, testAsset, out.Asset.UnwrapOr(""))
	require.EqualValues(t, 900, out.Value.UnwrapOr(0))
}

// TestFromSignedTransactionBadCandidate asserts that candidates referencing
// the wrong transaction or a missing output fail synchronously.
func TestFromSignedTransactionBadCandidate(t *testing.T) {
	t.Parallel()

	addrs := testAddresses(t, 1)

	txHex, txid := buildTx(
		t, strings.Repeat("aa", 32), 0,
		explicitTxOut(t, 900, addrs[0].Script),
	)

	ub := unblind.NewElementsUnblinder()

	_, err := FromSignedTransaction(txHex, []UnconfirmedOutput{{
		TxID: strings.Repeat("cc", 32),
		Vout: 0,
	}}, ub)
	require.ErrorContains(t, err, "does not reference")

	_, err = FromSignedTransaction(txHex, []UnconfirmedOutput{{
		TxID: txid,
		Vout: 5,
	}}, ub)
	require.ErrorContains(t, err, "has no output")
}

// TestSelectSpentInputs asserts that a signed transaction's reversed input
// hash is matched against the known UTXO set, making the consumed entry
// eligible for immediate removal.
func TestSelectSpentInputs(t *testing.T) {
	t.Parallel()

	spentTxID := strings.Repeat("aa", 32)

	op, err := utxo.NewOutPoint(spentTxID, 0)
	require.NoError(t, err)

	known := utxo.NewSet()
	tracked := &utxo.Output{OutPoint: op, Confirmed: true}
	known.Add(tracked)

	txHex, _ := buildTx(
		t, spentTxID, 0,
		explicitTxOut(t, 100, []byte{0x51}),
	)

	spent, err := SelectSpentInputs(txHex, known)
	require.NoError(t, err)
	require.Equal(t, []*utxo.Output{tracked}, spent)

	// An input referencing an untracked outpoint matches nothing.
	otherHex, _ := buildTx(
		t, strings.Repeat("dd", 32), 1,
		explicitTxOut(t, 100, []byte{0x51}),
	)
	spent, err = SelectSpentInputs(otherHex, known)
	require.NoError(t, err)
	require.Empty(t, spent)
}
