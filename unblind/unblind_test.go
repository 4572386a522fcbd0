package unblind

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vulpemventures/go-elements/elementsutil"
	"github.com/vulpemventures/go-elements/transaction"

	"github.com/tidewallet/tidewallet/utxo"
)

var (
	testAsset = strings.Repeat("bb", 32)
	testTxID  = strings.Repeat("aa", 32)
)

// explicitTxOut builds a non-confidential output for the test asset with
// the given value.
func explicitTxOut(t *testing.T, value uint64) *transaction.TxOutput {
	t.Helper()

	assetBytes, err := elementsutil.AssetHashToBytes(testAsset)
	require.NoError(t, err)

	valueBytes, err := elementsutil.ValueToBytes(value)
	require.NoError(t, err)

	return transaction.NewTxOutput(assetBytes, valueBytes, []byte{0x00})
}

// TestUnblindExplicitOutput asserts that outputs carrying their asset and
// value in the clear are decoded without touching the crypto primitive.
func TestUnblindExplicitOutput(t *testing.T) {
	t.Parallel()

	u := NewElementsUnblinder()

	revealed, err := u.Unblind(explicitTxOut(t, 1000), nil)
	require.NoError(t, err)
	require.Equal(t, testAsset, revealed.Asset)
	require.EqualValues(t, 1000, revealed.Value)
	require.Nil(t, revealed.ValueBlinder)
	require.Nil(t, revealed.AssetBlinder)
}

// TestUnblindMalformedOutput asserts that garbage commitments surface an
// error instead of panicking.
func TestUnblindMalformedOutput(t *testing.T) {
	t.Parallel()

	u := NewElementsUnblinder()

	_, err := u.Unblind(nil, nil)
	require.ErrorIs(t, err, ErrMalformedOutput)

	// A confidential-looking output with garbage commitments and no
	// key.
	bogus := &transaction.TxOutput{
		Asset: append([]byte{0x0a}, make([]byte, 32)...),
		Value: append([]byte{0x08}, make([]byte, 32)...),
	}
	_, err = u.Unblind(bogus, nil)
	require.ErrorIs(t, err, ErrMissingBlindingKey)

	// Same output with a key: the raw primitive must reject it, and
	// the failure must come back as an error rather than a panic.
	_, err = u.Unblind(bogus, make([]byte, 32))
	require.Error(t, err)
}

// TestRevealIsolatesFailures asserts that Reveal never propagates a
// per-output failure: the output comes back opaque with the reason
// recorded, keeping it eligible for set membership.
func TestRevealIsolatesFailures(t *testing.T) {
	t.Parallel()

	op, err := utxo.NewOutPoint(testTxID, 0)
	require.NoError(t, err)

	u := NewElementsUnblinder()

	bogus := &transaction.TxOutput{
		Asset: append([]byte{0x0a}, make([]byte, 32)...),
		Value: append([]byte{0x08}, make([]byte, 32)...),
	}

	out := Reveal(u, op, bogus, make([]byte, 32), true)
	require.True(t, out.IsOpaque())
	require.Error(t, out.BlindingError)
	require.Equal(t, op, out.OutPoint)
	require.True(t, out.Confirmed)
}

// TestRevealExplicit asserts the success path populates the tracked output.
func TestRevealExplicit(t *testing.T) {
	t.Parallel()

	op, err := utxo.NewOutPoint(testTxID, 1)
	require.NoError(t, err)

	u := NewElementsUnblinder()

	out := Reveal(u, op, explicitTxOut(t, 5000), nil, false)
	require.True(t, out.IsRevealed())
	require.NoError(t, out.BlindingError)
	require.Equal(t, testAsset, out.Asset.UnwrapOr(""))
	require.EqualValues(t, 5000, out.Value.UnwrapOr(0))
	require.False(t, out.Confirmed)
}
