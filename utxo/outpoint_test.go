package utxo

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const testTxID = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa" +
	"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

// TestOutPointKeyRoundTrip asserts that Key and OutPointFromKey are inverse
// and that key equality coincides with value equality.
func TestOutPointKeyRoundTrip(t *testing.T) {
	t.Parallel()

	op, err := NewOutPoint(testTxID, 7)
	require.NoError(t, err)
	require.Equal(t, testTxID+":7", op.Key())

	parsed, err := OutPointFromKey(op.Key())
	require.NoError(t, err)
	require.Equal(t, op, parsed)

	other, err := NewOutPoint(testTxID, 8)
	require.NoError(t, err)
	require.NotEqual(t, op.Key(), other.Key())
}

// TestOutPointValidation asserts that malformed txids and keys are rejected.
func TestOutPointValidation(t *testing.T) {
	t.Parallel()

	_, err := NewOutPoint("abc", 0)
	require.ErrorIs(t, err, ErrInvalidTxID)

	_, err = NewOutPoint(strings.Repeat("z", 64), 0)
	require.ErrorIs(t, err, ErrInvalidTxID)

	_, err = OutPointFromKey(testTxID)
	require.ErrorIs(t, err, ErrInvalidOutPointKey)

	_, err = OutPointFromKey(testTxID + ":notanint")
	require.ErrorIs(t, err, ErrInvalidOutPointKey)
}

// TestOutPointCaseFolding asserts txids are canonicalized to lower case so
// that the key mapping stays injective over the value domain.
func TestOutPointCaseFolding(t *testing.T) {
	t.Parallel()

	lower, err := NewOutPoint(testTxID, 1)
	require.NoError(t, err)

	upper, err := NewOutPoint(strings.ToUpper(testTxID), 1)
	require.NoError(t, err)

	require.Equal(t, lower.Key(), upper.Key())
}
