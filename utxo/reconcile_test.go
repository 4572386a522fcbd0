package utxo

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	fn "github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

// mkOutput builds a revealed test output with the given txid byte, vout,
// asset byte and value.
func mkOutput(t *testing.T, txidByte byte, vout uint32, assetByte byte,
	value uint64) *Output {

	t.Helper()

	txid := strings.Repeat(fmt.Sprintf("%02x", txidByte), 32)
	op, err := NewOutPoint(txid, vout)
	require.NoError(t, err)

	asset := strings.Repeat(fmt.Sprintf("%02x", assetByte), 32)

	return &Output{
		OutPoint:  op,
		Asset:     fn.Some(asset),
		Value:     fn.Some(value),
		Confirmed: true,
	}
}

// mkOpaque builds an opaque test output whose unblinding failed.
func mkOpaque(t *testing.T, txidByte byte, vout uint32) *Output {
	t.Helper()

	txid := strings.Repeat(fmt.Sprintf("%02x", txidByte), 32)
	op, err := NewOutPoint(txid, vout)
	require.NoError(t, err)

	return &Output{
		OutPoint:      op,
		BlindingError: errors.New("blinding key mismatch"),
	}
}

// TestReconcileNewOutput covers the case of an empty previous set receiving
// a single fresh output.
func TestReconcileNewOutput(t *testing.T) {
	t.Parallel()

	fresh := mkOutput(t, 0xaa, 0, 0xbb, 1000)

	diff := Reconcile(NewSet(), []*Output{fresh})

	require.False(t, diff.Unchanged)
	require.Equal(t, []*Output{fresh}, diff.Added)
	require.Empty(t, diff.RemovedOutPoints)
}

// TestReconcileSpentOutput covers the case of a tracked output no longer
// reported by the explorer.
func TestReconcileSpentOutput(t *testing.T) {
	t.Parallel()

	prev := NewSet()
	out := mkOutput(t, 0xaa, 0, 0xbb, 1000)
	prev.Add(out)

	diff := Reconcile(prev, nil)

	require.False(t, diff.Unchanged)
	require.Empty(t, diff.Added)
	require.Equal(t, []OutPoint{out.OutPoint}, diff.RemovedOutPoints)
}

// TestReconcileRoundTrip asserts that applying the diff to the previous set
// reproduces exactly the outpoint key set of the fresh batch.
func TestReconcileRoundTrip(t *testing.T) {
	t.Parallel()

	prev := NewSet()
	prev.Add(mkOutput(t, 0x01, 0, 0xbb, 100))
	prev.Add(mkOutput(t, 0x02, 1, 0xbb, 200))
	prev.Add(mkOpaque(t, 0x03, 0))

	fresh := []*Output{
		// Still unspent.
		mkOutput(t, 0x02, 1, 0xbb, 200),
		// Brand new.
		mkOutput(t, 0x04, 0, 0xcc, 400),
		// Still opaque.
		mkOpaque(t, 0x05, 2),
	}

	diff := Reconcile(prev, fresh)
	diff.Apply(prev)

	wantKeys := make(map[string]struct{})
	for _, out := range fresh {
		wantKeys[out.OutPoint.Key()] = struct{}{}
	}

	gotKeys := make(map[string]struct{})
	for key := range prev {
		gotKeys[key] = struct{}{}
	}

	require.Equal(t, wantKeys, gotKeys)
}

// TestReconcileIdempotence asserts that reconciling the already-updated set
// against the same fresh batch yields an empty diff.
func TestReconcileIdempotence(t *testing.T) {
	t.Parallel()

	prev := NewSet()
	prev.Add(mkOutput(t, 0x01, 0, 0xbb, 100))

	fresh := []*Output{
		mkOutput(t, 0x01, 0, 0xbb, 100),
		mkOutput(t, 0x02, 0, 0xbb, 200),
		mkOpaque(t, 0x03, 1),
	}

	diff := Reconcile(prev, fresh)
	diff.Apply(prev)

	again := Reconcile(prev, fresh)
	require.True(t, again.Unchanged)
	require.Empty(t, again.Added)
	require.Empty(t, again.RemovedOutPoints)

	// Applying the empty diff is itself a no-op.
	before := len(prev)
	again.Apply(prev)
	require.Len(t, prev, before)
}

// TestReconcileOpaqueUpgrade asserts that a previously opaque entry that is
// now revealed is re-added as an overwrite, never as a duplicate.
func TestReconcileOpaqueUpgrade(t *testing.T) {
	t.Parallel()

	prev := NewSet()
	prev.Add(mkOpaque(t, 0x01, 0))

	revealed := mkOutput(t, 0x01, 0, 0xbb, 500)
	diff := Reconcile(prev, []*Output{revealed})

	require.False(t, diff.Unchanged)
	require.Empty(t, diff.RemovedOutPoints)
	require.Equal(t, []*Output{revealed}, diff.Added)

	diff.Apply(prev)
	require.Len(t, prev, 1)

	got, ok := prev.Lookup(revealed.OutPoint)
	require.True(t, ok)
	require.True(t, got.IsRevealed())
}

// TestReconcileOpaqueRetention asserts that an unblinding failure neither
// removes the outpoint nor keeps it out of the tracked set: membership is
// independent of unblinding success.
func TestReconcileOpaqueRetention(t *testing.T) {
	t.Parallel()

	prev := NewSet()
	opaque := mkOpaque(t, 0x01, 0)
	prev.Add(opaque)

	// The explorer still reports the output and unblinding fails again.
	diff := Reconcile(prev, []*Output{mkOpaque(t, 0x01, 0)})

	require.True(t, diff.Unchanged)
	require.Empty(t, diff.RemovedOutPoints)
	require.True(t, prev.Contains(opaque.OutPoint))
}

// TestReconcileDuplicateFetch asserts that duplicate outpoints in the fresh
// batch collapse to one entry, preferring the revealed copy.
func TestReconcileDuplicateFetch(t *testing.T) {
	t.Parallel()

	revealed := mkOutput(t, 0x01, 0, 0xbb, 100)
	fresh := []*Output{
		mkOpaque(t, 0x01, 0),
		revealed,
		mkOutput(t, 0x01, 0, 0xbb, 100),
	}

	diff := Reconcile(NewSet(), fresh)

	require.Len(t, diff.Added, 1)
	require.True(t, diff.Added[0].IsRevealed())
}
