package assets

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tidewallet/tidewallet/explorer"
)

// TestRegistryCaches asserts that repeated lookups hit the explorer once.
func TestRegistryCaches(t *testing.T) {
	t.Parallel()

	assetHash := strings.Repeat("dd", 32)

	var fetches int
	r := NewRegistry(func(_ context.Context,
		hash string) (*explorer.AssetInfo, error) {

		fetches++
		return &explorer.AssetInfo{
			AssetID:   hash,
			Name:      "Test Asset",
			Ticker:    "TST",
			Precision: 8,
		}, nil
	}, time.Hour)

	for i := 0; i < 3; i++ {
		info, err := r.Info(context.Background(), assetHash)
		require.NoError(t, err)
		require.Equal(t, "TST", info.Ticker)
	}

	require.Equal(t, 1, fetches)
}

// TestRegistryFetchFailure asserts that fetch errors propagate and are not
// cached.
func TestRegistryFetchFailure(t *testing.T) {
	t.Parallel()

	var fetches int
	r := NewRegistry(func(context.Context,
		string) (*explorer.AssetInfo, error) {

		fetches++
		return nil, errors.New("registry unreachable")
	}, time.Hour)

	_, err := r.Info(context.Background(), strings.Repeat("aa", 32))
	require.Error(t, err)

	_, err = r.Info(context.Background(), strings.Repeat("aa", 32))
	require.Error(t, err)
	require.Equal(t, 2, fetches)
}
