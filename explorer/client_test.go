package explorer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newTestClient spins up a stub Esplora server and a client pointed at it.
func newTestClient(t *testing.T,
	handler http.HandlerFunc) (*Client, *httptest.Server) {

	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(&Config{
		URL:            server.URL,
		RequestTimeout: 5 * time.Second,
		MaxRetries:     1,
		PollInterval:   time.Hour,
	})

	return client, server
}

// TestAddressUTXOs asserts decoding of both confidential and explicit
// unspent outputs.
func TestAddressUTXOs(t *testing.T) {
	t.Parallel()

	const payload = `[
		{
			"txid": "` + "aa" + `aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
			"vout": 0,
			"status": {"confirmed": true, "block_height": 100},
			"valuecommitment": "08deadbeef",
			"assetcommitment": "0adeadbeef"
		},
		{
			"txid": "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
			"vout": 1,
			"status": {"confirmed": false},
			"value": 1000,
			"asset": "cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc"
		}
	]`

	client, _ := newTestClient(
		t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(
				t, "/address/ex1qtest/utxo", r.URL.Path,
			)
			w.Write([]byte(payload))
		},
	)

	utxos, err := client.AddressUTXOs(
		context.Background(), "ex1qtest",
	)
	require.NoError(t, err)
	require.Len(t, utxos, 2)

	require.True(t, utxos[0].IsConfidential())
	require.True(t, utxos[0].Status.Confirmed)
	require.EqualValues(t, 0, utxos[0].Value)

	require.False(t, utxos[1].IsConfidential())
	require.EqualValues(t, 1000, utxos[1].Value)
	require.Equal(t, strings.Repeat("cc", 32), utxos[1].Asset)
}

// TestAssetLookup asserts decoding of the asset registry endpoint.
func TestAssetLookup(t *testing.T) {
	t.Parallel()

	assetHash := strings.Repeat("dd", 32)

	client, _ := newTestClient(
		t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/asset/"+assetHash, r.URL.Path)
			w.Write([]byte(
				`{"name": "Tether USD", "ticker": "USDt",` +
					`"precision": 8}`,
			))
		},
	)

	info, err := client.Asset(context.Background(), assetHash)
	require.NoError(t, err)
	require.Equal(t, assetHash, info.AssetID)
	require.Equal(t, "Tether USD", info.Name)
	require.Equal(t, "USDt", info.Ticker)
	require.EqualValues(t, 8, info.Precision)
}

// TestBroadcast asserts the POST /tx round trip.
func TestBroadcast(t *testing.T) {
	t.Parallel()

	txid := strings.Repeat("ee", 32)

	client, _ := newTestClient(
		t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "/tx", r.URL.Path)
			w.Write([]byte(txid))
		},
	)

	got, err := client.Broadcast(context.Background(), "0200aabb")
	require.NoError(t, err)
	require.Equal(t, txid, got)
}

// TestNotFound asserts a missing transaction surfaces ErrTxNotFound.
func TestNotFound(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(
		t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "not found", http.StatusNotFound)
		},
	)

	_, err := client.RawTransaction(
		context.Background(), strings.Repeat("aa", 32),
	)
	require.ErrorIs(t, err, ErrTxNotFound)
}

// TestStartWithDefaults asserts that a client configured with only a URL
// starts against a healthy explorer: the timing and retry fields fall back
// to usable defaults instead of an already-expired timeout and a zero poll
// interval.
func TestStartWithDefaults(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/blocks/tip/height", r.URL.Path)
			w.Write([]byte("2100"))
		},
	))
	t.Cleanup(server.Close)

	client := NewClient(&Config{URL: server.URL})

	require.NoError(t, client.Start())
	require.EqualValues(t, 2100, client.BestHeight())
	require.NoError(t, client.Stop())
}

// TestRetries asserts transient failures are retried before giving up.
func TestRetries(t *testing.T) {
	t.Parallel()

	var hits int
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			hits++
			if hits == 1 {
				// Drop the first connection mid-flight.
				hj, ok := w.(http.Hijacker)
				require.True(t, ok)
				conn, _, err := hj.Hijack()
				require.NoError(t, err)
				conn.Close()
				return
			}
			w.Write([]byte("123"))
		},
	))
	t.Cleanup(server.Close)

	client := NewClient(&Config{
		URL:            server.URL,
		RequestTimeout: 5 * time.Second,
		MaxRetries:     2,
		PollInterval:   time.Hour,
	})

	height, err := client.TipHeight(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 123, height)
	require.Equal(t, 2, hits)
}
