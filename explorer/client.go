// Package explorer implements an HTTP client for an Esplora style block
// explorer indexing a Liquid network, covering the address, transaction,
// asset and broadcast endpoints the wallet depends on.
package explorer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrClientShutdown is returned when the client has been shut down.
	ErrClientShutdown = errors.New("explorer client has been shut down")

	// ErrNotConnected is returned when the API is not reachable.
	ErrNotConnected = errors.New("explorer API not reachable")

	// ErrTxNotFound is returned when a transaction cannot be found.
	ErrTxNotFound = errors.New("transaction not found")
)

const (
	// DefaultRequestTimeout is the per-request timeout applied when the
	// configuration leaves RequestTimeout unset.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultMaxRetries is the retry budget applied when the
	// configuration leaves MaxRetries unset.
	DefaultMaxRetries = 3

	// DefaultPollInterval is the tip polling interval applied when the
	// configuration leaves PollInterval unset.
	DefaultPollInterval = 10 * time.Second
)

// Config holds the configuration for the explorer client.
type Config struct {
	// URL is the base URL of the Esplora API (e.g.
	// https://blockstream.info/liquid/api).
	URL string

	// RequestTimeout is the timeout for individual HTTP requests.
	RequestTimeout time.Duration

	// MaxRetries is the maximum number of retries for failed requests.
	MaxRetries int

	// PollInterval is the interval for polling the chain tip.
	PollInterval time.Duration
}

// Client is an HTTP client for the Esplora REST API of a Liquid network.
type Client struct {
	cfg *Config

	httpClient *http.Client

	started atomic.Bool

	// tipMtx protects the tip fields.
	tipMtx    sync.RWMutex
	tipHeight int64
	tipHash   string

	// subscribersMtx protects the subscribers map. Each subscriber gets
	// its own copy of tip notifications.
	subscribersMtx sync.RWMutex
	subscribers    map[uint64]chan int64
	nextSubID      uint64

	wg   sync.WaitGroup
	quit chan struct{}
}

// NewClient creates a new explorer client with the given configuration.
// Unset timing and retry fields fall back to the package defaults, so a
// config carrying only the URL yields a working client.
func NewClient(cfg *Config) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		subscribers: make(map[uint64]chan int64),
		quit:        make(chan struct{}),
	}
}

// Start verifies connectivity and begins polling the chain tip.
func (c *Client) Start() error {
	if c.started.Swap(true) {
		return nil
	}

	log.Infof("Starting explorer client, url=%s", c.cfg.URL)

	ctx, cancel := context.WithTimeout(
		context.Background(), c.cfg.RequestTimeout,
	)
	defer cancel()

	height, err := c.TipHeight(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	c.tipMtx.Lock()
	c.tipHeight = height
	c.tipMtx.Unlock()

	log.Infof("Connected to explorer: tip height=%d", height)

	c.wg.Add(1)
	go c.tipPoller()

	return nil
}

// Stop shuts down the client.
func (c *Client) Stop() error {
	if !c.started.Load() {
		return nil
	}

	log.Info("Stopping explorer client")

	close(c.quit)
	c.wg.Wait()

	c.subscribersMtx.Lock()
	for id, ch := range c.subscribers {
		close(ch)
		delete(c.subscribers, id)
	}
	c.subscribersMtx.Unlock()

	return nil
}

// Subscribe registers a new subscriber for tip-height notifications and
// returns the subscription channel and ID.
func (c *Client) Subscribe() (<-chan int64, uint64) {
	c.subscribersMtx.Lock()
	defer c.subscribersMtx.Unlock()

	id := c.nextSubID
	c.nextSubID++

	ch := make(chan int64, 10)
	c.subscribers[id] = ch

	log.Debugf("New tip notification subscriber: id=%d, total=%d",
		id, len(c.subscribers))

	return ch, id
}

// Unsubscribe removes a subscriber from tip notifications.
func (c *Client) Unsubscribe(id uint64) {
	c.subscribersMtx.Lock()
	defer c.subscribersMtx.Unlock()

	if ch, ok := c.subscribers[id]; ok {
		close(ch)
		delete(c.subscribers, id)
	}
}

// notifySubscribers sends a tip notification to all subscribers.
func (c *Client) notifySubscribers(height int64) {
	c.subscribersMtx.RLock()
	defer c.subscribersMtx.RUnlock()

	for id, ch := range c.subscribers {
		select {
		case ch <- height:
		default:
			// Channel full, don't block the poller.
			log.Warnf("Tip notification channel full for "+
				"subscriber %d, skipping height %d", id,
				height)
		}
	}
}

// tipPoller polls the chain tip at regular intervals.
func (c *Client) tipPoller() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.quit:
			return
		case <-ticker.C:
			c.checkTip()
		}
	}
}

// checkTip fetches the current tip and notifies subscribers when it moved.
func (c *Client) checkTip() {
	ctx, cancel := context.WithTimeout(
		context.Background(), c.cfg.RequestTimeout,
	)
	defer cancel()

	newHeight, err := c.TipHeight(ctx)
	if err != nil {
		// Transient explorer failure: skip this cycle, the next
		// tick retries.
		log.Debugf("Failed to get tip height: %v", err)
		return
	}

	c.tipMtx.Lock()
	moved := newHeight != c.tipHeight
	c.tipHeight = newHeight
	c.tipMtx.Unlock()

	if moved {
		log.Debugf("New chain tip: height=%d", newHeight)
		c.notifySubscribers(newHeight)
	}
}

// BestHeight returns the last observed tip height.
func (c *Client) BestHeight() int64 {
	c.tipMtx.RLock()
	defer c.tipMtx.RUnlock()
	return c.tipHeight
}

// doRequest performs an HTTP request with retries.
func (c *Client) doRequest(ctx context.Context, method, path string,
	body io.Reader) (*http.Response, error) {

	url := c.cfg.URL + path

	var lastErr error
	for i := 0; i <= c.cfg.MaxRetries; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.quit:
			return nil, ErrClientShutdown
		default:
		}

		req, err := http.NewRequestWithContext(
			ctx, method, url, body,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w",
				err)
		}

		if body != nil {
			req.Header.Set("Content-Type", "text/plain")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if i < c.cfg.MaxRetries {
				time.Sleep(
					time.Duration(i+1) * 100 *
						time.Millisecond,
				)
			}
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w",
		c.cfg.MaxRetries+1, lastErr)
}

// doGet performs a GET request and returns the response body.
func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrTxNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d: %s",
			resp.StatusCode, string(body))
	}

	return body, nil
}

// TipHeight returns the current chain tip height.
func (c *Client) TipHeight(ctx context.Context) (int64, error) {
	body, err := c.doGet(ctx, "/blocks/tip/height")
	if err != nil {
		return 0, err
	}

	height, err := strconv.ParseInt(string(body), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse height: %w", err)
	}

	return height, nil
}

// AddressUTXOs fetches the unspent outputs of an address. Confidential
// outputs carry commitments instead of explicit asset and value.
func (c *Client) AddressUTXOs(ctx context.Context,
	address string) ([]*Utxo, error) {

	body, err := c.doGet(ctx, "/address/"+address+"/utxo")
	if err != nil {
		return nil, err
	}

	var utxos []*Utxo
	if err := json.Unmarshal(body, &utxos); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return utxos, nil
}

// AddressTxs fetches the transactions touching an address.
func (c *Client) AddressTxs(ctx context.Context,
	address string) ([]*Tx, error) {

	body, err := c.doGet(ctx, "/address/"+address+"/txs")
	if err != nil {
		return nil, err
	}

	var txs []*Tx
	if err := json.Unmarshal(body, &txs); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return txs, nil
}

// RawTransaction fetches the raw transaction hex by txid.
func (c *Client) RawTransaction(ctx context.Context,
	txid string) (string, error) {

	body, err := c.doGet(ctx, "/tx/"+txid+"/hex")
	if err != nil {
		return "", err
	}

	return string(body), nil
}

// TxStatus fetches the confirmation status of a transaction.
func (c *Client) TxStatus(ctx context.Context,
	txid string) (*TxStatus, error) {

	body, err := c.doGet(ctx, "/tx/"+txid+"/status")
	if err != nil {
		return nil, err
	}

	var status TxStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &status, nil
}

// Asset fetches the registry metadata of an asset.
func (c *Client) Asset(ctx context.Context,
	assetHash string) (*AssetInfo, error) {

	body, err := c.doGet(ctx, "/asset/"+assetHash)
	if err != nil {
		return nil, err
	}

	var info AssetInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if info.AssetID == "" {
		info.AssetID = assetHash
	}

	return &info, nil
}

// Broadcast submits a raw transaction to the network and returns the txid
// on success.
func (c *Client) Broadcast(ctx context.Context, txHex string) (string, error) {
	resp, err := c.doRequest(
		ctx, http.MethodPost, "/tx", bytes.NewBufferString(txHex),
	)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("broadcast failed with status %d: %s",
			resp.StatusCode, string(body))
	}

	return string(body), nil
}
