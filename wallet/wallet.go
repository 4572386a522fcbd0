// Package wallet is the stateful core tying the other packages together: it
// owns the tracked UTXO set and the transaction history, drives periodic
// explorer refreshes through the scanner, reconciles the results into its
// state and persists every mutation batch.
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"

	"github.com/tidewallet/tidewallet/addrmgr"
	"github.com/tidewallet/tidewallet/explorer"
	"github.com/tidewallet/tidewallet/localtx"
	"github.com/tidewallet/tidewallet/scanner"
	"github.com/tidewallet/tidewallet/unblind"
	"github.com/tidewallet/tidewallet/utxo"
	"github.com/tidewallet/tidewallet/walletdb"
)

var (
	// ErrWalletExists is returned by Create when the store already holds
	// a wallet for the configured network. The check runs before
	// anything is written.
	ErrWalletExists = errors.New("wallet already exists for this network")

	// ErrWalletNotFound is returned by Open when no wallet has been
	// created for the configured network.
	ErrWalletNotFound = errors.New("no wallet found for this network")

	// ErrRefreshInFlight is returned when a refresh is requested while a
	// previous one is still running. Triggers are dropped, never queued.
	ErrRefreshInFlight = errors.New("a refresh is already in flight")
)

// Chain is the explorer surface the wallet depends on: the scanner's read
// calls plus transaction broadcast.
type Chain interface {
	scanner.Source

	// Broadcast publishes a signed raw transaction and returns its txid.
	Broadcast(ctx context.Context, txHex string) (string, error)
}

// Config holds the collaborators and parameters of a Wallet.
type Config struct {
	// Chain is the explorer backend.
	Chain Chain

	// AddrManager derives and tracks the watched addresses.
	AddrManager *addrmgr.Manager

	// Store persists wallet state across restarts.
	Store walletdb.Store

	// Unblinder reveals confidential outputs.
	Unblinder unblind.Unblinder

	// Network namespaces the persisted state, e.g. "liquid" or
	// "regtest".
	Network string

	// UtxoTicker paces the periodic UTXO refresh. When nil the wallet
	// only refreshes on explicit triggers.
	UtxoTicker ticker.Ticker

	// HistoryTicker paces the periodic history refresh. When nil the
	// wallet only refreshes on explicit triggers.
	HistoryTicker ticker.Ticker

	// Clock is the time source, swappable in tests.
	Clock clock.Clock

	// OnUtxoDiff, when set, is invoked after every refresh that changed
	// the tracked set. It runs outside the wallet's lock.
	OnUtxoDiff func(*utxo.Diff)
}

// Wallet maintains the confidential wallet state. All exported methods are
// safe for concurrent use.
type Wallet struct {
	started atomic.Bool
	stopped atomic.Bool

	cfg     *Config
	scanner *scanner.Scanner

	// epoch is bumped whenever the wallet state is replaced wholesale. A
	// refresh started under an older epoch discards its result instead
	// of resurrecting pre-reset state.
	epoch atomic.Uint64

	// utxoRefreshing and historyRefreshing gate their refresh kinds:
	// only the trigger that flips the flag runs, concurrent triggers are
	// dropped.
	utxoRefreshing    atomic.Bool
	historyRefreshing atomic.Bool

	// mtx guards utxos and history. Refreshes snapshot the state, do
	// their network I/O unlocked and re-enter the lock only to
	// reconcile and persist.
	mtx     sync.Mutex
	utxos   utxo.Set
	history map[string]*scanner.TxRecord

	// triggerMtx orders trigger admission against shutdown: a trigger
	// holds the read side between its stopped check and its wg.Add, and
	// Stop takes the write side before waiting, so the Add can never
	// race the Wait.
	triggerMtx sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc

	wg   sync.WaitGroup
	quit chan struct{}
}

// Create initializes a new wallet in the store and returns it. It fails with
// ErrWalletExists before writing anything when a wallet is already present
// for the network.
func Create(cfg *Config) (*Wallet, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	marker, err := cfg.Store.Get(createdKey(cfg.Network))
	if err != nil {
		return nil, fmt.Errorf("check wallet marker: %w", err)
	}
	if marker != nil {
		return nil, ErrWalletExists
	}

	raw, err := json.Marshal(createdMarker{
		CreatedAt: cfg.Clock.Now().Unix(),
	})
	if err != nil {
		return nil, err
	}
	if err := cfg.Store.Put(createdKey(cfg.Network), raw); err != nil {
		return nil, fmt.Errorf("write wallet marker: %w", err)
	}

	log.Infof("Created wallet for network %s", cfg.Network)

	return newWallet(cfg), nil
}

// Open loads an existing wallet from the store.
func Open(cfg *Config) (*Wallet, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	marker, err := cfg.Store.Get(createdKey(cfg.Network))
	if err != nil {
		return nil, fmt.Errorf("check wallet marker: %w", err)
	}
	if marker == nil {
		return nil, ErrWalletNotFound
	}

	w := newWallet(cfg)
	if err := w.loadState(); err != nil {
		return nil, err
	}

	return w, nil
}

func validateConfig(cfg *Config) error {
	switch {
	case cfg.Chain == nil:
		return errors.New("an explorer backend is required")
	case cfg.AddrManager == nil:
		return errors.New("an address manager is required")
	case cfg.Store == nil:
		return errors.New("a store is required")
	case cfg.Unblinder == nil:
		return errors.New("an unblinder is required")
	case cfg.Network == "":
		return errors.New("a network name is required")
	}

	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	return nil
}

func newWallet(cfg *Config) *Wallet {
	ctx, cancel := context.WithCancel(context.Background())

	return &Wallet{
		cfg: cfg,
		scanner: scanner.New(&scanner.Config{
			Source:    cfg.Chain,
			Unblinder: cfg.Unblinder,
		}),
		utxos:   utxo.NewSet(),
		history: make(map[string]*scanner.TxRecord),
		ctx:     ctx,
		cancel:  cancel,
		quit:    make(chan struct{}),
	}
}

// loadState restores the persisted UTXO set and history.
func (w *Wallet) loadState() error {
	rawUtxos, err := w.cfg.Store.Get(utxoSetKey(w.cfg.Network))
	if err != nil {
		return fmt.Errorf("load utxo set: %w", err)
	}
	if rawUtxos != nil {
		set, err := unmarshalUtxoSet(rawUtxos)
		if err != nil {
			return err
		}
		w.utxos = set
	}

	rawHistory, err := w.cfg.Store.Get(historyKey(w.cfg.Network))
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	if rawHistory != nil {
		history, err := unmarshalHistory(rawHistory)
		if err != nil {
			return err
		}
		w.history = history
	}

	log.Infof("Loaded wallet state: %d utxos, %d history records",
		len(w.utxos), len(w.history))

	return nil
}

// Start launches the refresh loop. It is idempotent.
func (w *Wallet) Start() error {
	if w.started.Swap(true) {
		return nil
	}

	log.Infof("Wallet starting (network=%s)", w.cfg.Network)

	if w.cfg.UtxoTicker != nil {
		w.cfg.UtxoTicker.Resume()
	}
	if w.cfg.HistoryTicker != nil {
		w.cfg.HistoryTicker.Resume()
	}

	w.wg.Add(1)
	go w.refreshLoop()

	return nil
}

// Stop halts the refresh loop, cancels in-flight refreshes and waits for
// them to wind down. It is idempotent.
func (w *Wallet) Stop() error {
	if !w.started.Load() || w.stopped.Swap(true) {
		return nil
	}

	log.Infof("Wallet shutting down")

	if w.cfg.UtxoTicker != nil {
		w.cfg.UtxoTicker.Stop()
	}
	if w.cfg.HistoryTicker != nil {
		w.cfg.HistoryTicker.Stop()
	}

	close(w.quit)
	w.cancel()

	// Triggers that passed their stopped check before it flipped have
	// registered with the WaitGroup by the time the write lock is
	// granted, so the Wait below can never race an Add. The lock is not
	// held across the Wait since the refresh loop, itself part of the
	// wait group, may be blocked on the read side.
	w.triggerMtx.Lock()
	w.triggerMtx.Unlock()

	w.wg.Wait()

	return nil
}

// refreshLoop turns ticker events into refresh triggers until shutdown.
func (w *Wallet) refreshLoop() {
	defer w.wg.Done()

	var utxoTicks, historyTicks <-chan time.Time
	if w.cfg.UtxoTicker != nil {
		utxoTicks = w.cfg.UtxoTicker.Ticks()
	}
	if w.cfg.HistoryTicker != nil {
		historyTicks = w.cfg.HistoryTicker.Ticks()
	}

	for {
		select {
		case <-utxoTicks:
			w.TriggerUtxoRefresh()

		case <-historyTicks:
			w.TriggerHistoryRefresh()

		case <-w.quit:
			return
		}
	}
}

// TriggerUtxoRefresh starts an asynchronous UTXO refresh. The trigger is
// dropped when a refresh is already in flight.
func (w *Wallet) TriggerUtxoRefresh() {
	w.triggerMtx.RLock()
	if w.stopped.Load() {
		w.triggerMtx.RUnlock()
		return
	}
	w.wg.Add(1)
	w.triggerMtx.RUnlock()

	go func() {
		defer w.wg.Done()

		_, err := w.RefreshUtxos(w.ctx)
		if err != nil && !errors.Is(err, ErrRefreshInFlight) {
			log.Errorf("UTXO refresh failed: %v", err)
		}
	}()
}

// TriggerHistoryRefresh starts an asynchronous history refresh. The trigger
// is dropped when a refresh is already in flight.
func (w *Wallet) TriggerHistoryRefresh() {
	w.triggerMtx.RLock()
	if w.stopped.Load() {
		w.triggerMtx.RUnlock()
		return
	}
	w.wg.Add(1)
	w.triggerMtx.RUnlock()

	go func() {
		defer w.wg.Done()

		_, err := w.RefreshHistory(w.ctx)
		if err != nil && !errors.Is(err, ErrRefreshInFlight) {
			log.Errorf("History refresh failed: %v", err)
		}
	}()
}

// RefreshUtxos fetches the current unspent outputs of all watched addresses,
// reconciles them against the tracked set, persists the result and returns
// the applied diff. Only one UTXO refresh runs at a time; a concurrent call
// returns ErrRefreshInFlight without queueing.
func (w *Wallet) RefreshUtxos(ctx context.Context) (*utxo.Diff, error) {
	if !w.utxoRefreshing.CompareAndSwap(false, true) {
		refreshDropped.Inc()
		log.Debugf("UTXO refresh already in flight, dropping trigger")
		return nil, ErrRefreshInFlight
	}
	defer w.utxoRefreshing.Store(false)

	return w.refreshUtxos(ctx)
}

func (w *Wallet) refreshUtxos(ctx context.Context) (*utxo.Diff, error) {
	epoch := w.epoch.Load()

	addrs := w.cfg.AddrManager.Addresses()
	if len(addrs) == 0 {
		return &utxo.Diff{Unchanged: true}, nil
	}

	w.mtx.Lock()
	prev := w.utxos.Clone()
	w.mtx.Unlock()

	// Entries already revealed need no re-fetch. Opaque entries are
	// deliberately not skipped so a later scan can upgrade them once
	// their data becomes retrievable.
	skip := func(op utxo.OutPoint) bool {
		out, ok := prev[op.Key()]
		return ok && out.IsRevealed()
	}

	stream := w.scanner.FetchAndUnblind(ctx, addrs, skip)

	var (
		fresh []*utxo.Output

		// confFlips holds carried entries whose confirmation status
		// changed. They never show in the diff since membership and
		// revealed data are untouched, but they still need to be
		// written back.
		confFlips []*utxo.Output
	)
	for {
		item, ok := stream.Next()
		if !ok {
			break
		}

		out := item.Output
		if item.Skipped {
			// The previous entry stays authoritative, only the
			// confirmation status is taken from the explorer.
			if prevOut, ok := prev[out.OutPoint.Key()]; ok {
				if prevOut.Confirmed != out.Confirmed {
					upd := *prevOut
					upd.Confirmed = out.Confirmed
					out = &upd
					confFlips = append(confFlips, out)
				} else {
					out = prevOut
				}
			}
		} else if out.BlindingError != nil {
			unblindFailures.Inc()
		}

		fresh = append(fresh, out)
	}

	summary := stream.Summary()
	for _, addrErr := range summary.Errors {
		explorerErrors.Inc()
		log.Warnf("Scan failed for %s: %v", addrErr.Address,
			addrErr.Err)
	}

	// A failed address reports no outputs. Reconciling against that
	// partial view would misread its absent entries as spends, so the
	// whole cycle is abandoned and retried on the next tick.
	if len(summary.Errors) > 0 {
		return nil, fmt.Errorf("scan failed for %d of %d addresses",
			len(summary.Errors), len(addrs))
	}

	if w.epoch.Load() != epoch {
		refreshStale.Inc()
		log.Infof("Discarding stale UTXO refresh result")
		return &utxo.Diff{Unchanged: true}, nil
	}

	w.mtx.Lock()
	if w.epoch.Load() != epoch {
		w.mtx.Unlock()
		refreshStale.Inc()
		return &utxo.Diff{Unchanged: true}, nil
	}

	diff := utxo.Reconcile(w.utxos, fresh)
	mutated := !diff.Unchanged
	if mutated {
		diff.Apply(w.utxos)
	}
	for _, out := range confFlips {
		if w.utxos.Contains(out.OutPoint) {
			w.utxos.Add(out)
			mutated = true
		}
	}
	if mutated {
		if err := w.persistUtxosLocked(); err != nil {
			w.mtx.Unlock()
			return nil, err
		}
	}
	w.mtx.Unlock()

	refreshTotal.Inc()

	if !diff.Unchanged {
		log.Infof("UTXO set updated: %d added, %d removed",
			len(diff.Added), len(diff.RemovedOutPoints))

		if w.cfg.OnUtxoDiff != nil {
			w.cfg.OnUtxoDiff(diff)
		}
	}

	return diff, nil
}

// RefreshHistory fetches the transactions touching the watched addresses,
// unblinds the wallet-owned legs of the new ones and merges them into the
// persisted history. It returns the number of records merged. Only one
// history refresh runs at a time; a concurrent call returns
// ErrRefreshInFlight.
func (w *Wallet) RefreshHistory(ctx context.Context) (int, error) {
	if !w.historyRefreshing.CompareAndSwap(false, true) {
		refreshDropped.Inc()
		log.Debugf("History refresh already in flight, dropping " +
			"trigger")
		return 0, ErrRefreshInFlight
	}
	defer w.historyRefreshing.Store(false)

	return w.refreshHistory(ctx)
}

func (w *Wallet) refreshHistory(ctx context.Context) (int, error) {
	epoch := w.epoch.Load()

	addrs := w.cfg.AddrManager.Addresses()
	if len(addrs) == 0 {
		return 0, nil
	}

	// A record in its current confirmation state needs no rebuild. A
	// known but now confirmed transaction is rebuilt to pick up its
	// block position.
	alreadyKnown := func(tx *explorer.Tx) bool {
		w.mtx.Lock()
		defer w.mtx.Unlock()

		record, ok := w.history[tx.TxID]
		return ok && record.Confirmed == tx.Status.Confirmed
	}

	stream := w.scanner.FetchAndUnblindHistory(
		ctx, addrs, w.cfg.AddrManager.KeyForScript, alreadyKnown,
	)

	var records []*scanner.TxRecord
	for {
		record, ok := stream.Next()
		if !ok {
			break
		}
		records = append(records, record)
	}

	// Unlike the UTXO path, the history merge is purely additive by
	// txid, so results from the addresses that did succeed are applied
	// even when others failed.
	summary := stream.Summary()
	for _, addrErr := range summary.Errors {
		explorerErrors.Inc()
		log.Warnf("History scan failed for %s: %v", addrErr.Address,
			addrErr.Err)
	}

	if len(records) == 0 {
		return 0, nil
	}

	if w.epoch.Load() != epoch {
		refreshStale.Inc()
		log.Infof("Discarding stale history refresh result")
		return 0, nil
	}

	w.mtx.Lock()
	if w.epoch.Load() != epoch {
		w.mtx.Unlock()
		refreshStale.Inc()
		return 0, nil
	}

	for _, record := range records {
		w.history[record.TxID] = record
	}
	err := w.persistHistoryLocked()
	w.mtx.Unlock()

	if err != nil {
		return 0, err
	}

	log.Infof("History updated: %d records merged", len(records))

	return len(records), nil
}

// Balances aggregates the tracked set per asset. Opaque entries are excluded
// from the totals and reported alongside so callers can surface the
// incompleteness.
func (w *Wallet) Balances() (map[string]uint64, []*utxo.OpaqueOutputError) {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	return w.utxos.Balances()
}

// Utxos returns the tracked outputs in outpoint order.
func (w *Wallet) Utxos() []*utxo.Output {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	return w.utxos.Outputs()
}

// History returns the transaction records, unconfirmed first, then newest
// block first.
func (w *Wallet) History() []*scanner.TxRecord {
	w.mtx.Lock()
	records := make([]*scanner.TxRecord, 0, len(w.history))
	for _, record := range w.history {
		records = append(records, record)
	}
	w.mtx.Unlock()

	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Confirmed != b.Confirmed {
			return !a.Confirmed
		}
		if a.BlockHeight != b.BlockHeight {
			return a.BlockHeight > b.BlockHeight
		}
		return a.TxID < b.TxID
	})

	return records
}

// NewAddress derives the next receive address.
func (w *Wallet) NewAddress() (addrmgr.AddressInfo, error) {
	return w.cfg.AddrManager.NextAddress()
}

// Broadcast publishes a signed transaction and immediately folds its effects
// into the tracked set: consumed wallet outputs are removed and change
// outputs are added as unconfirmed entries, so the balance is correct before
// the explorer has indexed the transaction.
func (w *Wallet) Broadcast(ctx context.Context, txHex string) (string, error) {
	txid, err := w.cfg.Chain.Broadcast(ctx, txHex)
	if err != nil {
		return "", fmt.Errorf("broadcast: %w", err)
	}

	log.Infof("Broadcast tx %s", txid)

	if err := w.ApplyLocalTx(txHex); err != nil {
		// The transaction is on the network regardless; the next
		// refresh repairs the local view.
		log.Warnf("Could not apply local tx %s: %v", txid, err)
	}

	return txid, nil
}

// ApplyLocalTx updates the tracked set from a locally signed transaction:
// the wallet UTXOs it spends are removed and its change outputs are added as
// unconfirmed, unblinded entries.
func (w *Wallet) ApplyLocalTx(txHex string) error {
	change, err := localtx.DetectChangeOutputs(
		txHex, w.cfg.AddrManager.Addresses(),
	)
	if err != nil {
		return err
	}

	added, err := localtx.FromSignedTransaction(
		txHex, change, w.cfg.Unblinder,
	)
	if err != nil {
		return err
	}

	w.mtx.Lock()
	defer w.mtx.Unlock()

	spent, err := localtx.SelectSpentInputs(txHex, w.utxos)
	if err != nil {
		return err
	}

	if len(spent) == 0 && len(added) == 0 {
		return nil
	}

	for _, out := range spent {
		w.utxos.Remove(out.OutPoint)
	}
	for _, out := range added {
		w.utxos.Add(out)
	}

	log.Infof("Applied local tx: %d outputs spent, %d change outputs "+
		"tracked", len(spent), len(added))

	return w.persistUtxosLocked()
}

// Reset drops the tracked set and the history, both in memory and in the
// store, and bumps the state epoch so in-flight refreshes discard their
// results. The next refresh rebuilds the state from the chain.
func (w *Wallet) Reset() error {
	w.epoch.Add(1)

	w.mtx.Lock()
	defer w.mtx.Unlock()

	w.utxos = utxo.NewSet()
	w.history = make(map[string]*scanner.TxRecord)

	if err := w.cfg.Store.Delete(utxoSetKey(w.cfg.Network)); err != nil {
		return fmt.Errorf("clear utxo set: %w", err)
	}
	if err := w.cfg.Store.Delete(historyKey(w.cfg.Network)); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}

	log.Infof("Wallet state reset")

	return nil
}

// persistUtxosLocked writes the tracked set to the store. The wallet lock
// must be held.
func (w *Wallet) persistUtxosLocked() error {
	raw, err := marshalUtxoSet(w.utxos)
	if err != nil {
		return err
	}

	if err := w.cfg.Store.Put(utxoSetKey(w.cfg.Network), raw); err != nil {
		return fmt.Errorf("persist utxo set: %w", err)
	}

	return nil
}

// persistHistoryLocked writes the history to the store. The wallet lock must
// be held.
func (w *Wallet) persistHistoryLocked() error {
	raw, err := marshalHistory(w.history)
	if err != nil {
		return err
	}

	if err := w.cfg.Store.Put(historyKey(w.cfg.Network), raw); err != nil {
		return fmt.Errorf("persist history: %w", err)
	}

	return nil
}
