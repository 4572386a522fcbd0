package scanner

import (
	"context"
	"encoding/hex"
	"sync"

	fn "github.com/lightningnetwork/lnd/fn/v2"

	"github.com/tidewallet/tidewallet/addrmgr"
	"github.com/tidewallet/tidewallet/explorer"
	"github.com/tidewallet/tidewallet/unblind"
	"github.com/tidewallet/tidewallet/utxo"
)

// TxFlow classifies a historical transaction from the wallet's point of
// view.
type TxFlow uint8

const (
	// FlowIncoming marks a transaction that increased the wallet's
	// holdings.
	FlowIncoming TxFlow = iota

	// FlowOutgoing marks a transaction that spent wallet funds.
	FlowOutgoing
)

// String returns a human readable flow label.
func (f TxFlow) String() string {
	switch f {
	case FlowIncoming:
		return "incoming"
	case FlowOutgoing:
		return "outgoing"
	default:
		return "unknown"
	}
}

// KeyForScriptFunc resolves an output script to the wallet blinding key
// able to unblind outputs paying to it, or None when the script is not
// ours.
type KeyForScriptFunc func(script []byte) fn.Option[[]byte]

// AlreadyKnownFunc reports whether the caller's history already contains
// the transaction in its current confirmation state, letting the scan skip
// it.
type AlreadyKnownFunc func(tx *explorer.Tx) bool

// TxRecord is one entry of the wallet's transaction history. Records are
// append-only: a record is retained even when some of its outputs stayed
// opaque, keeping the log auditable.
type TxRecord struct {
	// TxID is the transaction ID.
	TxID string

	// Confirmed reports inclusion in a block, with BlockHeight and
	// BlockTime carrying the position when confirmed.
	Confirmed   bool
	BlockHeight int64
	BlockTime   int64

	// Fee is the transaction fee as reported by the explorer.
	Fee uint64

	// Outputs holds the wallet-owned outputs of the transaction,
	// possibly opaque when unblinding failed.
	Outputs []*utxo.Output

	// Transfers is the net satoshi flow per asset from the wallet's
	// point of view, computed from revealable data only: positive for
	// received, negative for spent.
	Transfers map[string]int64

	// Flow classifies the record.
	Flow TxFlow
}

// HistorySummary terminates a TxStream.
type HistorySummary struct {
	// NumTxs is the number of records the stream produced.
	NumTxs int

	// Errors lists the addresses whose fetch failed this scan.
	Errors []*AddrError
}

// TxStream is a lazy, finite, non-restartable sequence of unblinded
// transaction records.
type TxStream struct {
	records chan *TxRecord
	done    chan struct{}
	summary *HistorySummary
}

// Next returns the next record of the stream. It returns false once the
// stream is exhausted.
func (s *TxStream) Next() (*TxRecord, bool) {
	record, ok := <-s.records
	return record, ok
}

// Summary blocks until the stream has ended and returns its summary.
func (s *TxStream) Summary() *HistorySummary {
	<-s.done
	return s.summary
}

// FetchAndUnblindHistory pulls the transactions touching the watched
// addresses and produces a record for every one not already known. Outputs
// whose script resolves to a wallet key are unblinded; outputs that fail
// resolution or unblinding stay opaque in the record rather than being
// dropped.
func (s *Scanner) FetchAndUnblindHistory(ctx context.Context,
	addrs []addrmgr.AddressInfo, keyForScript KeyForScriptFunc,
	alreadyKnown AlreadyKnownFunc) *TxStream {

	stream := &TxStream{
		records: make(chan *TxRecord),
		done:    make(chan struct{}),
	}

	cache := newTxCache(s.cfg.Source)

	var (
		wg       sync.WaitGroup
		mtx      sync.Mutex
		count    int
		addrErrs []*AddrError

		// seen de-duplicates transactions touching more than one
		// watched address within this scan.
		seen = make(map[string]struct{})
	)

	for _, addr := range addrs {
		addr := addr

		wg.Add(1)
		go func() {
			defer wg.Done()

			txs, err := s.cfg.Source.AddressTxs(
				ctx, addr.Address,
			)
			if err != nil {
				mtx.Lock()
				addrErrs = append(addrErrs, &AddrError{
					Address: addr.ConfidentialAddress,
					Err:     err,
				})
				mtx.Unlock()
				return
			}

			for _, tx := range txs {
				if alreadyKnown != nil && alreadyKnown(tx) {
					continue
				}

				mtx.Lock()
				if _, dup := seen[tx.TxID]; dup {
					mtx.Unlock()
					continue
				}
				seen[tx.TxID] = struct{}{}
				mtx.Unlock()

				record := s.buildRecord(
					ctx, tx, keyForScript, cache,
				)

				select {
				case stream.records <- record:
					mtx.Lock()
					count++
					mtx.Unlock()
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()

		mtx.Lock()
		stream.summary = &HistorySummary{
			NumTxs: count,
			Errors: addrErrs,
		}
		mtx.Unlock()

		close(stream.records)
		close(stream.done)
	}()

	return stream
}

// buildRecord assembles the history record of one transaction. Per-output
// failures are folded into the record instead of aborting it.
func (s *Scanner) buildRecord(ctx context.Context, tx *explorer.Tx,
	keyForScript KeyForScriptFunc, cache *txCache) *TxRecord {

	record := &TxRecord{
		TxID:        tx.TxID,
		Confirmed:   tx.Status.Confirmed,
		BlockHeight: tx.Status.BlockHeight,
		BlockTime:   tx.Status.BlockTime,
		Fee:         tx.Fee,
		Transfers:   make(map[string]int64),
	}

	// Wallet-owned outputs: unblind what we hold a key for.
	parsed, err := cache.fetch(ctx, tx.TxID)
	if err != nil {
		log.Debugf("History record %s kept without outputs: %v",
			tx.TxID, err)
	} else {
		for vout, txOut := range parsed.Outputs {
			key := keyForScript(txOut.Script)
			if key.IsNone() {
				continue
			}

			op, err := utxo.NewOutPoint(tx.TxID, uint32(vout))
			if err != nil {
				continue
			}

			output := unblind.Reveal(
				s.cfg.Unblinder, op, txOut,
				key.UnwrapOr(nil), tx.Status.Confirmed,
			)
			record.Outputs = append(record.Outputs, output)

			if output.IsRevealed() {
				asset := output.Asset.UnwrapOr("")
				value := output.Value.UnwrapOr(0)
				record.Transfers[asset] += int64(value)
			}
		}
	}

	// Inputs spending wallet outputs: unblind the consumed prevouts to
	// account for the outgoing side.
	for _, vin := range tx.Vin {
		if vin.PrevOut == nil {
			continue
		}

		script, err := hex.DecodeString(vin.PrevOut.ScriptPubKey)
		if err != nil {
			continue
		}

		key := keyForScript(script)
		if key.IsNone() {
			continue
		}

		prevTx, err := cache.fetch(ctx, vin.TxID)
		if err != nil {
			log.Debugf("Prevout %s:%d of %s left opaque: %v",
				vin.TxID, vin.Vout, tx.TxID, err)
			continue
		}
		if int(vin.Vout) >= len(prevTx.Outputs) {
			continue
		}

		op, err := utxo.NewOutPoint(vin.TxID, vin.Vout)
		if err != nil {
			continue
		}

		spent := unblind.Reveal(
			s.cfg.Unblinder, op, prevTx.Outputs[vin.Vout],
			key.UnwrapOr(nil), true,
		)
		if spent.IsRevealed() {
			asset := spent.Asset.UnwrapOr("")
			value := spent.Value.UnwrapOr(0)
			record.Transfers[asset] -= int64(value)
		}
	}

	record.Flow = classify(record.Transfers)

	return record
}

// classify derives the record flow from its net transfers: any spent asset
// marks the transaction outgoing.
func classify(transfers map[string]int64) TxFlow {
	for _, net := range transfers {
		if net < 0 {
			return FlowOutgoing
		}
	}

	return FlowIncoming
}
