package scanner

import (
	"context"
	"fmt"
	"sync"

	"github.com/tidewallet/tidewallet/addrmgr"
	"github.com/tidewallet/tidewallet/unblind"
	"github.com/tidewallet/tidewallet/utxo"
)

// SkipFunc lets the caller indicate that it already tracks an outpoint. A
// skipped output is forwarded as-is without unblinding, preserving the
// caller's prior unblinding state.
type SkipFunc func(op utxo.OutPoint) bool

// Item is one element of a UtxoStream.
type Item struct {
	// Output is the fetched output. For skipped items it carries only
	// the outpoint identity and the current confirmation status; the
	// caller's existing entry remains authoritative.
	Output *utxo.Output

	// Skipped reports whether the caller's skip predicate claimed the
	// outpoint.
	Skipped bool
}

// ScanSummary terminates a UtxoStream.
type ScanSummary struct {
	// NumUtxos is the number of outputs the stream produced.
	NumUtxos int

	// Errors lists the addresses whose fetch failed this scan.
	Errors []*AddrError
}

// UtxoStream is a lazy, finite, non-restartable sequence of fetched
// outputs. Callers drain it with Next and read the terminal summary once
// Next has returned false.
type UtxoStream struct {
	items   chan *Item
	done    chan struct{}
	summary *ScanSummary
}

// Next returns the next item of the stream. It returns false once the
// stream is exhausted.
func (s *UtxoStream) Next() (*Item, bool) {
	item, ok := <-s.items
	return item, ok
}

// Summary blocks until the stream has ended and returns its summary.
func (s *UtxoStream) Summary() *ScanSummary {
	<-s.done
	return s.summary
}

// FetchAndUnblind pulls the unspent outputs of all watched addresses and
// unblinds the ones the skip predicate does not claim. Per-address fetches
// run concurrently; unblinding within one address's batch is serial so
// failure attribution stays simple. Each address's full output set is
// exhausted before the stream ends.
func (s *Scanner) FetchAndUnblind(ctx context.Context,
	addrs []addrmgr.AddressInfo, skip SkipFunc) *UtxoStream {

	stream := &UtxoStream{
		items: make(chan *Item),
		done:  make(chan struct{}),
	}

	cache := newTxCache(s.cfg.Source)

	var (
		wg       sync.WaitGroup
		mtx      sync.Mutex
		count    int
		addrErrs []*AddrError
	)

	for _, addr := range addrs {
		addr := addr

		wg.Add(1)
		go func() {
			defer wg.Done()

			n, err := s.scanAddress(ctx, addr, skip, cache,
				stream.items)

			mtx.Lock()
			defer mtx.Unlock()

			count += n
			if err != nil {
				addrErrs = append(addrErrs, &AddrError{
					Address: addr.ConfidentialAddress,
					Err:     err,
				})
			}
		}()
	}

	go func() {
		wg.Wait()

		mtx.Lock()
		stream.summary = &ScanSummary{
			NumUtxos: count,
			Errors:   addrErrs,
		}
		mtx.Unlock()

		close(stream.items)
		close(stream.done)
	}()

	return stream
}

// scanAddress fetches and processes the unspent outputs of one address,
// sending results to out. It returns the number of outputs sent.
func (s *Scanner) scanAddress(ctx context.Context, addr addrmgr.AddressInfo,
	skip SkipFunc, cache *txCache, out chan<- *Item) (int, error) {

	// The explorer indexes by the unconfidential form.
	utxos, err := s.cfg.Source.AddressUTXOs(ctx, addr.Address)
	if err != nil {
		return 0, fmt.Errorf("fetch utxos: %w", err)
	}

	sent := 0
	for _, u := range utxos {
		op, err := utxo.NewOutPoint(u.TxID, u.Vout)
		if err != nil {
			log.Warnf("Explorer returned malformed outpoint "+
				"%s:%d: %v", u.TxID, u.Vout, err)
			continue
		}

		item := s.processUtxo(ctx, op, u.Status.Confirmed, addr,
			skip, cache)

		select {
		case out <- item:
			sent++
		case <-ctx.Done():
			return sent, ctx.Err()
		}
	}

	return sent, nil
}

// processUtxo turns one raw explorer utxo into a stream item. Failures never
// escape: an output that cannot be fetched or unblinded is emitted as an
// opaque entry with the reason recorded, since membership in the tracked set
// is independent of successful unblinding.
func (s *Scanner) processUtxo(ctx context.Context, op utxo.OutPoint,
	confirmed bool, addr addrmgr.AddressInfo, skip SkipFunc,
	cache *txCache) *Item {

	if skip != nil && skip(op) {
		return &Item{
			Output: &utxo.Output{
				OutPoint:  op,
				Confirmed: confirmed,
			},
			Skipped: true,
		}
	}

	tx, err := cache.fetch(ctx, op.TxID)
	if err != nil {
		return &Item{Output: &utxo.Output{
			OutPoint:      op,
			Confirmed:     confirmed,
			BlindingError: err,
		}}
	}

	if int(op.Index) >= len(tx.Outputs) {
		return &Item{Output: &utxo.Output{
			OutPoint:  op,
			Confirmed: confirmed,
			BlindingError: fmt.Errorf("tx %s has no output %d",
				op.TxID, op.Index),
		}}
	}

	output := unblind.Reveal(
		s.cfg.Unblinder, op, tx.Outputs[op.Index],
		addr.BlindingPrivKey, confirmed,
	)
	if output.BlindingError != nil {
		log.Debugf("Output %v kept opaque: %v", op,
			output.BlindingError)
	}

	return &Item{Output: output}
}
