package wallet

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	fn "github.com/lightningnetwork/lnd/fn/v2"
	"github.com/vulpemventures/go-elements/transaction"

	"github.com/tidewallet/tidewallet/scanner"
	"github.com/tidewallet/tidewallet/utxo"
)

// Store keys are namespaced per network so one store can back several
// wallets.
func createdKey(network string) []byte {
	return []byte("wallet/" + network + "/created")
}

func utxoSetKey(network string) []byte {
	return []byte("wallet/" + network + "/utxos")
}

func historyKey(network string) []byte {
	return []byte("wallet/" + network + "/history")
}

// createdMarker is the persisted proof of wallet creation.
type createdMarker struct {
	CreatedAt int64 `json:"created_at"`
}

// persistedTxOut is the raw confidential output, kept so opaque entries can
// be re-attempted after a restart.
type persistedTxOut struct {
	Asset           string `json:"asset"`
	Value           string `json:"value"`
	Script          string `json:"script"`
	Nonce           string `json:"nonce,omitempty"`
	RangeProof      string `json:"range_proof,omitempty"`
	SurjectionProof string `json:"surjection_proof,omitempty"`
}

// persistedOutput is the serialized form of a tracked output. Absent asset
// and value mark an opaque entry.
type persistedOutput struct {
	TxID          string          `json:"txid"`
	Vout          uint32          `json:"vout"`
	Asset         *string         `json:"asset,omitempty"`
	Value         *uint64         `json:"value,omitempty"`
	ValueBlinder  string          `json:"value_blinder,omitempty"`
	AssetBlinder  string          `json:"asset_blinder,omitempty"`
	Confirmed     bool            `json:"confirmed"`
	BlindingError string          `json:"blinding_error,omitempty"`
	TxOut         *persistedTxOut `json:"tx_out,omitempty"`
}

// persistedRecord is the serialized form of one history entry.
type persistedRecord struct {
	TxID        string             `json:"txid"`
	Confirmed   bool               `json:"confirmed"`
	BlockHeight int64              `json:"block_height,omitempty"`
	BlockTime   int64              `json:"block_time,omitempty"`
	Fee         uint64             `json:"fee,omitempty"`
	Outputs     []*persistedOutput `json:"outputs,omitempty"`
	Transfers   map[string]int64   `json:"transfers,omitempty"`
	Flow        uint8              `json:"flow"`
}

func marshalTxOut(txOut *transaction.TxOutput) *persistedTxOut {
	if txOut == nil {
		return nil
	}

	return &persistedTxOut{
		Asset:           hex.EncodeToString(txOut.Asset),
		Value:           hex.EncodeToString(txOut.Value),
		Script:          hex.EncodeToString(txOut.Script),
		Nonce:           hex.EncodeToString(txOut.Nonce),
		RangeProof:      hex.EncodeToString(txOut.RangeProof),
		SurjectionProof: hex.EncodeToString(txOut.SurjectionProof),
	}
}

func unmarshalTxOut(p *persistedTxOut) (*transaction.TxOutput, error) {
	if p == nil {
		return nil, nil
	}

	fields := make([][]byte, 6)
	for i, raw := range []string{
		p.Asset, p.Value, p.Script, p.Nonce, p.RangeProof,
		p.SurjectionProof,
	} {
		decoded, err := hex.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("decode output field: %w", err)
		}
		fields[i] = decoded
	}

	return &transaction.TxOutput{
		Asset:           fields[0],
		Value:           fields[1],
		Script:          fields[2],
		Nonce:           fields[3],
		RangeProof:      fields[4],
		SurjectionProof: fields[5],
	}, nil
}

func marshalOutput(o *utxo.Output) *persistedOutput {
	p := &persistedOutput{
		TxID:         o.OutPoint.TxID,
		Vout:         o.OutPoint.Index,
		ValueBlinder: hex.EncodeToString(o.ValueBlinder),
		AssetBlinder: hex.EncodeToString(o.AssetBlinder),
		Confirmed:    o.Confirmed,
		TxOut:        marshalTxOut(o.TxOut),
	}

	o.Asset.WhenSome(func(asset string) {
		p.Asset = &asset
	})
	o.Value.WhenSome(func(value uint64) {
		p.Value = &value
	})

	if o.BlindingError != nil {
		p.BlindingError = o.BlindingError.Error()
	}

	return p
}

func unmarshalOutput(p *persistedOutput) (*utxo.Output, error) {
	op, err := utxo.NewOutPoint(p.TxID, p.Vout)
	if err != nil {
		return nil, fmt.Errorf("restore outpoint: %w", err)
	}

	valueBlinder, err := hex.DecodeString(p.ValueBlinder)
	if err != nil {
		return nil, fmt.Errorf("decode value blinder: %w", err)
	}
	assetBlinder, err := hex.DecodeString(p.AssetBlinder)
	if err != nil {
		return nil, fmt.Errorf("decode asset blinder: %w", err)
	}

	txOut, err := unmarshalTxOut(p.TxOut)
	if err != nil {
		return nil, err
	}

	out := &utxo.Output{
		OutPoint:     op,
		Asset:        fn.None[string](),
		Value:        fn.None[uint64](),
		ValueBlinder: valueBlinder,
		AssetBlinder: assetBlinder,
		TxOut:        txOut,
		Confirmed:    p.Confirmed,
	}

	if p.Asset != nil {
		out.Asset = fn.Some(*p.Asset)
	}
	if p.Value != nil {
		out.Value = fn.Some(*p.Value)
	}
	if p.BlindingError != "" {
		out.BlindingError = errors.New(p.BlindingError)
	}

	return out, nil
}

// marshalUtxoSet serializes the tracked set in outpoint order so the
// persisted form is deterministic.
func marshalUtxoSet(s utxo.Set) ([]byte, error) {
	outputs := s.Outputs()
	persisted := make([]*persistedOutput, 0, len(outputs))
	for _, o := range outputs {
		persisted = append(persisted, marshalOutput(o))
	}

	return json.Marshal(persisted)
}

func unmarshalUtxoSet(raw []byte) (utxo.Set, error) {
	var persisted []*persistedOutput
	if err := json.Unmarshal(raw, &persisted); err != nil {
		return nil, fmt.Errorf("decode utxo set: %w", err)
	}

	s := utxo.NewSet()
	for _, p := range persisted {
		out, err := unmarshalOutput(p)
		if err != nil {
			return nil, err
		}
		s.Add(out)
	}

	return s, nil
}

func marshalRecord(r *scanner.TxRecord) *persistedRecord {
	p := &persistedRecord{
		TxID:        r.TxID,
		Confirmed:   r.Confirmed,
		BlockHeight: r.BlockHeight,
		BlockTime:   r.BlockTime,
		Fee:         r.Fee,
		Transfers:   r.Transfers,
		Flow:        uint8(r.Flow),
	}

	for _, o := range r.Outputs {
		p.Outputs = append(p.Outputs, marshalOutput(o))
	}

	return p
}

func unmarshalRecord(p *persistedRecord) (*scanner.TxRecord, error) {
	r := &scanner.TxRecord{
		TxID:        p.TxID,
		Confirmed:   p.Confirmed,
		BlockHeight: p.BlockHeight,
		BlockTime:   p.BlockTime,
		Fee:         p.Fee,
		Transfers:   p.Transfers,
		Flow:        scanner.TxFlow(p.Flow),
	}
	if r.Transfers == nil {
		r.Transfers = make(map[string]int64)
	}

	for _, po := range p.Outputs {
		out, err := unmarshalOutput(po)
		if err != nil {
			return nil, err
		}
		r.Outputs = append(r.Outputs, out)
	}

	return r, nil
}

func marshalHistory(history map[string]*scanner.TxRecord) ([]byte, error) {
	txids := make([]string, 0, len(history))
	for txid := range history {
		txids = append(txids, txid)
	}
	sort.Strings(txids)

	persisted := make([]*persistedRecord, 0, len(txids))
	for _, txid := range txids {
		persisted = append(persisted, marshalRecord(history[txid]))
	}

	return json.Marshal(persisted)
}

func unmarshalHistory(raw []byte) (map[string]*scanner.TxRecord, error) {
	var persisted []*persistedRecord
	if err := json.Unmarshal(raw, &persisted); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}

	history := make(map[string]*scanner.TxRecord, len(persisted))
	for _, p := range persisted {
		record, err := unmarshalRecord(p)
		if err != nil {
			return nil, err
		}
		history[record.TxID] = record
	}

	return history, nil
}
