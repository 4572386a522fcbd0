package explorer

// TxStatus represents transaction confirmation status.
type TxStatus struct {
	Confirmed   bool   `json:"confirmed"`
	BlockHeight int64  `json:"block_height,omitempty"`
	BlockHash   string `json:"block_hash,omitempty"`
	BlockTime   int64  `json:"block_time,omitempty"`
}

// Utxo represents an unspent transaction output of a watched address. For a
// confidential output the explorer reports the commitments and omits the
// explicit asset and value.
type Utxo struct {
	TxID   string   `json:"txid"`
	Vout   uint32   `json:"vout"`
	Status TxStatus `json:"status"`

	// Value and Asset are only present for non-confidential outputs.
	Value uint64 `json:"value,omitempty"`
	Asset string `json:"asset,omitempty"`

	// ValueCommitment and AssetCommitment are only present for
	// confidential outputs.
	ValueCommitment string `json:"valuecommitment,omitempty"`
	AssetCommitment string `json:"assetcommitment,omitempty"`
}

// IsConfidential reports whether the output is blinded as reported by the
// explorer.
func (u *Utxo) IsConfidential() bool {
	return u.ValueCommitment != ""
}

// TxVin represents a transaction input.
type TxVin struct {
	TxID       string  `json:"txid"`
	Vout       uint32  `json:"vout"`
	PrevOut    *TxVout `json:"prevout,omitempty"`
	IsCoinbase bool    `json:"is_coinbase"`
	IsPegin    bool    `json:"is_pegin"`
	Sequence   uint32  `json:"sequence"`
}

// TxVout represents a transaction output.
type TxVout struct {
	ScriptPubKey     string `json:"scriptpubkey"`
	ScriptPubKeyType string `json:"scriptpubkey_type"`
	ScriptPubKeyAddr string `json:"scriptpubkey_address,omitempty"`

	Value uint64 `json:"value,omitempty"`
	Asset string `json:"asset,omitempty"`

	ValueCommitment string `json:"valuecommitment,omitempty"`
	AssetCommitment string `json:"assetcommitment,omitempty"`
}

// Tx represents transaction information from the API.
type Tx struct {
	TxID     string   `json:"txid"`
	Version  int32    `json:"version"`
	LockTime uint32   `json:"locktime"`
	Size     int      `json:"size"`
	Weight   int      `json:"weight"`
	Fee      uint64   `json:"fee"`
	Vin      []TxVin  `json:"vin"`
	Vout     []TxVout `json:"vout"`
	Status   TxStatus `json:"status"`
}

// AssetInfo represents the registry metadata of an asset.
type AssetInfo struct {
	AssetID string `json:"asset_id"`
	Name    string `json:"name"`
	Ticker  string `json:"ticker"`

	// Precision is the number of decimal places of the asset's display
	// unit.
	Precision uint8 `json:"precision"`
}
