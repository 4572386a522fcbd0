// Package addrmgr maintains the wallet's append-only set of watched
// addresses. Addresses are derived deterministically from an account
// extended public key and a SLIP-0077 master blinding key; generated
// addresses are never deleted, preserving derivation-index continuity.
package addrmgr

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	fn "github.com/lightningnetwork/lnd/fn/v2"
	"github.com/vulpemventures/go-elements/address"
	"github.com/vulpemventures/go-elements/network"
	"github.com/vulpemventures/go-elements/payment"

	"github.com/tidewallet/tidewallet/walletdb"
)

// externalBranch is the child index of the receive branch under the account
// key.
const externalBranch = 0

// stateKey is the store key under which the manager persists its derivation
// index.
var stateKey = []byte("addrmgr/state")

var (
	// ErrMasterKeysMissing is returned when the manager is created
	// without the account xpub or the master blinding key. The failure
	// is surfaced before anything is written.
	ErrMasterKeysMissing = errors.New("account xpub and master " +
		"blinding key are required")

	// ErrPrivateKeyProvided is returned when an extended private key is
	// supplied where an extended public key is expected.
	ErrPrivateKeyProvided = errors.New("expected extended public key, " +
		"got private")
)

// AddressInfo describes one watched wallet address.
type AddressInfo struct {
	// Index is the derivation index on the external branch.
	Index uint32

	// DerivationPath is the path of the address below the account key.
	DerivationPath string

	// Address is the unconfidential form.
	Address string

	// ConfidentialAddress is the blinded form, committing to the
	// address's blinding public key.
	ConfidentialAddress string

	// Script is the output script both forms pay to.
	Script []byte

	// BlindingPrivKey is the SLIP-0077 derived blinding private key for
	// Script.
	BlindingPrivKey []byte
}

// Config holds the keys and collaborators of a Manager.
type Config struct {
	// AccountXPub is the account level extended public key.
	AccountXPub string

	// MasterBlindingKey is the 32 byte SLIP-0077 master blinding key.
	MasterBlindingKey []byte

	// Net selects the address encoding parameters.
	Net *network.Network

	// Store, when set, persists the derivation index so the address set
	// can be re-derived on restart. The index is persisted before a new
	// address is handed out.
	Store walletdb.Store
}

// managerState is the persisted form of the manager.
type managerState struct {
	NextIndex uint32 `json:"next_index"`
}

// Manager derives and tracks wallet addresses. All methods are safe for
// concurrent use.
type Manager struct {
	mtx sync.RWMutex

	cfg      *Config
	external *hdkeychain.ExtendedKey

	// addrs is append-only and ordered by derivation index.
	addrs []AddressInfo
}

// New creates a Manager. It fails synchronously when the required keys are
// absent, before any state is touched. When a store is configured, the
// previously derived address range is restored.
func New(cfg *Config) (*Manager, error) {
	if cfg.AccountXPub == "" || len(cfg.MasterBlindingKey) == 0 {
		return nil, ErrMasterKeysMissing
	}
	if cfg.Net == nil {
		return nil, errors.New("network parameters are required")
	}

	account, err := hdkeychain.NewKeyFromString(cfg.AccountXPub)
	if err != nil {
		return nil, fmt.Errorf("parse account xpub: %w", err)
	}
	if account.IsPrivate() {
		return nil, ErrPrivateKeyProvided
	}

	external, err := account.Derive(externalBranch)
	if err != nil {
		return nil, fmt.Errorf("derive external branch: %w", err)
	}

	m := &Manager{
		cfg:      cfg,
		external: external,
	}

	if cfg.Store != nil {
		if err := m.restore(); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// restore re-derives the previously generated address range.
func (m *Manager) restore() error {
	raw, err := m.cfg.Store.Get(stateKey)
	if err != nil {
		return fmt.Errorf("load address manager state: %w", err)
	}
	if raw == nil {
		return nil
	}

	var state managerState
	if err := json.Unmarshal(raw, &state); err != nil {
		return fmt.Errorf("decode address manager state: %w", err)
	}

	for i := uint32(0); i < state.NextIndex; i++ {
		info, err := m.derive(i)
		if err != nil {
			return err
		}
		m.addrs = append(m.addrs, info)
	}

	log.Debugf("Restored %d derived addresses", state.NextIndex)

	return nil
}

// derive computes the address at the given external-branch index.
func (m *Manager) derive(index uint32) (AddressInfo, error) {
	child, err := m.external.Derive(index)
	if err != nil {
		return AddressInfo{}, fmt.Errorf("derive child %d: %w",
			index, err)
	}

	pubKey, err := child.ECPubKey()
	if err != nil {
		return AddressInfo{}, fmt.Errorf("child %d pubkey: %w",
			index, err)
	}

	// The output script only depends on the signing key, so it is
	// derived first and then used to derive the blinding key pair that
	// the confidential form commits to.
	plain := payment.FromPublicKey(pubKey, m.cfg.Net, nil)
	unconfAddr, err := plain.WitnessPubKeyHash()
	if err != nil {
		return AddressInfo{}, fmt.Errorf("encode address %d: %w",
			index, err)
	}

	script, err := address.ToOutputScript(unconfAddr)
	if err != nil {
		return AddressInfo{}, fmt.Errorf("script for address %d: %w",
			index, err)
	}

	blindPriv := blindingKeyForScript(m.cfg.MasterBlindingKey, script)
	_, blindPub := btcec.PrivKeyFromBytes(blindPriv)

	confidential := payment.FromPublicKey(pubKey, m.cfg.Net, blindPub)
	confAddr, err := confidential.ConfidentialWitnessPubKeyHash()
	if err != nil {
		return AddressInfo{}, fmt.Errorf("encode confidential "+
			"address %d: %w", index, err)
	}

	return AddressInfo{
		Index:               index,
		DerivationPath:      fmt.Sprintf("m/%d/%d", externalBranch, index),
		Address:             unconfAddr,
		ConfidentialAddress: confAddr,
		Script:              script,
		BlindingPrivKey:     blindPriv,
	}, nil
}

// NextAddress derives the next receive address, appends it to the watched
// set and returns it. When a store is configured, the advanced index is
// persisted before the address is handed out.
func (m *Manager) NextAddress() (AddressInfo, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	index := uint32(len(m.addrs))
	info, err := m.derive(index)
	if err != nil {
		return AddressInfo{}, err
	}

	if m.cfg.Store != nil {
		raw, err := json.Marshal(managerState{NextIndex: index + 1})
		if err != nil {
			return AddressInfo{}, err
		}
		if err := m.cfg.Store.Put(stateKey, raw); err != nil {
			return AddressInfo{}, fmt.Errorf("persist address "+
				"manager state: %w", err)
		}
	}

	m.addrs = append(m.addrs, info)

	log.Debugf("Derived new address %s (index %d)",
		info.ConfidentialAddress, index)

	return info, nil
}

// Addresses returns a copy of the watched address set in derivation order.
// Derivation order doubles as the deterministic tie break when several
// addresses resolve to the same script: the lowest index wins.
func (m *Manager) Addresses() []AddressInfo {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	addrs := make([]AddressInfo, len(m.addrs))
	copy(addrs, m.addrs)

	return addrs
}

// KeyForScript returns the blinding private key of the first address, by
// derivation index, paying to the given output script.
func (m *Manager) KeyForScript(script []byte) fn.Option[[]byte] {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	for _, info := range m.addrs {
		if bytes.Equal(info.Script, script) {
			return fn.Some(info.BlindingPrivKey)
		}
	}

	return fn.None[[]byte]()
}
