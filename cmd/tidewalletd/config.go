package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	flags "github.com/jessevdk/go-flags"
	"github.com/vulpemventures/go-elements/network"
)

const (
	defaultLogFilename         = "tidewalletd.log"
	defaultMaxLogFiles         = 3
	defaultMaxLogFileSize      = 10
	defaultDebugLevel          = "info"
	defaultNetwork             = "liquid"
	defaultUtxoPollInterval    = 30 * time.Second
	defaultHistoryPollInterval = 2 * time.Minute
)

var (
	defaultDataDir = btcutil.AppDataDir("tidewallet", false)
	defaultLogDir  = filepath.Join(defaultDataDir, "logs")
)

// explorerURLs maps each network to its public esplora endpoint, used when
// no explicit URL is configured.
var explorerURLs = map[string]string{
	"liquid":  "https://blockstream.info/liquid/api",
	"testnet": "https://blockstream.info/liquidtestnet/api",
	"regtest": "http://localhost:3001",
}

type config struct {
	DataDir        string `short:"b" long:"datadir" description:"The directory to store wallet data within"`
	LogDir         string `long:"logdir" description:"Directory to log output"`
	MaxLogFiles    int    `long:"maxlogfiles" description:"Maximum logfiles to keep (0 for no rotation)"`
	MaxLogFileSize int    `long:"maxlogfilesize" description:"Maximum logfile size in MB"`
	DebugLevel     string `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`

	Network             string        `long:"network" description:"The liquid network to operate on" choice:"liquid" choice:"testnet" choice:"regtest"`
	ExplorerURL         string        `long:"explorerurl" description:"Base URL of the esplora API backing the wallet"`
	UtxoPollInterval    time.Duration `long:"utxopollinterval" description:"How often to refresh the UTXO set from the explorer"`
	HistoryPollInterval time.Duration `long:"historypollinterval" description:"How often to refresh the transaction history from the explorer"`

	AccountXPub       string `long:"accountxpub" description:"Account extended public key to derive watched addresses from"`
	MasterBlindingKey string `long:"masterblindingkey" description:"SLIP-0077 master blinding key as hex"`

	MetricsAddr string `long:"metricsaddr" description:"Address to serve prometheus metrics on, disabled when empty"`
}

// loadConfig parses the command line options, fills in the defaults and
// validates the result.
func loadConfig() (*config, error) {
	cfg := config{
		DataDir:             defaultDataDir,
		LogDir:              defaultLogDir,
		MaxLogFiles:         defaultMaxLogFiles,
		MaxLogFileSize:      defaultMaxLogFileSize,
		DebugLevel:          defaultDebugLevel,
		Network:             defaultNetwork,
		UtxoPollInterval:    defaultUtxoPollInterval,
		HistoryPollInterval: defaultHistoryPollInterval,
	}
	if _, err := flags.Parse(&cfg); err != nil {
		return nil, err
	}

	if cfg.AccountXPub == "" {
		return nil, errors.New("an account xpub is required " +
			"(--accountxpub)")
	}
	if cfg.MasterBlindingKey == "" {
		return nil, errors.New("a master blinding key is required " +
			"(--masterblindingkey)")
	}

	if cfg.ExplorerURL == "" {
		cfg.ExplorerURL = explorerURLs[cfg.Network]
	}

	if cfg.UtxoPollInterval <= 0 || cfg.HistoryPollInterval <= 0 {
		return nil, errors.New("poll intervals must be positive")
	}

	return &cfg, nil
}

// networkParams resolves the configured network name to its address encoding
// parameters.
func (c *config) networkParams() (*network.Network, error) {
	switch c.Network {
	case "liquid":
		return &network.Liquid, nil
	case "testnet":
		return &network.Testnet, nil
	case "regtest":
		return &network.Regtest, nil
	default:
		return nil, fmt.Errorf("unknown network %q", c.Network)
	}
}
