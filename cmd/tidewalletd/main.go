package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/lightningnetwork/lnd/ticker"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tidewallet/tidewallet/addrmgr"
	"github.com/tidewallet/tidewallet/assets"
	"github.com/tidewallet/tidewallet/explorer"
	"github.com/tidewallet/tidewallet/signal"
	"github.com/tidewallet/tidewallet/unblind"
	"github.com/tidewallet/tidewallet/utxo"
	"github.com/tidewallet/tidewallet/wallet"
	"github.com/tidewallet/tidewallet/walletdb"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := tidewalletMain(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// tidewalletMain wires the daemon together and blocks until shutdown.
func tidewalletMain(cfg *config) error {
	initLogRotator(
		filepath.Join(cfg.LogDir, defaultLogFilename),
		cfg.MaxLogFileSize, cfg.MaxLogFiles,
	)
	defer logRotator.Close()
	setLogLevels(cfg.DebugLevel)

	netParams, err := cfg.networkParams()
	if err != nil {
		return err
	}

	tideLog.Infof("Starting tidewalletd on %s, explorer %s", cfg.Network,
		cfg.ExplorerURL)

	chain := explorer.NewClient(&explorer.Config{URL: cfg.ExplorerURL})
	if err := chain.Start(); err != nil {
		return fmt.Errorf("start explorer client: %w", err)
	}
	defer chain.Stop()

	store, err := walletdb.OpenLevelStore(
		filepath.Join(cfg.DataDir, cfg.Network, "wallet.db"),
	)
	if err != nil {
		return fmt.Errorf("open wallet store: %w", err)
	}
	defer store.Close()

	masterKey, err := hex.DecodeString(cfg.MasterBlindingKey)
	if err != nil {
		return fmt.Errorf("decode master blinding key: %w", err)
	}

	mgr, err := addrmgr.New(&addrmgr.Config{
		AccountXPub:       cfg.AccountXPub,
		MasterBlindingKey: masterKey,
		Net:               netParams,
		Store:             store,
	})
	if err != nil {
		return fmt.Errorf("create address manager: %w", err)
	}

	registry := assets.NewRegistry(chain.Asset, 0)
	registry.Start()
	defer registry.Stop()

	walletCfg := &wallet.Config{
		Chain:         chain,
		AddrManager:   mgr,
		Store:         store,
		Unblinder:     unblind.NewElementsUnblinder(),
		Network:       cfg.Network,
		UtxoTicker:    ticker.New(cfg.UtxoPollInterval),
		HistoryTicker: ticker.New(cfg.HistoryPollInterval),
		OnUtxoDiff:    logUtxoDiff(registry),
	}

	w, err := wallet.Open(walletCfg)
	if errors.Is(err, wallet.ErrWalletNotFound) {
		tideLog.Infof("No wallet found for %s, creating one",
			cfg.Network)
		w, err = wallet.Create(walletCfg)
	}
	if err != nil {
		return err
	}

	if len(mgr.Addresses()) == 0 {
		addr, err := w.NewAddress()
		if err != nil {
			return fmt.Errorf("derive initial address: %w", err)
		}
		tideLog.Infof("Derived initial receive address %s",
			addr.ConfidentialAddress)
	}

	if err := w.Start(); err != nil {
		return err
	}
	defer w.Stop()

	// A new block can confirm wallet outputs or reveal spends, so tip
	// changes trigger an immediate refresh instead of waiting out the
	// poll interval.
	tips, subID := chain.Subscribe()
	defer chain.Unsubscribe(subID)
	go func() {
		for height := range tips {
			tideLog.Debugf("New tip at height %d, triggering "+
				"refresh", height)
			w.TriggerUtxoRefresh()
			w.TriggerHistoryRefresh()
		}
	}()

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())

			tideLog.Infof("Serving prometheus metrics on %s",
				cfg.MetricsAddr)
			err := http.ListenAndServe(cfg.MetricsAddr, mux)
			if err != nil {
				tideLog.Errorf("Metrics server exited: %v",
					err)
			}
		}()
	}

	<-signal.ShutdownChannel()
	tideLog.Info("Shutdown complete")

	return nil
}

// logUtxoDiff reports every change to the tracked set, labelling newly seen
// assets through the registry when their metadata is known.
func logUtxoDiff(registry *assets.Registry) func(*utxo.Diff) {
	return func(diff *utxo.Diff) {
		ctx, cancel := context.WithTimeout(
			context.Background(), 10*time.Second,
		)
		defer cancel()

		for _, out := range diff.Added {
			label := "confidential"
			out.Asset.WhenSome(func(assetHash string) {
				label = assetHash
				info, err := registry.Info(ctx, assetHash)
				if err == nil && info.Ticker != "" {
					label = info.Ticker
				}
			})

			tideLog.Infof("New output %s (%s, %d sat)",
				out.OutPoint.Key(), label,
				out.Value.UnwrapOr(0))
		}
		for _, op := range diff.RemovedOutPoints {
			tideLog.Infof("Output %s spent", op.Key())
		}
	}
}
